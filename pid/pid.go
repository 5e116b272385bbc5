// Package pid implements the extruder's PID regulator as a pure-function
// controller: Compute takes a setpoint and a measured temperature and
// returns a duty cycle in [OutputMin, OutputMax], mutating only its own
// state. It knows nothing about the heater state machine that gates it.
package pid

import "math"

// Default gains and limits, carried from the firmware's PID_Kp/Ki/Kd and
// PID_OUTPUT_MIN/MAX constants.
const (
	DefaultKp = 5.00
	DefaultKi = 0.1
	DefaultKd = 0.5

	DefaultOutputMin = 0.0
	DefaultOutputMax = 100.0

	// IntegralMax bounds windup; the firmware only clamps the upper side
	// (see Compute), so a very negative error can still drive the
	// integral arbitrarily negative. That asymmetry is preserved here.
	IntegralMax = 1000.0

	// InitialIntegral seeds the integral term on Reset. Not zero: a cold
	// heater needs an immediate push rather than building the integral
	// up from scratch on every On().
	InitialIntegral = 200.0

	// Epsilon below which the error is considered zero for anti-windup
	// purposes.
	Epsilon = 0.1
)

// State is the PID regulator's state. The zero value is not ready for use;
// construct with New.
type State struct {
	Kp, Ki, Kd float64

	OutputMin, OutputMax float64
	IntegralMax          float64

	// On gates the regulator: when false, Compute always returns
	// OutputMin without touching any other field.
	On bool

	Integral  float64
	PrevError float64
	Error     float64
	Derivative float64
	Output    float64
}

// New returns a PID regulator initialized with the firmware defaults.
func New() *State {
	return &State{
		Kp:          DefaultKp,
		Ki:          DefaultKi,
		Kd:          DefaultKd,
		OutputMin:   DefaultOutputMin,
		OutputMax:   DefaultOutputMax,
		IntegralMax: IntegralMax,
		On:          true,
	}
}

// Reset returns the regulator to cold-start conditions: output zeroed,
// previous error cleared, and the integral seeded at InitialIntegral
// (not zero) so a freshly (re)started heater gets an immediate push
// toward its setpoint rather than ramping the integral term up from
// nothing.
func (s *State) Reset() {
	s.Output = 0
	s.Integral = InitialIntegral
	s.PrevError = 0
}

// Compute runs one PID step at a fixed sample period dtSeconds and returns
// the new output duty cycle, which is also left in s.Output.
//
// All math is done in float64 (IEEE-754), but the contract below matches
// the firmware's float32 behavior: NaN/Inf inputs must never reach the
// output. A non-finite setpoint or temperature freezes the output at its
// last good value rather than propagating the fault to PWM; the heater
// state machine is responsible for deciding whether that fault should
// shut the heater down.
func (s *State) Compute(setpoint, temperature, dtSeconds float64) float64 {
	if !s.On {
		s.Output = s.OutputMin
		return s.Output
	}
	if math.IsNaN(setpoint) || math.IsInf(setpoint, 0) ||
		math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		return s.Output
	}

	s.Error = setpoint - temperature

	// integrate only when the error is meaningful and we are not already
	// saturated at the top of the output range (anti-windup)
	if math.Abs(s.Error) > Epsilon && s.Output < s.OutputMax {
		s.Integral += s.Error * dtSeconds
		s.Integral = math.Min(s.Integral, s.IntegralMax)
	}

	s.Derivative = (s.Error - s.PrevError) / dtSeconds
	out := s.Kp*s.Error + s.Ki*s.Integral + s.Kd*s.Derivative

	if out > s.OutputMax {
		out = s.OutputMax
	} else if out < s.OutputMin {
		out = s.OutputMin
	}
	if math.IsNaN(out) {
		out = s.OutputMin
	}

	s.Output = out
	s.PrevError = s.Error
	return s.Output
}
