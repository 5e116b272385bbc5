// Package heater implements the heater state machine that gates the PID
// regulator with safety rules and drives the PWM output. The state
// machine itself is modeled with github.com/qmuntal/stateless; the
// hysteresis counter, timers, and bad-reading escalation that decide
// which trigger fires on a given tick are plain Go state evaluated once
// per Tick.
package heater

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/bdube/extruderfin/hw"
	"github.com/bdube/extruderfin/pid"
	"github.com/bdube/extruderfin/sensor"
)

// State is the heater's top-level state.
type State string

const (
	StateOff       State = "Off"
	StateShutdown  State = "Shutdown"
	StateHeating   State = "Heating"
	StateRegulated State = "Regulated"
	// StateCooling is declared for wire-format parity with the original
	// firmware's 5-entry state table (report.c's msg_hstate), but no
	// rule transitions into it here, matching the original: it is
	// vestigial, not a bug.
	StateCooling State = "Cooling"
)

// Code is the heater's fault/status code.
type Code uint8

const (
	Ok Code = iota
	AmbientTimedOut
	RegulationTimedOut
	Overheated
	SensorError
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case AmbientTimedOut:
		return "AmbientTimedOut"
	case RegulationTimedOut:
		return "RegulationTimedOut"
	case Overheated:
		return "Overheated"
	case SensorError:
		return "SensorError"
	default:
		return "Unknown"
	}
}

const (
	triggerOn                = "on"
	triggerOff                = "off"
	triggerSensorFault        = "sensorFault"
	triggerOverheat           = "overheat"
	triggerAmbientTimeout     = "ambientTimeout"
	triggerRegulationTimeout  = "regulationTimeout"
	triggerInBand             = "inBand"
	triggerOutOfBand          = "outOfBand"
)

// Firmware defaults, from heater.h.
const (
	DefaultHysteresis         = 10
	DefaultAmbientTemperature = 40.0
	DefaultOverheatTemp       = 300.0
	DefaultAmbientTimeoutS    = 90.0
	DefaultRegulationRange    = 3.0
	DefaultRegulationTimeoutS = 300.0
	DefaultBadReadingMax      = 5

	// SampleMS is the heater tick cadence.
	SampleMS = 100
	dtSeconds = float64(SampleMS) / 1000.0
)

// Heater holds all heater/PID state and the stateless machine driving it.
type Heater struct {
	sm *stateless.StateMachine

	Code        Code
	Setpoint    float64
	Temperature float64

	Hysteresis        int8 // saturating counter, +/- HysteresisMax
	HysteresisMax     int8
	BadReadingCount   uint8
	BadReadingMax     uint8
	RegulationTimerS  float64
	AmbientTimeoutS   float64
	RegulationTimeoutS float64
	RegulationRange   float64
	AmbientTemperature float64
	OverheatTemperature float64

	PID *pid.State

	lastSensorState sensor.State
}

// New returns a heater in the Off state with firmware-default safety
// parameters and a fresh PID regulator.
func New() *Heater {
	h := &Heater{
		HysteresisMax:       DefaultHysteresis,
		BadReadingMax:       DefaultBadReadingMax,
		AmbientTimeoutS:     DefaultAmbientTimeoutS,
		RegulationTimeoutS:  DefaultRegulationTimeoutS,
		RegulationRange:     DefaultRegulationRange,
		AmbientTemperature:  DefaultAmbientTemperature,
		OverheatTemperature: DefaultOverheatTemp,
		PID:                 pid.New(),
	}
	h.build()
	return h
}

func (h *Heater) build() {
	sm := stateless.NewStateMachine(StateOff)

	sm.Configure(StateOff).
		Permit(triggerOn, StateHeating)

	sm.Configure(StateShutdown).
		Permit(triggerOn, StateHeating)

	sm.Configure(StateHeating).
		Permit(triggerOff, StateOff).
		Permit(triggerSensorFault, StateShutdown).
		Permit(triggerOverheat, StateShutdown).
		Permit(triggerAmbientTimeout, StateShutdown).
		Permit(triggerRegulationTimeout, StateShutdown).
		Permit(triggerInBand, StateRegulated)

	sm.Configure(StateRegulated).
		Permit(triggerOff, StateOff).
		Permit(triggerSensorFault, StateShutdown).
		Permit(triggerOverheat, StateShutdown).
		Permit(triggerAmbientTimeout, StateShutdown).
		Permit(triggerRegulationTimeout, StateShutdown).
		Permit(triggerOutOfBand, StateHeating)

	sm.Configure(StateCooling)

	h.sm = sm
}

// State returns the heater's current state.
func (h *Heater) State() State {
	s, _ := h.sm.State(context.Background())
	return s.(State)
}

// fire drives the machine with the given trigger. It checks
// stateless.CanFire itself: a trigger that is not permitted from the
// current state is ignored and fire returns nil, so callers need not
// check the state first.
func (h *Heater) fire(ctx context.Context, trigger string) error {
	if ok, _ := h.sm.CanFire(trigger); !ok {
		return nil
	}
	return h.sm.FireCtx(ctx, trigger)
}

// On commands the heater on with the given setpoint. Safe to call from
// any state; if already heating, the setpoint is simply updated.
func (h *Heater) On(setpoint float64) {
	h.Setpoint = setpoint
	cur := h.State()
	if cur == StateHeating || cur == StateRegulated {
		return
	}
	h.PID.Reset()
	h.PID.On = true
	h.RegulationTimerS = 0
	h.BadReadingCount = 0
	h.Hysteresis = 0
	h.Code = Ok
	_ = h.fire(context.Background(), triggerOn)
}

// Off commands the heater off from any state.
func (h *Heater) Off() {
	h.PID.On = false
	h.PID.Output = h.PID.OutputMin
	_ = h.fire(context.Background(), triggerOff)
}

func (h *Heater) inBand() bool {
	d := h.Temperature - h.Setpoint
	if d < 0 {
		d = -d
	}
	return d <= h.RegulationRange
}

// Tick runs one heater_tick pass: it drives the sensor's reading
// lifecycle, applies the state table, and, while Heating or Regulated,
// computes a new PID output and commands the PWM.
func (h *Heater) Tick(s *sensor.Sensor, pwm hw.PWM) {
	cur := h.State()
	if cur == StateOff || cur == StateShutdown {
		pwm.SetDuty(h.PID.OutputMin)
		return
	}

	// drive the sensor's reading lifecycle: start a new window once the
	// previous one has settled
	if s.State == sensor.HasData || s.Code == sensor.Idle {
		s.StartReading()
	}

	ctx := context.Background()

	if s.State == sensor.Error {
		h.BadReadingCount++
		if h.BadReadingCount > h.BadReadingMax {
			h.Code = SensorError
			pwm.SetDuty(h.PID.OutputMin)
			_ = h.fire(ctx, triggerSensorFault)
			return
		}
	} else if s.State == sensor.HasData {
		h.BadReadingCount = 0
		h.Temperature = s.Temperature
	}

	if h.Temperature >= h.OverheatTemperature {
		h.Code = Overheated
		pwm.SetDuty(h.PID.OutputMin)
		_ = h.fire(ctx, triggerOverheat)
		return
	}

	h.RegulationTimerS += dtSeconds

	if cur == StateHeating || cur == StateRegulated {
		if h.RegulationTimerS > h.AmbientTimeoutS && h.Temperature < h.AmbientTemperature {
			h.Code = AmbientTimedOut
			pwm.SetDuty(h.PID.OutputMin)
			_ = h.fire(ctx, triggerAmbientTimeout)
			return
		}
		if h.RegulationTimerS > h.RegulationTimeoutS && !h.inBand() {
			h.Code = RegulationTimedOut
			pwm.SetDuty(h.PID.OutputMin)
			_ = h.fire(ctx, triggerRegulationTimeout)
			return
		}
	}

	if h.inBand() {
		if h.Hysteresis < h.HysteresisMax {
			h.Hysteresis++
		}
	} else {
		if h.Hysteresis > -h.HysteresisMax {
			h.Hysteresis--
		}
	}

	switch cur {
	case StateHeating:
		if h.Hysteresis >= h.HysteresisMax {
			_ = h.fire(ctx, triggerInBand)
		}
	case StateRegulated:
		if h.Hysteresis <= -h.HysteresisMax {
			h.RegulationTimerS = 0
			_ = h.fire(ctx, triggerOutOfBand)
		}
	}

	final := h.State()
	if final == StateHeating || final == StateRegulated {
		duty := h.PID.Compute(h.Setpoint, h.Temperature, dtSeconds)
		pwm.SetDuty(duty)
	}
}

// String renders the heater's state/code for debugging and status
// reporting, mirroring report.c's msg_hstate table ordering.
func (h *Heater) String() string {
	return fmt.Sprintf("%s (%s)", h.State(), h.Code)
}
