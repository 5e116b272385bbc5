// Package sensor implements the periodic ADC sampling and outlier-rejection
// pipeline: raw ADC counts in, a filtered temperature and fault code out.
package sensor

import (
	"math"

	"github.com/bdube/extruderfin/hw"
	"github.com/bdube/extruderfin/util"
)

// State enumerates the sensor's top-level state.
type State uint8

const (
	Off State = iota
	NoData
	HasData
	Error
)

func (s State) String() string {
	switch s {
	case Off:
		return "Off"
	case NoData:
		return "NoData"
	case HasData:
		return "HasData"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Code enumerates the sensor's fault/status code, independent of State.
type Code uint8

const (
	Idle Code = iota
	TakingReading
	BadReadings
	Disconnected
	NoPower
)

func (c Code) String() string {
	switch c {
	case Idle:
		return "Idle"
	case TakingReading:
		return "TakingReading"
	case BadReadings:
		return "BadReadings"
	case Disconnected:
		return "Disconnected"
	case NoPower:
		return "NoPower"
	default:
		return "Unknown"
	}
}

// Calibration constants for raw_to_temp(adc) = adc*Slope + Offset, taken
// from the hardware-measured B&K TP-29 / AD597 pairing. These are
// immutable compile-time parameters, not runtime-configurable state.
const (
	Slope  = 0.686645508
	Offset = -4.0625
)

// NSamples is the number of ADC samples collected per reading window.
// SampleMS is the minimum spacing between samples within a window.
// Together, 9 samples at 10ms feed one 100ms heater tick.
const (
	NSamples = 9
	SampleMS = 10

	// SampleThreshold is the minimum number of non-outlier samples
	// required to accept a reading window.
	SampleThreshold = 5

	// stdDevFloor guards the outlier-rejection test
	// (|s-mean| < sample_variance_max*std_dev) against rejecting every
	// sample in a perfectly flat window, where std_dev would otherwise
	// be exactly 0.
	stdDevFloor = 1e-6

	// AbsoluteZero is the impossible low value used to mark "no
	// reading yet", mirroring the firmware's ABSOLUTE_ZERO/LESS_THAN_ZERO.
	AbsoluteZero = -273.15
)

// State holds the sensor's full working state (named Sensor to avoid
// colliding with the State type above).
type Sensor struct {
	State State
	Code  Code

	sample        [NSamples]float64
	sampleIdx     int
	nextSampleMs  uint32

	Temperature float64
	StdDev      float64
	Samples     int

	SampleVarianceMax     float64
	ReadingVarianceMax    float64
	DisconnectTemperature float64
	NoPowerTemperature    float64
}

// New returns a sensor with firmware-default fault thresholds, in the Off
// state with an impossible initial temperature.
func New() *Sensor {
	return &Sensor{
		Temperature:           AbsoluteZero,
		SampleVarianceMax:     2,
		ReadingVarianceMax:    50,
		DisconnectTemperature: 280,
		NoPowerTemperature:    10,
	}
}

// On transitions the sensor from Off to NoData, ready to be started.
func (s *Sensor) On() {
	s.State = NoData
}

// Off turns the sensor off; Tick becomes a no-op until On is called again.
func (s *Sensor) Off() {
	s.State = Off
}

// StartReading begins a new sampling window: resets the sample index and
// sets Code to TakingReading. Tick will not run until this is called.
func (s *Sensor) StartReading() {
	s.sampleIdx = 0
	s.Code = TakingReading
}

// RawToTemp converts a raw ADC count to degrees Celsius using the
// hardware calibration constants.
func RawToTemp(adc uint16) float64 {
	return float64(adc)*Slope + Offset
}

// Tick runs one sensor_tick pass: it samples the ADC if due, and once a
// full window has been collected, computes the filtered temperature and
// classifies any fault. It never blocks.
func (s *Sensor) Tick(adc hw.ADC, nowMs uint32) {
	if s.State == Off {
		return
	}
	if s.Code != TakingReading {
		return
	}
	if nowMs < s.nextSampleMs {
		return
	}
	s.nextSampleMs = nowMs + SampleMS

	s.sample[s.sampleIdx] = RawToTemp(adc.Read())
	s.sampleIdx++
	if s.sampleIdx < NSamples {
		return
	}

	mean, stddev := util.StdDev(s.sample[:])
	s.StdDev = stddev
	if s.StdDev > s.ReadingVarianceMax {
		s.State = Error
		s.Code = BadReadings
		return
	}

	guard := s.StdDev
	if guard < stdDevFloor {
		guard = stdDevFloor
	}

	var sum float64
	var accepted int
	for _, v := range s.sample {
		if math.Abs(v-mean) < s.SampleVarianceMax*guard {
			sum += v
			accepted++
		}
	}
	s.Samples = accepted

	if accepted < SampleThreshold {
		s.State = Error
		s.Code = BadReadings
		return
	}

	s.Temperature = sum / float64(accepted)
	s.State = HasData
	s.Code = Idle

	if s.Temperature > s.DisconnectTemperature {
		s.State = Error
		s.Code = Disconnected
	} else if s.Temperature < s.NoPowerTemperature {
		s.State = Error
		s.Code = NoPower
	}
}
