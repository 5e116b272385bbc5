// Package hw provides the hardware-facing collaborators the controller core
// depends on but does not implement itself: a monotonic millisecond clock,
// an ADC sampling source, and a PWM output. On embedded targets these are
// backed by real peripherals; this package supplies a wall-clock-backed
// clock and an in-memory simulated ADC/PWM pair suitable for hosted
// execution and tests.
package hw

import (
	"sync"
	"time"
)

// Clock reports a monotonic millisecond counter, mirroring the firmware's
// systick_ms() collaborator.
type Clock interface {
	NowMs() uint32
}

// SystemClock implements Clock using the wall clock, anchored at
// construction time so NowMs() starts near zero like a freshly booted
// microcontroller's systick counter.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a Clock anchored to the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// NowMs returns milliseconds elapsed since the clock was constructed.
func (c *SystemClock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// ADC samples a raw reading, mirroring adc_read() -> u16.
type ADC interface {
	Read() uint16
}

// PWM drives a duty-cycle output, mirroring pwm_set_duty(pct).
type PWM interface {
	SetDuty(pct float64)
	Duty() float64
}

// SimADC is an in-memory stand-in for a real ADC. Callers drive it
// through SetRaw; access is guarded by a mutex so SetRaw may be called
// from a different goroutine than the one running sensor_tick in the
// hosted build (the embedded target has no such concern, since the
// ISR-free core is strictly single threaded there).
type SimADC struct {
	mu  sync.Mutex
	raw uint16
}

// NewSimADC creates a simulated ADC reading zero.
func NewSimADC() *SimADC {
	return &SimADC{}
}

// Read returns the current simulated raw value.
func (a *SimADC) Read() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.raw
}

// SetRaw sets the next value Read() will return.
func (a *SimADC) SetRaw(raw uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raw = raw
}

// SimPWM is an in-memory stand-in for a PWM peripheral; it just remembers
// the last commanded duty cycle.
type SimPWM struct {
	mu   sync.Mutex
	duty float64
}

// NewSimPWM creates a simulated PWM output at 0% duty.
func NewSimPWM() *SimPWM {
	return &SimPWM{}
}

// SetDuty commands a new duty cycle in percent, [0,100].
func (p *SimPWM) SetDuty(pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = pct
}

// Duty returns the last commanded duty cycle.
func (p *SimPWM) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}
