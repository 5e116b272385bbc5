package hw_test

import (
	"testing"
	"time"

	"github.com/bdube/extruderfin/hw"
)

func TestSystemClockStartsNearZero(t *testing.T) {
	c := hw.NewSystemClock()
	if ms := c.NowMs(); ms > 50 {
		t.Errorf("NowMs() = %d shortly after construction, want near 0", ms)
	}
	time.Sleep(5 * time.Millisecond)
	if ms := c.NowMs(); ms < 5 {
		t.Errorf("NowMs() = %d after 5ms sleep, want >= 5", ms)
	}
}

func TestSimADCReadsLastSetValue(t *testing.T) {
	a := hw.NewSimADC()
	if got := a.Read(); got != 0 {
		t.Fatalf("fresh SimADC.Read() = %d, want 0", got)
	}
	a.SetRaw(1234)
	if got := a.Read(); got != 1234 {
		t.Errorf("Read() = %d, want 1234", got)
	}
}

func TestSimPWMRemembersLastDuty(t *testing.T) {
	p := hw.NewSimPWM()
	if got := p.Duty(); got != 0 {
		t.Fatalf("fresh SimPWM.Duty() = %v, want 0", got)
	}
	p.SetDuty(42.5)
	if got := p.Duty(); got != 42.5 {
		t.Errorf("Duty() = %v, want 42.5", got)
	}
}
