// Package controller owns the single Controller value: the sensor,
// heater, PID, parameter table, serial transport, and NVM store wired
// together the way controller.c wires the reference firmware's globals
// together. It builds the concrete cfgArray-equivalent cmdobj.Table and
// exposes the three scheduler.Task callbacks the cooperative loop runs
// each pass: sensor_tick, heater_tick, and command_dispatch.
package controller

import (
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/bdube/extruderfin/cmdobj"
	"github.com/bdube/extruderfin/comm"
	"github.com/bdube/extruderfin/config"
	"github.com/bdube/extruderfin/heater"
	"github.com/bdube/extruderfin/hw"
	"github.com/bdube/extruderfin/jsonproto"
	"github.com/bdube/extruderfin/nvmstore"
	"github.com/bdube/extruderfin/pid"
	"github.com/bdube/extruderfin/scheduler"
	"github.com/bdube/extruderfin/sensor"
	"github.com/bdube/extruderfin/status"
	"github.com/bdube/extruderfin/textproto"
	"github.com/bdube/extruderfin/util"
)

// Firmware identity, from config_app.c's "sys" rows. These are
// compile-time facts about this build, not runtime-tunable state: fb
// and fv are read-only; hp and hv are nominally settable (matching the
// reference table) even though nothing in this rendition changes
// hardware platform/version at runtime.
const (
	FirmwareBuild    = 8.03
	FirmwareVersion  = 0.1
	HardwarePlatform = 1.0
	HardwareVersion  = 1.0
)

// heaterEvery is how many sensor_tick-cadence scheduler passes make up
// one heater_tick: HEATER_SAMPLE_MS (100) / sensor.SampleMS (10) = 10.
// The scheduler itself runs at sensor's faster cadence so the sensor's
// own internal 9-sample/10ms pacing (sensor_thermo.c's next_sample_ms
// gate) has room to run; heater_tick only does real work once every
// heaterEvery passes so its accumulators (PID dt, regulation/ambient
// timers) see the 100ms period heater.h's constants assume.
const heaterEvery = heater.SampleMS / sensor.SampleMS

// Controller wires every subsystem together and drives the wire
// protocol end to end.
type Controller struct {
	Heater *heater.Heater
	Sensor *sensor.Sensor
	ADC    hw.ADC
	PWM    hw.PWM
	Clock  hw.Clock

	Comm  *comm.LineTransport
	NVM   *nvmstore.Store
	List  *cmdobj.List
	Table cmdobj.Table

	hwPlatform, hwVersion float64
	passCount             uint64
	lastHeaterCode        heater.Code
}

// New builds a Controller from cfg, wired to an in-memory ADC/PWM (the
// real hardware collaborators are out of scope; see the hw package)
// and a serial LineTransport built from cfg.Serial. It loads any
// persisted parameter values from cfg.NVM.Path and runs the
// FlagInitialize defaults first, matching cold-boot ordering.
func New(cfg *config.Config, serTransport *comm.LineTransport) *Controller {
	c := &Controller{
		Heater:     heater.New(),
		Sensor:     sensor.New(),
		ADC:        hw.NewSimADC(),
		PWM:        hw.NewSimPWM(),
		Clock:      hw.NewSystemClock(),
		Comm:       serTransport,
		NVM:        nvmstore.New(cfg.NVM.Path),
		List:       cmdobj.NewList(),
		hwPlatform: HardwarePlatform,
		hwVersion:  HardwareVersion,
	}
	c.Table = c.buildTable()
	c.Table.RunInitialize()
	c.NVM.Load(c.Table)
	c.wirePersistence()
	return c
}

// buildTable constructs the parameter table in the same order as
// config_app.c's cfgArray: singles grouped by sys/h1/s1/p1, then the
// four group rows (sys, h1, s1, p1), then the uber-group row. The
// group rows' own order here is cosmetic -- cmdobj.Table.ExpandUberGroup
// does not walk them; it uses its own fixed sys/h1/p1/s1 sequence,
// matching the firmware's _do_all(), which is the authority for what a
// "$" read actually produces on the wire.
func (c *Controller) buildTable() cmdobj.Table {
	f2 := func(v float64) string { return fmt.Sprintf("%0.2f", v) }
	i0 := func(v float64) string { return fmt.Sprintf("%d", int64(v)) }

	bindF := func(p *float64) (cmdobj.GetFunc, cmdobj.SetFunc) {
		return func() float64 { return *p },
			func(v float64) status.Code { *p = v; return status.Ok }
	}
	readOnly := func(p *float64) cmdobj.GetFunc {
		return func() float64 { return *p }
	}

	h := c.Heater
	s := c.Sensor
	p := c.Heater.PID

	fb := FirmwareBuild
	fv := FirmwareVersion

	h1setGet, h1setSet := bindF(&h.Setpoint)
	h1hysGetRaw := func() float64 { return float64(h.HysteresisMax) }
	h1hysSet := func(v float64) status.Code { h.HysteresisMax = int8(v); return status.Ok }
	h1ambGet, h1ambSet := bindF(&h.AmbientTemperature)
	h1ovrGet, h1ovrSet := bindF(&h.OverheatTemperature)
	h1atoGet, h1atoSet := bindF(&h.AmbientTimeoutS)
	h1regGet, h1regSet := bindF(&h.RegulationRange)
	h1rtoGet, h1rtoSet := bindF(&h.RegulationTimeoutS)
	h1badGetRaw := func() float64 { return float64(h.BadReadingMax) }
	h1badSet := func(v float64) status.Code { h.BadReadingMax = uint8(v); return status.Ok }

	s1svmGet, s1svmSet := bindF(&s.SampleVarianceMax)
	s1rvmGet, s1rvmSet := bindF(&s.ReadingVarianceMax)

	p1kpGet, p1kpSet := bindF(&p.Kp)
	p1kiGet, p1kiSet := bindF(&p.Ki)
	p1kdGet, p1kdSet := bindF(&p.Kd)
	p1smxGet, p1smxSet := bindF(&p.OutputMax)
	p1smnGet, p1smnSet := bindF(&p.OutputMin)

	return cmdobj.Table{
		// sys
		cmdobj.NewSingle("sys", "fb", cmdobj.FlagInitialize|cmdobj.FlagPersist|cmdobj.FlagNoStrip, 2, cmdobj.KindFloat, readOnly(&fb), nil, f2, FirmwareBuild),
		cmdobj.NewSingle("sys", "fv", cmdobj.FlagInitialize|cmdobj.FlagPersist|cmdobj.FlagNoStrip, 1, cmdobj.KindFloat, readOnly(&fv), nil, f2, FirmwareVersion),
		cmdobj.NewSingle("sys", "hp", cmdobj.FlagInitialize|cmdobj.FlagPersist|cmdobj.FlagNoStrip, 0, cmdobj.KindFloat, func() float64 { return c.hwPlatform }, func(v float64) status.Code { c.hwPlatform = v; return status.Ok }, f2, HardwarePlatform),
		cmdobj.NewSingle("sys", "hv", cmdobj.FlagInitialize|cmdobj.FlagPersist|cmdobj.FlagNoStrip, 0, cmdobj.KindFloat, func() float64 { return c.hwVersion }, func(v float64) status.Code { c.hwVersion = v; return status.Ok }, f2, HardwareVersion),

		// h1 (heater)
		cmdobj.NewSingle("h1", "h1st", 0, 0, cmdobj.KindInteger, func() float64 { return heaterStateCode(h.State()) }, func(v float64) status.Code { return c.setHeaterState(v) }, i0, float64(heaterStateCode(heater.StateOff))),
		cmdobj.NewSingle("h1", "h1tmp", 0, 2, cmdobj.KindFloat, func() float64 { return h.Temperature }, nil, f2, sensor.AbsoluteZero),
		cmdobj.NewSingle("h1", "h1set", 0, 2, cmdobj.KindFloat, h1setGet, h1setSet, f2, heater.DefaultHysteresis),
		cmdobj.NewSingle("h1", "h1hys", 0, 0, cmdobj.KindInteger, h1hysGetRaw, h1hysSet, i0, heater.DefaultHysteresis),
		cmdobj.NewSingle("h1", "h1amb", 0, 2, cmdobj.KindFloat, h1ambGet, h1ambSet, f2, heater.DefaultAmbientTemperature),
		cmdobj.NewSingle("h1", "h1ovr", 0, 2, cmdobj.KindFloat, h1ovrGet, h1ovrSet, f2, heater.DefaultOverheatTemp),
		cmdobj.NewSingle("h1", "h1ato", 0, 2, cmdobj.KindFloat, h1atoGet, h1atoSet, f2, heater.DefaultAmbientTimeoutS),
		cmdobj.NewSingle("h1", "h1reg", 0, 2, cmdobj.KindFloat, h1regGet, h1regSet, f2, heater.DefaultRegulationRange),
		cmdobj.NewSingle("h1", "h1rto", 0, 2, cmdobj.KindFloat, h1rtoGet, h1rtoSet, f2, heater.DefaultRegulationTimeoutS),
		cmdobj.NewSingle("h1", "h1bad", 0, 0, cmdobj.KindInteger, h1badGetRaw, h1badSet, i0, heater.DefaultBadReadingMax),

		// s1 (sensor)
		cmdobj.NewSingle("s1", "s1st", 0, 0, cmdobj.KindInteger, func() float64 { return sensorStateCode(s.State) }, func(v float64) status.Code { return c.setSensorState(v) }, i0, float64(sensorStateCode(sensor.Off))),
		cmdobj.NewSingle("s1", "s1tmp", 0, 2, cmdobj.KindFloat, func() float64 { return s.Temperature }, nil, f2, sensor.AbsoluteZero),
		cmdobj.NewSingle("s1", "s1svm", 0, 2, cmdobj.KindFloat, s1svmGet, s1svmSet, f2, 2),
		cmdobj.NewSingle("s1", "s1rvm", 0, 2, cmdobj.KindFloat, s1rvmGet, s1rvmSet, f2, 50),

		// p1 (PID)
		cmdobj.NewSingle("p1", "p1kp", 0, 2, cmdobj.KindFloat, p1kpGet, p1kpSet, f2, pid.DefaultKp),
		cmdobj.NewSingle("p1", "p1ki", 0, 2, cmdobj.KindFloat, p1kiGet, p1kiSet, f2, pid.DefaultKi),
		cmdobj.NewSingle("p1", "p1kd", 0, 2, cmdobj.KindFloat, p1kdGet, p1kdSet, f2, pid.DefaultKd),
		cmdobj.NewSingle("p1", "p1smx", 0, 2, cmdobj.KindFloat, p1smxGet, p1smxSet, f2, pid.DefaultOutputMax),
		cmdobj.NewSingle("p1", "p1smn", 0, 2, cmdobj.KindFloat, p1smnGet, p1smnSet, f2, pid.DefaultOutputMin),

		// groups, then the uber-group
		cmdobj.NewGroup("sys"),
		cmdobj.NewGroup("h1"),
		cmdobj.NewGroup("s1"),
		cmdobj.NewGroup("p1"),
		cmdobj.NewUberGroup(),
	}
}

// wirePersistence wraps every FlagPersist entry's Set closure so a
// successful live write also write-throughs to c.NVM, mirroring
// nvm_persist()'s "only if GET_TABLE_BYTE(flags) & F_PERSIST" call
// after cfgArray's own set handler. Called once, after RunInitialize
// and NVM.Load have already populated the table from defaults/the
// image file, so cold-boot population itself never re-triggers a
// write -- only sets arriving over the wire protocol do.
func (c *Controller) wirePersistence() {
	for i := range c.Table {
		e := &c.Table[i]
		if e.Kind != cmdobj.EntrySingle || e.Flags&cmdobj.FlagPersist == 0 || e.Set == nil {
			continue
		}
		idx := i
		inner := e.Set
		e.Set = func(v float64) status.Code {
			code := inner(v)
			if code == status.Ok {
				c.NVM.Persist(c.Table, idx)
			}
			return code
		}
	}
}

func (c *Controller) setHeaterState(v float64) status.Code {
	switch v {
	case heaterStateCode(heater.StateOff):
		c.Heater.Off()
	default:
		// commanding the heater on implies the sensor must be sampling:
		// heater.Tick only ever sees real ADC-backed readings once the
		// sensor has left StateOff, and the wire protocol exposes no
		// other path to turn the sensor on ahead of h1st.
		c.Sensor.On()
		c.Heater.On(c.Heater.Setpoint)
	}
	return status.Ok
}

func (c *Controller) setSensorState(v float64) status.Code {
	if sensorStateCode(sensor.Off) == v {
		c.Sensor.Off()
	} else {
		c.Sensor.On()
	}
	return status.Ok
}

// heaterStateCode renders a heater.State as the numeric code
// report.c's msg_hstate table expects: 0 Off, 1 Shutdown, 2 Heating,
// 3 Regulated, 4 Cooling. This is a distinct numbering from
// heater.Code (the fault code); the two happen to share a type only in
// the upstream table's reuse of a single byte for both on the wire.
func heaterStateCode(s heater.State) float64 {
	switch s {
	case heater.StateOff:
		return 0
	case heater.StateShutdown:
		return 1
	case heater.StateHeating:
		return 2
	case heater.StateRegulated:
		return 3
	case heater.StateCooling:
		return 4
	default:
		return 0
	}
}

// sensorStateCode renders a sensor.State as its numeric wire code; the
// sensor package's own iota ordering already matches report.c's
// intended Off/NoData/HasData/Error sequence.
func sensorStateCode(s sensor.State) float64 {
	return float64(s)
}

// BuildTasks returns the three scheduler.Task callbacks, in dispatch
// order, with command_dispatch rate-limited per SPEC_FULL.md.
func (c *Controller) BuildTasks(limiter *rate.Limiter) []scheduler.Task {
	if limiter == nil {
		limiter = scheduler.DefaultDispatchRate
	}
	return []scheduler.Task{
		scheduler.TaskFunc{TaskName: "sensor_tick", Fn: c.sensorTick},
		scheduler.TaskFunc{TaskName: "heater_tick", Fn: c.heaterTick},
		scheduler.RateLimited(scheduler.TaskFunc{TaskName: "command_dispatch", Fn: c.dispatchTick}, limiter),
	}
}

func (c *Controller) sensorTick() status.Code {
	c.Sensor.Tick(c.ADC, c.Clock.NowMs())
	return status.Ok
}

func (c *Controller) heaterTick() status.Code {
	c.passCount++
	if c.passCount%heaterEvery != 0 {
		return status.Noop
	}
	c.Heater.Tick(c.Sensor, c.PWM)
	c.ReportExceptionIfChanged()
	return status.Ok
}

// ReportExceptionIfChanged emits an async `{"er": ...}` line the moment
// the heater's fault code transitions away from Ok, mirroring
// report.c's rpt_exception() being called from the heater state
// machine's fault-entry handlers rather than polled.
func (c *Controller) ReportExceptionIfChanged() {
	if c.Heater.Code == c.lastHeaterCode {
		return
	}
	c.lastHeaterCode = c.Heater.Code
	if c.Heater.Code == heater.Ok {
		return
	}
	msg := fmt.Sprintf(`{"er":{"fb":%0.2f,"st":%d,"msg":"%s"}}`, FirmwareBuild, statusForHeaterCode(c.Heater.Code), c.Heater.Code)
	c.Comm.LineTX(msg)
}

func statusForHeaterCode(code heater.Code) status.Code {
	if code == heater.Ok {
		return status.Ok
	}
	return status.InternalError
}

func (c *Controller) dispatchTick() status.Code {
	line, ok := c.Comm.LineRX()
	if !ok {
		return status.Noop
	}
	return c.handleLine(strings.TrimSpace(line))
}

func (c *Controller) handleLine(line string) status.Code {
	c.List.Reset()
	if line == "" {
		return status.Noop
	}

	if strings.HasPrefix(line, "$") {
		code := textproto.Handle(line, c.List, c.Table)
		body := textproto.Render(c.List)
		c.Comm.LineTX(fmt.Sprintf("%sf:%d", body, code))
		return code
	}

	code := jsonproto.Handle(line, c.List, c.Table)
	body := jsonproto.Serialize(c.List)
	checksum := util.ChecksumHash(body)
	c.Comm.LineTX(fmt.Sprintf(`{"r":%s,"f":[%d,%d,%d]}`, body, int(code), len(line), checksum))
	return code
}
