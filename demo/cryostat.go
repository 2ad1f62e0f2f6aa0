// Package demo provides simulated modules so a node can run without
// hardware: a cryostat following its target with a ramped setpoint and
// a noisy temperature sensor.
package demo

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/SampleEnvironment/frappy-go/datatype"
	"github.com/SampleEnvironment/frappy-go/module"
)

func init() {
	module.RegisterClass("demo.cryostat", newCryostat)
	module.RegisterClass("demo.sensor", newSensor)
}

// fastPollInterval is used while the cryostat is driving.
const fastPollInterval = 0.2

// cryostat simulates a cooled sample stick: the setpoint ramps toward
// the target with the configured rate, the temperature follows the
// setpoint with a first order lag plus measurement jitter.
type cryostat struct {
	*module.Drivable

	mu       sync.Mutex
	temp     float64
	setpoint float64
	last     time.Time
	rnd      *rand.Rand
}

func newCryostat(name string, cfg module.Config, log *slog.Logger) (module.Module, error) {
	valueType := datatype.NewFloat(0, 600)
	valueType.Unit = "K"

	c := &cryostat{
		Drivable: module.NewDrivable(name, valueType, log),
		temp:     295.0,
		setpoint: 295.0,
		last:     time.Now(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	c.AddParameter(&module.Parameter{
		Name:    "value",
		Default: 295.0, HasDefault: true,
	}, module.WithRead(c.readValue))
	c.AddParameter(&module.Parameter{
		Name:    "target",
		Default: 295.0, HasDefault: true,
	}, module.WithWrite(c.writeTarget))
	c.AddParameter(&module.Parameter{
		Name:        "setpoint",
		Description: "currently active setpoint, ramping toward the target",
		Datatype:    &datatype.Float{Min: 0, Max: 600, Unit: "$"},
		Readonly:    true,
		Default:     295.0, HasDefault: true,
	})
	c.AddParameter(&module.Parameter{
		Name:        "ramp",
		Description: "setpoint ramp rate",
		Datatype:    &datatype.Float{Min: 0, Max: 100, Unit: "$/min"},
		Default:     6.0, HasDefault: true,
	})
	c.AddParameter(&module.Parameter{
		Name:        "tolerance",
		Description: "width of the band around the target counting as arrived",
		Datatype:    &datatype.Float{Min: 0.01, Max: 10, Unit: "$"},
		Default:     0.2, HasDefault: true,
	})
	c.AddParameter(&module.Parameter{
		Name:        "looptime",
		Description: "time constant of the simulated cooling loop",
		Datatype:    &datatype.Float{Min: 0.1, Max: 300, Unit: "s"},
		Default:     10.0, HasDefault: true,
		Visibility: module.VisibilityAdvanced,
	})
	c.AddParameter(&module.Parameter{
		Name:        "jitter",
		Description: "amplitude of the simulated measurement noise",
		Datatype:    &datatype.Float{Min: 0, Max: 1, Unit: "$"},
		Default:     0.01, HasDefault: true,
		Visibility: module.VisibilityAdvanced,
	})
	c.SetStop(c.stop)
	return c, nil
}

// InitModule seeds the simulation from the configured startup values.
func (c *cryostat) InitModule() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, _, err := c.Parameter("value").Cache(); err == nil {
		if f, ok := v.(float64); ok {
			c.temp = f
			c.setpoint = f
		}
	}
	c.last = time.Now()
	return nil
}

func (c *cryostat) readValue() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step()
	return c.temp + c.jitter()*c.rnd.NormFloat64(), nil
}

func (c *cryostat) writeTarget(v any) (module.WriteOutcome, error) {
	c.mu.Lock()
	c.step()
	c.mu.Unlock()
	c.SetStatus(datatype.StatusBusy, "ramping")
	c.SetFastPoll(true, fastPollInterval)
	return module.Unchanged, nil
}

// stop freezes the ramp: the target snaps to the current setpoint and
// the module returns to idle.
func (c *cryostat) stop() error {
	c.mu.Lock()
	c.step()
	sp := c.setpoint
	c.mu.Unlock()
	if _, _, err := c.WriteNow("target", sp); err != nil {
		return err
	}
	c.SetStatus(datatype.StatusIdle, "stopped")
	c.SetFastPoll(false, 0)
	return nil
}

// step advances the simulation to now. Caller holds mu.
func (c *cryostat) step() {
	now := time.Now()
	dt := now.Sub(c.last).Seconds()
	c.last = now
	if dt <= 0 {
		return
	}

	target := c.floatParam("target", c.setpoint)
	maxStep := c.floatParam("ramp", 6) / 60 * dt
	diff := target - c.setpoint
	if math.Abs(diff) <= maxStep || maxStep <= 0 {
		c.setpoint = target
	} else {
		c.setpoint += math.Copysign(maxStep, diff)
	}
	c.AnnounceUpdate("setpoint", c.setpoint, nil, 0)

	looptime := c.floatParam("looptime", 10)
	c.temp += (c.setpoint - c.temp) * (1 - math.Exp(-dt/looptime))

	if c.setpoint == target && math.Abs(c.temp-target) <= c.floatParam("tolerance", 0.2) {
		if c.IsBusy() {
			c.SetStatus(datatype.StatusIdle, "")
			c.SetFastPoll(false, 0)
		}
	}
}

func (c *cryostat) jitter() float64 {
	return c.floatParam("jitter", 0)
}

func (c *cryostat) floatParam(name string, fallback float64) float64 {
	if p := c.Parameter(name); p != nil {
		if v, _, err := p.Cache(); err == nil {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return fallback
}
