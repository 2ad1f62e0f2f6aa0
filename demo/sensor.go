package demo

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/SampleEnvironment/frappy-go/datatype"
	"github.com/SampleEnvironment/frappy-go/module"
)

// sensor simulates a temperature sensor drifting slowly around a base
// reading with superimposed noise.
type sensor struct {
	*module.Readable

	epoch time.Time
	rnd   *rand.Rand
}

func newSensor(name string, cfg module.Config, log *slog.Logger) (module.Module, error) {
	valueType := datatype.NewFloat(0, 600)
	valueType.Unit = "K"

	s := &sensor{
		Readable: module.NewReadable(name, valueType, log),
		epoch:    time.Now(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.AddParameter(&module.Parameter{
		Name: "value",
	}, module.WithRead(s.readValue))
	s.AddParameter(&module.Parameter{
		Name:        "base",
		Description: "base reading the simulation drifts around",
		Datatype:    &datatype.Float{Min: 0, Max: 600, Unit: "$"},
		Default:     300.0, HasDefault: true,
	})
	s.AddParameter(&module.Parameter{
		Name:        "drift",
		Description: "amplitude of the slow drift",
		Datatype:    &datatype.Float{Min: 0, Max: 50, Unit: "$"},
		Default:     2.0, HasDefault: true,
	})
	s.AddParameter(&module.Parameter{
		Name:        "jitter",
		Description: "amplitude of the simulated measurement noise",
		Datatype:    &datatype.Float{Min: 0, Max: 1, Unit: "$"},
		Default:     0.05, HasDefault: true,
		Visibility: module.VisibilityAdvanced,
	})
	return s, nil
}

// readValue combines a ten minute sine drift with gaussian noise.
func (s *sensor) readValue() (any, error) {
	base := s.floatParam("base", 300)
	drift := s.floatParam("drift", 0)
	jitter := s.floatParam("jitter", 0)
	phase := time.Since(s.epoch).Seconds() / 600 * 2 * math.Pi
	return base + drift*math.Sin(phase) + jitter*s.rnd.NormFloat64(), nil
}

func (s *sensor) floatParam(name string, fallback float64) float64 {
	if p := s.Parameter(name); p != nil {
		if v, _, err := p.Cache(); err == nil {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return fallback
}
