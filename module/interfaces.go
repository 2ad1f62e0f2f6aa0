package module

import (
	"log/slog"

	"github.com/SampleEnvironment/frappy-go/datatype"
	"github.com/SampleEnvironment/frappy-go/errors"
)

// numericRange extracts the declared range of a numeric datatype.
func numericRange(dt datatype.Datatype) (lo, hi any) {
	switch t := dt.(type) {
	case *datatype.Float:
		return t.Min, t.Max
	case *datatype.Scaled:
		return t.Min, t.Max
	case *datatype.Int:
		return t.Min, t.Max
	}
	return nil, nil
}

// Readable is a module with a value and a status.
type Readable struct {
	*Base
}

// NewReadable creates the accessible set of a readable module: value,
// status and pollinterval.
func NewReadable(name string, valueType datatype.Datatype, log *slog.Logger) *Readable {
	b := NewBase(name, log)
	b.AddParameter(&Parameter{
		Name:        "value",
		Description: "current value of the module",
		Datatype:    valueType,
		Readonly:    true,
	})
	b.AddParameter(&Parameter{
		Name:        "status",
		Description: "current status of the module",
		Datatype:    datatype.StatusType(),
		Readonly:    true,
		Default:     datatype.Status(datatype.StatusIdle, ""),
		HasDefault:  true,
	})
	b.AddParameter(&Parameter{
		Name:        "pollinterval",
		Description: "default poll interval",
		Datatype:    datatype.NewFloat(0.1, 120),
		Default:     5.0,
		HasDefault:  true,
	}, WithWrite(func(v any) (WriteOutcome, error) {
		// keep the module property in sync with the parameter
		if err := b.props.Set("pollinterval", v); err != nil {
			return Unchanged, err
		}
		return Unchanged, nil
	}))
	b.addInterfaceClass("Readable")
	return &Readable{Base: b}
}

// Writable is a readable module with a settable target.
type Writable struct {
	*Readable
}

// NewWritable adds the target parameter on top of Readable.
func NewWritable(name string, valueType datatype.Datatype, log *slog.Logger) *Writable {
	r := NewReadable(name, valueType, log)
	r.AddParameter(&Parameter{
		Name:        "target",
		Description: "target value of the module",
		Datatype:    valueType.Clone(),
	})
	r.addInterfaceClass("Writable")
	return &Writable{Readable: r}
}

// Drivable is a writable module that reports BUSY while moving and
// can be stopped.
type Drivable struct {
	*Writable
}

// NewDrivable adds the stop command on top of Writable.
func NewDrivable(name string, valueType datatype.Datatype, log *slog.Logger) *Drivable {
	w := NewWritable(name, valueType, log)
	w.AddCommand(&Command{
		Name:        "stop",
		Description: "cease driving, go to IDLE state",
		Datatype:    &datatype.CommandType{},
	}, func(any) (any, error) { return nil, nil })
	w.addInterfaceClass("Drivable")
	return &Drivable{Writable: w}
}

// SetStop replaces the default no-op stop implementation.
func (d *Drivable) SetStop(fn func() error) {
	d.AddCommand(&Command{Name: "stop"}, func(any) (any, error) {
		return nil, fn()
	})
}

// Communicator is a module exposing raw hardware communication.
type Communicator struct {
	*Base
}

// NewCommunicator creates a module with a communicate command.
func NewCommunicator(name string, fn func(request string) (string, error), log *slog.Logger) *Communicator {
	b := NewBase(name, log)
	b.AddCommand(&Command{
		Name:        "communicate",
		Description: "send a request to the hardware and return the reply",
		Datatype: datatype.NewCommand(
			&datatype.String{MaxChars: 1000, IsUTF8: true},
			&datatype.String{MaxChars: 1000, IsUTF8: true},
		),
	}, func(arg any) (any, error) {
		req, ok := arg.(string)
		if !ok {
			return nil, errors.WrongType("communicate needs a string argument")
		}
		return fn(req)
	})
	b.addInterfaceClass("Communicator")
	return &Communicator{Base: b}
}

// AcquisitionChannel is a readable that delivers acquired data.
type AcquisitionChannel struct {
	*Readable
}

// NewAcquisitionChannel creates an acquisition channel.
func NewAcquisitionChannel(name string, valueType datatype.Datatype, log *slog.Logger) *AcquisitionChannel {
	r := NewReadable(name, valueType, log)
	r.addInterfaceClass("AcquisitionChannel")
	return &AcquisitionChannel{Readable: r}
}

// AcquisitionController starts and stops acquisitions on its attached
// channels.
type AcquisitionController struct {
	*Readable
}

// NewAcquisitionController creates an acquisition controller with
// go/stop commands.
func NewAcquisitionController(name string, valueType datatype.Datatype, log *slog.Logger) *AcquisitionController {
	r := NewReadable(name, valueType, log)
	r.AddCommand(&Command{
		Name:        "go",
		Description: "start the acquisition",
		Datatype:    &datatype.CommandType{},
	}, func(any) (any, error) { return nil, nil })
	r.AddCommand(&Command{
		Name:        "stop",
		Description: "stop the acquisition",
		Datatype:    &datatype.CommandType{},
	}, func(any) (any, error) { return nil, nil })
	r.addInterfaceClass("AcquisitionController")
	return &AcquisitionController{Readable: r}
}
