package module

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SampleEnvironment/frappy-go/datatype"
	"github.com/SampleEnvironment/frappy-go/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// updateRecorder collects announced updates like the dispatcher would.
type updateRecorder struct {
	mu      sync.Mutex
	updates []recordedUpdate
}

type recordedUpdate struct {
	param string
	value any
	err   error
}

func (u *updateRecorder) record(module string, p *Parameter) {
	u.mu.Lock()
	defer u.mu.Unlock()
	value, _, err := p.Cache()
	u.updates = append(u.updates, recordedUpdate{param: p.Name, value: value, err: err})
}

func (u *updateRecorder) count(param string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, up := range u.updates {
		if up.param == param {
			n++
		}
	}
	return n
}

func (u *updateRecorder) last(param string) (recordedUpdate, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := len(u.updates) - 1; i >= 0; i-- {
		if u.updates[i].param == param {
			return u.updates[i], true
		}
	}
	return recordedUpdate{}, false
}

// newTestDrivable builds a drivable with target limits, like scenario
// modules in a real config would.
func newTestDrivable(t *testing.T) (*Drivable, *updateRecorder) {
	t.Helper()
	d := NewDrivable("mod", datatype.NewFloat(-10, 10), nil)
	d.AddParameter(&Parameter{
		Name:     "target_min",
		Datatype: datatype.NewFloat(-10, 10),
		Default:  -5.0, HasDefault: true,
	})
	d.AddParameter(&Parameter{
		Name:     "target_max",
		Datatype: datatype.NewFloat(-10, 10),
		Default:  5.0, HasDefault: true,
	})
	d.Properties().Set("description", "test drivable") //nolint:errcheck
	require.NoError(t, d.Runtime().FinishInit())
	rec := &updateRecorder{}
	d.SetUpdateFunc(rec.record)
	return d, rec
}

func TestWriteWithLimits(t *testing.T) {
	d, rec := newTestDrivable(t)

	v, _, err := d.WriteParam("target", 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	// the readback update was announced before WriteParam returned
	up, ok := rec.last("target")
	require.True(t, ok)
	assert.Equal(t, 3.0, up.value)

	_, _, err = d.WriteParam("target", 7)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, _, err = d.WriteParam("target", -7)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	// inside the limits everything works
	for _, v := range []float64{-5, 0, 5} {
		_, _, err := d.WriteParam("target", v)
		assert.NoError(t, err, "value %v", v)
	}
}

func TestWriteConfiguredLimits(t *testing.T) {
	d, _ := newTestDrivable(t)

	// narrow the limits at runtime
	_, _, err := d.WriteParam("target_max", 2)
	require.NoError(t, err)

	_, _, err = d.WriteParam("target", 3)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, _, err = d.WriteParam("target", 1.5)
	assert.NoError(t, err)
}

func TestWriteReadOnly(t *testing.T) {
	d, _ := newTestDrivable(t)

	_, _, err := d.WriteParam("value", 1)
	assert.True(t, errors.IsKind(err, errors.KindReadOnly))

	_, _, err = d.WriteParam("nonexistent", 1)
	assert.True(t, errors.IsKind(err, errors.KindNoSuchParameter))

	_, _, err = d.WriteParam("target", "three")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
}

func TestWriteOutcomes(t *testing.T) {
	d, rec := newTestDrivable(t)

	// handler adjusts the written value
	d.AddParameter(&Parameter{Name: "target"}, WithWrite(func(v any) (WriteOutcome, error) {
		return WriteValue(v.(float64) / 2), nil
	}))
	v, _, err := d.WriteParam("target", 4)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	// Done announces the current cached value
	d.AddParameter(&Parameter{Name: "target"}, WithWrite(func(v any) (WriteOutcome, error) {
		return Done, nil
	}))
	v, _, err = d.WriteParam("target", 5)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	// handler errors are recorded on the parameter and propagate
	d.AddParameter(&Parameter{Name: "target"}, WithWrite(func(v any) (WriteOutcome, error) {
		return Unchanged, errors.New(errors.KindHardwareError, "stuck")
	}))
	_, _, err = d.WriteParam("target", 1)
	assert.True(t, errors.IsKind(err, errors.KindHardwareError))
	up, ok := rec.last("target")
	require.True(t, ok)
	assert.True(t, errors.IsKind(up.err, errors.KindHardwareError))
}

func TestReadParam(t *testing.T) {
	d, _ := newTestDrivable(t)

	// without a reader the cache (born from the default) is returned
	v, _, err := d.ReadParam("status")
	require.NoError(t, err)
	assert.Equal(t, int64(datatype.StatusIdle), datatype.StatusCode(v))

	// with a reader the hardware value is validated and cached
	reading := 4.25
	d.AddParameter(&Parameter{Name: "value"}, WithRead(func() (any, error) {
		return reading, nil
	}))
	v, ts, err := d.ReadParam("value")
	require.NoError(t, err)
	assert.Equal(t, 4.25, v)
	assert.InDelta(t, float64(time.Now().UnixNano())/1e9, ts, 1.0)

	// read errors are recorded and propagate
	d.AddParameter(&Parameter{Name: "value"}, WithRead(func() (any, error) {
		return nil, errors.CommunicationFailed("no reply")
	}))
	_, _, err = d.ReadParam("value")
	assert.True(t, errors.IsKind(err, errors.KindCommunicationFailed))
	_, _, cerr := d.Parameter("value").Cache()
	assert.True(t, errors.IsKind(cerr, errors.KindCommunicationFailed))
}

func TestNestedReadFromWriteHandler(t *testing.T) {
	d, _ := newTestDrivable(t)
	d.AddParameter(&Parameter{Name: "value"}, WithRead(func() (any, error) {
		return 1.5, nil
	}))
	// a write handler reading another parameter must not deadlock
	d.AddParameter(&Parameter{Name: "target"}, WithWrite(func(v any) (WriteOutcome, error) {
		if _, _, err := d.ReadNow("value"); err != nil {
			return Unchanged, err
		}
		return Unchanged, nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := d.WriteParam("target", 1)
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested read deadlocked")
	}
}

func TestUpdateCoalescing(t *testing.T) {
	d, rec := newTestDrivable(t)
	require.NoError(t, d.Properties().Set("omit_unchanged_within", 10.0))

	base := float64(time.Now().UnixNano()) / 1e9
	for i := 0; i < 5; i++ {
		d.AnnounceUpdate("value", 1.0, nil, base+float64(i)*0.001)
	}
	// identical values within the window coalesce to one broadcast
	assert.Equal(t, 1, rec.count("value"))

	// a changed value always goes out
	d.AnnounceUpdate("value", 2.0, nil, base+0.01)
	assert.Equal(t, 2, rec.count("value"))
}

func TestUpdateUnchangedModes(t *testing.T) {
	d, rec := newTestDrivable(t)
	require.NoError(t, d.Properties().Set("omit_unchanged_within", 10.0))
	d.Parameter("value").UpdateUnchanged = UpdateUnchanged{Mode: UpdateUnchangedAlways}

	base := float64(time.Now().UnixNano()) / 1e9
	for i := 0; i < 3; i++ {
		d.AnnounceUpdate("value", 1.0, nil, base+float64(i)*0.001)
	}
	assert.Equal(t, 3, rec.count("value"))
}

func TestErrorDedup(t *testing.T) {
	d, rec := newTestDrivable(t)

	err := errors.CommunicationFailed("disconnected")
	d.AnnounceUpdate("value", nil, err, 0)
	d.AnnounceUpdate("value", nil, errors.CommunicationFailed("disconnected"), 0)
	// two consecutive identical errors produce exactly one broadcast
	assert.Equal(t, 1, rec.count("value"))

	// a different error goes out
	d.AnnounceUpdate("value", nil, errors.CommunicationFailed("timeout"), 0)
	assert.Equal(t, 2, rec.count("value"))

	// recovery after an error always goes out
	d.AnnounceUpdate("value", 1.0, nil, 0)
	assert.Equal(t, 3, rec.count("value"))
}

func TestTimestampClamp(t *testing.T) {
	d, rec := newTestDrivable(t)

	future := float64(time.Now().UnixNano())/1e9 + 3600
	d.AnnounceUpdate("value", 1.0, nil, future)
	_, ok := rec.last("value")
	require.True(t, ok)
	_, ts, _ := d.Parameter("value").Cache()
	assert.LessOrEqual(t, ts, float64(time.Now().UnixNano())/1e9)
}

func TestIsBusy(t *testing.T) {
	d, _ := newTestDrivable(t)

	assert.False(t, d.IsBusy())
	d.SetStatus(datatype.StatusBusy, "moving")
	assert.True(t, d.IsBusy())
	d.SetStatus(datatype.StatusRamping, "ramping")
	assert.True(t, d.IsBusy())
	d.SetStatus(datatype.StatusError, "failed")
	assert.False(t, d.IsBusy())
	d.SetStatus(datatype.StatusIdle, "")
	assert.False(t, d.IsBusy())
}

func TestDoCommand(t *testing.T) {
	d, _ := newTestDrivable(t)

	stopped := false
	d.SetStop(func() error { stopped = true; return nil })
	_, _, err := d.DoCommand("stop", nil)
	require.NoError(t, err)
	assert.True(t, stopped)

	_, _, err = d.DoCommand("selftest", nil)
	assert.True(t, errors.IsKind(err, errors.KindNoSuchCommand))

	d.AddCommand(&Command{
		Name:     "scale",
		Datatype: datatype.NewCommand(datatype.NewFloat(0, 10), datatype.NewFloat(0, 100)),
	}, func(arg any) (any, error) {
		return arg.(float64) * arg.(float64), nil
	})
	res, _, err := d.DoCommand("scale", 3)
	require.NoError(t, err)
	assert.Equal(t, 9.0, res)

	_, _, err = d.DoCommand("scale", "x")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
}

func TestMergeNarrowsDatatype(t *testing.T) {
	d := NewWritable("mod", datatype.NewFloat(-10, 10), nil)
	// narrowing is fine
	d.AddParameter(&Parameter{Name: "target", Datatype: datatype.NewFloat(-5, 5)})
	d.Properties().Set("description", "x") //nolint:errcheck
	require.NoError(t, d.Runtime().FinishInit())

	// widening is rejected
	d2 := NewWritable("mod2", datatype.NewFloat(-10, 10), nil)
	d2.AddParameter(&Parameter{Name: "target", Datatype: datatype.NewFloat(-20, 20)})
	d2.Properties().Set("description", "x") //nolint:errcheck
	err := d2.Runtime().FinishInit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrow")
}

func TestAccessibleOrder(t *testing.T) {
	d, _ := newTestDrivable(t)
	d.AddParameter(&Parameter{Name: "ramp", Datatype: datatype.NewFloat(0, 100)})
	d.AddParameter(&Parameter{Name: "custom_z", Datatype: &datatype.Bool{}})
	d.AddParameter(&Parameter{Name: "custom_a", Datatype: &datatype.Bool{}})

	names := d.ParameterNames()
	idx := map[string]int{}
	for i, n := range names {
		idx[n] = i
	}
	// predefined order first
	assert.Less(t, idx["value"], idx["status"])
	assert.Less(t, idx["status"], idx["target"])
	assert.Less(t, idx["target"], idx["ramp"])
	// new items keep declaration order after the predefined block
	assert.Less(t, idx["custom_z"], idx["custom_a"])
}

func TestApplyConfig(t *testing.T) {
	d := NewDrivable("cryo", datatype.NewFloat(0, 400), nil)
	d.ApplyConfig(Config{
		"description": "cryostat",
		"target":      100.0,
		"value": map[string]any{
			"unit":   "K",
			"fmtstr": "%.2f",
		},
		"pollinterval": 1.0,
	})
	require.NoError(t, d.Runtime().FinishInit())

	assert.Equal(t, "cryostat", d.Properties().GetString("description"))
	assert.Equal(t, 1.0, d.PollInterval())
	assert.True(t, d.Parameter("target").Given())
	v, _, _ := d.Parameter("target").Cache()
	assert.Equal(t, 100.0, v)

	ft := d.Parameter("value").Datatype.(*datatype.Float)
	assert.Equal(t, "K", ft.Unit)
	assert.Equal(t, "%.2f", ft.FmtStr)
}

func TestApplyConfig_ParamProperties(t *testing.T) {
	d := NewDrivable("cryo", datatype.NewFloat(0, 400), nil)
	d.AddParameter(&Parameter{Name: "calib", Datatype: datatype.NewString(0, 20)})
	d.ApplyConfig(Config{
		"description": "cryostat",
		"target": map[string]any{
			"update_unchanged": "never",
			"influences":       []any{"value", "status"},
		},
		"value": map[string]any{
			"update_unchanged": 2.5,
		},
		"calib": map[string]any{
			"readonly": true,
			"constant": "dt-2024",
		},
	})
	require.NoError(t, d.Runtime().FinishInit())

	target := d.Parameter("target")
	assert.Equal(t, UpdateUnchangedNever, target.UpdateUnchanged.Mode)
	assert.Equal(t, []string{"value", "status"}, target.Influences)

	value := d.Parameter("value")
	assert.Equal(t, UpdateUnchangedWithin, value.UpdateUnchanged.Mode)
	assert.Equal(t, 2.5, value.UpdateUnchanged.Within)

	calib := d.Parameter("calib")
	assert.True(t, calib.Readonly)
	assert.True(t, calib.HasConstant)
	assert.Equal(t, "dt-2024", calib.Constant)
}

func TestApplyConfig_BadParamProperty(t *testing.T) {
	d := NewDrivable("cryo", datatype.NewFloat(0, 400), nil)
	d.ApplyConfig(Config{
		"description": "cryostat",
		"target":      map[string]any{"update_unchanged": "sometimes"},
	})
	err := d.Runtime().FinishInit()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
	assert.Contains(t, err.Error(), "update_unchanged")
}

func TestApplyConfig_Errors(t *testing.T) {
	d := NewDrivable("cryo", datatype.NewFloat(0, 400), nil)
	d.ApplyConfig(Config{
		"description": "cryostat",
		"target":      "hot", // wrong type
		"warpdrive":   true,  // unknown option
	})
	err := d.Runtime().FinishInit()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
	assert.Contains(t, err.Error(), "warpdrive")
}

func TestMainUnitSubstitution(t *testing.T) {
	d := NewDrivable("cryo", datatype.NewFloat(0, 400), nil)
	ramp := datatype.NewFloat(0, 100)
	ramp.Unit = "$/min"
	d.AddParameter(&Parameter{Name: "ramp", Datatype: ramp})
	d.ApplyConfig(Config{
		"description": "cryostat",
		"value":       map[string]any{"unit": "K"},
	})
	require.NoError(t, d.Runtime().FinishInit())

	assert.Equal(t, "K/min", ramp.Unit)
}

func TestDescribe(t *testing.T) {
	d, _ := newTestDrivable(t)
	desc := d.Describe()

	assert.Equal(t, "test drivable", desc["description"])
	assert.Equal(t, []any{"Drivable", "Writable", "Readable"}, desc["interface_classes"])

	acc := desc["accessibles"].(map[string]any)
	value := acc["value"].(map[string]any)
	assert.Equal(t, true, value["readonly"])
	assert.Equal(t, "double", value["datainfo"].(map[string]any)["type"])

	target := acc["target"].(map[string]any)
	assert.Equal(t, false, target["readonly"])

	stop := acc["stop"].(map[string]any)
	assert.Equal(t, "command", stop["datainfo"].(map[string]any)["type"])
}

func TestRegistryAttachments(t *testing.T) {
	log := testLogger()
	r := NewRegistry(log)

	a := NewReadable("a", &datatype.Bool{}, log)
	a.Properties().Set("description", "a") //nolint:errcheck
	b := NewReadable("b", &datatype.Bool{}, log)
	b.Properties().Set("description", "b") //nolint:errcheck
	b.Attach("io")
	b.ApplyConfig(Config{"io": "a"})

	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	require.NoError(t, r.Init(context.Background()))
	assert.Equal(t, a, b.Attached("io").(*Readable))
}

func TestRegistryAttachmentCycle(t *testing.T) {
	log := testLogger()
	r := NewRegistry(log)

	a := NewReadable("a", &datatype.Bool{}, log)
	a.Properties().Set("description", "a") //nolint:errcheck
	a.Attach("peer")
	a.ApplyConfig(Config{"peer": "b"})
	b := NewReadable("b", &datatype.Bool{}, log)
	b.Properties().Set("description", "b") //nolint:errcheck
	b.Attach("peer")
	b.ApplyConfig(Config{"peer": "a"})

	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	err := r.Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
	assert.Contains(t, err.Error(), "cycle")
}

func TestRegistryUnknownAttachment(t *testing.T) {
	log := testLogger()
	r := NewRegistry(log)

	a := NewReadable("a", &datatype.Bool{}, log)
	a.Properties().Set("description", "a") //nolint:errcheck
	a.Attach("io")
	a.ApplyConfig(Config{"io": "ghost"})
	require.NoError(t, r.Add(a))

	err := r.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
