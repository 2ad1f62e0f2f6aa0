package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SampleEnvironment/frappy-go/errors"
)

const sample = `
[node]
equipment_id = "cryo.example.org"
description = "demo cryostat rig"
interface = "tcp://:10767"
metrics = ":9100"

[cryo]
class = "demo.cryostat"
description = "simulated cryostat"
target = 10.0
pollinterval = 1.0

[cryo.value]
unit = "K"

[tcoil]
class = "demo.sensor"
description = "coil temperature"
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "cryo.example.org", f.Node.EquipmentID)
	assert.Equal(t, "demo cryostat rig", f.Node.Description)
	assert.Equal(t, ":9100", f.Node.Metrics)
	assert.Equal(t, ":10767", f.Node.ListenAddr())

	require.Len(t, f.Modules, 2)
	assert.Equal(t, "cryo", f.Modules[0].Name)
	assert.Equal(t, "demo.cryostat", f.Modules[0].Class)
	assert.Equal(t, "tcoil", f.Modules[1].Name)

	opts := f.Modules[0].Options
	assert.Equal(t, 10.0, opts["target"])
	assert.Equal(t, 1.0, opts["pollinterval"])
	inner, ok := opts["value"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "K", inner["unit"])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Modules, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"missing node", "[cryo]\nclass = \"demo.cryostat\"\n"},
		{"missing class", "[node]\nequipment_id = \"x\"\ndescription = \"y\"\n\n[cryo]\ndescription = \"z\"\n"},
		{"no modules", "[node]\nequipment_id = \"x\"\ndescription = \"y\"\n"},
		{"unknown node key", "[node]\nequipment_id = \"x\"\ndescription = \"y\"\nbogus = 1\n\n[m]\nclass = \"c\"\n"},
		{"bare top level value", "a = 1\n"},
		{"invalid toml", "[node\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.in))
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig), "%v", err)
		})
	}
}

func TestListenAddrDefaults(t *testing.T) {
	f, err := Parse([]byte("[node]\nequipment_id = \"x\"\ndescription = \"y\"\n\n[m]\nclass = \"c\"\ndescription = \"d\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":10767", f.Node.ListenAddr())
}
