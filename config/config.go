// Package config loads the node configuration from a TOML file: one
// [node] section with the node identity and one section per module,
// preserving the declaration order of the modules.
package config

import (
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml"

	"github.com/SampleEnvironment/frappy-go/errors"
	"github.com/SampleEnvironment/frappy-go/module"
)

// Node is the [node] section.
type Node struct {
	EquipmentID string `mapstructure:"equipment_id"`
	Description string `mapstructure:"description"`
	// Interface is the listen address, "tcp://:10767" or ":10767".
	Interface   string `mapstructure:"interface"`
	Firmware    string `mapstructure:"firmware"`
	Implementor string `mapstructure:"implementor"`
	// Metrics is the optional Prometheus listen address.
	Metrics string `mapstructure:"metrics"`
}

// Module is one module section: its class plus the raw option map
// consumed by module.ApplyConfig.
type Module struct {
	Name    string
	Class   string
	Options module.Config
}

// File is a fully parsed configuration.
type File struct {
	Node    Node
	Modules []Module
}

// Load reads and parses path.
func Load(path string) (*File, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, errors.Config("cannot load %s: %v", path, err)
	}
	return fromTree(tree)
}

// Parse parses an in-memory TOML document.
func Parse(data []byte) (*File, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, errors.Config("cannot parse configuration: %v", err)
	}
	return fromTree(tree)
}

func fromTree(tree *toml.Tree) (*File, error) {
	f := &File{}

	keys := tree.Keys()
	// Keys() order is unspecified; restore file order via positions.
	sort.Slice(keys, func(i, j int) bool {
		return tree.GetPosition(keys[i]).Line < tree.GetPosition(keys[j]).Line
	})

	for _, key := range keys {
		sub, ok := tree.Get(key).(*toml.Tree)
		if !ok {
			return nil, errors.Config("%q: top level entries must be sections", key)
		}
		if key == "node" {
			if err := decodeNode(sub, &f.Node); err != nil {
				return nil, err
			}
			continue
		}
		opts := module.Config(sub.ToMap())
		class, _ := opts["class"].(string)
		if class == "" {
			return nil, errors.Config("module %q: missing class", key)
		}
		f.Modules = append(f.Modules, Module{Name: key, Class: class, Options: opts})
	}

	if f.Node.EquipmentID == "" {
		return nil, errors.Config("[node] section with equipment_id is required")
	}
	if f.Node.Description == "" {
		return nil, errors.Config("[node] needs a description")
	}
	if f.Node.Interface == "" {
		f.Node.Interface = "tcp://:10767"
	}
	if len(f.Modules) == 0 {
		return nil, errors.Config("configuration defines no modules")
	}
	return f, nil
}

func decodeNode(tree *toml.Tree, out *Node) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return errors.Internal("node decoder: %v", err)
	}
	if err := dec.Decode(tree.ToMap()); err != nil {
		return errors.Config("invalid [node] section: %v", err)
	}
	return nil
}

// ListenAddr strips the optional tcp:// scheme off the interface
// setting, yielding a net.Listen address.
func (n Node) ListenAddr() string {
	const scheme = "tcp://"
	if len(n.Interface) > len(scheme) && n.Interface[:len(scheme)] == scheme {
		return n.Interface[len(scheme):]
	}
	return n.Interface
}
