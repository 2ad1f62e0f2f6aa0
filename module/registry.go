package module

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/SampleEnvironment/frappy-go/errors"
)

// Factory builds a module instance from its declarative configuration.
// The configuration is applied by the registry after construction; the
// factory may still inspect it for structural choices.
type Factory func(name string, cfg Config, log *slog.Logger) (Module, error)

var (
	classMu sync.RWMutex
	classes = map[string]Factory{}
)

// RegisterClass makes a module class available to the configuration
// loader under the given name (e.g. "demo.cryostat").
func RegisterClass(name string, f Factory) {
	classMu.Lock()
	defer classMu.Unlock()
	classes[name] = f
}

// LookupClass returns the factory for a class name.
func LookupClass(name string) (Factory, bool) {
	classMu.RLock()
	defer classMu.RUnlock()
	f, ok := classes[name]
	return f, ok
}

// Classes returns the registered class names, sorted.
func Classes() []string {
	classMu.RLock()
	defer classMu.RUnlock()
	out := make([]string, 0, len(classes))
	for name := range classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Registry owns the modules of one SEC node and drives their
// two-phase initialization.
type Registry struct {
	log     *slog.Logger
	order   []string
	modules map[string]Module
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log, modules: map[string]Module{}}
}

// Create instantiates a configured module class and adds it.
func (r *Registry) Create(class, name string, cfg Config) error {
	factory, ok := LookupClass(class)
	if !ok {
		return errors.Config("module %s: unknown class %q", name, class)
	}
	m, err := factory(name, cfg, r.log)
	if err != nil {
		return errors.Wrap(err, errors.KindConfig, "module %s", name)
	}
	m.Runtime().ApplyConfig(cfg)
	if err := m.Runtime().FinishInit(); err != nil {
		return err
	}
	return r.Add(m)
}

// Add registers an already constructed module.
func (r *Registry) Add(m Module) error {
	name := m.Name()
	if _, ok := r.modules[name]; ok {
		return errors.Config("duplicate module name %q", name)
	}
	r.modules[name] = m
	r.order = append(r.order, name)
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, error) {
	m, ok := r.modules[name]
	if !ok {
		return nil, errors.NoSuchModule(name)
	}
	return m, nil
}

// Names returns the module names in configuration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Modules returns the modules in configuration order.
func (r *Registry) Modules() []Module {
	out := make([]Module, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.modules[name])
	}
	return out
}

// Init drives the two-phase initialization: earlyInit on every module,
// then attachment resolution with cycle detection, then initModule in
// dependency order (attached modules first).
func (r *Registry) Init(ctx context.Context) error {
	for _, name := range r.order {
		if err := r.modules[name].EarlyInit(ctx); err != nil {
			return errors.Wrap(err, errors.KindConfig, "earlyInit of %s", name)
		}
	}
	order, err := r.resolveAttachments()
	if err != nil {
		return err
	}
	for _, name := range order {
		if err := r.modules[name].InitModule(); err != nil {
			return errors.Wrap(err, errors.KindConfig, "initModule of %s", name)
		}
	}
	return nil
}

// resolveAttachments dereferences attachment names and returns an
// initialization order via topological sort. A true cycle in the
// attachment graph is a ConfigError.
func (r *Registry) resolveAttachments() ([]string, error) {
	deps := map[string][]string{}
	indegree := map[string]int{}
	for _, name := range r.order {
		indegree[name] = 0
	}
	for _, name := range r.order {
		b := r.modules[name].Runtime()
		for _, slot := range b.attachOrder {
			target := b.attachments[slot]
			if target == "" {
				return nil, errors.Config("%s: attachment %q not configured", name, slot)
			}
			tm, ok := r.modules[target]
			if !ok {
				return nil, errors.Config("%s: attachment %q refers to unknown module %q", name, slot, target)
			}
			b.attached[slot] = tm
			deps[target] = append(deps[target], name)
			indegree[name]++
		}
	}

	// Kahn's algorithm, keeping configuration order among ready nodes.
	var ready, order []string
	for _, name := range r.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dep := range deps[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(order) < len(r.order) {
		var cycle []string
		for _, name := range r.order {
			if indegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		return nil, errors.Config("attachment cycle involving %s", strings.Join(cycle, ", "))
	}
	return order, nil
}

// Start runs startModule on every module and waits for none; modules
// signal readiness through the started callback.
func (r *Registry) Start() error {
	for _, name := range r.order {
		if err := r.modules[name].StartModule(nil); err != nil {
			return errors.Wrap(err, errors.KindInternal, "startModule of %s", name)
		}
	}
	return nil
}

// Shutdown stops all modules in reverse order.
func (r *Registry) Shutdown() {
	for i := len(r.order) - 1; i >= 0; i-- {
		r.modules[r.order[i]].ShutdownModule()
	}
}
