package collector

import (
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/logger"
)

// Registry holds the collector definitions known to a process.
type Registry struct {
	defs   map[string]*Definition
	mu     sync.RWMutex
	logger *zap.Logger
}

// catalogFile is the layout of a collector catalog file.
type catalogFile struct {
	Collectors []*Definition `yaml:"collectors"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:   make(map[string]*Definition),
		logger: logger.Get().With(zap.String("component", "collector_registry")),
	}
}

// NewBuiltinRegistry creates a registry holding the built-in collectors.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, d := range Builtin() {
		if err := r.Register(d); err != nil {
			// built-ins are validated by tests
			panic(err)
		}
	}
	return r
}

// Register validates and adds a definition. Names are case-insensitive.
func (r *Registry) Register(d *Definition) error {
	if d == nil {
		return errors.New(errors.ErrorTypeValidation, "nil collector definition")
	}
	if err := d.Validate(); err != nil {
		return err
	}

	key := strings.ToLower(d.Name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[key]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "collector %s already registered", d.Name)
	}
	r.defs[key] = d.Clone()
	r.logger.Debug("collector registered", zap.String("name", d.Name), zap.Int("columns", len(d.Columns)))
	return nil
}

// Get returns a copy of the named definition.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	d, ok := r.defs[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "collector %s not found", name)
	}
	return d.Clone(), nil
}

// Has reports whether the named collector is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[strings.ToLower(name)]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns copies of all definitions sorted by name.
func (r *Registry) Definitions() []*Definition {
	names := r.Names()
	out := make([]*Definition, 0, len(names))
	for _, n := range names {
		if d, err := r.Get(n); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// Select narrows the registry to the given names. An empty list selects
// everything.
func (r *Registry) Select(names []string) ([]*Definition, error) {
	if len(names) == 0 {
		return r.Definitions(), nil
	}
	out := make([]*Definition, 0, len(names))
	for _, n := range names {
		d, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadFile registers every collector in a YAML catalog file. Definitions
// named like an already registered one replace it.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read collector catalog "+path)
	}
	return r.Load(data)
}

// Load registers every collector in YAML catalog data.
func (r *Registry) Load(data []byte) error {
	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse collector catalog")
	}

	for _, d := range cat.Collectors {
		if d == nil {
			continue
		}
		if err := d.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range cat.Collectors {
		if d == nil {
			continue
		}
		key := strings.ToLower(d.Name)
		if _, exists := r.defs[key]; exists {
			r.logger.Info("collector replaced", zap.String("name", d.Name))
		}
		r.defs[key] = d.Clone()
	}
	r.logger.Info("collector catalog loaded", zap.Int("collectors", len(cat.Collectors)))
	return nil
}
