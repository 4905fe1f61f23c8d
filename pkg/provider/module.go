package provider

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"sync"

	"github.com/markus-lassfolk/locationd/pkg/logx"
)

// Module is a loaded backend. Init returns the operation table for the kind
// the module was loaded as; Shutdown releases whatever Init acquired.
type Module interface {
	Init(logger *logx.Logger) (interface{}, error)
	Shutdown() error
}

// ModuleFuncs adapts a pair of functions to Module
type ModuleFuncs struct {
	InitFunc     func(logger *logx.Logger) (interface{}, error)
	ShutdownFunc func() error
}

// Init calls InitFunc
func (m ModuleFuncs) Init(logger *logx.Logger) (interface{}, error) {
	if m.InitFunc == nil {
		return nil, errors.New("module has no init entry point")
	}
	return m.InitFunc(logger)
}

// Shutdown calls ShutdownFunc if set
func (m ModuleFuncs) Shutdown() error {
	if m.ShutdownFunc == nil {
		return nil
	}
	return m.ShutdownFunc()
}

// Static wraps an already constructed operation table as a module
func Static(ops interface{}) Module {
	return ModuleFuncs{InitFunc: func(*logx.Logger) (interface{}, error) { return ops, nil }}
}

// errModuleNotFound is returned by a Finder that has nothing under a name
var errModuleNotFound = errors.New("module not found")

// Finder resolves a module by its well-known name
type Finder interface {
	Find(name string) (Module, error)
}

// Factory builds a fresh module instance each time a kind is loaded
type Factory func() Module

// Registry is a compile-time table of built-in backends
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds name to factory, replacing any previous binding
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// RegisterKind registers factory under the kind's well-known name
func (r *Registry) RegisterKind(kind Kind, factory Factory) {
	r.Register(kind.ModuleName(), factory)
}

// Names lists the registered module names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Find implements Finder
func (r *Registry) Find(name string) (Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok || factory == nil {
		return nil, errModuleNotFound
	}
	mod := factory()
	if mod == nil {
		return nil, fmt.Errorf("factory for %q returned no module", name)
	}
	return mod, nil
}

// PluginDir loads Go shared-object backends named liblocation-<name>.so that
// export Init and Shutdown.
type PluginDir struct {
	Dir string
}

// PluginPath returns the file a module name resolves to
func (d PluginDir) PluginPath(name string) string {
	return filepath.Join(d.Dir, "liblocation-"+name+".so")
}

// Find implements Finder
func (d PluginDir) Find(name string) (Module, error) {
	if d.Dir == "" {
		return nil, errModuleNotFound
	}
	path := d.PluginPath(name)
	if _, err := os.Stat(path); err != nil {
		return nil, errModuleNotFound
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}

	initSym, err := p.Lookup("Init")
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", path, err)
	}
	shutdownSym, err := p.Lookup("Shutdown")
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", path, err)
	}

	initFn, ok := initSym.(func(*logx.Logger) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("plugin %s: Init has wrong signature %T", path, initSym)
	}
	shutdownFn, ok := shutdownSym.(func() error)
	if !ok {
		return nil, fmt.Errorf("plugin %s: Shutdown has wrong signature %T", path, shutdownSym)
	}

	return ModuleFuncs{InitFunc: initFn, ShutdownFunc: shutdownFn}, nil
}
