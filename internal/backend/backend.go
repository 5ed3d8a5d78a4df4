// Package backend defines the plugin interface every execution backend
// implements, and the process-wide table of backend constructors.
//
// A backend turns an ir.Program into an Executable. Executables must be safe
// for concurrent Invoke calls and must poll the context while looping so that
// timeouts and cancellation stop non-terminating programs.
//
// Backends register themselves from an init function:
//
//	func init() {
//		backend.Register("interp", New)
//	}
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/difftrace/internal/ir"
)

// Backend compiles programs for one execution strategy.
type Backend interface {
	// Name returns the registered short name, e.g. "interp".
	Name() string

	// Description is a longer description that can be used to pretty-print.
	Description() string

	// Compile prepares p for execution. It may be slow; callers cache the result.
	Compile(ctx context.Context, p *ir.Program) (Executable, error)
}

// Executable is a compiled program bound to one backend.
type Executable interface {
	// Invoke runs a method. Inputs have already been validated against the
	// method signature and are owned by the executable for the call.
	Invoke(ctx context.Context, method string, inputs []*ir.Tensor) ([]*ir.Tensor, error)

	// Close releases resources. Invoke after Close returns ErrClosed.
	Close() error
}

// Config configures a backend instance.
type Config struct {
	// MaxSteps bounds the loop iterations of one invocation. Zero means unlimited.
	MaxSteps int
}

// Constructor builds a backend from a configuration.
type Constructor func(cfg Config) (Backend, error)

var (
	mu           sync.RWMutex
	constructors = make(map[string]Constructor)
)

// Register makes a backend available under name.
// It panics if name is empty or already registered.
func Register(name string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" {
		panic("backend: Register with empty name")
	}
	if _, dup := constructors[name]; dup {
		panic(fmt.Sprintf("backend: Register called twice for %q", name))
	}
	constructors[name] = ctor
}

// New constructs the backend registered under name.
func New(name string, cfg Config) (Backend, error) {
	mu.RLock()
	ctor, ok := constructors[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (registered: %v)", name, Names())
	}
	b, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	return b, nil
}

// Names returns the registered backend names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a backend is registered under name.
func IsRegistered(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := constructors[name]
	return ok
}
