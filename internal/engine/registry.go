package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/difftrace/internal/backend"
	"github.com/roach88/difftrace/internal/ir"
)

// ErrRegistryClosed is returned by Compile after Close.
var ErrRegistryClosed = errors.New("registry is closed")

// Registry owns the backends of a session and caches one compiled Instance
// per (program fingerprint, backend) pair.
//
// Concurrent Compile calls for the same pair share a single backend compile.
// A failed compile is cached too: the backend stays failed for that program
// for the rest of the session. Close releases every instance.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	backends map[string]backend.Backend
	order    []string
	timeout  time.Duration
	logger   *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	entries  map[cacheKey]*cacheEntry
	compiles map[string]int
	closed   bool
}

type cacheKey struct {
	fingerprint string
	backend     string
}

func (k cacheKey) String() string {
	return k.fingerprint + "/" + k.backend
}

type cacheEntry struct {
	instance *Instance
	err      error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithInvocationTimeout bounds every invocation on instances the registry
// hands out. Zero disables the timeout.
func WithInvocationTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithRegistryLogger sets the logger. Default: slog.Default().
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates a registry over backends, kept in the given order.
// Backend names must be unique.
func NewRegistry(backends []backend.Backend, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		backends: make(map[string]backend.Backend, len(backends)),
		logger:   slog.Default(),
		entries:  make(map[cacheKey]*cacheEntry),
		compiles: make(map[string]int),
	}
	for _, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("registry: nil backend")
		}
		name := b.Name()
		if _, dup := r.backends[name]; dup {
			return nil, fmt.Errorf("registry: duplicate backend %q", name)
		}
		r.backends[name] = b
		r.order = append(r.order, name)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Backends returns backend names in registration order.
func (r *Registry) Backends() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Compile returns the compiled instance of prog on the named backend,
// compiling it on first use. Errors are *Error with ErrCodeCompilation,
// except for unknown backends, a closed registry and context cancellation.
func (r *Registry) Compile(ctx context.Context, prog *ir.Program, backendName string) (*Instance, error) {
	if prog == nil {
		return nil, fmt.Errorf("registry: nil program")
	}
	b, ok := r.backends[backendName]
	if !ok {
		return nil, fmt.Errorf("registry: unknown backend %q", backendName)
	}
	key := cacheKey{fingerprint: prog.Fingerprint(), backend: backendName}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return e.instance, e.err
	}
	r.mu.Unlock()

	v, err, shared := r.group.Do(key.String(), func() (any, error) {
		return r.compile(ctx, prog, b, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("compile shared", "program", prog.Name(), "backend", backendName)
	}
	return v.(*Instance), nil
}

func (r *Registry) compile(ctx context.Context, prog *ir.Program, b backend.Backend, key cacheKey) (*Instance, error) {
	// Another caller may have finished between the cache check and Do.
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return e.instance, e.err
	}
	r.compiles[key.backend]++
	r.mu.Unlock()

	r.logger.Debug("compiling", "program", prog.Name(), "backend", key.backend, "fingerprint", key.fingerprint)
	exe, err := b.Compile(ctx, prog)
	if err != nil {
		if ctx.Err() != nil {
			// Not cached: a later session run may compile successfully.
			return nil, &Error{Code: ErrCodeCancelled, Message: "compile cancelled", Backend: key.backend, Err: err}
		}
		cerr := newCompilationError(key.backend, err)
		r.mu.Lock()
		r.entries[key] = &cacheEntry{err: cerr}
		r.mu.Unlock()
		r.logger.Warn("compile failed", "program", prog.Name(), "backend", key.backend, "error", err)
		return nil, cerr
	}

	inst := &Instance{
		backend: key.backend,
		program: prog,
		exe:     exe,
		timeout: r.timeout,
		logger:  r.logger,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = exe.Close()
		return nil, ErrRegistryClosed
	}
	r.entries[key] = &cacheEntry{instance: inst}
	return inst, nil
}

// CompileCount returns how many times the named backend's Compile was
// called. Cached lookups do not count.
func (r *Registry) CompileCount(backendName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compiles[backendName]
}

// Close releases every compiled instance. Compile fails afterwards.
// Close is idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[cacheKey]*cacheEntry)
	r.mu.Unlock()

	var errs []error
	for key, e := range entries {
		if e.instance == nil {
			continue
		}
		if err := e.instance.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key.backend, err))
		}
	}
	return errors.Join(errs...)
}
