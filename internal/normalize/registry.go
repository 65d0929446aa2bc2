// Package normalize holds named (payload, headers) -> Event transforms and
// a registry that adapts callers with either signature to one wrapped form,
// resolved once at registration time rather than on every request.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/inboundhook/hookservice/pkg/canonical"
)

// PayloadOnlyFunc is a normalizer that ignores transport headers.
type PayloadOnlyFunc func(payload []byte) (*canonical.Event, error)

// PayloadHeadersFunc is a normalizer that reads both the raw payload and
// the lowercased header map.
type PayloadHeadersFunc func(payload []byte, headers map[string]string) (*canonical.Event, error)

// Func is the wrapped, uniform shape stored in the registry. Callers never
// see the arity distinction after registration.
type Func func(payload []byte, headers map[string]string) (*canonical.Event, error)

var (
	ErrUnknownNormalizer = errors.New("normalize: unknown normalizer")
	ErrAlreadyRegistered = errors.New("normalize: already registered")
	ErrInvalidName       = errors.New("normalize: invalid name")
)

// Registry is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register stores fn under name. fn must be either a PayloadOnlyFunc or a
// PayloadHeadersFunc; any other type is rejected with an error. The
// adapter is chosen here, at process wiring time, never per-request.
func (r *Registry) Register(name string, fn any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	wrapped, err := adapt(fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fns[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	r.fns[name] = wrapped
	return nil
}

// MustRegister is Register but panics on error; intended for builtin
// registration at process startup.
func (r *Registry) MustRegister(name string, fn any) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

func adapt(fn any) (Func, error) {
	switch f := fn.(type) {
	case Func:
		return f, nil
	case func([]byte, map[string]string) (*canonical.Event, error):
		return Func(f), nil
	case PayloadHeadersFunc:
		return Func(f), nil
	case func([]byte) (*canonical.Event, error):
		pf := PayloadOnlyFunc(f)
		return func(payload []byte, _ map[string]string) (*canonical.Event, error) {
			return pf(payload)
		}, nil
	case PayloadOnlyFunc:
		return func(payload []byte, _ map[string]string) (*canonical.Event, error) {
			return f(payload)
		}, nil
	default:
		return nil, fmt.Errorf("normalize: unsupported normalizer signature %T", fn)
	}
}

// Get resolves a registered normalizer by name.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNormalizer, name)
	}
	return fn, nil
}

// Names returns the currently registered normalizer names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fns))
	for n := range r.fns {
		out = append(out, n)
	}
	return out
}

// RegisterBuiltins registers the reference normalizers shipped with the
// service. Callers may register additional normalizers before or after
// this call, as long as names don't collide.
func (r *Registry) RegisterBuiltins() error {
	return r.Register("github", PayloadHeadersFunc(NormalizeGitHub))
}
