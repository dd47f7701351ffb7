// Package registry opens archive backends by name.
//
// Backends register themselves in init(); a binary enables one by importing
// its package, usually as a blank import. The "memory" backend is always
// available.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"omniproto.dev/omni/archive"
)

// Usage restricts which programs accept a backend.
type Usage uint8

const (
	UsageCLI Usage = 1 << iota
	UsageNode
)

// OpenFunc builds an archive from string settings. The close function may
// be nil.
type OpenFunc func(cfg map[string]string) (archive.Archive, func() error, error)

type Backend struct {
	Name        string
	Description string
	Usage       Usage
	Open        OpenFunc
}

var (
	ErrUnknownBackend = errors.New("registry: unknown backend")
	ErrWrongUsage     = errors.New("registry: backend not available to this program")
)

// Registry is a set of named backends. The zero value is empty and ready to
// use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Backend
}

func (r *Registry) Register(b Backend) error {
	switch {
	case strings.TrimSpace(b.Name) == "":
		return errors.New("registry: backend name is required")
	case b.Open == nil:
		return fmt.Errorf("registry: backend %q has no Open func", b.Name)
	case b.Usage == 0:
		return fmt.Errorf("registry: backend %q has no usage", b.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName == nil {
		r.byName = make(map[string]Backend)
	}
	if _, dup := r.byName[b.Name]; dup {
		return fmt.Errorf("registry: backend %q registered twice", b.Name)
	}
	r.byName[b.Name] = b
	return nil
}

// List returns the backends usable by usage in name order.
func (r *Registry) List(usage Usage) []Backend {
	r.mu.RLock()
	out := make([]Backend, 0, len(r.byName))
	for _, b := range r.byName {
		if b.Usage&usage != 0 {
			out = append(out, b)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Backend) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (r *Registry) Open(name string, usage Usage, cfg map[string]string) (archive.Archive, func() error, error) {
	r.mu.RLock()
	b, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownBackend, name)
	}
	if b.Usage&usage == 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrWrongUsage, name)
	}
	return b.Open(cfg)
}

// Default holds the backends registered by linked packages.
var Default = &Registry{}

func init() {
	MustRegister(Backend{
		Name:        "memory",
		Description: "In-process archive, lost on exit",
		Usage:       UsageCLI | UsageNode,
		Open: func(map[string]string) (archive.Archive, func() error, error) {
			return archive.NewMemory(), nil, nil
		},
	})
}

func Register(b Backend) error { return Default.Register(b) }

func MustRegister(b Backend) {
	if err := Default.Register(b); err != nil {
		panic(err)
	}
}

func List(usage Usage) []Backend { return Default.List(usage) }

func Names(usage Usage) []string {
	var names []string
	for _, b := range Default.List(usage) {
		names = append(names, b.Name)
	}
	return names
}

func Open(name string, usage Usage, cfg map[string]string) (archive.Archive, func() error, error) {
	return Default.Open(name, usage, cfg)
}
