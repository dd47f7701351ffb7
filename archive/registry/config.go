package registry

import (
	"errors"
	"fmt"

	"omniproto.dev/omni/archive"
)

const (
	WriteFirst = "first"
	WriteAll   = "all"
)

// Config selects one or more archive backends.
//
// WritePolicy "first" (the default) writes to the first backend and reads
// with fallback in order. "all" writes to every backend and requires them to
// agree on the CID.
//
//	[archive]
//	write_policy = "all"
//
//	[[archive.backends]]
//	name = "localfs"
//	config = { dir = "/var/lib/omni/archive" }
type Config struct {
	WritePolicy string          `toml:"write_policy"`
	Backends    []BackendConfig `toml:"backends"`
}

type BackendConfig struct {
	Name string `toml:"name"`
	// ID is an optional alias, defaulting to Name.
	ID     string            `toml:"id"`
	Config map[string]string `toml:"config"`
}

func (b BackendConfig) id() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("registry: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("registry: backend name is required")
		}
		if _, ok := seen[b.id()]; ok {
			return fmt.Errorf("registry: duplicate backend id %q", b.id())
		}
		seen[b.id()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", WriteFirst, WriteAll:
		return nil
	default:
		return fmt.Errorf("registry: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens every configured backend and combines them per WritePolicy.
// The returned close function closes them in reverse order.
func (c Config) Open(usage Usage) (archive.Archive, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	named := make([]archive.Named, 0, len(c.Backends))
	closers := make([]func() error, 0, len(c.Backends))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, b := range c.Backends {
		a, closeFn, err := Open(b.Name, usage, b.Config)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("registry: open %q: %w", b.id(), err)
		}
		named = append(named, archive.Named{Name: b.id(), Archive: a})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].Archive, closeAll, nil
	}
	if c.WritePolicy == WriteAll {
		return archive.Replicating{Backends: named}, closeAll, nil
	}
	archives := make([]archive.Archive, 0, len(named))
	for _, n := range named {
		archives = append(archives, n.Archive)
	}
	return archive.Fallback{Archives: archives}, closeAll, nil
}
