// Package store is the key-value state behind node modules.
//
// Writes are staged in memory and become visible to Get only after Commit,
// which applies them to the Engine in ascending key order and recomputes the
// Merkle root over the committed state.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"

	"omniproto.dev/omni/cidutil"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrEmptyKey = errors.New("store: empty key")
	ErrUnsorted = errors.New("store: batch keys are not strictly ascending")
	// ErrStop ends an iteration early without reporting an error.
	ErrStop = errors.New("store: stop iteration")
)

// Entry is one key-value pair. In a batch, Delete marks a removal and
// Value is ignored.
type Entry struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Engine persists committed state.
type Engine interface {
	// Get returns the committed value for key, or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// ApplySorted writes batch atomically. Keys must be strictly
	// ascending; engines rely on this and do not re-check it.
	ApplySorted(ctx context.Context, batch []Entry) error
	// Iterate calls fn for each committed entry within [start, end] in the
	// given direction. Returning ErrStop from fn ends iteration cleanly.
	Iterate(ctx context.Context, start, end Bound, dir Direction, fn func(key, value []byte) error) error
	Close() error
}

// Backend is the capability set modules depend on.
type Backend interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	GetStaged(ctx context.Context, key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit(ctx context.Context) error
	Hash() []byte
	Range(ctx context.Context, start, end Bound, dir Direction, fn func(key, value []byte) error) error
}

var _ Backend = (*Store)(nil)

// Store stages writes over an Engine. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	engine Engine
	staged map[string]Entry
	root   []byte
	log    zerolog.Logger
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open wraps engine and computes the root of its current contents.
func Open(ctx context.Context, engine Engine, opts ...Option) (*Store, error) {
	if engine == nil {
		return nil, errors.New("store: nil engine")
	}
	s := &Store{engine: engine, staged: map[string]Entry{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	root, err := computeRoot(ctx, engine)
	if err != nil {
		return nil, fmt.Errorf("store: compute root: %w", err)
	}
	s.root = root
	return s, nil
}

// Get returns the committed value of key.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	return s.engine.Get(ctx, key)
}

// GetStaged returns the staged value of key if any, else the committed one.
func (s *Store) GetStaged(ctx context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.staged[string(key)]
	s.mu.RUnlock()
	if ok {
		if e.Delete {
			return nil, ErrNotFound
		}
		return append([]byte{}, e.Value...), nil
	}
	return s.engine.Get(ctx, key)
}

// Put stages a write. A later Put of the same key replaces it. key and
// value are copied.
func (s *Store) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	k := string(key)
	s.mu.Lock()
	s.staged[k] = Entry{Key: []byte(k), Value: append([]byte{}, value...)}
	s.mu.Unlock()
	return nil
}

// Delete stages the removal of key. Deleting an absent key is not an error.
func (s *Store) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	k := string(key)
	s.mu.Lock()
	s.staged[k] = Entry{Key: []byte(k), Delete: true}
	s.mu.Unlock()
	return nil
}

// Staged reports the number of pending writes.
func (s *Store) Staged() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.staged)
}

// Discard drops all pending writes.
func (s *Store) Discard() {
	s.mu.Lock()
	s.staged = map[string]Entry{}
	s.mu.Unlock()
}

// Commit applies staged writes in ascending key order and updates the root.
// On failure the staged writes are kept.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) == 0 {
		return nil
	}

	batch := make([]Entry, 0, len(s.staged))
	for _, e := range s.staged {
		batch = append(batch, e)
	}
	sort.Slice(batch, func(i, j int) bool { return bytes.Compare(batch[i].Key, batch[j].Key) < 0 })
	if err := CheckSorted(batch); err != nil {
		return err
	}
	if err := s.engine.ApplySorted(ctx, batch); err != nil {
		return fmt.Errorf("store: apply batch: %w", err)
	}
	root, err := computeRoot(ctx, s.engine)
	if err != nil {
		return fmt.Errorf("store: compute root: %w", err)
	}
	s.staged = map[string]Entry{}
	s.root = root
	s.log.Debug().Int("entries", len(batch)).Hex("root", root).Msg("store commit")
	return nil
}

// Hash returns the Merkle root of the committed state.
func (s *Store) Hash() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.root...)
}

// RootID returns Hash as a CID.
func (s *Store) RootID() (cid.Cid, error) {
	return cidutil.RootID(s.Hash())
}

// Range iterates committed entries.
func (s *Store) Range(ctx context.Context, start, end Bound, dir Direction, fn func(key, value []byte) error) error {
	return s.engine.Iterate(ctx, start, end, dir, fn)
}

func (s *Store) Close() error { return s.engine.Close() }

// CheckSorted reports ErrUnsorted unless batch keys are strictly ascending.
func CheckSorted(batch []Entry) error {
	for i := 1; i < len(batch); i++ {
		if bytes.Compare(batch[i-1].Key, batch[i].Key) >= 0 {
			return fmt.Errorf("%w: index %d", ErrUnsorted, i)
		}
	}
	return nil
}

func computeRoot(ctx context.Context, engine Engine) ([]byte, error) {
	var t tree
	err := engine.Iterate(ctx, Unbounded(), Unbounded(), Forward, func(k, v []byte) error {
		t.add(k, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.root(), nil
}
