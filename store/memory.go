package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryEngine keeps committed state in a sorted slice.
type MemoryEngine struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryEngine() *MemoryEngine { return &MemoryEngine{} }

func (m *MemoryEngine) search(key []byte) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return bytes.Compare(m.entries[i].Key, key) >= 0
	})
	return i, i < len(m.entries) && bytes.Equal(m.entries[i].Key, key)
}

func (m *MemoryEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.search(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, m.entries[i].Value...), nil
}

// ApplySorted merges batch into the committed entries in one pass.
func (m *MemoryEngine) ApplySorted(ctx context.Context, batch []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := make([]Entry, 0, len(m.entries)+len(batch))
	i, j := 0, 0
	for i < len(m.entries) && j < len(batch) {
		switch c := bytes.Compare(m.entries[i].Key, batch[j].Key); {
		case c < 0:
			merged = append(merged, m.entries[i])
			i++
		case c > 0:
			merged = appendLive(merged, batch[j])
			j++
		default:
			merged = appendLive(merged, batch[j])
			i++
			j++
		}
	}
	merged = append(merged, m.entries[i:]...)
	for ; j < len(batch); j++ {
		merged = appendLive(merged, batch[j])
	}
	m.entries = merged
	return nil
}

func (m *MemoryEngine) Iterate(ctx context.Context, start, end Bound, dir Direction, fn func(key, value []byte) error) error {
	m.mu.RLock()
	snapshot := m.entries
	m.mu.RUnlock()

	lo := sort.Search(len(snapshot), func(i int) bool { return start.aboveStart(snapshot[i].Key) })
	hi := sort.Search(len(snapshot), func(i int) bool { return !end.belowEnd(snapshot[i].Key) })
	if lo >= hi {
		return nil
	}
	window := snapshot[lo:hi]
	for n := range window {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := window[n]
		if dir == Reverse {
			e = window[len(window)-1-n]
		}
		if err := fn(e.Key, e.Value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *MemoryEngine) Close() error { return nil }

func appendLive(dst []Entry, e Entry) []Entry {
	if e.Delete {
		return dst
	}
	return append(dst, Entry{Key: append([]byte(nil), e.Key...), Value: append([]byte{}, e.Value...)})
}
