package archive

import (
	"context"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"
)

type memEntry struct {
	data []byte
	rec  Record
}

// Memory is an in-process Archive. It also implements Lister.
type Memory struct {
	mu      sync.RWMutex
	entries map[cid.Cid]memEntry
}

var (
	_ Archive = (*Memory)(nil)
	_ Lister  = (*Memory)(nil)
)

func NewMemory() *Memory { return &Memory{entries: map[cid.Cid]memEntry{}} }

func (m *Memory) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	rec, err := Describe(data)
	if err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[rec.CID]; !ok {
		m.entries[rec.CID] = memEntry{data: append([]byte(nil), data...), rec: rec}
	}
	return rec.CID, nil
}

func (m *Memory) lookup(ctx context.Context, id cid.Cid) (memEntry, error) {
	if !id.Defined() {
		return memEntry{}, ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return memEntry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return memEntry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), e.data...), nil
}

func (m *Memory) Stat(ctx context.Context, id cid.Cid) (Record, error) {
	e, err := m.lookup(ctx, id)
	return e.rec, err
}

func (m *Memory) Has(_ context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

func (m *Memory) List(ctx context.Context, fn func(Record) error) error {
	m.mu.RLock()
	recs := make([]Record, 0, len(m.entries))
	for _, e := range m.entries {
		recs = append(recs, e.rec)
	}
	m.mu.RUnlock()
	sort.Slice(recs, func(i, j int) bool { return recs[i].CID.String() < recs[j].CID.String() })
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of stored envelopes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
