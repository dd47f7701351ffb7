package archive

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// Fallback writes to its first archive and reads from each in slice order
// until one has the object. A hard error from an earlier archive stops the
// read.
type Fallback struct {
	Archives []Archive
}

var (
	_ Archive = Fallback{}
	_ Lister  = Fallback{}
)

func (f Fallback) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(f.Archives) == 0 {
		return cid.Undef, errors.New("archive: fallback has no archives")
	}
	return f.Archives[0].Put(ctx, data)
}

func (f Fallback) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return firstFound(f.Archives, func(a Archive) ([]byte, error) { return a.Get(ctx, id) })
}

func (f Fallback) Stat(ctx context.Context, id cid.Cid) (Record, error) {
	return firstFound(f.Archives, func(a Archive) (Record, error) { return a.Stat(ctx, id) })
}

func (f Fallback) Has(ctx context.Context, id cid.Cid) bool {
	for _, a := range f.Archives {
		if a != nil && a.Has(ctx, id) {
			return true
		}
	}
	return false
}

// List walks the union of every listable archive.
func (f Fallback) List(ctx context.Context, fn func(Record) error) error {
	return listUnion(ctx, f.Archives, fn)
}

// firstFound returns the first result of read that is not ErrNotFound.
func firstFound[T any](archives []Archive, read func(Archive) (T, error)) (T, error) {
	var zero T
	for _, a := range archives {
		if a == nil {
			continue
		}
		v, err := read(a)
		if err == nil {
			return v, nil
		}
		if !IsNotFound(err) {
			return zero, err
		}
	}
	return zero, ErrNotFound
}
