package archive

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Named pairs an Archive with a stable backend name.
type Named struct {
	Name    string
	Archive Archive
}

// Replicating writes every envelope to all backends and reads with
// fallback in backend order.
type Replicating struct {
	Backends []Named
}

var (
	_ Archive = Replicating{}
	_ Lister  = Replicating{}
)

// PutAll writes data to every backend. The envelope is described locally
// first, so a non-envelope reaches no backend. Each backend must report the
// locally computed CID; the map holds what each one returned.
func (r Replicating) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	if len(r.Backends) == 0 {
		return cid.Undef, nil, fmt.Errorf("archive: replicating archive has no backends")
	}
	rec, err := Describe(data)
	if err != nil {
		return cid.Undef, nil, err
	}

	got := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.Archive == nil {
			return cid.Undef, got, fmt.Errorf("archive: backend %q is nil", b.Name)
		}
		id, err := b.Archive.Put(ctx, data)
		if err != nil {
			return cid.Undef, got, fmt.Errorf("archive: backend %q: %w", b.Name, err)
		}
		got[b.Name] = id
		if id != rec.CID {
			return cid.Undef, got, fmt.Errorf("archive: backend %q returned %s for %s: %w", b.Name, id, rec.CID, ErrCIDMismatch)
		}
	}
	return rec.CID, got, nil
}

func (r Replicating) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

func (r Replicating) archives() []Archive {
	out := make([]Archive, 0, len(r.Backends))
	for _, b := range r.Backends {
		out = append(out, b.Archive)
	}
	return out
}

func (r Replicating) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return firstFound(r.archives(), func(a Archive) ([]byte, error) { return a.Get(ctx, id) })
}

func (r Replicating) Stat(ctx context.Context, id cid.Cid) (Record, error) {
	return firstFound(r.archives(), func(a Archive) (Record, error) { return a.Stat(ctx, id) })
}

func (r Replicating) Has(ctx context.Context, id cid.Cid) bool {
	return Fallback{Archives: r.archives()}.Has(ctx, id)
}

func (r Replicating) List(ctx context.Context, fn func(Record) error) error {
	return listUnion(ctx, r.archives(), fn)
}
