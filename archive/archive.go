// Package archive keeps accepted envelopes in content-addressed storage.
//
// Objects are keyed by the CIDv1 (raw, sha2-256) of their bytes, so an
// archived envelope can be fetched and re-verified later by anyone holding
// its id. Only COSE_Sign1 envelopes carrying an OMNI request or response are
// accepted; every stored object has a Record describing who sent it and
// what it asked for.
package archive

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

var (
	ErrNotFound    = errors.New("archive: not found")
	ErrInvalidCID  = errors.New("archive: invalid cid")
	ErrCIDMismatch = errors.New("archive: cid mismatch")
	ErrImmutable   = errors.New("archive: immutable object mismatch")
	ErrNotEnvelope = errors.New("archive: not an envelope")
	ErrNotListable = errors.New("archive: backend cannot list")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Archive is a content-addressed envelope store.
//
// Put is idempotent, rejects anything Describe rejects, and stored objects
// never change. Get and Stat return ErrNotFound for absent ids.
type Archive interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) bool
	Stat(ctx context.Context, id cid.Cid) (Record, error)
}

// Lister is implemented by archives that can enumerate what they hold.
// Records are visited in ascending CID string order; a non-nil error from fn
// stops the walk and is returned.
type Lister interface {
	List(ctx context.Context, fn func(Record) error) error
}
