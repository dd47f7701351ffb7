// Package archivetest holds the behaviour every archive.Archive must share,
// and envelope fixtures for archive tests.
package archivetest

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/cidutil"
	"omniproto.dev/omni/envelope"
	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/message"
	"omniproto.dev/omni/omnierr"
)

// Signer returns a deterministic Ed25519 key and its addressable identity.
func Signer(t testing.TB, seed byte) (keys.Signer, identity.Identity) {
	t.Helper()
	k, err := keys.NewEd25519FromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	if err != nil {
		t.Fatalf("NewEd25519FromSeed: %v", err)
	}
	id, err := keys.AddressableIdentity(k)
	if err != nil {
		t.Fatalf("AddressableIdentity: %v", err)
	}
	return k, id
}

// Request returns a sealed request for method, signed by the key of seed.
func Request(t testing.TB, seed byte, method string, msgID uint64) []byte {
	t.Helper()
	k, id := Signer(t, seed)
	req, err := message.NewRequest(id, identity.Anonymous(), method, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.ID = msgID
	b, err := envelope.SealRequest(req, id, k)
	if err != nil {
		t.Fatalf("SealRequest: %v", err)
	}
	return b
}

// ErrorResponse returns a sealed response carrying e, signed by the key of
// seed.
func ErrorResponse(t testing.TB, seed byte, e *omnierr.Error, msgID uint64) []byte {
	t.Helper()
	k, id := Signer(t, seed)
	resp := (&message.Request{ID: msgID}).Respond(id)
	resp.Error = e
	b, err := envelope.SealResponse(resp, id, k)
	if err != nil {
		t.Fatalf("SealResponse: %v", err)
	}
	return b
}

// NewArchive returns a fresh, empty archive isolated from other tests.
type NewArchive func(t *testing.T) archive.Archive

func RunConformance(t *testing.T, newArchive NewArchive) {
	t.Helper()
	ctx := context.Background()
	_, signer := Signer(t, 1)

	t.Run("PutGetStat", func(t *testing.T) {
		a := newArchive(t)
		want := Request(t, 1, "kvstore.put", 7)

		id, err := a.Put(ctx, want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := cidutil.ObjectID(want)
		if err != nil {
			t.Fatalf("ObjectID failed: %v", err)
		}
		if id != wantID {
			t.Fatalf("Put CID mismatch: got %s want %s", id, wantID)
		}

		got, err := a.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}

		rec, err := a.Stat(ctx, id)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if rec.CID != id || rec.Size != len(want) || rec.Signer != signer {
			t.Fatalf("Stat record = %+v", rec)
		}
		if rec.Kind != archive.KindRequest || rec.Method != "kvstore.put" || rec.MessageID != 7 {
			t.Fatalf("Stat message fields = %+v", rec)
		}
	})

	t.Run("ResponseRecord", func(t *testing.T) {
		a := newArchive(t)
		id, err := a.Put(ctx, ErrorResponse(t, 2, omnierr.EmptyEnvelope(), 3))
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		rec, err := a.Stat(ctx, id)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if rec.Kind != archive.KindResponse || rec.Method != "" || rec.MessageID != 3 {
			t.Fatalf("response record = %+v", rec)
		}
		if rec.ErrorCode == nil || *rec.ErrorCode != omnierr.CodeEmptyEnvelope {
			t.Fatalf("response error code = %v", rec.ErrorCode)
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		a := newArchive(t)
		b := Request(t, 1, "status", 1)

		id1, err := a.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		id2, err := a.Put(ctx, b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("Put not idempotent: %s vs %s", id1, id2)
		}
	})

	t.Run("RejectsNonEnvelopes", func(t *testing.T) {
		a := newArchive(t)
		for name, b := range map[string][]byte{
			"garbage":    []byte("not cbor at all"),
			"cbor bytes": {0x43, 0x01, 0x02, 0x03},
		} {
			if _, err := a.Put(ctx, b); !errors.Is(err, archive.ErrNotEnvelope) {
				t.Fatalf("%s: got err=%v want ErrNotEnvelope", name, err)
			}
			id, err := cidutil.ObjectID(b)
			if err != nil {
				t.Fatalf("ObjectID failed: %v", err)
			}
			if a.Has(ctx, id) {
				t.Fatalf("%s: rejected object was stored", name)
			}
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		a := newArchive(t)
		b := Request(t, 1, "heartbeat", 2)
		id, err := cidutil.ObjectID(b)
		if err != nil {
			t.Fatalf("ObjectID failed: %v", err)
		}

		if a.Has(ctx, id) {
			t.Fatalf("Has returned true for missing CID")
		}
		if _, err := a.Get(ctx, id); !archive.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if _, err := a.Stat(ctx, id); !archive.IsNotFound(err) {
			t.Fatalf("Stat missing: got err=%v want ErrNotFound", err)
		}

		if _, err := a.Put(ctx, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !a.Has(ctx, id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		a := newArchive(t)
		var undef cid.Cid
		if a.Has(ctx, undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := a.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
		if _, err := a.Stat(ctx, undef); err == nil {
			t.Fatalf("Stat should fail for undefined CID")
		}
	})

	t.Run("ListInCIDOrder", func(t *testing.T) {
		a := newArchive(t)
		if _, ok := a.(archive.Lister); !ok {
			t.Skip("backend does not list")
		}
		for i := uint64(1); i <= 3; i++ {
			if _, err := a.Put(ctx, Request(t, byte(i), "status", i)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		_, other := Signer(t, 2)
		recs, err := archive.Select(ctx, a, archive.Filter{})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if len(recs) != 3 {
			t.Fatalf("listed %d records, want 3", len(recs))
		}
		for i := 1; i < len(recs); i++ {
			if recs[i-1].CID.String() >= recs[i].CID.String() {
				t.Fatalf("records out of order: %s before %s", recs[i-1].CID, recs[i].CID)
			}
		}
		mine, err := archive.Select(ctx, a, archive.Filter{Signer: &other})
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if len(mine) != 1 || mine[0].MessageID != 2 {
			t.Fatalf("signer filter = %+v", mine)
		}
	})
}
