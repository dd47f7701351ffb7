// Package localfs stores archived envelopes as read-only files under a
// directory.
//
// Layout, sharded by the first two characters of the CID:
//
//	<root>/<xx>/<cid>       envelope bytes
//	<root>/<xx>/<cid>.rec   CBOR archive.Record for the envelope
//
// The record file is derived data. A missing or unreadable one is rebuilt
// from the envelope on Stat.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/cidutil"
)

const recordSuffix = ".rec"

type Archive struct {
	root string
}

var (
	_ archive.Archive = (*Archive)(nil)
	_ archive.Lister  = (*Archive)(nil)
)

// New returns an archive rooted at root, creating the directory if needed.
func New(root string) (*Archive, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Archive{root: root}, nil
}

// Put stores an envelope and its record. Storing the same envelope again
// is a no-op; finding different bytes under its CID is ErrImmutable.
func (a *Archive) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	rec, err := archive.Describe(data)
	if err != nil {
		return cid.Undef, err
	}
	path := a.objectPath(rec.CID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}

	switch err := writeOnce(path, data); {
	case os.IsExist(err):
		existing, rerr := os.ReadFile(path)
		if rerr != nil || !bytes.Equal(existing, data) {
			return cid.Undef, archive.ErrImmutable
		}
	case err != nil:
		return cid.Undef, err
	}
	if err := a.writeRecord(rec); err != nil {
		return cid.Undef, err
	}
	return rec.CID, nil
}

// Get reads an envelope and checks its bytes still hash to id.
func (a *Archive) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, archive.ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(a.objectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, archive.ErrNotFound
		}
		return nil, err
	}
	got, err := cidutil.ObjectID(b)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, archive.ErrCIDMismatch
	}
	return b, nil
}

func (a *Archive) Stat(ctx context.Context, id cid.Cid) (archive.Record, error) {
	if !id.Defined() {
		return archive.Record{}, archive.ErrInvalidCID
	}
	if raw, err := os.ReadFile(a.recordPath(id)); err == nil {
		var rec archive.Record
		if rec.UnmarshalCBOR(raw) == nil && rec.CID == id {
			return rec, nil
		}
	}
	b, err := a.Get(ctx, id)
	if err != nil {
		return archive.Record{}, err
	}
	rec, err := archive.Describe(b)
	if err != nil {
		return archive.Record{}, err
	}
	if err := a.writeRecord(rec); err != nil {
		return archive.Record{}, err
	}
	return rec, nil
}

func (a *Archive) Has(_ context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(a.objectPath(id))
	return err == nil
}

// List visits every stored envelope. Directory entries come back sorted, and
// the shard is a prefix of the CID, so the walk is in CID order.
func (a *Archive) List(ctx context.Context, fn func(archive.Record) error) error {
	shards, err := os.ReadDir(a.root)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(a.root, shard.Name()))
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasSuffix(e.Name(), recordSuffix) || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			id, err := cid.Decode(e.Name())
			if err != nil {
				continue
			}
			rec, err := a.Stat(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeRecord replaces the record file through a rename so readers never
// see a partial record.
func (a *Archive) writeRecord(rec archive.Record) error {
	raw, err := rec.MarshalCBOR()
	if err != nil {
		return err
	}
	path := a.recordPath(rec.CID)
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, raw) {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rec-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// writeOnce creates path read-only with content, failing with an
// os.IsExist error when it is already there.
func writeOnce(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}

func (a *Archive) objectPath(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(a.root, s)
	}
	return filepath.Join(a.root, s[:2], s)
}

func (a *Archive) recordPath(id cid.Cid) string { return a.objectPath(id) + recordSuffix }
