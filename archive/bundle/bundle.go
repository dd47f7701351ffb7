// Package bundle moves archived envelopes between archives as a
// deterministic TAR file.
//
// Layout:
//
//	envelopes/<cid>   raw envelope bytes
//	index.cbor        optional, non-authoritative summary
//
// Entry order is lexicographic and headers are normalised, so exporting the
// same set of objects always yields the same bytes.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/cidutil"
	"omniproto.dev/omni/envelope"
	"omniproto.dev/omni/identity"
)

// FormatVersion is the index schema version.
const FormatVersion = 1

const (
	entryPrefix = "envelopes/"
	indexName   = "index.cbor"
)

var epoch = time.Unix(0, 0).UTC()

// Index summarises a bundle.
type Index struct {
	Version int          `cbor:"0,keyasint"`
	Entries []IndexEntry `cbor:"1,keyasint"`
}

// IndexEntry describes one envelope. Signer is its key id, read without
// verifying the signature.
type IndexEntry struct {
	CID    string            `cbor:"0,keyasint"`
	Size   int               `cbor:"1,keyasint"`
	Signer identity.Identity `cbor:"2,keyasint"`
	Kind   archive.Kind      `cbor:"3,keyasint,omitempty"`
	Method string            `cbor:"4,keyasint,omitempty"`
}

type ExportOptions struct {
	IncludeIndex bool
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Export writes the objects named by ids to w. Every object is re-hashed
// against its CID before it is written.
func Export(ctx context.Context, w io.Writer, a archive.Archive, ids []cid.Cid, opts ExportOptions) (err error) {
	if a == nil {
		return errors.New("bundle: nil archive")
	}
	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return archive.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	tw := tar.NewWriter(w)
	defer func() {
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
	}()

	idx := Index{Version: FormatVersion, Entries: make([]IndexEntry, 0, len(names))}
	for _, name := range names {
		id := uniq[name]
		b, err := a.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("bundle: get %s: %w", name, err)
		}
		rec, err := archive.Describe(b)
		if err != nil {
			return fmt.Errorf("bundle: %s: %w", name, err)
		}
		if !rec.CID.Equals(id) {
			return archive.ErrCIDMismatch
		}
		if err := writeFile(tw, entryPrefix+name, b); err != nil {
			return err
		}
		idx.Entries = append(idx.Entries, IndexEntry{
			CID:    name,
			Size:   rec.Size,
			Signer: rec.Signer,
			Kind:   rec.Kind,
			Method: rec.Method,
		})
	}

	if opts.IncludeIndex {
		b, err := encMode.Marshal(idx)
		if err != nil {
			return err
		}
		if err := writeFile(tw, indexName, b); err != nil {
			return err
		}
	}
	return nil
}

type ImportOptions struct {
	// IgnoreUnknown skips entries outside the bundle layout instead of
	// failing.
	IgnoreUnknown bool
	// VerifySignatures rejects objects that are not envelopes with a valid
	// signature.
	VerifySignatures bool
}

// Import copies every envelope in the bundle read from r into a and returns
// their CIDs in bundle order. Each entry must hash to the CID in its name
// and hold a request or response envelope.
func Import(ctx context.Context, r io.Reader, a archive.Archive, opts ImportOptions) ([]cid.Cid, error) {
	if a == nil {
		return nil, errors.New("bundle: nil archive")
	}
	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var out []cid.Cid

	for {
		h, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		name := cleanPath(h.Name)
		if name == "" {
			return out, fmt.Errorf("bundle: invalid entry path %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return out, fmt.Errorf("bundle: unexpected entry type %v (%s)", h.Typeflag, name)
		}
		if name == indexName {
			continue
		}
		if !strings.HasPrefix(name, entryPrefix) {
			if opts.IgnoreUnknown {
				continue
			}
			return out, fmt.Errorf("bundle: unknown entry %s", name)
		}

		id, err := cid.Decode(strings.TrimPrefix(name, entryPrefix))
		if err != nil || !id.Defined() {
			return out, archive.ErrInvalidCID
		}
		if _, dup := seen[id.String()]; dup {
			return out, fmt.Errorf("bundle: duplicate entry %s", id)
		}
		seen[id.String()] = struct{}{}

		payload, err := io.ReadAll(tr)
		if err != nil {
			return out, err
		}
		got, err := cidutil.ObjectID(payload)
		if err != nil {
			return out, err
		}
		if !got.Equals(id) {
			return out, archive.ErrCIDMismatch
		}
		if _, err := archive.Describe(payload); err != nil {
			return out, fmt.Errorf("bundle: %s: %w", id, err)
		}
		if opts.VerifySignatures {
			env, err := envelope.Parse(payload)
			if err != nil {
				return out, fmt.Errorf("bundle: %s: %w", id, err)
			}
			if _, err := env.Verify(); err != nil {
				return out, fmt.Errorf("bundle: %s: %w", id, err)
			}
		}

		putID, err := a.Put(ctx, payload)
		if err != nil {
			return out, err
		}
		if !putID.Equals(id) {
			return out, archive.ErrCIDMismatch
		}
		out = append(out, id)
	}
}

// ReadIndex returns the index of a bundle, or nil when it has none.
func ReadIndex(r io.Reader) (*Index, error) {
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if cleanPath(h.Name) != indexName {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		var idx Index
		if err := cbor.Unmarshal(b, &idx); err != nil {
			return nil, fmt.Errorf("bundle: index: %w", err)
		}
		return &idx, nil
	}
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

// cleanPath normalises an entry name and returns "" for names that escape
// the bundle root.
func cleanPath(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
