// Package cidutil derives the content identifiers used for archived
// envelopes and store roots.
package cidutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ObjectID returns the CIDv1 (raw codec, sha2-256) of data. Archived
// envelopes are keyed by this value.
func ObjectID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ObjectIDString is ObjectID rendered as text, or "" on error.
func ObjectIDString(data []byte) string {
	id, err := ObjectID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// RootID wraps an already computed SHA3-256 digest, such as a store root
// hash, as a CIDv1.
func RootID(digest []byte) (cid.Cid, error) {
	if len(digest) != 32 {
		return cid.Undef, fmt.Errorf("cidutil: root digest must be 32 bytes, got %d", len(digest))
	}
	mh, err := multihash.Encode(digest, multihash.SHA3_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Parse decodes a CID string and rejects the undefined CID.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, fmt.Errorf("cidutil: undefined CID")
	}
	return id, nil
}
