// Package identity implements OMNI identities: the tagged byte strings that
// name the sender and recipient of every message.
//
// Three kinds exist:
//
//   - anonymous: no key material, only valid for unsigned envelopes
//   - public key: carries the raw public key bytes
//   - addressable: carries the SHA3-224 digest of the public key
//
// Identity is a comparable value; two identities are equal when their kind
// and payload bytes are equal.
package identity

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-multibase"
	"golang.org/x/crypto/sha3"
)

// Kind tags the identity variant. The numeric value is the first byte of the
// binary encoding.
type Kind uint8

const (
	KindAnonymous   Kind = 0x00
	KindPublicKey   Kind = 0x01
	KindAddressable Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindPublicKey:
		return "public-key"
	case KindAddressable:
		return "addressable"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// AddressSize is the payload length of an addressable identity.
const AddressSize = 28

// CBORTag wraps the binary form when an identity is embedded in CBOR.
const CBORTag = 10000

var (
	// ErrMalformedIdentity is returned when bytes, text, or CBOR do not decode
	// to a valid identity.
	ErrMalformedIdentity = errors.New("identity: malformed identity")
	ErrEmptyKey          = errors.New("identity: public key is empty")
)

// Identity names a participant. The zero value is the anonymous identity.
type Identity struct {
	kind Kind
	data string
}

// Anonymous returns the identity that carries no key material.
func Anonymous() Identity { return Identity{} }

// FromPublicKey returns a public-key identity carrying pub verbatim.
func FromPublicKey(pub []byte) (Identity, error) {
	if len(pub) == 0 {
		return Identity{}, ErrEmptyKey
	}
	return Identity{kind: KindPublicKey, data: string(pub)}, nil
}

// AddressOf returns the addressable identity derived from pub.
func AddressOf(pub []byte) (Identity, error) {
	if len(pub) == 0 {
		return Identity{}, ErrEmptyKey
	}
	return Identity{kind: KindAddressable, data: string(Address(pub))}, nil
}

// Address is the SHA3-224 digest that addressable identities carry.
func Address(pub []byte) []byte {
	sum := sha3.Sum224(pub)
	return sum[:]
}

func (id Identity) Kind() Kind          { return id.kind }
func (id Identity) IsAnonymous() bool   { return id.kind == KindAnonymous }
func (id Identity) IsPublicKey() bool   { return id.kind == KindPublicKey }
func (id Identity) IsAddressable() bool { return id.kind == KindAddressable }

// PublicKey returns the embedded public key, or nil unless id is a public-key
// identity.
func (id Identity) PublicKey() []byte {
	if id.kind != KindPublicKey {
		return nil
	}
	return []byte(id.data)
}

// Addressable returns the addressable form of id. Anonymous identities have
// no address and are returned unchanged.
func (id Identity) Addressable() Identity {
	if id.kind != KindPublicKey {
		return id
	}
	return Identity{kind: KindAddressable, data: string(Address([]byte(id.data)))}
}

// MatchesKey reports whether candidate is the key that id names. A nil or
// empty candidate means "no key" and only matches the anonymous identity.
func (id Identity) MatchesKey(candidate []byte) bool {
	if len(candidate) == 0 {
		return id.kind == KindAnonymous
	}
	switch id.kind {
	case KindPublicKey:
		return id.data == string(candidate)
	case KindAddressable:
		return bytes.Equal([]byte(id.data), Address(candidate))
	default:
		return false
	}
}

// Bytes returns the tagged binary encoding.
func (id Identity) Bytes() []byte {
	out := make([]byte, 0, 1+len(id.data))
	out = append(out, byte(id.kind))
	return append(out, id.data...)
}

// FromBytes decodes the tagged binary encoding.
func FromBytes(b []byte) (Identity, error) {
	if len(b) == 0 {
		return Identity{}, fmt.Errorf("%w: empty input", ErrMalformedIdentity)
	}
	payload := b[1:]
	switch Kind(b[0]) {
	case KindAnonymous:
		if len(payload) != 0 {
			return Identity{}, fmt.Errorf("%w: anonymous identity with %d payload bytes", ErrMalformedIdentity, len(payload))
		}
		return Identity{}, nil
	case KindPublicKey:
		if len(payload) == 0 {
			return Identity{}, fmt.Errorf("%w: public key identity without key", ErrMalformedIdentity)
		}
		return Identity{kind: KindPublicKey, data: string(payload)}, nil
	case KindAddressable:
		if len(payload) != AddressSize {
			return Identity{}, fmt.Errorf("%w: address must be %d bytes, got %d", ErrMalformedIdentity, AddressSize, len(payload))
		}
		return Identity{kind: KindAddressable, data: string(payload)}, nil
	default:
		return Identity{}, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformedIdentity, b[0])
	}
}

// String returns the multibase (base32) text form.
func (id Identity) String() string {
	s, err := multibase.Encode(multibase.Base32, id.Bytes())
	if err != nil {
		return "<invalid identity>"
	}
	return s
}

// Parse decodes the multibase text form produced by String.
func Parse(s string) (Identity, error) {
	_, b, err := multibase.Decode(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	return FromBytes(b)
}

func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalCBOR encodes id as tag 10000 wrapping the binary form.
func (id Identity) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: CBORTag, Content: id.Bytes()})
}

// UnmarshalCBOR accepts both the tagged form and a bare byte string.
func (id *Identity) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if len(data) > 0 && data[0]>>5 == 6 {
		var tag cbor.RawTag
		if err := cbor.Unmarshal(data, &tag); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
		}
		if tag.Number != CBORTag {
			return fmt.Errorf("%w: unexpected CBOR tag %d", ErrMalformedIdentity, tag.Number)
		}
		data = tag.Content
	}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	parsed, err := FromBytes(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
