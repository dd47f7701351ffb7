package envelope

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
)

// COSE key labels and values.
const (
	labelKty = 1
	labelKid = 2
	labelAlg = 3
	labelCrv = -1 // OKP curve
	labelX   = -2 // OKP public key
	labelPub = -1 // AKP public key

	ktyOKP = 1
	ktyAKP = 7

	crvEd25519 = 6
)

// Key is a public key entry of a COSE_KeySet.
type Key struct {
	ID        []byte
	Algorithm keys.Algorithm
	Public    []byte
}

// KeySet is an ordered list of public keys.
type KeySet []Key

// NewKey returns the keyset entry for id signed by pub.
func NewKey(id identity.Identity, alg keys.Algorithm, pub []byte) Key {
	return Key{ID: id.Bytes(), Algorithm: alg, Public: append([]byte(nil), pub...)}
}

// Lookup returns the first key that id names.
func (ks KeySet) Lookup(id identity.Identity) (Key, bool) {
	for _, k := range ks {
		if len(k.Public) > 0 && id.MatchesKey(k.Public) {
			return k, true
		}
	}
	return Key{}, false
}

// MarshalCBOR encodes k as a COSE_Key map. Ed25519 keys use the OKP layout;
// Dilithium3 keys use the AKP layout.
func (k Key) MarshalCBOR() ([]byte, error) {
	m := map[int]any{labelAlg: int64(k.Algorithm)}
	if len(k.ID) > 0 {
		m[labelKid] = k.ID
	}
	switch k.Algorithm {
	case keys.EdDSA:
		m[labelKty] = ktyOKP
		m[labelCrv] = crvEd25519
		m[labelX] = k.Public
	case keys.Dilithium3:
		m[labelKty] = ktyAKP
		m[labelPub] = k.Public
	default:
		return nil, fmt.Errorf("envelope: unsupported key algorithm %s", k.Algorithm)
	}
	return encMode.Marshal(m)
}

// UnmarshalCBOR decodes a COSE_Key map.
func (k *Key) UnmarshalCBOR(data []byte) error {
	var m map[int]cbor.RawMessage
	if err := decMode.Unmarshal(data, &m); err != nil {
		return err
	}
	var kty int
	if err := unmarshalLabel(m, labelKty, &kty); err != nil {
		return err
	}
	var alg int64
	if raw, ok := m[labelAlg]; ok {
		if err := decMode.Unmarshal(raw, &alg); err != nil {
			return fmt.Errorf("envelope: key alg: %w", err)
		}
	}
	out := Key{Algorithm: keys.Algorithm(alg)}
	if raw, ok := m[labelKid]; ok {
		if err := decMode.Unmarshal(raw, &out.ID); err != nil {
			return fmt.Errorf("envelope: key kid: %w", err)
		}
	}

	switch kty {
	case ktyOKP:
		var crv int
		if err := unmarshalLabel(m, labelCrv, &crv); err != nil {
			return err
		}
		if crv != crvEd25519 {
			return fmt.Errorf("envelope: unsupported OKP curve %d", crv)
		}
		if err := unmarshalLabel(m, labelX, &out.Public); err != nil {
			return err
		}
		if out.Algorithm == 0 {
			out.Algorithm = keys.EdDSA
		}
	case ktyAKP:
		if err := unmarshalLabel(m, labelPub, &out.Public); err != nil {
			return err
		}
	default:
		return fmt.Errorf("envelope: unsupported key type %d", kty)
	}
	*k = out
	return nil
}

func unmarshalLabel(m map[int]cbor.RawMessage, label int, v any) error {
	raw, ok := m[label]
	if !ok {
		return fmt.Errorf("envelope: key label %d missing", label)
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("envelope: key label %d: %w", label, err)
	}
	return nil
}

// Encode returns the CBOR array form of ks.
func (ks KeySet) Encode() ([]byte, error) {
	return encMode.Marshal([]Key(ks))
}

// DecodeKeySet parses a CBOR COSE_KeySet.
func DecodeKeySet(b []byte) (KeySet, error) {
	var ks []Key
	if err := decMode.Unmarshal(b, &ks); err != nil {
		return nil, err
	}
	return KeySet(ks), nil
}
