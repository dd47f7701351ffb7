package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const deriveDomain = "omni-keystore-v1"

// DeriveRoleSeed deterministically derives a role-specific seed from a root
// seed. The same root and role always yield the same seed.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}

	h := sha3.New256()
	_, _ = h.Write([]byte(deriveDomain))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	sum := h.Sum(nil)
	if len(sum) < ed25519.SeedSize {
		return nil, errors.New("kdf output too short")
	}
	return sum[:ed25519.SeedSize], nil
}

// SignerFromSeed builds a signer of the given algorithm from a 32-byte seed.
func SignerFromSeed(alg Algorithm, seed []byte) (Signer, error) {
	switch alg {
	case EdDSA:
		return NewEd25519FromSeed(seed)
	case Dilithium3:
		return NewDilithium3FromSeed(seed)
	default:
		return nil, fmt.Errorf("keys: unsupported algorithm %s", alg)
	}
}

// ParseAlgorithm accepts "ed25519"/"eddsa" and "dilithium3".
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "ed25519", "eddsa", "EdDSA":
		return EdDSA, nil
	case "dilithium3", "Dilithium3":
		return Dilithium3, nil
	default:
		return 0, fmt.Errorf("keys: unknown algorithm %q", s)
	}
}
