package keys

import (
	"crypto/ed25519"
	"fmt"
	"io"
)

// Ed25519Key is an Ed25519 signing key.
type Ed25519Key struct {
	priv ed25519.PrivateKey
}

// NewEd25519FromSeed builds a key from a 32-byte seed.
func NewEd25519FromSeed(seed []byte) (*Ed25519Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Key{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// GenerateEd25519 creates a new random key.
func GenerateEd25519(rand io.Reader) (*Ed25519Key, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return &Ed25519Key{priv: priv}, nil
}

func (k *Ed25519Key) Algorithm() Algorithm { return EdDSA }

func (k *Ed25519Key) PublicKey() []byte {
	return append([]byte(nil), k.priv.Public().(ed25519.PublicKey)...)
}

func (k *Ed25519Key) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, message), nil
}

// Seed returns the 32-byte seed.
func (k *Ed25519Key) Seed() []byte { return k.priv.Seed() }
