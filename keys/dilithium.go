package keys

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Dilithium3Key is a post-quantum Dilithium (mode 3) signing key.
type Dilithium3Key struct {
	pub  *mode3.PublicKey
	priv *mode3.PrivateKey
}

// GenerateDilithium3 creates a new key from rand.
func GenerateDilithium3(rand io.Reader) (*Dilithium3Key, error) {
	pub, priv, err := mode3.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return &Dilithium3Key{pub: pub, priv: priv}, nil
}

// NewDilithium3FromSeed derives a key deterministically from a 32-byte seed.
func NewDilithium3FromSeed(seed []byte) (*Dilithium3Key, error) {
	if len(seed) != mode3.SeedSize {
		return nil, fmt.Errorf("dilithium3 seed must be %d bytes, got %d", mode3.SeedSize, len(seed))
	}
	var s [mode3.SeedSize]byte
	copy(s[:], seed)
	pub, priv := mode3.NewKeyFromSeed(&s)
	return &Dilithium3Key{pub: pub, priv: priv}, nil
}

// ParseDilithium3PrivateKey decodes a packed private key.
func ParseDilithium3PrivateKey(b []byte) (*Dilithium3Key, error) {
	if len(b) != mode3.PrivateKeySize {
		return nil, fmt.Errorf("dilithium3 private key must be %d bytes, got %d", mode3.PrivateKeySize, len(b))
	}
	var priv mode3.PrivateKey
	if err := priv.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	pub, ok := priv.Public().(*mode3.PublicKey)
	if !ok {
		return nil, fmt.Errorf("dilithium3: unexpected public key type")
	}
	return &Dilithium3Key{pub: pub, priv: &priv}, nil
}

func (k *Dilithium3Key) Algorithm() Algorithm { return Dilithium3 }

func (k *Dilithium3Key) PublicKey() []byte {
	b, err := k.pub.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

func (k *Dilithium3Key) Sign(message []byte) ([]byte, error) {
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(k.priv, message, sig)
	return sig, nil
}

// MarshalPrivateKey returns the packed private key.
func (k *Dilithium3Key) MarshalPrivateKey() ([]byte, error) {
	return k.priv.MarshalBinary()
}
