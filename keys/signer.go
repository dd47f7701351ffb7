package keys

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"omniproto.dev/omni/identity"
)

// Algorithm is a COSE algorithm identifier.
type Algorithm int64

const (
	// EdDSA is the registered COSE identifier for Ed25519 signatures.
	EdDSA Algorithm = -8
	// Dilithium3 uses a private-use identifier.
	Dilithium3 Algorithm = -65537
)

func (a Algorithm) String() string {
	switch a {
	case EdDSA:
		return "EdDSA"
	case Dilithium3:
		return "Dilithium3"
	default:
		return fmt.Sprintf("alg(%d)", int64(a))
	}
}

// Signer holds private key material.
//
// Implementations need not be safe for concurrent use; wrap them with Locked
// when sharing one across goroutines.
type Signer interface {
	Algorithm() Algorithm
	PublicKey() []byte
	Sign(message []byte) ([]byte, error)
}

// Verify checks sig over message with the raw public key pub.
func Verify(alg Algorithm, pub, message, sig []byte) bool {
	switch alg {
	case EdDSA:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
	case Dilithium3:
		if len(pub) != mode3.PublicKeySize || len(sig) != mode3.SignatureSize {
			return false
		}
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return false
		}
		return mode3.Verify(&pk, message, sig)
	default:
		return false
	}
}

// PublicKeyIdentity returns the public-key identity of s.
func PublicKeyIdentity(s Signer) (identity.Identity, error) {
	return identity.FromPublicKey(s.PublicKey())
}

// AddressableIdentity returns the addressable identity of s.
func AddressableIdentity(s Signer) (identity.Identity, error) {
	return identity.AddressOf(s.PublicKey())
}

type lockedSigner struct {
	mu sync.Mutex
	s  Signer
}

// Locked serialises Sign calls on s.
func Locked(s Signer) Signer {
	if _, ok := s.(*lockedSigner); ok {
		return s
	}
	return &lockedSigner{s: s}
}

func (l *lockedSigner) Algorithm() Algorithm { return l.s.Algorithm() }
func (l *lockedSigner) PublicKey() []byte    { return l.s.PublicKey() }

func (l *lockedSigner) Sign(message []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Sign(message)
}
