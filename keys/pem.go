package keys

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// PEM block types understood by ParsePEM.
const (
	PEMTypePKCS8      = "PRIVATE KEY"
	PEMTypeDilithium3 = "DILITHIUM3 PRIVATE KEY"
)

var ErrNoPEMBlock = errors.New("keys: no PEM block found")

// ParsePEM decodes the first PEM block of data into a Signer. PKCS#8 blocks
// must hold an Ed25519 key.
func ParsePEM(data []byte) (Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	switch block.Type {
	case PEMTypePKCS8:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("keys: parse PKCS#8: %w", err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("keys: unsupported PKCS#8 key type %T", key)
		}
		return &Ed25519Key{priv: priv}, nil
	case PEMTypeDilithium3:
		return ParseDilithium3PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("keys: unsupported PEM block %q", block.Type)
	}
}

// LoadPEM reads and parses a PEM file.
func LoadPEM(path string) (Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePEM(data)
}

// EncodePEM serialises a key produced by this package.
func EncodePEM(s Signer) ([]byte, error) {
	switch k := s.(type) {
	case *Ed25519Key:
		der, err := x509.MarshalPKCS8PrivateKey(k.priv)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: PEMTypePKCS8, Bytes: der}), nil
	case *Dilithium3Key:
		b, err := k.MarshalPrivateKey()
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: PEMTypeDilithium3, Bytes: b}), nil
	case *lockedSigner:
		return EncodePEM(k.s)
	default:
		return nil, fmt.Errorf("keys: cannot encode %T as PEM", s)
	}
}
