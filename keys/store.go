package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"omniproto.dev/omni/identity"
)

// KeyStore keeps signing seeds on the local filesystem.
//
// Layout:
//
//	<dir>/<name>/root.key          algorithm:hex(seed)
//	<dir>/<name>/roles/<role>.key  seeds derived from root.key
//
// EXPERIMENTAL: the layout is a local convenience for the CLI and node.
type KeyStore struct {
	Directory string
}

type KeyEntry struct {
	Name     string
	Identity identity.Identity
	Roles    []string
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".omni", "keys"), nil
}

func OpenKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootPath(name string) string {
	return filepath.Join(ks.Directory, name, "root.key")
}

func (ks *KeyStore) rolePath(name, role string) string {
	return filepath.Join(ks.Directory, name, "roles", role+".key")
}

func checkToken(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	for _, char := range s {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", char, kind)
	}
	return nil
}

func CheckKeyName(name string) error { return checkToken("key name", name) }
func CheckRole(role string) error    { return checkToken("role", role) }

// ParseSeedHex decodes a 32-byte hex seed, tolerating a 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimPrefix(strings.TrimSpace(seedHex), "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func algorithmTag(alg Algorithm) string {
	if alg == Dilithium3 {
		return "dilithium3"
	}
	return "ed25519"
}

func writeSeed(path string, alg Algorithm, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(algorithmTag(alg) + ":" + hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return f.Close()
}

func readSeed(path string) (Algorithm, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	line := strings.TrimSpace(string(data))
	tag, seedHex, ok := strings.Cut(line, ":")
	if !ok {
		// Bare hex seeds are Ed25519.
		tag, seedHex = "ed25519", line
	}
	alg, err := ParseAlgorithm(tag)
	if err != nil {
		return 0, nil, err
	}
	seed, err := ParseSeedHex(seedHex)
	if err != nil {
		return 0, nil, err
	}
	return alg, seed, nil
}

func identityFor(alg Algorithm, seed []byte) (identity.Identity, error) {
	s, err := SignerFromSeed(alg, seed)
	if err != nil {
		return identity.Identity{}, err
	}
	return AddressableIdentity(s)
}

// InitRootKey stores seed as the root key of name and returns its
// addressable identity.
func (ks *KeyStore) InitRootKey(name string, alg Algorithm, seed []byte, overwrite bool) (identity.Identity, string, error) {
	if err := CheckKeyName(name); err != nil {
		return identity.Identity{}, "", err
	}
	path := ks.rootPath(name)
	if err := writeSeed(path, alg, seed, overwrite); err != nil {
		return identity.Identity{}, "", err
	}
	id, err := identityFor(alg, seed)
	return id, path, err
}

// DeriveRoleKey derives and stores a role key under name. Role keys use the
// root key's algorithm.
func (ks *KeyStore) DeriveRoleKey(name, role string, overwrite bool) (identity.Identity, string, error) {
	if err := CheckKeyName(name); err != nil {
		return identity.Identity{}, "", err
	}
	if err := CheckRole(role); err != nil {
		return identity.Identity{}, "", err
	}
	alg, rootSeed, err := readSeed(ks.rootPath(name))
	if err != nil {
		return identity.Identity{}, "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return identity.Identity{}, "", err
	}
	path := ks.rolePath(name, role)
	if err := writeSeed(path, alg, roleSeed, overwrite); err != nil {
		return identity.Identity{}, "", err
	}
	id, err := identityFor(alg, roleSeed)
	return id, path, err
}

// Signer loads the signer for name, or for one of its roles when role is
// non-empty.
func (ks *KeyStore) Signer(name, role string) (Signer, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	path := ks.rootPath(name)
	if role != "" {
		if err := CheckRole(role); err != nil {
			return nil, err
		}
		path = ks.rolePath(name, role)
	}
	return LoadSeedFile(path)
}

// LoadSeedFile reads a seed file written by KeyStore.
func LoadSeedFile(path string) (Signer, error) {
	alg, seed, err := readSeed(path)
	if err != nil {
		return nil, err
	}
	return SignerFromSeed(alg, seed)
}

// List returns the stored keys sorted by name.
func (ks *KeyStore) List() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var out []KeyEntry
	for _, name := range names {
		alg, seed, err := readSeed(ks.rootPath(name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("keys: %s: %w", name, err)
		}
		id, err := identityFor(alg, seed)
		if err != nil {
			return nil, err
		}
		var roles []string
		if roleEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, name, "roles")); rerr == nil {
			for _, e := range roleEntries {
				if !e.IsDir() && strings.HasSuffix(e.Name(), ".key") {
					roles = append(roles, strings.TrimSuffix(e.Name(), ".key"))
				}
			}
			sort.Strings(roles)
		}
		out = append(out, KeyEntry{Name: name, Identity: id, Roles: roles})
	}
	return out, nil
}
