package main

import (
	"flag"
	"fmt"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
)

// signerFlags selects the key a command signs with.
type signerFlags struct {
	pem  string
	key  string
	role string
	dir  string
}

func (f *signerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.pem, "pem", "", "Signing key as a PEM file")
	fs.StringVar(&f.key, "key", "", "Signing key name in the key store")
	fs.StringVar(&f.role, "role", "", "Optional role of --key")
	fs.StringVar(&f.dir, "dir", "", "Key store directory (default ~/.omni/keys)")
}

// load returns a nil signer and the anonymous identity when no key was
// selected.
func (f *signerFlags) load() (keys.Signer, identity.Identity, error) {
	var (
		s   keys.Signer
		err error
	)
	switch {
	case f.pem != "" && f.key != "":
		return nil, identity.Identity{}, fmt.Errorf("--pem and --key are mutually exclusive")
	case f.pem != "":
		s, err = keys.LoadPEM(f.pem)
	case f.key != "":
		var ks *keys.KeyStore
		ks, err = keys.OpenKeyStore(f.dir)
		if err == nil {
			s, err = ks.Signer(f.key, f.role)
		}
	default:
		if f.role != "" {
			return nil, identity.Identity{}, fmt.Errorf("--role requires --key")
		}
		return nil, identity.Anonymous(), nil
	}
	if err != nil {
		return nil, identity.Identity{}, err
	}
	id, err := keys.AddressableIdentity(s)
	if err != nil {
		return nil, identity.Identity{}, err
	}
	return s, id, nil
}
