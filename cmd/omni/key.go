package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"io"

	"omniproto.dev/omni/keys"
)

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printKeyUsage(errOut)
		return 2
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "init":
		return cmdKeyInit(rest, out, errOut)
	case "derive":
		return cmdKeyDerive(rest, out, errOut)
	case "list":
		return cmdKeyList(rest, out, errOut)
	case "export-pem":
		return cmdKeyExportPEM(rest, out, errOut)
	case "help", "-h", "--help":
		printKeyUsage(out)
		return 0
	}
	fmt.Fprintf(errOut, "unknown key subcommand: %s\n\n", sub)
	printKeyUsage(errOut)
	return 2
}

func printKeyUsage(w io.Writer) {
	fmt.Fprint(w, `omni key: local key store

Usage:
  omni key init --name <name> [--alg ed25519|dilithium3] [--seed-hex <64hex>] [--force] [--dir <dir>]
  omni key derive --from <name> --role <role> [--force] [--dir <dir>]
  omni key list [--dir <dir>]
  omni key export-pem --name <name> [--role <role>] [--dir <dir>]
`)
}

// keyFlagSet returns a flag set that already carries --dir.
func keyFlagSet(name string, errOut io.Writer, dir *string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(dir, "dir", "", "Key store directory (default ~/.omni/keys)")
	return fs
}

// checkArg reports a usage problem for --name and returns false when err is
// set.
func checkArg(errOut io.Writer, name string, err error) bool {
	if err != nil {
		fmt.Fprintf(errOut, "invalid --%s: %v\n", name, err)
		return false
	}
	return true
}

func required(errOut io.Writer, flags map[string]string) bool {
	for _, name := range []string{"name", "from", "role"} {
		if v, ok := flags[name]; ok && v == "" {
			fmt.Fprintf(errOut, "missing --%s\n", name)
			return false
		}
	}
	return true
}

func openKeyStore(dir string, errOut io.Writer) *keys.KeyStore {
	ks, err := keys.OpenKeyStore(dir)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return nil
	}
	return ks
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	var name, algName, seedHex, dir string
	var force bool
	fs := keyFlagSet("key init", errOut, &dir)
	fs.StringVar(&name, "name", "", "Key name (directory under the key store)")
	fs.StringVar(&algName, "alg", "ed25519", "Signature algorithm: ed25519 or dilithium3")
	fs.StringVar(&seedHex, "seed-hex", "", "Optional 32-byte seed as 64 hex chars (for reproducible setups)")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(errOut, map[string]string{"name": name}) || !checkArg(errOut, "name", keys.CheckKeyName(name)) {
		return 2
	}
	alg, err := keys.ParseAlgorithm(algName)
	if !checkArg(errOut, "alg", err) {
		return 2
	}

	seed := make([]byte, 32)
	if seedHex != "" {
		if seed, err = keys.ParseSeedHex(seedHex); !checkArg(errOut, "seed-hex", err) {
			return 2
		}
	} else if _, err := rand.Read(seed); err != nil {
		fmt.Fprintf(errOut, "rand: %v\n", err)
		return 1
	}

	ks := openKeyStore(dir, errOut)
	if ks == nil {
		return 1
	}
	id, path, err := ks.InitRootKey(name, alg, seed, force)
	if err != nil {
		fmt.Fprintf(errOut, "write key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created %s root key: %s\nStored at: %s\n", alg, id, path)
	return 0
}

func cmdKeyDerive(args []string, out io.Writer, errOut io.Writer) int {
	var from, role, dir string
	var force bool
	fs := keyFlagSet("key derive", errOut, &dir)
	fs.StringVar(&from, "from", "", "Root key name")
	fs.StringVar(&role, "role", "", "Role identifier (e.g. node, client)")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(errOut, map[string]string{"from": from, "role": role}) ||
		!checkArg(errOut, "from", keys.CheckKeyName(from)) ||
		!checkArg(errOut, "role", keys.CheckRole(role)) {
		return 2
	}

	ks := openKeyStore(dir, errOut)
	if ks == nil {
		return 1
	}
	id, path, err := ks.DeriveRoleKey(from, role, force)
	if err != nil {
		fmt.Fprintf(errOut, "derive role key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created role key %s/%s: %s\nStored at: %s\n", from, role, id, path)
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	var dir string
	fs := keyFlagSet("key list", errOut, &dir)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks := openKeyStore(dir, errOut)
	if ks == nil {
		return 1
	}
	entries, err := ks.List()
	if err != nil {
		fmt.Fprintf(errOut, "list keys: %v\n", err)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\n", e.Name, e.Identity)
		for _, r := range e.Roles {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}
	return 0
}

func cmdKeyExportPEM(args []string, out io.Writer, errOut io.Writer) int {
	var name, role, dir string
	fs := keyFlagSet("key export-pem", errOut, &dir)
	fs.StringVar(&name, "name", "", "Key name")
	fs.StringVar(&role, "role", "", "Optional role (if set, exports the derived role key)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !required(errOut, map[string]string{"name": name}) {
		return 2
	}
	ks := openKeyStore(dir, errOut)
	if ks == nil {
		return 1
	}
	s, err := ks.Signer(name, role)
	if err != nil {
		fmt.Fprintf(errOut, "load key: %v\n", err)
		return 1
	}
	b, err := keys.EncodePEM(s)
	if err != nil {
		fmt.Fprintf(errOut, "encode key: %v\n", err)
		return 1
	}
	_, _ = out.Write(b)
	return 0
}
