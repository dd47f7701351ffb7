package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
)

func cmdID(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: omni id <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: show, parse")
		return 2
	}
	switch args[0] {
	case "show":
		fs := flag.NewFlagSet("id show", flag.ContinueOnError)
		fs.SetOutput(errOut)
		var sf signerFlags
		sf.register(fs)
		var publicKey bool
		fs.BoolVar(&publicKey, "public-key", false, "Print the public-key identity instead of the address")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		s, id, err := sf.load()
		if err != nil {
			fmt.Fprintf(errOut, "load key: %v\n", err)
			return 1
		}
		if s != nil && publicKey {
			id, err = keys.PublicKeyIdentity(s)
			if err != nil {
				fmt.Fprintf(errOut, "identity: %v\n", err)
				return 1
			}
		}
		_, _ = fmt.Fprintln(out, id)
		return 0
	case "parse":
		fs := flag.NewFlagSet("id parse", flag.ContinueOnError)
		fs.SetOutput(errOut)
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(errOut, "usage: omni id parse <identity>")
			return 2
		}
		id, err := identity.Parse(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "invalid identity: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "kind: %s\n", id.Kind())
		fmt.Fprintf(out, "bytes: %s\n", hex.EncodeToString(id.Bytes()))
		if id.IsPublicKey() {
			fmt.Fprintf(out, "address: %s\n", id.Addressable())
		}
		return 0
	default:
		fmt.Fprintf(errOut, "unknown id subcommand: %s\n", args[0])
		return 2
	}
}
