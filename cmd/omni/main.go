package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "archive":
		return cmdArchive(args[1:], out, errOut)
	case "call":
		return cmdCall(args[1:], out, errOut)
	case "envelope":
		return cmdEnvelope(args[1:], out, errOut)
	case "error":
		return cmdError(args[1:], out, errOut)
	case "id":
		return cmdID(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "kv":
		return cmdKV(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "omni: OMNI envelope and key tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  omni key init --name <name> [--alg ed25519|dilithium3] [--seed-hex <64hex>] [--force] [--dir <dir>]")
	fmt.Fprintln(w, "  omni key derive --from <name> --role <role> [--force] [--dir <dir>]")
	fmt.Fprintln(w, "  omni key list [--dir <dir>]")
	fmt.Fprintln(w, "  omni key export-pem --name <name> [--role <role>] [--dir <dir>]")
	fmt.Fprintln(w, "  omni id show (--pem <file> | --key <name> [--role <role>]) [--public-key]")
	fmt.Fprintln(w, "  omni id parse <identity>")
	fmt.Fprintln(w, "  omni call --method <m> [--data-hex <hex>] [node flags] [signer flags]")
	fmt.Fprintln(w, "  omni kv info|list|get|put [node flags] [signer flags] [<key> [<value>]]")
	fmt.Fprintln(w, "  omni envelope sign --to <identity> --method <m> [--data-hex <hex>] [signer flags] > req.cose")
	fmt.Fprintln(w, "  omni envelope inspect [--to <identity>] <file|->")
	fmt.Fprintln(w, "  omni error list")
	fmt.Fprintln(w, "  omni error render --code <n> [--field name=value ...]")
	fmt.Fprintln(w, "  omni error decode <hex>")
	fmt.Fprintln(w, "  omni archive list-backends")
	fmt.Fprintln(w, "  omni archive put|get|has|stat --backend <name> [--cfg name=value ...] <file|cid>")
	fmt.Fprintln(w, "  omni archive list --backend <name> [--cfg name=value ...] [--signer <id>] [--method <m>] [--kind request|response]")
	fmt.Fprintln(w, "  omni archive export --backend <name> [--cfg name=value ...] [--out <file>] <cid> [<cid> ...]")
	fmt.Fprintln(w, "  omni archive import --backend <name> [--cfg name=value ...] [--verify] <file|->")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - signer flags: --pem <file> or --key <name> [--role <role>] [--dir <dir>]; none signs anonymously")
	fmt.Fprintln(w, "  - node flags: --target <host:port> [--to <identity>] [--server <identity>] [--timeout <d>]")
	fmt.Fprintln(w, "  - the key store lives under ~/.omni/keys/<name> unless --dir is given")
	fmt.Fprintln(w, "  - envelope sign writes raw COSE bytes to stdout (no trailing newline)")
}
