package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"omniproto.dev/omni/envelope"
	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/message"
	"omniproto.dev/omni/omnierr"
)

func cmdEnvelope(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: omni envelope <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: sign, inspect")
		return 2
	}
	switch args[0] {
	case "sign":
		return cmdEnvelopeSign(args[1:], out, errOut)
	case "inspect":
		return cmdEnvelopeInspect(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown envelope subcommand: %s\n", args[0])
		return 2
	}
}

func cmdEnvelopeSign(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("envelope sign", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf signerFlags
	sf.register(fs)
	var to, method, dataHex string
	var id uint64
	fs.StringVar(&to, "to", "", "Recipient identity (default anonymous)")
	fs.StringVar(&method, "method", "", "Method name")
	fs.StringVar(&dataHex, "data-hex", "", "Request data as hex")
	fs.Uint64Var(&id, "id", 0, "Request id")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if method == "" {
		fmt.Fprintln(errOut, "missing --method")
		return 2
	}
	toID, err := parseOptionalIdentity(to)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --to: %v\n", err)
		return 2
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --data-hex: %v\n", err)
		return 2
	}
	signer, from, err := sf.load()
	if err != nil {
		fmt.Fprintf(errOut, "load key: %v\n", err)
		return 1
	}

	req, err := message.NewRequest(from, toID, method, data)
	if err != nil {
		fmt.Fprintf(errOut, "request: %v\n", err)
		return 1
	}
	req.ID = id
	b, err := envelope.SealRequest(req, from, signer)
	if err != nil {
		fmt.Fprintf(errOut, "sign: %v\n", err)
		return 1
	}
	_, _ = out.Write(b)
	return 0
}

func cmdEnvelopeInspect(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("envelope inspect", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var to string
	fs.StringVar(&to, "to", "", "Require the message to be addressed to this identity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: omni envelope inspect [--to <identity>] <file|->")
		return 2
	}
	var toPtr *identity.Identity
	if to != "" {
		id, err := identity.Parse(to)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --to: %v\n", err)
			return 2
		}
		toPtr = &id
	}

	b, err := readInput(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read envelope: %v\n", err)
		return 1
	}
	env, err := envelope.Parse(b)
	if err != nil {
		reportEnvelopeError(errOut, err)
		return 1
	}

	fmt.Fprintf(out, "algorithm: %s\n", keys.Algorithm(env.Headers.Algorithm))
	if kid, err := identity.FromBytes(env.Headers.KeyID); err == nil {
		fmt.Fprintf(out, "key id: %s\n", kid)
	}
	if ks, err := env.KeySet(); err == nil {
		fmt.Fprintf(out, "keyset: %d key(s)\n", len(ks))
	}
	fmt.Fprintf(out, "payload: %d bytes\n", len(env.Payload))

	signer, err := env.Verify()
	if err != nil {
		reportEnvelopeError(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "verified: %s\n", signer)

	req, err := envelope.DecodeRequest(env, toPtr)
	if err == nil {
		printRequest(out, req)
		return 0
	}
	if envelope.RuleID(err) != envelope.RuleInvalidPayload {
		reportEnvelopeError(errOut, err)
		return 1
	}
	resp, err := envelope.DecodeResponse(env, toPtr)
	if err != nil {
		reportEnvelopeError(errOut, err)
		return 1
	}
	printResponse(out, resp)
	return 0
}

func printRequest(w io.Writer, req *message.Request) {
	fmt.Fprintln(w, "type: request")
	fmt.Fprintf(w, "from: %s\n", req.From)
	fmt.Fprintf(w, "to: %s\n", req.To)
	fmt.Fprintf(w, "method: %s\n", req.Method)
	fmt.Fprintf(w, "id: %d\n", req.ID)
	if !req.Timestamp.IsZero() {
		fmt.Fprintf(w, "timestamp: %s\n", req.Timestamp.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "data: %s\n", hex.EncodeToString(req.Data))
}

func printResponse(w io.Writer, resp *message.Response) {
	fmt.Fprintln(w, "type: response")
	fmt.Fprintf(w, "from: %s\n", resp.From)
	fmt.Fprintf(w, "to: %s\n", resp.To)
	fmt.Fprintf(w, "id: %d\n", resp.ID)
	if !resp.Timestamp.IsZero() {
		fmt.Fprintf(w, "timestamp: %s\n", resp.Timestamp.Format(time.RFC3339))
	}
	if resp.Error != nil {
		fmt.Fprintf(w, "error: %s: %s\n", resp.Error.Code(), resp.Error)
		return
	}
	fmt.Fprintf(w, "data: %s\n", hex.EncodeToString(resp.Data))
}

func reportEnvelopeError(w io.Writer, err error) {
	fmt.Fprintf(w, "invalid envelope [%s] (wire %s): %v\n", envelope.RuleID(err), omnierr.CodeOf(err), err)
}

func parseOptionalIdentity(s string) (identity.Identity, error) {
	if s == "" {
		return identity.Anonymous(), nil
	}
	return identity.Parse(s)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
