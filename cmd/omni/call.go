package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"omniproto.dev/omni/identity"
	"omniproto.dev/omni/omnierr"
	"omniproto.dev/omni/server"
	"omniproto.dev/omni/transport"
)

// nodeFlags select the node a command talks to.
type nodeFlags struct {
	target  string
	to      string
	server  string
	timeout time.Duration
}

func (f *nodeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.target, "target", "127.0.0.1:8000", "Node gRPC address")
	fs.StringVar(&f.to, "to", "", "Recipient identity (default anonymous)")
	fs.StringVar(&f.server, "server", "", "Require responses signed by this identity")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "Call timeout")
}

// dial connects with the key chosen by sf and returns the recipient
// identity to address.
func (f *nodeFlags) dial(sf *signerFlags) (*transport.Client, identity.Identity, error) {
	to, err := parseOptionalIdentity(f.to)
	if err != nil {
		return nil, identity.Identity{}, fmt.Errorf("invalid --to: %w", err)
	}
	opts := transport.DialOptions{Timeout: f.timeout}
	if f.server != "" {
		id, err := identity.Parse(f.server)
		if err != nil {
			return nil, identity.Identity{}, fmt.Errorf("invalid --server: %w", err)
		}
		opts.Server = &id
	}
	signer, from, err := sf.load()
	if err != nil {
		return nil, identity.Identity{}, fmt.Errorf("load key: %w", err)
	}
	c, err := transport.Dial(f.target, signer, from, opts)
	if err != nil {
		return nil, identity.Identity{}, fmt.Errorf("dial: %w", err)
	}
	return c, to, nil
}

func reportCallError(w io.Writer, err error) {
	var e *omnierr.Error
	if errors.As(err, &e) {
		fmt.Fprintf(w, "%s: %s\n", e.Code(), e)
		return
	}
	fmt.Fprintf(w, "call: %v\n", err)
}

func cmdCall(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var sf signerFlags
	sf.register(fs)
	var nf nodeFlags
	nf.register(fs)
	var method, dataHex string
	fs.StringVar(&method, "method", "", "Method name")
	fs.StringVar(&dataHex, "data-hex", "", "Request data as hex")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if method == "" {
		fmt.Fprintln(errOut, "missing --method")
		return 2
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --data-hex: %v\n", err)
		return 2
	}

	c, to, err := nf.dial(&sf)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer func() { _ = c.Close() }()

	result, err := c.Call(context.Background(), to, method, data)
	if err != nil {
		reportCallError(errOut, err)
		return 1
	}
	printResult(out, method, result)
	return 0
}

// printResult decodes the results of the base endpoints and falls back to
// hex.
func printResult(w io.Writer, method string, result []byte) {
	switch method {
	case server.MethodStatus:
		if st, err := server.DecodeStatus(result); err == nil {
			fmt.Fprintf(w, "name: %s\n", st.Name)
			fmt.Fprintf(w, "identity: %s\n", st.Identity)
			fmt.Fprintf(w, "protocol version: %d\n", st.ProtocolVersion)
			if st.ServerVersion != "" {
				fmt.Fprintf(w, "server version: %s\n", st.ServerVersion)
			}
			for _, ep := range st.Endpoints {
				fmt.Fprintf(w, "endpoint: %s\n", ep)
			}
			return
		}
	case server.MethodEndpoints:
		if eps, err := server.DecodeEndpoints(result); err == nil {
			for _, ep := range eps {
				fmt.Fprintln(w, ep)
			}
			return
		}
	}
	_, _ = fmt.Fprintln(w, hex.EncodeToString(result))
}
