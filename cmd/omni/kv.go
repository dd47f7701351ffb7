package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"

	"omniproto.dev/omni/kvstore"
)

func cmdKV(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: omni kv <subcommand> [node flags] ...")
		fmt.Fprintln(errOut, "subcommands: info, get, put, list")
		return 2
	}
	sub := args[0]
	fs := flag.NewFlagSet("kv "+sub, flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf signerFlags
	sf.register(fs)
	var nf nodeFlags
	nf.register(fs)
	var prefix string
	var limit int
	var reverse bool
	if sub == "list" {
		fs.StringVar(&prefix, "prefix", "", "Key prefix")
		fs.IntVar(&limit, "limit", 0, "Maximum number of keys")
		fs.BoolVar(&reverse, "reverse", false, "List in descending key order")
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	want := map[string]int{"info": 0, "get": 1, "put": 2, "list": 0}
	n, ok := want[sub]
	if !ok {
		fmt.Fprintf(errOut, "unknown kv subcommand: %s\n", sub)
		return 2
	}
	if fs.NArg() != n {
		fmt.Fprintf(errOut, "kv %s takes %d argument(s)\n", sub, n)
		return 2
	}

	c, to, err := nf.dial(&sf)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer func() { _ = c.Close() }()
	kv := &kvstore.Client{Caller: c, To: to}
	ctx := context.Background()

	switch sub {
	case "info":
		info, err := kv.Info(ctx)
		if err != nil {
			reportCallError(errOut, err)
			return 1
		}
		fmt.Fprintf(out, "hash: %s\n", hex.EncodeToString(info.Hash))
		fmt.Fprintf(out, "root: %s\n", info.Root)
	case "get":
		got, err := kv.Get(ctx, []byte(fs.Arg(0)))
		if err != nil {
			reportCallError(errOut, err)
			return 1
		}
		fmt.Fprintf(out, "owner: %s\n", got.Owner)
		fmt.Fprintf(out, "value: %s\n", got.Value)
	case "put":
		if err := kv.Put(ctx, []byte(fs.Arg(0)), []byte(fs.Arg(1))); err != nil {
			reportCallError(errOut, err)
			return 1
		}
	case "list":
		keys, err := kv.List(ctx, kvstore.ListArgs{Prefix: []byte(prefix), Limit: limit, Reverse: reverse})
		if err != nil {
			reportCallError(errOut, err)
			return 1
		}
		for _, k := range keys {
			fmt.Fprintf(out, "%s\n", k)
		}
	}
	return 0
}
