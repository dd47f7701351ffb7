package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ipfs/go-cid"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/archive/bundle"
	"omniproto.dev/omni/archive/registry"
	"omniproto.dev/omni/identity"

	_ "omniproto.dev/omni/archive/grpcarchive"
	_ "omniproto.dev/omni/archive/localfs"
)

func cmdArchive(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: omni archive <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: list-backends, put, get, has, stat, list, export, import")
		return 2
	}
	sub := args[0]
	if sub == "list-backends" {
		for _, b := range registry.List(registry.UsageCLI) {
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	fs := flag.NewFlagSet("archive "+sub, flag.ContinueOnError)
	fs.SetOutput(errOut)
	var backend, outPath, signer, method, kind string
	var withIndex, verify bool
	cfg := pairsFlag{}
	fs.StringVar(&backend, "backend", "", "Archive backend name (see list-backends)")
	fs.Var(cfg, "cfg", "Backend setting as name=value (repeatable)")
	switch sub {
	case "export":
		fs.StringVar(&outPath, "out", "-", "Bundle file to write")
		fs.BoolVar(&withIndex, "index", true, "Include index.cbor")
	case "import":
		fs.BoolVar(&verify, "verify", false, "Reject envelopes whose signature does not verify")
	case "list":
		fs.StringVar(&signer, "signer", "", "Only envelopes signed by this identity")
		fs.StringVar(&method, "method", "", "Only requests for this method")
		fs.StringVar(&kind, "kind", "", "Only request or response envelopes")
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if backend == "" {
		fmt.Fprintln(errOut, "missing --backend")
		return 2
	}
	switch {
	case sub == "list" && fs.NArg() != 0,
		sub == "export" && fs.NArg() == 0,
		sub != "list" && sub != "export" && fs.NArg() != 1:
		fmt.Fprintf(errOut, "usage: omni archive %s --backend <name> <arg>\n", sub)
		return 2
	}
	var filter archive.Filter
	if sub == "list" {
		var err error
		if filter, err = listFilter(signer, method, kind); err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	}

	a, closeFn, err := registry.Open(backend, registry.UsageCLI, cfg)
	if err != nil {
		fmt.Fprintf(errOut, "open archive: %v\n", err)
		return 1
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}
	ctx := context.Background()

	switch sub {
	case "put":
		b, err := readInput(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "read: %v\n", err)
			return 1
		}
		id, err := a.Put(ctx, b)
		if err != nil {
			fmt.Fprintf(errOut, "put: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(out, id)
		return 0
	case "get", "has", "stat":
		id, err := cid.Decode(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "invalid cid: %v\n", err)
			return 2
		}
		switch sub {
		case "has":
			if !a.Has(ctx, id) {
				return 1
			}
			_, _ = fmt.Fprintln(out, "yes")
			return 0
		case "stat":
			rec, err := a.Stat(ctx, id)
			if err != nil {
				fmt.Fprintf(errOut, "stat: %v\n", err)
				return 1
			}
			printRecord(out, rec)
			return 0
		}
		b, err := a.Get(ctx, id)
		if err != nil {
			fmt.Fprintf(errOut, "get: %v\n", err)
			return 1
		}
		_, _ = out.Write(b)
		return 0
	case "list":
		recs, err := archive.Select(ctx, a, filter)
		if err != nil {
			fmt.Fprintf(errOut, "list: %v\n", err)
			return 1
		}
		for _, r := range recs {
			_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d\n", r.CID, r.Kind, r.Signer, r.Method, r.MessageID)
		}
		return 0
	case "export":
		return archiveExport(ctx, a, fs.Args(), outPath, withIndex, out, errOut)
	case "import":
		b, err := readInput(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(errOut, "read: %v\n", err)
			return 1
		}
		ids, err := bundle.Import(ctx, bytes.NewReader(b), a, bundle.ImportOptions{VerifySignatures: verify})
		if err != nil {
			fmt.Fprintf(errOut, "import: %v\n", err)
			return 1
		}
		for _, id := range ids {
			_, _ = fmt.Fprintln(out, id)
		}
		return 0
	default:
		fmt.Fprintf(errOut, "unknown archive subcommand: %s\n", sub)
		return 2
	}
}

func archiveExport(ctx context.Context, a archive.Archive, args []string, outPath string, withIndex bool, out, errOut io.Writer) int {
	ids := make([]cid.Cid, 0, len(args))
	for _, s := range args {
		id, err := cid.Decode(s)
		if err != nil {
			fmt.Fprintf(errOut, "invalid cid %q: %v\n", s, err)
			return 2
		}
		ids = append(ids, id)
	}
	var buf bytes.Buffer
	if err := bundle.Export(ctx, &buf, a, ids, bundle.ExportOptions{IncludeIndex: withIndex}); err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	if outPath == "-" {
		_, _ = out.Write(buf.Bytes())
		return 0
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(errOut, "write bundle: %v\n", err)
		return 1
	}
	return 0
}

func listFilter(signer, method, kind string) (archive.Filter, error) {
	f := archive.Filter{Method: method}
	if signer != "" {
		id, err := identity.Parse(signer)
		if err != nil {
			return f, fmt.Errorf("invalid --signer: %w", err)
		}
		f.Signer = &id
	}
	switch kind {
	case "":
	case "request":
		f.Kind = archive.KindRequest
	case "response":
		f.Kind = archive.KindResponse
	default:
		return f, fmt.Errorf("invalid --kind %q (want request or response)", kind)
	}
	return f, nil
}

func printRecord(w io.Writer, r archive.Record) {
	_, _ = fmt.Fprintf(w, "cid: %s\n", r.CID)
	_, _ = fmt.Fprintf(w, "size: %d\n", r.Size)
	_, _ = fmt.Fprintf(w, "signer: %s\n", r.Signer)
	_, _ = fmt.Fprintf(w, "type: %s\n", r.Kind)
	if r.Method != "" {
		_, _ = fmt.Fprintf(w, "method: %s\n", r.Method)
	}
	_, _ = fmt.Fprintf(w, "id: %d\n", r.MessageID)
	if !r.Timestamp.IsZero() {
		_, _ = fmt.Fprintf(w, "timestamp: %s\n", r.Timestamp.UTC().Format(time.RFC3339))
	}
	if r.ErrorCode != nil {
		_, _ = fmt.Fprintf(w, "error: %s\n", *r.ErrorCode)
	}
}
