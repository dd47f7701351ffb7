package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"strings"

	"omniproto.dev/omni/kvstore"
	"omniproto.dev/omni/omnierr"
)

// definitions lists every error code this tool knows about.
func definitions() []omnierr.Definition {
	return append(omnierr.Builtins(), kvstore.Errors()...)
}

func lookupDefinition(code omnierr.Code) (omnierr.Definition, bool) {
	for _, d := range definitions() {
		if d.Code == code {
			return d, true
		}
	}
	return omnierr.Definition{}, false
}

func cmdError(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: omni error <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: list, render, decode")
		return 2
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("error list", flag.ContinueOnError)
		fs.SetOutput(errOut)
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		for _, d := range definitions() {
			fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", uint32(d.Code), d.Code.Class(), d.Name, strings.ReplaceAll(d.Template, "\n", `\n`))
		}
		return 0
	case "render":
		return cmdErrorRender(args[1:], out, errOut)
	case "decode":
		fs := flag.NewFlagSet("error decode", flag.ContinueOnError)
		fs.SetOutput(errOut)
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(errOut, "usage: omni error decode <hex>")
			return 2
		}
		b, err := hex.DecodeString(strings.TrimSpace(fs.Arg(0)))
		if err != nil {
			fmt.Fprintf(errOut, "invalid hex: %v\n", err)
			return 2
		}
		e, err := omnierr.Decode(b)
		if err != nil {
			fmt.Fprintf(errOut, "decode: %v\n", err)
			return 1
		}
		printError(out, e)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown error subcommand: %s\n", args[0])
		return 2
	}
}

func cmdErrorRender(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("error render", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var code uint
	var message string
	var asHex bool
	fields := pairsFlag{}
	fs.UintVar(&code, "code", 0, "Error code")
	fs.StringVar(&message, "message", "", "Explicit message template (required for unknown application codes)")
	fs.Var(fields, "field", "Field value as name=value (repeatable)")
	fs.BoolVar(&asHex, "hex", false, "Print the CBOR encoding as hex instead of the rendered text")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	c := omnierr.Code(code)
	if message == "" {
		if d, ok := lookupDefinition(c); ok && c.IsApplication() {
			message = d.Template
		}
	}
	var e *omnierr.Error
	if c.IsApplication() {
		var err error
		e, err = omnierr.Application(c, message, fields)
		if err != nil {
			fmt.Fprintf(errOut, "%v\n", err)
			return 2
		}
	} else {
		e = omnierr.New(c, message, fields)
	}

	if asHex {
		b, err := e.Encode()
		if err != nil {
			fmt.Fprintf(errOut, "encode: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(out, hex.EncodeToString(b))
		return 0
	}
	_, _ = fmt.Fprintln(out, e.Error())
	return 0
}

func printError(w io.Writer, e *omnierr.Error) {
	fmt.Fprintf(w, "code: %s\n", e.Code())
	if m := e.Message(); m != "" {
		fmt.Fprintf(w, "template: %s\n", m)
	}
	for _, name := range e.FieldNames() {
		v, _ := e.Field(name)
		fmt.Fprintf(w, "field %s: %s\n", name, v)
	}
	fmt.Fprintf(w, "message: %s\n", e.Error())
}
