package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"google.golang.org/grpc"

	"omniproto.dev/omni/archive/grpcarchive"
	"omniproto.dev/omni/archive/registry"
	"omniproto.dev/omni/observability"
	"omniproto.dev/omni/transport"

	_ "omniproto.dev/omni/archive/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// settings collects repeated --cfg name=value flags.
type settings map[string]string

func (s settings) String() string {
	parts := make([]string, 0, len(s))
	for k, v := range s {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (s settings) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected name=value, got %q", v)
	}
	s[k] = val
	return nil
}

func run(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("omni-archived", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	backend := fs.String("backend", "localfs", "Archive backend name")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	logLevel := fs.String("log-level", "info", "Log level")
	cfg := settings{}
	fs.Var(cfg, "cfg", "Backend setting as name=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listBackends {
		for _, b := range registry.List(registry.UsageNode) {
			if b.Name == "grpc" {
				continue
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	logger, err := observability.InitLogger("omni-archived", observability.LogOptions{Level: *logLevel, Out: errOut})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	a, closeFn, err := registry.Open(*backend, registry.UsageNode, cfg)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	g := grpc.NewServer(grpc.ChainUnaryInterceptor(observability.UnaryLogger(logger)))
	grpcarchive.RegisterArchiveServer(g, &grpcarchive.Server{Archive: a})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("listen", lis.Addr().String()).Str("backend", *backend).Msg("archive server listening")
	if err := transport.Serve(ctx, g, lis); err != nil {
		logger.Error().Err(err).Msg("archive server stopped")
		return 1
	}
	return 0
}
