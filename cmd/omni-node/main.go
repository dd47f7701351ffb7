package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"omniproto.dev/omni/archive"
	"omniproto.dev/omni/archive/grpcarchive"
	"omniproto.dev/omni/archive/registry"
	"omniproto.dev/omni/config"
	"omniproto.dev/omni/keys"
	"omniproto.dev/omni/kvstore"
	"omniproto.dev/omni/observability"
	"omniproto.dev/omni/server"
	"omniproto.dev/omni/store"
	"omniproto.dev/omni/transport"

	_ "omniproto.dev/omni/archive/localfs"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// counter is a flag that counts its occurrences, for -v -v.
type counter int

func (c *counter) String() string   { return strconv.Itoa(int(*c)) }
func (c *counter) Set(string) error { *c++; return nil }
func (c *counter) IsBoolFlag() bool { return true }

type options struct {
	configPath    string
	pem           string
	listen        string
	state         string
	metricsListen string
	listBackends  bool
	verbose       counter
	quiet         counter
}

func run(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("omni-node", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var o options
	fs.StringVar(&o.configPath, "config", "", "TOML config file")
	fs.StringVar(&o.pem, "pem", "", "Node key (PEM); overrides node.pem")
	fs.StringVar(&o.listen, "listen", "", "gRPC listen address; overrides transport.listen")
	fs.StringVar(&o.state, "state", "", "SQLite state file; overrides [store] with the sqlite engine")
	fs.StringVar(&o.metricsListen, "metrics-listen", "", "Prometheus listen address; overrides metrics.listen")
	fs.BoolVar(&o.listBackends, "list-archive-backends", false, "List archive backends and exit")
	fs.Var(&o.verbose, "v", "More logging (repeatable)")
	fs.Var(&o.quiet, "q", "Less logging (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if o.listBackends {
		for _, b := range registry.List(registry.UsageNode) {
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	cfg := config.Default()
	if o.configPath != "" {
		var err error
		cfg, err = config.Load(o.configPath)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	}
	applyFlags(&cfg, o)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	logger, err := observability.InitLogger("omni-node", observability.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    errOut,
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if o.verbose > 0 || o.quiet > 0 {
		logger = logger.Level(observability.VerbosityLevel(int(o.verbose), int(o.quiet)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("node stopped")
		return 1
	}
	return 0
}

func applyFlags(cfg *config.Config, o options) {
	if o.pem != "" {
		cfg.Node.PEM = o.pem
	}
	if o.listen != "" {
		cfg.Transport.Listen = o.listen
	}
	if o.state != "" {
		cfg.Store = config.StoreConfig{Engine: "sqlite", Path: o.state}
	}
	if o.metricsListen != "" {
		cfg.Metrics.Listen = o.metricsListen
	}
}

func loadKey(path string, logger zerolog.Logger) (keys.Signer, error) {
	if path == "" {
		logger.Warn().Msg("no node key configured; using an ephemeral Ed25519 key")
		return keys.GenerateEd25519(rand.Reader)
	}
	return keys.LoadPEM(path)
}

func openEngine(ctx context.Context, cfg config.StoreConfig) (store.Engine, error) {
	if cfg.Engine == "sqlite" {
		return store.OpenSQLite(ctx, cfg.Path)
	}
	return store.NewMemoryEngine(), nil
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	signer, err := loadKey(cfg.Node.PEM, logger)
	if err != nil {
		return fmt.Errorf("node key: %w", err)
	}
	signer = keys.Locked(signer)
	id, err := keys.AddressableIdentity(signer)
	if err != nil {
		return err
	}
	logger = logger.With().Str("node", cfg.Node.Name).Logger()

	engine, err := openEngine(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	st, err := store.Open(ctx, engine, store.WithLogger(logger))
	if err != nil {
		_ = engine.Close()
		return err
	}
	defer func() { _ = st.Close() }()

	metrics := cfg.Metrics.Listen != ""
	kvOpts := []kvstore.Option{}
	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithVersion(version),
	}
	if metrics {
		kvOpts = append(kvOpts, kvstore.WithCommitMetrics(cfg.Node.Name))
		srvOpts = append(srvOpts, server.WithMetrics())
	}
	srvOpts = append(srvOpts, server.WithModule(kvstore.New(st, kvOpts...)))
	if cfg.Node.AcceptAnyRecipient {
		srvOpts = append(srvOpts, server.AcceptAnyRecipient())
	}

	var arch archive.Archive
	if len(cfg.Archive.Backends) > 0 {
		a, closeArchive, err := cfg.Archive.Open(registry.UsageNode)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer func() { _ = closeArchive() }()
		arch = a
		srvOpts = append(srvOpts, server.WithArchive(a))
	}

	srv, err := server.New(cfg.Node.Name, signer, id, srvOpts...)
	if err != nil {
		return err
	}

	ts := &transport.Server{
		Handler:         srv,
		MaxMessageBytes: cfg.Transport.MaxMessageBytes,
		Log:             logger,
	}
	if metrics {
		ts.Node = cfg.Node.Name
	}
	if cfg.Transport.RateLimit > 0 {
		ts.Limiter = rate.NewLimiter(rate.Limit(cfg.Transport.RateLimit), cfg.Transport.Burst)
	}
	g := transport.NewGRPCServer(ts)
	if arch != nil {
		grpcarchive.RegisterArchiveServer(g, &grpcarchive.Server{Archive: arch})
	}

	lis, err := net.Listen("tcp", cfg.Transport.Listen)
	if err != nil {
		return err
	}

	if metrics {
		ms := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Transport.ShutdownTimeout)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
	}

	logger.Info().
		Stringer("identity", id).
		Str("listen", lis.Addr().String()).
		Str("store", cfg.Store.Engine).
		Bool("archive", arch != nil).
		Msg("omni node listening")
	return transport.Serve(ctx, g, lis)
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	return mux
}
