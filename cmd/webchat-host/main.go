package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	flag "maunium.net/go/mauflag"

	"github.com/beeper/webchat-bridge/pkg/agentexec"
	"github.com/beeper/webchat-bridge/pkg/hostconfig"
	"github.com/beeper/webchat-bridge/pkg/transcript"
	"github.com/beeper/webchat-bridge/pkg/webchat"
)

// Information to find out exactly which commit the host was built from.
// These are filled at build time with the -X linker flag.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath      = flag.MakeFull("c", "config", "The path to your config file.", "").String()
	generateExample = flag.MakeFull("e", "generate-example", "Print an example config and exit.", "false").Bool()
	wantVersion     = flag.MakeFull("v", "version", "View version and exit.", "false").Bool()
	wantHelp, _     = flag.MakeHelpFlag()
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.SetHelpTitles(
		"webchat-host - serve web chat sessions backed by a local agent CLI.",
		"webchat-host [-hev] [-c <path>]",
	)
	err := flag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *wantVersion {
		fmt.Printf("webchat-host %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *generateExample {
		fmt.Print(hostconfig.ExampleConfig)
		os.Exit(0)
	}

	cfg, err := hostconfig.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(10)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(11)
	}
	zerolog.DefaultContextLogger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = run(ctx, cfg, *log); err != nil {
		log.Fatal().Err(err).Msg("Host stopped with error")
	}
	log.Info().Msg("Host stopped")
}

func run(ctx context.Context, cfg *hostconfig.Config, log zerolog.Logger) error {
	backend, closeBackend, err := openBackend(ctx, cfg.Transcripts)
	if err != nil {
		return err
	}
	defer closeBackend()

	busy := agentexec.NewBusyState()
	defer busy.Close()
	invoker := agentexec.NewInvoker(agentexec.Config{
		Binary:        cfg.Agent.Binary,
		Args:          cfg.Agent.Args,
		WorkDir:       cfg.Agent.WorkDir,
		Env:           cfg.Agent.Env,
		MaxConcurrent: cfg.Agent.MaxConcurrent,
	}, agentexec.ProcessExecutor{}, busy, log)

	g, ctx := errgroup.WithContext(ctx)
	mgr := webchat.NewManager(ctx, webchat.Options{
		Transcripts:       transcript.NewLoader(backend, cfg.Transcripts.StoreFile, log),
		Handler:           invoker,
		Busy:              busy,
		DefaultSessionKey: cfg.SessionKey,
		Log:               log,
	})
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           webchat.NewServer(mgr, cfg.EnqueueTimeout, cfg.AllowedOrigins, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("listen", cfg.Listen).Str("version", Tag).Msg("Starting web chat host")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		mgr.Close()
		mgr.Wait()
		return err
	})
	g.Go(func() error {
		updates, unsubscribe := busy.Subscribe()
		defer unsubscribe()
		for {
			select {
			case isBusy, ok := <-updates:
				if !ok {
					return nil
				}
				log.Debug().Bool("busy", isBusy).Msg("Agent busy state changed")
			case <-ctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

func openBackend(ctx context.Context, cfg hostconfig.TranscriptsConfig) (transcript.StoreBackend, func(), error) {
	switch cfg.Backend {
	case hostconfig.BackendSQLite:
		db, err := transcript.OpenSQLite(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open transcript database: %w", err)
		}
		backend := transcript.NewDBBackend(db)
		if err = backend.EnsureSchema(ctx); err != nil {
			_ = db.RawDB.Close()
			return nil, nil, fmt.Errorf("failed to prepare transcript database: %w", err)
		}
		return backend, func() { _ = db.RawDB.Close() }, nil
	default:
		return &transcript.FileBackend{Root: cfg.Dir}, func() {}, nil
	}
}
