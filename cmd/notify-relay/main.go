package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/notify-relay/internal/auth"
	"github.com/alexjbarnes/notify-relay/internal/config"
	"github.com/alexjbarnes/notify-relay/internal/events"
	"github.com/alexjbarnes/notify-relay/internal/iconcache"
	"github.com/alexjbarnes/notify-relay/internal/logging"
	"github.com/alexjbarnes/notify-relay/internal/mcpserver"
	"github.com/alexjbarnes/notify-relay/internal/metrics"
	"github.com/alexjbarnes/notify-relay/internal/notify"
	"github.com/alexjbarnes/notify-relay/internal/protocol"
	"github.com/alexjbarnes/notify-relay/internal/relay"
	"github.com/alexjbarnes/notify-relay/internal/server"
	"github.com/alexjbarnes/notify-relay/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Subcommands are handled before the daemon loads its listeners.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-token":
			if err := hashToken(os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		case "categories":
			if err := listCategories(os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("notify-relay starting",
		slog.String("version", Version),
		slog.String("service", cfg.ServiceName),
		slog.String("service_uuid", cfg.ServiceID().String()),
		slog.String("data_dir", cfg.DataDir),
	)

	appState, err := state.LoadAt(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	m := metrics.New()

	icons, err := iconcache.New(cfg.IconDir(), logger.With(slog.String("component", "icons")))
	if err != nil {
		return fmt.Errorf("opening icon cache: %w", err)
	}
	icons.SetRecorder(m)

	hub := events.NewHub(logger.With(slog.String("component", "events")), m)
	tray := notify.NewTray(logger.With(slog.String("component", "tray")), hub, cfg.MaxActiveNotifications, cfg.ThumbnailSize)

	engine := relay.NewEngine(logger, appState, icons, hub, tray, m, relay.Options{
		Limits:       protocol.Limits{MaxFieldBytes: cfg.MaxFieldBytes},
		ReadSyncWait: cfg.ReadSyncWait,
		ReadSyncPoll: cfg.ReadSyncPoll,
		EchoReadAcks: cfg.EchoReadAcks,
	})
	defer engine.Close()

	hub.SetActions(engine)

	endpoints, err := openEndpoints(cfg)
	if err != nil {
		return err
	}

	acceptor := relay.NewAcceptor(engine, logger, hub, m, endpoints...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return acceptor.Run(gctx)
	})

	g.Go(func() error {
		return icons.Watch(gctx)
	})

	if cfg.HTTPListenAddr != "" {
		g.Go(func() error {
			return runHTTP(gctx, cfg, logger, hub, engine, appState, m)
		})
	}

	return g.Wait()
}

// openEndpoints binds the configured peer listeners. A listener that
// fails to bind closes the ones already open.
func openEndpoints(cfg *config.Config) ([]relay.Endpoint, error) {
	var endpoints []relay.Endpoint

	closeAll := func() {
		for _, ep := range endpoints {
			ep.Listener.Close()
		}
	}

	if cfg.InsecureListenAddr != "" {
		ep, err := relay.Listen(relay.EndpointInsecure, cfg.InsecureListenAddr, nil)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}

	if cfg.SecureListenAddr != "" {
		tlsCfg, err := relay.TLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSClientCAFile)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("configuring TLS: %w", err)
		}

		ep, err := relay.Listen(relay.EndpointSecure, cfg.SecureListenAddr, tlsCfg)
		if err != nil {
			closeAll()
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}

	return endpoints, nil
}

// runHTTP serves the UI event stream, MCP tools, metrics and health.
func runHTTP(ctx context.Context, cfg *config.Config, logger *slog.Logger, hub *events.Hub, engine *relay.Engine, appState *state.State, m *metrics.Metrics) error {
	httpLogger := logger.With(slog.String("service", "http"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "notify-relay", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, appState, engine)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	verifier := auth.NewVerifier(cfg.HTTPTokenHashes)
	if !verifier.Enabled() {
		httpLogger.Warn("HTTP_TOKEN_HASHES not set, HTTP surface is unauthenticated")
	}

	mux := server.NewMux(server.MuxConfig{
		Events:     hub,
		MCPHandler: mcpHandler,
		Metrics:    m.Handler(),
		Status:     engine,
		UIClients:  hub.Subscribers,
		Verifier:   verifier,
		Logger:     httpLogger,
	})

	srv := server.New(cfg.HTTPListenAddr, mux)

	httpLogger.Info("starting HTTP server",
		slog.String("listen", cfg.HTTPListenAddr),
		slog.Bool("auth", verifier.Enabled()),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		httpLogger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			httpLogger.Warn("HTTP shutdown", slog.String("error", err.Error()))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}
