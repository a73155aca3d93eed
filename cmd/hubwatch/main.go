// Command hubwatch holds a persistent connection to the platform, logs its
// events, optionally records them to PostgreSQL, and can send a single
// request once connected.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/hubconn/internal/api"
	"github.com/rickgao/hubconn/internal/config"
	"github.com/rickgao/hubconn/internal/connection"
	"github.com/rickgao/hubconn/internal/database"
	"github.com/rickgao/hubconn/internal/model"
	"github.com/rickgao/hubconn/internal/recorder"
	"github.com/rickgao/hubconn/internal/request"
	"github.com/rickgao/hubconn/internal/version"
)

var errConnectionLost = errors.New("connection closed without reconnecting")

// oneShot is a request sent once the connection is up.
type oneShot struct {
	messageType string
	destination string
	attributes  model.Attributes
}

func main() {
	configPath := flag.String("config", "configs/hubwatch.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	reqType := flag.String("request", "", "message type to send once connected, e.g. rule:ListRules")
	reqDest := flag.String("destination", "", "destination address for -request")
	reqAttrs := flag.String("attributes", "{}", "JSON attributes for -request")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting hubwatch",
		"version", version.Version,
		"commit", version.Commit,
		"environment", cfg.Instance.Environment,
		"ws_url", cfg.Platform.WSURL,
	)

	var shot *oneShot
	if *reqType != "" {
		var attrs model.Attributes
		if err := json.Unmarshal([]byte(*reqAttrs), &attrs); err != nil {
			logger.Error("invalid -attributes", "error", err)
			os.Exit(2)
		}
		shot = &oneShot{messageType: *reqType, destination: *reqDest, attributes: attrs}
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, shot, logger); err != nil {
		logger.Error("hubwatch stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("hubwatch stopped")
}

func run(ctx context.Context, cfg *config.Config, shot *oneShot, logger *slog.Logger) error {
	mgr := connection.NewManager(managerConfig(cfg), logger.With("component", "connection"))

	lost := make(chan struct{}, 1)
	watchEvents(mgr, lost, logger)

	// Recorder
	var (
		pool *pgxpool.Pool
		rec  *recorder.Recorder
	)
	if cfg.Recorder.Enabled {
		db := cfg.Recorder.Database
		logger.Info("connecting to database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		var err error
		pool, err = database.Connect(ctx, db, "hubwatch-"+cfg.Instance.ID)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger)
		if err := rec.EnsureSchema(ctx); err != nil {
			return err
		}
		rec.Attach(mgr.Events())
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			rec.Stop(stopCtx)
		}()
	}

	formatter := newFormatter(cfg, mgr, logger)

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           newHealthHandler(mgr, rec, pool),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		defer mgr.Close()

		if err := mgr.Initialize(gctx, cfg.Platform.WSURL); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("initialize connection: %w", err)
		}

		if shot != nil {
			sendOneShot(gctx, formatter, shot, logger)
		}

		select {
		case <-gctx.Done():
			return nil
		case <-lost:
			return errConnectionLost
		}
	})

	return g.Wait()
}

// managerConfig maps the connection section onto the manager.
func managerConfig(cfg *config.Config) connection.ManagerConfig {
	c := cfg.Connection

	header := map[string]string{"User-Agent": version.UserAgent()}
	if cfg.Platform.SessionToken != "" {
		header["Authorization"] = "Bearer " + cfg.Platform.SessionToken
	}

	return connection.ManagerConfig{
		Client: connection.ClientConfig{
			Header:       header,
			PingInterval: c.PingInterval,
			PingTimeout:  c.PingTimeout,
			WriteTimeout: c.WriteTimeout,
			BufferSize:   c.BufferSize,
		},
		RequestTimeout: c.RequestTimeout,
		BackoffInitial: c.BackoffInitial,
		BackoffMax:     c.BackoffMax,
		MaxListeners:   c.MaxListeners,
		Trace:          !cfg.IsProduction(),
	}
}

// newFormatter wires the HTTP fallback when an endpoint is configured.
func newFormatter(cfg *config.Config, mgr *connection.Manager, logger *slog.Logger) *request.Formatter {
	opts := []request.Option{request.WithLogger(logger)}

	if cfg.Platform.HTTPURL != "" {
		fallback := api.NewClient(
			cfg.Platform.HTTPURL,
			cfg.Platform.SessionToken,
			api.WithLogger(logger.With("component", "fallback")),
			api.WithTimeout(cfg.Platform.HTTPTimeout),
			api.WithRetries(cfg.Platform.MaxRetries, time.Second),
			api.WithUserAgent(version.UserAgent()),
		)
		opts = append(opts, request.WithFallback(fallback, cfg.Platform.FallbackTypes...))
	}

	return request.NewFormatter(mgr, opts...)
}

// watchEvents logs connection events and signals lost when the connection
// ends for good.
func watchEvents(mgr *connection.Manager, lost chan<- struct{}, logger *slog.Logger) {
	mgr.Subscribe(connection.EventConnected, func(ev connection.Event) {
		logger.Info("platform connected", "epoch", ev.Attributes.String("epoch"))
	})

	mgr.Subscribe(connection.EventClosed, func(ev connection.Event) {
		state := mgr.State()
		logger.Warn("platform connection closed", "code", ev.Attributes["code"], "state", state.String())
		if state == connection.Disconnected {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})

	mgr.Subscribe(connection.EventUnauthorized, func(ev connection.Event) {
		logger.Error("platform session is no longer valid", "code", ev.Attributes["code"])
	})

	mgr.Events().SubscribeAll(eventLogger(logger))
}

// eventLogger logs every event at debug level with local attribute names.
func eventLogger(logger *slog.Logger) connection.Handler {
	return request.AliasHandler(func(ev connection.Event) {
		logger.Debug("platform event",
			"event", ev.Key.String(),
			"subject", ev.Subject.ID,
			"attributes", ev.Attributes,
		)
	})
}

func sendOneShot(ctx context.Context, f *request.Formatter, shot *oneShot, logger *slog.Logger) {
	resp, err := f.Send(ctx, shot.messageType, shot.destination, shot.attributes)
	if err != nil {
		logger.Error("request failed", "type", shot.messageType, "error", err)
		return
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		logger.Error("encode response", "error", err)
		return
	}
	fmt.Println(string(out))
}
