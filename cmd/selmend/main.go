// Command selmend runs the self-healing selector service: an HTTP API (and
// optional MCP stdio transport) over a SQLite-backed selector repository.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/selmend/selmend/analyzer"
	"github.com/selmend/selmend/config"
	"github.com/selmend/selmend/dbopen"
	"github.com/selmend/selmend/generate"
	"github.com/selmend/selmend/heal"
	"github.com/selmend/selmend/httpapi"
	"github.com/selmend/selmend/score"
	"github.com/selmend/selmend/store"
)

const version = "0.3.0"

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
		dbPath     = flag.String("db", "", "SQLite database path (overrides config)")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		mcpStdio   = flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	)
	flag.Parse()

	logger := newLogger(*logLevel, *mcpStdio)
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.Storage.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		logger.Error("open database", "path", cfg.Storage.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	st := store.New(db)

	var scorer heal.Scorer = score.New()
	if cfg.Engine.Calibration {
		scorer = score.NewCalibrating(score.New())
	}

	gen := generate.New(generate.Options{
		DataAttributes:        *cfg.Engine.DataAttributes,
		MaxLength:             cfg.Engine.MaxSelectorLength,
		AvoidIndexedSelectors: *cfg.Engine.AvoidIndexedSelectors,
	})

	var browser *analyzer.Browser
	if cfg.Browser.Enabled {
		browser = analyzer.NewBrowser(analyzer.BrowserConfig{
			RemoteURL:       cfg.Browser.Remote,
			NavigateTimeout: cfg.Browser.NavigateTimeout,
			Logger:          logger,
		})
		defer browser.Close()
	}

	opts := heal.Options{
		MinConfidence: cfg.Engine.MinConfidence,
		MaxAttempts:   cfg.Engine.MaxAttempts,
	}
	svc := httpapi.NewService(st, scorer, gen, opts, browser, logger)

	if cfg.Retention.EventsDays > 0 {
		go retentionLoop(ctx, db, cfg.Retention, logger)
	}

	if *mcpStdio {
		runMCP(ctx, svc, logger)
		return
	}
	runHTTP(ctx, svc, cfg.Server.Addr, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

// newLogger builds the JSON logger. In MCP stdio mode logs go to stderr so
// they never corrupt the protocol stream.
func newLogger(level string, stderr bool) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	out := os.Stdout
	if stderr {
		out = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
}

func runHTTP(ctx context.Context, svc *httpapi.Service, addr string, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			os.Exit(1)
		}
	}
}

func runMCP(ctx context.Context, svc *httpapi.Service, logger *slog.Logger) {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "selmend",
		Version: version,
	}, nil)
	svc.RegisterMCP(srv)

	logger.Info("mcp server on stdio", "version", version)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp server", "error", err)
		os.Exit(1)
	}
}

// retentionLoop deletes old healing events on the configured interval.
func retentionLoop(ctx context.Context, db *sql.DB, cfg config.RetentionConfig, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	retention := store.RetentionConfig{
		EventsDays:     cfg.EventsDays,
		RunVacuumAfter: cfg.Vacuum,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Cleanup(ctx, db, retention); err != nil {
				logger.Warn("retention cleanup", "error", err)
			}
		}
	}
}
