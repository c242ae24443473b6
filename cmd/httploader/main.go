package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"httploader/internal/config"
	"httploader/internal/errs"
	"httploader/internal/loader"
	"httploader/internal/registry"
	"httploader/internal/transport"
)

// line is one printed result
type line struct {
	Key    string `json:"key"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

func main() {
	// Parse flags
	configPath := flag.String("config", "config.json", "path to config file")
	repeat := flag.Int("repeat", 1, "number of times to load the keys")
	invalidate := flag.Bool("invalidate", false, "invalidate every key between repeated loads")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, os.Stderr)
	logger.Info().
		Str("config", *configPath).
		Int("batches", len(cfg.Batches)).
		Int("concurrency", cfg.Concurrency).
		Msg("starting httploader")

	l, closeTransport := build(cfg, logger)
	defer closeTransport()

	if err := registerBatches(l, cfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to register batches")
	}

	keys := flag.Args()
	if len(keys) == 0 {
		keys = l.Registry().Keys()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := false
	for i := 0; i < *repeat; i++ {
		if i > 0 && *invalidate {
			l.InvalidateAll()
		}
		ok, err := run(ctx, l, keys, os.Stdout)
		if err != nil {
			logger.Error().Err(err).Msg("load failed")
			failed = true
			break
		}
		failed = failed || !ok
	}

	s := l.Stats()
	logger.Info().
		Uint64("executions", s.Executions).
		Uint64("executedKeys", s.ExecutedKeys).
		Uint64("hits", s.Hits).
		Uint64("attached", s.Attached).
		Uint64("failures", s.Failures).
		Msg("done")

	if failed {
		closeTransport()
		os.Exit(1)
	}
}

// build wires transports, registry, executor and loader from cfg
func build(cfg *config.Config, logger zerolog.Logger) (*loader.Loader, func()) {
	httpTransport := transport.NewHTTP(transport.HTTPConfig{
		RequestTimeout: cfg.GetRequestTimeoutDuration(),
		MaxBodySize:    cfg.MaxBodySize,
		Logger:         logger,
	})
	wsTransport := transport.NewWebSocket(transport.WebSocketConfig{
		HandshakeTimeout: cfg.GetHandshakeTimeoutDuration(),
		MessageTimeout:   cfg.GetMessageTimeoutDuration(),
		Logger:           logger,
	})
	mux := transport.NewDefaultMux(httpTransport, wsTransport)

	reg := registry.New()
	exec := loader.NewFetchExecutor(reg, mux, logger, loader.WithConcurrency(cfg.Concurrency))
	l := loader.New(reg, exec, logger, loader.WithBatchWindow(cfg.GetBatchWindowDuration()))

	return l, httpTransport.Close
}

// registerBatches registers every configured batch as its own group
func registerBatches(l *loader.Loader, cfg *config.Config) error {
	for _, batch := range cfg.Batches {
		entries, err := batch.RegistryEntries()
		if err != nil {
			return err
		}
		if _, err := l.Register(entries...); err != nil {
			return err
		}
	}
	return nil
}

// run loads keys once and writes one JSON line per key. It reports whether
// every key succeeded.
func run(ctx context.Context, l *loader.Loader, keys []string, out io.Writer) (bool, error) {
	results, err := l.LoadMany(ctx, keys...)
	if err != nil {
		return false, err
	}

	enc := json.NewEncoder(out)
	ok := true
	for _, r := range results {
		ln := line{Key: r.Key, Value: r.Value}
		if r.Err != nil {
			ok = false
			ln.Value = nil
			ln.Error = r.Err.Error()
			ln.Status = statusOf(r.Err)
		}
		if err := enc.Encode(ln); err != nil {
			return false, err
		}
	}
	return ok, nil
}

// statusOf returns the response status carried by a transport failure, if any
func statusOf(err error) int {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// setupLogger configures the zerolog logger
func setupLogger(level string, out io.Writer) zerolog.Logger {
	// Set log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	// Configure output
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).Level(logLevel).With().Timestamp().Logger()
}
