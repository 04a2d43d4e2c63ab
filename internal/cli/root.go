// Package cli implements the command-line interface for wvb.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kilupskalvis/wvb/internal/auth"
	"github.com/kilupskalvis/wvb/internal/batch"
	"github.com/kilupskalvis/wvb/internal/config"
	"github.com/kilupskalvis/wvb/internal/deadletter"
	"github.com/kilupskalvis/wvb/internal/telemetry"
	"github.com/kilupskalvis/wvb/internal/weaviate"
)

// Version is set at build time.
var Version = "dev"

var (
	logLevel     string
	logFormat    string
	otlpEndpoint string
	metricsAddr  string
)

// transport is a Transport that owns a connection.
type transport interface {
	weaviate.Transport
	Close() error
}

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config      *config.Config
	Logger      *zap.Logger
	Tracing     *telemetry.TracerProvider
	Metrics     *batch.Metrics
	Transport   transport
	DeadLetters deadletter.Store

	metricsServer *telemetry.MetricsServer
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.DeadLetters != nil {
		c.DeadLetters.Close()
	}
	if c.Transport != nil {
		c.Transport.Close()
	}
	if c.metricsServer != nil {
		c.metricsServer.Shutdown(ctx)
	}
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			c.Logger.Warn("failed to flush spans", zap.Error(err))
		}
	}
	c.Logger.Sync()
}

// initContext loads config and sets up logging and tracing.
func initContext(ctx context.Context) *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	logger, err := telemetry.NewLogger(level, format)
	if err != nil {
		exitError("%v", err)
	}

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName:    "wvb",
		ServiceVersion: Version,
		OTLPEndpoint:   otlpEndpoint,
		Insecure:       true,
	})
	if err != nil {
		exitError("failed to set up tracing: %v", err)
	}

	return &cmdContext{Config: cfg, Logger: logger, Tracing: tp}
}

// initFullContext additionally connects the transport, metrics and dead-letter store.
func initFullContext(ctx context.Context) *cmdContext {
	c := initContext(ctx)

	t, err := newTransport(c.Config)
	if err != nil {
		c.Close()
		exitError("failed to create transport: %v", err)
	}
	c.Transport = t

	if metricsAddr != "" {
		reg := telemetry.NewRegistry()
		m, err := batch.NewMetrics(reg)
		if err != nil {
			c.Close()
			exitError("failed to register metrics: %v", err)
		}
		c.Metrics = m
		c.metricsServer, err = telemetry.StartMetricsServer(metricsAddr, reg, c.Logger)
		if err != nil {
			c.Close()
			exitError("failed to serve metrics: %v", err)
		}
	}

	if c.Config.DeadLetter.Enabled {
		st, err := deadletter.Open(c.Config.DeadLetter.Backend, c.Config.DeadLetterPath())
		if err != nil {
			c.Close()
			exitError("failed to open dead-letter store: %v", err)
		}
		c.DeadLetters = st
	}

	return c
}

// openDeadLetters returns the dead-letter store, opening it when the
// context did not.
func openDeadLetters(c *cmdContext) deadletter.Store {
	if c.DeadLetters != nil {
		return c.DeadLetters
	}
	st, err := deadletter.Open(c.Config.DeadLetter.Backend, c.Config.DeadLetterPath())
	if err != nil {
		c.Close()
		exitError("failed to open dead-letter store: %v", err)
	}
	c.DeadLetters = st
	return st
}

// newTransport builds the configured REST or gRPC transport.
func newTransport(cfg *config.Config) (transport, error) {
	w := cfg.Weaviate
	if w.Transport == config.TransportGRPC {
		return weaviate.NewGRPCClient(weaviate.GRPCConfig{
			Target:  w.GRPCHost,
			Secured: w.GRPCSecured,
		})
	}
	return weaviate.NewClient(weaviate.ClientConfig{
		URL:              w.URL,
		ConsistencyLevel: w.ConsistencyLevel,
		Timeout:          w.Timeout.Duration,
	})
}

// tokenProvider returns the configured credential source, or nil for anonymous access.
func tokenProvider(ctx context.Context, cfg *config.Config) auth.TokenProvider {
	w := cfg.Weaviate
	switch {
	case w.APIKey != "":
		return auth.StaticToken(w.APIKey)
	case w.OIDC.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     w.OIDC.ClientID,
			ClientSecret: w.OIDC.ClientSecret,
			TokenURL:     w.OIDC.TokenURL,
			Scopes:       w.OIDC.Scopes,
		}
		source := auth.FromTokenSource(cc.TokenSource(ctx))
		return auth.NewCachedProvider(source.Token, 30*time.Second, 5*time.Minute)
	default:
		return nil
	}
}

// batchOptions translates the config into batcher options.
func (c *cmdContext) batchOptions(ctx context.Context, auto bool) []batch.Option {
	opts := []batch.Option{
		batch.WithRetries(c.Config.Retries()),
		batch.WithLogger(c.Logger),
		batch.WithMetrics(c.Metrics),
		batch.WithTracerProvider(c.Tracing.Provider()),
		batch.WithMaxBuffered(c.Config.Batch.MaxBuffered),
		batch.WithAsyncWorkers(c.Config.Batch.AsyncWorkers),
	}
	if tp := tokenProvider(ctx, c.Config); tp != nil {
		opts = append(opts, batch.WithTokenProvider(tp))
	}
	if auto {
		opts = append(opts, batch.WithAutoBatch(c.Config.AutoBatchSettings()))
	}
	return opts
}

var rootCmd = &cobra.Command{
	Use:   "wvb",
	Short: "Weaviate batch ingestion",
	Long: `wvb loads objects and cross-references into Weaviate in batches.
Failed items are retried with backoff; items that still fail are kept in a
dead-letter journal so they can be inspected and replayed.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", os.Getenv("WVB_OTLP_ENDPOINT"), "OTLP/gRPC endpoint for traces (host:port)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(deadLetterCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wvb version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// truncate shortens s to n runes for tabular output
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
