package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Soflution1/mcp-on-demand/internal/app"
	"github.com/Soflution1/mcp-on-demand/internal/infra/config"
	"github.com/Soflution1/mcp-on-demand/internal/infra/transport"
)

type options struct {
	configPath  string
	transport   string
	addr        string
	metricsAddr string
	logLevel    string
	logger      *zap.Logger
}

func main() {
	opts := &options{
		configPath:  defaultConfigPath(),
		transport:   "stdio",
		addr:        "127.0.0.1:8091",
		metricsAddr: "127.0.0.1:9091",
		logLevel:    "info",
		logger:      zap.NewNop(),
	}

	root := &cobra.Command{
		Use:   "mcp-on-demand",
		Short: "Multiplexing MCP proxy: discover/execute or passthrough access to many MCP servers",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger, err := buildLogger(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to the MCP server config JSON file")
	root.PersistentFlags().StringVar(&opts.transport, "transport", opts.transport, "client-facing transport: stdio or sse")
	root.PersistentFlags().StringVar(&opts.addr, "addr", opts.addr, "listen address for the sse transport")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", opts.metricsAddr, "listen address for the Prometheus /metrics endpoint (empty disables it)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "zap log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		opts.logger.Fatal("command failed", zap.Error(err))
	}
}

func run(parent context.Context, opts *options) error {
	ctx, cancel := signalAwareContext(parent)
	defer cancel()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	core, err := app.New(opts.configPath, cfg, opts.logger)
	if err != nil {
		return fmt.Errorf("initialize core: %w", err)
	}

	core.Bootstrap(ctx)
	go core.RunBackground(ctx)
	defer core.Shutdown()

	if opts.metricsAddr != "" {
		go serveMetrics(opts.metricsAddr, opts.logger)
	}

	switch opts.transport {
	case "stdio":
		stdio := transport.NewStdio(os.Stdin, os.Stdout, opts.logger)
		err = stdio.Serve(ctx, core.Router.Dispatch)
	case "sse":
		sse := transport.NewSSE(core.Router.Dispatch, "/sse", "/message", core.Metrics, opts.logger)
		server := &http.Server{Addr: opts.addr, Handler: sse.Handler()}
		go func() {
			<-ctx.Done()
			_ = server.Close()
		}()
		opts.logger.Info("sse transport listening", zap.String("addr", opts.addr))
		err = server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	default:
		return fmt.Errorf("unsupported transport: %s", opts.transport)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics listener stopped", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	}
	var zapLevel zap.AtomicLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zapLevel
	return cfg.Build()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mcp-on-demand.json"
	}
	return home + "/.mcp-on-demand/config.json"
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
