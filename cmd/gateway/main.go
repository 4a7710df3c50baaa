// Command gateway runs the mew protocol gateway: it loads a space
// scaffolding file, opens a WebSocket listener for participant
// connections, and routes envelopes through the capability matcher until
// told to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mindburn-labs/mew-gateway/pkg/audit"
	"github.com/mindburn-labs/mew-gateway/pkg/backpressure"
	cfgpkg "github.com/mindburn-labs/mew-gateway/pkg/config"
	"github.com/mindburn-labs/mew-gateway/pkg/gateway"
	"github.com/mindburn-labs/mew-gateway/pkg/identity"
	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
	"github.com/mindburn-labs/mew-gateway/pkg/observability"
	"github.com/mindburn-labs/mew-gateway/pkg/registry"
	"github.com/mindburn-labs/mew-gateway/pkg/transport"
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run dispatches to a subcommand, returning the process exit code. It is
// factored out of main so tests can exercise argument parsing without
// calling os.Exit.
func Run(args []string, stdout, stderr *os.File) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: gateway <serve|health> [flags]")
		return 2
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:], stderr)
	case "health":
		return runHealth(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", args[0])
		return 2
	}
}

func runServe(args []string, stderr *os.File) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	spacePath := fs.String("space-file", "", "path to the space scaffolding YAML file")
	auditPath := fs.String("audit-log", "", "path to the audit JSONL log (defaults under logs dir)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *spacePath == "" {
		fmt.Fprintln(stderr, "serve: --space-file is required")
		return 2
	}

	envCfg := cfgpkg.Load()

	logLevel := slog.LevelInfo
	_ = logLevel.UnmarshalText([]byte(envCfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: logLevel}))

	sf, err := cfgpkg.LoadSpaceFile(*spacePath)
	if err != nil {
		logger.Error("load space file", "error", err)
		return 1
	}

	reg := registry.NewInMemoryRegistry()
	if err := sf.Apply(reg); err != nil {
		logger.Error("apply space file", "error", err)
		return 1
	}

	m, err := matcher.New()
	if err != nil {
		logger.Error("build matcher", "error", err)
		return 1
	}

	if *auditPath == "" {
		if err := os.MkdirAll(envCfg.LogsDir, 0o755); err != nil {
			logger.Error("create logs dir", "error", err)
			return 1
		}
		*auditPath = envCfg.LogsDir + "/audit.jsonl"
	}
	auditFile, err := os.OpenFile(*auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Error("open audit log", "error", err)
		return 1
	}
	defer auditFile.Close()
	auditLogger := audit.NewWriterLogger(auditFile, auditFile)

	gcfg := gateway.DefaultConfig()
	gcfg.Space = sf.Space
	gcfg.JoinTimeout = envCfg.JoinTimeout
	gcfg.RequestTimeout = envCfg.RequestTimeout
	gcfg.StreamIdleTimeout = envCfg.StreamIdleTimeout
	gcfg.DedupWindow = envCfg.DedupWindow
	gcfg.OutboundQueueDepth = envCfg.BackpressureQueueDepth
	gcfg.RateLimit.RPM = envCfg.RateLimitRPM
	gcfg.RateLimit.Burst = envCfg.RateLimitBurst

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceName = "mew-gateway"
	obsCfg.Environment = sf.Space
	obsProvider, err := observability.New(context.Background(), obsCfg)
	if err != nil {
		logger.Error("init observability", "error", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsProvider.Shutdown(ctx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}()

	keySet, err := identity.NewInMemoryKeySet()
	if err != nil {
		logger.Error("init identity key set", "error", err)
		return 1
	}
	tokens := identity.NewTokenManager(keySet, sf.Space)

	opts := []gateway.Option{
		gateway.WithObservability(obsProvider),
		gateway.WithTokenManager(tokens),
	}
	if envCfg.RedisAddr != "" {
		opts = append(opts, gateway.WithRateLimiter(backpressure.NewRedisLimiterStore(envCfg.RedisAddr, "", 0)))
	}

	gw := gateway.New(gcfg, reg, m, auditLogger, logger, opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ch, err := transport.UpgradeWS(w, r, logger)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), gcfg.JoinTimeout)
		defer cancel()
		if _, err := gw.Join(ctx, ch); err != nil {
			logger.Info("join failed", "error", err)
			ch.Close()
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: envCfg.ListenAddr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	logger.Info("gateway listening", "addr", envCfg.ListenAddr, "space", sf.Space)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited", "error", err)
			return 1
		}
	case <-sig:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			return 1
		}
	}

	return 0
}

func runHealth(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080/healthz", "gateway health endpoint")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	resp, err := http.Get(*addr)
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check returned %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}
