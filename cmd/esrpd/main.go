// ESRP Kernel Server
//
// Standalone HTTP server wiring the reference httpbinding transport to a
// filesystem-backed workspace store and a Redis-backed (or in-memory)
// idempotency cache. This binary is the informative reference deployment
// described by spec §6 — not a requirement of the kernel itself.
//
// Usage:
//
//	go run ./cmd/esrpd                        # Default :8080
//	go run ./cmd/esrpd -addr :9000            # Custom port
//	go build -o esrpd ./cmd/esrpd && ./esrpd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erasmus-project/esrp/eventbus"
	"github.com/erasmus-project/esrp/fingerprint"
	"github.com/erasmus-project/esrp/httpbinding"
	"github.com/erasmus-project/esrp/kernelconfig"
	"github.com/erasmus-project/esrp/observability"
	"github.com/erasmus-project/esrp/workspace"
)

// Logger is the structured logging seam shared by this binary's own code
// and the packages it wires together.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// stdLogger implements Logger using the standard library log package.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, kv ...any) { log.Printf("[DEBUG] %s %v", msg, kv) }
func (l *stdLogger) Info(msg string, kv ...any)  { log.Printf("[INFO] %s %v", msg, kv) }
func (l *stdLogger) Warn(msg string, kv ...any)  { log.Printf("[WARN] %s %v", msg, kv) }
func (l *stdLogger) Error(msg string, kv ...any) { log.Printf("[ERROR] %s %v", msg, kv) }

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides kernelconfig default)")
	workspaceDir := flag.String("workspace-dir", "", "workspace base directory (overrides kernelconfig default)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the idempotency cache (overrides kernelconfig default)")
	flag.Parse()

	logger := &stdLogger{}

	cfg := kernelconfig.DefaultConfig()
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *workspaceDir != "" {
		cfg.WorkspaceBaseDir = *workspaceDir
	}
	if *redisAddr != "" {
		cfg.RedisAddr = *redisAddr
	}
	kernelconfig.Set(cfg)
	logger.Info("esrp_kernel_starting", "http_addr", cfg.HTTPAddr, "workspace_dir", cfg.WorkspaceBaseDir)

	shutdownTracing, err := observability.InitTracer(context.Background(), observability.TracingConfig{
		ServiceName:  "esrpd",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRatio:  cfg.TraceSampleRatio,
	})
	if err != nil {
		logger.Warn("tracing_init_failed", "err", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	provider, err := workspace.NewFilesystemProvider(cfg.WorkspaceBaseDir)
	if err != nil {
		log.Fatalf("failed to initialize workspace provider: %v", err)
	}
	logger.Info("workspace_provider_ready", "base_dir", cfg.WorkspaceBaseDir)

	cache := buildCache(cfg, logger)
	bus := eventbus.New()
	executor := newRefExecutor(provider, bus, logger)

	server := httpbinding.New(executor, cache, executor, bus, logger)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("esrp_kernel_ready", "address", cfg.HTTPAddr)
		fmt.Printf("\nESRP Kernel Server running on %s\n", cfg.HTTPAddr)
		fmt.Println("Press Ctrl+C to stop")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http_shutdown_error", "err", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing_shutdown_error", "err", err)
	}
	logger.Info("esrp_kernel_stopped")
}

// buildCache selects a RedisCache when cfg.RedisAddr is configured,
// falling back to an in-memory cache otherwise.
func buildCache(cfg *kernelconfig.Config, logger Logger) fingerprint.Cache {
	if cfg.RedisAddr == "" {
		logger.Info("idempotency_cache_selected", "backend", "memory")
		return fingerprint.NewMemoryCache(time.Minute)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	cache := fingerprint.NewRedisCache(client, "esrp:idempotency:")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("redis_unreachable_falling_back_to_memory", "addr", cfg.RedisAddr, "err", err)
		return fingerprint.NewMemoryCache(time.Minute)
	}

	logger.Info("idempotency_cache_selected", "backend", "redis", "addr", cfg.RedisAddr)
	return cache
}
