// Package cmdutil holds the bootstrap sequence every stage binary shares:
// load config, open the logger, build the signal-cancelled context, wire
// the broker config, and start the debug HTTP surface — mirroring the
// teacher's cmd/gobfd bootstrap, generalized across nine binaries
// instead of duplicated in each one.
package cmdutil

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/config"
	"nrgchamp/streampipe/internal/debughttp"
	"nrgchamp/streampipe/internal/logging"
	"nrgchamp/streampipe/internal/metrics"
)

// Bootstrap bundles what every stage main() needs before it can build its
// stage-specific Handler and Runtime.
type Bootstrap struct {
	Cfg     config.Config
	Logger  *slog.Logger
	Metrics *metrics.Stage
	Ctx     context.Context
	Cancel  context.CancelFunc

	logFile    *os.File
	httpServer *http.Server
	ready      atomic.Bool
}

// Start loads config, opens logging, builds a context cancelled on
// SIGINT/SIGTERM (the teacher's cmd/gobfd signal.NotifyContext pattern),
// and registers this component's metrics.
func Start(component string) (*Bootstrap, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logFile := logging.Init(component, "./logs", cfg.LoggingLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	reg := prometheus.NewRegistry()
	st := metrics.NewStage(reg, component)

	b := &Bootstrap{
		Cfg:     cfg,
		Logger:  logger,
		Metrics: st,
		Ctx:     ctx,
		Cancel:  cancel,
		logFile: logFile,
	}

	b.serveDebugHTTP(component, reg)
	return b, nil
}

// serveDebugHTTP starts the /health, /health/ready, /metrics surface on
// DEBUG_HTTP_ADDR (":8080" when unset or blank) in the background;
// readiness reports false until the caller invokes MarkReady.
func (b *Bootstrap) serveDebugHTTP(component string, reg *prometheus.Registry) {
	addr := os.Getenv("DEBUG_HTTP_ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8080"
	}
	handler := debughttp.NewRouter(reg, b.isReady)
	b.httpServer = &http.Server{Addr: addr, Handler: handler}

	go func() {
		if err := b.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.Logger.Error("debug_http_server_error", slog.Any("err", err))
		}
	}()
}

// MarkReady flips the readiness probe to true once broker endpoints are
// open and the stage runtime is about to start consuming.
func (b *Bootstrap) MarkReady() { b.ready.Store(true) }

func (b *Bootstrap) isReady() bool { return b.ready.Load() }

// BrokerConfig builds the shared broker.Config from the loaded Config.
func (b *Bootstrap) BrokerConfig() broker.Config {
	return broker.Config{
		Brokers: splitHosts(b.Cfg.BrokerHost),
		Logger:  b.Logger,
	}
}

func splitHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Shutdown tears down the debug HTTP server and closes the log file.
func (b *Bootstrap) Shutdown() {
	if b.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.httpServer.Shutdown(ctx); err != nil {
			b.Logger.Warn("debug_http_shutdown_error", slog.Any("err", err))
		}
	}
	if b.logFile != nil {
		if err := b.logFile.Close(); err != nil {
			b.Logger.Warn("logfile_close_error", slog.Any("err", err))
		}
	}
}
