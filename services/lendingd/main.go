package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	genesis "lendhub/config"
	"lendhub/core/events"
	"lendhub/core/state"
	nativecommon "lendhub/native/common"
	"lendhub/native/lending"
	"lendhub/observability/logging"
	telemetry "lendhub/observability/otel"
	"lendhub/rpc"
	"lendhub/services/lendingd/config"
	"lendhub/storage"
)

const lendingModule = "lending"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("LENDHUB_ENV"))
	logger := logging.Setup(logging.Options{
		Service:    "lendingd",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	logger.Debug("log redaction", slog.Any("allowlist", logging.RedactionAllowlist()))

	exportTelemetry := cfg.Telemetry.Endpoint != ""
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     exportTelemetry,
		Traces:      exportTelemetry,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open state: %v", err)
	}
	defer closeStore()

	prices := lending.NewStaticPriceFeed()
	policy := lending.NewRolePolicy()
	pauses := nativecommon.NewPauseSwitch()
	pauses.Set(lendingModule, cfg.Paused)
	feed := events.NewRecorder(cfg.EventFeed)

	engine := lending.NewEngine(store, prices)
	engine.SetPolicy(policy)
	engine.SetPauses(pauses)
	engine.SetEmitter(events.Fanout{feed, events.EmitterFunc(func(evt events.Event) {
		logger.Debug("lending event", slog.String("type", evt.EventType()))
	})})
	engine.SetLogger(logger)

	market, err := genesis.LoadMarket(cfg.MarketFile)
	if err != nil {
		log.Fatalf("load market: %v", err)
	}
	if err := genesis.ApplyMarket(market, engine, policy, prices); err != nil {
		log.Fatalf("apply market: %v", err)
	}
	logger.Info("market applied",
		slog.String("market", cfg.MarketFile),
		slog.Int("loan_types", len(market.LoanTypes)),
		slog.Bool("paused", cfg.Paused))

	server := rpc.NewServer(engine, prices, rpc.Config{
		Auth: rpc.AuthConfig{
			Disabled:   cfg.Auth.Disabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, logger)
	server.SetEventFeed(feed)

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() || cfg.Auth.Disabled {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext or unauthenticated lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.TLS.Enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", slog.String("listen", cfg.ListenAddress), slog.Bool("tls", cfg.TLS.Enabled()))
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.String("error", err.Error()))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve rpc: %v", err)
		}
	}
}

// openStore returns the backing state for the engine: LevelDB under the data
// directory, or a process local arena when none is configured.
func openStore(cfg config.Config) (lending.Store, func(), error) {
	if cfg.InMemory() {
		return lending.NewMemState(), func() {}, nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "lending"))
	if err != nil {
		return nil, nil, fmt.Errorf("open leveldb: %w", err)
	}
	return state.NewLendingStore(db), db.Close, nil
}
