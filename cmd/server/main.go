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

	"github.com/redis/go-redis/v9"

	"github.com/obsgate/backend/internal/auth"
	"github.com/obsgate/backend/internal/config"
	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/gateway"
	"github.com/obsgate/backend/internal/logging"
	"github.com/obsgate/backend/internal/metrics"
	"github.com/obsgate/backend/internal/mock"
	"github.com/obsgate/backend/internal/observation"
	"github.com/obsgate/backend/internal/publish"
	"github.com/obsgate/backend/internal/sysmon"
	"github.com/obsgate/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Publish synthetic wiki and document events")
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	issue := flag.String("issue-token", "", "Print a signed access token for this user and exit")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	authn := auth.New(cfg.Auth)
	if *issue != "" {
		tok, err := authn.IssueToken(*issue, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	logger, closeLog, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, authn, *mockMode, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, authn *auth.Authenticator, mockMode bool, logger *slog.Logger) error {
	if !authn.Enabled() {
		logger.Warn("no tokens or JWT secret configured: every connection will be refused")
	}

	m := metrics.New()
	bus := observation.NewBus(logging.Component(logger, "bus"))
	resolver := event.NewResolver(event.DefaultCatalog(), nil)
	manager := gateway.NewManager(bus, resolver, logging.Component(logger, "gateway"), m)

	var publisher publish.Publisher = publish.NewLocal(resolver, bus, logging.Component(logger, "publish"), m)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		bridge := publish.NewBridge(rdb, cfg.Redis.Channel, publisher, logging.Component(logger, "bridge"))
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("redis bridge stopped", "error", err)
			}
		}()
		publisher = bridge
		logger.Info("redis fan-out enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel, "origin", bridge.Origin())
	}

	srv := ws.NewServer(cfg, ws.Deps{
		Auth:      authn,
		Manager:   manager,
		Catalog:   resolver.Catalog(),
		Publisher: publisher,
		Bus:       bus,
		Metrics:   m,
		Logger:    logging.Component(logger, "ws"),
	})

	if cfg.Sysmon.Enabled {
		reader, err := sysmon.NewProcessReader()
		if err != nil {
			logger.Warn("system monitor disabled", "error", err)
		} else {
			counts := func() sysmon.Counts {
				return sysmon.Counts{Connections: srv.Hub().ClientCount(), Listeners: bus.ListenerCount()}
			}
			mon := sysmon.New(reader, publisher, cfg.Sysmon.Interval, counts, logging.Component(logger, "sysmon"))
			go mon.Start(ctx)
		}
	}

	if mockMode {
		logger.Info("starting in mock mode")
		go mock.NewGenerator(publisher, 2*time.Second, logging.Component(logger, "mock")).Start(ctx)
	}

	if err := publisher.Publish(ctx, publish.Envelope{Type: event.KindApplicationReady}); err != nil {
		logger.Warn("announce ready", "error", err)
	}
	return srv.ListenAndServe(ctx)
}
