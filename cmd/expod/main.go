package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"expo-booking-backend/config"
	"expo-booking-backend/internal/api"
	"expo-booking-backend/internal/auth"
	"expo-booking-backend/internal/booking"
	"expo-booking-backend/internal/db"
	"expo-booking-backend/internal/dispatch"
	"expo-booking-backend/internal/ledger"
	"expo-booking-backend/internal/logger"
	"expo-booking-backend/internal/mw"
	"expo-booking-backend/internal/notification"
	"expo-booking-backend/internal/store"
)

func main() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config/config.yaml"
	}
	configPath := flag.StringP("config", "c", defaultPath, "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("expod stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("configuration loaded", zap.Int("port", cfg.Server.Port))

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		return errors.New("VAPID keys must be configured; generate them and add them to the config file")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be configured")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("database initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appStore := store.NewGormStore(gormDB)

	hub := dispatch.NewHub(
		dispatch.WithSendBuffer(cfg.Channel.SendBuffer),
		dispatch.WithPingPeriod(cfg.Channel.Heartbeat),
		dispatch.WithHubLogger(log.Named("dispatch")),
	)
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions,
		notification.WithLive(hub),
		notification.WithLogger(log.Named("notification")),
	)
	cache := mw.NewResponseCache(cfg.Server.CacheTTL)

	ledgers := ledger.NewRegistry(booking.LedgerLoader(appStore), cfg.Booking.LockTimeout)
	coord := booking.New(appStore, ledgers, hub,
		booking.WithNotifier(pool),
		booking.WithInvalidate(cache.Flush),
		booking.WithBusyRetry(cfg.Booking.BusyRetries, cfg.Booking.BusyBackoff),
		booking.WithLogger(log.Named("booking")),
	)

	handler := api.NewHandler(appStore, coord, hub, &webpushOptions, log.Named("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		Verifier:  auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Cache:     cache,
		RateLimit: rate.Limit(cfg.Server.RateLimitPerSec),
		RateBurst: cfg.Server.RateLimitBurst,
		Log:       log.Named("http"),
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pool.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, stopping services")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server gracefully stopped")
	return nil
}
