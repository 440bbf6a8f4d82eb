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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"dukapos/backend/internal/backoffice"
	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/config"
	"dukapos/backend/internal/httpapi"
	"dukapos/backend/internal/logger"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/service"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/store/memory"
	pgstore "dukapos/backend/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pos backend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	logg := logger.New(logger.Options{
		ServiceName: "dukapos-backend",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	ctx := context.Background()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.ShiftRepository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.AutoMigrate {
			if err := pg.Migrate(startCtx); err != nil {
				_ = pg.Close()
				return fmt.Errorf("migrate: %w", err)
			}
			logg.Info(ctx, "migrations applied")
		}
		repo = pg
		logg.Info(ctx, "repository: postgres")
	} else {
		repo = memory.New()
		logg.Warn(ctx, "repository: in-memory, shifts are lost on restart")
	}

	var orders cache.PendingOrderCache = cache.NewMemoryPendingOrders()
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisPendingOrders(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(startCtx); err != nil {
			logg.Error(ctx, "redis unavailable, pending Pesapal orders kept in memory", err)
			_ = redisCache.Close()
		} else {
			orders = redisCache
			closers = append(closers, redisCache.Close)
			logg.Info(ctx, "cache: redis")
		}
	} else {
		logg.Info(ctx, "cache: in-memory")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	posMetrics := metrics.NewPOSMetrics(registry)

	client := backoffice.NewClient(cfg.BackofficeURL,
		backoffice.WithToken(cfg.BackofficeToken),
		backoffice.WithTimeout(cfg.BackofficeTimeout),
		backoffice.WithMetrics(posMetrics),
	)

	svc := service.New(repo, client, orders, service.Options{
		StoreID:            cfg.StoreID,
		TaxRatePercent:     decimal.NewFromFloat(cfg.TaxRatePercent),
		MpesaPollInterval:  cfg.MpesaPollInterval,
		MpesaMaxAttempts:   cfg.MpesaMaxAttempts,
		PesapalCallbackURL: cfg.PesapalCallbackURL,
		PendingOrderTTL:    cfg.PendingOrderTTL,
		Logger:             logg,
		Metrics:            posMetrics,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.ManagerPIN)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:    cfg.AllowedOrigin,
		PesapalReturnURL: cfg.PesapalReturnURL,
		MetricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:           logg,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Sale commits wait on the back-office.
		WriteTimeout: cfg.BackofficeTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", cfg.Address()), "POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			logg.Error(ctx, "server error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 8*time.Second)
	defer shutdownCancel()

	var errs error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("shutdown: %w", err))
	}
	svc.Shutdown()
	for _, closeFn := range closers {
		errs = multierr.Append(errs, closeFn())
	}
	if errs != nil {
		logg.Error(ctx, "server stopped with errors", errs)
		return errs
	}

	logg.Info(ctx, "server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
