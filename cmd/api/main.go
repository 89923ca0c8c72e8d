package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/httpapi"
	memidempotency "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/idempotency"
	memimagerepo "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/imagerepo"
	meminvalidation "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/memory/invalidation"
	minioobjectstore "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/minio/objectstore"
	postgres "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/postgres"
	pgidempotency "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/postgres/idempotency"
	pgimagerepo "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/postgres/imagerepo"
	redisinvalidation "github.com/Harborline-Auto/vehicle-gallery-api/internal/adapters/redis/invalidation"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/imagecache"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/app/images"
	platformclock "github.com/Harborline-Auto/vehicle-gallery-api/internal/platform/clock"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/platform/config"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/platform/logging"
	idempotencyport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/idempotency"
	imagerepoport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/imagerepo"
	invalidationport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/invalidation"
	objectstoreport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/objectstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	serveCmd.Flags().String("port", "8080", "HTTP listen port (env PORT)")
	serveCmd.Flags().String("storage-backend", "memory", "Image metadata store: memory|postgres (env STORAGE_BACKEND)")
	serveCmd.Flags().String("log-level", "info", "Log level (env LOG_LEVEL)")
	_ = v.BindPFlag(config.KeyPort, serveCmd.Flags().Lookup("port"))
	_ = v.BindPFlag(config.KeyStorageBackend, serveCmd.Flags().Lookup("storage-backend"))
	_ = v.BindPFlag(config.KeyLogLevel, serveCmd.Flags().Lookup("log-level"))

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), v)
		},
	}

	root := &cobra.Command{
		Use:          "api",
		Short:        "Vehicle image gallery API",
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	root.Flags().AddFlagSet(serveCmd.Flags())
	root.AddCommand(serveCmd, migrateCmd)
	return root
}

func runMigrate(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("missing required env var: DATABASE_URL")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
	if err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("Migrations applied.")
	return nil
}

func runServe(parent context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := platformclock.NewSystemClock()

	var (
		repo   imagerepoport.Repository
		idem   idempotencyport.Store
		pgIdem *pgidempotency.Store
	)
	switch cfg.StorageBackend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return fmt.Errorf("invalid postgres config: %w", err)
		}
		defer pool.Close()
		repo = pgimagerepo.NewRepo(pool)
		if cfg.HTTP.IdempotencyRetention > 0 {
			pgIdem = pgidempotency.NewStore(pool, clk, cfg.HTTP.IdempotencyRetention)
			idem = pgIdem
		}
	default:
		repo = memimagerepo.NewRepo()
		if cfg.HTTP.IdempotencyRetention > 0 {
			idem = memidempotency.NewStore(clk, cfg.HTTP.IdempotencyRetention)
		}
	}

	var bus invalidationport.Bus
	switch cfg.Invalidation.Backend {
	case "redis":
		rb, err := redisinvalidation.NewBus(ctx, cfg.Invalidation.RedisURL, cfg.Invalidation.Channel)
		if err != nil {
			return fmt.Errorf("invalid redis config: %w", err)
		}
		bus = rb
	default:
		bus = meminvalidation.NewBus()
	}
	defer func() { _ = bus.Close() }()

	var objects objectstoreport.Remover
	if cfg.ObjectStore.Backend == "minio" {
		r, err := minioobjectstore.NewRemover(minioobjectstore.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("invalid minio config: %w", err)
		}
		objects = r
	}

	cache := imagecache.New(repo, clk, imagecache.Config{
		MaxEntries:        cfg.Cache.MaxEntries,
		DefaultRevalidate: cfg.Cache.Revalidate,
		DefaultPageSize:   cfg.Cache.DefaultPageSize,
		PublicBaseURL:     cfg.PublicBaseURL,
	})
	svc := images.NewService(repo, cache, clk, images.Options{Objects: objects, Bus: bus})

	var wg sync.WaitGroup
	if cfg.Cache.SweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.RunSweeper(ctx, cfg.Cache.SweepInterval)
		}()
	}
	if pgIdem != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneIdempotencyKeys(ctx, pgIdem, time.Hour)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bus.Subscribe(ctx, svc.ApplyInvalidation); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Invalidation subscription ended.")
		}
	}()

	api := httpapi.NewServer(svc, httpapi.CachePolicy{
		MaxAge:               cfg.HTTP.CacheMaxAge,
		StaleWhileRevalidate: cfg.HTTP.StaleWhileRevalidate,
	})
	handler := httpapi.NewRouter(api, httpapi.RouterOptions{
		AdminToken:     cfg.HTTP.AdminToken,
		RateLimit:      rate.Limit(cfg.HTTP.RateLimitRPS),
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		Idempotency:    idem,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"port":         cfg.Port,
			"storage":      cfg.StorageBackend,
			"invalidation": cfg.Invalidation.Backend,
			"objectStore":  cfg.ObjectStore.Backend,
		}).Info("API listening.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return nil
}

func pruneIdempotencyKeys(ctx context.Context, store *pgidempotency.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx)
			if err != nil {
				log.WithError(err).Warn("Idempotency prune failed.")
				continue
			}
			log.WithField("removed", n).Debug("Pruned idempotency keys.")
		}
	}
}
