package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/askthestars/askthestars/app/controllers"
	"github.com/askthestars/askthestars/internal/pkg/billing"
	"github.com/askthestars/askthestars/internal/pkg/cache"
	"github.com/askthestars/askthestars/internal/pkg/config"
	"github.com/askthestars/askthestars/internal/pkg/database"
	"github.com/askthestars/askthestars/internal/pkg/env"
	"github.com/askthestars/askthestars/internal/pkg/eventarchive"
	"github.com/askthestars/askthestars/internal/pkg/ratelimit"
	"github.com/askthestars/askthestars/internal/pkg/router"
)

func main() {
	if !env.SetupEnvFile() {
		log.Println("No .env file found, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := NewApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer cleanup()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	if err := app.Listen(cfg.Addr()); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

// NewApplication builds every client from cfg and injects them into the
// HTTP layer. The returned cleanup closes what was opened.
func NewApplication(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, closeStore)

	gateway, err := billing.NewStripeGateway(cfg.Stripe.SecretKey)
	if err != nil {
		return nil, cleanup, err
	}

	var (
		cacheClient *redis.Client
		lock        billing.EventLock = billing.NewMemoryEventLock()
	)
	if cfg.CacheEnabled() {
		cacheClient, err = cache.SetupCache(cfg.CacheHost, cfg.CachePort, cfg.CachePassword)
		if err != nil {
			log.Printf("Warning: %v; using in-process event lock and rate limiter", err)
		} else {
			closers = append(closers, func() { _ = cacheClient.Close() })
			lock = billing.NewRedisEventLock(cacheClient, cfg.EventLockTTL)
		}
	}

	bc := &controllers.BillingController{
		Verifier:      billing.NewVerifier(cfg.Stripe.WebhookTolerance),
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Engine:        billing.NewEngine(store, gateway).WithConfirmTimeout(cfg.CheckoutTimeout),
		Orchestrator: billing.NewOrchestrator(gateway, store, billing.OrchestratorConfig{
			Catalog:       billing.DefaultCatalog(cfg.Stripe.WeeklyPriceID, cfg.Stripe.AnnualPriceID),
			Timeout:       cfg.CheckoutTimeout,
			AutomaticTax:  cfg.Stripe.AutomaticTax,
			DefaultOrigin: cfg.PublicDomain,
		}),
		Poller:         billing.NewPoller(store, cfg.PollInterval, cfg.PollTimeout),
		Store:          store,
		Lock:           lock,
		WebhookTimeout: cfg.WebhookTimeout,
	}

	if cfg.ArchiveEnabled {
		archiveCfg, err := eventarchive.LoadConfig()
		if err != nil {
			return nil, cleanup, err
		}
		archive, err := eventarchive.NewClient(ctx, archiveCfg)
		if err != nil {
			return nil, cleanup, err
		}
		bc.Archive = archive
	}

	app := fiber.New(fiber.Config{
		AppName:      "askthestars",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.PollTimeout + 10*time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// SWAGGER / OPENAPI
	if docs := findOpenAPIFile(); docs != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: docs,
			Path:     "v1",
		}))
	} else {
		log.Println("Warning: openapi.yml not found, API docs disabled")
	}

	// ROUTER
	router.InstallRouter(app, bc, ratelimit.New(cacheClient))

	return app, cleanup, nil
}

func newStore(ctx context.Context, cfg *config.Config) (billing.Store, func(), error) {
	switch cfg.EntitlementStore {
	case config.StoreFirestore:
		client, err := newFirestoreClient(ctx, cfg.Firestore)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise firestore client: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Printf("firestore: close error: %v", err)
			}
		}
		return billing.NewFirestoreStore(client, cfg.Firestore.Collection), closeFn, nil

	case config.StoreMemory:
		log.Println("Warning: entitlements are kept in memory and lost on restart")
		return billing.NewMemoryStore(), func() {}, nil

	default:
		db, err := database.SetupDatabase()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return billing.NewGormStore(db), closeFn, nil
	}
}

func newFirestoreClient(ctx context.Context, cfg config.FirestoreConfig) (*firestore.Client, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id not configured")
	}

	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		if err := os.Setenv("FIRESTORE_EMULATOR_HOST", host); err != nil {
			return nil, fmt.Errorf("failed to set FIRESTORE_EMULATOR_HOST: %w", err)
		}
	}

	var opts []option.ClientOption
	if credentials := strings.TrimSpace(cfg.CredentialsFile); credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}

	return firestore.NewClient(ctx, projectID, opts...)
}

func findOpenAPIFile() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/askthestars to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		file := path + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(file); err == nil {
			return file
		}
	}
	return ""
}
