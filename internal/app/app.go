// Package app wires the pricing API together: storage, domain services,
// HTTP surface, and lifecycle.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lonestartortillas/pricing-api/db"
	"github.com/lonestartortillas/pricing-api/internal/domain/catalog"
	"github.com/lonestartortillas/pricing-api/internal/domain/checkout"
	"github.com/lonestartortillas/pricing-api/internal/domain/discount"
	"github.com/lonestartortillas/pricing-api/internal/email"
	"github.com/lonestartortillas/pricing-api/internal/handler"
	"github.com/lonestartortillas/pricing-api/internal/storage/postgres"
	"github.com/lonestartortillas/pricing-api/pkg/health"
	"github.com/lonestartortillas/pricing-api/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	ledgerRepo := postgres.NewLedgerRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Deploy-time bundle catalog.
	bundles, err := catalog.ParseBundles(db.Bundles)
	if err != nil {
		return errors.Wrap(err, "parse bundle catalog")
	}
	lg.Info("Bundle catalog loaded", zap.Int("bundles", len(bundles.List())))

	// Domain services.
	allocator := catalog.NewAllocator(productRepo, lg.Named("allocator"))
	evaluator := discount.NewEvaluator(discountRepo, ledgerRepo)

	var notifier checkout.Notifier = checkout.NopNotifier{}
	if cfg.Email.ResendAPIKey != "" {
		notifier = email.NewSender(cfg.Email.ResendAPIKey, cfg.Email.FromEmail, cfg.Email.FromName, lg.Named("email"))
	} else {
		lg.Info("Email disabled, order confirmations will be skipped")
	}

	checkoutSvc := checkout.NewService(productRepo, bundles, allocator, evaluator, orderRepo, notifier)

	// HTTP surface.
	h := handler.NewHandler(productRepo, bundles, allocator, checkoutSvc, discountRepo, ledgerRepo)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes(securityHandler))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("pricing-api"),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
