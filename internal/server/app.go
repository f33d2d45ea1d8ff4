// Package server assembles the paywall application: storage, services, the
// HTTP boundary and background maintenance, and runs them until shutdown.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/archive"
	"github.com/dmitrijs2005/paywall/internal/server/billing"
	"github.com/dmitrijs2005/paywall/internal/server/config"
	"github.com/dmitrijs2005/paywall/internal/server/httpapi"
	"github.com/dmitrijs2005/paywall/internal/server/mailer"
	"github.com/dmitrijs2005/paywall/internal/server/metrics"
	"github.com/dmitrijs2005/paywall/internal/server/ratelimit"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/paywall/internal/server/services"
	"github.com/dmitrijs2005/paywall/internal/server/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const serviceName = "paywall"

// runner is anything that serves until its context is cancelled.
type runner interface {
	Run(ctx context.Context) error
}

// sweeper removes expired rows and reports how many went.
type sweeper struct {
	name  string
	sweep func(ctx context.Context) (int64, error)
}

type App struct {
	config *config.Config
	logger logging.Logger

	server   runner
	sweepers []sweeper
	closers  []func(ctx context.Context) error
}

func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger.With("module", "app")}

	db, err := repomanager.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, func(context.Context) error { return db.Close() })

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		app.close(ctx)
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}
	app.closers = append(app.closers, shutdownTracing)

	arch, err := app.newArchive(ctx)
	if err != nil {
		app.close(ctx)
		return nil, err
	}

	codes := services.NewCodeService(db, rm, app.newSender(), app.newLimiter(), logger, cfg)
	identity := services.NewIdentityService(db, rm, logger, cfg)
	entitlements := services.NewEntitlementService(db, rm, logger)
	checkout := services.NewCheckoutService(db, rm, billing.NewStripeProcessor(cfg.StripeSecretKey), logger, cfg)

	app.sweepers = []sweeper{
		{name: "verification_tokens", sweep: codes.SweepExpired},
		{name: "sessions", sweep: identity.SweepSessions},
	}

	app.server = httpapi.NewServer(httpapi.Options{
		Address:          cfg.Addr,
		Logger:           logger,
		Codes:            codes,
		Identity:         identity,
		Entitlements:     entitlements,
		Checkout:         checkout,
		Archive:          arch,
		DB:               db,
		Metrics:          metrics.New(prometheus.DefaultRegisterer),
		Gatherer:         prometheus.DefaultGatherer,
		BaseURL:          cfg.BaseURL,
		AllowedOrigins:   cfg.AllowedOrigins,
		RequestTimeout:   cfg.RequestTimeout,
		WebhookSecret:    cfg.StripeWebhookSecret,
		FederationSecret: cfg.FederationSecret,
		CookieSecure:     cfg.CookieSecure,
		SessionTTL:       cfg.SessionTTL,
		ServiceName:      serviceName,
	})

	return app, nil
}

// newLimiter returns a Redis-backed attempt limiter shared by all instances,
// or an in-process one when Redis is not configured.
func (app *App) newLimiter() services.AttemptLimiter {
	if app.config.RedisAddr == "" {
		app.logger.Warn(context.Background(), "REDIS_ADDR not set, verify attempts are limited per instance")
		return ratelimit.NewLocalLimiter()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     app.config.RedisAddr,
		Password: app.config.RedisPassword,
		DB:       app.config.RedisDB,
	})
	app.closers = append(app.closers, func(context.Context) error { return rdb.Close() })
	return ratelimit.NewLimiter(rdb, "paywall:verify:")
}

func (app *App) newArchive(ctx context.Context) (archive.Archiver, error) {
	if app.config.S3Bucket == "" {
		return archive.Noop{}, nil
	}
	a, err := archive.NewS3Archive(ctx, archive.S3Config{
		RootUser:     app.config.S3RootUser,
		RootPassword: app.config.S3RootPassword,
		Bucket:       app.config.S3Bucket,
		Region:       app.config.S3Region,
		BaseEndpoint: app.config.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	return a, nil
}

func (app *App) newSender() mailer.Sender {
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     app.config.SMTPHost,
		Port:     app.config.SMTPPort,
		Username: app.config.SMTPUser,
		Password: app.config.SMTPPassword,
		From:     app.config.EmailFrom,
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
		return err
	}
	return nil
}

// runSweeper deletes expired verification tokens and sessions on every tick.
// A non-positive interval disables it.
func (app *App) runSweeper(ctx context.Context) {
	if app.config.TokenSweepInterval <= 0 {
		return
	}
	t := time.NewTicker(app.config.TokenSweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			app.sweep(ctx)
		}
	}
}

func (app *App) sweep(ctx context.Context) {
	for _, s := range app.sweepers {
		n, err := s.sweep(ctx)
		if err != nil {
			app.logger.Warn(ctx, "sweep failed", "table", s.name, "error", err)
			continue
		}
		if n > 0 {
			app.logger.Info(ctx, "swept expired rows", "table", s.name, "count", n)
		}
	}
}

// Run blocks until a signal arrives or the HTTP server fails, then releases
// every resource NewApp acquired.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var (
		wg     sync.WaitGroup
		runErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		runErr = app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runSweeper(ctx)
	}()

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.close(shutdownCtx)

	app.logger.Info(ctx, "App stopped")
	return runErr
}

// close runs closers in reverse acquisition order.
func (app *App) close(ctx context.Context) {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			app.logger.Warn(ctx, "close failed", "error", err)
		}
	}
	app.closers = nil
}
