// Package httpapi is the HTTP boundary of the paywall server: one-time-code
// login, federated sign-in, sessions, checkout and the payment webhook.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/archive"
	"github.com/dmitrijs2005/paywall/internal/server/metrics"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
)

type CodeService interface {
	Issue(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string,
		onVerified func(ctx context.Context, email string) error) (*services.VerificationResult, error)
}

type IdentityService interface {
	ResolveOrCreate(ctx context.Context, email string) (*models.User, error)
	ResolveFromFederatedIdentity(ctx context.Context, id services.FederatedIdentity) (*models.User, error)
	IssueSession(ctx context.Context, user *models.User) (*services.Session, error)
	Authenticate(ctx context.Context, token string) (*models.User, *services.Session, error)
	RevokeSession(ctx context.Context, token string) error
}

type EntitlementService interface {
	ApplyCompletedPayment(ctx context.Context, p services.PaymentCompleted) (bool, error)
}

type CheckoutService interface {
	CreatePriceCheckout(ctx context.Context, userID, priceID string) (string, error)
	CreatePlanCheckout(ctx context.Context, userID, planID string) (string, error)
	ListPlans(ctx context.Context) ([]*models.Plan, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options wires a Server. Nil Metrics, Gatherer and Archive fall back to a
// private registry, the default gatherer and archive.Noop.
type Options struct {
	Address string
	Logger  logging.Logger

	Codes        CodeService
	Identity     IdentityService
	Entitlements EntitlementService
	Checkout     CheckoutService
	Archive      archive.Archiver
	DB           Pinger

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	BaseURL           string
	AllowedOrigins    []string
	RequestTimeout    time.Duration
	RequestsPerMinute int
	WebhookSecret     string
	FederationSecret  string
	CookieSecure      bool
	SessionTTL        time.Duration
	ServiceName       string
}

type Server struct {
	address string
	logger  logging.Logger

	codes        CodeService
	identity     IdentityService
	entitlements EntitlementService
	checkout     CheckoutService
	archive      archive.Archiver
	db           Pinger

	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	baseURL           string
	allowedOrigins    []string
	requestTimeout    time.Duration
	requestsPerMinute int
	webhookSecret     string
	federationSecret  string
	cookieSecure      bool
	sessionTTL        time.Duration
	serviceName       string

	handler http.Handler
}

func NewServer(opts Options) *Server {
	s := &Server{
		address:           opts.Address,
		logger:            opts.Logger.With("module", "http_server"),
		codes:             opts.Codes,
		identity:          opts.Identity,
		entitlements:      opts.Entitlements,
		checkout:          opts.Checkout,
		archive:           opts.Archive,
		db:                opts.DB,
		metrics:           opts.Metrics,
		gatherer:          opts.Gatherer,
		baseURL:           opts.BaseURL,
		allowedOrigins:    opts.AllowedOrigins,
		requestTimeout:    opts.RequestTimeout,
		requestsPerMinute: opts.RequestsPerMinute,
		webhookSecret:     opts.WebhookSecret,
		federationSecret:  opts.FederationSecret,
		cookieSecure:      opts.CookieSecure,
		sessionTTL:        opts.SessionTTL,
		serviceName:       opts.ServiceName,
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.archive == nil {
		s.archive = archive.Noop{}
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 10 * time.Second
	}
	if s.requestsPerMinute <= 0 {
		s.requestsPerMinute = 100
	}
	if s.serviceName == "" {
		s.serviceName = "paywall"
	}
	s.handler = s.routes()
	return s
}

// Handler exposes the full middleware-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
