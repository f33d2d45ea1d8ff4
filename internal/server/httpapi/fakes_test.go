package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/metrics"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
)

var errBoom = errors.New("boom")

type fakeCodes struct {
	issueErr  error
	verifyRes *services.VerificationResult
	verifyErr error

	issued []string
	// consumed is set once a verified code would have been deleted
	consumed bool
}

func (f *fakeCodes) Issue(_ context.Context, email string) error {
	f.issued = append(f.issued, email)
	return f.issueErr
}

func (f *fakeCodes) Verify(ctx context.Context, email, code string,
	onVerified func(ctx context.Context, email string) error) (*services.VerificationResult, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if onVerified != nil {
		if err := onVerified(ctx, f.verifyRes.Email); err != nil {
			return nil, err
		}
	}
	f.consumed = true
	return f.verifyRes, nil
}

type fakeIdentity struct {
	user    *models.User
	userErr error

	federatedErr error
	federated    []services.FederatedIdentity

	session    *services.Session
	sessionErr error

	authUser *models.User
	authSess *services.Session
	authErr  error
	authWith string

	revokeErr error
	revoked   []string
}

func (f *fakeIdentity) ResolveOrCreate(_ context.Context, email string) (*models.User, error) {
	return f.user, f.userErr
}

func (f *fakeIdentity) ResolveFromFederatedIdentity(_ context.Context, id services.FederatedIdentity) (*models.User, error) {
	f.federated = append(f.federated, id)
	if f.federatedErr != nil {
		return nil, f.federatedErr
	}
	return f.user, nil
}

func (f *fakeIdentity) IssueSession(_ context.Context, user *models.User) (*services.Session, error) {
	return f.session, f.sessionErr
}

func (f *fakeIdentity) Authenticate(_ context.Context, token string) (*models.User, *services.Session, error) {
	f.authWith = token
	return f.authUser, f.authSess, f.authErr
}

func (f *fakeIdentity) RevokeSession(_ context.Context, token string) error {
	f.revoked = append(f.revoked, token)
	return f.revokeErr
}

type fakeEntitlements struct {
	applied bool
	err     error
	got     []services.PaymentCompleted
}

func (f *fakeEntitlements) ApplyCompletedPayment(_ context.Context, p services.PaymentCompleted) (bool, error) {
	f.got = append(f.got, p)
	return f.applied, f.err
}

type fakeCheckout struct {
	sessionID string
	err       error
	plans     []*models.Plan
	plansErr  error

	userID, ref string
}

func (f *fakeCheckout) CreatePriceCheckout(_ context.Context, userID, priceID string) (string, error) {
	f.userID, f.ref = userID, priceID
	return f.sessionID, f.err
}

func (f *fakeCheckout) CreatePlanCheckout(_ context.Context, userID, planID string) (string, error) {
	f.userID, f.ref = userID, planID
	return f.sessionID, f.err
}

func (f *fakeCheckout) ListPlans(context.Context) ([]*models.Plan, error) {
	return f.plans, f.plansErr
}

type fakeArchive struct {
	mu   sync.Mutex
	ids  []string
	err  error
	body []byte
}

func (f *fakeArchive) Archive(_ context.Context, eventID string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, eventID)
	f.body = payload
	if f.err != nil {
		return "", f.err
	}
	return "webhooks/" + eventID + ".json", nil
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

const (
	testWebhookSecret    = "whsec_test"
	testFederationSecret = "fed-secret"
)

type testEnv struct {
	codes        *fakeCodes
	identity     *fakeIdentity
	entitlements *fakeEntitlements
	checkout     *fakeCheckout
	archive      *fakeArchive
	metrics      *metrics.Metrics
	registry     *prometheus.Registry
	server       *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	env := &testEnv{
		codes:        &fakeCodes{},
		identity:     &fakeIdentity{},
		entitlements: &fakeEntitlements{},
		checkout:     &fakeCheckout{},
		archive:      &fakeArchive{},
		metrics:      metrics.New(reg),
		registry:     reg,
	}
	env.server = NewServer(Options{
		Logger:           logging.Nop(),
		Codes:            env.codes,
		Identity:         env.identity,
		Entitlements:     env.entitlements,
		Checkout:         env.checkout,
		Archive:          env.archive,
		DB:               fakePinger{},
		Metrics:          env.metrics,
		Gatherer:         reg,
		BaseURL:          "https://app.example.com",
		WebhookSecret:    testWebhookSecret,
		FederationSecret: testFederationSecret,
		CookieSecure:     true,
		SessionTTL:       30 * 24 * time.Hour,
	})
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func testUser() *models.User {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.User{
		ID:              "11111111-1111-1111-1111-111111111111",
		Email:           "a@x.com",
		EmailVerifiedAt: &now,
		PlanID:          "pro",
		PlanName:        "Pro",
		Credits:         100,
	}
}

func testSession(renewed bool) *services.Session {
	return &services.Session{
		ID:        "22222222-2222-2222-2222-222222222222",
		UserID:    "11111111-1111-1111-1111-111111111111",
		Token:     "tok-new",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		Renewed:   renewed,
	}
}
