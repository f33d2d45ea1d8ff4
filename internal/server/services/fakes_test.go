package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/dbx"
	"github.com/dmitrijs2005/paywall/internal/server/mailer"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"github.com/dmitrijs2005/paywall/internal/server/ratelimit"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/payments"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/plans"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/subscriptions"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/users"
	"github.com/dmitrijs2005/paywall/internal/server/repositories/verificationtokens"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// -------- repositories --------

type fakeTokensRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.VerificationToken
	seq     int
	findN   int
	created []*models.VerificationToken

	createErr error
	findErr   error
	deleteErr error
	// deleteMiss simulates a concurrent consumer removing the row first
	deleteMiss bool
}

func newFakeTokensRepo() *fakeTokensRepo {
	return &fakeTokensRepo{rows: map[string]*models.VerificationToken{}}
}

func (f *fakeTokensRepo) Create(ctx context.Context, t *models.VerificationToken) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t.ID = fmt.Sprintf("tok-%d", f.seq)
	t.CreatedAt = time.Now()
	cp := *t
	f.rows[t.ID] = &cp
	f.created = append(f.created, &cp)
	return nil
}

func (f *fakeTokensRepo) FindLatestValid(ctx context.Context, identifier string, now time.Time) (*models.VerificationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findN++
	if f.findErr != nil {
		return nil, f.findErr
	}
	var best *models.VerificationToken
	for _, t := range f.rows {
		if t.Identifier != identifier || t.Expired(now) {
			continue
		}
		if best == nil || t.ExpiresAt.After(best.ExpiresAt) ||
			(t.ExpiresAt.Equal(best.ExpiresAt) && t.ID > best.ID) {
			best = t
		}
	}
	if best == nil {
		return nil, common.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeTokensRepo) Delete(ctx context.Context, id string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteMiss {
		delete(f.rows, id)
		return false, nil
	}
	_, ok := f.rows[id]
	delete(f.rows, id)
	return ok, nil
}

func (f *fakeTokensRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, t := range f.rows {
		if t.Expired(now) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

// active counts unexpired rows for identifier, superseded ones included.
func (f *fakeTokensRepo) active(identifier string, now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.rows {
		if t.Identifier == identifier && !t.Expired(now) {
			n++
		}
	}
	return n
}

type fakeUsersRepo struct {
	byID map[string]*models.User
	seq  int

	upsertErr    error
	getErr       error
	applyErr     error
	setBillErr   error
	upsertCalled int
}

func newFakeUsersRepo(seed ...*models.User) *fakeUsersRepo {
	f := &fakeUsersRepo{byID: map[string]*models.User{}}
	for _, u := range seed {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) Upsert(ctx context.Context, p users.UpsertParams) (*models.User, error) {
	f.upsertCalled++
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	for _, u := range f.byID {
		if u.Email != p.Email {
			continue
		}
		if p.VerifiedAt != nil && (u.EmailVerifiedAt == nil || p.VerifiedAt.After(*u.EmailVerifiedAt)) {
			v := *p.VerifiedAt
			u.EmailVerifiedAt = &v
		}
		if u.Name == "" {
			u.Name = p.Name
		}
		if u.Image == "" {
			u.Image = p.Image
		}
		cp := *u
		return &cp, nil
	}
	f.seq++
	u := &models.User{
		ID:        fmt.Sprintf("user-%d", f.seq),
		Email:     p.Email,
		Name:      p.Name,
		Image:     p.Image,
		CreatedAt: time.Now(),
	}
	if p.VerifiedAt != nil {
		v := *p.VerifiedAt
		u.EmailVerifiedAt = &v
	}
	f.byID[u.ID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) SetBillingCustomerID(ctx context.Context, id, customerID string) error {
	if f.setBillErr != nil {
		return f.setBillErr
	}
	u, ok := f.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.BillingCustomerID = customerID
	return nil
}

func (f *fakeUsersRepo) ApplyPlan(ctx context.Context, id, planID, planName string, credits int) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	u, ok := f.byID[id]
	if !ok {
		return common.ErrNotFound
	}
	u.PlanID, u.PlanName, u.Credits = planID, planName, credits
	return nil
}

type fakeAccountsRepo struct {
	rows map[string]*models.Account
	// raceWinner is inserted by someone else right before our Create
	raceWinner *models.Account
	findErr    error
	createErr  error
}

func newFakeAccountsRepo(seed ...*models.Account) *fakeAccountsRepo {
	f := &fakeAccountsRepo{rows: map[string]*models.Account{}}
	for _, a := range seed {
		f.rows[a.Provider+"/"+a.ProviderAccountID] = a
	}
	return f
}

func (f *fakeAccountsRepo) Find(ctx context.Context, provider, providerAccountID string) (*models.Account, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	a, ok := f.rows[provider+"/"+providerAccountID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccountsRepo) Create(ctx context.Context, a *models.Account) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	if f.raceWinner != nil {
		f.rows[f.raceWinner.Provider+"/"+f.raceWinner.ProviderAccountID] = f.raceWinner
		f.raceWinner = nil
	}
	key := a.Provider + "/" + a.ProviderAccountID
	if _, ok := f.rows[key]; ok {
		return false, nil
	}
	cp := *a
	f.rows[key] = &cp
	return true, nil
}

type fakeSessionsRepo struct {
	rows      map[string]*models.Session
	seq       int
	now       func() time.Time
	createErr error
	extendErr error
	extended  int
}

func newFakeSessionsRepo(now func() time.Time) *fakeSessionsRepo {
	return &fakeSessionsRepo{rows: map[string]*models.Session{}, now: now}
}

func (f *fakeSessionsRepo) Create(ctx context.Context, userID string, validity time.Duration) (*models.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	now := f.now().UTC()
	s := &models.Session{ID: fmt.Sprintf("sess-%d", f.seq), UserID: userID, ExpiresAt: now.Add(validity), CreatedAt: now, LastSeenAt: now}
	cp := *s
	f.rows[s.ID] = &cp
	return s, nil
}

func (f *fakeSessionsRepo) Find(ctx context.Context, id string) (*models.Session, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionsRepo) Extend(ctx context.Context, id string, expiresAt time.Time) error {
	if f.extendErr != nil {
		return f.extendErr
	}
	s, ok := f.rows[id]
	if !ok {
		return common.ErrNotFound
	}
	s.ExpiresAt = expiresAt
	f.extended++
	return nil
}

func (f *fakeSessionsRepo) Delete(ctx context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeSessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, s := range f.rows {
		if !now.Before(s.ExpiresAt) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

type fakePlansRepo struct {
	rows   map[string]*models.Plan
	getErr error
}

func newFakePlansRepo(seed ...*models.Plan) *fakePlansRepo {
	f := &fakePlansRepo{rows: map[string]*models.Plan{}}
	for _, p := range seed {
		f.rows[p.ID] = p
	}
	return f
}

func (f *fakePlansRepo) GetActive(ctx context.Context, id string) (*models.Plan, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.rows[id]
	if !ok || !p.IsActive {
		return nil, common.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePlansRepo) ListActive(ctx context.Context) ([]*models.Plan, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	var out []*models.Plan
	for _, p := range f.rows {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out, nil
}

type fakeSubscriptionsRepo struct {
	rows      []*models.Subscription
	createErr error
}

func (f *fakeSubscriptionsRepo) Create(ctx context.Context, s *models.Subscription) error {
	if f.createErr != nil {
		return f.createErr
	}
	s.ID = fmt.Sprintf("sub-%d", len(f.rows)+1)
	cp := *s
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeSubscriptionsRepo) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range f.rows {
		if s.UserID == userID && s.IsActive && now.Before(s.EndDate) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakePaymentsRepo struct {
	rows      map[string]*models.Payment
	existsErr error
	createErr error
	// conflictOnCreate simulates a concurrent insert of the same reference
	conflictOnCreate bool
}

func newFakePaymentsRepo() *fakePaymentsRepo {
	return &fakePaymentsRepo{rows: map[string]*models.Payment{}}
}

func (f *fakePaymentsRepo) ExistsByRef(ctx context.Context, ref string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.rows[ref]
	return ok, nil
}

func (f *fakePaymentsRepo) Create(ctx context.Context, p *models.Payment) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	if f.conflictOnCreate {
		return false, nil
	}
	if _, ok := f.rows[p.ExternalPaymentRef]; ok {
		return false, nil
	}
	p.ID = fmt.Sprintf("pay-%d", len(f.rows)+1)
	cp := *p
	f.rows[p.ExternalPaymentRef] = &cp
	return true, nil
}

// fakeRepoManager hands out the same fakes regardless of DBTX. Ledger
// writes made through a *sql.Tx are journaled so a rollback can undo them.
type fakeRepoManager struct {
	repomanager.RepositoryManager
	u  *fakeUsersRepo
	a  *fakeAccountsRepo
	s  *fakeSessionsRepo
	vt *fakeTokensRepo
	p  *fakePlansRepo
	sb *fakeSubscriptionsRepo
	py *fakePaymentsRepo

	j *txJournal
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		u:  newFakeUsersRepo(),
		a:  newFakeAccountsRepo(),
		s:  newFakeSessionsRepo(time.Now),
		vt: newFakeTokensRepo(),
		p:  newFakePlansRepo(),
		sb: &fakeSubscriptionsRepo{},
		py: newFakePaymentsRepo(),
		j:  &txJournal{},
	}
}

func (m *fakeRepoManager) Users(q dbx.DBTX) users.Repository {
	if inTx(q) {
		return journaledUsers{m.u, m.j}
	}
	return m.u
}

func (m *fakeRepoManager) Accounts(dbx.DBTX) accounts.Repository { return m.a }
func (m *fakeRepoManager) Sessions(dbx.DBTX) sessions.Repository { return m.s }
func (m *fakeRepoManager) VerificationTokens(dbx.DBTX) verificationtokens.Repository {
	return m.vt
}
func (m *fakeRepoManager) Plans(dbx.DBTX) plans.Repository { return m.p }

func (m *fakeRepoManager) Subscriptions(q dbx.DBTX) subscriptions.Repository {
	if inTx(q) {
		return journaledSubscriptions{m.sb, m.j}
	}
	return m.sb
}

func (m *fakeRepoManager) Payments(q dbx.DBTX) payments.Repository {
	if inTx(q) {
		return journaledPayments{m.py, m.j}
	}
	return m.py
}

func inTx(q dbx.DBTX) bool {
	_, ok := q.(*sql.Tx)
	return ok
}

// -------- transactions --------

// txJournal collects undo steps for fake writes and replays them when the
// driver sees a rollback. Tests run one transaction at a time.
type txJournal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *txJournal) record(f func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo = append(j.undo, f)
}

func (j *txJournal) commit() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo = nil
}

func (j *txJournal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

type journalConnector struct {
	drv driver.Driver
	dsn string
	j   *txJournal
}

func (c journalConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return journalConn{Conn: conn, j: c.j}, nil
}

func (c journalConnector) Driver() driver.Driver { return c.drv }

type journalConn struct {
	driver.Conn
	j *txJournal
}

func (c journalConn) Begin() (driver.Tx, error) {
	tx, err := c.Conn.Begin()
	if err != nil {
		return nil, err
	}
	return journalTx{tx: tx, j: c.j}, nil
}

type journalTx struct {
	tx driver.Tx
	j  *txJournal
}

func (t journalTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		t.j.rollback()
		return err
	}
	t.j.commit()
	return nil
}

func (t journalTx) Rollback() error {
	t.j.rollback()
	return t.tx.Rollback()
}

// newJournaledDB is newSQLMockDB whose commits and rollbacks also settle
// rm's journal.
func newJournaledDB(t *testing.T, rm *fakeRepoManager) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	dsn := "journal:" + t.Name()
	mockDB, mock, err := sqlmock.NewWithDSN(dsn)
	if err != nil {
		t.Fatalf("sqlmock.NewWithDSN error: %v", err)
	}
	db := sql.OpenDB(journalConnector{drv: mockDB.Driver(), dsn: dsn, j: rm.j})
	t.Cleanup(func() {
		_ = db.Close()
		_ = mockDB.Close()
	})
	return db, mock
}

type journaledPayments struct {
	*fakePaymentsRepo
	j *txJournal
}

func (r journaledPayments) Create(ctx context.Context, p *models.Payment) (bool, error) {
	ok, err := r.fakePaymentsRepo.Create(ctx, p)
	if ok {
		ref := p.ExternalPaymentRef
		r.j.record(func() { delete(r.rows, ref) })
	}
	return ok, err
}

type journaledSubscriptions struct {
	*fakeSubscriptionsRepo
	j *txJournal
}

func (r journaledSubscriptions) Create(ctx context.Context, s *models.Subscription) error {
	n := len(r.rows)
	if err := r.fakeSubscriptionsRepo.Create(ctx, s); err != nil {
		return err
	}
	f := r.fakeSubscriptionsRepo
	r.j.record(func() { f.rows = f.rows[:n] })
	return nil
}

type journaledUsers struct {
	*fakeUsersRepo
	j *txJournal
}

func (r journaledUsers) ApplyPlan(ctx context.Context, id, planID, planName string, credits int) error {
	prev, ok := r.byID[id]
	var before models.User
	if ok {
		before = *prev
	}
	if err := r.fakeUsersRepo.ApplyPlan(ctx, id, planID, planName, credits); err != nil {
		return err
	}
	r.j.record(func() {
		if u, ok := r.byID[id]; ok {
			u.PlanID, u.PlanName, u.Credits = before.PlanID, before.PlanName, before.Credits
		}
	})
	return nil
}

// -------- collaborators --------

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	// errs[i] is returned by the i-th call
	errs  []error
	calls int
}

func (f *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return f.errs[i]
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeLimiter struct {
	denied  bool
	err     error
	allowed int
	resets  int
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.allowed++
	return &ratelimit.Result{Allowed: !f.denied, Limit: limit}, nil
}

func (f *fakeLimiter) Reset(ctx context.Context, key string) error {
	f.resets++
	return nil
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectTx(mock sqlmock.Sqlmock, commit bool) {
	mock.ExpectBegin()
	if commit {
		mock.ExpectCommit()
	} else {
		mock.ExpectRollback()
	}
}
