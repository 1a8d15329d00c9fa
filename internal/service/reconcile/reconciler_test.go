package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"netbill-service/internal/domain/event"
	"netbill-service/internal/domain/plan"
	"netbill-service/internal/domain/router"
	"netbill-service/internal/domain/subscriber"
	"netbill-service/internal/events"
	xerrors "netbill-service/internal/pkg/errors"
	"netbill-service/internal/pkg/lock"
	"netbill-service/internal/service/lifecycle"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var wib = time.FixedZone("WIB", 7*3600)

// fakeStore is an in-memory subscriber table.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string]*subscriber.Subscriber
	saves   int
	saveErr error
}

func newFakeStore(subs ...*subscriber.Subscriber) *fakeStore {
	st := &fakeStore{rows: make(map[string]*subscriber.Subscriber)}
	for _, s := range subs {
		st.rows[s.Username] = s.Clone()
	}
	return st
}

func (f *fakeStore) sorted() []*subscriber.Subscriber {
	out := make([]*subscriber.Subscriber, 0, len(f.rows))
	for _, s := range f.rows {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (f *fakeStore) LoadAllWithPackage(context.Context) ([]*subscriber.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(), nil
}

func (f *fakeStore) LoadCandidates(_ context.Context, filter subscriber.CandidateFilter) ([]*subscriber.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*subscriber.Subscriber
	for _, s := range f.sorted() {
		if filter.RequireExpiry && !s.ExpiredAt.Valid {
			continue
		}
		for _, st := range filter.Statuses {
			if s.Status == st {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) FindByUsername(_ context.Context, username string) (*subscriber.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[username]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return s.Clone(), nil
}

// Save mirrors the SQL: the stored balance minus debit, floored at zero.
func (f *fakeStore) Save(_ context.Context, s *subscriber.Subscriber, debit decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	balance := decimal.Zero
	if row, ok := f.rows[s.Username]; ok {
		balance = row.Balance
	}
	if debit.IsPositive() {
		balance = balance.Sub(debit)
	}
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	s.Balance = balance
	f.rows[s.Username] = s.Clone()
	return nil
}

// credit adds to the stored balance the way a payment would.
func (f *fakeStore) credit(username string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[username].Balance = f.rows[username].Balance.Add(decimal.NewFromInt(amount))
}

func (f *fakeStore) get(username string) *subscriber.Subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[username].Clone()
}

// fakeRouter keeps secrets in memory and counts mutating calls.
type fakeRouter struct {
	mu      sync.Mutex
	secrets map[string]router.Secret
	nextID  int
	fail    map[string]error // by secret name
	listErr error
	onCall  func()

	creates int
	updates []router.SecretUpdate
	deletes []string
}

func newFakeRouter(secrets ...router.Secret) *fakeRouter {
	r := &fakeRouter{secrets: make(map[string]router.Secret), fail: make(map[string]error), nextID: 100}
	for _, s := range secrets {
		r.secrets[s.Name] = s
	}
	return r
}

func (f *fakeRouter) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates + len(f.updates) + len(f.deletes)
}

func (f *fakeRouter) ListSecrets(context.Context) (map[string]router.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]router.Secret, len(f.secrets))
	for k, v := range f.secrets {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRouter) CreateSecret(_ context.Context, s router.NewSecret) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if err := f.fail[s.Name]; err != nil {
		return "", err
	}
	f.creates++
	f.nextID++
	id := fmt.Sprintf("*%X", f.nextID)
	f.secrets[s.Name] = router.Secret{
		ID:            id,
		Name:          s.Name,
		Password:      s.Password,
		Profile:       s.Profile,
		Service:       s.Service,
		LocalAddress:  s.LocalAddress,
		RemoteAddress: s.RemoteAddress,
	}
	return id, nil
}

func (f *fakeRouter) UpdateSecret(_ context.Context, id string, upd router.SecretUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	for name, s := range f.secrets {
		if s.ID != id {
			continue
		}
		if err := f.fail[name]; err != nil {
			return err
		}
		f.updates = append(f.updates, upd)
		if upd.Profile != nil {
			s.Profile = *upd.Profile
		}
		if upd.LocalAddress != nil {
			s.LocalAddress = *upd.LocalAddress
		}
		if upd.RemoteAddress != nil {
			s.RemoteAddress = *upd.RemoteAddress
		}
		f.secrets[name] = s
		return nil
	}
	return xerrors.ErrRouterNotFound
}

func (f *fakeRouter) DeleteSecret(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, s := range f.secrets {
		if s.ID == id {
			f.deletes = append(f.deletes, name)
			delete(f.secrets, name)
			return nil
		}
	}
	return xerrors.ErrRouterNotFound
}

type plainPasswords struct{}

func (plainPasswords) Open(sealed string) (string, error) { return sealed, nil }

func basicPackage() *plan.Package {
	return &plan.Package{
		ID:                  1,
		Code:                "BASIC",
		Name:                "Basic 10M",
		Price:               decimal.NewFromInt(150000),
		DurationDays:        30,
		MikrotikProfileName: sql.NullString{String: "basic-10m", Valid: true},
		IsActive:            true,
	}
}

func sub(username string, status subscriber.Status, expiredAt time.Time, balance int64) *subscriber.Subscriber {
	pkg := basicPackage()
	s := &subscriber.Subscriber{
		ID:              int64(len(username)),
		Username:        username,
		Password:        "secret-" + username,
		Service:         subscriber.DefaultService,
		Status:          status,
		Balance:         decimal.NewFromInt(balance),
		PackageID:       sql.NullInt64{Int64: pkg.ID, Valid: true},
		Package:         pkg,
		ExpiredAt:       sql.NullTime{Time: expiredAt, Valid: !expiredAt.IsZero()},
		GracePeriodDays: 1,
	}
	if status == subscriber.StatusSuspended {
		s.SuspendedAt = sql.NullTime{Time: expiredAt, Valid: true}
	}
	return s
}

func secretFor(id string, s *subscriber.Subscriber, profile string) router.Secret {
	return router.Secret{ID: id, Name: s.Username, Profile: profile, Service: "pppoe"}
}

type harness struct {
	store  *fakeStore
	router *fakeRouter
	events *events.Recorder
	rec    *Reconciler
}

func newHarness(now time.Time, store *fakeStore, rt *fakeRouter) *harness {
	evaluator := lifecycle.NewEvaluator(wib, lifecycle.Profiles{Default: "default", Pending: "pending", Suspend: "isolir"})
	recorder := events.NewRecorder()
	rec := NewReconciler(store, rt, evaluator, lock.NewLocal(true), plainPasswords{}, recorder, nil, zap.NewNop(), Options{
		Now: func() time.Time { return now },
	})
	return &harness{store: store, router: rt, events: recorder, rec: rec}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("check-suspension"); err != nil || m != ModeCheckSuspension {
		t.Fatalf("ParseMode = %q, %v", m, err)
	}
	if _, err := ParseMode("everything"); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRestoreSuspendedSubscriber(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("budi", subscriber.StatusSuspended, now.AddDate(0, 0, -10), 150000)
	s.MikrotikID = sql.NullString{String: "*1", Valid: true}

	h := newHarness(now, newFakeStore(s), newFakeRouter(secretFor("*1", s, "isolir")))

	summary, err := h.rec.Run(context.Background(), ModeCheckRestoration)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Restored != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	got := h.store.get("budi")
	if got.Status != subscriber.StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if !got.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", got.Balance)
	}
	if got.SuspendedAt.Valid || !got.RestoredAt.Valid {
		t.Errorf("suspended_at=%v restored_at=%v", got.SuspendedAt, got.RestoredAt)
	}
	if want := now.AddDate(0, 0, 30); !got.ExpiredAt.Time.Equal(want) {
		t.Errorf("expired_at = %s, want %s", got.ExpiredAt.Time, want)
	}
	if p := h.router.secrets["budi"].Profile; p != "basic-10m" {
		t.Errorf("router profile = %q, want basic-10m", p)
	}
	if len(h.events.OfType(event.TypeSubscriberRestored)) != 1 {
		t.Errorf("expected one restored event, got %v", h.events.Events())
	}
}

func TestSuspendAfterGrace(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("ani", subscriber.StatusActive, now.AddDate(0, 0, -3), 0)
	h := newHarness(now, newFakeStore(s), newFakeRouter(secretFor("*2", s, "basic-10m")))

	summary, err := h.rec.Run(context.Background(), ModeCheckSuspension)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Suspended != 1 {
		t.Fatalf("suspended = %d, want 1", summary.Suspended)
	}
	if got := h.store.get("ani"); got.Status != subscriber.StatusSuspended || !got.SuspendedAt.Valid {
		t.Errorf("subscriber = %s suspended_at=%v", got.Status, got.SuspendedAt)
	}
	if p := h.router.secrets["ani"].Profile; p != "isolir" {
		t.Errorf("router profile = %q, want isolir", p)
	}

	// A second pass must not suspend again.
	summary, err = h.rec.Run(context.Background(), ModeCheckSuspension)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Suspended != 0 || h.router.mutations() != 1 {
		t.Errorf("second pass suspended=%d router mutations=%d", summary.Suspended, h.router.mutations())
	}
}

func TestRenewInsteadOfSuspendWhenBalanceCovers(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("citra", subscriber.StatusGracePeriod, now.AddDate(0, 0, -2), 200000)
	h := newHarness(now, newFakeStore(s), newFakeRouter(secretFor("*3", s, "basic-10m")))

	summary, err := h.rec.Run(context.Background(), ModeCheckSuspension)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Renewed != 1 || summary.Suspended != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	got := h.store.get("citra")
	if got.Status != subscriber.StatusActive || !got.Balance.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("status=%s balance=%s", got.Status, got.Balance)
	}
	// profile already matches
	if h.router.mutations() != 0 {
		t.Errorf("router mutations = %d, want 0", h.router.mutations())
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	active := sub("dewi", subscriber.StatusActive, now.AddDate(0, 0, 10), 0)
	expired := sub("eko", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	missing := sub("fajar", subscriber.StatusPending, time.Time{}, 0)

	store := newFakeStore(active, expired, missing)
	rt := newFakeRouter(
		secretFor("*A", active, "basic-10m"),
		secretFor("*B", expired, "basic-10m"),
		router.Secret{ID: "*C", Name: "orphan", Profile: "default"},
	)
	h := newHarness(now, store, rt)

	first, err := h.rec.Run(context.Background(), ModeSyncSecrets)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Pruned != 1 || first.Suspended != 1 || first.Recreated != 1 {
		t.Fatalf("first summary = %+v", first)
	}
	if _, ok := rt.secrets["orphan"]; ok {
		t.Error("orphan secret should be pruned")
	}
	if p := rt.secrets["fajar"].Profile; p != "pending" {
		t.Errorf("recreated profile = %q, want pending", p)
	}
	if pw := rt.secrets["fajar"].Password; pw != "secret-fajar" {
		t.Errorf("recreated password = %q", pw)
	}

	before := rt.mutations()
	saves := store.saves
	second, err := h.rec.Run(context.Background(), ModeSyncSecrets)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Mutations() != 0 || rt.mutations() != before || store.saves != saves {
		t.Errorf("second pass mutated: summary=%+v router %d->%d saves %d->%d",
			second, before, rt.mutations(), saves, store.saves)
	}
	if second.Unchanged != 3 {
		t.Errorf("unchanged = %d, want 3", second.Unchanged)
	}
}

func TestDriftCorrectedInOneUpdate(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("gita", subscriber.StatusActive, now.AddDate(0, 0, 10), 0)
	s.RemoteAddress = sql.NullString{String: "172.16.88.20", Valid: true}
	s.MikrotikID = sql.NullString{String: "*9", Valid: true}
	sec := secretFor("*9", s, "default")
	sec.RemoteAddress = "172.16.88.99"

	h := newHarness(now, newFakeStore(s), newFakeRouter(sec))
	summary, err := h.rec.Run(context.Background(), ModeSyncSecrets)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Corrected != 1 {
		t.Fatalf("corrected = %d, want 1", summary.Corrected)
	}
	if len(h.router.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(h.router.updates))
	}
	upd := h.router.updates[0]
	if upd.Profile == nil || *upd.Profile != "basic-10m" || upd.RemoteAddress == nil || *upd.RemoteAddress != "172.16.88.20" {
		t.Errorf("update = %v", upd.Fields())
	}
	if h.store.saves != 0 {
		t.Errorf("drift correction should not save, saves = %d", h.store.saves)
	}
}

func TestStatusChangeAndDriftShareOneUpdate(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("hadi", subscriber.StatusActive, now.AddDate(0, 0, -4), 0)
	s.LocalAddress = sql.NullString{String: "172.16.88.1", Valid: true}
	h := newHarness(now, newFakeStore(s), newFakeRouter(secretFor("*5", s, "something-else")))

	if _, err := h.rec.Run(context.Background(), ModeSyncSecrets); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.router.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(h.router.updates))
	}
	upd := h.router.updates[0]
	if *upd.Profile != "isolir" || upd.LocalAddress == nil {
		t.Errorf("update fields = %v", upd.Fields())
	}
}

func TestRouterFailureIsolatedToSubscriber(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	a := sub("intan", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	b := sub("joko", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	rt := newFakeRouter(secretFor("*1", a, "basic-10m"), secretFor("*2", b, "basic-10m"))
	rt.fail["intan"] = fmt.Errorf("write: %w", xerrors.ErrRouterUnavailable)

	h := newHarness(now, newFakeStore(a, b), rt)
	summary, err := h.rec.Run(context.Background(), ModeCheckSuspension)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Suspended != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Username != "intan" || summary.Failures[0].Kind != "router_unavailable" {
		t.Errorf("failures = %+v", summary.Failures)
	}
	// Router rejected the change so the row must stay active.
	if got := h.store.get("intan"); got.Status != subscriber.StatusActive {
		t.Errorf("intan status = %s, want active", got.Status)
	}
	if got := h.store.get("joko"); got.Status != subscriber.StatusSuspended {
		t.Errorf("joko status = %s, want suspended", got.Status)
	}
}

func TestSaveFailureReportsPersistence(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("kiki", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	store := newFakeStore(s)
	store.saveErr = errors.New("connection reset")
	rt := newFakeRouter(secretFor("*1", s, "basic-10m"))

	h := newHarness(now, store, rt)
	summary, err := h.rec.Run(context.Background(), ModeCheckSuspension)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || len(summary.Failures) != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if f := summary.Failures[0]; f.Kind != "persistence" || f.Operation != "save" {
		t.Errorf("failure = %+v", f)
	}
	if rt.secrets["kiki"].Profile != "isolir" {
		t.Error("router change should stand; next pass converges the row")
	}
}

func TestDanglingPackageSkipped(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("lina", subscriber.StatusSuspended, now.AddDate(0, 0, -5), 500000)
	s.Package = nil
	h := newHarness(now, newFakeStore(s), newFakeRouter(secretFor("*1", s, "isolir")))

	summary, err := h.rec.Run(context.Background(), ModeCheckRestoration)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 || summary.Restored != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Kind != "inconsistent_subscriber" {
		t.Errorf("failures = %+v", summary.Failures)
	}
	if h.router.mutations() != 0 {
		t.Error("router should not be touched")
	}
}

func TestDeadlineLeavesRemainingUnreached(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	a := sub("mira", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	b := sub("nanda", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	c := sub("oki", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	rt := newFakeRouter(secretFor("*1", a, "basic-10m"), secretFor("*2", b, "basic-10m"), secretFor("*3", c, "basic-10m"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.onCall = cancel

	h := newHarness(now, newFakeStore(a, b, c), rt)
	summary, err := h.rec.Run(ctx, ModeCheckSuspension)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The first subscriber's router call went through and its save is detached
	// from cancellation.
	if summary.Suspended != 1 {
		t.Errorf("suspended = %d, want 1", summary.Suspended)
	}
	if got := h.store.get("mira"); got.Status != subscriber.StatusSuspended {
		t.Errorf("mira status = %s", got.Status)
	}
	if len(summary.Unreached) != 2 || summary.Unreached[0] != "nanda" {
		t.Errorf("unreached = %v", summary.Unreached)
	}
}

func TestListFailureAbortsPass(t *testing.T) {
	rt := newFakeRouter()
	rt.listErr = fmt.Errorf("dial: %w", xerrors.ErrRouterUnavailable)
	h := newHarness(time.Now(), newFakeStore(), rt)

	if _, err := h.rec.Run(context.Background(), ModeSyncSecrets); !errors.Is(err, xerrors.ErrRouterUnavailable) {
		t.Fatalf("expected router unavailable, got %v", err)
	}
	if len(h.events.OfType(event.TypeReconcileCompleted)) != 0 {
		t.Error("aborted pass must not publish a completion event")
	}
}

func TestLockedSubscriberSkipped(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("putri", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	store := newFakeStore(s)
	rt := newFakeRouter(secretFor("*1", s, "basic-10m"))

	locker := lock.NewLocal(false)
	release, err := locker.Acquire(context.Background(), lock.SubscriberKey("putri"))
	if err != nil {
		t.Fatal(err)
	}
	defer release(context.Background())

	evaluator := lifecycle.NewEvaluator(wib, lifecycle.Profiles{Default: "default", Pending: "pending", Suspend: "isolir"})
	rec := NewReconciler(store, rt, evaluator, locker, plainPasswords{}, nil, nil, zap.NewNop(), Options{
		Now: func() time.Time { return now },
	})
	summary, err := rec.Run(context.Background(), ModeCheckSuspension)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 || rt.mutations() != 0 {
		t.Errorf("summary = %+v mutations = %d", summary, rt.mutations())
	}
}

func TestCreditDuringRouterCallIsKept(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	tests := []struct {
		name        string
		sub         *subscriber.Subscriber
		profile     string
		mode        Mode
		credit      int64
		wantStatus  subscriber.Status
		wantBalance int64
	}{
		{
			name:        "suspension",
			sub:         sub("rani", subscriber.StatusActive, now.AddDate(0, 0, -3), 0),
			profile:     "basic-10m",
			mode:        ModeCheckSuspension,
			credit:      50000,
			wantStatus:  subscriber.StatusSuspended,
			wantBalance: 50000,
		},
		{
			name:        "renewal charges only the price",
			sub:         sub("sari", subscriber.StatusGracePeriod, now.AddDate(0, 0, -2), 200000),
			profile:     "default",
			mode:        ModeCheckSuspension,
			credit:      100000,
			wantStatus:  subscriber.StatusActive,
			wantBalance: 150000,
		},
		{
			name:        "restoration",
			sub:         sub("tono", subscriber.StatusSuspended, now.AddDate(0, 0, -10), 150000),
			profile:     "isolir",
			mode:        ModeCheckRestoration,
			credit:      20000,
			wantStatus:  subscriber.StatusActive,
			wantBalance: 20000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(tt.sub)
			rt := newFakeRouter(secretFor("*1", tt.sub, tt.profile))
			// a payment that commits while the router call is in flight
			rt.onCall = func() { store.credit(tt.sub.Username, tt.credit) }

			h := newHarness(now, store, rt)
			if _, err := h.rec.Run(context.Background(), tt.mode); err != nil {
				t.Fatalf("Run: %v", err)
			}

			got := store.get(tt.sub.Username)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if want := decimal.NewFromInt(tt.wantBalance); !got.Balance.Equal(want) {
				t.Errorf("balance = %s, want %s", got.Balance, want)
			}
		})
	}
}

// lockCheckingPublisher records whether the subscriber lock is free while an
// event is being published, then stalls until its context ends.
type lockCheckingPublisher struct {
	locker lock.Locker
	mu     sync.Mutex
	busy   []bool
}

func (p *lockCheckingPublisher) Publish(ctx context.Context, ev event.Event) error {
	if ev.Username != "" {
		release, err := p.locker.Acquire(ctx, lock.SubscriberKey(ev.Username))
		p.mu.Lock()
		p.busy = append(p.busy, err != nil)
		p.mu.Unlock()
		if err == nil {
			_ = release(ctx)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSlowPublisherDoesNotHoldSubscriberLock(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, wib)
	s := sub("umar", subscriber.StatusActive, now.AddDate(0, 0, -5), 0)
	store := newFakeStore(s)
	rt := newFakeRouter(secretFor("*1", s, "basic-10m"))

	locker := lock.NewLocal(false)
	pub := &lockCheckingPublisher{locker: locker}
	evaluator := lifecycle.NewEvaluator(wib, lifecycle.Profiles{Default: "default", Pending: "pending", Suspend: "isolir"})
	rec := NewReconciler(store, rt, evaluator, locker, plainPasswords{}, pub, nil, zap.NewNop(), Options{
		PassTimeout:    time.Second,
		PublishTimeout: 50 * time.Millisecond,
		Now:            func() time.Time { return now },
	})

	start := time.Now()
	summary, err := rec.Run(context.Background(), ModeCheckSuspension)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("pass took %s, publishes should be cut at 50ms", elapsed)
	}
	if summary.Suspended != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.busy) != 1 || pub.busy[0] {
		t.Errorf("lock busy during publish = %v, want [false]", pub.busy)
	}
}
