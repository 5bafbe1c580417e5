package loop

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"debtloop/internal/domain"
	"debtloop/internal/netting"
	"debtloop/internal/repository/memory"
	"debtloop/internal/settlement"
	"debtloop/pkg/cache"
	"debtloop/pkg/errors"
	"debtloop/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	conn  *settlement.SimulatedConnector
	cache *cache.MemoryCache
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	conn := settlement.NewSimulatedConnector()
	conn.Open("clearing", decimal.Zero, true)
	rc := cache.NewMemoryCache()

	engine := netting.NewEngine(netting.DefaultOptions(), netting.DefaultFeeSchedule(), logger.NewNop())
	svc := NewService(
		engine,
		store,
		store.Companies(),
		store.Positions(),
		store.Loops(),
		settlement.NewExecutor(conn, "clearing", logger.NewNop()),
		rc,
		Config{LoopTTL: time.Hour, ResultCacheTTL: time.Minute},
		logger.NewNop(),
	)

	f := &fixture{svc: svc, store: store, conn: conn, cache: rc, clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) company(t *testing.T, id string, funds string) {
	t.Helper()
	handle := "acct-" + id
	require.NoError(t, f.store.Companies().Create(context.Background(), &domain.Company{
		ID:            uuid.New(),
		Name:          id,
		AnonymousID:   id,
		TokenBalance:  domain.DefaultTokenBalance,
		PaymentHandle: &handle,
	}))
	f.conn.Open(handle, decimal.RequireFromString(funds), false)
}

var positionSeq int

func (f *fixture) debt(t *testing.T, debtor, creditor, amount string) *domain.Position {
	t.Helper()
	positionSeq++
	p := &domain.Position{
		ID:             uuid.New(),
		OwnerID:        debtor,
		CounterpartyID: creditor,
		Role:           domain.PositionRoleDebt,
		Amount:         decimal.RequireFromString(amount),
		Currency:       domain.USD,
		CreatedAt:      f.clock.Add(time.Duration(positionSeq) * time.Second),
	}
	require.NoError(t, f.store.Positions().Create(context.Background(), p))
	return p
}

// triangle: A owes B 100, B owes C 80, C owes A 120.
func (f *fixture) triangle(t *testing.T) {
	t.Helper()
	f.company(t, "A", "0")
	f.company(t, "B", "0")
	f.company(t, "C", "50")
	f.debt(t, "A", "B", "100")
	f.debt(t, "B", "C", "80")
	f.debt(t, "C", "A", "120")
}

func (f *fixture) propose(t *testing.T) *Detail {
	t.Helper()
	d, err := f.svc.Propose(context.Background(), &ProposeRequest{Initiator: "A", Participants: []string{"A", "B", "C"}})
	require.NoError(t, err)
	return d
}

func TestDetect(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	ctx := context.Background()

	resp, err := f.svc.Detect(ctx, DetectRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Candidates, 1)
	assert.False(t, resp.Cached)
	assert.Equal(t, domain.USD, resp.Currency)
	assert.Equal(t, netting.DefaultMaxDepth, resp.MaxDepth)

	c := resp.Candidates[0]
	assert.Equal(t, []string{"A", "B", "C"}, c.Participants)
	assert.True(t, c.TotalValue.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, int64(25), c.Fee)

	again, err := f.svc.Detect(ctx, DetectRequest{})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	require.Len(t, again.Candidates, 1)
	assert.True(t, again.Candidates[0].Settlements["C"].Equal(decimal.RequireFromString("-10.67")))

	_, err = f.cache.Increment(ctx, cache.DetectionGenerationKey)
	require.NoError(t, err)
	fresh, err := f.svc.Detect(ctx, DetectRequest{})
	require.NoError(t, err)
	assert.False(t, fresh.Cached)
}

func TestDetect_FiltersByInitiatorAndCurrency(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	f.company(t, "D", "0")
	ctx := context.Background()

	resp, err := f.svc.Detect(ctx, DetectRequest{Initiator: "D"})
	require.NoError(t, err)
	assert.Empty(t, resp.Candidates)

	resp, err = f.svc.Detect(ctx, DetectRequest{Initiator: "B"})
	require.NoError(t, err)
	assert.Len(t, resp.Candidates, 1)

	resp, err = f.svc.Detect(ctx, DetectRequest{Currency: domain.EUR})
	require.NoError(t, err)
	assert.Empty(t, resp.Candidates)

	_, err = f.svc.Detect(ctx, DetectRequest{Initiator: "ZZZ"})
	assert.ErrorIs(t, err, errors.ErrCompanyNotFound)
}

func TestDetect_ShallowDepthMissesTriangle(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)

	resp, err := f.svc.Detect(context.Background(), DetectRequest{MaxDepth: 2})
	require.NoError(t, err)
	assert.Empty(t, resp.Candidates)
}

func TestPropose(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)

	d := f.propose(t)
	assert.Equal(t, domain.LoopStatusPending, d.Status)
	assert.Regexp(t, `^LP-\d+-[0-9a-f]{8}$`, d.Reference)
	assert.Equal(t, int64(25), d.Fee)
	assert.Equal(t, f.clock.Add(time.Hour), d.ExpiresAt)
	require.Len(t, d.Participants, 3)
	assert.Equal(t, domain.DecisionAccepted, d.Participants[0].Decision)
	assert.Equal(t, domain.DecisionPending, d.Participants[1].Decision)

	active, err := f.svc.ActiveLoops(context.Background(), "C")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPropose_Rejections(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	f.company(t, "D", "0")
	ctx := context.Background()

	_, err := f.svc.Propose(ctx, &ProposeRequest{Initiator: "D", Participants: []string{"A", "B", "C"}})
	assert.ErrorIs(t, err, errors.ErrNotParticipant)

	_, err = f.svc.Propose(ctx, &ProposeRequest{Initiator: "A", Participants: []string{"A", "C", "B"}})
	assert.ErrorIs(t, err, errors.ErrLoopInvalidated)

	require.NoError(t, f.store.Companies().AdjustTokenBalance(ctx, "A", -2480))
	_, err = f.svc.Propose(ctx, &ProposeRequest{Initiator: "A", Participants: []string{"A", "B", "C"}})
	assert.ErrorIs(t, err, errors.ErrInsufficientTokens)
}

func TestRespond_AllAcceptExecutesAndClears(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	ctx := context.Background()
	d := f.propose(t)

	after, err := f.svc.Respond(ctx, d.ID, "B", true)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStatusPending, after.Status)

	after, err = f.svc.Respond(ctx, d.ID, "C", true)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStatusCompleted, after.Status)
	require.NotNil(t, after.CompletedAt)

	// C paid 10.67 in; A and B received 5.33 each.
	assert.True(t, f.conn.Balance("acct-C").Equal(decimal.RequireFromString("39.33")))
	assert.True(t, f.conn.Balance("acct-A").Equal(decimal.RequireFromString("5.33")))
	assert.True(t, f.conn.Balance("acct-B").Equal(decimal.RequireFromString("5.33")))

	a, err := f.store.Companies().FindByAnonymousID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTokenBalance-25, a.TokenBalance)

	snap, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	g, _, err := netting.BuildGraph(snap.CompanyIDs(), snap.Positions, netting.SkipMalformed)
	require.NoError(t, err)
	assert.True(t, g.Weight("A", "B").Equal(decimal.NewFromInt(20)))
	assert.True(t, g.Weight("B", "C").IsZero())
	assert.True(t, g.Weight("C", "A").Equal(decimal.NewFromInt(40)))

	stored, err := f.svc.GetLoop(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStatusCompleted, stored.Status)
	for _, p := range stored.Participants {
		assert.NotNil(t, p.ExecutionRef, p.CompanyID)
	}

	active, err := f.svc.ActiveLoops(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestClear_SpreadsAcrossPositionsOldestFirst(t *testing.T) {
	f := newFixture(t)
	f.company(t, "A", "100")
	f.company(t, "B", "0")
	f.company(t, "C", "100")
	first := f.debt(t, "A", "B", "30")
	second := f.debt(t, "A", "B", "70")
	f.debt(t, "B", "C", "50")
	f.debt(t, "C", "A", "60")
	ctx := context.Background()

	d := f.propose(t)
	_, err := f.svc.Respond(ctx, d.ID, "B", true)
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, d.ID, "C", true)
	require.NoError(t, err)

	p1, err := f.store.Positions().FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, p1.IsSettled)
	assert.True(t, p1.Amount.IsZero())

	p2, err := f.store.Positions().FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, p2.IsSettled)
	assert.True(t, p2.Amount.Equal(decimal.NewFromInt(50)))
}

func TestRespond_Reject(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	ctx := context.Background()
	d := f.propose(t)

	after, err := f.svc.Respond(ctx, d.ID, "B", false)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStatusRejected, after.Status)

	_, err = f.svc.Respond(ctx, d.ID, "C", true)
	assert.ErrorIs(t, err, errors.ErrLoopNotPending)
	assert.Empty(t, f.conn.Transfers())
}

func TestRespond_Errors(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	f.company(t, "D", "0")
	ctx := context.Background()
	d := f.propose(t)

	_, err := f.svc.Respond(ctx, uuid.New(), "B", true)
	assert.ErrorIs(t, err, errors.ErrLoopNotFound)

	_, err = f.svc.Respond(ctx, d.ID, "D", true)
	assert.ErrorIs(t, err, errors.ErrNotParticipant)

	_, err = f.svc.Respond(ctx, d.ID, "A", true)
	assert.ErrorIs(t, err, errors.ErrAlreadyResponded)

	f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.svc.Respond(ctx, d.ID, "B", true)
	assert.ErrorIs(t, err, errors.ErrLoopExpired)

	stored, err := f.svc.GetLoop(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStatusExpired, stored.Status)
}

func TestRespond_CollectionFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	f.conn.FailTransfersFrom("acct-C")
	ctx := context.Background()
	d := f.propose(t)

	_, err := f.svc.Respond(ctx, d.ID, "B", true)
	require.NoError(t, err)
	after, err := f.svc.Respond(ctx, d.ID, "C", true)
	require.NoError(t, err)

	assert.Equal(t, domain.LoopStatusFailed, after.Status)
	assert.Equal(t, errors.ErrExecutionRejected.Error(), after.Metadata["failure"])

	a, err := f.store.Companies().FindByAnonymousID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTokenBalance, a.TokenBalance)

	open, err := f.store.Positions().FindOpenEdge(ctx, "B", "C", domain.USD)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Amount.Equal(decimal.NewFromInt(80)))
}

type failingSnapshots struct{ err error }

func (f failingSnapshots) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	return nil, f.err
}

func TestRespond_SnapshotFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	ctx := context.Background()
	d := f.propose(t)

	_, err := f.svc.Respond(ctx, d.ID, "B", true)
	require.NoError(t, err)

	f.svc.snapshots = failingSnapshots{err: stderrors.New("db down")}
	after, err := f.svc.Respond(ctx, d.ID, "C", true)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStatusFailed, after.Status)
	assert.Contains(t, after.Metadata["failure"], "db down")
	assert.Empty(t, f.conn.Transfers())

	stored, err := f.svc.GetLoop(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStatusFailed, stored.Status)

	_, err = f.svc.Respond(ctx, d.ID, "C", true)
	assert.ErrorIs(t, err, errors.ErrLoopNotPending)
}

type failingPositionUpdates struct {
	PositionRepository
	err error
}

func (f failingPositionUpdates) Update(ctx context.Context, position *domain.Position) error {
	return f.err
}

func TestRespond_ClearingFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	ctx := context.Background()
	d := f.propose(t)

	_, err := f.svc.Respond(ctx, d.ID, "B", true)
	require.NoError(t, err)

	f.svc.positions = failingPositionUpdates{PositionRepository: f.store.Positions(), err: stderrors.New("write failed")}
	after, err := f.svc.Respond(ctx, d.ID, "C", true)
	require.NoError(t, err)

	assert.Equal(t, domain.LoopStatusFailed, after.Status)
	assert.Contains(t, after.Metadata["failure"], "clearing incomplete")
	assert.NotNil(t, after.Metadata["outcomes"])
	assert.NotEmpty(t, f.conn.Transfers())

	stored, err := f.svc.GetLoop(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoopStatusFailed, stored.Status)
}

func TestRespond_InvalidatedBeforeExecution(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	ctx := context.Background()
	d := f.propose(t)

	open, err := f.store.Positions().FindOpenEdge(ctx, "B", "C", domain.USD)
	require.NoError(t, err)
	open[0].Amount = decimal.NewFromInt(10)
	require.NoError(t, f.store.Positions().Update(ctx, open[0]))

	_, err = f.svc.Respond(ctx, d.ID, "B", true)
	require.NoError(t, err)
	after, err := f.svc.Respond(ctx, d.ID, "C", true)
	require.NoError(t, err)

	assert.Equal(t, domain.LoopStatusFailed, after.Status)
	assert.Equal(t, errors.ErrLoopInvalidated.Error(), after.Metadata["failure"])
	assert.Empty(t, f.conn.Transfers())
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	f.triangle(t)
	ctx := context.Background()
	d := f.propose(t)

	n, err := f.svc.ExpireStale(ctx, f.clock.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.ExpireStale(ctx, f.clock.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loops, err := f.svc.ListLoops(ctx, domain.LoopStatusExpired)
	require.NoError(t, err)
	require.Len(t, loops, 1)
	assert.Equal(t, d.ID, loops[0].ID)
}

func TestQuoteFee(t *testing.T) {
	f := newFixture(t)
	q := f.svc.QuoteFee(&FeeQuoteRequest{Participants: 4, TotalValue: decimal.NewFromInt(5000)})
	assert.Equal(t, int64(35), q.Fee)
	assert.NotEmpty(t, q.Schedule)
}
