// ==============================================================================
// LOOP SERVICE - internal/loop/service.go
// ==============================================================================
// Detection, proposal, acceptance and execution of netting loops.
//
// Lifecycle: pending → verified → completed | failed, or pending → rejected
// | expired. The initiator accepts on proposal; every other participant
// responds explicitly. Once all have accepted the loop is re-checked against
// current positions, executed, and on success cleared from the positions
// along its cycle.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"debtloop/internal/domain"
	"debtloop/internal/netting"
	"debtloop/internal/settlement"
	"debtloop/pkg/cache"
	"debtloop/pkg/errors"
	"debtloop/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds the loop service settings.
type Config struct {
	DefaultCurrency domain.Currency
	MalformedPolicy netting.MalformedPolicy
	LoopTTL         time.Duration
	ResultCacheTTL  time.Duration
}

type Service struct {
	engine    *netting.Engine
	snapshots SnapshotReader
	companies CompanyRepository
	positions PositionRepository
	loops     Repository
	executor  Executor
	cache     ResultCache
	cfg       Config
	logger    logger.Logger
	now       func() time.Time

	// respondMu serializes responses so exactly one caller sees the final
	// acceptance and executes the loop.
	respondMu sync.Mutex
}

func NewService(
	engine *netting.Engine,
	snapshots SnapshotReader,
	companies CompanyRepository,
	positions PositionRepository,
	loops Repository,
	executor Executor,
	resultCache ResultCache,
	cfg Config,
	log logger.Logger,
) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = domain.USD
	}
	if cfg.LoopTTL <= 0 {
		cfg.LoopTTL = 72 * time.Hour
	}
	return &Service{
		engine:    engine,
		snapshots: snapshots,
		companies: companies,
		positions: positions,
		loops:     loops,
		executor:  executor,
		cache:     resultCache,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

// Candidate is a detected loop with its quoted fee.
type Candidate struct {
	netting.Loop
	Currency domain.Currency `json:"currency"`
	Fee      int64           `json:"fee"`
}

type DetectRequest struct {
	Initiator string          `json:"initiator,omitempty"`
	Currency  domain.Currency `json:"currency,omitempty" validate:"omitempty,currency_code"`
	MaxDepth  int             `json:"max_depth,omitempty" validate:"omitempty,min=3,max=8"`
}

type DetectResponse struct {
	Currency   domain.Currency    `json:"currency"`
	MaxDepth   int                `json:"max_depth"`
	Candidates []Candidate        `json:"candidates"`
	Stats      netting.BuildStats `json:"stats"`
	Cached     bool               `json:"cached"`
}

// Detect runs the engine over a fresh snapshot of open positions in one
// currency. Results are cached per currency and depth until the next
// position write.
func (s *Service) Detect(ctx context.Context, req DetectRequest) (*DetectResponse, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	depth := req.MaxDepth
	if depth <= 0 {
		depth = s.engine.Options().MaxDepth
	}

	if req.Initiator != "" {
		if _, err := s.companies.FindByAnonymousID(ctx, req.Initiator); err != nil {
			return nil, err
		}
	}

	resp, key := s.cachedDetection(ctx, currency, depth)
	if resp == nil {
		snap, err := s.snapshots.Snapshot(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to snapshot positions")
		}

		g, stats, err := netting.BuildGraph(snap.CompanyIDs(), snap.PositionsIn(currency), s.cfg.MalformedPolicy)
		if err != nil {
			return nil, err
		}

		loops, err := s.engine.Detect(ctx, g, depth)
		if err != nil {
			return nil, err
		}

		resp = &DetectResponse{
			Currency:   currency,
			MaxDepth:   depth,
			Candidates: make([]Candidate, 0, len(loops)),
			Stats:      stats,
		}
		for _, l := range loops {
			resp.Candidates = append(resp.Candidates, Candidate{
				Loop:     l,
				Currency: currency,
				Fee:      s.engine.CalculateFee(l),
			})
		}

		if stats.SkippedMalformed > 0 {
			s.logger.Warn("Malformed positions skipped during detection", map[string]interface{}{
				"currency": currency,
				"skipped":  stats.SkippedMalformed,
			})
		}

		s.storeDetection(ctx, key, resp)
	}

	if req.Initiator != "" {
		filtered := make([]Candidate, 0, len(resp.Candidates))
		for _, c := range resp.Candidates {
			if contains(c.Participants, req.Initiator) {
				filtered = append(filtered, c)
			}
		}
		resp.Candidates = filtered
	}

	s.logger.Info("Loop detection completed", map[string]interface{}{
		"currency":   currency,
		"max_depth":  depth,
		"candidates": len(resp.Candidates),
		"cached":     resp.Cached,
	})

	return resp, nil
}

func (s *Service) cachedDetection(ctx context.Context, currency domain.Currency, depth int) (*DetectResponse, string) {
	if s.cache == nil {
		return nil, ""
	}

	var generation int64
	if err := s.cache.Get(ctx, cache.DetectionGenerationKey, &generation); err != nil && !cache.IsMiss(err) {
		s.logger.Warn("Detection cache unavailable", map[string]interface{}{"error": err.Error()})
		return nil, ""
	}

	key := fmt.Sprintf("netting:detect:%s:%d:%d", currency, depth, generation)
	var resp DetectResponse
	if err := s.cache.Get(ctx, key, &resp); err != nil {
		return nil, key
	}
	resp.Cached = true
	return &resp, key
}

func (s *Service) storeDetection(ctx context.Context, key string, resp *DetectResponse) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.Set(ctx, key, resp, s.cfg.ResultCacheTTL); err != nil {
		s.logger.Warn("Failed to cache detection result", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

type ProposeRequest struct {
	Initiator    string          `json:"initiator" validate:"required"`
	Participants []string        `json:"participants" validate:"required,min=3,dive,required"`
	Currency     domain.Currency `json:"currency,omitempty" validate:"omitempty,currency_code"`
}

// Detail is a loop together with its participant rows.
type Detail struct {
	*domain.Loop
	Participants []*domain.LoopParticipant `json:"participants"`
}

// Propose persists a pending loop over participants, given in cycle order.
func (s *Service) Propose(ctx context.Context, req *ProposeRequest) (*Detail, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	if !contains(req.Participants, req.Initiator) {
		return nil, errors.ErrNotParticipant
	}

	initiator, err := s.companies.FindByAnonymousID(ctx, req.Initiator)
	if err != nil {
		return nil, err
	}

	g, err := s.currentGraph(ctx, currency)
	if err != nil {
		return nil, err
	}
	netted, ok := netting.CalculateSettlement(g, req.Participants)
	if !ok {
		return nil, errors.ErrLoopInvalidated
	}

	fee := s.engine.CalculateFee(*netted)
	if initiator.TokenBalance < fee {
		return nil, errors.ErrInsufficientTokens
	}

	now := s.now()
	loop := &domain.Loop{
		ID:             uuid.New(),
		Reference:      fmt.Sprintf("LP-%d-%s", now.Unix(), uuid.New().String()[:8]),
		Status:         domain.LoopStatusPending,
		ParticipantIDs: append([]string(nil), netted.Participants...),
		Settlements:    domain.SettlementMap(netted.Settlements),
		TotalValue:     netted.TotalValue,
		Efficiency:     netted.Efficiency,
		Currency:       currency,
		Fee:            fee,
		CreatedBy:      req.Initiator,
		Metadata:       domain.Metadata{},
		ExpiresAt:      now.Add(s.cfg.LoopTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	participants := make([]*domain.LoopParticipant, 0, len(netted.Participants))
	for _, id := range netted.Participants {
		p := &domain.LoopParticipant{
			ID:               uuid.New(),
			LoopID:           loop.ID,
			CompanyID:        id,
			SettlementAmount: netted.Settlements[id],
			Decision:         domain.DecisionPending,
			CreatedAt:        now,
		}
		if id == req.Initiator {
			p.Decision = domain.DecisionAccepted
			p.RespondedAt = &now
		}
		participants = append(participants, p)
	}

	if err := s.loops.Create(ctx, loop, participants); err != nil {
		return nil, err
	}

	s.logger.Info("Loop proposed", map[string]interface{}{
		"loop_id":      loop.ID,
		"reference":    loop.Reference,
		"initiator":    req.Initiator,
		"participants": len(participants),
		"total_value":  loop.TotalValue.String(),
		"fee":          fee,
	})

	return &Detail{Loop: loop, Participants: participants}, nil
}

// Respond records companyID's decision. A rejection ends the loop; the last
// acceptance verifies and executes it.
func (s *Service) Respond(ctx context.Context, loopID uuid.UUID, companyID string, accept bool) (*Detail, error) {
	s.respondMu.Lock()
	defer s.respondMu.Unlock()

	loop, err := s.loops.FindByID(ctx, loopID)
	if err != nil {
		return nil, err
	}
	if loop.Status != domain.LoopStatusPending {
		return nil, errors.ErrLoopNotPending
	}
	if !loop.HasParticipant(companyID) {
		return nil, errors.ErrNotParticipant
	}

	now := s.now()
	if now.After(loop.ExpiresAt) {
		loop.Status = domain.LoopStatusExpired
		if err := s.loops.Update(ctx, loop); err != nil {
			return nil, err
		}
		return nil, errors.ErrLoopExpired
	}

	participants, err := s.loops.FindParticipants(ctx, loopID)
	if err != nil {
		return nil, err
	}

	var responder *domain.LoopParticipant
	for _, p := range participants {
		if p.CompanyID == companyID {
			responder = p
		}
	}
	if responder == nil {
		return nil, errors.ErrNotParticipant
	}
	if responder.Decision != domain.DecisionPending {
		return nil, errors.ErrAlreadyResponded
	}

	responder.Decision = domain.DecisionRejected
	if accept {
		responder.Decision = domain.DecisionAccepted
	}
	responder.RespondedAt = &now
	if err := s.loops.UpdateParticipant(ctx, responder); err != nil {
		return nil, err
	}

	s.logger.Info("Loop response recorded", map[string]interface{}{
		"loop_id":  loop.ID,
		"company":  companyID,
		"decision": responder.Decision,
	})

	if !accept {
		loop.Status = domain.LoopStatusRejected
		if err := s.loops.Update(ctx, loop); err != nil {
			return nil, err
		}
		return &Detail{Loop: loop, Participants: participants}, nil
	}

	for _, p := range participants {
		if p.Decision != domain.DecisionAccepted {
			return &Detail{Loop: loop, Participants: participants}, nil
		}
	}

	loop.Status = domain.LoopStatusVerified
	if err := s.loops.Update(ctx, loop); err != nil {
		return nil, err
	}

	if err := s.execute(ctx, loop, participants); err != nil {
		return nil, err
	}
	return &Detail{Loop: loop, Participants: participants}, nil
}

// execute moves value for a verified loop and records the result on loop.
// Every failure after verification ends in status failed with the reason in
// metadata; the returned error means that status could not be saved.
func (s *Service) execute(ctx context.Context, loop *domain.Loop, participants []*domain.LoopParticipant) error {
	fail := func(reason string) error {
		loop.Status = domain.LoopStatusFailed
		loop.Metadata = withMetadata(loop.Metadata, "failure", reason)
		s.logger.Warn("Loop execution failed", map[string]interface{}{
			"loop_id": loop.ID,
			"reason":  reason,
		})
		return s.loops.Update(ctx, loop)
	}

	g, err := s.currentGraph(ctx, loop.Currency)
	if err != nil {
		return fail(err.Error())
	}
	if !stillCovers(g, loop) {
		return fail(errors.ErrLoopInvalidated.Error())
	}

	plan := settlement.Plan{
		LoopID:    loop.ID,
		Reference: loop.Reference,
		Currency:  loop.Currency,
	}
	for _, id := range loop.ParticipantIDs {
		company, err := s.companies.FindByAnonymousID(ctx, id)
		if err != nil {
			return fail(err.Error())
		}
		leg := settlement.Leg{CompanyID: id, Amount: loop.Settlements[id]}
		if company.PaymentHandle != nil {
			leg.Handle = *company.PaymentHandle
		}
		plan.Legs = append(plan.Legs, leg)
	}

	outcomes, err := s.executor.Execute(ctx, plan)
	if err != nil {
		return fail(err.Error())
	}
	loop.Metadata = withMetadata(loop.Metadata, "outcomes", outcomes)

	for _, o := range outcomes {
		if o.Reference == "" {
			continue
		}
		for _, p := range participants {
			if p.CompanyID == o.CompanyID {
				ref := o.Reference
				p.ExecutionRef = &ref
				// the reference is kept in metadata outcomes either way
				if err := s.loops.UpdateParticipant(ctx, p); err != nil {
					s.logger.Error("Failed to record execution reference", map[string]interface{}{
						"loop_id": loop.ID,
						"company": p.CompanyID,
						"error":   err.Error(),
					})
				}
			}
		}
	}

	if !settlement.AllSucceeded(outcomes) {
		return fail(errors.ErrExecutionRejected.Error())
	}

	if err := s.clear(ctx, loop); err != nil {
		return fail("clearing incomplete after execution: " + err.Error())
	}

	if err := s.companies.AdjustTokenBalance(ctx, loop.CreatedBy, -loop.Fee); err != nil {
		loop.Metadata = withMetadata(loop.Metadata, "fee_error", err.Error())
		s.logger.Error("Failed to charge loop fee", map[string]interface{}{
			"loop_id":   loop.ID,
			"initiator": loop.CreatedBy,
			"fee":       loop.Fee,
			"error":     err.Error(),
		})
	}

	completed := s.now()
	loop.Status = domain.LoopStatusCompleted
	loop.CompletedAt = &completed
	if err := s.loops.Update(ctx, loop); err != nil {
		return err
	}

	s.invalidate(ctx)

	s.logger.Info("Loop completed", map[string]interface{}{
		"loop_id":     loop.ID,
		"reference":   loop.Reference,
		"total_value": loop.TotalValue.String(),
		"fee":         loop.Fee,
	})
	return nil
}

// clear reduces the positions behind every cycle edge by the loop's
// bottleneck, oldest first. Positions that reach zero are settled.
func (s *Service) clear(ctx context.Context, loop *domain.Loop) error {
	ids := loop.ParticipantIDs
	for i, debtor := range ids {
		creditor := ids[(i+1)%len(ids)]

		positions, err := s.positions.FindOpenEdge(ctx, debtor, creditor, loop.Currency)
		if err != nil {
			return err
		}

		remaining := loop.TotalValue
		for _, p := range positions {
			if !remaining.IsPositive() {
				break
			}
			take := decimal.Min(remaining, p.Amount)
			p.Amount = p.Amount.Sub(take)
			p.IsSettled = !p.Amount.IsPositive()
			remaining = remaining.Sub(take)
			if err := s.positions.Update(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) GetLoop(ctx context.Context, loopID uuid.UUID) (*Detail, error) {
	loop, err := s.loops.FindByID(ctx, loopID)
	if err != nil {
		return nil, err
	}
	participants, err := s.loops.FindParticipants(ctx, loopID)
	if err != nil {
		return nil, err
	}
	return &Detail{Loop: loop, Participants: participants}, nil
}

// ListLoops returns loops with status, or every loop when status is empty.
func (s *Service) ListLoops(ctx context.Context, status domain.LoopStatus) ([]*domain.Loop, error) {
	return s.loops.List(ctx, status)
}

// ActiveLoops returns the pending loops companyID takes part in.
func (s *Service) ActiveLoops(ctx context.Context, companyID string) ([]*domain.Loop, error) {
	if _, err := s.companies.FindByAnonymousID(ctx, companyID); err != nil {
		return nil, err
	}
	return s.loops.FindByParticipant(ctx, companyID, domain.LoopStatusPending)
}

// ExpireStale marks pending loops past their expiry as expired and returns
// how many were changed.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.respondMu.Lock()
	defer s.respondMu.Unlock()

	stale, err := s.loops.FindExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, l := range stale {
		if l.Status != domain.LoopStatusPending {
			continue
		}
		l.Status = domain.LoopStatusExpired
		if err := s.loops.Update(ctx, l); err != nil {
			return expired, err
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("Expired stale loops", map[string]interface{}{"count": expired})
	}
	return expired, nil
}

type FeeQuoteRequest struct {
	Participants int             `json:"participants" validate:"required,min=3"`
	TotalValue   decimal.Decimal `json:"total_value" validate:"required,gt=0"`
}

type FeeQuote struct {
	Fee      int64  `json:"fee"`
	Schedule string `json:"schedule"`
}

// QuoteFee prices a hypothetical loop.
func (s *Service) QuoteFee(req *FeeQuoteRequest) FeeQuote {
	l := netting.Loop{
		Participants: make([]string, req.Participants),
		TotalValue:   req.TotalValue,
	}
	return FeeQuote{Fee: s.engine.CalculateFee(l), Schedule: s.engine.FeeSchedule().String()}
}

func (s *Service) currentGraph(ctx context.Context, currency domain.Currency) (*netting.Graph, error) {
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot positions")
	}
	g, _, err := netting.BuildGraph(snap.CompanyIDs(), snap.PositionsIn(currency), s.cfg.MalformedPolicy)
	return g, err
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Increment(ctx, cache.DetectionGenerationKey); err != nil {
		s.logger.Warn("Failed to invalidate detection cache", map[string]interface{}{"error": err.Error()})
	}
}

// stillCovers reports whether every cycle edge still carries at least the
// loop's bottleneck.
func stillCovers(g *netting.Graph, loop *domain.Loop) bool {
	if !netting.ValidateLoop(g, loop.ParticipantIDs) {
		return false
	}
	ids := loop.ParticipantIDs
	for i, from := range ids {
		if g.Weight(from, ids[(i+1)%len(ids)]).LessThan(loop.TotalValue) {
			return false
		}
	}
	return true
}

func withMetadata(m domain.Metadata, key string, value interface{}) domain.Metadata {
	if m == nil {
		m = domain.Metadata{}
	}
	m[key] = value
	return m
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type SnapshotReader interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}

type CompanyRepository interface {
	FindByAnonymousID(ctx context.Context, anonymousID string) (*domain.Company, error)
	AdjustTokenBalance(ctx context.Context, anonymousID string, delta int64) error
}

type PositionRepository interface {
	FindOpenEdge(ctx context.Context, debtor, creditor string, currency domain.Currency) ([]*domain.Position, error)
	Update(ctx context.Context, position *domain.Position) error
}

type Repository interface {
	Create(ctx context.Context, loop *domain.Loop, participants []*domain.LoopParticipant) error
	Update(ctx context.Context, loop *domain.Loop) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Loop, error)
	List(ctx context.Context, status domain.LoopStatus) ([]*domain.Loop, error)
	FindByParticipant(ctx context.Context, companyID string, status domain.LoopStatus) ([]*domain.Loop, error)
	FindExpired(ctx context.Context, now time.Time) ([]*domain.Loop, error)
	FindParticipants(ctx context.Context, loopID uuid.UUID) ([]*domain.LoopParticipant, error)
	UpdateParticipant(ctx context.Context, participant *domain.LoopParticipant) error
}

type Executor interface {
	Execute(ctx context.Context, plan settlement.Plan) ([]settlement.Outcome, error)
}

// ResultCache stores detection results; the Redis cache satisfies it.
type ResultCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Increment(ctx context.Context, key string) (int64, error)
}
