// Package memory provides an in-process implementation of the netting
// repositories. It backs tests, demos and single-node deployments without
// Postgres. Every read returns copies so callers never share state with
// the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"debtloop/internal/domain"
	"debtloop/pkg/errors"

	"github.com/google/uuid"
)

// Store holds companies, positions and loops behind a single lock.
type Store struct {
	mu           sync.RWMutex
	companies    []*domain.Company
	positions    []*domain.Position
	loops        map[uuid.UUID]*domain.Loop
	participants map[uuid.UUID][]*domain.LoopParticipant
}

func NewStore() *Store {
	return &Store{
		loops:        make(map[uuid.UUID]*domain.Loop),
		participants: make(map[uuid.UUID][]*domain.LoopParticipant),
	}
}

// Companies returns the company repository view.
func (s *Store) Companies() *CompanyRepository { return &CompanyRepository{s: s} }

// Positions returns the position repository view.
func (s *Store) Positions() *PositionRepository { return &PositionRepository{s: s} }

// Loops returns the loop repository view.
func (s *Store) Loops() *LoopRepository { return &LoopRepository{s: s} }

// Snapshot copies every company and every unsettled position under one read lock.
func (s *Store) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &domain.Snapshot{
		Companies: make([]domain.Company, 0, len(s.companies)),
		Positions: make([]domain.Position, 0, len(s.positions)),
		TakenAt:   time.Now().UTC(),
	}
	for _, c := range s.companies {
		snap.Companies = append(snap.Companies, *c)
	}
	for _, p := range s.positions {
		if !p.IsSettled {
			snap.Positions = append(snap.Positions, *p)
		}
	}
	return snap, nil
}

type CompanyRepository struct {
	s *Store
}

func (r *CompanyRepository) Create(ctx context.Context, company *domain.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.companies {
		if c.AnonymousID == company.AnonymousID || c.ID == company.ID {
			return errors.ErrCompanyAlreadyExists
		}
	}
	c := *company
	r.s.companies = append(r.s.companies, &c)
	return nil
}

func (r *CompanyRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, c := range r.s.companies {
		if c.ID == id {
			out := *c
			return &out, nil
		}
	}
	return nil, errors.ErrCompanyNotFound
}

func (r *CompanyRepository) FindByAnonymousID(ctx context.Context, anonymousID string) (*domain.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if c := r.s.companyLocked(anonymousID); c != nil {
		out := *c
		return &out, nil
	}
	return nil, errors.ErrCompanyNotFound
}

func (r *CompanyRepository) List(ctx context.Context) ([]*domain.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*domain.Company, 0, len(r.s.companies))
	for _, c := range r.s.companies {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *CompanyRepository) AdjustTokenBalance(ctx context.Context, anonymousID string, delta int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := r.s.companyLocked(anonymousID)
	if c == nil {
		return errors.ErrCompanyNotFound
	}
	if c.TokenBalance+delta < 0 {
		return errors.ErrInsufficientTokens
	}
	c.TokenBalance += delta
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) companyLocked(anonymousID string) *domain.Company {
	for _, c := range s.companies {
		if c.AnonymousID == anonymousID {
			return c
		}
	}
	return nil
}

type PositionRepository struct {
	s *Store
}

func (r *PositionRepository) Create(ctx context.Context, position *domain.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p := *position
	r.s.positions = append(r.s.positions, &p)
	return nil
}

// Update persists amount and settlement state only.
func (r *PositionRepository) Update(ctx context.Context, position *domain.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.positions {
		if p.ID == position.ID {
			p.Amount = position.Amount
			p.IsSettled = position.IsSettled
			p.UpdatedAt = time.Now()
			position.UpdatedAt = p.UpdatedAt
			return nil
		}
	}
	return errors.ErrPositionNotFound
}

func (r *PositionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.positions {
		if p.ID == id {
			out := *p
			return &out, nil
		}
	}
	return nil, errors.ErrPositionNotFound
}

func (r *PositionRepository) FindByOwner(ctx context.Context, ownerID string) ([]*domain.Position, error) {
	return r.filter(func(p *domain.Position) bool { return p.OwnerID == ownerID }), nil
}

// FindOpenEdge returns unsettled positions forming debtor→creditor, oldest first.
func (r *PositionRepository) FindOpenEdge(ctx context.Context, debtor, creditor string, currency domain.Currency) ([]*domain.Position, error) {
	return r.filter(func(p *domain.Position) bool {
		if p.IsSettled || p.Currency != currency {
			return false
		}
		switch p.Role {
		case domain.PositionRoleDebt:
			return p.OwnerID == debtor && p.CounterpartyID == creditor
		case domain.PositionRoleCredit:
			return p.OwnerID == creditor && p.CounterpartyID == debtor
		}
		return false
	}), nil
}

func (r *PositionRepository) filter(keep func(*domain.Position) bool) []*domain.Position {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Position
	for _, p := range r.s.positions {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type LoopRepository struct {
	s *Store
}

func (r *LoopRepository) Create(ctx context.Context, loop *domain.Loop, participants []*domain.LoopParticipant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l := copyLoop(loop)
	r.s.loops[loop.ID] = l

	rows := make([]*domain.LoopParticipant, 0, len(participants))
	for _, p := range participants {
		cp := *p
		rows = append(rows, &cp)
	}
	r.s.participants[loop.ID] = rows
	return nil
}

func (r *LoopRepository) Update(ctx context.Context, loop *domain.Loop) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.loops[loop.ID]
	if !ok {
		return errors.ErrLoopNotFound
	}
	loop.UpdatedAt = time.Now()
	l.Status = loop.Status
	l.Metadata = copyMetadata(loop.Metadata)
	l.CompletedAt = loop.CompletedAt
	l.UpdatedAt = loop.UpdatedAt
	return nil
}

func (r *LoopRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Loop, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	l, ok := r.s.loops[id]
	if !ok {
		return nil, errors.ErrLoopNotFound
	}
	return copyLoop(l), nil
}

func (r *LoopRepository) List(ctx context.Context, status domain.LoopStatus) ([]*domain.Loop, error) {
	return r.filter(func(l *domain.Loop) bool {
		return status == "" || l.Status == status
	}), nil
}

func (r *LoopRepository) FindByParticipant(ctx context.Context, companyID string, status domain.LoopStatus) ([]*domain.Loop, error) {
	return r.filter(func(l *domain.Loop) bool {
		return l.HasParticipant(companyID) && (status == "" || l.Status == status)
	}), nil
}

func (r *LoopRepository) FindExpired(ctx context.Context, now time.Time) ([]*domain.Loop, error) {
	return r.filter(func(l *domain.Loop) bool {
		return l.Status == domain.LoopStatusPending && !l.ExpiresAt.After(now)
	}), nil
}

func (r *LoopRepository) FindParticipants(ctx context.Context, loopID uuid.UUID) ([]*domain.LoopParticipant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows := r.s.participants[loopID]
	out := make([]*domain.LoopParticipant, 0, len(rows))
	for _, p := range rows {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *LoopRepository) UpdateParticipant(ctx context.Context, participant *domain.LoopParticipant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.participants[participant.LoopID] {
		if p.ID == participant.ID {
			p.Decision = participant.Decision
			p.RespondedAt = participant.RespondedAt
			p.ExecutionRef = participant.ExecutionRef
			return nil
		}
	}
	return errors.ErrNotParticipant
}

func (r *LoopRepository) filter(keep func(*domain.Loop) bool) []*domain.Loop {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Loop
	for _, l := range r.s.loops {
		if keep(l) {
			out = append(out, copyLoop(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Reference > out[j].Reference
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func copyLoop(l *domain.Loop) *domain.Loop {
	out := *l
	out.ParticipantIDs = append([]string(nil), l.ParticipantIDs...)
	out.Settlements = make(domain.SettlementMap, len(l.Settlements))
	for k, v := range l.Settlements {
		out.Settlements[k] = v
	}
	out.Metadata = copyMetadata(l.Metadata)
	return &out
}

func copyMetadata(m domain.Metadata) domain.Metadata {
	if m == nil {
		return nil
	}
	out := make(domain.Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
