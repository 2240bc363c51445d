package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/punchamoorthee/adauction/internal/domain"
	"github.com/punchamoorthee/adauction/internal/service"
)

var (
	_ service.Store            = (*Memory)(nil)
	_ service.IdempotencyStore = (*Memory)(nil)
)

// Memory keeps the ledger in process memory. It is used when no database is
// configured and in tests.
type Memory struct {
	mu          sync.RWMutex
	state       domain.State
	bids        []domain.BidRecord
	withdrawals []domain.Withdrawal
	keys        map[string]*domain.IdempotencyRecord
}

func NewMemory(owner domain.Address) *Memory {
	return &Memory{
		state: domain.NewState(owner),
		keys:  map[string]*domain.IdempotencyRecord{},
	}
}

func (m *Memory) Snapshot(ctx context.Context) (domain.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *Memory) Update(ctx context.Context, fn func(st *domain.State) (domain.Event, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state
	ev, err := fn(&st)
	if err != nil {
		return err
	}
	switch {
	case ev.Bid != nil:
		m.bids = append(m.bids, *ev.Bid)
	case ev.Withdrawal != nil:
		m.withdrawals = append(m.withdrawals, *ev.Withdrawal)
	}
	m.state = st
	return nil
}

func (m *Memory) History(ctx context.Context, q domain.HistoryQuery) ([]domain.BidRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterHistory(m.bids, m.state.Sequence, q), nil
}

// Withdrawals returns every recorded withdrawal, oldest first.
func (m *Memory) Withdrawals(ctx context.Context) ([]domain.Withdrawal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Withdrawal(nil), m.withdrawals...), nil
}

func (m *Memory) ReserveKey(ctx context.Context, key, requestHash string) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.keys[key]; ok {
		if rec.RequestHash != requestHash {
			return nil, service.ErrIdempotencyMismatch
		}
		if rec.Status != domain.IdempotencyCompleted {
			return nil, service.ErrIdempotencyConflict
		}
		cp := *rec
		return &cp, nil
	}
	m.keys[key] = &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyInProgress,
	}
	return nil, nil
}

func (m *Memory) CompleteKey(ctx context.Context, key string, status int, body json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.keys[key]
	if !ok {
		return nil
	}
	rec.Status = domain.IdempotencyCompleted
	rec.ResponseStatus = status
	rec.ResponseBody = append(json.RawMessage(nil), body...)
	return nil
}

func (m *Memory) ReleaseKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.keys[key]; ok && rec.Status == domain.IdempotencyInProgress {
		delete(m.keys, key)
	}
	return nil
}
