package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/adauction/internal/domain"
)

var (
	ErrInsufficientBid     = errors.New("bid must be higher than the last bid")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrNothingToWithdraw   = errors.New("nothing to withdraw")
	ErrInvalidAmount       = domain.ErrInvalidAmount
	ErrNotDeployed         = errors.New("ledger not deployed")
	ErrOwnerMismatch       = errors.New("ledger already deployed with a different owner")
	ErrIdempotencyConflict = errors.New("request in progress")
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")
)

// Store persists the ledger state and its event log.
type Store interface {
	Snapshot(ctx context.Context) (domain.State, error)
	// Update runs fn against the committed state inside the store's exclusion
	// boundary. The mutated state and the returned event are written together;
	// if fn fails nothing is written.
	Update(ctx context.Context, fn func(st *domain.State) (domain.Event, error)) error
	History(ctx context.Context, q domain.HistoryQuery) ([]domain.BidRecord, error)
}

// Publisher receives committed events in commit order.
type Publisher interface {
	Publish(e domain.Event)
}

type Option func(*Ledger)

// WithClock overrides the time source used for lastBidAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger is the single-slot ascending auction.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewLedger(store Store, publisher Publisher, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SubmitBid makes caller the holder if amount is strictly greater than the
// current high bid. The amount is added to the custody balance; the previous
// holder's funds stay there.
func (l *Ledger) SubmitBid(ctx context.Context, caller domain.Address, req domain.BidRequest) (*domain.BidRecord, error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var record domain.BidRecord
	err := l.store.Update(ctx, func(st *domain.State) (domain.Event, error) {
		if !req.Amount.GreaterThan(st.HighBid) {
			return domain.Event{}, ErrInsufficientBid
		}
		st.Sequence++
		st.Holder = caller
		st.Text = req.Text
		st.ImageURL = req.ImageURL
		st.HighBid = req.Amount
		st.Custody = st.Custody.Add(req.Amount)
		st.LastBidAt = l.now().Unix()

		record = domain.BidRecord{
			SequenceID: st.Sequence,
			Bidder:     caller,
			Text:       req.Text,
			ImageURL:   req.ImageURL,
			Amount:     req.Amount,
			Timestamp:  st.LastBidAt,
		}
		return domain.Event{Kind: domain.BidAccepted, Bid: &record}, nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBid) {
			bidsTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
		bidsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("submit bid: %w", err)
	}

	bidsTotal.WithLabelValues("accepted").Inc()
	highBid.Set(record.Amount.InexactFloat64())
	l.logger.Info("bid accepted",
		zap.Uint64("sequence_id", record.SequenceID),
		zap.String("bidder", record.Bidder.String()),
		zap.String("amount", domain.FormatUnits(record.Amount, domain.EtherDecimals)))

	l.publisher.Publish(domain.Event{Kind: domain.BidAccepted, Bid: &record})
	return &record, nil
}

// WithdrawFunds transfers the whole custody balance to the owner. The owner
// check comes first so a non-owner is refused even when there is nothing to
// withdraw.
func (l *Ledger) WithdrawFunds(ctx context.Context, caller domain.Address) (*domain.Withdrawal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var w domain.Withdrawal
	err := l.store.Update(ctx, func(st *domain.State) (domain.Event, error) {
		if caller != st.Owner {
			return domain.Event{}, ErrNotOwner
		}
		if !st.Custody.IsPositive() {
			return domain.Event{}, ErrNothingToWithdraw
		}
		w = domain.Withdrawal{
			Owner:     st.Owner,
			Amount:    st.Custody,
			Timestamp: l.now().Unix(),
		}
		st.Custody = decimal.Zero
		return domain.Event{Kind: domain.FundsWithdrawn, Withdrawal: &w}, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotOwner):
			withdrawalsTotal.WithLabelValues("not_owner").Inc()
			return nil, err
		case errors.Is(err, ErrNothingToWithdraw):
			withdrawalsTotal.WithLabelValues("empty").Inc()
			return nil, err
		}
		withdrawalsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("withdraw funds: %w", err)
	}

	withdrawalsTotal.WithLabelValues("ok").Inc()
	l.logger.Info("funds withdrawn",
		zap.String("owner", w.Owner.String()),
		zap.String("amount", domain.FormatUnits(w.Amount, domain.EtherDecimals)))

	l.publisher.Publish(domain.Event{Kind: domain.FundsWithdrawn, Withdrawal: &w})
	return &w, nil
}

// State returns a consistent view of the current ad.
func (l *Ledger) State(ctx context.Context) (domain.Snapshot, error) {
	st, err := l.store.Snapshot(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return st.Snapshot(), nil
}

// CustodyBalance returns the amount awaiting withdrawal.
func (l *Ledger) CustodyBalance(ctx context.Context) (decimal.Decimal, error) {
	st, err := l.store.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return st.Custody, nil
}

// History returns past accepted bids in ascending sequence order.
func (l *Ledger) History(ctx context.Context, q domain.HistoryQuery) ([]domain.BidRecord, error) {
	return l.store.History(ctx, q)
}
