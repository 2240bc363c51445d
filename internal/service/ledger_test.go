package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/adauction/internal/domain"
	"github.com/punchamoorthee/adauction/internal/service"
	"github.com/punchamoorthee/adauction/internal/store"
)

const (
	owner    domain.Address = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	bidderA  domain.Address = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	bidderB  domain.Address = "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
	bidderC  domain.Address = "0x90f79bf6eb2c4f870365e785982e1f101e93b906"
	squanchy                = "https://static.wikia.nocookie.net/rickandmorty/images/1/16/Squanchy_.png"
)

var now = time.Unix(1700000000, 0)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func ether(s string) decimal.Decimal {
	amount, err := domain.ParseUnits(s, domain.EtherDecimals)
	if err != nil {
		panic(err)
	}
	return amount
}

func newLedger(t *testing.T) (*service.Ledger, *store.Memory, *recorder) {
	t.Helper()
	mem := store.NewMemory(owner)
	rec := &recorder{}
	ledger := service.NewLedger(mem, rec, zap.NewNop(), service.WithClock(func() time.Time { return now }))
	return ledger, mem, rec
}

func bid(t *testing.T, l *service.Ledger, caller domain.Address, text string, amount decimal.Decimal) (*domain.BidRecord, error) {
	t.Helper()
	return l.SubmitBid(context.Background(), caller, domain.BidRequest{Text: text, ImageURL: squanchy, Amount: amount})
}

func custody(t *testing.T, l *service.Ledger) string {
	t.Helper()
	c, err := l.CustodyBalance(context.Background())
	require.NoError(t, err)
	return c.String()
}

func TestLedger_FreshState(t *testing.T) {
	ledger, _, rec := newLedger(t)

	snap, err := ledger.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, owner, snap.Owner)
	require.Equal(t, domain.NoHolder, snap.Holder)
	require.Equal(t, "", snap.Text)
	require.Equal(t, "", snap.ImageURL)
	require.True(t, snap.HighBid.IsZero())
	require.Zero(t, snap.LastBidAt)
	require.Zero(t, snap.SequenceID)
	require.Equal(t, "0", custody(t, ledger))
	require.Empty(t, rec.all())
}

func TestLedger_FirstBidAccepted(t *testing.T) {
	ledger, _, rec := newLedger(t)

	record, err := bid(t, ledger, bidderA, "squanch", ether("0.01"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), record.SequenceID)
	require.Equal(t, bidderA, record.Bidder)
	require.Equal(t, now.Unix(), record.Timestamp)

	snap, err := ledger.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, bidderA, snap.Holder)
	require.Equal(t, "squanch", snap.Text)
	require.Equal(t, squanchy, snap.ImageURL)
	require.True(t, snap.HighBid.Equal(ether("0.01")))
	require.Equal(t, now.Unix(), snap.LastBidAt)

	events := rec.all()
	require.Len(t, events, 1)
	require.Equal(t, domain.BidAccepted, events[0].Kind)
	require.Equal(t, *record, *events[0].Bid)
}

func TestLedger_ZeroBidOnFreshLedgerRejected(t *testing.T) {
	ledger, _, rec := newLedger(t)

	_, err := bid(t, ledger, bidderA, "free", decimal.Zero)
	require.ErrorIs(t, err, service.ErrInsufficientBid)
	require.Empty(t, rec.all())

	snap, err := ledger.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.NoHolder, snap.Holder)
	require.Zero(t, snap.SequenceID)
}

func TestLedger_OutbidAccumulatesCustody(t *testing.T) {
	ledger, _, _ := newLedger(t)

	_, err := bid(t, ledger, bidderA, "squanch", ether("0.01"))
	require.NoError(t, err)
	record, err := bid(t, ledger, bidderB, "squinch", ether("0.02"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), record.SequenceID)

	snap, err := ledger.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, bidderB, snap.Holder)
	require.Equal(t, "squinch", snap.Text)
	require.Equal(t, ether("0.03").String(), custody(t, ledger))
}

func TestLedger_EqualOrLowerBidRejected(t *testing.T) {
	ledger, _, rec := newLedger(t)

	_, err := bid(t, ledger, bidderA, "squanch", ether("0.01"))
	require.NoError(t, err)
	_, err = bid(t, ledger, bidderB, "squinch", ether("0.02"))
	require.NoError(t, err)
	before, err := ledger.State(context.Background())
	require.NoError(t, err)

	for _, amount := range []string{"0.02", "0.01", "0"} {
		_, err = bid(t, ledger, bidderC, "nope", ether(amount))
		require.ErrorIs(t, err, service.ErrInsufficientBid, amount)
	}

	after, err := ledger.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, before.Holder, after.Holder)
	require.Equal(t, before.Text, after.Text)
	require.Equal(t, before.SequenceID, after.SequenceID)
	require.True(t, before.HighBid.Equal(after.HighBid))
	require.Equal(t, ether("0.03").String(), custody(t, ledger))
	require.Len(t, rec.all(), 2)
}

func TestLedger_InvalidAmount(t *testing.T) {
	ledger, _, _ := newLedger(t)

	_, err := bid(t, ledger, bidderA, "neg", decimal.NewFromInt(-5))
	require.ErrorIs(t, err, service.ErrInvalidAmount)
	_, err = bid(t, ledger, bidderA, "frac", decimal.RequireFromString("1.5"))
	require.ErrorIs(t, err, service.ErrInvalidAmount)
}

func TestLedger_EmptyContentAccepted(t *testing.T) {
	ledger, _, _ := newLedger(t)

	_, err := ledger.SubmitBid(context.Background(), bidderA, domain.BidRequest{Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	snap, err := ledger.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, bidderA, snap.Holder)
	require.Equal(t, "", snap.Text)
	require.Equal(t, "", snap.ImageURL)
}

func TestLedger_OwnerWithdraws(t *testing.T) {
	ledger, mem, rec := newLedger(t)

	_, err := bid(t, ledger, bidderA, "squanch", ether("0.01"))
	require.NoError(t, err)
	_, err = bid(t, ledger, bidderB, "squinch", ether("0.02"))
	require.NoError(t, err)

	w, err := ledger.WithdrawFunds(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, owner, w.Owner)
	require.Equal(t, ether("0.03").String(), w.Amount.String())
	require.Equal(t, "0", custody(t, ledger))

	// the recorded high bid survives the withdrawal
	snap, err := ledger.State(context.Background())
	require.NoError(t, err)
	require.True(t, snap.HighBid.Equal(ether("0.02")))
	require.Equal(t, bidderB, snap.Holder)

	events := rec.all()
	require.Len(t, events, 3)
	require.Equal(t, domain.FundsWithdrawn, events[2].Kind)
	require.Equal(t, ether("0.03").String(), events[2].Withdrawal.Amount.String())

	withdrawals, err := mem.Withdrawals(context.Background())
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
}

func TestLedger_WithdrawalAuthority(t *testing.T) {
	ledger, _, _ := newLedger(t)

	// refused on authority even with an empty balance
	_, err := ledger.WithdrawFunds(context.Background(), bidderA)
	require.ErrorIs(t, err, service.ErrNotOwner)

	_, err = bid(t, ledger, bidderA, "squanch", ether("0.02"))
	require.NoError(t, err)
	_, err = bid(t, ledger, bidderB, "squinch", ether("0.021"))
	require.NoError(t, err)

	_, err = ledger.WithdrawFunds(context.Background(), bidderB)
	require.ErrorIs(t, err, service.ErrNotOwner)
	require.Equal(t, ether("0.041").String(), custody(t, ledger))

	w, err := ledger.WithdrawFunds(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, ether("0.041").String(), w.Amount.String())

	_, err = ledger.WithdrawFunds(context.Background(), bidderB)
	require.ErrorIs(t, err, service.ErrNotOwner)
	_, err = ledger.WithdrawFunds(context.Background(), owner)
	require.ErrorIs(t, err, service.ErrNothingToWithdraw)
}

func TestLedger_NothingToWithdrawOnFreshLedger(t *testing.T) {
	ledger, _, rec := newLedger(t)

	_, err := ledger.WithdrawFunds(context.Background(), owner)
	require.ErrorIs(t, err, service.ErrNothingToWithdraw)
	require.Empty(t, rec.all())
}

func TestLedger_CustodyAcrossWithdrawals(t *testing.T) {
	ledger, _, _ := newLedger(t)

	for i, amount := range []int64{10, 20, 30} {
		_, err := bid(t, ledger, bidderA, "a", decimal.NewFromInt(amount))
		require.NoError(t, err, i)
	}
	require.Equal(t, "60", custody(t, ledger))

	_, err := ledger.WithdrawFunds(context.Background(), owner)
	require.NoError(t, err)

	for _, amount := range []int64{31, 45} {
		_, err := bid(t, ledger, bidderB, "b", decimal.NewFromInt(amount))
		require.NoError(t, err)
	}
	require.Equal(t, "76", custody(t, ledger))
}

func TestLedger_SequenceHasNoGaps(t *testing.T) {
	ledger, _, _ := newLedger(t)

	amounts := []int64{5, 5, 3, 7, 7, 8, 1, 10}
	var accepted []uint64
	for _, a := range amounts {
		record, err := bid(t, ledger, bidderA, "x", decimal.NewFromInt(a))
		if errors.Is(err, service.ErrInsufficientBid) {
			continue
		}
		require.NoError(t, err)
		accepted = append(accepted, record.SequenceID)
	}
	require.Equal(t, []uint64{1, 2, 3, 4}, accepted)
}

func TestLedger_History(t *testing.T) {
	ledger, _, _ := newLedger(t)

	for i := int64(1); i <= 5; i++ {
		_, err := bid(t, ledger, bidderA, "x", decimal.NewFromInt(i))
		require.NoError(t, err)
	}

	all, err := ledger.History(context.Background(), domain.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, b := range all {
		require.Equal(t, uint64(i+1), b.SequenceID)
	}

	past, err := ledger.History(context.Background(), domain.HistoryQuery{ExcludeCurrent: true})
	require.NoError(t, err)
	require.Len(t, past, 4)
	require.Equal(t, uint64(4), past[len(past)-1].SequenceID)

	ranged, err := ledger.History(context.Background(), domain.HistoryQuery{From: 2, To: 4})
	require.NoError(t, err)
	require.Len(t, ranged, 3)
	require.Equal(t, uint64(2), ranged[0].SequenceID)

	limited, err := ledger.History(context.Background(), domain.HistoryQuery{From: 3, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, uint64(3), limited[0].SequenceID)
}

func TestLedger_ConcurrentBids(t *testing.T) {
	ledger, _, rec := newLedger(t)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			// every worker competes with the same amount for half the range
			_, _ = bid(t, ledger, bidderA, "x", decimal.NewFromInt(int64(i%25+1)))
		}(i)
	}
	wg.Wait()

	events := rec.all()
	require.NotEmpty(t, events)
	prev := decimal.Zero
	sum := decimal.Zero
	for i, e := range events {
		require.Equal(t, uint64(i+1), e.Bid.SequenceID)
		require.True(t, e.Bid.Amount.GreaterThan(prev))
		prev = e.Bid.Amount
		sum = sum.Add(e.Bid.Amount)
	}
	require.Equal(t, sum.String(), custody(t, ledger))

	snap, err := ledger.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(len(events)), snap.SequenceID)
	require.True(t, snap.HighBid.Equal(prev))
}
