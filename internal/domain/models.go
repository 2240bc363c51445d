package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// State is the full ledger record. It is created once at deployment and only
// changed through accepted bids and owner withdrawals.
type State struct {
	Owner     Address
	Holder    Address
	Text      string
	ImageURL  string
	HighBid   decimal.Decimal
	LastBidAt int64 // unix seconds, 0 until the first accepted bid
	Custody   decimal.Decimal
	Sequence  uint64
}

// NewState returns the state of a freshly deployed ledger.
func NewState(owner Address) State {
	return State{
		Owner:   owner,
		Holder:  NoHolder,
		HighBid: decimal.Zero,
		Custody: decimal.Zero,
	}
}

// Snapshot returns the public view of the state.
func (s State) Snapshot() Snapshot {
	return Snapshot{
		SequenceID: s.Sequence,
		Owner:      s.Owner,
		Holder:     s.Holder,
		Text:       s.Text,
		ImageURL:   s.ImageURL,
		HighBid:    s.HighBid,
		LastBidAt:  s.LastBidAt,
	}
}

// Snapshot is what the display layer reads on initial load.
type Snapshot struct {
	SequenceID uint64          `json:"sequence_id"`
	Owner      Address         `json:"owner"`
	Holder     Address         `json:"holder"`
	Text       string          `json:"text"`
	ImageURL   string          `json:"image_url"`
	HighBid    decimal.Decimal `json:"high_bid"`
	LastBidAt  int64           `json:"last_bid_at"`
}

// BidRequest is the payload from the client.
type BidRequest struct {
	Text     string          `json:"text"`
	ImageURL string          `json:"image_url"`
	Amount   decimal.Decimal `json:"amount"`
}

// BidRecord is the immutable record of an accepted bid.
type BidRecord struct {
	SequenceID uint64          `json:"sequence_id"`
	Bidder     Address         `json:"bidder"`
	Text       string          `json:"text"`
	ImageURL   string          `json:"image_url"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  int64           `json:"timestamp"`
}

// Withdrawal records the owner draining the custody balance.
type Withdrawal struct {
	Owner     Address         `json:"owner"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"`
}

type EventKind string

const (
	BidAccepted    EventKind = "bid_accepted"
	FundsWithdrawn EventKind = "funds_withdrawn"
)

// Event is a committed ledger change. Exactly one of Bid and Withdrawal is set.
type Event struct {
	Kind       EventKind
	Bid        *BidRecord
	Withdrawal *Withdrawal
}

// Payload returns the record carried by the event.
func (e Event) Payload() any {
	if e.Bid != nil {
		return e.Bid
	}
	return e.Withdrawal
}

// HistoryQuery selects past accepted bids by sequence id. Zero bounds are open.
type HistoryQuery struct {
	From           uint64
	To             uint64
	Limit          int
	ExcludeCurrent bool
}

// IdempotencyRecord holds the state of a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Status         string
	ResponseBody   json.RawMessage
	ResponseStatus int
}

const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)
