package service

import (
	"context"
	"encoding/json"

	"github.com/punchamoorthee/adauction/internal/domain"
)

// IdempotencyStore tracks Idempotency-Key headers for exactly-once bid
// submission.
type IdempotencyStore interface {
	// ReserveKey marks key as in progress. It returns the stored record when
	// the key already completed with the same request hash, ErrIdempotencyMismatch
	// when the hash differs and ErrIdempotencyConflict while another request
	// holds the key.
	ReserveKey(ctx context.Context, key, requestHash string) (*domain.IdempotencyRecord, error)
	CompleteKey(ctx context.Context, key string, status int, body json.RawMessage) error
	// ReleaseKey drops an in-progress reservation so the key can be retried.
	ReleaseKey(ctx context.Context, key string) error
}
