package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/adauction/internal/domain"
	"github.com/punchamoorthee/adauction/internal/service"
)

//go:embed schema.sql
var schema string

const selectState = `SELECT owner, holder, display_text, display_image_url,
	high_bid::text, custody_balance::text, last_bid_at, sequence_id
	FROM auction_state WHERE id = 1`

var (
	_ service.Store            = (*Store)(nil)
	_ service.IdempotencyStore = (*Store)(nil)
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

// Deploy creates the ledger row owned by owner. Deploying again with the same
// owner is a no-op.
func (s *Store) Deploy(ctx context.Context, owner domain.Address) (domain.State, error) {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO auction_state (id, owner, holder) VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING",
		owner.String(), domain.NoHolder.String(),
	)
	if err != nil {
		return domain.State{}, fmt.Errorf("ledger insert failed: %w", err)
	}
	st, err := s.Snapshot(ctx)
	if err != nil {
		return domain.State{}, err
	}
	if st.Owner != owner {
		return st, service.ErrOwnerMismatch
	}
	return st, nil
}

func (s *Store) Snapshot(ctx context.Context) (domain.State, error) {
	return scanState(s.Db.QueryRow(ctx, selectState))
}

// Update locks the singleton ledger row for the duration of fn. Read Committed
// makes a waiting transaction see the row as committed by its predecessor.
func (s *Store) Update(ctx context.Context, fn func(st *domain.State) (domain.Event, error)) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := scanState(tx.QueryRow(ctx, selectState+" FOR UPDATE"))
	if err != nil {
		return err
	}

	ev, err := fn(&st)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE auction_state SET holder = $1, display_text = $2, display_image_url = $3,
		high_bid = $4::numeric, custody_balance = $5::numeric, last_bid_at = $6, sequence_id = $7
		WHERE id = 1`,
		st.Holder.String(), st.Text, st.ImageURL,
		st.HighBid.String(), st.Custody.String(), st.LastBidAt, int64(st.Sequence),
	)
	if err != nil {
		return fmt.Errorf("ledger update failed: %w", err)
	}

	switch {
	case ev.Bid != nil:
		b := ev.Bid
		_, err = tx.Exec(ctx,
			"INSERT INTO bids (sequence_id, bidder, display_text, display_image_url, amount, created_at) VALUES ($1, $2, $3, $4, $5::numeric, $6)",
			int64(b.SequenceID), b.Bidder.String(), b.Text, b.ImageURL, b.Amount.String(), b.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("bid insert failed: %w", err)
		}
	case ev.Withdrawal != nil:
		w := ev.Withdrawal
		_, err = tx.Exec(ctx,
			"INSERT INTO withdrawals (owner, amount, created_at) VALUES ($1, $2::numeric, $3)",
			w.Owner.String(), w.Amount.String(), w.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("withdrawal insert failed: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// History retrieves accepted bids in ascending sequence order.
func (s *Store) History(ctx context.Context, q domain.HistoryQuery) ([]domain.BidRecord, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT sequence_id, bidder, display_text, display_image_url, amount::text, created_at
		FROM bids
		WHERE sequence_id >= $1
		  AND ($2::bigint = 0 OR sequence_id <= $2::bigint)
		  AND (NOT $3::boolean OR sequence_id <> (SELECT sequence_id FROM auction_state WHERE id = 1))
		ORDER BY sequence_id
		LIMIT NULLIF($4::bigint, 0)`,
		int64(q.From), int64(q.To), q.ExcludeCurrent, int64(q.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	bids := []domain.BidRecord{}
	for rows.Next() {
		var (
			b      domain.BidRecord
			seq    int64
			bidder string
			amount string
		)
		if err := rows.Scan(&seq, &bidder, &b.Text, &b.ImageURL, &amount, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("history scan failed: %w", err)
		}
		b.SequenceID = uint64(seq)
		b.Bidder = domain.Address(bidder)
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("history amount: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// Withdrawals returns every recorded withdrawal, oldest first.
func (s *Store) Withdrawals(ctx context.Context) ([]domain.Withdrawal, error) {
	rows, err := s.Db.Query(ctx, "SELECT owner, amount::text, created_at FROM withdrawals ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Withdrawal
	for rows.Next() {
		var w domain.Withdrawal
		var owner, amount string
		if err := rows.Scan(&owner, &amount, &w.Timestamp); err != nil {
			return nil, err
		}
		w.Owner = domain.Address(owner)
		if w.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ReserveKey(ctx context.Context, key, requestHash string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	var body string
	err := s.Db.QueryRow(ctx,
		"SELECT request_hash, status, COALESCE(response_status, 0), COALESCE(response_body::text, '') FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&rec.RequestHash, &rec.Status, &rec.ResponseStatus, &body)

	if err == nil {
		if rec.RequestHash != requestHash {
			return nil, service.ErrIdempotencyMismatch
		}
		if rec.Status != domain.IdempotencyCompleted {
			return nil, service.ErrIdempotencyConflict
		}
		rec.Key = key
		rec.ResponseBody = json.RawMessage(body)
		return &rec, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	_, err = s.Db.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)",
		key, requestHash, domain.IdempotencyInProgress,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, service.ErrIdempotencyConflict
		}
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}
	return nil, nil
}

func (s *Store) CompleteKey(ctx context.Context, key string, status int, body json.RawMessage) error {
	_, err := s.Db.Exec(ctx,
		"UPDATE idempotency_keys SET status = $1, response_status = $2, response_body = $3::jsonb WHERE key = $4",
		domain.IdempotencyCompleted, status, string(body), key,
	)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.Db.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE key = $1 AND status = $2",
		key, domain.IdempotencyInProgress,
	)
	return err
}

func scanState(row pgx.Row) (domain.State, error) {
	var (
		st               domain.State
		owner, holder    string
		highBid, custody string
		seq              int64
	)
	err := row.Scan(&owner, &holder, &st.Text, &st.ImageURL, &highBid, &custody, &st.LastBidAt, &seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.State{}, service.ErrNotDeployed
		}
		return domain.State{}, fmt.Errorf("ledger query failed: %w", err)
	}
	st.Owner = domain.Address(owner)
	st.Holder = domain.Address(holder)
	st.Sequence = uint64(seq)
	if st.HighBid, err = decimal.NewFromString(highBid); err != nil {
		return domain.State{}, fmt.Errorf("high bid: %w", err)
	}
	if st.Custody, err = decimal.NewFromString(custody); err != nil {
		return domain.State{}, fmt.Errorf("custody balance: %w", err)
	}
	return st, nil
}
