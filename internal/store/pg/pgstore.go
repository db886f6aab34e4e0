// Package pg persists auction state in PostgreSQL. It implements the
// persistence interfaces of the core packages; serialization of the
// read-modify-write bid cycle stays with the auction machine.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"meetbid.org/internal/auction"
	"meetbid.org/internal/credential"
	"meetbid.org/internal/ledger"
	"meetbid.org/internal/monitor"
)

type Store struct {
	db *sql.DB
}

// CredentialStore is a view over the same handle; credential.Store and
// auction.Store both declare Put/Get, so one receiver cannot carry both.
type CredentialStore struct {
	db *sql.DB
}

var (
	_ auction.Store         = (*Store)(nil)
	_ ledger.Service        = (*Store)(nil)
	_ credential.Store      = (*CredentialStore)(nil)
	_ monitor.AttemptStore  = (*Store)(nil)
	_ monitor.ResourceStore = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- auction.Store ---

func (s *Store) NextID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := s.db.QueryRowContext(ctx, `select nextval('auction_ids')`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ReserveCorrelationKey(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `
		insert into correlation_keys(key) values ($1)
		on conflict do nothing
	`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auction.ErrDuplicateCorrelationKey
	}
	return nil
}

func (s *Store) ReleaseCorrelationKey(ctx context.Context, key string) error {
	// Releases only reservations no stored auction claimed.
	_, err := s.db.ExecContext(ctx, `
		delete from correlation_keys
		where key = $1
		  and not exists (select 1 from auctions where correlation_key = $1)
	`, key)
	return err
}

func (s *Store) Put(ctx context.Context, a auction.Auction) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auctions(
			id, host, correlation_key, start_time, end_time, reserve_price,
			highest_bid, highest_bidder, meeting_duration_minutes, metadata,
			ended, outcome, settled, platform_amount, host_amount,
			credential_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		on conflict (id) do update set
			end_time = excluded.end_time,
			highest_bid = excluded.highest_bid,
			highest_bidder = excluded.highest_bidder,
			ended = excluded.ended,
			outcome = excluded.outcome,
			settled = excluded.settled,
			platform_amount = excluded.platform_amount,
			host_amount = excluded.host_amount,
			credential_id = excluded.credential_id
	`, a.ID, a.Host, a.CorrelationKey, int64(a.StartTime), int64(a.EndTime), a.ReservePrice,
		a.HighestBid, a.HighestBidder, a.MeetingDurationMinutes, a.Metadata,
		a.Ended, string(a.Outcome), a.Settled, a.PlatformAmount, a.HostAmount,
		a.CredentialID, a.CreatedAt)
	return err
}

const auctionColumns = `
	id, host, correlation_key, start_time, end_time, reserve_price,
	highest_bid, highest_bidder, meeting_duration_minutes, metadata,
	ended, outcome, settled, platform_amount, host_amount,
	credential_id, created_at`

func scanAuction(row interface{ Scan(...any) error }) (auction.Auction, error) {
	var a auction.Auction
	var start, end int64
	var outcome string
	err := row.Scan(&a.ID, &a.Host, &a.CorrelationKey, &start, &end, &a.ReservePrice,
		&a.HighestBid, &a.HighestBidder, &a.MeetingDurationMinutes, &a.Metadata,
		&a.Ended, &outcome, &a.Settled, &a.PlatformAmount, &a.HostAmount,
		&a.CredentialID, &a.CreatedAt)
	if err != nil {
		return auction.Auction{}, err
	}
	a.StartTime = auction.Tick(start)
	a.EndTime = auction.Tick(end)
	a.Outcome = auction.Outcome(outcome)
	return a, nil
}

func (s *Store) Get(ctx context.Context, id uint64) (auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `select `+auctionColumns+` from auctions where id=$1`, id)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Auction{}, auction.ErrNotFound
	}
	return a, err
}

func (s *Store) ListActive(ctx context.Context, limit int) ([]auction.Auction, error) {
	q := `select ` + auctionColumns + ` from auctions where not ended order by id asc`
	args := []any{}
	if limit > 0 {
		q += ` limit $1`
		args = append(args, limit)
	}
	return s.listAuctions(ctx, q, args...)
}

func (s *Store) ListUnsettled(ctx context.Context) ([]auction.Auction, error) {
	return s.listAuctions(ctx, `
		select `+auctionColumns+` from auctions
		where not settled and (not ended or outcome = 'won')
		order by id asc`)
}

func (s *Store) listAuctions(ctx context.Context, query string, args ...any) ([]auction.Auction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- ledger.Service ---

func (s *Store) Credit(ctx context.Context, auctionID uint64, bidder string, amount int64) error {
	if amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into pending_returns(auction_id, bidder, amount)
		values ($1,$2,0) on conflict do nothing
	`, auctionID, bidder); err != nil {
		return err
	}

	var cur int64
	if err := tx.QueryRowContext(ctx, `
		select amount from pending_returns
		where auction_id=$1 and bidder=$2 for update
	`, auctionID, bidder).Scan(&cur); err != nil {
		return err
	}
	if cur > math.MaxInt64-amount {
		return ledger.ErrOverflow
	}

	if _, err := tx.ExecContext(ctx, `
		update pending_returns set amount = amount + $3
		where auction_id=$1 and bidder=$2
	`, auctionID, bidder, amount); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Withdraw(ctx context.Context, auctionID uint64, bidder string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var amount int64
	err = tx.QueryRowContext(ctx, `
		select amount from pending_returns
		where auction_id=$1 and bidder=$2 for update
	`, auctionID, bidder).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrNothingToWithdraw
	}
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ledger.ErrNothingToWithdraw
	}

	if _, err := tx.ExecContext(ctx, `
		delete from pending_returns where auction_id=$1 and bidder=$2
	`, auctionID, bidder); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return amount, nil
}

func (s *Store) Pending(ctx context.Context, auctionID uint64, bidder string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		select coalesce(amount,0) from pending_returns
		where auction_id=$1 and bidder=$2
	`, auctionID, bidder).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (s *Store) HeldTotal(ctx context.Context, auctionID uint64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		select coalesce(sum(amount),0) from pending_returns where auction_id=$1
	`, auctionID).Scan(&total)
	return total, err
}

// --- credential.Store ---

// Credentials returns the credential view of the store.
func (s *Store) Credentials() *CredentialStore { return &CredentialStore{db: s.db} }

func (s *CredentialStore) Put(ctx context.Context, c credential.Credential) error {
	res, err := s.db.ExecContext(ctx, `
		insert into credentials(
			id, auction_id, holder, host_correlation_key, metadata,
			meeting_duration_minutes, minted_at, burned)
		values ($1,$2,$3,$4,$5,$6,$7,false)
		on conflict do nothing
	`, c.ID, c.AuctionID, c.Holder, c.HostCorrelationKey, c.Metadata,
		c.MeetingDurationMinutes, c.MintedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credential.ErrAuctionBound
	}
	return nil
}

func (s *CredentialStore) Get(ctx context.Context, id string) (credential.Credential, error) {
	var c credential.Credential
	var burnedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select id, auction_id, holder, host_correlation_key, metadata,
		       meeting_duration_minutes, minted_at, burned, burned_at
		from credentials where id=$1
	`, id).Scan(&c.ID, &c.AuctionID, &c.Holder, &c.HostCorrelationKey, &c.Metadata,
		&c.MeetingDurationMinutes, &c.MintedAt, &c.Burned, &burnedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Credential{}, err
	}
	if burnedAt.Valid {
		c.BurnedAt = burnedAt.Time
	}
	return c, nil
}

func (s *CredentialStore) Burn(ctx context.Context, id, caller string) (credential.Credential, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return credential.Credential{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var c credential.Credential
	var burnedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		select id, auction_id, holder, host_correlation_key, metadata,
		       meeting_duration_minutes, minted_at, burned, burned_at
		from credentials where id=$1 for update
	`, id).Scan(&c.ID, &c.AuctionID, &c.Holder, &c.HostCorrelationKey, &c.Metadata,
		&c.MeetingDurationMinutes, &c.MintedAt, &c.Burned, &burnedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Credential{}, err
	}
	if c.Holder != caller {
		return credential.Credential{}, credential.ErrNotHolder
	}
	if c.Burned {
		return credential.Credential{}, credential.ErrAlreadyBurned
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update credentials set burned=true, burned_at=$2 where id=$1
	`, id, now); err != nil {
		return credential.Credential{}, err
	}
	if err := tx.Commit(); err != nil {
		return credential.Credential{}, err
	}
	c.Burned = true
	c.BurnedAt = now
	return c, nil
}

// --- monitor.AttemptStore / monitor.ResourceStore ---

func (s *Store) Record(ctx context.Context, auctionID uint64, message string, at time.Time) (monitor.FailedAttempt, error) {
	fa := monitor.FailedAttempt{AuctionID: auctionID, Message: message, LastAttempt: at}
	err := s.db.QueryRowContext(ctx, `
		insert into failed_attempts(auction_id, message, attempt_count, last_attempt)
		values ($1,$2,1,$3)
		on conflict (auction_id) do update set
			message = excluded.message,
			attempt_count = failed_attempts.attempt_count + 1,
			last_attempt = excluded.last_attempt
		returning attempt_count
	`, auctionID, message, at).Scan(&fa.AttemptCount)
	return fa, err
}

func (s *Store) ListRetryable(ctx context.Context, cutoff time.Time, maxAttempts int) ([]monitor.FailedAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		select auction_id, message, attempt_count, last_attempt
		from failed_attempts
		where attempt_count < $1 and last_attempt <= $2
		order by auction_id asc
	`, maxAttempts, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []monitor.FailedAttempt
	for rows.Next() {
		var fa monitor.FailedAttempt
		if err := rows.Scan(&fa.AuctionID, &fa.Message, &fa.AttemptCount, &fa.LastAttempt); err != nil {
			return nil, err
		}
		out = append(out, fa)
	}
	return out, rows.Err()
}

func (s *Store) Resolve(ctx context.Context, auctionID uint64) error {
	_, err := s.db.ExecContext(ctx, `delete from failed_attempts where auction_id=$1`, auctionID)
	return err
}

func (s *Store) RecordResource(ctx context.Context, auctionID uint64, res monitor.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		insert into provisioned_resources(auction_id, join_url, secret)
		values ($1,$2,$3) on conflict do nothing
	`, auctionID, res.JoinURL, res.Secret)
	return err
}

func (s *Store) HasResource(ctx context.Context, auctionID uint64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from provisioned_resources where auction_id=$1)
	`, auctionID).Scan(&exists)
	return exists, err
}
