package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crashd/internal/game"
	"crashd/internal/ledger"
)

// Store is the persistence side of the engine and ledger: accounts,
// rounds, wagers and wallet transactions. All writes are upserts so
// the fire-and-confirm retries from the in-memory side stay
// idempotent.
type Store struct {
	db *sql.DB
}

func NewStore(svc Service) *Store {
	return &Store{db: svc.DB()}
}

// ledger.Store

func (s *Store) LoadAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	var acct ledger.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, balance, reserved_balance, updated_at FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&acct.UserID, &acct.Balance, &acct.Reserved, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *Store) SaveAccount(ctx context.Context, acct ledger.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, balance, reserved_balance, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET balance = $2, reserved_balance = $3, updated_at = $4`,
		acct.UserID, acct.Balance, acct.Reserved, acct.UpdatedAt)
	return err
}

// ledger.TxStore

func (s *Store) SaveTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, status, payment_method,
		                           admin_notes, processed_by, reference, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE
		 SET status = $5, admin_notes = $7, processed_by = $8, processed_at = $11`,
		tx.ID, tx.UserID, tx.Type, tx.Amount, tx.Status,
		nullString(tx.PaymentMethod), nullString(tx.AdminNotes), nullString(tx.ProcessedBy),
		tx.Reference, tx.CreatedAt, tx.ProcessedAt)
	return err
}

// game.RoundStore

func (s *Store) SaveRound(ctx context.Context, round game.Round) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rounds (round_id, seed, crash_point, start_time, end_time, total_bets, total_volume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (round_id) DO UPDATE
		 SET end_time = $5, total_bets = $6, total_volume = $7`,
		round.RoundID, round.Seed, round.CrashPoint, round.StartTime,
		nullTime(round.EndTime), round.TotalBets, round.TotalVolume)
	return err
}

func (s *Store) SaveWager(ctx context.Context, w game.Wager) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wagers (id, round_id, user_id, amount, auto_cashout, status, multiplier, payout, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (round_id, user_id) DO UPDATE
		 SET id = EXCLUDED.id, amount = EXCLUDED.amount, auto_cashout = EXCLUDED.auto_cashout,
		     status = EXCLUDED.status, multiplier = EXCLUDED.multiplier, payout = EXCLUDED.payout,
		     placed_at = EXCLUDED.placed_at`,
		w.WagerID, w.RoundID, w.UserID, w.Amount, w.AutoCashOut,
		w.Status, w.SettledMultiplier, w.Payout, w.PlacedAt)
	return err
}

// Admin read surface

type Stats struct {
	TotalUsers  int64 `json:"total_users"`
	TotalBets   int64 `json:"total_bets"`
	TotalVolume int64 `json:"total_volume"`
	TotalPayout int64 `json:"total_payout"`
	Profit      int64 `json:"profit"`
	TotalRounds int64 `json:"total_rounds"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM wagers WHERE status <> 'cancelled'),
			(SELECT COALESCE(SUM(amount), 0) FROM wagers WHERE status <> 'cancelled'),
			(SELECT COALESCE(SUM(payout), 0) FROM wagers WHERE status = 'cashed_out'),
			(SELECT COUNT(*) FROM rounds)`,
	).Scan(&st.TotalUsers, &st.TotalBets, &st.TotalVolume, &st.TotalPayout, &st.TotalRounds)
	if err != nil {
		return Stats{}, err
	}
	st.Profit = st.TotalVolume - st.TotalPayout
	return st, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
