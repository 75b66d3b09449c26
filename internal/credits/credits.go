// Package credits implements the usage-credit ledger gating agent runs.
package credits

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrInsufficientCredits is returned when a consume would take the balance
// below zero. Callers surface it as a "too many requests" condition.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger tracks per-user usage credits.
type Ledger interface {
	// Consume atomically deducts n credits, failing with
	// ErrInsufficientCredits when the balance is too low.
	Consume(ctx context.Context, userID string, n int) error
	Grant(ctx context.Context, userID string, n int) error
	Remaining(ctx context.Context, userID string) (int, error)
}

type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger { return &PostgresLedger{db: db} }

func (l *PostgresLedger) Consume(ctx context.Context, userID string, n int) error {
	res, err := l.db.ExecContext(ctx, `
        UPDATE usage_credits
        SET credits = credits - $1, updated_at = now()
        WHERE user_id = $2 AND credits >= $1
    `, n, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

func (l *PostgresLedger) Grant(ctx context.Context, userID string, n int) error {
	_, err := l.db.ExecContext(ctx, `
        INSERT INTO usage_credits (user_id, credits)
        VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET credits = usage_credits.credits + $2, updated_at = now()
    `, userID, n)
	return err
}

func (l *PostgresLedger) Remaining(ctx context.Context, userID string) (int, error) {
	var credits int
	err := l.db.QueryRowContext(ctx, `
        SELECT credits FROM usage_credits WHERE user_id = $1
    `, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return credits, err
}

// InMemoryLedger is a threadsafe ledger for tests.
type InMemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{balances: make(map[string]int)}
}

func (l *InMemoryLedger) Consume(ctx context.Context, userID string, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < n {
		return ErrInsufficientCredits
	}
	l.balances[userID] -= n
	return nil
}

func (l *InMemoryLedger) Grant(ctx context.Context, userID string, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += n
	return nil
}

func (l *InMemoryLedger) Remaining(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}
