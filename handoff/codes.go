package handoff

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidOrExpiredCode is the only error verification exposes. Wrong
// value, expired, superseded, already used, and wrong agent all collapse
// into it so the endpoint cannot be used as a guessing oracle.
var ErrInvalidOrExpiredCode = errors.New("handoff: invalid or expired code")

// CodeStore issues and consumes confirmation codes. All writes happen inside
// the caller's transaction so a failed handoff leaves no half-issued state.
type CodeStore struct {
	generate func() (string, error)
	now      func() time.Time
}

func NewCodeStore() *CodeStore {
	return &CodeStore{
		generate: generateCode,
		now:      time.Now,
	}
}

// WithGenerator overrides code generation for tests.
func (c *CodeStore) WithGenerator(gen func() (string, error)) *CodeStore {
	c.generate = gen
	return c
}

// WithClock overrides the time source for tests.
func (c *CodeStore) WithClock(now func() time.Time) *CodeStore {
	c.now = now
	return c
}

// Issue supersedes any active code for (order, stage) and inserts a fresh
// one. agentID binds the code to the only agent allowed to consume it; nil
// leaves the code open to any agent the capability table admits.
func (c *CodeStore) Issue(ctx context.Context, tx pgx.Tx, orderID string, stage Stage, agentID *string, ttl time.Duration) (IssuedCode, error) {
	if _, err := tx.Exec(ctx, `
		UPDATE confirmation_codes
		SET status = 'superseded'
		WHERE order_id = $1 AND stage = $2 AND status = 'active'
	`, orderID, stage); err != nil {
		return IssuedCode{}, fmt.Errorf("handoff: supersede active code: %w", err)
	}

	value, err := c.generate()
	if err != nil {
		return IssuedCode{}, fmt.Errorf("handoff: generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(value), bcrypt.DefaultCost)
	if err != nil {
		return IssuedCode{}, fmt.Errorf("handoff: hash code: %w", err)
	}

	expiresAt := c.now().UTC().Add(ttl)
	if _, err := tx.Exec(ctx, `
		INSERT INTO confirmation_codes (order_id, agent_id, stage, value_hash, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
	`, orderID, agentID, stage, string(hash), expiresAt); err != nil {
		return IssuedCode{}, fmt.Errorf("handoff: insert code: %w", err)
	}

	return IssuedCode{
		OrderID:   orderID,
		Stage:     stage,
		Value:     value,
		ExpiresAt: expiresAt,
	}, nil
}

// Consume locks the active code for (order, stage), checks it against the
// presented value and the consuming agent, and marks it used. Exactly one
// concurrent caller can succeed; the row lock serializes the rest, which
// then observe a non-active code.
func (c *CodeStore) Consume(ctx context.Context, tx pgx.Tx, orderID string, stage Stage, presented, agentID string) error {
	var (
		id        string
		boundTo   *string
		valueHash string
		expiresAt time.Time
	)
	err := tx.QueryRow(ctx, `
		SELECT id, agent_id, value_hash, expires_at
		FROM confirmation_codes
		WHERE order_id = $1 AND stage = $2 AND status = 'active'
		FOR UPDATE
	`, orderID, stage).Scan(&id, &boundTo, &valueHash, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("handoff: load active code: %w", err)
	}

	if c.now().UTC().After(expiresAt) {
		return ErrInvalidOrExpiredCode
	}
	if boundTo != nil && *boundTo != agentID {
		return ErrInvalidOrExpiredCode
	}
	if bcrypt.CompareHashAndPassword([]byte(valueHash), []byte(presented)) != nil {
		return ErrInvalidOrExpiredCode
	}

	if _, err := tx.Exec(ctx, `
		UPDATE confirmation_codes
		SET status = 'used', used_by = $2, used_at = now()
		WHERE id = $1
	`, id, agentID); err != nil {
		return fmt.Errorf("handoff: mark code used: %w", err)
	}
	return nil
}

// ExpireStale flips overdue active codes to expired. Verification already
// checks expiry; this keeps the table honest for operators.
func (c *CodeStore) ExpireStale(ctx context.Context, tx pgx.Tx) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE confirmation_codes
		SET status = 'expired'
		WHERE status = 'active' AND expires_at < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("handoff: expire stale codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
