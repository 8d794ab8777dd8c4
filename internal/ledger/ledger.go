// Package ledger sequences token debits and refunds against the external
// accounts system. Every operation is idempotent on (user, job, op), so
// callers may retry freely.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"mediagen/internal/domain"
)

var (
	ErrInsufficientTokens = errors.New("ledger: insufficient tokens")
	ErrUnknownAccount     = errors.New("ledger: unknown account")
	ErrNoDebit            = errors.New("ledger: no debit recorded for job")
)

// Op names a ledger operation.
type Op string

const (
	OpDebit  Op = "debit"
	OpRefund Op = "refund"
)

// Entry identifies one ledger movement.
type Entry struct {
	UserID string
	JobID  string
	Kind   domain.Kind
	Amount int
}

// IdempotencyKey is the dedup key of an operation on an entry.
func (e Entry) IdempotencyKey(op Op) string {
	return fmt.Sprintf("%s:%s:%s", e.UserID, e.JobID, op)
}

// Ledger moves tokens.
type Ledger interface {
	// Debit atomically checks the balance and decrements it. Repeating a
	// debit for the same job is a no-op.
	Debit(ctx context.Context, e Entry) error
	// Refund credits back the debited amount once. Repeating it is a no-op.
	Refund(ctx context.Context, e Entry) error
}

// Entitlements reads the subscription snapshot of a user.
type Entitlements interface {
	Snapshot(ctx context.Context, userID string) (domain.Entitlement, error)
}

// Accounts is what the orchestrator needs from the accounts system.
type Accounts interface {
	Ledger
	Entitlements
	Ping(ctx context.Context) error
}
