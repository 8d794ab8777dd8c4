// Package jobstore persists job records and enforces the job state machine.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mediagen/internal/domain"
)

var (
	ErrNotFound          = errors.New("jobstore: job not found")
	ErrExists            = errors.New("jobstore: job id already exists")
	ErrConflict          = errors.New("jobstore: job is not in the expected state")
	ErrInvalidTransition = errors.New("jobstore: invalid state transition")
	ErrTerminal          = errors.New("jobstore: terminal job is immutable")
)

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 20

// MutateFunc edits a private copy of the job. Returning an error aborts the
// update. It may run more than once when a concurrent writer wins.
type MutateFunc func(*domain.Job) error

// Store is the durable record of job lifecycles.
type Store interface {
	// Create inserts a new job and fails with ErrExists on id collision.
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Update applies mutate when the job is in expected (any state when
	// expected is empty) and returns the stored result. Transitions outside
	// the state machine fail with ErrInvalidTransition.
	Update(ctx context.Context, id string, expected domain.State, mutate MutateFunc) (*domain.Job, error)
	// List returns the user's jobs newest first, optionally filtered by kind.
	List(ctx context.Context, userID string, kind domain.Kind, limit int) ([]*domain.Job, error)
	// RecoverReserved returns reserved or processing jobs whose lease
	// expired before now.
	RecoverReserved(ctx context.Context, now time.Time) ([]*domain.Job, error)
	// Queued returns every job currently in the queued state.
	Queued(ctx context.Context) ([]*domain.Job, error)
	// DropLease forgets the lease index entry of id.
	DropLease(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// applyUpdate runs mutate on a copy of current and validates the outcome.
func applyUpdate(current *domain.Job, expected domain.State, mutate MutateFunc, now time.Time) (*domain.Job, error) {
	if expected != "" && current.State != expected {
		return nil, fmt.Errorf("%w: job %s is %s, want %s", ErrConflict, current.ID, current.State, expected)
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := checkTransition(current, next); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	return next, nil
}

func checkTransition(prev, next *domain.Job) error {
	if next.ID != prev.ID || next.UserID != prev.UserID || next.Kind != prev.Kind {
		return fmt.Errorf("%w: identity fields changed", ErrInvalidTransition)
	}
	if next.Priority != prev.Priority {
		return fmt.Errorf("%w: priority changed", ErrInvalidTransition)
	}
	if prev.State.IsTerminal() {
		return checkRefundFlip(prev, next)
	}
	if next.State != prev.State && !domain.CanTransition(prev.State, next.State) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.State, next.State)
	}
	if next.State == domain.StateCompleted && (next.Result == nil || next.Result.ArtifactURL == "") {
		return fmt.Errorf("%w: completed without artifact", ErrInvalidTransition)
	}
	return nil
}

// checkRefundFlip allows exactly one change on a terminal job: refunded
// going from false to true.
func checkRefundFlip(prev, next *domain.Job) error {
	if prev.Refunded || !next.Refunded {
		return fmt.Errorf("%w: job %s is %s", ErrTerminal, prev.ID, prev.State)
	}
	probe := next.Clone()
	probe.Refunded = prev.Refunded
	probe.UpdatedAt = prev.UpdatedAt
	a, errA := json.Marshal(prev)
	b, errB := json.Marshal(probe)
	if errA != nil || errB != nil {
		return fmt.Errorf("jobstore: compare terminal job: %w", errors.Join(errA, errB))
	}
	if string(a) != string(b) {
		return fmt.Errorf("%w: job %s is %s", ErrTerminal, prev.ID, prev.State)
	}
	return nil
}

func leased(job *domain.Job) bool {
	return (job.State == domain.StateReserved || job.State == domain.StateProcessing) && job.LeaseUntil != nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
