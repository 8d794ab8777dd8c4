// Package orchestrator is the request-facing contract of media generation:
// submit, status, cancel and history.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/jobstore"
	"mediagen/internal/ledger"
	"mediagen/internal/queue"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	maxProgress         = 0.95
)

// Queue is the part of the queue the API needs.
type Queue interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Remove(ctx context.Context, job *domain.Job) error
	Depth(ctx context.Context) (map[string]int64, error)
}

// Options configures the service.
type Options struct {
	DenyList *domain.DenyList
	Logger   *infra.Logger
	Now      func() time.Time
	NewID    func() string
}

// Service wires the job store, queue and ledger together.
type Service struct {
	store    jobstore.Store
	queue    Queue
	accounts ledger.Accounts
	deny     *domain.DenyList
	logger   *infra.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(store jobstore.Store, q Queue, accounts ledger.Accounts, opts Options) *Service {
	s := &Service{
		store:    store,
		queue:    q,
		accounts: accounts,
		deny:     opts.DenyList,
		logger:   infra.LoggerOrNop(opts.Logger),
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if s.deny == nil {
		s.deny = domain.NewDenyList()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Submission is returned by Submit.
type Submission struct {
	JobID            string       `json:"job_id"`
	Status           domain.State `json:"status"`
	EstimatedSeconds int          `json:"estimated_time"`
}

// Submit validates, prices, debits and enqueues one job. Once the debit has
// happened every failure refunds it before returning.
func (s *Service) Submit(ctx context.Context, userID string, kind domain.Kind, req domain.Request) (*Submission, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	req = req.Normalize()
	if err := req.Validate(kind, s.deny); err != nil {
		return nil, err
	}

	ent, err := s.accounts.Snapshot(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownAccount) {
			return nil, domain.NewError(domain.ErrorKindEntitlementDenied, "no account for this user")
		}
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("orchestrator: entitlements: %w", err))
	}
	if err := ent.Check(kind); err != nil {
		return nil, err
	}

	quote := kind.Price()
	now := s.now().UTC()
	job := &domain.Job{
		ID:            s.newID(),
		UserID:        userID,
		SubjectID:     req.SubjectID,
		Kind:          kind,
		Request:       req,
		Priority:      domain.ResolvePriority(ent.Tier, req.PriorityHint),
		State:         domain.StateQueued,
		TokensDebited: quote,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	entry := ledger.Entry{UserID: userID, JobID: job.ID, Kind: kind, Amount: quote}

	if err := s.accounts.Debit(ctx, entry); err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientTokens):
			return nil, domain.Errorf(domain.ErrorKindInsufficientTokens, "%s costs %d tokens", kind.RouteName(), quote)
		case errors.Is(err, ledger.ErrUnknownAccount):
			return nil, domain.NewError(domain.ErrorKindEntitlementDenied, "no account for this user")
		}
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("orchestrator: debit: %w", err))
	}

	log := s.logger.With().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("kind", string(kind)).
		Str("priority", string(job.Priority)).
		Logger()

	// Once debited, compensation must run even if the caller went away.
	detached := context.WithoutCancel(ctx)
	if err := s.store.Create(ctx, job); err != nil {
		s.refund(detached, entry)
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("orchestrator: create job: %w", err))
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.refund(detached, entry)
		if delErr := s.store.Delete(detached, job.ID); delErr != nil {
			log.Error().Err(delErr).Msg("orchestrator: delete unqueued job failed")
		}
		if errors.Is(err, queue.ErrQueueFull) {
			log.Warn().Msg("orchestrator: queue full")
			return nil, domain.WrapError(domain.ErrorKindQueueFull, err)
		}
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("orchestrator: enqueue: %w", err))
	}

	log.Info().Int("tokens", quote).Msg("orchestrator: job submitted")
	return &Submission{JobID: job.ID, Status: domain.StateQueued, EstimatedSeconds: job.Estimate()}, nil
}

// Cancel succeeds only while the job is still queued. Jobs owned by
// another user read as not found.
func (s *Service) Cancel(ctx context.Context, userID, jobID string) (bool, error) {
	now := s.now().UTC()
	job, err := s.store.Update(ctx, jobID, domain.StateQueued, func(j *domain.Job) error {
		if j.UserID != userID {
			return domain.ErrNotFound
		}
		j.State = domain.StateCancelled
		j.ReadyAt = nil
		j.CompletedAt = &now
		return nil
	})
	switch {
	case errors.Is(err, jobstore.ErrConflict):
		current, getErr := s.store.Get(ctx, jobID)
		if getErr == nil && current.UserID != userID {
			return false, domain.ErrNotFound
		}
		return false, nil
	case errors.Is(err, jobstore.ErrNotFound), errors.Is(err, domain.ErrNotFound):
		return false, domain.ErrNotFound
	case err != nil:
		return false, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("orchestrator: cancel: %w", err))
	}

	detached := context.WithoutCancel(ctx)
	if err := s.queue.Remove(detached, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("orchestrator: remove cancelled job from queue")
	}
	entry := ledger.Entry{UserID: job.UserID, JobID: job.ID, Kind: job.Kind, Amount: job.TokensDebited}
	if job.TokensDebited > 0 && s.refund(detached, entry) {
		if _, err := s.store.Update(detached, jobID, domain.StateCancelled, func(j *domain.Job) error {
			j.Refunded = true
			return nil
		}); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: record refund failed")
		}
	}
	s.logger.Info().Str("job_id", jobID).Str("user_id", userID).Msg("orchestrator: job cancelled")
	return true, nil
}

// Status returns the latest view of a job. Anyone holding the id may read it.
func (s *Service) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("orchestrator: status: %w", err))
	}
	return statusOf(job, s.now().UTC()), nil
}

// History lists the caller's jobs newest first.
func (s *Service) History(ctx context.Context, userID string, kind domain.Kind, limit int) ([]domain.JobSummary, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	jobs, err := s.store.List(ctx, userID, kind, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindInternal, fmt.Errorf("orchestrator: history: %w", err))
	}
	out := make([]domain.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		sum := j.Summary()
		sum.State = publicState(j.State)
		out = append(out, sum)
	}
	return out, nil
}

// Health pings the job store and the ledger and reports queue depth.
func (s *Service) Health(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{Store: "ok", Ledger: "ok"}
	var errs []error
	if err := s.store.Ping(ctx); err != nil {
		report.Store = "unavailable"
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.accounts.Ping(ctx); err != nil {
		report.Ledger = "unavailable"
		errs = append(errs, fmt.Errorf("ledger: %w", err))
	}
	if depth, err := s.queue.Depth(ctx); err == nil {
		report.Queue = depth
	}
	return report, errors.Join(errs...)
}

// refund credits back a debit and reports whether it went through.
func (s *Service) refund(ctx context.Context, e ledger.Entry) bool {
	if err := s.accounts.Refund(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("job_id", e.JobID).Str("user_id", e.UserID).Msg("orchestrator: refund failed")
		return false
	}
	return true
}
