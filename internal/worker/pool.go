// Package worker drains the queue: reserve, generate, upload, complete.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"mediagen/internal/backoff"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/jobstore"
	"mediagen/internal/ledger"
	"mediagen/internal/providers"
	"mediagen/internal/storage"
)

// Queue is the part of the queue the pool drives.
type Queue interface {
	Reserve(ctx context.Context, workerID string) (*domain.Job, error)
	Release(ctx context.Context, job *domain.Job) error
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, job *domain.Job, cause error) (bool, error)
	Recover(ctx context.Context) (int, error)
	Ready() <-chan struct{}
}

// DefaultCaps bounds concurrent upstream calls per kind across the process.
var DefaultCaps = map[domain.Kind]int64{
	domain.KindImage: 4,
	domain.KindVideo: 1,
	domain.KindVoice: 8,
}

// DefaultGrace is how long past its deadline a driver call may run before
// the job is failed regardless.
const DefaultGrace = 30 * time.Second

const (
	defaultRefundAttempts = 4
	// refundHold is the lease a failing job keeps while its refund is retried.
	refundHold = 2 * time.Minute
)

// DefaultRefundBackoff spaces refund retries of a failing job.
var DefaultRefundBackoff backoff.Strategy = backoff.Geometric{Base: 250 * time.Millisecond, Factor: 2, Max: 2 * time.Second}

// Options tunes the pool.
type Options struct {
	Size             int
	Name             string
	Caps             map[domain.Kind]int64
	PollInterval     time.Duration
	RecoveryInterval time.Duration
	Grace            time.Duration
	// Deadline overrides the per-kind upstream deadline.
	Deadline       func(domain.Kind) time.Duration
	RefundAttempts int
	RefundBackoff  backoff.Strategy
	Logger         *infra.Logger
	Now            func() time.Time
}

// Deps are the collaborators of the pool.
type Deps struct {
	Store   jobstore.Store
	Queue   Queue
	Drivers providers.Set
	Objects storage.ObjectStore
	Ledger  ledger.Ledger
}

// Pool is a fixed set of executors, each processing one job at a time.
type Pool struct {
	deps             Deps
	size             int
	name             string
	caps             map[domain.Kind]*semaphore.Weighted
	poll             time.Duration
	recoveryInterval time.Duration
	grace            time.Duration
	deadline         func(domain.Kind) time.Duration
	refundAttempts   int
	refundBackoff    backoff.Strategy
	logger           *infra.Logger
	now              func() time.Time

	inflight sync.WaitGroup
}

func NewPool(deps Deps, opts Options) (*Pool, error) {
	if deps.Store == nil || deps.Queue == nil || deps.Objects == nil || deps.Ledger == nil {
		return nil, errors.New("worker: store, queue, objects and ledger are required")
	}
	p := &Pool{
		deps:             deps,
		size:             opts.Size,
		name:             opts.Name,
		poll:             opts.PollInterval,
		recoveryInterval: opts.RecoveryInterval,
		grace:            opts.Grace,
		deadline:         opts.Deadline,
		refundAttempts:   opts.RefundAttempts,
		refundBackoff:    opts.RefundBackoff,
		logger:           infra.LoggerOrNop(opts.Logger),
		now:              opts.Now,
	}
	if p.size <= 0 {
		p.size = 4
	}
	if p.name == "" {
		host, _ := os.Hostname()
		p.name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if p.poll <= 0 {
		p.poll = 500 * time.Millisecond
	}
	if p.recoveryInterval <= 0 {
		p.recoveryInterval = time.Minute
	}
	if p.grace <= 0 {
		p.grace = DefaultGrace
	}
	if p.deadline == nil {
		p.deadline = domain.Kind.Deadline
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.refundAttempts <= 0 {
		p.refundAttempts = defaultRefundAttempts
	}
	if p.refundBackoff == nil {
		p.refundBackoff = DefaultRefundBackoff
	}
	caps := opts.Caps
	if caps == nil {
		caps = DefaultCaps
	}
	p.caps = make(map[domain.Kind]*semaphore.Weighted, len(domain.Kinds))
	for _, k := range domain.Kinds {
		n := caps[k]
		if n <= 0 {
			n = 1
		}
		p.caps[k] = semaphore.NewWeighted(n)
	}
	return p, nil
}

// Run recovers expired leases, then runs the executors and the periodic
// recovery loop until ctx is done. Jobs in flight at shutdown are allowed
// to finish.
func (p *Pool) Run(ctx context.Context) error {
	if n, err := p.deps.Queue.Recover(ctx); err != nil {
		p.logger.Error().Err(err).Msg("worker: startup lease recovery failed")
	} else if n > 0 {
		p.logger.Info().Int("jobs", n).Msg("worker: recovered expired leases")
	}

	p.logger.Info().Int("size", p.size).Str("pool", p.name).Msg("worker: pool started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.recoverLoop(gctx)
		return nil
	})
	for i := 0; i < p.size; i++ {
		id := fmt.Sprintf("%s-%d", p.name, i)
		g.Go(func() error {
			p.executor(gctx, id)
			return nil
		})
	}
	err := g.Wait()
	p.inflight.Wait()
	p.logger.Info().Str("pool", p.name).Msg("worker: pool stopped")
	return err
}

func (p *Pool) recoverLoop(ctx context.Context) {
	ticker := time.NewTicker(p.recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.deps.Queue.Recover(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error().Err(err).Msg("worker: lease recovery failed")
				}
				continue
			}
			if n > 0 {
				p.logger.Info().Int("jobs", n).Msg("worker: recovered expired leases")
			}
		}
	}
}

func (p *Pool) executor(ctx context.Context, workerID string) {
	// In-flight jobs outlive shutdown; their own deadlines bound them.
	jobCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		job, err := p.deps.Queue.Reserve(ctx, workerID)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error().Err(err).Str("worker_id", workerID).Msg("worker: reserve failed")
			}
			p.idle(ctx)
			continue
		}
		if job == nil {
			p.idle(ctx)
			continue
		}

		sem := p.caps[job.Kind]
		if sem == nil || !sem.TryAcquire(1) {
			p.deferJob(ctx, jobCtx, job, sem, workerID)
			continue
		}
		p.inflight.Add(1)
		p.handleJob(jobCtx, job, workerID)
		p.inflight.Done()
		sem.Release(1)
	}
}

// deferJob puts a job whose kind is at its cap back at the head of its
// class, then waits for a slot of that kind before reserving again.
func (p *Pool) deferJob(ctx, jobCtx context.Context, job *domain.Job, sem *semaphore.Weighted, workerID string) {
	if err := p.deps.Queue.Release(jobCtx, job); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Str("worker_id", workerID).Msg("worker: release failed")
	}
	if sem == nil {
		p.idle(ctx)
		return
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return
	}
	sem.Release(1)
}

func (p *Pool) idle(ctx context.Context) {
	timer := time.NewTimer(p.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-p.deps.Queue.Ready():
	}
}
