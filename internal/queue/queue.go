// Package queue implements the bounded priority queue over Redis lists.
// Lists hold job ids only; the job store owns the records and the queue
// drives their queued/reserved transitions.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mediagen/internal/backoff"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/jobstore"
)

const (
	delayedKey = "queue:delayed"
	seqKey     = "queue:seq"
)

func listKey(p domain.Priority) string { return "queue:" + string(p) }

// ErrQueueFull reports that the priority class reached its bound.
var ErrQueueFull = errors.New("queue: priority class is full")

// pushBounded appends ARGV[1] to KEYS[1] unless the list already holds
// ARGV[2] entries.
var pushBounded = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

// promote moves one delayed member into its class list exactly once.
var promote = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// Options tunes the queue.
type Options struct {
	MaxPerPriority int
	Lease          time.Duration
	// Aging lets a normal job older than this be reserved before high.
	// Zero disables it.
	Aging   time.Duration
	Backoff backoff.Strategy
	Logger  *infra.Logger
	Now     func() time.Time
}

// Queue is safe for concurrent use across goroutines and processes.
type Queue struct {
	client  *redis.Client
	store   jobstore.Store
	max     int
	lease   time.Duration
	aging   time.Duration
	backoff backoff.Strategy
	logger  *infra.Logger
	now     func() time.Time
	ready   chan struct{}
}

func New(client *redis.Client, store jobstore.Store, opts Options) *Queue {
	q := &Queue{
		client:  client,
		store:   store,
		max:     opts.MaxPerPriority,
		lease:   opts.Lease,
		aging:   opts.Aging,
		backoff: opts.Backoff,
		logger:  infra.LoggerOrNop(opts.Logger),
		now:     opts.Now,
		ready:   make(chan struct{}, 1),
	}
	if q.max <= 0 {
		q.max = 1000
	}
	if q.lease <= 0 {
		q.lease = 10 * time.Minute
	}
	if q.backoff == nil {
		q.backoff = backoff.Requeue()
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Ready is signalled after in-process enqueues so idle workers wake up
// before their next poll.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Enqueue persists the job's ordering key and appends it to its class.
// A full class yields ErrQueueFull and leaves the lists untouched.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	if !job.Priority.Valid() {
		return fmt.Errorf("queue: job %s has invalid priority %q", job.ID, job.Priority)
	}
	seq, err := q.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return fmt.Errorf("queue: next seq: %w", err)
	}
	if _, err := q.store.Update(ctx, job.ID, domain.StateQueued, func(j *domain.Job) error {
		j.QueueSeq = seq
		return nil
	}); err != nil {
		return fmt.Errorf("queue: persist seq: %w", err)
	}
	pushed, err := pushBounded.Run(ctx, q.client, []string{listKey(job.Priority)}, job.ID, q.max).Int()
	if err != nil {
		return fmt.Errorf("queue: push: %w", err)
	}
	if pushed == 0 {
		return ErrQueueFull
	}
	job.QueueSeq = seq
	q.logger.Debug().Str("job_id", job.ID).Str("priority", string(job.Priority)).Int64("seq", seq).Msg("queue: enqueued")
	q.signal()
	return nil
}

// Reserve hands the next eligible job to workerID under a lease. It
// returns nil when no class has work.
func (q *Queue) Reserve(ctx context.Context, workerID string) (*domain.Job, error) {
	now := q.now().UTC()
	if err := q.promoteDue(ctx, now); err != nil {
		return nil, err
	}
	order, err := q.reserveOrder(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, p := range order {
		for {
			id, err := q.client.LPop(ctx, listKey(p)).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("queue: pop %s: %w", p, err)
			}
			job, err := q.claim(ctx, id, workerID, now)
			if err != nil {
				// The job is still queued in the store; put its id back at
				// the head so it is not stranded until the next rebuild.
				if pushErr := q.client.LPush(context.WithoutCancel(ctx), listKey(p), id).Err(); pushErr != nil {
					q.logger.Error().Err(pushErr).Str("job_id", id).Msg("queue: restore popped id failed")
				}
				return nil, err
			}
			if job != nil {
				return job, nil
			}
		}
	}
	return nil, nil
}

// claim moves a popped id to reserved. Ids whose job was cancelled or
// purged meanwhile are dropped.
func (q *Queue) claim(ctx context.Context, id, workerID string, now time.Time) (*domain.Job, error) {
	leaseUntil := now.Add(q.lease)
	job, err := q.store.Update(ctx, id, domain.StateQueued, func(j *domain.Job) error {
		j.State = domain.StateReserved
		j.WorkerID = workerID
		j.LeaseUntil = &leaseUntil
		j.ReservedAt = &now
		j.ReadyAt = nil
		return nil
	})
	switch {
	case errors.Is(err, jobstore.ErrConflict), errors.Is(err, jobstore.ErrNotFound):
		q.logger.Debug().Str("job_id", id).Err(err).Msg("queue: dropping stale entry")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("queue: reserve %s: %w", id, err)
	}
	q.logger.Debug().Str("job_id", id).Str("worker_id", workerID).Msg("queue: reserved")
	return job, nil
}

func (q *Queue) reserveOrder(ctx context.Context, now time.Time) ([]domain.Priority, error) {
	if q.aging <= 0 {
		return domain.Priorities, nil
	}
	head, err := q.client.LIndex(ctx, listKey(domain.PriorityNormal), 0).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Priorities, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: peek normal: %w", err)
	}
	job, err := q.store.Get(ctx, head)
	if err != nil || now.Sub(job.CreatedAt) < q.aging {
		return domain.Priorities, nil
	}
	return []domain.Priority{domain.PriorityUrgent, domain.PriorityNormal, domain.PriorityHigh}, nil
}

func (q *Queue) promoteDue(ctx context.Context, now time.Time) error {
	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(now.UnixMilli()),
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: due delayed: %w", err)
	}
	for _, m := range members {
		p, id, ok := splitMember(m)
		if !ok {
			q.client.ZRem(ctx, delayedKey, m)
			continue
		}
		if err := promote.Run(ctx, q.client, []string{delayedKey, listKey(p)}, m, id).Err(); err != nil {
			return fmt.Errorf("queue: promote %s: %w", id, err)
		}
	}
	return nil
}

// Release returns a reserved job to the head of its class without
// consuming an attempt. Workers use it when a kind cap is saturated.
func (q *Queue) Release(ctx context.Context, job *domain.Job) error {
	_, err := q.store.Update(ctx, job.ID, domain.StateReserved, func(j *domain.Job) error {
		j.State = domain.StateQueued
		j.WorkerID = ""
		j.LeaseUntil = nil
		j.ReservedAt = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: release %s: %w", job.ID, err)
	}
	if err := q.client.LPush(ctx, listKey(job.Priority), job.ID).Err(); err != nil {
		return fmt.Errorf("queue: release push: %w", err)
	}
	return nil
}

// Ack clears the lease of a job that reached a terminal state.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if err := q.store.DropLease(ctx, id); err != nil {
		return fmt.Errorf("queue: ack %s: %w", id, err)
	}
	return nil
}

// Nack reschedules a processing job after a retriable failure. It reports
// false, leaving the job untouched, when the failure is terminal or the
// attempt budget of its kind is spent; the caller then fails the job.
func (q *Queue) Nack(ctx context.Context, job *domain.Job, cause error) (bool, error) {
	kind := domain.KindOf(cause)
	attempts := job.Attempts + 1
	if !kind.Retriable() || attempts >= kind.MaxAttempts() {
		return false, nil
	}
	now := q.now().UTC()
	readyAt := backoff.ReadyAt(q.backoff, job.CreatedAt, now, attempts)
	updated, err := q.store.Update(ctx, job.ID, domain.StateProcessing, func(j *domain.Job) error {
		j.State = domain.StateQueued
		j.Attempts = attempts
		j.ReadyAt = &readyAt
		j.WorkerID = ""
		j.LeaseUntil = nil
		j.ReservedAt = nil
		j.StartedAt = nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("queue: nack %s: %w", job.ID, err)
	}
	if err := q.schedule(ctx, updated, readyAt); err != nil {
		return false, err
	}
	q.logger.Info().
		Str("job_id", job.ID).
		Str("error_kind", string(kind)).
		Int("attempt", attempts).
		Time("ready_at", readyAt).
		Msg("queue: job requeued")
	return true, nil
}

func (q *Queue) schedule(ctx context.Context, job *domain.Job, readyAt time.Time) error {
	z := redis.Z{Score: float64(readyAt.UnixMilli()), Member: member(job.Priority, job.ID)}
	if err := q.client.ZAdd(ctx, delayedKey, z).Err(); err != nil {
		return fmt.Errorf("queue: schedule %s: %w", job.ID, err)
	}
	return nil
}

// Remove drops a cancelled job from its class list and the delayed set.
func (q *Queue) Remove(ctx context.Context, job *domain.Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, listKey(job.Priority), 0, job.ID)
		pipe.ZRem(ctx, delayedKey, member(job.Priority, job.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: remove %s: %w", job.ID, err)
	}
	return nil
}

// Recover returns jobs whose lease expired to the head of their class with
// one more attempt recorded.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	now := q.now().UTC()
	expired, err := q.store.RecoverReserved(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("queue: recover: %w", err)
	}
	recovered := 0
	for _, job := range expired {
		_, err := q.store.Update(ctx, job.ID, job.State, func(j *domain.Job) error {
			if j.LeaseUntil == nil || !j.LeaseUntil.Before(now) {
				return jobstore.ErrConflict
			}
			j.State = domain.StateQueued
			j.Attempts++
			j.WorkerID = ""
			j.LeaseUntil = nil
			j.ReservedAt = nil
			j.StartedAt = nil
			return nil
		})
		if errors.Is(err, jobstore.ErrConflict) || errors.Is(err, jobstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("queue: recover %s: %w", job.ID, err)
		}
		if err := q.client.LPush(ctx, listKey(job.Priority), job.ID).Err(); err != nil {
			return recovered, fmt.Errorf("queue: recover push: %w", err)
		}
		recovered++
		q.logger.Warn().
			Str("job_id", job.ID).
			Str("worker_id", job.WorkerID).
			Int("attempt", job.Attempts+1).
			Msg("queue: lease expired, job requeued")
	}
	if recovered > 0 {
		q.signal()
	}
	return recovered, nil
}

// Rebuild re-inserts queued jobs that are missing from every list and the
// delayed set, in queue sequence order. It runs at startup.
func (q *Queue) Rebuild(ctx context.Context) (int, error) {
	queued, err := q.store.Queued(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: rebuild: %w", err)
	}
	present := make(map[string]bool)
	for _, p := range domain.Priorities {
		ids, err := q.client.LRange(ctx, listKey(p), 0, -1).Result()
		if err != nil {
			return 0, fmt.Errorf("queue: rebuild list %s: %w", p, err)
		}
		for _, id := range ids {
			present[id] = true
		}
	}
	delayed, err := q.client.ZRange(ctx, delayedKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: rebuild delayed: %w", err)
	}
	for _, m := range delayed {
		if _, id, ok := splitMember(m); ok {
			present[id] = true
		}
	}

	now := q.now().UTC()
	restored := 0
	for _, job := range queued {
		if present[job.ID] {
			continue
		}
		if job.ReadyAt != nil && job.ReadyAt.After(now) {
			err = q.schedule(ctx, job, *job.ReadyAt)
		} else {
			err = q.client.RPush(ctx, listKey(job.Priority), job.ID).Err()
		}
		if err != nil {
			return restored, fmt.Errorf("queue: rebuild %s: %w", job.ID, err)
		}
		restored++
	}
	if restored > 0 {
		q.logger.Info().Int("jobs", restored).Msg("queue: rebuilt from job store")
		q.signal()
	}
	return restored, nil
}

// Depth reports the ready length of every class plus the delayed count.
func (q *Queue) Depth(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(domain.Priorities)+1)
	for _, p := range domain.Priorities {
		n, err := q.client.LLen(ctx, listKey(p)).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: depth %s: %w", p, err)
		}
		out[string(p)] = n
	}
	n, err := q.client.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: depth delayed: %w", err)
	}
	out["delayed"] = n
	return out, nil
}

func member(p domain.Priority, id string) string { return string(p) + ":" + id }

func splitMember(m string) (domain.Priority, string, bool) {
	p, id, ok := strings.Cut(m, ":")
	if !ok || !domain.Priority(p).Valid() || id == "" {
		return "", "", false
	}
	return domain.Priority(p), id, true
}
