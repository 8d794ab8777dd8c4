package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

const (
	maxWatchRetries = 16
	listChunk       = 64
	scanCount       = 200
)

// RedisOptions configures the Redis store.
type RedisOptions struct {
	// Retention is the TTL applied once a job reaches a terminal state.
	Retention time.Duration
	Logger    *infra.Logger
	Now       func() time.Time
}

// Redis stores each job as JSON under job:{id}. Two sorted sets index the
// records: jobs:user:{uid} by creation time and jobs:leases by lease expiry.
type Redis struct {
	client    *redis.Client
	retention time.Duration
	logger    *infra.Logger
	now       func() time.Time
}

func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	retention := opts.Retention
	if retention <= 0 {
		retention = 2 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Redis{
		client:    client,
		retention: retention,
		logger:    infra.LoggerOrNop(opts.Logger),
		now:       now,
	}
}

func (s *Redis) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("jobstore: create: job id is required")
	}
	stored := job.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = s.now().UTC()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("jobstore: encode job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, JobKey(job.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("jobstore: create: %w", err)
	}
	if !ok {
		return ErrExists
	}
	score := float64(stored.CreatedAt.UnixMilli())
	if err := s.client.ZAdd(ctx, userKey(stored.UserID), redis.Z{Score: score, Member: stored.ID}).Err(); err != nil {
		s.client.Del(ctx, JobKey(job.ID))
		return fmt.Errorf("jobstore: index job: %w", err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := s.client.Get(ctx, JobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobstore: get: %w", err)
	}
	return decodeJob(raw)
}

// Update uses WATCH on the job key so concurrent writers retry against the
// latest record.
func (s *Redis) Update(ctx context.Context, id string, expected domain.State, mutate MutateFunc) (*domain.Job, error) {
	key := JobKey(id)
	var updated *domain.Job
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("jobstore: update get: %w", err)
		}
		current, err := decodeJob(raw)
		if err != nil {
			return err
		}
		next, err := applyUpdate(current, expected, mutate, s.now().UTC())
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("jobstore: encode job: %w", err)
		}
		ttl := time.Duration(0)
		if next.State.IsTerminal() {
			ttl = s.retention
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			if leased(next) {
				pipe.ZAdd(ctx, leasesKey, redis.Z{Score: float64(next.LeaseUntil.UnixMilli()), Member: id})
			} else {
				pipe.ZRem(ctx, leasesKey, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("jobstore: update %s: too much contention", id)
}

func (s *Redis) List(ctx context.Context, userID string, kind domain.Kind, limit int) ([]*domain.Job, error) {
	limit = normalizeLimit(limit)
	out := make([]*domain.Job, 0, limit)
	var stale []any
	for start := int64(0); len(out) < limit; start += listChunk {
		ids, err := s.client.ZRevRange(ctx, userKey(userID), start, start+listChunk-1).Result()
		if err != nil {
			return nil, fmt.Errorf("jobstore: list index: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = JobKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("jobstore: list records: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Record expired after its retention window.
				stale = append(stale, ids[i])
				continue
			}
			job, err := decodeJob([]byte(raw))
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", ids[i]).Msg("jobstore: skipping undecodable job")
				continue
			}
			if kind != "" && job.Kind != kind {
				continue
			}
			out = append(out, job)
			if len(out) == limit {
				break
			}
		}
		if len(ids) < listChunk {
			break
		}
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, userKey(userID), stale...).Err(); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("jobstore: prune user index")
		}
	}
	return out, nil
}

func (s *Redis) RecoverReserved(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, leasesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("jobstore: lease index: %w", err)
	}
	var out []*domain.Job
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, leasesKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !leased(job) {
			s.client.ZRem(ctx, leasesKey, id)
			continue
		}
		if job.LeaseUntil.Before(now) {
			out = append(out, job)
		}
	}
	return out, nil
}

// Queued scans the job keyspace. It runs at startup only.
func (s *Redis) Queued(ctx context.Context) ([]*domain.Job, error) {
	var out []*domain.Job
	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("jobstore: scan get: %w", err)
		}
		job, err := decodeJob(raw)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("jobstore: skipping undecodable job")
			continue
		}
		if job.State == domain.StateQueued {
			out = append(out, job)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("jobstore: scan: %w", err)
	}
	sortBySeq(out)
	return out, nil
}

func (s *Redis) DropLease(ctx context.Context, id string) error {
	if err := s.client.ZRem(ctx, leasesKey, id).Err(); err != nil {
		return fmt.Errorf("jobstore: drop lease: %w", err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, JobKey(id))
		pipe.ZRem(ctx, userKey(job.UserID), id)
		pipe.ZRem(ctx, leasesKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("jobstore: delete: %w", err)
	}
	return nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeJob(raw []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("jobstore: decode job: %w", err)
	}
	return &job, nil
}

// sortBySeq orders queued jobs by their queue sequence, falling back to
// creation time for jobs that never got one.
func sortBySeq(jobs []*domain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.QueueSeq != b.QueueSeq {
			if a.QueueSeq == 0 || b.QueueSeq == 0 {
				return b.QueueSeq == 0
			}
			return a.QueueSeq < b.QueueSeq
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return strings.Compare(a.ID, b.ID) < 0
	})
}

var _ Store = (*Redis)(nil)
