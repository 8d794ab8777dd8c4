package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/jobstore"
	"mediagen/internal/ledger"
	"mediagen/internal/providers"
	"mediagen/internal/storage"
)

var errForcedTimeout = errors.New("worker: upstream call abandoned after grace period")

type outcome struct {
	res *providers.Result
	err error
}

func (p *Pool) handleJob(ctx context.Context, job *domain.Job, workerID string) {
	log := p.logger.With().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("worker_id", workerID).
		Int("attempt", job.Attempts+1).
		Logger()

	started := p.now().UTC()
	job, err := p.deps.Store.Update(ctx, job.ID, domain.StateReserved, func(j *domain.Job) error {
		if j.WorkerID != workerID {
			return jobstore.ErrConflict
		}
		j.State = domain.StateProcessing
		j.StartedAt = &started
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("worker: lost reservation before start")
		return
	}
	log.Info().Msg("worker: picked job")

	res, err := p.generate(ctx, job)
	if errors.Is(err, errForcedTimeout) {
		log.Error().Dur("deadline", p.deadline(job.Kind)).Msg("worker: upstream call abandoned")
		p.fail(ctx, job, domain.WrapError(domain.ErrorKindTimeout, err))
		return
	}

	// Lease recovery or a forced timeout elsewhere may have taken the job
	// while the upstream call ran.
	if !p.owns(ctx, job.ID, workerID) {
		log.Warn().Msg("worker: job no longer held, discarding result")
		return
	}
	if err != nil {
		p.retryOrFail(ctx, job, err)
		return
	}

	result, err := p.persistArtifact(ctx, job, res)
	if err != nil {
		p.retryOrFail(ctx, job, err)
		return
	}

	completed := p.now().UTC()
	if _, err := p.deps.Store.Update(ctx, job.ID, domain.StateProcessing, func(j *domain.Job) error {
		j.State = domain.StateCompleted
		j.Result = result
		j.Error = nil
		j.LeaseUntil = nil
		j.CompletedAt = &completed
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("worker: complete transition failed")
		return
	}
	p.ack(ctx, job.ID)
	log.Info().
		Str("artifact_url", result.ArtifactURL).
		Dur("elapsed", completed.Sub(job.CreatedAt)).
		Msg("worker: job completed")
}

// generate calls the driver under the kind deadline and abandons it once
// the grace period past the deadline elapses.
func (p *Pool) generate(ctx context.Context, job *domain.Job) (*providers.Result, error) {
	gen, err := p.deps.Drivers.For(job.Kind)
	if err != nil {
		return nil, err
	}
	deadline := p.deadline(job.Kind)
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := gen.Generate(callCtx, providers.Request{JobID: job.ID, Kind: job.Kind, Params: job.Request})
		done <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(deadline + p.grace)
	defer timer.Stop()
	select {
	case o := <-done:
		if o.err != nil {
			return nil, classify(o.err)
		}
		if o.res == nil || len(o.res.Data) == 0 {
			return nil, domain.WrapError(domain.ErrorKindUpstreamUnavailable, providers.ErrEmptyArtifact)
		}
		return o.res, nil
	case <-timer.C:
		return nil, errForcedTimeout
	}
}

// classify gives unclassified driver errors a kind.
func classify(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrorKindTimeout, err)
	}
	return domain.WrapError(domain.ErrorKindInternal, err)
}

func (p *Pool) owns(ctx context.Context, id, workerID string) bool {
	current, err := p.deps.Store.Get(ctx, id)
	if err != nil {
		return false
	}
	return current.State == domain.StateProcessing && current.WorkerID == workerID
}

// persistArtifact uploads the artifact and, when one can be derived, its
// thumbnail. Keys are fixed per job so a retried upload overwrites.
func (p *Pool) persistArtifact(ctx context.Context, job *domain.Job, res *providers.Result) (*domain.Result, error) {
	key := storage.ArtifactKey(job.Kind, job.SubjectID, job.ID, res.MIME)
	url, err := p.deps.Objects.Put(ctx, key, res.Data, res.MIME)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindStorageFailed, fmt.Errorf("upload artifact: %w", err))
	}
	result := &domain.Result{
		ArtifactURL:     url,
		MIME:            res.MIME,
		DurationSeconds: res.Metadata.DurationSeconds,
		FrameCount:      res.Metadata.FrameCount,
	}

	thumb, err := p.thumbnail(ctx, job, res)
	switch {
	case errors.Is(err, storage.ErrNoThumbnail):
		p.logger.Debug().Err(err).Str("job_id", job.ID).Msg("worker: no thumbnail")
		return result, nil
	case err != nil:
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("worker: thumbnail derivation failed")
		return result, nil
	}
	thumbURL, err := p.deps.Objects.Put(ctx, storage.ThumbnailKey(job.Kind, job.SubjectID, job.ID), thumb, "image/jpeg")
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindStorageFailed, fmt.Errorf("upload thumbnail: %w", err))
	}
	result.ThumbnailURL = thumbURL
	return result, nil
}

func (p *Pool) thumbnail(ctx context.Context, job *domain.Job, res *providers.Result) ([]byte, error) {
	if job.Kind == domain.KindVideo {
		return storage.VideoThumbnail(ctx, res.Data, res.MIME, res.Metadata.Poster)
	}
	return storage.DeriveThumbnail(res.Data, job.Kind, res.MIME)
}

// retryOrFail nacks retriable failures and fails the rest.
func (p *Pool) retryOrFail(ctx context.Context, job *domain.Job, cause error) {
	requeued, err := p.deps.Queue.Nack(ctx, job, cause)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: nack failed")
		return
	}
	if requeued {
		p.logger.Warn().
			Err(cause).
			Str("job_id", job.ID).
			Str("error_kind", string(domain.KindOf(cause))).
			Msg("worker: job failed, will retry")
		return
	}
	p.fail(ctx, job, cause)
}

// fail refunds the debit, then records the terminal failure, so a caller
// reading failed always sees the refund already applied. Ownership is
// asserted atomically by extending the lease for the refund window; a
// refund that cannot be applied leaves the job leased for recovery.
func (p *Pool) fail(ctx context.Context, job *domain.Job, cause error) {
	kind := domain.KindOf(cause)
	log := p.logger.With().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Str("error_kind", string(kind)).
		Logger()

	hold := p.now().UTC().Add(refundHold)
	held, err := p.deps.Store.Update(ctx, job.ID, domain.StateProcessing, func(j *domain.Job) error {
		if j.WorkerID != job.WorkerID {
			return jobstore.ErrConflict
		}
		j.LeaseUntil = &hold
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("worker: job no longer held, not failing it")
		return
	}
	refunded, err := p.refund(ctx, held)
	if err != nil {
		log.Error().Err(err).Time("lease_until", hold).Msg("worker: refund failed, job left leased for recovery")
		return
	}

	failedAt := p.now().UTC()
	_, err = p.deps.Store.Update(ctx, job.ID, domain.StateProcessing, func(j *domain.Job) error {
		if j.WorkerID != job.WorkerID {
			return jobstore.ErrConflict
		}
		j.State = domain.StateFailed
		j.Attempts = job.Attempts + 1
		j.Refunded = refunded
		j.LeaseUntil = nil
		j.CompletedAt = &failedAt
		j.Error = &domain.JobError{Kind: kind, Message: domain.PublicMessage(cause)}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("worker: fail transition failed")
		return
	}
	p.ack(ctx, job.ID)
	log.Error().
		Err(cause).
		Int("attempt", job.Attempts+1).
		Bool("refunded", refunded).
		Msg("worker: job failed")
}

// refund credits the debit back, retrying on the refund schedule. Refunds
// are idempotent per job, so a retry after an ambiguous error is safe.
func (p *Pool) refund(ctx context.Context, job *domain.Job) (bool, error) {
	if job.TokensDebited <= 0 || job.Refunded {
		return job.Refunded, nil
	}
	entry := ledger.Entry{
		UserID: job.UserID,
		JobID:  job.ID,
		Kind:   job.Kind,
		Amount: job.TokensDebited,
	}
	var err error
	for attempt := 0; attempt < p.refundAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.refundBackoff.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}
		err = p.deps.Ledger.Refund(ctx, entry)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ledger.ErrNoDebit):
			// Nothing was charged, so there is nothing to hold the job for.
			p.logger.Error().Err(err).Str("job_id", job.ID).Str("user_id", job.UserID).Msg("worker: no debit to refund")
			return false, nil
		}
		p.logger.Warn().Err(err).Str("job_id", job.ID).Int("attempt", attempt+1).Msg("worker: refund attempt failed")
	}
	return false, fmt.Errorf("refund %s after %d attempts: %w", job.ID, p.refundAttempts, err)
}

func (p *Pool) ack(ctx context.Context, id string) {
	if err := p.deps.Queue.Ack(ctx, id); err != nil {
		p.logger.Warn().Err(err).Str("job_id", id).Msg("worker: ack failed")
	}
}
