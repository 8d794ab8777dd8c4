package orchestrator

import (
	"math"
	"time"

	"mediagen/internal/domain"
)

// JobStatus is the polling view of a job.
type JobStatus struct {
	JobID          string           `json:"job_id"`
	Kind           string           `json:"kind"`
	Status         domain.State     `json:"status"`
	ArtifactURL    string           `json:"artifact_url,omitempty"`
	ThumbnailURL   string           `json:"thumbnail_url,omitempty"`
	Duration       float64          `json:"duration,omitempty"`
	FrameCount     int              `json:"frame_count,omitempty"`
	GenerationTime float64          `json:"generation_time,omitempty"`
	Progress       *float64         `json:"progress,omitempty"`
	ErrorKind      domain.ErrorKind `json:"error_kind,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// HealthReport is returned by Health.
type HealthReport struct {
	Store  string           `json:"store"`
	Ledger string           `json:"ledger"`
	Queue  map[string]int64 `json:"queue,omitempty"`
}

// publicState hides the reserved step from clients.
func publicState(s domain.State) domain.State {
	if s == domain.StateReserved {
		return domain.StateProcessing
	}
	return s
}

func statusOf(job *domain.Job, now time.Time) *JobStatus {
	st := &JobStatus{
		JobID:     job.ID,
		Kind:      job.Kind.RouteName(),
		Status:    publicState(job.State),
		CreatedAt: job.CreatedAt,
	}
	switch job.State {
	case domain.StateCompleted:
		if job.Result != nil {
			st.ArtifactURL = job.Result.ArtifactURL
			st.ThumbnailURL = job.Result.ThumbnailURL
			st.Duration = job.Result.DurationSeconds
			st.FrameCount = job.Result.FrameCount
		}
		if job.CompletedAt != nil {
			st.GenerationTime = round(job.CompletedAt.Sub(job.CreatedAt).Seconds())
		}
	case domain.StateFailed:
		if job.Error != nil {
			st.ErrorKind = job.Error.Kind
			st.Error = job.Error.Message
		}
	case domain.StateProcessing:
		st.Progress = progress(job, now)
	case domain.StateReserved:
		zero := 0.0
		st.Progress = &zero
	}
	return st
}

// progress is elapsed time over the advertised estimate, capped below one
// so clients never see a finished bar before the artifact exists.
func progress(job *domain.Job, now time.Time) *float64 {
	p := 0.0
	if est := job.Estimate(); est > 0 && job.StartedAt != nil {
		p = now.Sub(*job.StartedAt).Seconds() / float64(est)
	}
	p = math.Max(0, math.Min(p, maxProgress))
	p = round(p)
	return &p
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
