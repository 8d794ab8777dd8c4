package domain

import "time"

// Kind enumerates the generator families.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindVoice Kind = "voice"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindImage, KindVideo, KindVoice}

// ParseKind accepts the internal kind names.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindImage, KindVideo, KindVoice:
		return Kind(s), true
	}
	return "", false
}

// ParseRouteKind maps the public route segment to a Kind. The public API
// calls images "photo".
func ParseRouteKind(s string) (Kind, bool) {
	switch s {
	case "photo":
		return KindImage, true
	case "video":
		return KindVideo, true
	case "voice":
		return KindVoice, true
	}
	return "", false
}

// RouteName is the inverse of ParseRouteKind.
func (k Kind) RouteName() string {
	if k == KindImage {
		return "photo"
	}
	return string(k)
}

// Deadline is the upstream call budget for the kind.
func (k Kind) Deadline() time.Duration {
	switch k {
	case KindVideo:
		return 300 * time.Second
	case KindVoice:
		return 30 * time.Second
	default:
		return 60 * time.Second
	}
}

// Price is the static token cost of one job of the kind.
func (k Kind) Price() int {
	switch k {
	case KindImage:
		return 5
	case KindVideo:
		return 15
	case KindVoice:
		return 3
	}
	return 0
}

// Priority enumerates the queue classes.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Priorities lists the classes in reservation order.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal}

// Rank orders priorities; lower ranks are reserved first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	}
	return -1
}

// Valid reports whether p is a known class.
func (p Priority) Valid() bool { return p.Rank() >= 0 }

// State is the lifecycle state of a job.
type State string

const (
	StateQueued     State = "queued"
	StateReserved   State = "reserved"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateQueued:     {StateReserved, StateCancelled},
	StateReserved:   {StateProcessing, StateQueued},
	StateProcessing: {StateCompleted, StateFailed, StateQueued},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Result is the artifact produced by a completed job.
type Result struct {
	ArtifactURL     string  `json:"artifact_url"`
	ThumbnailURL    string  `json:"thumbnail_url,omitempty"`
	MIME            string  `json:"mime,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	FrameCount      int     `json:"frame_count,omitempty"`
}

// JobError is the failure recorded on a failed job. Message is redacted.
type JobError struct {
	Kind    ErrorKind `json:"error_kind"`
	Message string    `json:"error"`
}

// Job is the orchestrator's unit of work.
type Job struct {
	ID            string     `json:"job_id"`
	UserID        string     `json:"user_id"`
	SubjectID     string     `json:"subject_id"`
	Kind          Kind       `json:"kind"`
	Request       Request    `json:"request"`
	Priority      Priority   `json:"priority"`
	State         State      `json:"state"`
	Attempts      int        `json:"attempts"`
	QueueSeq      int64      `json:"queue_seq,omitempty"`
	ReadyAt       *time.Time `json:"ready_at,omitempty"`
	WorkerID      string     `json:"worker_id,omitempty"`
	LeaseUntil    *time.Time `json:"lease_until,omitempty"`
	TokensDebited int        `json:"tokens_debited"`
	Refunded      bool       `json:"refunded"`
	Result        *Result    `json:"result,omitempty"`
	Error         *JobError  `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReservedAt    *time.Time `json:"reserved_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Request = j.Request.clone()
	cp.ReadyAt = cloneTime(j.ReadyAt)
	cp.LeaseUntil = cloneTime(j.LeaseUntil)
	cp.ReservedAt = cloneTime(j.ReservedAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

// Estimate returns the advertised wait in seconds.
func (j *Job) Estimate() int {
	return EstimateSeconds(j.Kind, j.Request)
}

// Summary projects the job into a history entry.
func (j *Job) Summary() JobSummary {
	s := JobSummary{
		ID:        j.ID,
		Kind:      j.Kind,
		SubjectID: j.SubjectID,
		State:     j.State,
		CreatedAt: j.CreatedAt,
	}
	if j.Result != nil {
		s.ArtifactURL = j.Result.ArtifactURL
		s.ThumbnailURL = j.Result.ThumbnailURL
	}
	if j.Error != nil {
		s.ErrorKind = j.Error.Kind
	}
	return s
}

// JobSummary is a compact history entry.
type JobSummary struct {
	ID           string    `json:"job_id"`
	Kind         Kind      `json:"kind"`
	SubjectID    string    `json:"subject_id"`
	State        State     `json:"status"`
	ArtifactURL  string    `json:"artifact_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
