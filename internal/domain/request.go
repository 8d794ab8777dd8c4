package domain

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MinNumFrames     = 8
	MaxNumFrames     = 32
	MinFPS           = 4
	MaxFPS           = 16
	MaxNSFWLevel     = 100
	MaxVoiceTextLen  = 5000
	maxFreeTextBytes = 4000
)

// Request is the normalized parameter bundle of a job. Only the fields of
// the job's kind are populated.
type Request struct {
	SubjectID    string   `json:"subject_id"`
	Context      string   `json:"context,omitempty"`
	PriorityHint Priority `json:"priority_hint,omitempty"`

	// photo
	NSFWLevel    *int   `json:"nsfw_level,omitempty"`
	HighQuality  bool   `json:"high_quality,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`

	// video
	NumFrames *int `json:"num_frames,omitempty"`
	FPS       *int `json:"fps,omitempty"`

	// voice
	Text      string `json:"text,omitempty"`
	Archetype string `json:"archetype,omitempty"`
	Emotion   string `json:"emotion,omitempty"`
}

func (r Request) clone() Request {
	cp := r
	cp.NSFWLevel = cloneInt(r.NSFWLevel)
	cp.NumFrames = cloneInt(r.NumFrames)
	cp.FPS = cloneInt(r.FPS)
	return cp
}

// Normalize trims whitespace and applies NFC so length limits count
// characters the way users typed them.
func (r Request) Normalize() Request {
	r = r.clone()
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	r.Context = norm.NFC.String(strings.TrimSpace(r.Context))
	r.CustomPrompt = norm.NFC.String(strings.TrimSpace(r.CustomPrompt))
	r.Text = norm.NFC.String(strings.TrimSpace(r.Text))
	r.Archetype = strings.TrimSpace(r.Archetype)
	r.Emotion = strings.TrimSpace(r.Emotion)
	r.PriorityHint = Priority(strings.ToLower(strings.TrimSpace(string(r.PriorityHint))))
	return r
}

// Validate checks r against the schema of kind. Deny-listed content is
// rejected when deny is non-nil.
func (r Request) Validate(kind Kind, deny *DenyList) error {
	if r.SubjectID == "" {
		return NewError(ErrorKindSchemaInvalid, "subject_id is required")
	}
	if r.PriorityHint != "" && !r.PriorityHint.Valid() {
		return Errorf(ErrorKindSchemaInvalid, "priority_hint %q is not one of normal, high, urgent", r.PriorityHint)
	}
	if len(r.Context) > maxFreeTextBytes {
		return NewError(ErrorKindSchemaInvalid, "context is too long")
	}
	switch kind {
	case KindImage:
		if r.NSFWLevel == nil {
			return NewError(ErrorKindSchemaInvalid, "nsfw_level is required")
		}
		if *r.NSFWLevel < 0 || *r.NSFWLevel > MaxNSFWLevel {
			return Errorf(ErrorKindSchemaInvalid, "nsfw_level must be between 0 and %d", MaxNSFWLevel)
		}
		if len(r.CustomPrompt) > maxFreeTextBytes {
			return NewError(ErrorKindSchemaInvalid, "custom_prompt is too long")
		}
	case KindVideo:
		if r.NumFrames == nil || *r.NumFrames < MinNumFrames || *r.NumFrames > MaxNumFrames {
			return Errorf(ErrorKindSchemaInvalid, "num_frames must be between %d and %d", MinNumFrames, MaxNumFrames)
		}
		if r.FPS == nil || *r.FPS < MinFPS || *r.FPS > MaxFPS {
			return Errorf(ErrorKindSchemaInvalid, "fps must be between %d and %d", MinFPS, MaxFPS)
		}
	case KindVoice:
		if r.Text == "" {
			return NewError(ErrorKindSchemaInvalid, "text is required")
		}
		if utf8.RuneCountInString(r.Text) > MaxVoiceTextLen {
			return Errorf(ErrorKindSchemaInvalid, "text must be at most %d characters", MaxVoiceTextLen)
		}
		if r.Archetype == "" {
			return NewError(ErrorKindSchemaInvalid, "archetype is required")
		}
	default:
		return Errorf(ErrorKindSchemaInvalid, "unsupported kind %q", kind)
	}
	if deny != nil {
		for _, field := range []string{r.Context, r.CustomPrompt, r.Text} {
			if deny.Match(field) {
				return NewError(ErrorKindSchemaInvalid, "request contains disallowed content")
			}
		}
	}
	return nil
}

// EstimateSeconds is the advertised completion time of a job.
func EstimateSeconds(kind Kind, r Request) int {
	switch kind {
	case KindImage:
		if r.HighQuality {
			return 5
		}
		return 3
	case KindVideo:
		if r.NumFrames != nil {
			return *r.NumFrames / 2
		}
		return MinNumFrames / 2
	case KindVoice:
		return 2
	}
	return 0
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// IntPtr is a helper for building requests.
func IntPtr(v int) *int { return &v }
