package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobState is the lifecycle state of a transcription job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// QualityProfile is the symbolic precision tier requested for a job.
type QualityProfile string

const (
	ProfileFast     QualityProfile = "fast"
	ProfileBalanced QualityProfile = "balanced"
	ProfilePrecise  QualityProfile = "precise"
)

// Valid reports whether p is one of the recognized quality profiles.
func (p QualityProfile) Valid() bool {
	switch p {
	case ProfileFast, ProfileBalanced, ProfilePrecise:
		return true
	}
	return false
}

// Quantization maps a quality profile to its numeric precision choice.
func (p QualityProfile) Quantization() string {
	switch p {
	case ProfileFast:
		return "int8"
	case ProfilePrecise:
		return "float32"
	default:
		return "float16"
	}
}

// Segment is a single transcribed span with an optional speaker label.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
}

// SegmentList is the ordered list of segments for a job, persisted as a
// single JSON text column so it round-trips losslessly without a join table.
type SegmentList []Segment

// Value implements driver.Valuer for GORM.
func (s SegmentList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for GORM.
func (s *SegmentList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("models: unsupported SegmentList scan source %T", value)
	}
	if len(raw) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(raw, s)
}

// TagList is a small string slice persisted as a JSON column.
type TagList []string

func (t TagList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *TagList) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("models: unsupported TagList scan source %T", value)
	}
	if len(raw) == 0 {
		*t = nil
		return nil
	}
	return json.Unmarshal(raw, t)
}

// Job is the durable catalog record for a transcription job.
//
// Invariants (enforced by the catalog package, not by GORM itself):
// OutputKey is non-null iff State == JobCompleted; CompletedAt is non-null
// iff State == JobCompleted.
type Job struct {
	ID             string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID        uint           `json:"owner_id" gorm:"not null;index"`
	EnvelopeID     string         `json:"envelope_id" gorm:"type:varchar(64);index"`
	State          JobState       `json:"state" gorm:"type:varchar(16);not null;default:'queued';index"`
	QualityProfile QualityProfile `json:"quality_profile" gorm:"type:varchar(16);not null;default:'balanced'"`
	Language       string         `json:"language" gorm:"type:varchar(16)"`
	Title          string         `json:"title" gorm:"type:varchar(255)"`
	Tags           TagList        `json:"tags" gorm:"type:text"`
	InputKey       string         `json:"input_key" gorm:"type:text;not null"`
	OutputKey      *string        `json:"output_key,omitempty" gorm:"type:text"`
	Segments       SegmentList    `json:"segments" gorm:"type:text"`
	DurationSec    *float64       `json:"duration_seconds,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// BeforeCreate assigns an id if the caller did not already set one.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.State == "" {
		j.State = JobQueued
	}
	return nil
}

// ErrInvalidTransition is returned by the catalog when a caller attempts a
// state change not in the allowed transition table.
var ErrInvalidTransition = errors.New("models: invalid job state transition")

var allowedTransitions = map[JobState]map[JobState]bool{
	JobQueued:  {JobRunning: true, JobFailed: true},
	JobRunning: {JobCompleted: true, JobFailed: true},
}

// CanTransition reports whether from -> to is one of the four valid edges:
// Queued->Running, Running->Completed, Running->Failed, Queued->Failed.
func CanTransition(from, to JobState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}
