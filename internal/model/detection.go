package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// DetectionSource identifies which path produced an identification.
type DetectionSource string

const (
	SourceLocal    DetectionSource = "local"
	SourceExternal DetectionSource = "external"
	// SourceHybrid marks a below-threshold local candidate confirmed by
	// the external service.
	SourceHybrid DetectionSource = "hybrid"
)

// DetectionStatus is the processing state of an AudioDetection.
type DetectionStatus string

const (
	StatusPending    DetectionStatus = "pending"
	StatusProcessing DetectionStatus = "processing"
	StatusCompleted  DetectionStatus = "completed"
	StatusFailed     DetectionStatus = "failed"
	StatusRetry      DetectionStatus = "retry"
)

// validTransitions encodes the detection lifecycle:
// pending -> processing -> completed | failed | retry; retry -> processing.
// Failed is terminal.
var validTransitions = map[DetectionStatus][]DetectionStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusRetry},
	StatusRetry:      {StatusProcessing},
}

// CanTransition reports whether moving from s to next is legal.
func (s DetectionStatus) CanTransition(next DetectionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next if the move is legal, or an error naming the
// illegal edge. Status fields must only be assigned through this method so
// invalid lifecycles are construction-time errors, not latent data bugs.
func (s DetectionStatus) Transition(next DetectionStatus) (DetectionStatus, error) {
	if !s.CanTransition(next) {
		return s, eris.Errorf("model: illegal detection status transition %s -> %s", s, next)
	}
	return next, nil
}

// Terminal reports whether no further automatic processing will occur.
func (s DetectionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AudioDetection is the per-snippet audit record. One detection is created
// per processed snippet and updated as its status changes; rows are never
// deleted.
type AudioDetection struct {
	ID              string          `json:"id"`
	StationID       string          `json:"station_id"`
	TrackID         string          `json:"track_id,omitempty"` // empty until resolved to the catalog
	Source          DetectionSource `json:"source,omitempty"`
	Status          DetectionStatus `json:"status"`
	Confidence      float64         `json:"confidence"`
	ISRC            string          `json:"isrc,omitempty"`
	ISWC            string          `json:"iswc,omitempty"`
	ExternalPayload json.RawMessage `json:"external_payload,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	RetryCount      int             `json:"retry_count"`
	SessionID       string          `json:"session_id,omitempty"`
	CapturedAt      time.Time       `json:"captured_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Snippet is one captured slice of a station feed awaiting identification.
type Snippet struct {
	StationID  string    `json:"station_id"`
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	// Raw holds the original container bytes for the external service,
	// which accepts encoded audio rather than PCM.
	Raw        []byte    `json:"-"`
	CapturedAt time.Time `json:"captured_at"`
	SessionID  string    `json:"session_id"`
}
