package models

// MatchCandidate is one scored reference returned by a recognition search.
// It lives only for the duration of a single search call.
type MatchCandidate struct {
	RecordID string  `json:"id"`
	Score    float64 `json:"score"`
}

// MatchResult holds either a resolved record or nothing. Matched is false exactly
// when Record is nil.
type MatchResult struct {
	Matched bool    `json:"matched"`
	Record  *Record `json:"record,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

func NoMatch() MatchResult {
	return MatchResult{}
}

func Matched(rec *Record, score float64) MatchResult {
	return MatchResult{Matched: true, Record: rec, Score: score}
}

// RecordEvent is published when a record is created or changes status.
type RecordEvent struct {
	Type     string `json:"type"`
	Kind     Kind   `json:"kind"`
	RecordID string `json:"record_id"`
	Status   Status `json:"status,omitempty"`
}

const (
	EventRecordCreated = "record_created"
	EventStatusChanged = "status_changed"
)
