package dto

// WSEvent is a WebSocket message for the record activity feed.
type WSEvent struct {
	Type     string `json:"type"` // record_created, status_changed
	Kind     string `json:"kind"`
	RecordID string `json:"record_id"`
	Status   string `json:"status,omitempty"`
	SentAt   string `json:"sent_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
