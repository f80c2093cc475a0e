package dto

import "github.com/google/uuid"

// RecordResponse is the wire form of a record. Fields that do not apply to the
// record's kind are omitted; in particular missing-person records never carry status.
type RecordResponse struct {
	ID               uuid.UUID `json:"id"`
	Kind             string    `json:"kind"`
	OwnerID          string    `json:"owner_id"`
	Name             string    `json:"name,omitempty"`
	Age              *int      `json:"age,omitempty"`
	Gender           string    `json:"gender,omitempty"`
	LastSeenLocation string    `json:"last_seen_location,omitempty"`
	MissingDate      string    `json:"missing_date,omitempty"`
	Description      string    `json:"description,omitempty"`
	Location         string    `json:"location,omitempty"`
	Photos           []string  `json:"photos"`
	Status           string    `json:"status,omitempty"`
	CreatedAt        string    `json:"created_at"`
	UpdatedAt        string    `json:"updated_at,omitempty"`
}

// SubmitResponse is returned by POST /v1/records/:kind. Indexed is false when the
// photos could not be handed to the recognition indexer; the record is still saved.
type SubmitResponse struct {
	RecordResponse
	Indexed    bool       `json:"indexed"`
	Indexing   string     `json:"indexing,omitempty"`
	IndexJobID *uuid.UUID `json:"index_job_id,omitempty"`
	Replayed   bool       `json:"replayed,omitempty"`
}

type RecordListResponse struct {
	Records []RecordResponse `json:"records"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit,omitempty"`
	Offset  int              `json:"offset,omitempty"`
}

type RecordQuery struct {
	Owner  string `form:"owner"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type MatchRequest struct {
	OwnerID   string   `json:"owner_id"`
	PhotoURLs []string `json:"photo_urls"`
}

// MatchResponse carries either a matched record or matched=false. It is never a 404.
type MatchResponse struct {
	Matched bool            `json:"matched"`
	Score   float64         `json:"score,omitempty"`
	Record  *RecordResponse `json:"record,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}
