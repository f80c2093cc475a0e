package dto

import "github.com/google/uuid"

type IndexJobResponse struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	RecordID  uuid.UUID `json:"record_id"`
	OwnerID   string    `json:"owner_id"`
	PhotoURLs []string  `json:"photo_urls"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

type IndexJobListResponse struct {
	Jobs  []IndexJobResponse `json:"jobs"`
	Count int                `json:"count"`
}

type IndexJobQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

type RetrySummaryResponse struct {
	Dispatched int                `json:"dispatched"`
	Failed     int                `json:"failed"`
	Jobs       []IndexJobResponse `json:"jobs"`
}
