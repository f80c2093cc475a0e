package models

import (
	"time"

	"github.com/google/uuid"
)

type IndexJobStatus string

const (
	IndexJobPending IndexJobStatus = "pending"
	IndexJobIndexed IndexJobStatus = "indexed"
	IndexJobFailed  IndexJobStatus = "failed"
)

// IndexJob is the durable record of one attempt to hand a record's photos to the
// recognition service.
type IndexJob struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Kind      Kind           `json:"kind" db:"kind"`
	RecordID  uuid.UUID      `json:"record_id" db:"record_id"`
	OwnerID   string         `json:"owner_id" db:"owner_id"`
	PhotoURLs []string       `json:"photo_urls" db:"photo_urls"`
	Status    IndexJobStatus `json:"status" db:"status"`
	Attempts  int            `json:"attempts" db:"attempts"`
	LastError string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// IndexTask is the message handed to index workers, over NATS or the local pool.
type IndexTask struct {
	JobID     uuid.UUID `json:"job_id"`
	Kind      Kind      `json:"kind"`
	RecordID  uuid.UUID `json:"record_id"`
	OwnerID   string    `json:"owner_id"`
	PhotoURLs []string  `json:"photo_urls"`
}

func (j *IndexJob) Task() IndexTask {
	return IndexTask{
		JobID:     j.ID,
		Kind:      j.Kind,
		RecordID:  j.RecordID,
		OwnerID:   j.OwnerID,
		PhotoURLs: append([]string(nil), j.PhotoURLs...),
	}
}
