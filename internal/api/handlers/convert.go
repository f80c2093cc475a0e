package handlers

import (
	"time"

	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/pkg/dto"
)

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func toRecordResponse(r *models.Record) dto.RecordResponse {
	resp := dto.RecordResponse{
		ID:          r.ID,
		Kind:        string(r.Kind),
		OwnerID:     r.OwnerID,
		Name:        r.Name,
		Description: r.Description,
		Photos:      r.Photos,
		CreatedAt:   formatTime(r.CreatedAt),
	}
	if resp.Photos == nil {
		resp.Photos = []string{}
	}

	switch r.Kind {
	case models.KindMissingPerson:
		resp.Age = r.Age
		resp.Gender = r.Gender
		resp.LastSeenLocation = r.Location
		if r.MissingDate != nil {
			resp.MissingDate = r.MissingDate.Format("2006-01-02")
		}
	default:
		resp.Location = r.Location
		resp.Status = string(r.CurrentStatus())
		resp.UpdatedAt = formatTime(r.UpdatedAt)
	}
	return resp
}

func toIndexJobResponse(j *models.IndexJob) dto.IndexJobResponse {
	return dto.IndexJobResponse{
		ID:        j.ID,
		Kind:      string(j.Kind),
		RecordID:  j.RecordID,
		OwnerID:   j.OwnerID,
		PhotoURLs: j.PhotoURLs,
		Status:    string(j.Status),
		Attempts:  j.Attempts,
		LastError: j.LastError,
		CreatedAt: formatTime(j.CreatedAt),
		UpdatedAt: formatTime(j.UpdatedAt),
	}
}
