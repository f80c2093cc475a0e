package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindMissingPerson Kind = "missing_person"
	KindSighting      Kind = "sighting"
)

// ParseKind accepts the canonical kind names and the plural/hyphenated forms used in URLs.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "missing_person", "missing-person", "missing-persons", "missing_persons":
		return KindMissingPerson, nil
	case "sighting", "sightings":
		return KindSighting, nil
	default:
		return "", fmt.Errorf("unknown record kind %q", s)
	}
}

// Counterpart is the kind that recognition searches from k resolve against.
func (k Kind) Counterpart() Kind {
	if k == KindMissingPerson {
		return KindSighting
	}
	return KindMissingPerson
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusMatched     Status = "matched"
	StatusResolved    Status = "resolved"
	StatusRejected    Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusUnderReview, StatusMatched, StatusResolved, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusMatched || s == StatusResolved || s == StatusRejected
}

// Record is the stored form of both entity kinds. Kind-specific fields are left zero
// for the other kind; Status is nil for kinds without a lifecycle.
type Record struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Kind        Kind       `json:"kind" db:"kind"`
	OwnerID     string     `json:"owner_id" db:"owner_id"`
	Name        string     `json:"name" db:"name"`
	Age         *int       `json:"age,omitempty" db:"age"`
	Gender      string     `json:"gender,omitempty" db:"gender"`
	MissingDate *time.Time `json:"missing_date,omitempty" db:"missing_date"`
	Description string     `json:"description" db:"description"`
	Location    string     `json:"location" db:"location"`
	Photos      []string   `json:"photos" db:"photos"`
	Status      *Status    `json:"status,omitempty" db:"status"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// CurrentStatus returns the status or "" for kinds without one.
func (r *Record) CurrentStatus() Status {
	if r.Status == nil {
		return ""
	}
	return *r.Status
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	c := *r
	if r.Age != nil {
		age := *r.Age
		c.Age = &age
	}
	if r.MissingDate != nil {
		d := *r.MissingDate
		c.MissingDate = &d
	}
	if r.Status != nil {
		st := *r.Status
		c.Status = &st
	}
	c.Photos = append([]string(nil), r.Photos...)
	return &c
}
