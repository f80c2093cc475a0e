package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/absens/pkg/apperr"
)

type FieldType int

const (
	FieldText FieldType = iota
	FieldInt
	FieldDate
)

type FieldSpec struct {
	Name     string
	Aliases  []string
	Type     FieldType
	Required bool
	MaxLen   int
}

// Schema describes one record kind: which fields it accepts and whether it carries
// a lifecycle status.
type Schema struct {
	Kind      Kind
	Fields    []FieldSpec
	HasStatus bool
	MaxPhotos int
}

const DefaultMaxPhotos = 5

var schemas = map[Kind]Schema{
	KindMissingPerson: {
		Kind: KindMissingPerson,
		Fields: []FieldSpec{
			{Name: "name", Type: FieldText, Required: true, MaxLen: 200},
			{Name: "age", Type: FieldInt, Required: true},
			{Name: "gender", Type: FieldText, Required: true, MaxLen: 32},
			{Name: "last_seen_location", Aliases: []string{"lastSeenLocation"}, Type: FieldText, Required: true, MaxLen: 500},
			{Name: "missing_date", Aliases: []string{"missingDate"}, Type: FieldDate, Required: true},
			{Name: "description", Type: FieldText, MaxLen: 5000},
		},
		MaxPhotos: DefaultMaxPhotos,
	},
	KindSighting: {
		Kind: KindSighting,
		Fields: []FieldSpec{
			{Name: "name", Type: FieldText, MaxLen: 200},
			{Name: "description", Type: FieldText, Required: true, MaxLen: 5000},
			{Name: "location", Type: FieldText, Required: true, MaxLen: 500},
		},
		HasStatus: true,
		MaxPhotos: DefaultMaxPhotos,
	},
}

func SchemaFor(kind Kind) (Schema, bool) {
	s, ok := schemas[kind]
	return s, ok
}

func (s Schema) lookup(fields map[string]string, f FieldSpec) string {
	if v, ok := fields[f.Name]; ok {
		return strings.TrimSpace(v)
	}
	for _, a := range f.Aliases {
		if v, ok := fields[a]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Build validates raw form fields against the schema and returns an unsaved record.
// now bounds date fields; photos are attached later by the caller.
func (s Schema) Build(ownerID string, fields map[string]string, now time.Time) (*Record, error) {
	if ownerID == "" {
		return nil, apperr.New(apperr.CodeValidation, "owner id is required")
	}
	rec := &Record{Kind: s.Kind, OwnerID: ownerID}

	for _, f := range s.Fields {
		raw := s.lookup(fields, f)
		if raw == "" {
			if f.Required {
				return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("%s is required", f.Name))
			}
			continue
		}
		if f.MaxLen > 0 && len(raw) > f.MaxLen {
			return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("%s exceeds %d characters", f.Name, f.MaxLen))
		}

		switch f.Type {
		case FieldInt:
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 || n > 150 {
				return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("%s must be an integer between 0 and 150", f.Name))
			}
			rec.Age = &n
		case FieldDate:
			d, err := parseDate(raw)
			if err != nil {
				return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("%s must be a date (YYYY-MM-DD)", f.Name))
			}
			if d.After(now) {
				return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("%s cannot be in the future", f.Name))
			}
			rec.MissingDate = &d
		default:
			switch f.Name {
			case "name":
				rec.Name = raw
			case "gender":
				rec.Gender = strings.ToLower(raw)
			case "description":
				rec.Description = raw
			case "location", "last_seen_location":
				rec.Location = raw
			}
		}
	}

	if s.HasStatus {
		st := StatusPending
		rec.Status = &st
	}
	return rec, nil
}

// CheckPhotos validates the photo count for the kind.
func (s Schema) CheckPhotos(n int) error {
	if n > s.MaxPhotos {
		return apperr.New(apperr.CodeValidation, fmt.Sprintf("at most %d photos allowed", s.MaxPhotos))
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
