// Package lifecycle enforces the sighting status state machine and who may drive it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/your-org/absens/internal/auth"
	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/internal/storage"
	"github.com/your-org/absens/pkg/apperr"
)

var tracer = observability.Tracer("lifecycle")

// transitions lists every allowed move. Anything absent is invalid.
var transitions = map[models.Status][]models.Status{
	models.StatusPending:     {models.StatusUnderReview, models.StatusRejected},
	models.StatusUnderReview: {models.StatusMatched, models.StatusResolved, models.StatusRejected},
}

// Allowed reports whether from -> to is an edge of the status graph.
func Allowed(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type StatusStore interface {
	Get(ctx context.Context, kind models.Kind, id uuid.UUID) (*models.Record, error)
	UpdateStatus(ctx context.Context, kind models.Kind, id uuid.UUID, from, to models.Status) (*models.Record, error)
}

type EventPublisher interface {
	PublishRecordEvent(ctx context.Context, evt models.RecordEvent) error
}

const maxAttempts = 3

type Manager struct {
	store  StatusStore
	events EventPublisher
	logger *slog.Logger
}

func NewManager(store StatusStore, events EventPublisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, events: events, logger: logger}
}

// Transition moves record id of the given kind to requested on behalf of actor.
// Requesting the current status of a non-terminal record is a no-op. The update is a
// compare-and-set against the status that was validated; if another request changes
// the status first, the new status is re-read and validated again.
func (m *Manager) Transition(ctx context.Context, actor auth.Identity, kind models.Kind, id uuid.UUID, requested models.Status) (*models.Record, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("record.kind", string(kind)),
		attribute.String("record.id", id.String()),
		attribute.String("status.requested", string(requested)),
	)

	if s, ok := models.SchemaFor(kind); !ok || !s.HasStatus {
		return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("%s records have no status", kind))
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec, err := m.store.Get(ctx, kind, id)
		if err != nil {
			return nil, translate(err)
		}
		current := rec.CurrentStatus()

		if current == requested && !current.Terminal() {
			if err := authorizeView(actor, rec); err != nil {
				return nil, err
			}
			return rec, nil
		}
		if !Allowed(current, requested) {
			return nil, apperr.New(apperr.CodeInvalidTransition,
				fmt.Sprintf("cannot move from %s to %s", current, requested))
		}
		if err := authorize(actor, rec, requested); err != nil {
			return nil, err
		}

		updated, err := m.store.UpdateStatus(ctx, kind, id, current, requested)
		if errors.Is(err, storage.ErrConflict) {
			m.logger.Debug("status changed concurrently, retrying", "record_id", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, translate(err)
		}

		observability.StatusTransitions.WithLabelValues(string(current), string(requested)).Inc()
		m.logger.Info("status changed",
			"kind", kind, "record_id", id, "from", current, "to", requested,
			"actor", actor.UserID, "role", actor.Role)
		m.publish(ctx, updated)
		return updated, nil
	}
	return nil, apperr.New(apperr.CodeConflict, "status changed concurrently, try again")
}

// authorize applies the role rules for a valid edge. Reporters may only withdraw
// their own pending report.
func authorize(actor auth.Identity, rec *models.Record, to models.Status) error {
	if actor.Role.Elevated() {
		return nil
	}
	if actor.Role == auth.RoleReporter &&
		rec.OwnerID == actor.UserID &&
		rec.CurrentStatus() == models.StatusPending &&
		to == models.StatusRejected {
		return nil
	}
	return apperr.New(apperr.CodeForbidden, fmt.Sprintf("role %q may not move this record to %s", actor.Role, to))
}

func authorizeView(actor auth.Identity, rec *models.Record) error {
	if actor.Role.Elevated() || rec.OwnerID == actor.UserID {
		return nil
	}
	return apperr.New(apperr.CodeForbidden, "not allowed to change this record")
}

func translate(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(apperr.CodeNotFound, "record not found")
	}
	if errors.Is(err, storage.ErrNoStatus) {
		return apperr.New(apperr.CodeValidation, "record kind has no status")
	}
	return apperr.Wrap(err, apperr.CodeStoreUnavailable, "record store unavailable")
}

func (m *Manager) publish(ctx context.Context, rec *models.Record) {
	if m.events == nil {
		return
	}
	evt := models.RecordEvent{
		Type:     models.EventStatusChanged,
		Kind:     rec.Kind,
		RecordID: rec.ID.String(),
		Status:   rec.CurrentStatus(),
	}
	if err := m.events.PublishRecordEvent(ctx, evt); err != nil {
		m.logger.Warn("publish status event", "record_id", rec.ID, "error", err)
	}
}
