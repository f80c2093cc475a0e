// Package matching turns recognition search results into a single resolved record.
package matching

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/internal/storage"
	"github.com/your-org/absens/pkg/apperr"
)

var tracer = observability.Tracer("matching")

type Searcher interface {
	Search(ctx context.Context, kind models.Kind, ownerID string, photoURLs []string) ([]models.MatchCandidate, error)
}

type RecordGetter interface {
	Get(ctx context.Context, kind models.Kind, id uuid.UUID) (*models.Record, error)
}

type Resolver struct {
	searcher Searcher
	records  RecordGetter
	logger   *slog.Logger
}

func NewResolver(searcher Searcher, records RecordGetter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{searcher: searcher, records: records, logger: logger}
}

// FindMatches searches for faces in photoURLs among records of the counterpart kind
// and returns the best-scoring one. A failing or slow recognition service, an empty
// candidate list and a candidate whose record no longer exists all yield no match;
// only record store failures are returned as errors.
func (r *Resolver) FindMatches(ctx context.Context, kind models.Kind, ownerID string, photoURLs []string) (models.MatchResult, error) {
	ctx, span := tracer.Start(ctx, "matching.FindMatches")
	defer span.End()

	outcome := "matched"
	defer func() {
		observability.MatchSearches.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("match.outcome", outcome))
	}()

	if _, ok := models.SchemaFor(kind); !ok {
		outcome = "skipped"
		return models.NoMatch(), apperr.New(apperr.CodeValidation, "unknown record kind")
	}
	if len(photoURLs) == 0 {
		outcome = "skipped"
		return models.NoMatch(), nil
	}

	candidates, err := r.searcher.Search(ctx, kind, ownerID, photoURLs)
	if err != nil {
		outcome = "degraded"
		r.logger.Warn("recognition search failed, reporting no match", "kind", kind, "owner_id", ownerID, "error", err)
		return models.NoMatch(), nil
	}

	best, ok := Best(candidates)
	if !ok {
		outcome = "no_candidates"
		return models.NoMatch(), nil
	}

	id, err := uuid.Parse(best.RecordID)
	if err != nil {
		outcome = "stale"
		r.logger.Warn("recognition returned malformed record id", "id", best.RecordID)
		return models.NoMatch(), nil
	}

	target := kind.Counterpart()
	rec, err := r.records.Get(ctx, target, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			outcome = "stale"
			r.logger.Info("best candidate no longer exists", "kind", target, "record_id", id)
			return models.NoMatch(), nil
		}
		outcome = "error"
		return models.NoMatch(), apperr.Wrap(err, apperr.CodeStoreUnavailable, "could not load matched record")
	}

	r.logger.Info("match found", "kind", kind, "matched_kind", target, "record_id", rec.ID, "score", best.Score)
	return models.Matched(rec, best.Score), nil
}

// Best returns the highest-scoring candidate. Ties go to the earliest candidate.
func Best(candidates []models.MatchCandidate) (models.MatchCandidate, bool) {
	if len(candidates) == 0 {
		return models.MatchCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}
