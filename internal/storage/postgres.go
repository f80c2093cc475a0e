package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/absens/internal/config"
	"github.com/your-org/absens/internal/models"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool (used by integration tests).
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// --- Records ---

const recordColumns = `id, kind, owner_id, name, age, gender, missing_date, description, location, photos, status, created_at, updated_at`

func scanRecord(row pgx.Row) (*models.Record, error) {
	var (
		r      models.Record
		kind   string
		status *string
	)
	err := row.Scan(&r.ID, &kind, &r.OwnerID, &r.Name, &r.Age, &r.Gender, &r.MissingDate,
		&r.Description, &r.Location, &r.Photos, &status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Kind = models.Kind(kind)
	if status != nil {
		st := models.Status(*status)
		r.Status = &st
	}
	if r.Photos == nil {
		r.Photos = []string{}
	}
	return &r, nil
}

// rowQuerier is satisfied by both the pool and a transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.Record) error {
	return insertRecord(ctx, s.pool, rec)
}

func (s *PostgresStore) CreateWithIndexJob(ctx context.Context, rec *models.Record, job *models.IndexJob) error {
	if job == nil {
		return s.Create(ctx, rec)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		return insertIndexJob(ctx, tx, job)
	})
	if err != nil {
		return fmt.Errorf("create record with index job: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, q rowQuerier, rec *models.Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Photos == nil {
		rec.Photos = []string{}
	}
	var status *string
	if rec.Status != nil {
		st := string(*rec.Status)
		status = &st
	}
	err := q.QueryRow(ctx,
		`INSERT INTO records (id, kind, owner_id, name, age, gender, missing_date, description, location, photos, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING created_at, updated_at`,
		rec.ID, string(rec.Kind), rec.OwnerID, rec.Name, rec.Age, rec.Gender, rec.MissingDate,
		rec.Description, rec.Location, rec.Photos, status,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create record: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, kind models.Kind, id uuid.UUID) (*models.Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1 AND kind = $2`, id, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w: %w", ErrUnavailable, err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, kind models.Kind, limit, offset int) ([]models.Record, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM records WHERE kind = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		string(kind), ClampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list records: %w: %w", ErrUnavailable, err)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) Count(ctx context.Context, kind models.Kind) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM records WHERE kind = $1`, string(kind)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w: %w", ErrUnavailable, err)
	}
	return n, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, kind models.Kind, ownerID string) ([]models.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM records WHERE kind = $1 AND owner_id = $2 ORDER BY created_at DESC`,
		string(kind), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list records by owner: %w: %w", ErrUnavailable, err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]models.Record, error) {
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w: %w", ErrUnavailable, err)
	}
	return records, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, kind models.Kind, id uuid.UUID, from, to models.Status) (*models.Record, error) {
	if err := checkStatusKind(kind); err != nil {
		return nil, err
	}

	r, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE records SET status = $1, updated_at = now()
		 WHERE id = $2 AND kind = $3 AND status = $4
		 RETURNING `+recordColumns,
		string(to), id, string(kind), string(from)))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update status: %w: %w", ErrUnavailable, err)
	}

	// Nothing updated: tell a missing record apart from a lost race.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE id = $1 AND kind = $2)`, id, string(kind),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("update status: %w: %w", ErrUnavailable, err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrConflict
}

// --- Index jobs ---

const indexJobColumns = `id, kind, record_id, owner_id, photo_urls, status, attempts, last_error, created_at, updated_at`

func scanIndexJob(row pgx.Row) (*models.IndexJob, error) {
	var (
		j      models.IndexJob
		kind   string
		status string
	)
	if err := row.Scan(&j.ID, &kind, &j.RecordID, &j.OwnerID, &j.PhotoURLs, &status,
		&j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Kind = models.Kind(kind)
	j.Status = models.IndexJobStatus(status)
	return &j, nil
}

func (s *PostgresStore) CreateIndexJob(ctx context.Context, job *models.IndexJob) error {
	return insertIndexJob(ctx, s.pool, job)
}

func insertIndexJob(ctx context.Context, q rowQuerier, job *models.IndexJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.IndexJobPending
	}
	if job.Attempts == 0 {
		job.Attempts = 1
	}
	err := q.QueryRow(ctx,
		`INSERT INTO index_jobs (id, kind, record_id, owner_id, photo_urls, status, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		job.ID, string(job.Kind), job.RecordID, job.OwnerID, job.PhotoURLs, string(job.Status), job.Attempts,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create index job: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) GetIndexJob(ctx context.Context, id uuid.UUID) (*models.IndexJob, error) {
	j, err := scanIndexJob(s.pool.QueryRow(ctx,
		`SELECT `+indexJobColumns+` FROM index_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get index job: %w: %w", ErrUnavailable, err)
	}
	return j, nil
}

func (s *PostgresStore) ListIndexJobs(ctx context.Context, status models.IndexJobStatus, limit int) ([]models.IndexJob, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+indexJobColumns+` FROM index_jobs ORDER BY created_at LIMIT $1`, ClampLimit(limit))
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+indexJobColumns+` FROM index_jobs WHERE status = $1 ORDER BY created_at LIMIT $2`,
			string(status), ClampLimit(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("list index jobs: %w: %w", ErrUnavailable, err)
	}
	return collectIndexJobs(rows)
}

func (s *PostgresStore) ListStaleIndexJobs(ctx context.Context, before time.Time, limit int) ([]models.IndexJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+indexJobColumns+` FROM index_jobs WHERE status = 'pending' AND updated_at < $1
		 ORDER BY created_at LIMIT $2`, before, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list stale index jobs: %w: %w", ErrUnavailable, err)
	}
	return collectIndexJobs(rows)
}

func collectIndexJobs(rows pgx.Rows) ([]models.IndexJob, error) {
	defer rows.Close()

	jobs := []models.IndexJob{}
	for rows.Next() {
		j, err := scanIndexJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan index job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index jobs: %w: %w", ErrUnavailable, err)
	}
	return jobs, nil
}

func (s *PostgresStore) MarkIndexJob(ctx context.Context, id uuid.UUID, status models.IndexJobStatus, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE index_jobs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		string(status), lastError, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark index job: %w: %w", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReopenIndexJob(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*models.IndexJob, error) {
	j, err := scanIndexJob(s.pool.QueryRow(ctx,
		`UPDATE index_jobs SET status = 'pending', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1 AND (status = 'failed' OR (status = 'pending' AND updated_at < $2))
		 RETURNING `+indexJobColumns, id, staleBefore))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reopen index job: %w: %w", ErrUnavailable, err)
	}
	if _, err := s.GetIndexJob(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrConflict
}
