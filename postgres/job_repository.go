package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/khushsoniamparo/Google-Extractor/geo"
	"github.com/khushsoniamparo/Google-Extractor/gmaps"
	"github.com/khushsoniamparo/Google-Extractor/web"
)

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) web.JobRepository {
	return &jobRepository{db: db}
}

// CreateSchema creates the tables the repository needs if they don't exist.
func CreateSchema(db *sql.DB) error {
	const q = `
		CREATE TABLE IF NOT EXISTS bulk_jobs (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS keyword_jobs (
			id TEXT PRIMARY KEY,
			bulk_id TEXT NOT NULL REFERENCES bulk_jobs(id),
			keyword TEXT NOT NULL,
			location TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			total_cells INTEGER NOT NULL DEFAULT 0,
			cells_done INTEGER NOT NULL DEFAULT 0,
			total_extracted INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_keyword_jobs_status ON keyword_jobs(status);
		CREATE INDEX IF NOT EXISTS idx_keyword_jobs_bulk ON keyword_jobs(bulk_id);

		CREATE TABLE IF NOT EXISTS places (
			job_id TEXT NOT NULL REFERENCES keyword_jobs(id),
			dedup_key TEXT NOT NULL,
			place_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			street TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT '',
			rating TEXT NOT NULL DEFAULT '',
			review_count TEXT NOT NULL DEFAULT '',
			maps_url TEXT NOT NULL DEFAULT '',
			latitude TEXT NOT NULL DEFAULT '',
			longitude TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (job_id, dedup_key)
		);

		CREATE TABLE IF NOT EXISTS searched_cells (
			job_id TEXT NOT NULL,
			cell_key TEXT NOT NULL,
			searched_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (job_id, cell_key)
		);

		CREATE TABLE IF NOT EXISTS cached_boundaries (
			location TEXT PRIMARY KEY,
			min_lat DOUBLE PRECISION NOT NULL,
			max_lat DOUBLE PRECISION NOT NULL,
			min_lng DOUBLE PRECISION NOT NULL,
			max_lng DOUBLE PRECISION NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
	`

	_, err := db.Exec(q)

	return err
}

func (r *jobRepository) GetKeywordJob(ctx context.Context, id string) (web.KeywordJob, error) {
	const q = `SELECT id, bulk_id, keyword, location, grid_size, status, status_message, error_message,
		total_cells, cells_done, total_extracted, created_at, updated_at, completed_at
		FROM keyword_jobs WHERE id = $1`

	return scanKeywordJob(r.db.QueryRowContext(ctx, q, id))
}

func (r *jobRepository) CreateKeywordJob(ctx context.Context, job *web.KeywordJob) error {
	const q = `INSERT INTO keyword_jobs
		(id, bulk_id, keyword, location, grid_size, status, status_message, error_message,
		 total_cells, cells_done, total_extracted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	_, err := r.db.ExecContext(ctx, q,
		job.ID, job.BulkID, job.Keyword, job.Location, job.GridSize,
		job.Status, job.StatusMessage, job.ErrorMessage,
		job.TotalCells, job.CellsDone, job.TotalExtracted, job.CreatedAt)

	return err
}

func (r *jobRepository) UpdateStatus(ctx context.Context, id, status, message string, counters web.Counters) error {
	now := time.Now().UTC()

	var completedAt sql.NullTime
	if status == web.StatusCompleted || status == web.StatusFailed {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	const q = `UPDATE keyword_jobs SET status = $2, status_message = $3,
		total_cells = GREATEST(total_cells, $4), cells_done = GREATEST(cells_done, $5),
		total_extracted = GREATEST(total_extracted, $6),
		updated_at = $7, completed_at = COALESCE(completed_at, $8)
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, q, id, status, message,
		counters.TotalCells, counters.CellsDone, counters.TotalExtracted, now, completedAt)
	if err != nil {
		return err
	}

	return requireRow(result, id)
}

func (r *jobRepository) SetError(ctx context.Context, id, errorMessage string) error {
	const q = `UPDATE keyword_jobs SET error_message = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, q, id, errorMessage, time.Now().UTC())
	if err != nil {
		return err
	}

	return requireRow(result, id)
}

func (r *jobRepository) SelectKeywordJobs(ctx context.Context, status string) ([]web.KeywordJob, error) {
	const q = `SELECT id, bulk_id, keyword, location, grid_size, status, status_message, error_message,
		total_cells, cells_done, total_extracted, created_at, updated_at, completed_at
		FROM keyword_jobs WHERE status = $1 ORDER BY created_at`

	return r.selectKeywordJobs(ctx, q, status)
}

func (r *jobRepository) SelectKeywordJobsByBulk(ctx context.Context, bulkID string) ([]web.KeywordJob, error) {
	const q = `SELECT id, bulk_id, keyword, location, grid_size, status, status_message, error_message,
		total_cells, cells_done, total_extracted, created_at, updated_at, completed_at
		FROM keyword_jobs WHERE bulk_id = $1 ORDER BY created_at`

	return r.selectKeywordJobs(ctx, q, bulkID)
}

func (r *jobRepository) selectKeywordJobs(ctx context.Context, q string, arg any) ([]web.KeywordJob, error) {
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var jobs []web.KeywordJob

	for rows.Next() {
		job, err := scanKeywordJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (r *jobRepository) GetBulkJob(ctx context.Context, id string) (web.BulkJob, error) {
	const q = `SELECT id, location, grid_size, status, status_message, created_at, completed_at
		FROM bulk_jobs WHERE id = $1`

	return scanBulkJob(r.db.QueryRowContext(ctx, q, id))
}

func (r *jobRepository) CreateBulkJob(ctx context.Context, job *web.BulkJob) error {
	const q = `INSERT INTO bulk_jobs (id, location, grid_size, status, status_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, q,
		job.ID, job.Location, job.GridSize, job.Status, job.StatusMessage, job.CreatedAt)

	return err
}

func (r *jobRepository) UpdateBulkJob(ctx context.Context, job *web.BulkJob) error {
	const q = `UPDATE bulk_jobs SET status = $2, status_message = $3, completed_at = $4 WHERE id = $1`

	var completedAt sql.NullTime
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, q, job.ID, job.Status, job.StatusMessage, completedAt)
	if err != nil {
		return err
	}

	return requireRow(result, job.ID)
}

func (r *jobRepository) SelectBulkJobs(ctx context.Context, status string) ([]web.BulkJob, error) {
	const q = `SELECT id, location, grid_size, status, status_message, created_at, completed_at
		FROM bulk_jobs WHERE status = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, q, status)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var jobs []web.BulkJob

	for rows.Next() {
		job, err := scanBulkJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// CreatePlaces inserts a batch in one transaction. A record whose dedup key
// already exists for the job is skipped, not an error: both tiers can emit
// the same place.
func (r *jobRepository) CreatePlaces(ctx context.Context, jobID string, places []*gmaps.Place) error {
	if len(places) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const q = `INSERT INTO places
		(job_id, dedup_key, place_id, name, category, street, city, state, phone, website,
		 rating, review_count, maps_url, latitude, longitude, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (job_id, dedup_key) DO NOTHING`

	now := time.Now().UTC()

	for _, place := range places {
		if _, err := tx.ExecContext(ctx, q, jobID, place.DedupKey(),
			place.PlaceID, place.Name, place.Category, place.Street, place.City, place.State,
			place.Phone, place.Website, place.Rating, place.ReviewCount,
			place.MapsURL, place.Latitude, place.Longitude, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *jobRepository) UpdatePlaces(ctx context.Context, jobID string, updates map[string]*gmaps.Place) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const q = `UPDATE places SET place_id = $3, name = $4, category = $5, street = $6,
		city = $7, state = $8, phone = $9, website = $10, rating = $11, review_count = $12,
		maps_url = $13, latitude = $14, longitude = $15
		WHERE job_id = $1 AND dedup_key = $2`

	for key, place := range updates {
		if _, err := tx.ExecContext(ctx, q, jobID, key,
			place.PlaceID, place.Name, place.Category, place.Street, place.City, place.State,
			place.Phone, place.Website, place.Rating, place.ReviewCount,
			place.MapsURL, place.Latitude, place.Longitude); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *jobRepository) MarkCellSearched(ctx context.Context, jobID, cellKey string) error {
	const q = `INSERT INTO searched_cells (job_id, cell_key, searched_at)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`

	_, err := r.db.ExecContext(ctx, q, jobID, cellKey, time.Now().UTC())

	return err
}

func (r *jobRepository) IsCellSearched(ctx context.Context, jobID, cellKey string) (bool, error) {
	const q = `SELECT 1 FROM searched_cells WHERE job_id = $1 AND cell_key = $2`

	var one int

	err := r.db.QueryRowContext(ctx, q, jobID, cellKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *jobRepository) GetBoundary(ctx context.Context, location string) (geo.BoundingBox, bool, error) {
	const q = `SELECT min_lat, max_lat, min_lng, max_lng, display_name
		FROM cached_boundaries WHERE location = $1`

	var box geo.BoundingBox

	err := r.db.QueryRowContext(ctx, q, location).Scan(
		&box.MinLat, &box.MaxLat, &box.MinLng, &box.MaxLng, &box.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return geo.BoundingBox{}, false, nil
	}

	if err != nil {
		return geo.BoundingBox{}, false, err
	}

	return box, true, nil
}

func (r *jobRepository) SaveBoundary(ctx context.Context, location string, box geo.BoundingBox) error {
	const q = `INSERT INTO cached_boundaries (location, min_lat, max_lat, min_lng, max_lng, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (location) DO UPDATE SET
			min_lat = EXCLUDED.min_lat, max_lat = EXCLUDED.max_lat,
			min_lng = EXCLUDED.min_lng, max_lng = EXCLUDED.max_lng,
			display_name = EXCLUDED.display_name`

	_, err := r.db.ExecContext(ctx, q, location,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, box.DisplayName, time.Now().UTC())

	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanKeywordJob(row scannable) (web.KeywordJob, error) {
	var (
		job         web.KeywordJob
		completedAt sql.NullTime
	)

	err := row.Scan(&job.ID, &job.BulkID, &job.Keyword, &job.Location, &job.GridSize,
		&job.Status, &job.StatusMessage, &job.ErrorMessage,
		&job.TotalCells, &job.CellsDone, &job.TotalExtracted,
		&job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		return web.KeywordJob{}, err
	}

	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return job, nil
}

func scanBulkJob(row scannable) (web.BulkJob, error) {
	var (
		job         web.BulkJob
		completedAt sql.NullTime
	)

	err := row.Scan(&job.ID, &job.Location, &job.GridSize,
		&job.Status, &job.StatusMessage, &job.CreatedAt, &completedAt)
	if err != nil {
		return web.BulkJob{}, err
	}

	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return job, nil
}

func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("job %s not found", id)
	}

	return nil
}
