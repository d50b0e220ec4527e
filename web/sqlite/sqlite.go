// Package sqlite provides the job repository for single-node deployments
// without a PostgreSQL instance.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/khushsoniamparo/Google-Extractor/geo"
	"github.com/khushsoniamparo/Google-Extractor/gmaps"
	"github.com/khushsoniamparo/Google-Extractor/web"
)

type repo struct {
	db *sql.DB
}

func New(path string) (web.JobRepository, error) {
	db, err := initDatabase(path)
	if err != nil {
		return nil, err
	}

	return &repo{db: db}, nil
}

func NewWithDB(db *sql.DB) web.JobRepository {
	return &repo{db: db}
}

func InitDB(path string) (*sql.DB, error) {
	return initDatabase(path)
}

func (repo *repo) GetKeywordJob(ctx context.Context, id string) (web.KeywordJob, error) {
	const q = `SELECT id, bulk_id, keyword, location, grid_size, status, status_message, error_message,
		total_cells, cells_done, total_extracted, created_at, updated_at, completed_at
		FROM keyword_jobs WHERE id = ?`

	return scanKeywordJob(repo.db.QueryRowContext(ctx, q, id))
}

func (repo *repo) CreateKeywordJob(ctx context.Context, job *web.KeywordJob) error {
	const q = `INSERT INTO keyword_jobs
		(id, bulk_id, keyword, location, grid_size, status, status_message, error_message,
		 total_cells, cells_done, total_extracted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	created := job.CreatedAt.Unix()

	_, err := repo.db.ExecContext(ctx, q,
		job.ID, job.BulkID, job.Keyword, job.Location, job.GridSize,
		job.Status, job.StatusMessage, job.ErrorMessage,
		job.TotalCells, job.CellsDone, job.TotalExtracted, created, created)

	return err
}

func (repo *repo) UpdateStatus(ctx context.Context, id, status, message string, counters web.Counters) error {
	now := time.Now().UTC().Unix()

	var completedAt any
	if status == web.StatusCompleted || status == web.StatusFailed {
		completedAt = now
	}

	const q = `UPDATE keyword_jobs SET status = ?, status_message = ?,
		total_cells = MAX(total_cells, ?), cells_done = MAX(cells_done, ?),
		total_extracted = MAX(total_extracted, ?),
		updated_at = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ?`

	result, err := repo.db.ExecContext(ctx, q, status, message,
		counters.TotalCells, counters.CellsDone, counters.TotalExtracted, now, completedAt, id)
	if err != nil {
		return err
	}

	return requireRow(result, id)
}

func (repo *repo) SetError(ctx context.Context, id, errorMessage string) error {
	const q = `UPDATE keyword_jobs SET error_message = ?, updated_at = ? WHERE id = ?`

	result, err := repo.db.ExecContext(ctx, q, errorMessage, time.Now().UTC().Unix(), id)
	if err != nil {
		return err
	}

	return requireRow(result, id)
}

func (repo *repo) SelectKeywordJobs(ctx context.Context, status string) ([]web.KeywordJob, error) {
	const q = `SELECT id, bulk_id, keyword, location, grid_size, status, status_message, error_message,
		total_cells, cells_done, total_extracted, created_at, updated_at, completed_at
		FROM keyword_jobs WHERE status = ? ORDER BY created_at`

	return repo.selectKeywordJobs(ctx, q, status)
}

func (repo *repo) SelectKeywordJobsByBulk(ctx context.Context, bulkID string) ([]web.KeywordJob, error) {
	const q = `SELECT id, bulk_id, keyword, location, grid_size, status, status_message, error_message,
		total_cells, cells_done, total_extracted, created_at, updated_at, completed_at
		FROM keyword_jobs WHERE bulk_id = ? ORDER BY created_at`

	return repo.selectKeywordJobs(ctx, q, bulkID)
}

func (repo *repo) selectKeywordJobs(ctx context.Context, q string, arg any) ([]web.KeywordJob, error) {
	rows, err := repo.db.QueryContext(ctx, q, arg)
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

func (repo *repo) GetBulkJob(ctx context.Context, id string) (web.BulkJob, error) {
	const q = `SELECT id, location, grid_size, status, status_message, created_at, completed_at
		FROM bulk_jobs WHERE id = ?`

	return scanBulkJob(repo.db.QueryRowContext(ctx, q, id))
}

func (repo *repo) CreateBulkJob(ctx context.Context, job *web.BulkJob) error {
	const q = `INSERT INTO bulk_jobs (id, location, grid_size, status, status_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := repo.db.ExecContext(ctx, q,
		job.ID, job.Location, job.GridSize, job.Status, job.StatusMessage, job.CreatedAt.Unix())

	return err
}

func (repo *repo) UpdateBulkJob(ctx context.Context, job *web.BulkJob) error {
	const q = `UPDATE bulk_jobs SET status = ?, status_message = ?, completed_at = ? WHERE id = ?`

	var completedAt any
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.Unix()
	}

	result, err := repo.db.ExecContext(ctx, q, job.Status, job.StatusMessage, completedAt, job.ID)
	if err != nil {
		return err
	}

	return requireRow(result, job.ID)
}

func (repo *repo) SelectBulkJobs(ctx context.Context, status string) ([]web.BulkJob, error) {
	const q = `SELECT id, location, grid_size, status, status_message, created_at, completed_at
		FROM bulk_jobs WHERE status = ? ORDER BY created_at`

	rows, err := repo.db.QueryContext(ctx, q, status)
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

func (repo *repo) CreatePlaces(ctx context.Context, jobID string, places []*gmaps.Place) error {
	if len(places) == 0 {
		return nil
	}

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const q = `INSERT INTO places
		(job_id, dedup_key, place_id, name, category, street, city, state, phone, website,
		 rating, review_count, maps_url, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, dedup_key) DO NOTHING`

	now := time.Now().UTC().Unix()

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

func (repo *repo) UpdatePlaces(ctx context.Context, jobID string, updates map[string]*gmaps.Place) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const q = `UPDATE places SET place_id = ?, name = ?, category = ?, street = ?,
		city = ?, state = ?, phone = ?, website = ?, rating = ?, review_count = ?,
		maps_url = ?, latitude = ?, longitude = ?
		WHERE job_id = ? AND dedup_key = ?`

	for key, place := range updates {
		if _, err := tx.ExecContext(ctx, q,
			place.PlaceID, place.Name, place.Category, place.Street, place.City, place.State,
			place.Phone, place.Website, place.Rating, place.ReviewCount,
			place.MapsURL, place.Latitude, place.Longitude, jobID, key); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (repo *repo) MarkCellSearched(ctx context.Context, jobID, cellKey string) error {
	const q = `INSERT INTO searched_cells (job_id, cell_key, searched_at)
		VALUES (?, ?, ?) ON CONFLICT DO NOTHING`

	_, err := repo.db.ExecContext(ctx, q, jobID, cellKey, time.Now().UTC().Unix())

	return err
}

func (repo *repo) IsCellSearched(ctx context.Context, jobID, cellKey string) (bool, error) {
	const q = `SELECT 1 FROM searched_cells WHERE job_id = ? AND cell_key = ?`

	var one int

	err := repo.db.QueryRowContext(ctx, q, jobID, cellKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (repo *repo) GetBoundary(ctx context.Context, location string) (geo.BoundingBox, bool, error) {
	const q = `SELECT min_lat, max_lat, min_lng, max_lng, display_name
		FROM cached_boundaries WHERE location = ?`

	var box geo.BoundingBox

	err := repo.db.QueryRowContext(ctx, q, location).Scan(
		&box.MinLat, &box.MaxLat, &box.MinLng, &box.MaxLng, &box.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return geo.BoundingBox{}, false, nil
	}

	if err != nil {
		return geo.BoundingBox{}, false, err
	}

	return box, true, nil
}

func (repo *repo) SaveBoundary(ctx context.Context, location string, box geo.BoundingBox) error {
	const q = `INSERT INTO cached_boundaries (location, min_lat, max_lat, min_lng, max_lng, display_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (location) DO UPDATE SET
			min_lat = excluded.min_lat, max_lat = excluded.max_lat,
			min_lng = excluded.min_lng, max_lng = excluded.max_lng,
			display_name = excluded.display_name`

	_, err := repo.db.ExecContext(ctx, q, location,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng, box.DisplayName, time.Now().UTC().Unix())

	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanKeywordJob(row scannable) (web.KeywordJob, error) {
	var (
		job              web.KeywordJob
		created, updated int64
		completed        sql.NullInt64
	)

	err := row.Scan(&job.ID, &job.BulkID, &job.Keyword, &job.Location, &job.GridSize,
		&job.Status, &job.StatusMessage, &job.ErrorMessage,
		&job.TotalCells, &job.CellsDone, &job.TotalExtracted,
		&created, &updated, &completed)
	if err != nil {
		return web.KeywordJob{}, err
	}

	job.CreatedAt = time.Unix(created, 0).UTC()
	job.UpdatedAt = time.Unix(updated, 0).UTC()

	if completed.Valid {
		t := time.Unix(completed.Int64, 0).UTC()
		job.CompletedAt = &t
	}

	return job, nil
}

func scanBulkJob(row scannable) (web.BulkJob, error) {
	var (
		job       web.BulkJob
		created   int64
		completed sql.NullInt64
	)

	err := row.Scan(&job.ID, &job.Location, &job.GridSize,
		&job.Status, &job.StatusMessage, &created, &completed)
	if err != nil {
		return web.BulkJob{}, err
	}

	job.CreatedAt = time.Unix(created, 0).UTC()

	if completed.Valid {
		t := time.Unix(completed.Int64, 0).UTC()
		job.CompletedAt = &t
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

func initDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, createSchema(db)
}

func createSchema(db *sql.DB) error {
	const q = `
		CREATE TABLE IF NOT EXISTS bulk_jobs (
			id TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);

		CREATE TABLE IF NOT EXISTS keyword_jobs (
			id TEXT PRIMARY KEY,
			bulk_id TEXT NOT NULL,
			keyword TEXT NOT NULL,
			location TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			total_cells INTEGER NOT NULL DEFAULT 0,
			cells_done INTEGER NOT NULL DEFAULT 0,
			total_extracted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_keyword_jobs_status ON keyword_jobs(status);
		CREATE INDEX IF NOT EXISTS idx_keyword_jobs_bulk ON keyword_jobs(bulk_id);

		CREATE TABLE IF NOT EXISTS places (
			job_id TEXT NOT NULL,
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
			created_at INTEGER NOT NULL,
			PRIMARY KEY (job_id, dedup_key)
		);

		CREATE TABLE IF NOT EXISTS searched_cells (
			job_id TEXT NOT NULL,
			cell_key TEXT NOT NULL,
			searched_at INTEGER NOT NULL,
			PRIMARY KEY (job_id, cell_key)
		);

		CREATE TABLE IF NOT EXISTS cached_boundaries (
			location TEXT PRIMARY KEY,
			min_lat REAL NOT NULL,
			max_lat REAL NOT NULL,
			min_lng REAL NOT NULL,
			max_lng REAL NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
	`

	_, err := db.Exec(q)

	return err
}
