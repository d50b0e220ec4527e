package web

import (
	"context"
	"errors"
	"time"

	"github.com/khushsoniamparo/Google-Extractor/geo"
	"github.com/khushsoniamparo/Google-Extractor/gmaps"
)

// Keyword job phases, reported in order. failed is terminal and is not
// auto-retried by the pipeline itself.
const (
	StatusPending          = "pending"
	StatusFetchingBoundary = "fetching_boundary"
	StatusBuildingGrid     = "building_grid"
	StatusSearching        = "searching"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
)

// Bulk job statuses.
const (
	BulkStatusPending   = "pending"
	BulkStatusRunning   = "running"
	BulkStatusCompleted = "completed"
	BulkStatusFailed    = "failed"
)

// BulkJob groups keyword jobs over one location and grid size.
type BulkJob struct {
	ID            string
	Location      string
	GridSize      int
	Status        string
	StatusMessage string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// KeywordJob is one keyword's extraction inside a bulk job.
type KeywordJob struct {
	ID             string
	BulkID         string
	Keyword        string
	Location       string
	GridSize       int
	Status         string
	StatusMessage  string
	ErrorMessage   string
	TotalCells     int
	CellsDone      int
	TotalExtracted int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (j *KeywordJob) Validate() error {
	if j.ID == "" {
		return errors.New("missing id")
	}

	if j.Keyword == "" {
		return errors.New("missing keyword")
	}

	if j.Location == "" {
		return errors.New("missing location")
	}

	return nil
}

// Terminal reports whether the job reached a terminal phase.
func (j *KeywordJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Counters is the progress snapshot attached to a status update.
type Counters struct {
	TotalCells     int
	CellsDone      int
	TotalExtracted int
}

// JobRepository is the persistence boundary of the job-tracking collaborator.
// The pipeline talks only to this interface; postgres and sqlite provide it.
type JobRepository interface {
	GetKeywordJob(ctx context.Context, id string) (KeywordJob, error)
	CreateKeywordJob(ctx context.Context, job *KeywordJob) error
	UpdateStatus(ctx context.Context, id, status, message string, counters Counters) error
	SetError(ctx context.Context, id, errorMessage string) error
	SelectKeywordJobs(ctx context.Context, status string) ([]KeywordJob, error)
	SelectKeywordJobsByBulk(ctx context.Context, bulkID string) ([]KeywordJob, error)

	GetBulkJob(ctx context.Context, id string) (BulkJob, error)
	CreateBulkJob(ctx context.Context, job *BulkJob) error
	UpdateBulkJob(ctx context.Context, job *BulkJob) error
	SelectBulkJobs(ctx context.Context, status string) ([]BulkJob, error)

	CreatePlaces(ctx context.Context, jobID string, places []*gmaps.Place) error
	UpdatePlaces(ctx context.Context, jobID string, updates map[string]*gmaps.Place) error

	MarkCellSearched(ctx context.Context, jobID, cellKey string) error
	IsCellSearched(ctx context.Context, jobID, cellKey string) (bool, error)

	GetBoundary(ctx context.Context, location string) (geo.BoundingBox, bool, error)
	SaveBoundary(ctx context.Context, location string, box geo.BoundingBox) error
}
