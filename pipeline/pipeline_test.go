package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khushsoniamparo/Google-Extractor/geo"
	"github.com/khushsoniamparo/Google-Extractor/gmaps"
	"github.com/khushsoniamparo/Google-Extractor/web"
)

// memRepo is an in-memory JobRepository for pipeline tests.
type memRepo struct {
	mu       sync.Mutex
	keyword  map[string]web.KeywordJob
	bulk     map[string]web.BulkJob
	places   map[string]*gmaps.Place
	searched map[string]bool
	statuses []string
}

func newMemRepo() *memRepo {
	return &memRepo{
		keyword:  make(map[string]web.KeywordJob),
		bulk:     make(map[string]web.BulkJob),
		places:   make(map[string]*gmaps.Place),
		searched: make(map[string]bool),
	}
}

func (r *memRepo) GetKeywordJob(_ context.Context, id string) (web.KeywordJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.keyword[id]
	if !ok {
		return web.KeywordJob{}, fmt.Errorf("job %s not found", id)
	}

	return job, nil
}

func (r *memRepo) CreateKeywordJob(_ context.Context, job *web.KeywordJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.keyword[job.ID] = *job

	return nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id, status, message string, counters web.Counters) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.keyword[id]
	job.ID = id
	job.Status = status
	job.StatusMessage = message
	job.TotalCells = max(job.TotalCells, counters.TotalCells)
	job.CellsDone = max(job.CellsDone, counters.CellsDone)
	job.TotalExtracted = max(job.TotalExtracted, counters.TotalExtracted)
	job.UpdatedAt = time.Now().UTC()
	r.keyword[id] = job

	r.statuses = append(r.statuses, status)

	return nil
}

func (r *memRepo) SetError(_ context.Context, id, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.keyword[id]
	job.ErrorMessage = errorMessage
	r.keyword[id] = job

	return nil
}

func (r *memRepo) SelectKeywordJobs(_ context.Context, status string) ([]web.KeywordJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []web.KeywordJob

	for _, job := range r.keyword {
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func (r *memRepo) SelectKeywordJobsByBulk(_ context.Context, bulkID string) ([]web.KeywordJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []web.KeywordJob

	for _, job := range r.keyword {
		if job.BulkID == bulkID {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func (r *memRepo) GetBulkJob(_ context.Context, id string) (web.BulkJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.bulk[id]
	if !ok {
		return web.BulkJob{}, fmt.Errorf("bulk job %s not found", id)
	}

	return job, nil
}

func (r *memRepo) CreateBulkJob(_ context.Context, job *web.BulkJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bulk[job.ID] = *job

	return nil
}

func (r *memRepo) UpdateBulkJob(_ context.Context, job *web.BulkJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bulk[job.ID] = *job

	return nil
}

func (r *memRepo) SelectBulkJobs(_ context.Context, status string) ([]web.BulkJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var jobs []web.BulkJob

	for _, job := range r.bulk {
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func (r *memRepo) CreatePlaces(_ context.Context, jobID string, places []*gmaps.Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, place := range places {
		key := jobID + "/" + place.DedupKey()
		if _, ok := r.places[key]; !ok {
			r.places[key] = place
		}
	}

	return nil
}

func (r *memRepo) UpdatePlaces(_ context.Context, jobID string, updates map[string]*gmaps.Place) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, place := range updates {
		r.places[jobID+"/"+key] = place
	}

	return nil
}

func (r *memRepo) MarkCellSearched(_ context.Context, jobID, cellKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.searched[jobID+"/"+cellKey] = true

	return nil
}

func (r *memRepo) IsCellSearched(_ context.Context, jobID, cellKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.searched[jobID+"/"+cellKey], nil
}

func (r *memRepo) GetBoundary(context.Context, string) (geo.BoundingBox, bool, error) {
	return geo.BoundingBox{}, false, nil
}

func (r *memRepo) SaveBoundary(context.Context, string, geo.BoundingBox) error {
	return nil
}

func (r *memRepo) placeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.places)
}

type stubResolver struct {
	box geo.BoundingBox
	err error
}

func (s stubResolver) Resolve(context.Context, string) (geo.BoundingBox, error) {
	return s.box, s.err
}

type stubSession struct{ err error }

func (s stubSession) Cookie(context.Context) (string, error) {
	return "NID=x", s.err
}

// stubTier classifies tasks via a caller-supplied function.
type stubTier struct {
	mu      sync.Mutex
	calls   int
	classed func(task gmaps.SearchTask) gmaps.TaskResult
}

func (s *stubTier) Search(_ context.Context, task gmaps.SearchTask) gmaps.TaskResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	return s.classed(task)
}

func (s *stubTier) Close() error { return nil }

func (s *stubTier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// smallBox is a neighborhood-sized boundary: 4 zoom levels.
var smallBox = geo.BoundingBox{MinLat: 40.0, MaxLat: 40.05, MinLng: -74.0, MaxLng: -73.95, DisplayName: "Testville"}

func seedJob(t *testing.T, repo *memRepo) string {
	t.Helper()

	job := &web.KeywordJob{
		ID:        "job-1",
		Keyword:   "pizza",
		Location:  "Testville",
		GridSize:  3,
		Status:    web.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateKeywordJob(context.Background(), job))

	return job.ID
}

func newTestPipeline(repo *memRepo, httpTier Searcher, factory FallbackFactory, resolver BoundaryResolver) *Pipeline {
	return New(repo, resolver, httpTier, factory, stubSession{}, Options{
		HTTPConcurrency:    4,
		BrowserConcurrency: 2,
	})
}

func TestRunAllCellsEmpty(t *testing.T) {
	repo := newMemRepo()
	jobID := seedJob(t, repo)

	httpTier := &stubTier{classed: func(task gmaps.SearchTask) gmaps.TaskResult {
		return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeNoData}
	}}

	factoryCalls := 0
	factory := func() (FallbackTier, error) {
		factoryCalls++

		return nil, fmt.Errorf("should not be called")
	}

	p := newTestPipeline(repo, httpTier, factory, stubResolver{box: smallBox})
	require.NoError(t, p.Run(context.Background(), jobID))

	job, err := repo.GetKeywordJob(context.Background(), jobID)
	require.NoError(t, err)

	assert.Equal(t, web.StatusCompleted, job.Status)

	// 3x3 grid, 4 zoom levels.
	assert.Equal(t, 36, job.TotalCells)
	assert.Equal(t, 36, job.CellsDone)
	assert.Zero(t, job.TotalExtracted)
	assert.Equal(t, 36, httpTier.callCount())

	// Empty cells settle without the browser.
	assert.Zero(t, factoryCalls)
	assert.Zero(t, repo.placeCount())

	// Phases were reported in order.
	assert.Equal(t, web.StatusFetchingBoundary, repo.statuses[0])
	assert.Equal(t, web.StatusBuildingGrid, repo.statuses[1])
	assert.Equal(t, web.StatusSearching, repo.statuses[2])
}

func TestRunBlockedTaskFallsBackOnce(t *testing.T) {
	repo := newMemRepo()
	jobID := seedJob(t, repo)

	httpTier := &stubTier{classed: func(task gmaps.SearchTask) gmaps.TaskResult {
		if task.CellIndex == 0 && task.Zoom == 13 {
			return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeBlocked}
		}

		return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeNoData}
	}}

	fallbackTier := &stubTier{classed: func(task gmaps.SearchTask) gmaps.TaskResult {
		return gmaps.TaskResult{
			Task:    task,
			Outcome: gmaps.OutcomeSuccess,
			Places:  []gmaps.Place{{Name: "Mario's Pizza", Street: "12 Oak Street", Phone: "555"}},
		}
	}}

	factoryCalls := 0
	factory := func() (FallbackTier, error) {
		factoryCalls++

		return fallbackTier, nil
	}

	p := newTestPipeline(repo, httpTier, factory, stubResolver{box: smallBox})
	require.NoError(t, p.Run(context.Background(), jobID))

	job, err := repo.GetKeywordJob(context.Background(), jobID)
	require.NoError(t, err)

	assert.Equal(t, web.StatusCompleted, job.Status)
	assert.Equal(t, 1, factoryCalls)
	assert.Equal(t, 1, fallbackTier.callCount())
	assert.Equal(t, 1, job.TotalExtracted)
	assert.Equal(t, 1, repo.placeCount())

	// The recovered cell is marked searched for resume.
	marked, err := repo.IsCellSearched(context.Background(), jobID, "0:13")
	require.NoError(t, err)
	assert.True(t, marked)
}

func TestRunMergesAcrossTiers(t *testing.T) {
	repo := newMemRepo()
	jobID := seedJob(t, repo)

	httpTier := &stubTier{classed: func(task gmaps.SearchTask) gmaps.TaskResult {
		switch {
		case task.CellIndex == 0 && task.Zoom == 13:
			return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeSuccess, Places: []gmaps.Place{
				{Name: "Mario's Pizza", Street: "12 Oak Street", Rating: "4.5", ReviewCount: "230"},
			}}
		case task.CellIndex == 1 && task.Zoom == 13:
			return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeSuccess, Places: []gmaps.Place{
				{Name: "Mario's Pizza", Street: "12 Oak Street", Phone: "+1 555-0123"},
			}}
		default:
			return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeNoData}
		}
	}}

	factory := func() (FallbackTier, error) { return nil, fmt.Errorf("unused") }

	p := newTestPipeline(repo, httpTier, factory, stubResolver{box: smallBox})
	require.NoError(t, p.Run(context.Background(), jobID))

	job, err := repo.GetKeywordJob(context.Background(), jobID)
	require.NoError(t, err)

	assert.Equal(t, 1, job.TotalExtracted)
	require.Equal(t, 1, repo.placeCount())

	merged := repo.places[jobID+"/mario's pizza12 oak street"]
	require.NotNil(t, merged)
	assert.Equal(t, "4.5", merged.Rating)
	assert.Equal(t, "+1 555-0123", merged.Phone)
}

func TestRunResolverFailureFailsJob(t *testing.T) {
	repo := newMemRepo()
	jobID := seedJob(t, repo)

	httpTier := &stubTier{classed: func(task gmaps.SearchTask) gmaps.TaskResult {
		return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeNoData}
	}}
	factory := func() (FallbackTier, error) { return nil, fmt.Errorf("unused") }

	p := newTestPipeline(repo, httpTier, factory, stubResolver{err: geo.ErrLocationNotFound})

	err := p.Run(context.Background(), jobID)
	require.Error(t, err)

	job, getErr := repo.GetKeywordJob(context.Background(), jobID)
	require.NoError(t, getErr)

	assert.Equal(t, web.StatusFailed, job.Status)
	assert.NotEmpty(t, job.ErrorMessage)
	assert.Zero(t, httpTier.callCount())
}

func TestRunSkipsAlreadySearchedCells(t *testing.T) {
	repo := newMemRepo()
	jobID := seedJob(t, repo)

	// Simulate a previous interrupted run that covered everything.
	for _, cell := range geo.BuildGrid(smallBox, 3) {
		for _, zoom := range geo.SelectZoomLevels(smallBox) {
			task := gmaps.SearchTask{CellIndex: cell.Index, Zoom: zoom}
			require.NoError(t, repo.MarkCellSearched(context.Background(), jobID, task.CellKey()))
		}
	}

	httpTier := &stubTier{classed: func(task gmaps.SearchTask) gmaps.TaskResult {
		return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeNoData}
	}}
	factory := func() (FallbackTier, error) { return nil, fmt.Errorf("unused") }

	p := newTestPipeline(repo, httpTier, factory, stubResolver{box: smallBox})
	require.NoError(t, p.Run(context.Background(), jobID))

	assert.Zero(t, httpTier.callCount())

	job, err := repo.GetKeywordJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, web.StatusCompleted, job.Status)
	assert.Equal(t, 36, job.CellsDone)
}

func TestRunSessionFailureFailsJob(t *testing.T) {
	repo := newMemRepo()
	jobID := seedJob(t, repo)

	httpTier := &stubTier{classed: func(task gmaps.SearchTask) gmaps.TaskResult {
		return gmaps.TaskResult{Task: task, Outcome: gmaps.OutcomeNoData}
	}}
	factory := func() (FallbackTier, error) { return nil, fmt.Errorf("unused") }

	p := New(repo, stubResolver{box: smallBox}, httpTier, factory, stubSession{err: assert.AnError}, Options{})

	err := p.Run(context.Background(), jobID)
	require.Error(t, err)

	job, getErr := repo.GetKeywordJob(context.Background(), jobID)
	require.NoError(t, getErr)
	assert.Equal(t, web.StatusFailed, job.Status)
	assert.Zero(t, httpTier.callCount())
}
