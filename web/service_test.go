package web

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khushsoniamparo/Google-Extractor/geo"
	"github.com/khushsoniamparo/Google-Extractor/gmaps"
)

type fakeRepo struct {
	keyword map[string]KeywordJob
	bulk    map[string]BulkJob
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		keyword: make(map[string]KeywordJob),
		bulk:    make(map[string]BulkJob),
	}
}

func (r *fakeRepo) GetKeywordJob(_ context.Context, id string) (KeywordJob, error) {
	job, ok := r.keyword[id]
	if !ok {
		return KeywordJob{}, fmt.Errorf("job %s not found", id)
	}

	return job, nil
}

func (r *fakeRepo) CreateKeywordJob(_ context.Context, job *KeywordJob) error {
	r.keyword[job.ID] = *job

	return nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id, status, message string, _ Counters) error {
	job := r.keyword[id]
	job.Status = status
	job.StatusMessage = message
	r.keyword[id] = job

	return nil
}

func (r *fakeRepo) SetError(_ context.Context, id, errorMessage string) error {
	job := r.keyword[id]
	job.ErrorMessage = errorMessage
	r.keyword[id] = job

	return nil
}

func (r *fakeRepo) SelectKeywordJobs(_ context.Context, status string) ([]KeywordJob, error) {
	var jobs []KeywordJob

	for _, job := range r.keyword {
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func (r *fakeRepo) SelectKeywordJobsByBulk(_ context.Context, bulkID string) ([]KeywordJob, error) {
	var jobs []KeywordJob

	for _, job := range r.keyword {
		if job.BulkID == bulkID {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func (r *fakeRepo) GetBulkJob(_ context.Context, id string) (BulkJob, error) {
	job, ok := r.bulk[id]
	if !ok {
		return BulkJob{}, fmt.Errorf("bulk job %s not found", id)
	}

	return job, nil
}

func (r *fakeRepo) CreateBulkJob(_ context.Context, job *BulkJob) error {
	r.bulk[job.ID] = *job

	return nil
}

func (r *fakeRepo) UpdateBulkJob(_ context.Context, job *BulkJob) error {
	r.bulk[job.ID] = *job

	return nil
}

func (r *fakeRepo) SelectBulkJobs(_ context.Context, status string) ([]BulkJob, error) {
	var jobs []BulkJob

	for _, job := range r.bulk {
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

func (r *fakeRepo) CreatePlaces(context.Context, string, []*gmaps.Place) error { return nil }

func (r *fakeRepo) UpdatePlaces(context.Context, string, map[string]*gmaps.Place) error { return nil }

func (r *fakeRepo) MarkCellSearched(context.Context, string, string) error { return nil }

func (r *fakeRepo) IsCellSearched(context.Context, string, string) (bool, error) { return false, nil }

func (r *fakeRepo) GetBoundary(context.Context, string) (geo.BoundingBox, bool, error) {
	return geo.BoundingBox{}, false, nil
}

func (r *fakeRepo) SaveBoundary(context.Context, string, geo.BoundingBox) error { return nil }

func TestCreateBulkJob(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	bulk, err := svc.CreateBulkJob(context.Background(), "Springfield", 5, []string{"pizza", "plumber"})
	require.NoError(t, err)
	assert.Equal(t, BulkStatusPending, bulk.Status)
	assert.Equal(t, "Springfield", bulk.Location)

	children, err := repo.SelectKeywordJobsByBulk(context.Background(), bulk.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	for _, child := range children {
		assert.Equal(t, StatusPending, child.Status)
		assert.Equal(t, "Springfield", child.Location)
		assert.Equal(t, 5, child.GridSize)
	}
}

func TestCreateBulkJobRequiresKeywords(t *testing.T) {
	svc := NewService(newFakeRepo())

	_, err := svc.CreateBulkJob(context.Background(), "Springfield", 5, nil)
	assert.Error(t, err)
}

func TestFailJob(t *testing.T) {
	repo := newFakeRepo()
	repo.keyword["j1"] = KeywordJob{ID: "j1", Status: StatusSearching}

	svc := NewService(repo)
	require.NoError(t, svc.FailJob(context.Background(), "j1", "geocoder down"))

	job := repo.keyword["j1"]
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "geocoder down", job.ErrorMessage)
	assert.Equal(t, "Failed: geocoder down", job.StatusMessage)
}

func TestCompleteBulkIfDone(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	bulk, err := svc.CreateBulkJob(context.Background(), "Springfield", 5, []string{"pizza", "plumber"})
	require.NoError(t, err)

	children, err := repo.SelectKeywordJobsByBulk(context.Background(), bulk.ID)
	require.NoError(t, err)

	// One child still running: not done.
	first := children[0]
	first.Status = StatusCompleted
	first.TotalExtracted = 12
	repo.keyword[first.ID] = first

	done, err := svc.CompleteBulkIfDone(context.Background(), bulk.ID)
	require.NoError(t, err)
	assert.False(t, done)

	second := children[1]
	second.Status = StatusFailed
	repo.keyword[second.ID] = second

	done, err = svc.CompleteBulkIfDone(context.Background(), bulk.ID)
	require.NoError(t, err)
	assert.True(t, done)

	final, err := repo.GetBulkJob(context.Background(), bulk.ID)
	require.NoError(t, err)
	assert.Equal(t, BulkStatusCompleted, final.Status)
	assert.Contains(t, final.StatusMessage, "12 total places")
	require.NotNil(t, final.CompletedAt)
	assert.WithinDuration(t, time.Now().UTC(), *final.CompletedAt, time.Minute)
}

func TestKeywordJobValidate(t *testing.T) {
	job := KeywordJob{ID: "x", Keyword: "pizza", Location: "Springfield"}
	assert.NoError(t, job.Validate())

	assert.Error(t, (&KeywordJob{Keyword: "pizza", Location: "x"}).Validate())
	assert.Error(t, (&KeywordJob{ID: "x", Location: "x"}).Validate())
	assert.Error(t, (&KeywordJob{ID: "x", Keyword: "pizza"}).Validate())
}

func TestTerminal(t *testing.T) {
	assert.True(t, (&KeywordJob{Status: StatusCompleted}).Terminal())
	assert.True(t, (&KeywordJob{Status: StatusFailed}).Terminal())
	assert.False(t, (&KeywordJob{Status: StatusSearching}).Terminal())
	assert.False(t, (&KeywordJob{Status: StatusPending}).Terminal())
}
