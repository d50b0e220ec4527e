package web

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is the thin application layer over the job repository used by the
// worker loop. The HTTP surface of the job tracker lives outside this
// repository; everything here is what the extraction side needs.
type Service struct {
	repo JobRepository
}

func NewService(repo JobRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Repo() JobRepository {
	return s.repo
}

// CreateBulkJob creates a bulk job and one pending keyword job per keyword.
func (s *Service) CreateBulkJob(ctx context.Context, location string, gridSize int, keywords []string) (BulkJob, error) {
	if len(keywords) == 0 {
		return BulkJob{}, fmt.Errorf("no keywords provided")
	}

	bulk := BulkJob{
		ID:        uuid.New().String(),
		Location:  location,
		GridSize:  gridSize,
		Status:    BulkStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.CreateBulkJob(ctx, &bulk); err != nil {
		return BulkJob{}, err
	}

	for _, keyword := range keywords {
		job := KeywordJob{
			ID:        uuid.New().String(),
			BulkID:    bulk.ID,
			Keyword:   keyword,
			Location:  location,
			GridSize:  gridSize,
			Status:    StatusPending,
			CreatedAt: time.Now().UTC(),
		}

		if err := job.Validate(); err != nil {
			return BulkJob{}, err
		}

		if err := s.repo.CreateKeywordJob(ctx, &job); err != nil {
			return BulkJob{}, err
		}
	}

	return bulk, nil
}

// SelectPending returns keyword jobs waiting to be picked up.
func (s *Service) SelectPending(ctx context.Context) ([]KeywordJob, error) {
	return s.repo.SelectKeywordJobs(ctx, StatusPending)
}

// SelectActive returns keyword jobs in a non-terminal, non-pending phase.
func (s *Service) SelectActive(ctx context.Context) ([]KeywordJob, error) {
	var active []KeywordJob

	for _, status := range []string{StatusFetchingBoundary, StatusBuildingGrid, StatusSearching} {
		jobs, err := s.repo.SelectKeywordJobs(ctx, status)
		if err != nil {
			return nil, err
		}

		active = append(active, jobs...)
	}

	return active, nil
}

// FailJob marks a keyword job failed with a human-readable message.
func (s *Service) FailJob(ctx context.Context, id, message string) error {
	if err := s.repo.SetError(ctx, id, message); err != nil {
		return err
	}

	return s.repo.UpdateStatus(ctx, id, StatusFailed, "Failed: "+message, Counters{})
}

// CompleteBulkIfDone marks a bulk job completed once every child keyword job
// reached a terminal phase.
func (s *Service) CompleteBulkIfDone(ctx context.Context, bulkID string) (bool, error) {
	children, err := s.repo.SelectKeywordJobsByBulk(ctx, bulkID)
	if err != nil {
		return false, err
	}

	if len(children) == 0 {
		return false, nil
	}

	total := 0

	for i := range children {
		if !children[i].Terminal() {
			return false, nil
		}

		total += children[i].TotalExtracted
	}

	bulk, err := s.repo.GetBulkJob(ctx, bulkID)
	if err != nil {
		return false, err
	}

	if bulk.Status == BulkStatusCompleted {
		return true, nil
	}

	now := time.Now().UTC()
	bulk.Status = BulkStatusCompleted
	bulk.StatusMessage = fmt.Sprintf("All keywords done. %d total places.", total)
	bulk.CompletedAt = &now

	if err := s.repo.UpdateBulkJob(ctx, &bulk); err != nil {
		return false, err
	}

	return true, nil
}
