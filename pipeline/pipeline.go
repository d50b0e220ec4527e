// Package pipeline runs one keyword job end to end: boundary resolution,
// grid construction, two-tier search fanout, dedup and batched persistence.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/khushsoniamparo/Google-Extractor/dedup"
	"github.com/khushsoniamparo/Google-Extractor/geo"
	"github.com/khushsoniamparo/Google-Extractor/gmaps"
	"github.com/khushsoniamparo/Google-Extractor/web"
	"github.com/khushsoniamparo/Google-Extractor/writer"
)

const (
	DefaultHTTPConcurrency    = 30
	DefaultBrowserConcurrency = 5

	progressEvery = 25
)

// Searcher executes one search task. Both tiers implement it.
type Searcher interface {
	Search(ctx context.Context, task gmaps.SearchTask) gmaps.TaskResult
}

// FallbackTier is a Searcher that holds external resources (a browser
// process) and must be closed when the fallback phase ends.
type FallbackTier interface {
	Searcher
	Close() error
}

// FallbackFactory starts the fallback tier on demand. It is not invoked at
// all when every task completes on the lightweight tier.
type FallbackFactory func() (FallbackTier, error)

// BoundaryResolver maps a location string to its bounding box.
type BoundaryResolver interface {
	Resolve(ctx context.Context, location string) (geo.BoundingBox, error)
}

// SessionSource warms and serves the shared session cookie.
type SessionSource interface {
	Cookie(ctx context.Context) (string, error)
}

// Stats counts task outcomes across both tiers of one run.
type Stats struct {
	CacheHits       atomic.Int64
	Successes       atomic.Int64
	NoData          atomic.Int64
	Blocked         atomic.Int64
	Timeouts        atomic.Int64
	TransportErrors atomic.Int64
	ParseFailures   atomic.Int64
	FallbackTasks   atomic.Int64
	FallbackOK      atomic.Int64
}

func (s *Stats) count(outcome gmaps.Outcome) {
	switch outcome {
	case gmaps.OutcomeCacheHit:
		s.CacheHits.Add(1)
	case gmaps.OutcomeSuccess:
		s.Successes.Add(1)
	case gmaps.OutcomeNoData:
		s.NoData.Add(1)
	case gmaps.OutcomeBlocked:
		s.Blocked.Add(1)
	case gmaps.OutcomeTimeout:
		s.Timeouts.Add(1)
	case gmaps.OutcomeTransportError:
		s.TransportErrors.Add(1)
	case gmaps.OutcomeParseFailure:
		s.ParseFailures.Add(1)
	}
}

// Options tunes a pipeline. Zero values fall back to defaults.
type Options struct {
	HTTPConcurrency    int
	BrowserConcurrency int
	BatchSize          int
}

// Pipeline drives keyword jobs. It is safe to share one Pipeline across
// concurrently running jobs; all per-run state lives in Run.
type Pipeline struct {
	repo        web.JobRepository
	resolver    BoundaryResolver
	httpTier    Searcher
	newFallback FallbackFactory
	session     SessionSource
	opts        Options
}

func New(repo web.JobRepository, resolver BoundaryResolver, httpTier Searcher, newFallback FallbackFactory, session SessionSource, opts Options) *Pipeline {
	if opts.HTTPConcurrency <= 0 {
		opts.HTTPConcurrency = DefaultHTTPConcurrency
	}

	if opts.BrowserConcurrency <= 0 {
		opts.BrowserConcurrency = DefaultBrowserConcurrency
	}

	return &Pipeline{
		repo:        repo,
		resolver:    resolver,
		httpTier:    httpTier,
		newFallback: newFallback,
		session:     session,
		opts:        opts,
	}
}

// Run executes one keyword job to a terminal status. The returned error is
// non-nil only for faults that also marked the job failed; callers use it for
// logging, not control flow.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	start := time.Now()

	job, err := p.repo.GetKeywordJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}

	log.Printf("job %s: starting %q in %q", jobID, job.Keyword, job.Location)

	// The session cookie is shared by every lightweight request, so a
	// harvest failure means the whole tier would run blind. Fail early.
	if _, err := p.session.Cookie(ctx); err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("establishing session: %w", err))
	}

	if err := p.repo.UpdateStatus(ctx, jobID, web.StatusFetchingBoundary, "Resolving location boundary...", web.Counters{}); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}

	box, err := p.resolver.Resolve(ctx, job.Location)
	if err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("resolving %q: %w", job.Location, err))
	}

	gridSize := geo.ClampGridSize(job.GridSize)
	zooms := geo.SelectZoomLevels(box)
	cells := geo.BuildGrid(box, gridSize)

	message := fmt.Sprintf("Building %dx%d grid over %s", gridSize, gridSize, box.DisplayName)
	if err := p.repo.UpdateStatus(ctx, jobID, web.StatusBuildingGrid, message, web.Counters{}); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}

	tasks := buildTasks(cells, zooms, job.Keyword)

	counters := web.Counters{TotalCells: len(tasks)}

	message = fmt.Sprintf("Searching %d cells across %d zoom levels...", len(cells), len(zooms))
	if err := p.repo.UpdateStatus(ctx, jobID, web.StatusSearching, message, counters); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}

	w := writer.New(jobID, p.repo, p.opts.BatchSize)
	deduper := dedup.New(w)

	var stats Stats

	failed := p.runHTTPPhase(ctx, jobID, tasks, deduper, &stats, &counters)

	if len(failed) > 0 {
		p.runFallbackPhase(ctx, jobID, failed, deduper, &stats, &counters)
	}

	w.Stop()

	if err := ctx.Err(); err != nil {
		return p.fail(ctx, jobID, err)
	}

	total := deduper.Count()
	counters.TotalExtracted = total

	message = fmt.Sprintf("Completed. %d unique places extracted.", total)
	if err := p.repo.UpdateStatus(ctx, jobID, web.StatusCompleted, message, counters); err != nil {
		return fmt.Errorf("marking job %s completed: %w", jobID, err)
	}

	log.Printf("job %s: done in %s: %d places, cache_hits=%d success=%d no_data=%d blocked=%d timeout=%d transport=%d parse=%d fallback=%d/%d",
		jobID, time.Since(start).Round(time.Millisecond), total,
		stats.CacheHits.Load(), stats.Successes.Load(), stats.NoData.Load(),
		stats.Blocked.Load(), stats.Timeouts.Load(), stats.TransportErrors.Load(),
		stats.ParseFailures.Load(), stats.FallbackOK.Load(), stats.FallbackTasks.Load())

	return nil
}

// runHTTPPhase fans tasks over the lightweight tier and returns the tasks
// whose outcomes require browser fallback.
func (p *Pipeline) runHTTPPhase(ctx context.Context, jobID string, tasks []gmaps.SearchTask, deduper *dedup.Deduper, stats *Stats, counters *web.Counters) []gmaps.SearchTask {
	var (
		mu     sync.Mutex
		failed []gmaps.SearchTask
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.HTTPConcurrency)

	for _, task := range tasks {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			if done, err := p.repo.IsCellSearched(gctx, jobID, task.CellKey()); err == nil && done {
				mu.Lock()
				counters.CellsDone++
				mu.Unlock()

				return nil
			}

			result := p.searchSafe(gctx, p.httpTier, task)
			stats.count(result.Outcome)

			if result.Outcome.NeedsFallback() {
				mu.Lock()
				failed = append(failed, task)
				mu.Unlock()

				return nil
			}

			p.finishTask(gctx, jobID, result, deduper, counters, &mu)

			return nil
		})
	}

	_ = g.Wait()

	return failed
}

// runFallbackPhase retries failed tasks through the browser tier, at most
// once per task. Starting the browser can itself fail; the tasks then stay
// uncounted and unmarked, eligible for retry on a future run.
func (p *Pipeline) runFallbackPhase(ctx context.Context, jobID string, tasks []gmaps.SearchTask, deduper *dedup.Deduper, stats *Stats, counters *web.Counters) {
	if ctx.Err() != nil {
		return
	}

	log.Printf("job %s: %d tasks need browser fallback", jobID, len(tasks))

	tier, err := p.newFallback()
	if err != nil {
		log.Printf("job %s: browser fallback unavailable: %v", jobID, err)

		return
	}

	defer func() {
		if err := tier.Close(); err != nil {
			log.Printf("job %s: closing browser tier: %v", jobID, err)
		}
	}()

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.BrowserConcurrency)

	for _, task := range tasks {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			stats.FallbackTasks.Add(1)

			result := p.searchSafe(gctx, tier, task)
			stats.count(result.Outcome)

			if result.Outcome == gmaps.OutcomeSuccess {
				stats.FallbackOK.Add(1)
				p.finishTask(gctx, jobID, result, deduper, counters, &mu)
			} else if result.Err != nil {
				log.Printf("job %s: fallback task %s: %s: %v", jobID, task.CellKey(), result.Outcome, result.Err)
			}

			return nil
		})
	}

	_ = g.Wait()
}

// finishTask records a settled task: places into the deduper, the cell into
// the resume set, and a periodic progress update.
func (p *Pipeline) finishTask(ctx context.Context, jobID string, result gmaps.TaskResult, deduper *dedup.Deduper, counters *web.Counters, mu *sync.Mutex) {
	for i := range result.Places {
		deduper.Add(&result.Places[i])
	}

	if err := p.repo.MarkCellSearched(ctx, jobID, result.Task.CellKey()); err != nil {
		log.Printf("job %s: marking cell %s: %v", jobID, result.Task.CellKey(), err)
	}

	mu.Lock()
	counters.CellsDone++
	counters.TotalExtracted = deduper.Count()
	snapshot := *counters
	mu.Unlock()

	if snapshot.CellsDone%progressEvery == 0 {
		message := fmt.Sprintf("Searching... %d/%d cells done, %d places found",
			snapshot.CellsDone, snapshot.TotalCells, snapshot.TotalExtracted)

		if err := p.repo.UpdateStatus(ctx, jobID, web.StatusSearching, message, snapshot); err != nil {
			log.Printf("job %s: progress update: %v", jobID, err)
		}
	}
}

// searchSafe shields the fanout from a panicking tier. A panic settles the
// task as a transport error so siblings keep running.
func (p *Pipeline) searchSafe(ctx context.Context, tier Searcher, task gmaps.SearchTask) (result gmaps.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recovered panic in task %s: %v", task.CellKey(), r)

			result = gmaps.TaskResult{
				Task:    task,
				Outcome: gmaps.OutcomeTransportError,
				Err:     fmt.Errorf("panic: %v", r),
			}
		}
	}()

	return tier.Search(ctx, task)
}

func (p *Pipeline) fail(ctx context.Context, jobID string, cause error) error {
	log.Printf("job %s: failed: %v", jobID, cause)

	if err := p.repo.SetError(ctx, jobID, cause.Error()); err != nil {
		log.Printf("job %s: recording error: %v", jobID, err)
	}

	if err := p.repo.UpdateStatus(ctx, jobID, web.StatusFailed, "Failed: "+cause.Error(), web.Counters{}); err != nil {
		log.Printf("job %s: marking failed: %v", jobID, err)
	}

	return cause
}

func buildTasks(cells []geo.GridCell, zooms []int, keyword string) []gmaps.SearchTask {
	tasks := make([]gmaps.SearchTask, 0, len(cells)*len(zooms))

	for _, cell := range cells {
		for _, zoom := range zooms {
			tasks = append(tasks, gmaps.SearchTask{
				CellIndex: cell.Index,
				Lat:       cell.CenterLat,
				Lng:       cell.CenterLng,
				Zoom:      zoom,
				Keyword:   keyword,
			})
		}
	}

	return tasks
}
