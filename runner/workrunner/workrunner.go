// Package workrunner polls the job repository and drives the extraction
// pipeline for pending keyword jobs.
package workrunner

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/khushsoniamparo/Google-Extractor/cache"
	"github.com/khushsoniamparo/Google-Extractor/geo"
	"github.com/khushsoniamparo/Google-Extractor/gmaps"
	"github.com/khushsoniamparo/Google-Extractor/pipeline"
	"github.com/khushsoniamparo/Google-Extractor/postgres"
	"github.com/khushsoniamparo/Google-Extractor/proxy"
	"github.com/khushsoniamparo/Google-Extractor/runner"
	"github.com/khushsoniamparo/Google-Extractor/session"
	"github.com/khushsoniamparo/Google-Extractor/tlmt"
	"github.com/khushsoniamparo/Google-Extractor/web"
	"github.com/khushsoniamparo/Google-Extractor/web/sqlite"
)

const (
	pollInterval  = time.Second
	sweepInterval = 5 * time.Minute
	stuckTimeout  = time.Hour

	// Keyword pipelines of one bulk job run concurrently; they share the
	// session, cache and proxy pool, so the marginal cost is the two task
	// pools each pipeline brings.
	maxConcurrentJobs = 3
)

type workrunner struct {
	svc      *web.Service
	pipeline *pipeline.Pipeline
	cfg      *runner.Config

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.DataFolder == "" {
		return nil, fmt.Errorf("data folder is required")
	}

	if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
		return nil, err
	}

	var repo web.JobRepository

	if cfg.Dsn != "" {
		log.Printf("PostgreSQL configured")

		db, err := openPostgresConn(cfg.Dsn)
		if err != nil {
			return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
		}

		if err := postgres.CreateSchema(db); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}

		repo = postgres.NewJobRepository(db)
	} else {
		log.Printf("no dsn configured, using sqlite")

		var err error

		repo, err = sqlite.New(filepath.Join(cfg.DataFolder, "jobs.db"))
		if err != nil {
			return nil, err
		}
	}

	cacheStore, err := cache.New(cfg.CacheDir, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	sessionMgr := session.New(cfg.CookieFile, cfg.SessionTTL)
	pool := proxy.FromEnv(cfg.ProxyFile)
	httpTier := gmaps.NewHTTPTier(cacheStore, sessionMgr, gmaps.NewHTTPClient(pool))

	headless := !cfg.Debug
	newFallback := func() (pipeline.FallbackTier, error) {
		return gmaps.NewBrowserTier(headless)
	}

	pl := pipeline.New(repo, geo.NewResolver(repo), httpTier, newFallback, sessionMgr, pipeline.Options{
		HTTPConcurrency:    cfg.HTTPConcurrency,
		BrowserConcurrency: cfg.BrowserConcurrency,
	})

	ans := workrunner{
		svc:      web.NewService(repo),
		pipeline: pl,
		cfg:      cfg,
		inFlight: make(map[string]struct{}),
	}

	return &ans, nil
}

func openPostgresConn(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()

		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

func (w *workrunner) Run(ctx context.Context) error {
	if err := w.requeueStuckJobsOnStartup(ctx); err != nil {
		log.Printf("WARNING: startup recovery failed: %v", err)
	}

	if w.cfg.RunMode == runner.RunModeSingle {
		return w.runSingle(ctx)
	}

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return w.work(ctx)
	})

	egroup.Go(func() error {
		return w.sweepStuckJobs(ctx)
	})

	return egroup.Wait()
}

func (w *workrunner) Close(context.Context) error {
	return nil
}

// runSingle creates one bulk job from the CLI flags and works it to a
// terminal state.
func (w *workrunner) runSingle(ctx context.Context) error {
	bulk, err := w.svc.CreateBulkJob(ctx, w.cfg.Location, w.cfg.GridSize, w.cfg.Keywords)
	if err != nil {
		return fmt.Errorf("creating bulk job: %w", err)
	}

	log.Printf("bulk job %s: %d keywords in %q", bulk.ID, len(w.cfg.Keywords), w.cfg.Location)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.dispatchPending(ctx); err != nil {
			return err
		}

		if w.busy() {
			time.Sleep(pollInterval)

			continue
		}

		done, err := w.svc.CompleteBulkIfDone(ctx, bulk.ID)
		if err != nil {
			return err
		}

		if done {
			final, err := w.svc.Repo().GetBulkJob(ctx, bulk.ID)
			if err == nil {
				log.Printf("bulk job %s: %s", final.ID, final.StatusMessage)
			}

			return nil
		}

		time.Sleep(pollInterval)
	}
}

func (w *workrunner) work(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.dispatchPending(ctx); err != nil {
				log.Printf("work iteration failed: %v", err)
			}
		}
	}
}

// dispatchPending launches a goroutine per pending keyword job up to the
// concurrency cap. The in-flight set keeps a job from being picked up twice
// before the pipeline moves it out of pending.
func (w *workrunner) dispatchPending(ctx context.Context) error {
	pending, err := w.svc.SelectPending(ctx)
	if err != nil {
		return fmt.Errorf("selecting pending jobs: %w", err)
	}

	for i := range pending {
		job := pending[i]

		if !w.claim(job.ID) {
			continue
		}

		go func() {
			defer w.release(job.ID)

			w.runJob(ctx, job)
		}()
	}

	return nil
}

func (w *workrunner) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.inFlight) >= maxConcurrentJobs {
		return false
	}

	if _, ok := w.inFlight[id]; ok {
		return false
	}

	w.inFlight[id] = struct{}{}

	return true
}

func (w *workrunner) release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.inFlight, id)
}

func (w *workrunner) busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.inFlight) > 0
}

// runJob runs one keyword pipeline to a terminal state and reports the
// terminal outcome.
func (w *workrunner) runJob(ctx context.Context, job web.KeywordJob) {
	start := time.Now()

	if err := w.pipeline.Run(ctx, job.ID); err != nil {
		log.Printf("job %s: %v", job.ID, err)
	}

	final, err := w.svc.Repo().GetKeywordJob(ctx, job.ID)
	if err == nil {
		params := map[string]any{
			"status":   final.Status,
			"duration": time.Since(start).String(),
			"cells":    final.TotalCells,
			"places":   final.TotalExtracted,
		}

		_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("work_runner", params))
	}

	if job.BulkID != "" {
		if _, err := w.svc.CompleteBulkIfDone(ctx, job.BulkID); err != nil {
			log.Printf("bulk %s: completion check failed: %v", job.BulkID, err)
		}
	}
}

// requeueStuckJobsOnStartup returns jobs left mid-phase by a previous run to
// the pending queue. Their searched-cell marks make the re-run cheap.
func (w *workrunner) requeueStuckJobsOnStartup(ctx context.Context) error {
	active, err := w.svc.SelectActive(ctx)
	if err != nil {
		return err
	}

	if len(active) == 0 {
		log.Printf("startup recovery: no stuck jobs found")

		return nil
	}

	log.Printf("startup recovery: requeueing %d stuck jobs", len(active))

	for i := range active {
		job := &active[i]

		counters := web.Counters{
			TotalCells:     job.TotalCells,
			CellsDone:      job.CellsDone,
			TotalExtracted: job.TotalExtracted,
		}

		if err := w.svc.Repo().UpdateStatus(ctx, job.ID, web.StatusPending, "Requeued after restart", counters); err != nil {
			log.Printf("failed to requeue job %s: %v", job.ID, err)
		}
	}

	return nil
}

// sweepStuckJobs periodically fails active jobs that stopped making progress.
// A job this runner is actively working updates its row at least every
// progress interval, so a stale updated_at means its worker is gone.
func (w *workrunner) sweepStuckJobs(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			active, err := w.svc.SelectActive(ctx)
			if err != nil {
				log.Printf("error selecting active jobs for recovery: %v", err)

				continue
			}

			now := time.Now().UTC()

			for i := range active {
				job := &active[i]

				stale := now.Sub(job.UpdatedAt)
				if stale <= stuckTimeout {
					continue
				}

				log.Printf("recovering stuck job %s (no progress for %v)", job.ID, stale.Round(time.Second))

				if err := w.svc.FailJob(ctx, job.ID, fmt.Sprintf("no progress for %v", stale.Round(time.Second))); err != nil {
					log.Printf("failed to recover stuck job %s: %v", job.ID, err)
				}
			}
		}
	}
}
