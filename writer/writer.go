// Package writer buffers accepted records and flushes them to the
// persistence collaborator in batches, off the search loop.
package writer

import (
	"context"
	"log"
	"time"

	"github.com/khushsoniamparo/Google-Extractor/gmaps"
)

const (
	DefaultBatchSize = 50

	idleFlush    = 2 * time.Second
	flushTimeout = 30 * time.Second
	queueDepth   = 1024
)

// Store is the persistence collaborator boundary. Each call is one atomic
// write of a whole batch.
type Store interface {
	CreatePlaces(ctx context.Context, jobID string, places []*gmaps.Place) error
	UpdatePlaces(ctx context.Context, jobID string, updates map[string]*gmaps.Place) error
}

type opKind int

const (
	opCreate opKind = iota
	opUpdate
)

type op struct {
	kind  opKind
	key   string
	place *gmaps.Place
}

// Writer drains an internal queue into batched store writes. A slow store
// never stalls the search loop; backpressure is bounded only by queue memory.
// A failed flush is logged and dropped: the extraction continuum is
// prioritized over never losing a record.
type Writer struct {
	jobID     string
	store     Store
	batchSize int
	queue     chan op
	done      chan struct{}
	accepted  int
}

func New(jobID string, store Store, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	w := &Writer{
		jobID:     jobID,
		store:     store,
		batchSize: batchSize,
		queue:     make(chan op, queueDepth),
		done:      make(chan struct{}),
	}

	go w.consume()

	return w
}

// Create queues a new canonical record.
func (w *Writer) Create(place *gmaps.Place) {
	w.queue <- op{kind: opCreate, place: place}
}

// Update queues a changed canonical record.
func (w *Writer) Update(key string, place *gmaps.Place) {
	w.queue <- op{kind: opUpdate, key: key, place: place}
}

// Stop flushes any partial batch, waits for the consumer to drain and exit,
// and returns the total number of records accepted across all flushes.
func (w *Writer) Stop() int {
	close(w.queue)
	<-w.done

	return w.accepted
}

func (w *Writer) consume() {
	defer close(w.done)

	var batch []op

	timer := time.NewTimer(idleFlush)
	defer timer.Stop()

	for {
		select {
		case item, ok := <-w.queue:
			if !ok {
				w.flush(batch)

				return
			}

			batch = append(batch, item)

			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = nil
			}
		case <-timer.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = nil
			}

			timer.Reset(idleFlush)
		}
	}
}

func (w *Writer) flush(batch []op) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	var creates []*gmaps.Place

	updates := make(map[string]*gmaps.Place)

	for _, item := range batch {
		switch item.kind {
		case opCreate:
			creates = append(creates, item.place)
		case opUpdate:
			updates[item.key] = item.place
		}
	}

	flushed := 0

	if len(creates) > 0 {
		if err := w.store.CreatePlaces(ctx, w.jobID, creates); err != nil {
			log.Printf("writer: dropping batch of %d creates: %v", len(creates), err)
		} else {
			flushed += len(creates)
		}
	}

	if len(updates) > 0 {
		if err := w.store.UpdatePlaces(ctx, w.jobID, updates); err != nil {
			log.Printf("writer: dropping batch of %d updates: %v", len(updates), err)
		} else {
			flushed += len(updates)
		}
	}

	w.accepted += flushed
}
