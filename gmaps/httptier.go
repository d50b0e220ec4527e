package gmaps

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/khushsoniamparo/Google-Extractor/cache"
)

// CacheStore is the result cache consulted before any network work.
type CacheStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// SessionSource serves the current session cookie string.
type SessionSource interface {
	Cookie(ctx context.Context) (string, error)
}

// Fetcher issues one lightweight request.
type Fetcher interface {
	Do(ctx context.Context, rawURL, cookie string) (int, []byte, error)
}

const (
	jitterMin = 20 * time.Millisecond
	jitterMax = 150 * time.Millisecond
)

// HTTPTier is the lightweight search path: cheap direct requests, classified
// per task. The caller bounds concurrency; the tier itself only adds a small
// random stagger so in-flight requests don't share a burst fingerprint.
type HTTPTier struct {
	cache   CacheStore
	session SessionSource
	client  Fetcher
}

func NewHTTPTier(cacheStore CacheStore, session SessionSource, client Fetcher) *HTTPTier {
	return &HTTPTier{
		cache:   cacheStore,
		session: session,
		client:  client,
	}
}

// Search runs one task and classifies its outcome. Faults are captured in
// the result, never propagated: a failing task must not abort its siblings.
func (t *HTTPTier) Search(ctx context.Context, task SearchTask) TaskResult {
	result := TaskResult{Task: task}

	key := cache.Key(task.Lat, task.Lng, task.Zoom, task.Keyword)

	if data, ok := t.cache.Get(key); ok {
		var places []Place
		if err := json.Unmarshal(data, &places); err == nil {
			result.Outcome = OutcomeCacheHit
			result.Places = places

			return result
		}
	}

	jitter := jitterMin + time.Duration(rand.Int64N(int64(jitterMax-jitterMin)))
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		result.Outcome = OutcomeTimeout
		result.Err = ctx.Err()

		return result
	}

	cookie, err := t.session.Cookie(ctx)
	if err != nil {
		result.Outcome = OutcomeTransportError
		result.Err = err

		return result
	}

	status, body, err := t.client.Do(ctx, task.URL(), cookie)
	if err != nil {
		if isTimeout(err) {
			result.Outcome = OutcomeTimeout
		} else {
			result.Outcome = OutcomeTransportError
		}

		result.Err = err

		return result
	}

	if status != http.StatusOK {
		result.Outcome = OutcomeTransportError
		result.Err = errors.New(http.StatusText(status))

		return result
	}

	html := string(body)

	switch {
	case IsBlocked(html):
		result.Outcome = OutcomeBlocked
	case !HasDataMarker(html):
		result.Outcome = OutcomeNoData
	default:
		places := ParseSearchHTML(html)
		if len(places) == 0 {
			// Markers are present but nothing parsed: the parser may be
			// stale against a page-structure change. Recoverable only via
			// full rendering.
			result.Outcome = OutcomeParseFailure

			break
		}

		result.Outcome = OutcomeSuccess
		result.Places = places

		if data, err := json.Marshal(places); err == nil {
			t.cache.Set(key, data)
		}
	}

	return result
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
