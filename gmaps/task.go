package gmaps

import (
	"fmt"
	"net/url"
)

// SearchTask is one (cell, zoom) pair to query for a keyword. Tasks are
// independent; there is no ordering dependency between them.
type SearchTask struct {
	CellIndex int
	Lat       float64
	Lng       float64
	Zoom      int
	Keyword   string
}

// URL returns the maps search URL for the task.
func (t SearchTask) URL() string {
	return fmt.Sprintf("https://www.google.com/maps/search/%s/@%f,%f,%dz",
		url.QueryEscape(t.Keyword), t.Lat, t.Lng, t.Zoom)
}

// CellKey identifies the (cell, zoom) pair for resume bookkeeping.
func (t SearchTask) CellKey() string {
	return fmt.Sprintf("%d:%d", t.CellIndex, t.Zoom)
}

// Outcome classifies the result of one search task.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeCacheHit
	OutcomeBlocked
	OutcomeNoData
	OutcomeTimeout
	OutcomeTransportError
	OutcomeParseFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCacheHit:
		return "cache_hit"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeNoData:
		return "no_data"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// NeedsFallback reports whether the outcome routes the task to the browser
// fallback tier. An empty cell (no_data) is informative, not a failure, and
// does not retry.
func (o Outcome) NeedsFallback() bool {
	switch o {
	case OutcomeBlocked, OutcomeTimeout, OutcomeTransportError, OutcomeParseFailure:
		return true
	case OutcomeSuccess, OutcomeCacheHit, OutcomeNoData:
		return false
	default:
		return false
	}
}

// TaskResult carries the classified outcome of one task invocation.
type TaskResult struct {
	Task    SearchTask
	Outcome Outcome
	Places  []Place
	Err     error
}
