package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrLocationNotFound = errors.New("location not found")

const (
	defaultGeocoderURL = "https://nominatim.openstreetmap.org/search"
	geocoderUserAgent  = "GoogleExtractor/1.0 (business listing extractor)"
)

// BoundaryStore caches resolved bounding boxes. Geographic boundaries do not
// change during a job's lifetime, so entries never expire.
type BoundaryStore interface {
	GetBoundary(ctx context.Context, location string) (BoundingBox, bool, error)
	SaveBoundary(ctx context.Context, location string, box BoundingBox) error
}

type nominatimResult struct {
	// Nominatim returns [minLat, maxLat, minLng, maxLng] as strings.
	// The element order is a contract of the upstream service.
	BoundingBox []string `json:"boundingbox"`
	DisplayName string   `json:"display_name"`
}

// Resolver maps a free-text location to a bounding box.
type Resolver struct {
	store   BoundaryStore
	client  *http.Client
	baseURL string
}

func NewResolver(store BoundaryStore) *Resolver {
	return &Resolver{
		store:   store,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultGeocoderURL,
	}
}

// WithBaseURL points the resolver at a different geocoding endpoint.
func (r *Resolver) WithBaseURL(u string) *Resolver {
	r.baseURL = u

	return r
}

// Resolve returns the bounding box for a location string, consulting the
// boundary cache first. On a miss it queries the geocoder with a strict
// feature-type filter and retries once without it before giving up.
func (r *Resolver) Resolve(ctx context.Context, location string) (BoundingBox, error) {
	key := normalizeLocation(location)

	if r.store != nil {
		box, ok, err := r.store.GetBoundary(ctx, key)
		if err == nil && ok {
			return box, nil
		}
	}

	box, err := r.geocode(ctx, location, true)
	if errors.Is(err, ErrLocationNotFound) {
		box, err = r.geocode(ctx, location, false)
	}

	if err != nil {
		return BoundingBox{}, err
	}

	if r.store != nil {
		if err := r.store.SaveBoundary(ctx, key, box); err != nil {
			return box, fmt.Errorf("saving boundary for %q: %w", location, err)
		}
	}

	return box, nil
}

func (r *Resolver) geocode(ctx context.Context, location string, strict bool) (BoundingBox, error) {
	params := url.Values{
		"q":      {location},
		"format": {"json"},
		"limit":  {"1"},
	}
	if strict {
		params.Set("featuretype", "settlement")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return BoundingBox{}, fmt.Errorf("building geocoder request: %w", err)
	}

	req.Header.Set("User-Agent", geocoderUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return BoundingBox{}, fmt.Errorf("geocoder request failed: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return BoundingBox{}, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return BoundingBox{}, fmt.Errorf("decoding geocoder response: %w", err)
	}

	if len(results) == 0 {
		return BoundingBox{}, fmt.Errorf("%w: %s", ErrLocationNotFound, location)
	}

	bb := results[0].BoundingBox
	if len(bb) < 4 {
		return BoundingBox{}, fmt.Errorf("invalid bounding box from geocoder for %q", location)
	}

	box := BoundingBox{DisplayName: results[0].DisplayName}

	if box.MinLat, err = strconv.ParseFloat(bb[0], 64); err != nil {
		return BoundingBox{}, fmt.Errorf("parsing min_lat: %w", err)
	}

	if box.MaxLat, err = strconv.ParseFloat(bb[1], 64); err != nil {
		return BoundingBox{}, fmt.Errorf("parsing max_lat: %w", err)
	}

	if box.MinLng, err = strconv.ParseFloat(bb[2], 64); err != nil {
		return BoundingBox{}, fmt.Errorf("parsing min_lng: %w", err)
	}

	if box.MaxLng, err = strconv.ParseFloat(bb[3], 64); err != nil {
		return BoundingBox{}, fmt.Errorf("parsing max_lng: %w", err)
	}

	return box, nil
}

func normalizeLocation(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}
