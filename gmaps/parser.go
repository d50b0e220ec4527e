package gmaps

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// This file is the single place that knows the shape of the maps search page:
// the embedded script-state the lightweight tier scans and the marker phrases
// of anti-automation challenge pages. The page format is versioned by the
// upstream service and changes outside our control; callers must treat a
// zero-place parse of a marker-bearing page as a recoverable parse failure,
// not a crash.

const (
	placeIDMarker    = "ChIJ"
	maxPlacesPerPage = 120
)

var blockedMarkers = []string{
	"unusual traffic",
	"captcha",
	"before you continue",
	"not a robot",
}

var (
	placeIDRe       = regexp.MustCompile(`ChIJ[a-zA-Z0-9_\-]{10,40}`)
	nameCandidateRe = regexp.MustCompile(`"([A-Za-z][^"]{4,60})"`)
	phoneRe         = regexp.MustCompile(`(\+?[0-9][0-9\s\-()]{8,18}[0-9])`)
	ratingRe        = regexp.MustCompile(`"([1-5]\.[0-9])"`)
	reviewRe        = regexp.MustCompile(`"([0-9]{1,6})"[^"]{0,30}"review`)
	websiteRe       = regexp.MustCompile(`"(https?://[^"]{5,120})"`)
)

var websiteExcludes = []string{
	"www.google",
	"maps.google",
	"goo.gl",
	"googleapis",
	"gstatic",
}

// IsBlocked reports whether the body is an anti-automation challenge page.
func IsBlocked(html string) bool {
	low := strings.ToLower(html)

	for _, marker := range blockedMarkers {
		if strings.Contains(low, marker) {
			return true
		}
	}

	return false
}

// HasDataMarker reports whether the body carries any place-id markers at all.
// A marker-free page is a genuinely empty cell.
func HasDataMarker(html string) bool {
	return strings.Contains(html, placeIDMarker)
}

// ParseSearchHTML extracts place records from the embedded script-state of a
// maps search response. Fields near each place id are scanned positionally;
// anything not found stays empty and may be filled by a later merge.
func ParseSearchHTML(html string) []Place {
	var places []Place

	seen := make(map[string]struct{})

	ids := placeIDRe.FindAllString(html, -1)

	for _, pid := range ids {
		if len(places) >= maxPlacesPerPage {
			break
		}

		if _, ok := seen[pid]; ok {
			continue
		}

		seen[pid] = struct{}{}

		idx := strings.Index(html, pid)
		if idx == -1 {
			continue
		}

		before := html[max(0, idx-600):idx]
		after := html[idx:min(len(html), idx+800)]
		window := before + after

		name := extractName(html, pid, idx, before)
		if len(name) < 3 {
			continue
		}

		place := Place{
			PlaceID: pid,
			Name:    name,
			MapsURL: fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%s&query_place_id=%s",
				url.QueryEscape(name), pid),
		}

		if m := phoneRe.FindStringSubmatch(window); m != nil {
			place.Phone = strings.TrimSpace(m[1])
		}

		if m := ratingRe.FindStringSubmatch(window); m != nil {
			place.Rating = m[1]
		}

		if m := reviewRe.FindStringSubmatch(window); m != nil {
			place.ReviewCount = m[1]
		}

		for _, m := range websiteRe.FindAllStringSubmatch(window, -1) {
			if isExternalWebsite(m[1]) {
				place.Website = m[1]
				break
			}
		}

		places = append(places, place)
	}

	return places
}

func extractName(html, pid string, idx int, before string) string {
	nearWindow := html[max(0, idx-400):min(len(html), idx+50)]

	re, err := regexp.Compile(`"([A-Za-z0-9][^"]{3,80})"[^"]{0,200}` + regexp.QuoteMeta(pid))
	if err == nil {
		if m := re.FindStringSubmatch(nearWindow); m != nil {
			return strings.TrimSpace(m[1])
		}
	}

	// Fallback: last plausible quoted string right before the place id.
	tail := before
	if len(tail) > 300 {
		tail = tail[len(tail)-300:]
	}

	var candidate string

	for _, m := range nameCandidateRe.FindAllStringSubmatch(tail, -1) {
		s := m[1]
		if strings.HasPrefix(s, "http") || strings.Contains(s, `\`) {
			continue
		}

		candidate = s
	}

	return strings.TrimSpace(candidate)
}

func isExternalWebsite(u string) bool {
	for _, needle := range websiteExcludes {
		if strings.Contains(u, needle) {
			return false
		}
	}

	return true
}
