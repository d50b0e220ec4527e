package gmaps

import (
	"strings"
)

// Place is one extracted business listing. All fields except Name are
// optional; records without a name are discarded before merging.
type Place struct {
	PlaceID     string `json:"place_id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Street      string `json:"street"`
	City        string `json:"city"`
	State       string `json:"state"`
	Phone       string `json:"phone"`
	Website     string `json:"website"`
	Rating      string `json:"rating"`
	ReviewCount string `json:"review_count"`
	MapsURL     string `json:"maps_url"`
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
}

const streetKeyPrefixLen = 15

// DedupKey returns the canonical identity of the place: the place id when
// present, otherwise a composite of the normalized name and a street prefix.
// Two places with the same key are the same real-world place.
func (p *Place) DedupKey() string {
	if p.PlaceID != "" {
		return p.PlaceID
	}

	if p.Name == "" {
		return ""
	}

	street := strings.ToLower(p.Street)
	if len(street) > streetKeyPrefixLen {
		street = street[:streetKeyPrefixLen]
	}

	return strings.ToLower(strings.TrimSpace(p.Name)) + street
}

// MergeFrom fills empty fields of p from other. A non-empty field is never
// overwritten by an empty one. Reports whether any field changed.
func (p *Place) MergeFrom(other *Place) bool {
	changed := false

	fields := []struct {
		dst *string
		src string
	}{
		{&p.Category, other.Category},
		{&p.Street, other.Street},
		{&p.City, other.City},
		{&p.State, other.State},
		{&p.Phone, other.Phone},
		{&p.Website, other.Website},
		{&p.Rating, other.Rating},
		{&p.ReviewCount, other.ReviewCount},
		{&p.MapsURL, other.MapsURL},
		{&p.Latitude, other.Latitude},
		{&p.Longitude, other.Longitude},
	}

	for _, f := range fields {
		if *f.dst == "" && f.src != "" {
			*f.dst = f.src
			changed = true
		}
	}

	return changed
}

// Clone returns a copy of p.
func (p *Place) Clone() *Place {
	cp := *p

	return &cp
}
