package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khushsoniamparo/Google-Extractor/gmaps"
)

type recordingSink struct {
	creates []*gmaps.Place
	updates map[string]*gmaps.Place
}

func newRecordingSink() *recordingSink {
	return &recordingSink{updates: make(map[string]*gmaps.Place)}
}

func (s *recordingSink) Create(place *gmaps.Place) {
	s.creates = append(s.creates, place)
}

func (s *recordingSink) Update(key string, place *gmaps.Place) {
	s.updates[key] = place
}

func TestAddNewPlace(t *testing.T) {
	sink := newRecordingSink()
	d := New(sink)

	accepted := d.Add(&gmaps.Place{Name: "Mario's Pizza", Street: "12 Oak Street"})
	assert.True(t, accepted)
	assert.Equal(t, 1, d.Count())
	require.Len(t, sink.creates, 1)
	assert.Empty(t, sink.updates)
}

func TestAddMergesPartialDuplicates(t *testing.T) {
	sink := newRecordingSink()
	d := New(sink)

	// The lightweight tier saw the rating, the browser tier saw the phone.
	fromHTTP := &gmaps.Place{
		Name:        "Mario's Pizza",
		Street:      "12 Oak Street",
		Rating:      "4.5",
		ReviewCount: "230",
	}
	fromBrowser := &gmaps.Place{
		Name:   "Mario's Pizza",
		Street: "12 Oak Street",
		Phone:  "+1 555-0123",
	}

	assert.True(t, d.Add(fromHTTP))
	assert.False(t, d.Add(fromBrowser))
	assert.Equal(t, 1, d.Count())

	require.Len(t, sink.creates, 1)
	require.Len(t, sink.updates, 1)

	merged := sink.updates[fromHTTP.DedupKey()]
	require.NotNil(t, merged)
	assert.Equal(t, "4.5", merged.Rating)
	assert.Equal(t, "230", merged.ReviewCount)
	assert.Equal(t, "+1 555-0123", merged.Phone)
}

func TestAddNoUpdateWhenNothingNew(t *testing.T) {
	sink := newRecordingSink()
	d := New(sink)

	place := &gmaps.Place{Name: "Mario's Pizza", Street: "12 Oak Street", Rating: "4.5"}

	d.Add(place)
	d.Add(place.Clone())

	assert.Len(t, sink.creates, 1)
	assert.Empty(t, sink.updates)
}

func TestAddRejectsUnusableRecords(t *testing.T) {
	sink := newRecordingSink()
	d := New(sink)

	assert.False(t, d.Add(nil))
	assert.False(t, d.Add(&gmaps.Place{Street: "12 Oak Street"}))
	assert.Zero(t, d.Count())
	assert.Empty(t, sink.creates)
}

func TestCanonicalRecordIsIsolatedFromCaller(t *testing.T) {
	sink := newRecordingSink()
	d := New(sink)

	place := &gmaps.Place{Name: "Mario's Pizza", Street: "12 Oak Street"}
	d.Add(place)

	// Mutating the caller's struct must not leak into the canonical record.
	place.Name = "changed"

	d.Add(&gmaps.Place{Name: "Mario's Pizza", Street: "12 Oak Street", Phone: "555"})
	assert.Equal(t, "Mario's Pizza", sink.updates["mario's pizza12 oak street"].Name)
}
