package gmaps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedHTML = `<html><body><div role="feed">
<div><div jsaction="pane.card">
  <div class="qBF1Pd">Cafe Uno</div>
  <span class="MW4etd">4.3</span>
  <span class="UY7F9">(1,210)</span>
  <div class="W4Efsd">Cafe</div>
  <div class="W4Efsd">12 Main St</div>
  <div class="W4Efsd">+44 20 1234 5678</div>
  <a href="https://www.google.com/maps/place/ChIJCafeUno12345678/data=!4m2"></a>
</div></div>
<div><div jsaction="pane.card">
  <span class="fontHeadlineSmall">Cafe Due</span>
  <div class="W4Efsd">Coffee shop</div>
  <div class="W4Efsd">34 High St</div>
</div></div>
<div><div jsaction="pane.card">
  <span class="MW4etd">5.0</span>
</div></div>
</div></body></html>`

func TestParseFeedHTML(t *testing.T) {
	places := parseFeedHTML(feedHTML)
	require.Len(t, places, 2)

	uno := places[0]
	assert.Equal(t, "Cafe Uno", uno.Name)
	assert.Equal(t, "4.3", uno.Rating)
	assert.Equal(t, "1,210", uno.ReviewCount)
	assert.Equal(t, "Cafe", uno.Category)
	assert.Equal(t, "12 Main St", uno.Street)
	assert.Equal(t, "+44 20 1234 5678", uno.Phone)
	assert.Equal(t, "ChIJCafeUno12345678", uno.PlaceID)
	assert.Contains(t, uno.MapsURL, "/maps/place/")

	due := places[1]
	assert.Equal(t, "Cafe Due", due.Name)
	assert.Equal(t, "Coffee shop", due.Category)
	assert.Equal(t, "34 High St", due.Street)
	assert.Empty(t, due.PlaceID)
	assert.Empty(t, due.Phone)
}

func TestParseFeedHTMLRendersSameDedupKeyAsLightweightTier(t *testing.T) {
	rendered := parseFeedHTML(feedHTML)
	require.NotEmpty(t, rendered)

	// A card without a place id still dedups against itself via name+street.
	assert.NotEmpty(t, rendered[1].DedupKey())
}

func TestParseFeedHTMLEmpty(t *testing.T) {
	assert.Empty(t, parseFeedHTML("<html><body>no feed</body></html>"))
	assert.Empty(t, parseFeedHTML(`<html><div role="feed"></div></html>`))
}
