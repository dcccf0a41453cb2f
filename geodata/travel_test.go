package geodata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-sync/models"
)

func TestHaversine(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(models.Coords{Lat: 38.9, Lon: -77}, models.Coords{Lat: 38.9, Lon: -77}))

	// One degree of latitude is about 69.1 miles.
	d := Haversine(models.Coords{Lat: 38, Lon: -77}, models.Coords{Lat: 39, Lon: -77})
	assert.InDelta(t, 69.11, d, 0.01)
}

func TestNextCommuteTime(t *testing.T) {
	wed := time.Date(2024, 3, 20, 5, 0, 0, 0, time.UTC)

	got, err := NextCommuteTime(wed, time.Tuesday, "06:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 26, 6, 30, 0, 0, time.UTC), got)

	got, err = NextCommuteTime(wed, time.Wednesday, "18:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 27, 18, 0, 0, 0, time.UTC), got, "today never counts")

	got, err = NextCommuteTime(wed, time.Friday, "07:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 22, 7, 15, 0, 0, time.UTC), got)

	_, err = NextCommuteTime(wed, time.Friday, "7pm")
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	assert.Equal(t, "0:00:00", FormatDuration(0))
	assert.Equal(t, "1:02:03", FormatDuration(3723))
	assert.Equal(t, "0:16:00", FormatDuration(959.6))

	m, ok := DurationMinutes("0:28:20")
	require.True(t, ok)
	assert.InDelta(t, 28.333, m, 0.001)

	m, ok = DurationMinutes("1:05:00 (with traffic)")
	require.True(t, ok)
	assert.Equal(t, 65.0, m)

	for _, bad := range []string{"", "twenty minutes", "12:75:00"} {
		_, ok := DurationMinutes(bad)
		assert.False(t, ok, bad)
	}
}
