package geodata

import (
	"fmt"
	"math"
	"strings"
	"time"

	"listing-sync/models"
)

// earthRadiusMiles is the radius used for straight-line distances.
const earthRadiusMiles = 3959.87433

// Haversine returns the great-circle distance between a and b in miles.
func Haversine(a, b models.Coords) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)

	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLon/2), 2)
	return earthRadiusMiles * 2 * math.Asin(math.Sqrt(h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// NextCommuteTime returns the next occurrence of weekday at clock ("HH:MM")
// strictly after today, in now's location. Today never counts, even if the
// time has not passed yet.
func NextCommuteTime(now time.Time, weekday time.Weekday, clock string) (time.Time, error) {
	hm, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("commute time %q: %w", clock, err)
	}
	days := int(weekday) - int(now.Weekday())
	if days <= 0 {
		days += 7
	}
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), hm.Hour(), hm.Minute(), 0, 0, now.Location()), nil
}

// FormatDuration renders seconds as H:MM:SS.
func FormatDuration(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total/60%60, total%60)
}

// DurationMinutes converts an H:MM:SS string to decimal minutes. Anything
// after the first space is ignored.
func DurationMinutes(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	var h, m, sec int
	if n, err := fmt.Sscanf(fields[0], "%d:%d:%d", &h, &m, &sec); err != nil || n != 3 {
		return 0, false
	}
	if m > 59 || sec > 59 || h < 0 || m < 0 || sec < 0 {
		return 0, false
	}
	return float64(h*60+m) + float64(sec)/60, true
}

// Round rounds f to the given number of decimal places.
func Round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
