package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"listing-sync/models"
)

// Point is a lat/lon pair as written in the places file.
type Point struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Coords converts the point to the model type.
func (p Point) Coords() models.Coords {
	return models.Coords{Lat: p.Lat, Lon: p.Lon}
}

// Set reports whether the point was given in the file.
func (p Point) Set() bool {
	return p.Lat != 0 || p.Lon != 0
}

// FrequentPlace is a destination the operator drives to regularly.
type FrequentPlace struct {
	Name  string `yaml:"name"`
	Point `yaml:",inline"`
	Day   string `yaml:"day"`
	Time  string `yaml:"time"`
}

// Weekday parses Day ("mon", "Tuesday", ...). ok is false when Day is empty
// or unrecognised.
func (f FrequentPlace) Weekday() (time.Weekday, bool) {
	d := strings.ToLower(strings.TrimSpace(f.Day))
	if len(d) < 3 {
		return 0, false
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.HasPrefix(strings.ToLower(wd.String()), d[:3]) {
			return wd, true
		}
	}
	return 0, false
}

// Places holds the fixed locations enrichment measures against.
type Places struct {
	Work     Point           `yaml:"work"`
	Center   Point           `yaml:"centerpoint"`
	Frequent []FrequentPlace `yaml:"frequent"`
}

// LoadPlaces reads and validates the YAML places file.
func LoadPlaces(path string) (*Places, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("places: read %q: %w", path, err)
	}

	p := &Places{}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("places: parse %q: %w", path, err)
	}

	for i, f := range p.Frequent {
		if f.Name == "" {
			return nil, fmt.Errorf("places: frequent[%d] has no name", i)
		}
		if f.Day != "" {
			if _, ok := f.Weekday(); !ok {
				return nil, fmt.Errorf("places: %s: unknown day %q", f.Name, f.Day)
			}
		}
		if f.Time != "" {
			if _, err := time.Parse("15:04", f.Time); err != nil {
				return nil, fmt.Errorf("places: %s: bad time %q", f.Name, f.Time)
			}
		}
	}
	return p, nil
}
