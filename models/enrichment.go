package models

// Coords is a WGS84 position.
type Coords struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Commute is the transit trip to work.
type Commute struct {
	Minutes             float64 `json:"minutes"`
	FirstLegMode        string  `json:"first_leg_mode"`
	FirstLegWalkMinutes float64 `json:"first_leg_walk_minutes"`
}

// TransitStop is a nearby station with the walk to reach it.
type TransitStop struct {
	Name          string  `json:"name"`
	DistanceMiles float64 `json:"distance_miles"`
	// Duration is the walking time as H:MM:SS.
	Duration string `json:"duration"`
}

// Drive is the road trip to a frequently visited place.
type Drive struct {
	DistanceMiles float64 `json:"distance_miles"`
	// Duration is the driving time as H:MM:SS.
	Duration string `json:"duration"`
}

// QuickStats are pure functions of other enrichment fields, kept flat for
// the review surface.
type QuickStats struct {
	CommuteMinutes *float64           `json:"commute_minutes,omitempty"`
	MetroMinutes   *float64           `json:"metro_minutes,omitempty"`
	DriveMinutes   map[string]float64 `json:"drive_minutes,omitempty"`
}

// Enrichment groups every attribute added from external data sources.
type Enrichment struct {
	Geocoords     Derived[Coords]           `json:"geocoords"`
	WorkCommute   Derived[Commute]          `json:"work_commute"`
	NearbyTransit Derived[[]TransitStop]    `json:"nearby_transit"`
	TetherMiles   Derived[float64]          `json:"tether_miles"`
	Driving       map[string]Derived[Drive] `json:"frequent_driving,omitempty"`
	QuickStats    QuickStats                `json:"quickstats"`
}

// IsZero reports whether nothing has been derived yet.
func (e Enrichment) IsZero() bool {
	return e.Geocoords.State == NotComputed &&
		e.WorkCommute.State == NotComputed &&
		e.NearbyTransit.State == NotComputed &&
		e.TetherMiles.State == NotComputed &&
		len(e.Driving) == 0
}
