package services

import (
	"context"
	"sort"
	"time"

	"listing-sync/config"
	"listing-sync/geodata"
	"listing-sync/models"
	"listing-sync/utils"
)

// Geocoder turns an address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address, zip string) (models.Coords, error)
}

// CommuteRouter plans the transit trip to work.
type CommuteRouter interface {
	Commute(ctx context.Context, from, to models.Coords) (models.Commute, error)
}

// TransitFinder lists nearby stations, nearest first.
type TransitFinder interface {
	NearbyTransit(ctx context.Context, at models.Coords) ([]models.TransitStop, error)
}

// DrivingRouter plans a road trip. A zero when means "any time".
type DrivingRouter interface {
	Drive(ctx context.Context, from, to models.Coords, when time.Time) (models.Drive, error)
}

// Enricher fills in the derived attributes of a listing. Attributes already
// computed are left alone unless forced. Collaborators may be nil, in which
// case their attributes are not computed.
type Enricher struct {
	places  *config.Places
	geo     Geocoder
	commute CommuteRouter
	transit TransitFinder
	driving DrivingRouter
	logger  *utils.Logger
	now     func() time.Time
}

func NewEnricher(places *config.Places, geo Geocoder, commute CommuteRouter, transit TransitFinder, driving DrivingRouter, logger *utils.Logger) *Enricher {
	if places == nil {
		places = &config.Places{}
	}
	return &Enricher{
		places:  places,
		geo:     geo,
		commute: commute,
		transit: transit,
		driving: driving,
		logger:  logger,
		now:     time.Now,
	}
}

// Enrich mutates l and returns it. Geocoordinates come first; when they are
// unavailable every location-based attribute is skipped. Quick stats are
// always recomputed from whatever is present.
func (e *Enricher) Enrich(ctx context.Context, l *models.Listing, force bool) *models.Listing {
	en := &l.Enrichment
	defer e.refreshQuickStats(en)

	if needs(en.Geocoords.State, force) {
		en.Geocoords = e.geocode(ctx, l)
	}
	home, ok := en.Geocoords.Get()
	if !ok {
		e.logger.Warn("[enrich] %s: no geocoordinates, skipping travel attributes", l.ID)
		return l
	}

	if e.commute != nil && e.places.Work.Set() && needs(en.WorkCommute.State, force) {
		c, err := e.commute.Commute(ctx, home, e.places.Work.Coords())
		en.WorkCommute = derive(e, l.ID, "work commute", c, err)
	}

	if e.transit != nil && needs(en.NearbyTransit.State, force) {
		stops, err := e.transit.NearbyTransit(ctx, home)
		if err == nil {
			sort.SliceStable(stops, func(i, j int) bool {
				return stops[i].DistanceMiles < stops[j].DistanceMiles
			})
		}
		en.NearbyTransit = derive(e, l.ID, "nearby transit", stops, err)
	}

	if e.places.Center.Set() && needs(en.TetherMiles.State, force) {
		en.TetherMiles = models.Known(geodata.Round(geodata.Haversine(home, e.places.Center.Coords()), 2))
	}

	if e.driving != nil {
		for _, place := range e.places.Frequent {
			prev, seen := en.Driving[place.Name]
			if seen && !needs(prev.State, force) {
				continue
			}
			when := e.departure(place)
			d, err := e.driving.Drive(ctx, home, place.Point.Coords(), when)
			if en.Driving == nil {
				en.Driving = make(map[string]models.Derived[models.Drive])
			}
			en.Driving[place.Name] = derive(e, l.ID, "drive to "+place.Name, d, err)
		}
	}
	return l
}

func (e *Enricher) geocode(ctx context.Context, l *models.Listing) models.Derived[models.Coords] {
	if e.geo == nil {
		return models.Derived[models.Coords]{}
	}
	if l.FullAddress == "" {
		e.logger.Warn("[enrich] %s: no address to geocode", l.ID)
		return models.Missing[models.Coords]()
	}
	c, err := e.geo.Geocode(ctx, l.FullAddress, l.ParsedAddress[LabelZipCode])
	return derive(e, l.ID, "geocode", c, err)
}

// departure is the next configured day and time for a place, or zero.
func (e *Enricher) departure(p config.FrequentPlace) time.Time {
	day, ok := p.Weekday()
	if !ok || p.Time == "" {
		return time.Time{}
	}
	t, err := geodata.NextCommuteTime(e.now(), day, p.Time)
	if err != nil {
		e.logger.Warn("[enrich] place %s: %v", p.Name, err)
		return time.Time{}
	}
	return t
}

func (e *Enricher) refreshQuickStats(en *models.Enrichment) {
	qs := models.QuickStats{}

	if c, ok := en.WorkCommute.Get(); ok {
		m := geodata.Round(c.Minutes, 1)
		qs.CommuteMinutes = &m
	}
	if stops, ok := en.NearbyTransit.Get(); ok && len(stops) > 0 {
		if m, ok := geodata.DurationMinutes(stops[0].Duration); ok {
			m = geodata.Round(m, 1)
			qs.MetroMinutes = &m
		}
	}
	for name, d := range en.Driving {
		drive, ok := d.Get()
		if !ok {
			continue
		}
		if m, ok := geodata.DurationMinutes(drive.Duration); ok {
			if qs.DriveMinutes == nil {
				qs.DriveMinutes = make(map[string]float64)
			}
			qs.DriveMinutes[name] = geodata.Round(m, 1)
		}
	}
	en.QuickStats = qs
}

// needs reports whether an attribute in state s should be (re)computed.
// Unavailable attributes are retried on the next pass.
func needs(s models.DerivedState, force bool) bool {
	return force || s != models.Computed
}

func derive[T any](e *Enricher, id, what string, v T, err error) models.Derived[T] {
	if err != nil {
		e.logger.Warn("[enrich] %s: %s unavailable: %v", id, what, err)
		return models.Missing[T]()
	}
	return models.Known(v)
}
