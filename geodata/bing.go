package geodata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"listing-sync/config"
	"listing-sync/models"
	"listing-sync/utils"
)

// ErrBadResponse marks any unusable answer from an external data service.
var ErrBadResponse = errors.New("geodata: bad response")

const bingDateLayout = "01/02/2006 15:04:05"

// BingClient answers geocoding, transit, walking and driving questions from
// the Bing Maps REST API. Calls are rate limited to respect the key's quota.
type BingClient struct {
	baseURL string
	key     string
	http    *http.Client
	limiter *rate.Limiter
	logger  *utils.Logger

	// Bias is sent as userLocation to prefer nearby geocoding matches.
	Bias models.Coords
	// CommuteDay and CommuteClock fix the transit arrival time.
	CommuteDay   time.Weekday
	CommuteClock string
	// StationQuery and StationCount drive the nearby transit search.
	StationQuery string
	StationCount int

	now func() time.Time
}

// NewBingClient builds a client from the loaded configuration.
func NewBingClient(cfg *config.Config, logger *utils.Logger) *BingClient {
	burst := cfg.GeodataBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(cfg.GeodataRPS)
	if cfg.GeodataRPS <= 0 {
		limit = rate.Inf
	}
	return &BingClient{
		baseURL:      strings.TrimRight(cfg.BingBaseURL, "/"),
		key:          cfg.BingMapsKey,
		http:         &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger,
		CommuteDay:   time.Tuesday,
		CommuteClock: "06:30",
		StationQuery: "metro station",
		StationCount: 2,
		now:          time.Now,
	}
}

type bingResponse struct {
	StatusCode   int `json:"statusCode"`
	ResourceSets []struct {
		Resources []bingResource `json:"resources"`
	} `json:"resourceSets"`
}

type bingPoint struct {
	Coordinates []float64 `json:"coordinates"`
}

type bingResource struct {
	Name           string      `json:"name"`
	Website        string      `json:"Website"`
	Point          bingPoint   `json:"point"`
	GeocodePoints  []bingPoint `json:"geocodePoints"`
	TravelDistance float64     `json:"travelDistance"`
	TravelDuration float64     `json:"travelDuration"`
	RouteLegs      []struct {
		ItineraryItems []struct {
			IconType       string  `json:"iconType"`
			TravelDuration float64 `json:"travelDuration"`
		} `json:"itineraryItems"`
	} `json:"routeLegs"`
}

// Geocode converts a mailing address into coordinates. zip is optional.
func (c *BingClient) Geocode(ctx context.Context, address, zip string) (models.Coords, error) {
	q := url.Values{}
	q.Set("countryRegion", "US")
	q.Set("addressLine", address)
	q.Set("inclnb", "1")
	q.Set("maxResults", "1")
	if zip != "" {
		q.Set("postalCode", zip)
	}
	if c.Bias != (models.Coords{}) {
		q.Set("userLocation", coordParam(c.Bias))
	}

	res, err := c.fetch(ctx, "Locations", q)
	if err != nil {
		return models.Coords{}, err
	}
	// The last geocode point is the route point rather than the rooftop.
	pts := res[0].GeocodePoints
	if len(pts) == 0 {
		return models.Coords{}, fmt.Errorf("geocode %q: no geocode points: %w", address, ErrBadResponse)
	}
	return toCoords(pts[len(pts)-1].Coordinates)
}

// Commute returns the transit trip arriving at the next commute time.
func (c *BingClient) Commute(ctx context.Context, from, to models.Coords) (models.Commute, error) {
	arrive, err := NextCommuteTime(c.now(), c.CommuteDay, c.CommuteClock)
	if err != nil {
		return models.Commute{}, err
	}
	q := url.Values{}
	q.Set("wp.0", coordParam(from))
	q.Set("wp.1", coordParam(to))
	q.Set("timeType", "Arrival")
	q.Set("dateTime", arrive.Format(bingDateLayout))
	q.Set("distanceUnit", "mi")

	res, err := c.fetch(ctx, "Routes/Transit", q)
	if err != nil {
		return models.Commute{}, err
	}
	route := res[0]
	if route.TravelDuration <= 0 {
		return models.Commute{}, fmt.Errorf("transit route without duration: %w", ErrBadResponse)
	}

	commute := models.Commute{
		Minutes:             Round(route.TravelDuration/60, 0),
		FirstLegMode:        "Walk",
		FirstLegWalkMinutes: Round(route.TravelDuration/60, 1),
	}
	if len(route.RouteLegs) > 0 {
		items := route.RouteLegs[0].ItineraryItems
		for i, item := range items {
			if item.IconType != "Bus" && item.IconType != "Train" {
				continue
			}
			commute.FirstLegMode = item.IconType
			commute.FirstLegWalkMinutes = 0
			if i > 0 {
				commute.FirstLegWalkMinutes = Round(items[i-1].TravelDuration/60, 1)
			}
			break
		}
	}
	return commute, nil
}

// NearbyTransit finds the closest stations and the walk to each, nearest
// first.
func (c *BingClient) NearbyTransit(ctx context.Context, at models.Coords) ([]models.TransitStop, error) {
	q := url.Values{}
	q.Set("query", c.StationQuery)
	q.Set("userLocation", coordParam(at))
	q.Set("maxResults", strconv.Itoa(c.StationCount))

	res, err := c.fetch(ctx, "LocalSearch", q)
	if err != nil {
		return nil, err
	}

	stops := make([]models.TransitStop, 0, len(res))
	for _, r := range res {
		station, err := toCoords(r.Point.Coordinates)
		if err != nil {
			return nil, err
		}
		walk, err := c.walk(ctx, at, station)
		if err != nil {
			return nil, err
		}
		stops = append(stops, models.TransitStop{
			Name:          stationName(r),
			DistanceMiles: Round(walk.TravelDistance, 2),
			Duration:      FormatDuration(walk.TravelDuration),
		})
	}
	sort.SliceStable(stops, func(i, j int) bool {
		return stops[i].DistanceMiles < stops[j].DistanceMiles
	})
	return stops, nil
}

// Drive returns the road trip from one point to another. A zero when lets
// the service pick the departure time.
func (c *BingClient) Drive(ctx context.Context, from, to models.Coords, when time.Time) (models.Drive, error) {
	q := url.Values{}
	q.Set("wp.0", coordParam(from))
	q.Set("wp.1", coordParam(to))
	q.Set("distanceUnit", "mi")
	q.Set("optimize", "timeWithTraffic")
	if !when.IsZero() {
		q.Set("datetime", when.Format(bingDateLayout))
	}

	res, err := c.fetch(ctx, "Routes/Driving", q)
	if err != nil {
		return models.Drive{}, err
	}
	return models.Drive{
		DistanceMiles: Round(res[0].TravelDistance, 2),
		Duration:      FormatDuration(res[0].TravelDuration),
	}, nil
}

func (c *BingClient) walk(ctx context.Context, from, to models.Coords) (bingResource, error) {
	q := url.Values{}
	q.Set("wp.0", coordParam(from))
	q.Set("wp.1", coordParam(to))
	q.Set("optimize", "time")
	q.Set("distanceUnit", "mi")

	res, err := c.fetch(ctx, "Routes/Walking", q)
	if err != nil {
		return bingResource{}, err
	}
	return res[0], nil
}

// fetch performs one rate-limited GET and returns the first resource set.
// It never returns an empty slice without an error.
func (c *BingClient) fetch(ctx context.Context, path string, q url.Values) ([]bingResource, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q.Set("key", c.key)
	endpoint := c.baseURL + "/" + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, ErrBadResponse)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: status %d: %w", path, resp.StatusCode, ErrBadResponse)
	}

	var body bingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: decode: %v: %w", path, err, ErrBadResponse)
	}
	if len(body.ResourceSets) == 0 || len(body.ResourceSets[0].Resources) == 0 {
		return nil, fmt.Errorf("%s: empty result: %w", path, ErrBadResponse)
	}
	c.logger.Debug("[bing] %s -> %d resources", path, len(body.ResourceSets[0].Resources))
	return body.ResourceSets[0].Resources, nil
}

// stationName upper-cases the station name. Short or generic names are
// replaced by the last path element of the station's website.
func stationName(r bingResource) string {
	name := r.Name
	if (len(name) < 6 || name == "Metro Rail") && r.Website != "" {
		web := r.Website
		slash := strings.LastIndex(web, "/")
		page := web[slash+1:]
		if dot := strings.LastIndex(page, "."); dot > 0 {
			page = page[:dot]
		}
		if page != "" {
			name = page
		}
	}
	return strings.ToUpper(name)
}

func coordParam(c models.Coords) string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

func toCoords(pair []float64) (models.Coords, error) {
	if len(pair) != 2 {
		return models.Coords{}, fmt.Errorf("coordinates %v: %w", pair, ErrBadResponse)
	}
	return models.Coords{Lat: pair[0], Lon: pair[1]}, nil
}
