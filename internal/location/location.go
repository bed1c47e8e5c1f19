// Package location resolves where the monitored vehicle is, once, at startup.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	geo "github.com/kellydunn/golang-geo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrLookupFailed is returned when a provider cannot produce a location
var ErrLookupFailed = errors.New("location lookup failed")

// Location is an optional coordinate plus an optional human readable place.
// The zero value is the unknown location.
type Location struct {
	Point *geo.Point
	Place string
}

// Unknown returns a location with every field unset
func Unknown() Location {
	return Location{}
}

// Known reports whether any field is set
func (l Location) Known() bool {
	return l.Point != nil || l.Place != ""
}

// Latitude returns nil when no coordinate was resolved
func (l Location) Latitude() *float64 {
	if l.Point == nil {
		return nil
	}
	v := l.Point.Lat()
	return &v
}

// Longitude returns nil when no coordinate was resolved
func (l Location) Longitude() *float64 {
	if l.Point == nil {
		return nil
	}
	v := l.Point.Lng()
	return &v
}

// PlaceName returns nil when no place was resolved
func (l Location) PlaceName() *string {
	if l.Place == "" {
		return nil
	}
	p := l.Place
	return &p
}

// FromNullable rebuilds a location from nullable stored columns.
func FromNullable(lat, lng *float64, place *string) Location {
	var loc Location
	if lat != nil && lng != nil {
		loc.Point = geo.NewPoint(*lat, *lng)
	}
	if place != nil {
		loc.Place = *place
	}
	return loc
}

// Provider resolves the current location
type Provider interface {
	Resolve(ctx context.Context) (Location, error)
}

// ResolveOnce asks the provider for a location and degrades to Unknown on any
// failure. The result is meant to be cached for the process lifetime.
func ResolveOnce(ctx context.Context, p Provider, logger *zap.SugaredLogger) Location {
	if p == nil {
		return Unknown()
	}

	loc, err := p.Resolve(ctx)
	if err != nil {
		logger.Warnw("location unavailable, events will carry null coordinates", "error", err)
		return Unknown()
	}

	logger.Infow("location resolved", "place", loc.Place, "lat", loc.Latitude(), "lng", loc.Longitude())
	return loc
}

// StaticProvider returns a fixed, configured location
type StaticProvider struct {
	Latitude  float64
	Longitude float64
	Place     string
}

// Resolve implements Provider
func (s StaticProvider) Resolve(ctx context.Context) (Location, error) {
	return Location{Point: geo.NewPoint(s.Latitude, s.Longitude), Place: s.Place}, nil
}

// DefaultIPAPIURL is the ip-api.com geolocation endpoint
const DefaultIPAPIURL = "http://ip-api.com/json/"

// IPAPIProvider geolocates the host's public IP through ip-api.com
type IPAPIProvider struct {
	url        string
	httpClient *http.Client
}

// NewIPAPIProvider creates a provider; an empty url uses DefaultIPAPIURL
func NewIPAPIProvider(url string, timeout time.Duration) *IPAPIProvider {
	if url == "" {
		url = DefaultIPAPIURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IPAPIProvider{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status     string   `json:"status"`
	Message    string   `json:"message"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	City       string   `json:"city"`
	RegionName string   `json:"regionName"`
	Country    string   `json:"country"`
}

// Resolve implements Provider
func (p *IPAPIProvider) Resolve(ctx context.Context) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Unknown(), fmt.Errorf("%w: create request: %v", ErrLookupFailed, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Unknown(), fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unknown(), fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Unknown(), fmt.Errorf("%w: read body: %v", ErrLookupFailed, err)
	}

	var data ipAPIResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return Unknown(), fmt.Errorf("%w: decode: %v", ErrLookupFailed, err)
	}

	if data.Status != "success" {
		return Unknown(), fmt.Errorf("%w: %s", ErrLookupFailed, data.Message)
	}

	// Coordinates and place are stored together; a place without a point is
	// reported as a failed lookup.
	if data.Lat == nil || data.Lon == nil {
		return Unknown(), fmt.Errorf("%w: response has no coordinates", ErrLookupFailed)
	}

	parts := lo.Map([]string{data.City, data.RegionName, data.Country}, func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return Location{
		Point: geo.NewPoint(*data.Lat, *data.Lon),
		Place: strings.Join(lo.Compact(parts), ", "),
	}, nil
}
