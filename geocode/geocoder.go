// Package geocode fills in coordinates for properties the feed delivered
// without them, using a Nominatim-compatible search API.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"listings_sync/config"
	"listings_sync/metrics"
	"listings_sync/models"
)

var ErrNoAddress = errors.New("record has no address to geocode")

// LocationStore persists resolved coordinates.
type LocationStore interface {
	UpdatePropertyLocation(ctx context.Context, listingKey string, lat, lng float64) error
}

type Geocoder struct {
	http      *http.Client
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	store     LocationStore
}

func New(cfg config.GeocodeConfig, httpClient *http.Client, store LocationStore) *Geocoder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Geocoder{
		http:      httpClient,
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		store:     store,
	}
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode resolves the record's address and stores the result. An address
// with no match is not an error.
func (g *Geocoder) Geocode(ctx context.Context, listingKey string, record models.Record) error {
	q := Query(record)
	if q == "" {
		return ErrNoAddress
	}

	lat, lng, found, err := g.Lookup(ctx, q)
	if err != nil {
		metrics.GeocodeResults.WithLabelValues("error").Inc()
		return fmt.Errorf("geocode %s: %w", listingKey, err)
	}
	if !found {
		metrics.GeocodeResults.WithLabelValues("not_found").Inc()
		log.Debug().Str("listing_key", listingKey).Str("query", q).Msg("No geocode match")
		return nil
	}

	if err := g.store.UpdatePropertyLocation(ctx, listingKey, lat, lng); err != nil {
		metrics.GeocodeResults.WithLabelValues("error").Inc()
		return fmt.Errorf("store location %s: %w", listingKey, err)
	}
	metrics.GeocodeResults.WithLabelValues("found").Inc()
	log.Debug().
		Str("listing_key", listingKey).
		Float64("lat", lat).
		Float64("lng", lng).
		Msg("Geocoded property")
	return nil
}

// Lookup returns the first match for a free-text address.
func (g *Geocoder) Lookup(ctx context.Context, q string) (lat, lng float64, found bool, err error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, 0, false, err
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+params.Encode(), http.NoBody)
	if err != nil {
		return 0, 0, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, 0, false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return 0, 0, false, fmt.Errorf("decode response: %w", err)
	}
	if len(places) == 0 {
		return 0, 0, false, nil
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(places[0].Lon, 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false, fmt.Errorf("invalid coordinates %q,%q", places[0].Lat, places[0].Lon)
	}
	return lat, lng, true, nil
}

// Query builds the search string from the address parts of a property.
func Query(record models.Record) string {
	addr := strings.TrimSpace(record.String("UnparsedAddress"))
	if addr == "" {
		return ""
	}
	parts := []string{addr}
	lower := strings.ToLower(addr)
	for _, field := range []string{"City", "StateOrProvince", "PostalCode", "Country"} {
		v := strings.TrimSpace(record.String(field))
		if v == "" || strings.Contains(lower, strings.ToLower(v)) {
			continue
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, ", ")
}
