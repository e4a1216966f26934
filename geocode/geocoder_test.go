package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listings_sync/config"
	"listings_sync/models"
)

type location struct {
	key      string
	lat, lng float64
}

type memLocations struct {
	saved []location
}

func (m *memLocations) UpdatePropertyLocation(_ context.Context, key string, lat, lng float64) error {
	m.saved = append(m.saved, location{key, lat, lng})
	return nil
}

func newTestGeocoder(t *testing.T, body string, status int) (*Geocoder, *memLocations) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "listings-sync-test", r.Header.Get("User-Agent"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	store := &memLocations{}
	g := New(config.GeocodeConfig{URL: srv.URL + "/", UserAgent: "listings-sync-test", RequestsPerSecond: 1000}, srv.Client(), store)
	return g, store
}

func TestGeocodeStoresMatch(t *testing.T) {
	g, store := newTestGeocoder(t, `[{"lat":"43.6532","lon":"-79.3832","display_name":"Toronto"}]`, http.StatusOK)

	err := g.Geocode(context.Background(), "X1", models.Record{"UnparsedAddress": "100 Queen St W", "City": "Toronto"})
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, location{"X1", 43.6532, -79.3832}, store.saved[0])
}

func TestGeocodeNoMatch(t *testing.T) {
	g, store := newTestGeocoder(t, `[]`, http.StatusOK)

	err := g.Geocode(context.Background(), "X1", models.Record{"UnparsedAddress": "nowhere"})
	assert.NoError(t, err)
	assert.Empty(t, store.saved)
}

func TestGeocodeUpstreamError(t *testing.T) {
	g, store := newTestGeocoder(t, `slow down`, http.StatusTooManyRequests)

	err := g.Geocode(context.Background(), "X1", models.Record{"UnparsedAddress": "1 Main St"})
	assert.ErrorContains(t, err, "HTTP 429")
	assert.Empty(t, store.saved)
}

func TestGeocodeRejectsBadCoordinates(t *testing.T) {
	g, store := newTestGeocoder(t, `[{"lat":"191","lon":"0"}]`, http.StatusOK)

	err := g.Geocode(context.Background(), "X1", models.Record{"UnparsedAddress": "1 Main St"})
	assert.Error(t, err)
	assert.Empty(t, store.saved)
}

func TestGeocodeWithoutAddress(t *testing.T) {
	g := New(config.GeocodeConfig{URL: "http://unused"}, nil, &memLocations{})
	assert.ErrorIs(t, g.Geocode(context.Background(), "X1", models.Record{"City": "Toronto"}), ErrNoAddress)
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "100 Queen St W, Toronto, ON, M5H 2N2",
		Query(models.Record{"UnparsedAddress": "100 Queen St W", "City": "Toronto", "StateOrProvince": "ON", "PostalCode": "M5H 2N2"}))
	assert.Equal(t, "5 King St, Ottawa ON",
		Query(models.Record{"UnparsedAddress": "5 King St, Ottawa ON", "City": "Ottawa", "StateOrProvince": "ON"}))
	assert.Empty(t, Query(models.Record{"City": "Toronto"}))
}
