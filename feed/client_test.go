package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listings_sync/config"
	"listings_sync/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, maxRetries int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	feeds := map[models.SyncType]*config.FeedSource{
		models.SyncTypeIDX: {
			ID:      models.SyncTypeIDX,
			BaseURL: srv.URL + "/odata/",
			Token:   "tok",
			Filter:  "StandardStatus eq 'Active'",
		},
	}
	c := NewClient(feeds, Options{
		RequestsPerMinute: 600000,
		MaxRetries:        maxRetries,
		RetryBaseDelay:    time.Millisecond,
		HTTPClient:        srv.Client(),
	})
	return c, srv
}

func TestFetchBatchQuery(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/odata/Property", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t,
			"(StandardStatus eq 'Active') and (ModificationTimestamp gt 2024-01-01T00:00:00Z or (ModificationTimestamp eq 2024-01-01T00:00:00Z and ListingKey gt 'O''Neil'))",
			q.Get("$filter"))
		assert.Equal(t, "ModificationTimestamp,ListingKey", q.Get("$orderby"))
		assert.Equal(t, "50", q.Get("$top"))
		assert.NotContains(t, r.URL.RawQuery, "+")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"ListingKey":"A1","ListPrice":100.5},{"ListingKey":"A2"}]}`))
	}, 0)

	recs, err := c.FetchBatch(context.Background(), models.SyncTypeIDX,
		models.Cursor{Timestamp: "2024-01-01T00:00:00Z", Key: "O'Neil"}, 50)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "A1", recs[0]["ListingKey"])
	assert.Equal(t, 100.5, recs[0]["ListPrice"])
}

func TestTotalCount(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("$count"))
		assert.Equal(t, "0", r.URL.Query().Get("$top"))
		_, _ = w.Write([]byte(`{"@odata.count":4821,"value":[]}`))
	}, 0)

	n, err := c.TotalCount(context.Background(), models.SyncTypeIDX, models.Cursor{Timestamp: "2000-01-01T00:00:00Z", Key: "0"})
	require.NoError(t, err)
	assert.Equal(t, 4821, n)
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"value":[{"ListingKey":"A1"}]}`))
		}
	}, 3)

	recs, err := c.FetchBatch(context.Background(), models.SyncTypeIDX, models.Cursor{Timestamp: "2024-01-01T00:00:00Z", Key: "0"}, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 2)

	_, err := c.FetchBatch(context.Background(), models.SyncTypeIDX, models.Cursor{Timestamp: "2024-01-01T00:00:00Z", Key: "0"}, 10)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}, 5)

	_, err := c.FetchBatch(context.Background(), models.SyncTypeIDX, models.Cursor{Timestamp: "2024-01-01T00:00:00Z", Key: "0"}, 10)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.False(t, se.Retryable())
	assert.Contains(t, se.Body, "bad token")
	assert.Equal(t, int32(1), calls.Load())
}

func TestBreakerOpensPerResource(t *testing.T) {
	var mediaCalls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/odata/Media" {
			mediaCalls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"value":[]}`))
	}, 0)
	ctx := context.Background()

	for i := 0; i < breakerTripFailures; i++ {
		_, err := c.FetchChildren(ctx, models.SyncTypeIDX, "A1", models.EntityMedia)
		require.Error(t, err)
	}
	_, err := c.FetchChildren(ctx, models.SyncTypeIDX, "A1", models.EntityMedia)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(breakerTripFailures), mediaCalls.Load())

	// Rooms has its own circuit.
	_, err = c.FetchChildren(ctx, models.SyncTypeIDX, "A1", models.EntityRooms)
	assert.NoError(t, err)
}

func TestFetchChildrenPages(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/odata/PropertyRooms", r.URL.Path)
		assert.Equal(t, "ListingKey eq 'A1'", r.URL.Query().Get("$filter"))
		assert.Equal(t, "RoomKey", r.URL.Query().Get("$orderby"))
		if r.URL.Query().Get("$skip") == "0" {
			w.Write(roomsPage(childPageSize))
			return
		}
		w.Write(roomsPage(3))
	}, 0)

	recs, err := c.FetchChildren(context.Background(), models.SyncTypeIDX, "A1", models.EntityRooms)
	require.NoError(t, err)
	assert.Len(t, recs, childPageSize+3)
}

func TestFetchChildrenOrderedByChildKey(t *testing.T) {
	want := map[models.EntityType]string{
		models.EntityMedia:     "MediaKey",
		models.EntityRooms:     "RoomKey",
		models.EntityOpenHouse: "OpenHouseKey",
	}
	for entity, key := range want {
		t.Run(string(entity), func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, key, r.URL.Query().Get("$orderby"))
				w.Write([]byte(`{"value":[]}`))
			}, 0)
			_, err := c.FetchChildren(context.Background(), models.SyncTypeIDX, "A1", entity)
			require.NoError(t, err)
		})
	}
}

func TestUnknownFeed(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}, 0)
	_, err := c.FetchBatch(context.Background(), models.SyncTypeVOW, models.Cursor{}, 10)
	assert.ErrorContains(t, err, "not configured")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}

func roomsPage(n int) []byte {
	buf := []byte(`{"value":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, `{"RoomKey":"R"}`...)
	}
	return append(buf, "]}"...)
}
