package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"listings_sync/models"
)

// =============================================================================
// Property Search
// =============================================================================

func searchFilter(p models.PropertySearchParams) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if p.City != "" {
		add("lower(city) = lower($%d)", p.City)
	}
	if p.Status != "" {
		add("standard_status = $%d", p.Status)
	}
	if p.PropertyType != "" {
		add("property_type = $%d", p.PropertyType)
	}
	if p.MinPrice != nil {
		add("list_price >= $%d", *p.MinPrice)
	}
	if p.MaxPrice != nil {
		add("list_price <= $%d", *p.MaxPrice)
	}
	if p.MinBeds != nil {
		add("bedrooms_total >= $%d", *p.MinBeds)
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *PostgresStore) SearchProperties(ctx context.Context, p models.PropertySearchParams) (*models.PropertySearchResult, error) {
	filter, args := searchFilter(p)
	result := &models.PropertySearchResult{Limit: p.Limit, Offset: p.Offset, Properties: []models.PropertySummary{}}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM property_search_view`+filter, args...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("count properties: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT listing_key, unparsed_address, city, standard_status, property_type, list_price,
			bedrooms_total, bathrooms_total_integer, latitude, longitude, modification_timestamp,
			primary_photo_url
		FROM property_search_view%s
		ORDER BY modification_timestamp DESC NULLS LAST, listing_key
		LIMIT $%d OFFSET $%d`, filter, len(args)+1, len(args)+2)

	rows, err := s.pool.Query(ctx, query, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("search properties: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ps models.PropertySummary
		if err := rows.Scan(
			&ps.ListingKey, &ps.UnparsedAddress, &ps.City, &ps.StandardStatus, &ps.PropertyType, &ps.ListPrice,
			&ps.BedroomsTotal, &ps.BathroomsTotal, &ps.Latitude, &ps.Longitude, &ps.ModificationTimestamp,
			&ps.PrimaryPhotoURL,
		); err != nil {
			return nil, err
		}
		result.Properties = append(result.Properties, ps)
	}
	return result, rows.Err()
}

// =============================================================================
// Property Detail
// =============================================================================

// GetPropertyDetail returns nil when the property is unknown.
func (s *PostgresStore) GetPropertyDetail(ctx context.Context, listingKey string) (*models.PropertyDetail, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM properties WHERE listing_key = $1`, listingKey).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get property %s: %w", listingKey, err)
	}

	detail := &models.PropertyDetail{}
	if err := json.Unmarshal(data, &detail.Property); err != nil {
		return nil, fmt.Errorf("decode property %s: %w", listingKey, err)
	}

	children := []struct {
		query string
		dst   *[]models.Record
	}{
		{`SELECT data FROM media WHERE listing_key = $1 ORDER BY sort_order NULLS LAST, media_key`, &detail.Media},
		{`SELECT data FROM rooms WHERE listing_key = $1 ORDER BY sort_order NULLS LAST, room_key`, &detail.Rooms},
		{`SELECT data FROM open_houses WHERE listing_key = $1 ORDER BY open_house_start_time NULLS LAST, open_house_key`, &detail.OpenHouses},
	}
	for _, c := range children {
		recs, err := s.queryRecords(ctx, c.query, listingKey)
		if err != nil {
			return nil, err
		}
		*c.dst = recs
	}
	return detail, nil
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []models.Record{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// Property History
// =============================================================================

// GetPropertyHistory returns every period at the listing's address with the
// price events recorded for them. Nil means the listing has no period.
func (s *PostgresStore) GetPropertyHistory(ctx context.Context, listingKey string) (*models.PropertyHistory, error) {
	period, err := s.GetListingPeriod(ctx, listingKey)
	if err != nil {
		return nil, fmt.Errorf("get period %s: %w", listingKey, err)
	}
	if period == nil {
		return nil, nil
	}

	h := &models.PropertyHistory{ListingKey: listingKey, AddressKey: period.AddressKey}
	if period.AddressKey == "" {
		h.Periods = []models.ListingPeriod{*period}
	} else if h.Periods, err = s.ListPeriodsForAddress(ctx, period.AddressKey); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}

	if h.PriceChanges, err = s.ListPriceChanges(ctx, period.AddressKey, listingKey); err != nil {
		return nil, fmt.Errorf("list price changes: %w", err)
	}
	if h.PriceChanges == nil {
		h.PriceChanges = []models.PriceChange{}
	}
	return h, nil
}

// =============================================================================
// Media Mirror
// =============================================================================

func (s *PostgresStore) GetPendingMirrorMedia(ctx context.Context, limit int) ([]models.MirrorItem, error) {
	query := `
		SELECT media_key, listing_key, media_url, mirror_status, mirror_attempts
		FROM media
		WHERE mirror_status = 'pending' AND mirror_attempts < 3 AND media_url IS NOT NULL AND media_url <> ''
		ORDER BY synced_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.MirrorItem
	for rows.Next() {
		var m models.MirrorItem
		if err := rows.Scan(&m.MediaKey, &m.ListingKey, &m.MediaURL, &m.Status, &m.Attempts); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateMediaMirror(ctx context.Context, mediaKey, listingKey string, status models.MirrorStatus, mirrorKey *string, contentHash string, attempts int) error {
	query := `
		UPDATE media SET
			mirror_status = $2, mirror_key = COALESCE($3, mirror_key),
			content_hash = COALESCE(NULLIF($4, ''), content_hash), mirror_attempts = $5
		WHERE media_key = $1 AND listing_key = $6`

	_, err := s.pool.Exec(ctx, query, mediaKey, status, mirrorKey, contentHash, attempts, listingKey)
	return err
}
