package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"listings_sync/mapper"
	"listings_sync/models"
)

// ErrMissingKey is returned when a record has no value for its key column.
var ErrMissingKey = errors.New("record has no key")

const upsertChunk = 200

type columnKind int

const (
	textColumn columnKind = iota
	numericColumn
	timeColumn
	boolColumn
)

type column struct {
	name  string
	field string
	kind  columnKind
	set   string // replaces "name = EXCLUDED.name" when non-empty
}

// entityTable maps one entity onto its table: a few promoted columns for
// filtering and the full mapped record in data.
type entityTable struct {
	name    string
	columns []column // the first keys columns form the primary key
	keys    int
	extra   []string
	where   string
	query   string
}

func (t *entityTable) keyColumns() []column {
	if t.keys <= 0 {
		return t.columns[:1]
	}
	return t.columns[:t.keys]
}

func (t *entityTable) build() *entityTable {
	names := make([]string, 0, len(t.columns)+2)
	params := make([]string, 0, len(t.columns)+2)
	sets := make([]string, 0, len(t.columns)+len(t.extra)+2)
	keys := t.keyColumns()
	conflict := make([]string, 0, len(keys))
	for _, k := range keys {
		conflict = append(conflict, k.name)
	}
	for i, c := range t.columns {
		names = append(names, c.name)
		params = append(params, fmt.Sprintf("$%d", i+1))
		if i < len(keys) {
			continue
		}
		if c.set != "" {
			sets = append(sets, c.name+" = "+c.set)
		} else {
			sets = append(sets, c.name+" = EXCLUDED."+c.name)
		}
	}
	names = append(names, "data", "synced_at")
	params = append(params, fmt.Sprintf("$%d", len(t.columns)+1), "NOW()")
	sets = append(sets, "data = EXCLUDED.data", "synced_at = NOW()")
	sets = append(sets, t.extra...)

	t.query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		t.name, strings.Join(names, ", "), strings.Join(params, ", "), strings.Join(conflict, ", "), strings.Join(sets, ", "))
	if t.where != "" {
		t.query += " WHERE " + t.where
	}
	return t
}

var entityTables = map[models.EntityType]*entityTable{
	models.EntityProperty: (&entityTable{
		name: "properties",
		columns: []column{
			{name: "listing_key", field: "ListingKey"},
			{name: "listing_id", field: "ListingId"},
			{name: "standard_status", field: "StandardStatus"},
			{name: "mls_status", field: "MlsStatus"},
			{name: "transaction_type", field: "TransactionType"},
			{name: "property_type", field: "PropertyType"},
			{name: "property_sub_type", field: "PropertySubType"},
			{name: "unparsed_address", field: "UnparsedAddress"},
			{name: "city", field: "City"},
			{name: "state_or_province", field: "StateOrProvince"},
			{name: "postal_code", field: "PostalCode"},
			{name: "list_price", field: "ListPrice", kind: numericColumn},
			{name: "original_list_price", field: "OriginalListPrice", kind: numericColumn},
			{name: "close_price", field: "ClosePrice", kind: numericColumn},
			{name: "bedrooms_total", field: "BedroomsTotal", kind: numericColumn},
			{name: "bathrooms_total_integer", field: "BathroomsTotalInteger", kind: numericColumn},
			{name: "living_area", field: "LivingArea", kind: numericColumn},
			// Geocoded coordinates survive updates that carry none.
			{name: "latitude", field: "Latitude", kind: numericColumn, set: "COALESCE(EXCLUDED.latitude, properties.latitude)"},
			{name: "longitude", field: "Longitude", kind: numericColumn, set: "COALESCE(EXCLUDED.longitude, properties.longitude)"},
			{name: "listing_contract_date", field: "ListingContractDate", kind: timeColumn},
			{name: "close_date", field: "CloseDate", kind: timeColumn},
			{name: "modification_timestamp", field: "ModificationTimestamp", kind: timeColumn},
		},
		where: "properties.modification_timestamp IS NULL OR EXCLUDED.modification_timestamp IS NULL" +
			" OR EXCLUDED.modification_timestamp >= properties.modification_timestamp",
	}).build(),

	models.EntityMedia: (&entityTable{
		name: "media",
		keys: 2,
		columns: []column{
			{name: "media_key", field: "MediaKey"},
			{name: "listing_key", field: "ResourceRecordKey"},
			{name: "media_url", field: "MediaURL"},
			{name: "media_category", field: "MediaCategory"},
			{name: "preferred_photo", field: "PreferredPhotoYN", kind: boolColumn},
			{name: "sort_order", field: "Order", kind: numericColumn},
			{name: "modification_timestamp", field: "ModificationTimestamp", kind: timeColumn},
		},
		// A changed URL has to be mirrored again.
		extra: []string{
			"mirror_status = CASE WHEN media.media_url IS DISTINCT FROM EXCLUDED.media_url THEN 'pending' ELSE media.mirror_status END",
			"mirror_attempts = CASE WHEN media.media_url IS DISTINCT FROM EXCLUDED.media_url THEN 0 ELSE media.mirror_attempts END",
		},
	}).build(),

	models.EntityRooms: (&entityTable{
		name: "rooms",
		keys: 2,
		columns: []column{
			{name: "room_key", field: "RoomKey"},
			{name: "listing_key", field: "ListingKey"},
			{name: "room_type", field: "RoomType"},
			{name: "room_level", field: "RoomLevel"},
			{name: "sort_order", field: "Order", kind: numericColumn},
			{name: "modification_timestamp", field: "ModificationTimestamp", kind: timeColumn},
		},
	}).build(),

	models.EntityOpenHouse: (&entityTable{
		name: "open_houses",
		keys: 2,
		columns: []column{
			{name: "open_house_key", field: "OpenHouseKey"},
			{name: "listing_key", field: "ListingKey"},
			{name: "open_house_date", field: "OpenHouseDate", kind: timeColumn},
			{name: "open_house_start_time", field: "OpenHouseStartTime", kind: timeColumn},
			{name: "open_house_end_time", field: "OpenHouseEndTime", kind: timeColumn},
			{name: "open_house_status", field: "OpenHouseStatus"},
			{name: "modification_timestamp", field: "ModificationTimestamp", kind: timeColumn},
		},
	}).build(),
}

// Upsert writes records idempotently, keyed on the entity's natural key
// (children on their own key plus ListingKey), and returns the number of rows
// written. A property older than the stored row is left alone and not counted.
func (s *PostgresStore) Upsert(ctx context.Context, entity models.EntityType, records []models.Record) (int, error) {
	t, ok := entityTables[entity]
	if !ok {
		return 0, fmt.Errorf("no table for entity %q", entity)
	}

	total := 0
	for i := 0; i < len(records); i += upsertChunk {
		j := i + upsertChunk
		if j > len(records) {
			j = len(records)
		}

		b := &pgx.Batch{}
		for _, rec := range records[i:j] {
			args, err := t.args(rec)
			if err != nil {
				return total, err
			}
			b.Queue(t.query, args...)
		}

		br := s.pool.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("upsert %s: %w", t.name, err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, fmt.Errorf("upsert %s: %w", t.name, err)
		}
	}
	return total, nil
}

func (t *entityTable) args(rec models.Record) ([]any, error) {
	for _, key := range t.keyColumns() {
		if strings.TrimSpace(rec.String(key.field)) == "" {
			return nil, fmt.Errorf("%s: %w (%s)", t.name, ErrMissingKey, key.field)
		}
	}

	args := make([]any, 0, len(t.columns)+1)
	for _, c := range t.columns {
		args = append(args, columnValue(c.kind, rec[c.field]))
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", t.name, err)
	}
	return append(args, string(data)), nil
}

func columnValue(kind columnKind, v any) any {
	if v == nil {
		return nil
	}
	switch kind {
	case numericColumn:
		return mapper.Float(v)
	case timeColumn:
		return mapper.TimePtr(v)
	case boolColumn:
		switch b := v.(type) {
		case bool:
			return b
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "y", "yes", "1":
				return true
			case "false", "n", "no", "0":
				return false
			}
		}
		return nil
	default:
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
}

// UpdatePropertyLocation stores geocoded coordinates for a property.
func (s *PostgresStore) UpdatePropertyLocation(ctx context.Context, listingKey string, lat, lng float64) error {
	query := `
		UPDATE properties SET
			latitude = $2, longitude = $3, geocoded_at = NOW(),
			data = data || jsonb_build_object('Latitude', $2::float8, 'Longitude', $3::float8)
		WHERE listing_key = $1`

	_, err := s.pool.Exec(ctx, query, listingKey, lat, lng)
	return err
}
