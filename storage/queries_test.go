package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"listings_sync/models"
)

func TestSearchFilter(t *testing.T) {
	lo, hi, beds := 300000.0, 900000.0, 3

	where, args := searchFilter(models.PropertySearchParams{
		City:     "Toronto",
		Status:   "Active",
		MinPrice: &lo,
		MaxPrice: &hi,
		MinBeds:  &beds,
	})

	assert.Equal(t,
		" WHERE lower(city) = lower($1) AND standard_status = $2 AND list_price >= $3 AND list_price <= $4 AND bedrooms_total >= $5",
		where)
	assert.Equal(t, []any{"Toronto", "Active", lo, hi, beds}, args)
}

func TestSearchFilterEmpty(t *testing.T) {
	where, args := searchFilter(models.PropertySearchParams{Limit: 20})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestEntityUpsertQueries(t *testing.T) {
	props := entityTables[models.EntityProperty]
	assert.True(t, strings.HasPrefix(props.query, "INSERT INTO properties (listing_key, "))
	assert.Contains(t, props.query, "ON CONFLICT (listing_key) DO UPDATE SET")
	assert.Contains(t, props.query, "latitude = COALESCE(EXCLUDED.latitude, properties.latitude)")
	assert.Contains(t, props.query, "WHERE properties.modification_timestamp IS NULL")
	assert.NotContains(t, props.query, "listing_key = EXCLUDED.listing_key")

	media := entityTables[models.EntityMedia]
	assert.Contains(t, media.query, "mirror_status = CASE")

	conflicts := map[models.EntityType]string{
		models.EntityMedia:     "ON CONFLICT (media_key, listing_key) DO UPDATE SET",
		models.EntityRooms:     "ON CONFLICT (room_key, listing_key) DO UPDATE SET",
		models.EntityOpenHouse: "ON CONFLICT (open_house_key, listing_key) DO UPDATE SET",
	}
	for entity, target := range conflicts {
		q := entityTables[entity].query
		assert.Contains(t, q, target, entity)
		// A child seen under a second listing gets its own row.
		assert.NotContains(t, q, "listing_key = EXCLUDED.listing_key", entity)
	}

	for _, e := range models.ChildEntities {
		assert.Contains(t, entityTables, e)
	}
}

func TestEntityArgs(t *testing.T) {
	props := entityTables[models.EntityProperty]

	_, err := props.args(models.Record{"City": "Ottawa"})
	assert.ErrorIs(t, err, ErrMissingKey)

	args, err := props.args(models.Record{
		"ListingKey":            "X1",
		"ListPrice":             499000.0,
		"ModificationTimestamp": "2024-05-01T12:00:00Z",
		"Latitude":              nil,
	})
	assert.NoError(t, err)
	assert.Len(t, args, len(props.columns)+1)
	assert.Equal(t, "X1", args[0])
	assert.Contains(t, args[len(args)-1], `"ListingKey":"X1"`)
}

func TestChildArgsRequireBothKeys(t *testing.T) {
	rooms := entityTables[models.EntityRooms]

	_, err := rooms.args(models.Record{"RoomKey": "R1"})
	assert.ErrorIs(t, err, ErrMissingKey)
	_, err = rooms.args(models.Record{"ListingKey": "X1"})
	assert.ErrorIs(t, err, ErrMissingKey)

	args, err := rooms.args(models.Record{"RoomKey": "R1", "ListingKey": "X1", "RoomType": "Kitchen"})
	assert.NoError(t, err)
	assert.Equal(t, []any{"R1", "X1", "Kitchen"}, args[:3])

	media := entityTables[models.EntityMedia]
	_, err = media.args(models.Record{"MediaKey": "M1"})
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestColumnValue(t *testing.T) {
	assert.Nil(t, columnValue(textColumn, nil))
	assert.Equal(t, "42", columnValue(textColumn, 42))
	assert.Equal(t, true, columnValue(boolColumn, "Y"))
	assert.Equal(t, false, columnValue(boolColumn, false))
	assert.Nil(t, columnValue(boolColumn, "maybe"))

	f, ok := columnValue(numericColumn, "12.5").(*float64)
	assert.True(t, ok)
	assert.Equal(t, 12.5, *f)
}
