package models

// RawRecord is one feed record as decoded from the wire.
type RawRecord map[string]any

// Record is a mapped record holding only whitelisted columns.
type Record map[string]any

type EntityType string

const (
	EntityProperty  EntityType = "property"
	EntityMedia     EntityType = "media"
	EntityRooms     EntityType = "rooms"
	EntityOpenHouse EntityType = "open_house"
)

// ChildEntities are fetched per property, in this order.
var ChildEntities = []EntityType{EntityMedia, EntityRooms, EntityOpenHouse}

// ParentKeyField is the column on a child record that points at its property.
func (e EntityType) ParentKeyField() string {
	switch e {
	case EntityMedia:
		return "ResourceRecordKey"
	case EntityRooms, EntityOpenHouse:
		return "ListingKey"
	}
	return ""
}

// KeyField is the column that uniquely identifies a record of this entity.
func (e EntityType) KeyField() string {
	switch e {
	case EntityProperty:
		return "ListingKey"
	case EntityMedia:
		return "MediaKey"
	case EntityRooms:
		return "RoomKey"
	case EntityOpenHouse:
		return "OpenHouseKey"
	}
	return ""
}

// String returns the value under key if it is a non-empty string.
func (r RawRecord) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}
