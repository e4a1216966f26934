package syncer

import (
	"listings_sync/mapper"
	"listings_sync/models"
)

// RecordCursor is the position of a raw property in feed order.
func RecordCursor(raw models.RawRecord) (models.Cursor, bool) {
	ts := mapper.String(raw["ModificationTimestamp"])
	key := mapper.String(raw["ListingKey"])
	if ts == "" || key == "" {
		return models.Cursor{}, false
	}
	return models.Cursor{Timestamp: ts, Key: key}, true
}

// CursorAfter reports whether a is strictly after b in
// (ModificationTimestamp, ListingKey) order. Timestamps are compared as
// instants when both parse, so differing precision does not reorder them.
func CursorAfter(a, b models.Cursor) bool {
	ta, okA := mapper.Time(a.Timestamp)
	tb, okB := mapper.Time(b.Timestamp)
	if okA && okB {
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.Key > b.Key
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.Key > b.Key
}
