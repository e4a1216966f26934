package models

type MirrorStatus string

const (
	MirrorPending  MirrorStatus = "pending"
	MirrorUploaded MirrorStatus = "uploaded"
	MirrorFailed   MirrorStatus = "failed"
)

// MirrorItem is a media row waiting to be copied to object storage.
type MirrorItem struct {
	MediaKey   string       `json:"media_key" db:"media_key"`
	ListingKey string       `json:"listing_key" db:"listing_key"`
	MediaURL   string       `json:"media_url" db:"media_url"`
	Status     MirrorStatus `json:"mirror_status" db:"mirror_status"`
	Attempts   int          `json:"mirror_attempts" db:"mirror_attempts"`
}
