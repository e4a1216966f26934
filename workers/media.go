package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"listings_sync/metrics"
	"listings_sync/models"
)

const (
	maxMirrorAttempts = 3
	maxMediaBytes     = 50 * 1024 * 1024
)

// MirrorStore is the part of the listings store the media mirror uses.
type MirrorStore interface {
	GetPendingMirrorMedia(ctx context.Context, limit int) ([]models.MirrorItem, error)
	UpdateMediaMirror(ctx context.Context, mediaKey, listingKey string, status models.MirrorStatus, mirrorKey *string, contentHash string, attempts int) error
}

// Uploader writes objects to S3-compatible storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// MediaMirror copies feed photos into our own bucket, addressed by content
// hash so the same image shared by several listings is stored once.
type MediaMirror struct {
	store      MirrorStore
	uploader   Uploader
	httpClient *http.Client
	pause      time.Duration
	trigger    chan struct{}
}

func NewMediaMirror(store MirrorStore, uploader Uploader, httpClient *http.Client) *MediaMirror {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaMirror{
		store:      store,
		uploader:   uploader,
		httpClient: httpClient,
		pause:      200 * time.Millisecond,
		trigger:    make(chan struct{}, 1),
	}
}

type MirrorResult struct {
	Key         string
	ContentHash string
	Size        int
	Skipped     bool // object already in the bucket
}

// Mirror downloads one media item and uploads it unless already stored.
func (m *MediaMirror) Mirror(ctx context.Context, item *models.MirrorItem) (*MirrorResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.MediaURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	hash := sha256.Sum256(data)
	contentType := resp.Header.Get("Content-Type")
	result := &MirrorResult{ContentHash: hex.EncodeToString(hash[:]), Size: len(data)}
	result.Key = MirrorKey(result.ContentHash, guessExtension(item.MediaURL, contentType))

	exists, err := m.uploader.Exists(ctx, result.Key)
	if err != nil {
		return nil, err
	}
	if exists {
		result.Skipped = true
		return result, nil
	}

	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := m.uploader.Upload(ctx, result.Key, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return result, nil
}

// MirrorKey is media/{first two hex chars}/{hash}{ext}.
func MirrorKey(hash, ext string) string {
	return fmt.Sprintf("media/%s/%s%s", hash[:2], hash, ext)
}

func guessExtension(rawURL, contentType string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if ext := strings.ToLower(path.Ext(rawURL)); isImageExt(ext) {
		return ext
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}

// Run mirrors pending media every interval until ctx is done.
func (m *MediaMirror) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Media mirror stopping")
			return
		case <-ticker.C:
			m.RunOnce(ctx, batchSize)
		case <-m.trigger:
			m.RunOnce(ctx, batchSize)
		}
	}
}

// Trigger runs a batch as soon as the worker is idle.
func (m *MediaMirror) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// RunOnce processes one batch of pending media and reports the outcome.
func (m *MediaMirror) RunOnce(ctx context.Context, batchSize int) (uploaded, failed int) {
	items, err := m.store.GetPendingMirrorMedia(ctx, batchSize)
	if err != nil {
		log.Error().Err(err).Msg("Media mirror: query pending media")
		return 0, 0
	}
	if len(items) == 0 {
		return 0, 0
	}

	log.Info().Int("items", len(items)).Msg("Media mirror: processing batch")

	for i := range items {
		if ctx.Err() != nil {
			break
		}
		item := &items[i]

		result, err := m.Mirror(ctx, item)
		if err != nil {
			failed++
			metrics.MediaMirrored.WithLabelValues("error").Inc()
			attempts := item.Attempts + 1
			status := models.MirrorPending
			if attempts >= maxMirrorAttempts {
				status = models.MirrorFailed
			}
			log.Warn().Err(err).
				Str("media_key", item.MediaKey).
				Str("listing_key", item.ListingKey).
				Int("attempts", attempts).
				Msg("Media mirror failed")
			if err := m.store.UpdateMediaMirror(ctx, item.MediaKey, item.ListingKey, status, nil, "", attempts); err != nil {
				log.Error().Err(err).Str("media_key", item.MediaKey).Msg("Media mirror: record failure")
			}
			continue
		}

		if err := m.store.UpdateMediaMirror(ctx, item.MediaKey, item.ListingKey, models.MirrorUploaded, &result.Key, result.ContentHash, item.Attempts); err != nil {
			failed++
			log.Error().Err(err).Str("media_key", item.MediaKey).Msg("Media mirror: record upload")
			continue
		}

		uploaded++
		outcome := "uploaded"
		if result.Skipped {
			outcome = "deduplicated"
		}
		metrics.MediaMirrored.WithLabelValues(outcome).Inc()
		log.Debug().
			Str("media_key", item.MediaKey).
			Str("key", result.Key).
			Int("bytes", result.Size).
			Bool("deduplicated", result.Skipped).
			Msg("Media mirrored")

		if m.pause > 0 {
			select {
			case <-time.After(m.pause):
			case <-ctx.Done():
			}
		}
	}

	log.Info().Int("uploaded", uploaded).Int("failed", failed).Msg("Media mirror: batch done")
	return uploaded, failed
}
