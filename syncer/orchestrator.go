package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"listings_sync/mapper"
	"listings_sync/metrics"
	"listings_sync/models"
	"listings_sync/services"
)

// ErrStalled aborts a run whose cursor stopped advancing.
var ErrStalled = errors.New("sync cursor stalled")

// FeedClient pages through one upstream feed.
type FeedClient interface {
	TotalCount(ctx context.Context, syncType models.SyncType, cursor models.Cursor) (int, error)
	FetchBatch(ctx context.Context, syncType models.SyncType, cursor models.Cursor, batchSize int) ([]models.RawRecord, error)
	FetchChildren(ctx context.Context, syncType models.SyncType, parentKey string, entity models.EntityType) ([]models.RawRecord, error)
}

// Store persists mapped records and per-feed sync state.
type Store interface {
	Upsert(ctx context.Context, entity models.EntityType, records []models.Record) (int, error)
	GetSyncState(ctx context.Context, syncType models.SyncType) (*models.SyncState, error)
	UpdateSyncState(ctx context.Context, state *models.SyncState) error
	CompleteSyncState(ctx context.Context, syncType models.SyncType, processed int) error
	FailSyncState(ctx context.Context, syncType models.SyncType, message string) error
}

type HistoryDeriver interface {
	ProcessPropertyListingHistory(ctx context.Context, raw models.RawRecord) (*services.HistoryResult, error)
}

// Geocoder resolves and stores coordinates for a property.
type Geocoder interface {
	Geocode(ctx context.Context, listingKey string, record models.Record) error
}

type Config struct {
	BatchSize          int
	CheckpointInterval int
	StallThreshold     int
	StartTimestamp     string
	GeocodeEnabled     bool
}

func DefaultConfig() Config {
	return Config{
		BatchSize:          100,
		CheckpointInterval: 1000,
		StallThreshold:     3,
		StartTimestamp:     "2000-01-01T00:00:00Z",
	}
}

// StartCursor is where a reset or first-ever run begins.
func (c Config) StartCursor() models.Cursor {
	return models.Cursor{Timestamp: c.StartTimestamp, Key: "0"}
}

type RunOptions struct {
	SyncType   models.SyncType
	Limit      int // 0 means no limit
	Reset      bool
	Stop       <-chan struct{}
	OnProgress func(Progress)
}

// PropertyCounts is what processProperty wrote for one property.
type PropertyCounts struct {
	ListingKey string
	Children   map[models.EntityType]int
	Failed     []models.EntityType
}

type EntityCoverage struct {
	Properties int `json:"properties"` // properties with at least one record upserted
	Records    int `json:"records"`
	Failures   int `json:"failures"`
}

// Coverage summarizes how many processed properties obtained each child type.
type Coverage struct {
	Properties int                                   `json:"properties"`
	Entities   map[models.EntityType]*EntityCoverage `json:"entities"`
}

func newCoverage() Coverage {
	c := Coverage{Entities: make(map[models.EntityType]*EntityCoverage, len(models.ChildEntities))}
	for _, e := range models.ChildEntities {
		c.Entities[e] = &EntityCoverage{}
	}
	return c
}

func (c *Coverage) add(counts PropertyCounts) {
	c.Properties++
	for entity, n := range counts.Children {
		ec := c.Entities[entity]
		if ec == nil {
			continue
		}
		ec.Records += n
		if n > 0 {
			ec.Properties++
		}
	}
	for _, entity := range counts.Failed {
		if ec := c.Entities[entity]; ec != nil {
			ec.Failures++
		}
	}
}

// Ratio is the fraction of processed properties that obtained the entity.
func (c Coverage) Ratio(entity models.EntityType) float64 {
	ec := c.Entities[entity]
	if ec == nil || c.Properties == 0 {
		return 0
	}
	return float64(ec.Properties) / float64(c.Properties)
}

type Result struct {
	SyncType     models.SyncType `json:"sync_type"`
	Processed    int             `json:"processed"`
	Total        int             `json:"total"`
	Cursor       models.Cursor   `json:"cursor"`
	Coverage     Coverage        `json:"coverage"`
	Stopped      bool            `json:"stopped"`
	LimitReached bool            `json:"limit_reached"`
	Elapsed      time.Duration   `json:"elapsed"`
	Err          error           `json:"-"` // set by Runner when the feed aborted
}

func (r *Result) Failed() bool { return r.Err != nil }

// Orchestrator drives the fetch, map, upsert and derive loop for one feed at
// a time. Properties are processed strictly in feed order; the only
// concurrency is best-effort geocoding through the dispatcher.
type Orchestrator struct {
	feed       FeedClient
	store      Store
	history    HistoryDeriver
	geocoder   Geocoder
	dispatcher Dispatcher
	cfg        Config
	now        func() time.Time
}

func NewOrchestrator(feed FeedClient, store Store, history HistoryDeriver, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = def.CheckpointInterval
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = def.StallThreshold
	}
	if cfg.StartTimestamp == "" {
		cfg.StartTimestamp = def.StartTimestamp
	}
	return &Orchestrator{
		feed:       feed,
		store:      store,
		history:    history,
		dispatcher: InlineDispatcher{},
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetGeocoder enables best-effort geocoding of properties without
// coordinates. It has no effect unless Config.GeocodeEnabled is set.
func (o *Orchestrator) SetGeocoder(g Geocoder, d Dispatcher) {
	o.geocoder = g
	if d != nil {
		o.dispatcher = d
	}
}

// RunSync runs one incremental sync of a feed from its persisted cursor.
//
// The cursor is checkpointed every CheckpointInterval properties and once
// more when the loop ends normally. A failed run is not checkpointed, so a
// restart resumes from the last interval checkpoint and reprocesses the
// tail idempotently.
func (o *Orchestrator) RunSync(ctx context.Context, opts RunOptions) (*Result, error) {
	started := o.now()
	syncType := opts.SyncType
	logger := log.With().Str("sync_type", string(syncType)).Logger()

	result := &Result{SyncType: syncType, Total: -1, Coverage: newCoverage()}

	state, err := o.store.GetSyncState(ctx, syncType)
	if err != nil {
		return result, fmt.Errorf("get sync state: %w", err)
	}
	if state == nil {
		state = models.NewSyncState(syncType, o.cfg.StartCursor())
	}
	if opts.Reset || state.Cursor().IsZero() {
		state.SetCursor(o.cfg.StartCursor())
	}

	state.Status = models.SyncStatusRunning
	state.LastRunStarted = &started
	state.LastError = nil
	state.RecordsProcessed = 0
	if err := o.store.UpdateSyncState(ctx, state); err != nil {
		return result, o.fail(ctx, logger, result, started, fmt.Errorf("mark running: %w", err))
	}

	total, err := o.feed.TotalCount(ctx, syncType, state.Cursor())
	if err != nil {
		logger.Warn().Err(err).Msg("Could not fetch total count")
	} else {
		result.Total = total
	}

	logger.Info().
		Str("cursor_ts", state.LastTimestamp).
		Str("cursor_key", state.LastKey).
		Int("total", result.Total).
		Bool("reset", opts.Reset).
		Int("limit", opts.Limit).
		Msg("Starting sync")

	progress := newProgressTracker(syncType, result.Total, o.now, opts.OnProgress)

	if err := o.loop(ctx, logger, opts, state, result, progress); err != nil {
		result.Cursor = state.Cursor()
		return result, o.fail(ctx, logger, result, started, err)
	}

	result.Cursor = state.Cursor()
	if err := o.checkpoint(ctx, state, result.Processed); err != nil {
		return result, o.fail(ctx, logger, result, started, err)
	}
	if err := o.store.CompleteSyncState(ctx, syncType, result.Processed); err != nil {
		return result, o.fail(ctx, logger, result, started, fmt.Errorf("complete sync state: %w", err))
	}

	result.Elapsed = o.now().Sub(started)
	outcome := "completed"
	if result.Stopped {
		outcome = "stopped"
	}
	metrics.RunDuration.WithLabelValues(string(syncType), outcome).Observe(result.Elapsed.Seconds())

	logger.Info().
		Int("processed", result.Processed).
		Bool("stopped", result.Stopped).
		Bool("limit_reached", result.LimitReached).
		Str("cursor_ts", result.Cursor.Timestamp).
		Str("cursor_key", result.Cursor.Key).
		Dur("elapsed", result.Elapsed).
		Msg("Sync finished")

	return result, nil
}

func (o *Orchestrator) loop(ctx context.Context, logger zerolog.Logger, opts RunOptions, state *models.SyncState, result *Result, progress *progressTracker) error {
	syncType := opts.SyncType
	prevEnd := state.Cursor()
	stalls := 0

	for {
		if stopRequested(opts.Stop) {
			logger.Info().Int("processed", result.Processed).Msg("Stop requested, finishing sync")
			result.Stopped = true
			return nil
		}
		if limitReached(opts.Limit, result.Processed) {
			result.LimitReached = true
			return nil
		}

		size := o.cfg.BatchSize
		if opts.Limit > 0 && opts.Limit-result.Processed < size {
			size = opts.Limit - result.Processed
		}

		cursor := state.Cursor()
		batch, err := o.feed.FetchBatch(ctx, syncType, cursor, size)
		if err != nil {
			return fmt.Errorf("fetch batch after (%s, %s): %w", cursor.Timestamp, cursor.Key, err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, raw := range batch {
			if limitReached(opts.Limit, result.Processed) {
				result.LimitReached = true
				break
			}

			counts, err := o.processProperty(ctx, syncType, raw)
			if err != nil {
				return err
			}
			result.Processed++
			result.Coverage.add(counts)
			metrics.PropertiesProcessed.WithLabelValues(string(syncType)).Inc()

			if next, ok := RecordCursor(raw); ok {
				if CursorAfter(next, state.Cursor()) {
					state.SetCursor(next)
				} else if !next.Equal(state.Cursor()) {
					logger.Warn().
						Str("listing_key", next.Key).
						Str("record_ts", next.Timestamp).
						Str("cursor_ts", state.LastTimestamp).
						Msg("Record is behind the cursor, not moving it back")
				}
			}

			if result.Processed%o.cfg.CheckpointInterval == 0 {
				if err := o.checkpoint(ctx, state, result.Processed); err != nil {
					return err
				}
				logger.Info().
					Int("processed", result.Processed).
					Str("cursor_ts", state.LastTimestamp).
					Str("cursor_key", state.LastKey).
					Msg("Checkpoint")
			}
			progress.update(result.Processed, state.Cursor())
		}

		end := state.Cursor()
		if end.Equal(prevEnd) {
			stalls++
			logger.Warn().
				Int("stalls", stalls).
				Str("cursor_ts", end.Timestamp).
				Str("cursor_key", end.Key).
				Msg("Cursor did not advance")
			if stalls >= o.cfg.StallThreshold {
				metrics.StallAborts.WithLabelValues(string(syncType)).Inc()
				return fmt.Errorf("%w at (%s, %s) after %d batches", ErrStalled, end.Timestamp, end.Key, stalls)
			}
		} else {
			stalls = 0
		}
		prevEnd = end

		if result.LimitReached {
			return nil
		}
	}
}

// processProperty writes one property and its dependents. Only the property
// upsert can fail the run; everything after it is logged and skipped.
func (o *Orchestrator) processProperty(ctx context.Context, syncType models.SyncType, raw models.RawRecord) (PropertyCounts, error) {
	record := mapper.Property.Map(raw)
	key := record.String("ListingKey")
	counts := PropertyCounts{ListingKey: key, Children: make(map[models.EntityType]int, len(models.ChildEntities))}

	if _, err := o.store.Upsert(ctx, models.EntityProperty, []models.Record{record}); err != nil {
		return counts, fmt.Errorf("upsert property %q: %w", key, err)
	}

	if o.cfg.GeocodeEnabled && o.geocoder != nil && needsGeocode(record) {
		o.dispatcher.Dispatch("geocode:"+key, func(ctx context.Context) error {
			return o.geocoder.Geocode(ctx, key, record)
		})
	}

	if o.history != nil {
		if _, err := o.history.ProcessPropertyListingHistory(ctx, raw); err != nil {
			metrics.HistoryFailures.WithLabelValues(string(syncType)).Inc()
			log.Warn().Err(err).
				Str("sync_type", string(syncType)).
				Str("listing_key", key).
				Msg("Listing history derivation failed")
		}
	}

	for _, entity := range models.ChildEntities {
		n, err := o.syncChildren(ctx, syncType, key, entity)
		counts.Children[entity] = n
		if err != nil {
			counts.Failed = append(counts.Failed, entity)
			metrics.ChildFailures.WithLabelValues(string(syncType), string(entity)).Inc()
			log.Warn().Err(err).
				Str("sync_type", string(syncType)).
				Str("listing_key", key).
				Str("entity", string(entity)).
				Msg("Child sync failed")
			continue
		}
		metrics.ChildRecordsUpserted.WithLabelValues(string(syncType), string(entity)).Add(float64(n))
	}

	return counts, nil
}

func (o *Orchestrator) syncChildren(ctx context.Context, syncType models.SyncType, parentKey string, entity models.EntityType) (int, error) {
	raws, err := o.feed.FetchChildren(ctx, syncType, parentKey, entity)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", entity, err)
	}
	m := mapper.For(entity)
	parentField := entity.ParentKeyField()
	keyField := entity.KeyField()

	records := make([]models.Record, 0, len(raws))
	for _, raw := range raws {
		rec := m.Map(raw)
		if rec.String(keyField) == "" {
			continue
		}
		if rec.String(parentField) == "" {
			rec[parentField] = parentKey
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return 0, nil
	}

	n, err := o.store.Upsert(ctx, entity, records)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", entity, err)
	}
	return n, nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, state *models.SyncState, processed int) error {
	state.RecordsProcessed = processed
	if err := o.store.UpdateSyncState(ctx, state); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	metrics.Checkpoints.WithLabelValues(string(state.SyncType)).Inc()
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, logger zerolog.Logger, result *Result, started time.Time, cause error) error {
	result.Elapsed = o.now().Sub(started)
	metrics.RunDuration.WithLabelValues(string(result.SyncType), "failed").Observe(result.Elapsed.Seconds())

	logger.Error().Err(cause).Int("processed", result.Processed).Msg("Sync failed")

	// The run context may already be cancelled; recording the failure must
	// still reach the store.
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.FailSyncState(failCtx, result.SyncType, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("Could not record sync failure")
	}
	return cause
}

func needsGeocode(record models.Record) bool {
	if record.String("UnparsedAddress") == "" {
		return false
	}
	return mapper.Float(record["Latitude"]) == nil || mapper.Float(record["Longitude"]) == nil
}

func stopRequested(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func limitReached(limit, processed int) bool {
	return limit > 0 && processed >= limit
}
