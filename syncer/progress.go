package syncer

import (
	"time"

	"listings_sync/models"
)

// Progress is a point-in-time view of a running sync. Total is -1 when the
// upstream count could not be fetched.
type Progress struct {
	SyncType  models.SyncType
	Processed int
	Total     int
	Cursor    models.Cursor
	Elapsed   time.Duration
	Rate      float64 // properties per second
	ETA       time.Duration
}

func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Processed) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// progressTracker owns the progress state of one run.
type progressTracker struct {
	syncType models.SyncType
	total    int
	started  time.Time
	now      func() time.Time
	onUpdate func(Progress)
}

func newProgressTracker(t models.SyncType, total int, now func() time.Time, fn func(Progress)) *progressTracker {
	return &progressTracker{syncType: t, total: total, started: now(), now: now, onUpdate: fn}
}

func (p *progressTracker) snapshot(processed int, cursor models.Cursor) Progress {
	elapsed := p.now().Sub(p.started)
	snap := Progress{
		SyncType:  p.syncType,
		Processed: processed,
		Total:     p.total,
		Cursor:    cursor,
		Elapsed:   elapsed,
	}
	if elapsed > 0 {
		snap.Rate = float64(processed) / elapsed.Seconds()
	}
	if snap.Rate > 0 && p.total > processed {
		remaining := float64(p.total - processed)
		snap.ETA = time.Duration(remaining / snap.Rate * float64(time.Second))
	}
	return snap
}

func (p *progressTracker) update(processed int, cursor models.Cursor) {
	if p.onUpdate == nil {
		return
	}
	p.onUpdate(p.snapshot(processed, cursor))
}
