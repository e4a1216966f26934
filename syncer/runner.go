package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"listings_sync/lock"
	"listings_sync/models"
)

// RunRecorder keeps the operational history of runs.
type RunRecorder interface {
	CreateRun(run *models.SyncRun) (int64, error)
	UpdateRun(run *models.SyncRun) error
	Log(runID *int64, level models.LogLevel, message string, syncType models.SyncType) error
}

// Runner is the entry point every caller goes through: it takes the per-feed
// lock, records the run and then hands off to the orchestrator.
type Runner struct {
	orch     *Orchestrator
	locker   lock.Locker
	recorder RunRecorder
	lockTTL  time.Duration
	paused   atomic.Bool
}

func NewRunner(orch *Orchestrator, locker lock.Locker, recorder RunRecorder, lockTTL time.Duration) *Runner {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Runner{orch: orch, locker: locker, recorder: recorder, lockTTL: lockTTL}
}

func (r *Runner) Pause()         { r.paused.Store(true) }
func (r *Runner) Resume()        { r.paused.Store(false) }
func (r *Runner) IsPaused() bool { return r.paused.Load() }

// Run executes one sync while holding the feed's lock. It returns
// lock.ErrLocked without touching sync state when another run holds it.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	release, err := r.locker.Acquire(ctx, "sync:"+string(opts.SyncType), r.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("sync %s: %w", opts.SyncType, err)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			log.Warn().Err(err).Str("sync_type", string(opts.SyncType)).Msg("Could not release sync lock")
		}
	}()

	run := &models.SyncRun{
		SyncType:  opts.SyncType,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
		Reset:     opts.Reset,
	}
	var runID *int64
	if r.recorder != nil {
		if id, err := r.recorder.CreateRun(run); err != nil {
			log.Warn().Err(err).Msg("Could not record run start")
		} else {
			run.ID = id
			runID = &id
		}
	}
	r.record(runID, models.LogLevelInfo, fmt.Sprintf("Starting %s sync (reset=%t, limit=%d)", opts.SyncType, opts.Reset, opts.Limit), opts.SyncType)

	res, runErr := r.orch.RunSync(ctx, opts)

	if runID != nil {
		now := time.Now()
		run.FinishedAt = &now
		applyResult(run, res, runErr)
		if err := r.recorder.UpdateRun(run); err != nil {
			log.Warn().Err(err).Msg("Could not record run end")
		}
	}

	if runErr != nil {
		r.record(runID, models.LogLevelError, fmt.Sprintf("Sync failed: %v", runErr), opts.SyncType)
		runErr = fmt.Errorf("sync %s: %w", opts.SyncType, runErr)
		if res != nil {
			res.Err = runErr
		}
		return res, runErr
	}
	r.record(runID, models.LogLevelInfo, fmt.Sprintf("Sync finished: %d properties", res.Processed), opts.SyncType)
	return res, nil
}

// RunAll syncs each feed in turn. A failure in one feed does not prevent the
// others from running; all failures are returned joined.
func (r *Runner) RunAll(ctx context.Context, types []models.SyncType, base RunOptions) ([]*Result, error) {
	if r.IsPaused() {
		log.Info().Msg("Sync is paused, skipping run")
		return nil, nil
	}

	var results []*Result
	var errs []error
	for _, t := range types {
		if stopRequested(base.Stop) {
			break
		}
		opts := base
		opts.SyncType = t
		res, err := r.Run(ctx, opts)
		if res == nil && err != nil {
			res = &Result{SyncType: t, Err: err}
		}
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

func (r *Runner) record(runID *int64, level models.LogLevel, message string, syncType models.SyncType) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Log(runID, level, message, syncType); err != nil {
		log.Debug().Err(err).Msg("Could not write run log")
	}
}

func applyResult(run *models.SyncRun, res *Result, err error) {
	switch {
	case err != nil:
		run.Status = models.RunStatusFailed
		msg := err.Error()
		run.ErrorMessage = &msg
	case res != nil && res.Stopped:
		run.Status = models.RunStatusStopped
	default:
		run.Status = models.RunStatusCompleted
	}
	if res == nil {
		return
	}
	run.PropertiesSynced = res.Processed
	run.CursorTimestamp = res.Cursor.Timestamp
	run.CursorKey = res.Cursor.Key
	for entity, ec := range res.Coverage.Entities {
		run.ChildFailures += ec.Failures
		switch entity {
		case models.EntityMedia:
			run.MediaSynced = ec.Records
		case models.EntityRooms:
			run.RoomsSynced = ec.Records
		case models.EntityOpenHouse:
			run.OpenHousesSynced = ec.Records
		}
	}
}
