package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"listings_sync/config"
	"listings_sync/models"
	"listings_sync/storage"
	"listings_sync/syncer"
)

// SyncRunner is what the scheduler drives; syncer.Runner implements it.
type SyncRunner interface {
	RunAll(ctx context.Context, types []models.SyncType, base syncer.RunOptions) ([]*syncer.Result, error)
	Pause()
	Resume()
	IsPaused() bool
}

// CommandQueue is the operator command table.
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

type Scheduler struct {
	cfg    config.SchedulerConfig
	types  []models.SyncType
	runner SyncRunner
	queue  CommandQueue
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}

	runMu sync.Mutex
	wg    sync.WaitGroup

	mediaWorker Triggerable
	pollEvery   time.Duration
}

func New(cfg config.SchedulerConfig, types []models.SyncType, runner SyncRunner, queue CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		types:     types,
		runner:    runner,
		queue:     queue,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
		pollEvery: 2 * time.Second,
	}
}

// SetMediaWorker registers the media mirror for the run_media command.
func (s *Scheduler) SetMediaWorker(w Triggerable) {
	s.mediaWorker = w
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pollCommands(ctx)
		}()
	}

	if s.cfg.Cron != "" {
		log.Info().Str("cron", s.cfg.Cron).Msg("Starting scheduler")
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.runScheduled(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Info().Dur("interval", s.cfg.Interval).Msg("Starting scheduler")
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.runScheduled(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Info().Msg("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

// Stop asks an in-flight sync to finish its current batch and waits for it.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	if s.ticker != nil {
		s.ticker.Stop()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if !s.runMu.TryLock() {
		log.Info().Msg("Previous sync still running, skipping scheduled run")
		return
	}
	defer s.runMu.Unlock()

	if _, err := s.runner.RunAll(ctx, s.types, syncer.RunOptions{Stop: s.stopCh}); err != nil {
		log.Error().Err(err).Msg("Scheduled run error")
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.queue.GetPendingCommands()
	if err != nil {
		log.Error().Err(err).Msg("Error getting commands")
		return
	}

	for i := range cmds {
		cmd := &cmds[i]
		log.Info().Int64("id", cmd.ID).Str("command", string(cmd.Command)).Msg("Processing command")
		// Mark first so a command that crashes the run is not replayed forever.
		if err := s.queue.MarkCommandProcessed(cmd.ID); err != nil {
			log.Error().Err(err).Int64("id", cmd.ID).Msg("Error marking command processed")
			continue
		}
		if err := s.HandleCommand(ctx, cmd); err != nil {
			log.Error().Err(err).Str("command", string(cmd.Command)).Msg("Command error")
		}
	}
}

// HandleCommand executes one operator command synchronously.
func (s *Scheduler) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdSyncNow:
		return s.runCommand(ctx, s.types, syncer.RunOptions{Limit: params.Limit})
	case models.CmdSyncType, models.CmdResetSync:
		types := s.types
		if params.SyncType != "" {
			t, ok := models.ParseSyncType(params.SyncType)
			if !ok {
				return fmt.Errorf("unknown sync type %q", params.SyncType)
			}
			types = []models.SyncType{t}
		}
		return s.runCommand(ctx, types, syncer.RunOptions{
			Limit: params.Limit,
			Reset: cmd.Command == models.CmdResetSync,
		})
	case models.CmdRunMedia:
		if s.mediaWorker == nil {
			return fmt.Errorf("media mirror is not configured")
		}
		s.mediaWorker.Trigger()
		log.Info().Msg("Media mirror triggered via command")
	case models.CmdPause:
		s.runner.Pause()
		log.Info().Msg("Sync paused")
	case models.CmdResume:
		s.runner.Resume()
		log.Info().Msg("Sync resumed")
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}

func (s *Scheduler) runCommand(ctx context.Context, types []models.SyncType, opts syncer.RunOptions) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	opts.Stop = s.stopCh
	_, err := s.runner.RunAll(ctx, types, opts)
	return err
}
