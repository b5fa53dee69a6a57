package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"farmmarket/internal/repository"
)

// Purger removes expired sessions and one-time tokens from storage.
type Purger interface {
	PurgeExpired(ctx context.Context) (repository.PurgeResult, error)
}

const purgeTimeout = time.Minute

type Scheduler struct {
	cron     *cron.Cron
	purger   Purger
	schedule string
	log      zerolog.Logger
}

// NewScheduler takes a six-field cron expression (seconds first).
func NewScheduler(purger Purger, schedule string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		purger:   purger,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.purger == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { _ = s.RunPurge(context.Background()) }); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("purge job scheduled")
	return nil
}

// Stop waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) RunPurge(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, purgeTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("purge expired failed")
		return err
	}

	s.log.Info().
		Int64("refresh_tokens", result.RefreshTokens).
		Int64("verification_tokens", result.VerificationTokens).
		Int64("reset_tokens", result.ResetTokens).
		Dur("took", time.Since(start)).
		Msg("purged expired credentials")
	return nil
}
