package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type DoneJobPruner interface {
	DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob prunes completed reconcile jobs once they are older than the
// retention window. Dead jobs are left for an operator.
type CleanupJob struct {
	jobs      DoneJobPruner
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewCleanupJob(jobs DoneJobPruner, interval, retention time.Duration) *CleanupJob {
	return &CleanupJob{
		jobs:      jobs,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

func (j *CleanupJob) String() string {
	return "cleanup"
}

func (j *CleanupJob) Serve(ctx context.Context) error {
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("cleanup job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cleanup job stopped")
			return ctx.Err()
		case <-ticker.C:
			j.cleanup(ctx)
		}
	}
}

func (j *CleanupJob) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "reconcile jobs", func(ctx context.Context) (int64, error) {
		return j.jobs.DeleteDoneBefore(ctx, j.now().Add(-j.retention))
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
