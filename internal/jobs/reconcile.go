package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/lock"
	"github.com/superparser/gateway-control/internal/metrics"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/service"
)

type Syncer interface {
	SyncAccount(ctx context.Context, accountID string) (*service.SyncOutcome, error)
}

type JobQueue interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]model.ReconcileJob, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
}

// ReconcileWorker drains due reconcile jobs. Claiming pushes a job's
// next_attempt_at past the lease, so a worker that dies mid-attempt leaves the
// job to be picked up again once the lease runs out.
type ReconcileWorker struct {
	queue       JobQueue
	syncer      Syncer
	interval    time.Duration
	batchSize   int
	lease       time.Duration
	concurrency int
}

func NewReconcileWorker(queue JobQueue, syncer Syncer, interval time.Duration, batchSize int, lease time.Duration, concurrency int) *ReconcileWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReconcileWorker{
		queue:       queue,
		syncer:      syncer,
		interval:    interval,
		batchSize:   batchSize,
		lease:       lease,
		concurrency: concurrency,
	}
}

func (w *ReconcileWorker) String() string {
	return "reconcile-worker"
}

func (w *ReconcileWorker) Serve(ctx context.Context) error {
	log.Info().
		Dur("interval", w.interval).
		Int("concurrency", w.concurrency).
		Msg("reconcile worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		// A full batch usually means more is due; poll again without waiting.
		for {
			n, err := w.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("reconcile poll failed")
			}
			if err != nil || n < w.batchSize {
				break
			}
		}
		w.reportDepth(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("reconcile worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due jobs and reconciles them, returning how
// many were claimed.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (int, error) {
	due, err := w.queue.ClaimDue(ctx, w.batchSize, w.lease)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range due {
		g.Go(func() error {
			w.process(gctx, job)
			return nil
		})
	}
	return len(due), g.Wait()
}

func (w *ReconcileWorker) process(ctx context.Context, job model.ReconcileJob) {
	outcome, err := w.syncer.SyncAccount(ctx, job.AccountID)
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotAcquired):
		// Another pass holds the account; the lease brings the job back.
		log.Debug().Str("account_id", job.AccountID).Msg("account busy, reconcile deferred")
		return
	default:
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodeNotFound {
			log.Warn().Str("account_id", job.AccountID).Msg("reconcile job for missing account")
			return
		}
		log.Error().Err(err).
			Str("account_id", job.AccountID).
			Str("reason", string(job.Reason)).
			Msg("reconcile job failed locally")
		return
	}

	if outcome.Failed() {
		log.Debug().
			Str("account_id", job.AccountID).
			Bool("dead_lettered", outcome.DeadLettered).
			Msg("reconcile attempt failed")
	}
}

func (w *ReconcileWorker) reportDepth(ctx context.Context) {
	counts, err := w.queue.CountByStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("failed to count reconcile jobs")
		}
		return
	}
	for _, status := range []model.JobStatus{model.JobStatusPending, model.JobStatusDone, model.JobStatusDead} {
		metrics.ReconcileQueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
