package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/metrics"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/repository"
)

// UsageRecorder buffers metered calls and writes them in batches. Recording
// never blocks a request: when the buffer is full the record is dropped and
// counted.
type UsageRecorder struct {
	repo          repository.UsageRepository
	prefixes      []string
	records       chan model.CreateUsageRecordParams
	batchSize     int
	flushInterval time.Duration
}

func NewUsageRecorder(repo repository.UsageRepository, prefixes []string, bufferSize, batchSize int, flushInterval time.Duration) *UsageRecorder {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return &UsageRecorder{
		repo:          repo,
		prefixes:      cleaned,
		records:       make(chan model.CreateUsageRecordParams, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// IsMetered reports whether path falls under a metered prefix.
func (r *UsageRecorder) IsMetered(path string) bool {
	for _, p := range r.prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Record queues one call. It returns false when the call was not recorded.
func (r *UsageRecorder) Record(accountID, endpoint string, status int, latency time.Duration) bool {
	if accountID == "" || !r.IsMetered(endpoint) {
		return false
	}

	rec := model.CreateUsageRecordParams{
		AccountID:  accountID,
		Endpoint:   endpoint,
		StatusCode: status,
		Latency:    latency,
		CreatedAt:  time.Now().UTC(),
	}
	select {
	case r.records <- rec:
		return true
	default:
		metrics.UsageRecordsDropped.WithLabelValues("buffer_full").Inc()
		log.Warn().Str("account_id", accountID).Str("endpoint", endpoint).Msg("usage buffer full, record dropped")
		return false
	}
}

// Serve flushes buffered records until ctx is done, then drains what is left.
func (r *UsageRecorder) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]model.CreateUsageRecordParams, 0, r.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = r.drain(batch)
			r.flush(context.WithoutCancel(ctx), batch)
			return ctx.Err()
		case rec := <-r.records:
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			r.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

func (r *UsageRecorder) String() string {
	return "usage-recorder"
}

func (r *UsageRecorder) drain(batch []model.CreateUsageRecordParams) []model.CreateUsageRecordParams {
	for {
		select {
		case rec := <-r.records:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

func (r *UsageRecorder) flush(ctx context.Context, batch []model.CreateUsageRecordParams) {
	if len(batch) == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := r.repo.CreateBatch(flushCtx, batch); err != nil {
		metrics.UsageRecordsDropped.WithLabelValues("write_failed").Add(float64(len(batch)))
		log.Error().Err(err).Int("records", len(batch)).Msg("failed to write usage records")
		return
	}
	metrics.UsageRecordsWritten.Add(float64(len(batch)))
}
