// Package ingest runs the sensor-reading intake loop: extract a batch from
// the source topic, persist each reading, heartbeat its device, and trigger
// the prediction engine, which cascades into propagation.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/observability"
	"github.com/couchcryptid/flood-watch/internal/predict"
)

// BatchExtractor reads up to batchSize raw readings from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawReading, error)
}

// PredictionTrigger runs a prediction cycle for a device.
type PredictionTrigger interface {
	GenerateForDevice(ctx context.Context, deviceID string) (predict.Result, error)
}

// Pipeline orchestrates the consume-store-predict loop.
type Pipeline struct {
	extractor BatchExtractor
	devices   domain.DeviceStore
	readings  domain.ReadingStore
	engine    PredictionTrigger
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(
	extractor BatchExtractor,
	devices domain.DeviceStore,
	readings domain.ReadingStore,
	engine PredictionTrigger,
	logger *slog.Logger,
	metrics *observability.Metrics,
	batchSize int,
) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		devices:   devices,
		readings:  readings,
		engine:    engine,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has processed at least one
// reading, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("ingest has not processed any readings yet")
	}
	return nil
}

// Run executes the intake loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("ingest started", "batch_size", p.batchSize)
	p.metrics.IngestRunning.Set(1)
	defer p.metrics.IngestRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during broker
	// outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingest stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-process cycle. Returns false when the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.ReadingsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	processed := 0
	for _, raw := range rawBatch {
		if ctx.Err() != nil {
			return false
		}
		if p.processReading(ctx, raw) {
			processed++
		}
	}

	if processed > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// processReading handles one raw message end to end. A malformed payload or
// an unknown device is skipped and committed so it is not redelivered
// forever; a store failure leaves the offset uncommitted for redelivery.
// Reports whether the reading was fully processed.
func (p *Pipeline) processReading(ctx context.Context, raw domain.RawReading) bool {
	reading, err := domain.ParseRawReading(raw)
	if err != nil {
		p.logger.Warn("unparseable reading, skipping",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.ReadingParseError.Inc()
		p.commitOffset(ctx, raw)
		return false
	}

	device, err := p.devices.DeviceByID(ctx, reading.DeviceID)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("reading for unknown device, skipping",
			"device_id", reading.DeviceID, "offset", raw.Offset)
		p.metrics.ReadingParseError.Inc()
		p.commitOffset(ctx, raw)
		return false
	}
	if err != nil {
		p.logger.Error("device lookup failed", "device_id", reading.DeviceID, "error", err)
		return false
	}

	if err := p.readings.InsertReading(ctx, reading); err != nil {
		p.logger.Error("store reading failed", "device_id", reading.DeviceID, "error", err)
		return false
	}
	if err := p.devices.Heartbeat(ctx, device.ID, reading.Timestamp); err != nil {
		p.logger.Warn("device heartbeat failed", "device_id", device.ID, "error", err)
	}

	// Only water level moves predictions; other reading types are context
	// data. Prediction failures do not block the commit: the reading is
	// durably stored and the next water-level reading retriggers the cycle.
	if reading.ReadingType == domain.ReadingWaterLevel {
		if _, err := p.engine.GenerateForDevice(ctx, device.ID); err != nil {
			p.logger.Error("prediction cycle failed", "device_id", device.ID, "error", err)
		}
	}

	p.commitOffset(ctx, raw)
	return true
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false when the pipeline should
// stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawReading) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
