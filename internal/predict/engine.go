// Package predict derives short-horizon flood predictions for a device from
// its recent water-level history and the shared weather pool, persists one
// prediction per time horizon, and cascades into road-status propagation.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/observability"
	"github.com/couchcryptid/flood-watch/internal/propagate"
)

const (
	// historyWindow bounds how far back water-level readings feed the trend.
	historyWindowMillis = 2 * 60 * 60 * 1000

	// weatherWindow bounds the shared weather pool lookback.
	weatherWindowMillis = 24 * 60 * 60 * 1000

	// maxHistoryPoints caps the regression input at the most recent samples.
	maxHistoryPoints = 12
)

// Cascader triggers road-status propagation after predictions persist.
type Cascader interface {
	Propagate(ctx context.Context, deviceID string) (propagate.Result, error)
}

// Engine computes and persists predictions for one device at a time. It is
// re-entrant and safe to invoke concurrently for different devices;
// concurrent runs for the same device race last-write-wins on the same
// upsert keys, which the store's per-row atomicity makes safe.
type Engine struct {
	devices     domain.DeviceStore
	readings    domain.ReadingStore
	weather     domain.WeatherStore
	predictions domain.PredictionStore
	cascade     Cascader
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates a prediction engine. cascade may be nil to disable
// propagation (used by tests exercising the projection in isolation).
func New(
	devices domain.DeviceStore,
	readings domain.ReadingStore,
	weather domain.WeatherStore,
	predictions domain.PredictionStore,
	cascade Cascader,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		devices:     devices,
		readings:    readings,
		weather:     weather,
		predictions: predictions,
		cascade:     cascade,
		logger:      logger,
		metrics:     metrics,
	}
}

// Result summarizes one prediction cycle.
type Result struct {
	DeviceID  string
	Generated int
	Skipped   bool
	Reason    string
}

// GenerateForDevice runs one full prediction cycle: load context, project
// each horizon, persist, cascade. A device with no recent water-level
// readings is a no-op, not an error. Weather being unavailable degrades to
// a zero weather factor rather than failing the cycle.
func (e *Engine) GenerateForDevice(ctx context.Context, deviceID string) (Result, error) {
	device, err := e.devices.DeviceByID(ctx, deviceID)
	if err != nil {
		return Result{}, fmt.Errorf("prediction device lookup: %w", err)
	}
	if !device.IsEnabled {
		e.metrics.PredictionSkips.Inc()
		return Result{DeviceID: deviceID, Skipped: true, Reason: "device disabled"}, nil
	}

	now := domain.NowMillis()
	readings, err := e.readings.WaterLevelSince(ctx, deviceID, now-historyWindowMillis)
	if err != nil {
		return Result{}, fmt.Errorf("load reading history: %w", err)
	}
	if len(readings) == 0 {
		e.metrics.PredictionSkips.Inc()
		return Result{DeviceID: deviceID, Skipped: true, Reason: "no recent water-level readings"}, nil
	}

	// Readings arrive newest first; the regression wants oldest first over
	// at most the twelve most recent points.
	current := readings[0]
	history := readings
	if len(history) > maxHistoryPoints {
		history = history[:maxHistoryPoints]
	}
	history = reversed(history)

	samples, err := e.weather.WeatherSince(ctx, now-weatherWindowMillis)
	if err != nil {
		e.logger.Warn("weather pool unavailable, predicting without weather factor",
			"device_id", deviceID, "error", err)
		samples = nil
	}
	var latest *domain.WeatherSample
	if len(samples) > 0 {
		latest = &samples[0]
	}

	trend := TrendFactor(history)
	weatherFactor := WeatherFactor(latest)

	meta := &domain.PredictionMetadata{
		CurrentLevel:       current.Value,
		TrendFactor:        trend,
		WeatherFactor:      weatherFactor,
		ReadingCount:       len(history),
		WeatherSampleCount: len(samples),
	}

	generated := 0
	for _, horizon := range domain.Horizons {
		hours := horizon.Hours()
		level := current.Value + trend*hours + weatherFactor*hours
		if level < 0 {
			level = 0
		}

		p := domain.Prediction{
			DeviceID:            deviceID,
			TimeHorizon:         horizon,
			FloodProbability:    domain.FloodProbability(level),
			PredictedWaterLevel: &level,
			Severity:            domain.SeverityFromLevel(level),
			PredictedAt:         now,
			ValidUntil:          now + int64(hours*3600*1000),
			Metadata:            meta,
		}
		if err := e.predictions.UpsertPrediction(ctx, p); err != nil {
			return Result{DeviceID: deviceID, Generated: generated}, fmt.Errorf("persist prediction %s/%s: %w", deviceID, horizon, err)
		}
		generated++
	}
	e.metrics.PredictionsGenerated.Add(float64(generated))

	e.logger.Info("predictions generated",
		"device_id", deviceID,
		"current_level_cm", current.Value,
		"trend_cm_per_hour", trend,
		"weather_factor_cm", weatherFactor,
		"horizons", generated,
	)

	if e.cascade != nil {
		if _, err := e.cascade.Propagate(ctx, deviceID); err != nil {
			return Result{DeviceID: deviceID, Generated: generated}, fmt.Errorf("propagation cascade: %w", err)
		}
	}

	return Result{DeviceID: deviceID, Generated: generated}, nil
}

// TrendFactor fits an ordinary least-squares line of level (cm) against
// hours since the first reading and returns its slope in cm/hour. Fewer
// than two points, or all points at the same timestamp, yield 0.
func TrendFactor(oldestFirst []domain.SensorReading) float64 {
	n := len(oldestFirst)
	if n < 2 {
		return 0
	}

	t0 := oldestFirst[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	for _, r := range oldestFirst {
		x := float64(r.Timestamp-t0) / (3600.0 * 1000.0)
		y := r.Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// WeatherFactor converts the most recent weather sample into an expected
// water-level impact in cm/hour. Each rainfall term contributes only when
// the provider reported it; the sum scales by a condition multiplier and a
// high-humidity bump. A nil sample (no weather data) contributes nothing.
func WeatherFactor(sample *domain.WeatherSample) float64 {
	if sample == nil {
		return 0
	}

	impact := 0.0
	if sample.Rainfall1h != nil {
		impact += *sample.Rainfall1h * 0.2
	}
	if sample.Rainfall3h != nil {
		impact += *sample.Rainfall3h / 3 * 0.15
	}

	impact *= conditionMultiplier(sample.Condition)

	if sample.Humidity > 80 {
		impact *= 1.1
	}
	return impact
}

// conditionMultiplier scales rainfall impact by the reported condition.
// Unrecognized conditions pass through unscaled.
func conditionMultiplier(condition string) float64 {
	switch condition {
	case "Thunderstorm":
		return 1.5
	case "HeavyRain":
		return 1.8
	case "Rain":
		return 1.2
	case "Drizzle":
		return 1.1
	case "Clouds":
		return 1.0
	case "Clear":
		return 0.9
	}
	return 1.0
}

func reversed(in []domain.SensorReading) []domain.SensorReading {
	out := make([]domain.SensorReading, len(in))
	for i, r := range in {
		out[len(in)-1-i] = r
	}
	return out
}

// PurgeExpired deletes predictions past their validity window. Intended for
// an external scheduler; core read paths already filter expired rows.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	n, err := e.predictions.DeleteExpiredPredictions(ctx, domain.NowMillis())
	if err != nil {
		return 0, fmt.Errorf("purge expired predictions: %w", err)
	}
	if n > 0 {
		e.logger.Info("purged expired predictions", "count", n)
	}
	return n, nil
}

// IsNotFound reports whether err stems from a missing device, letting
// callers distinguish bad references from transient store failures.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
