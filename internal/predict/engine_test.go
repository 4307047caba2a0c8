package predict_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/observability"
	"github.com/couchcryptid/flood-watch/internal/predict"
	"github.com/couchcryptid/flood-watch/internal/propagate"
	"github.com/couchcryptid/flood-watch/internal/store/memory"
)

// --- mocks ---

type mockCascader struct {
	calls []string
	err   error
}

func (m *mockCascader) Propagate(_ context.Context, deviceID string) (propagate.Result, error) {
	m.calls = append(m.calls, deviceID)
	return propagate.Result{DeviceID: deviceID}, m.err
}

type failingWeatherStore struct {
	domain.WeatherStore
}

func (failingWeatherStore) WeatherSince(_ context.Context, _ int64) ([]domain.WeatherSample, error) {
	return nil, errors.New("weather pool down")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t *testing.T) time.Time {
	t.Helper()
	at := time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(at))
	t.Cleanup(func() { domain.SetClock(nil) })
	return at
}

func reading(deviceID string, value float64, at time.Time) domain.SensorReading {
	return domain.SensorReading{
		DeviceID:    deviceID,
		ReadingType: domain.ReadingWaterLevel,
		Value:       value,
		Unit:        "cm",
		Timestamp:   at.UnixMilli(),
	}
}

func setupDevice(t *testing.T, store *memory.Store, enabled bool) domain.IoTDevice {
	t.Helper()
	device := domain.IoTDevice{
		ID:        "station-1",
		Name:      "Naga River Station",
		APIKey:    "key",
		Location:  [2]float64{13.6218, 123.1948},
		IsEnabled: enabled,
	}
	require.NoError(t, store.UpsertDevice(context.Background(), device))
	return device
}

// --- trend and weather factors ---

func TestTrendFactor_LinearRise(t *testing.T) {
	t0 := time.Date(2025, time.June, 15, 6, 0, 0, 0, time.UTC)
	history := []domain.SensorReading{
		reading("d", 10, t0),
		reading("d", 15, t0.Add(time.Hour)),
		reading("d", 20, t0.Add(2*time.Hour)),
	}
	assert.InDelta(t, 5.0, predict.TrendFactor(history), 1e-9)
}

func TestTrendFactor_Falling(t *testing.T) {
	t0 := time.Date(2025, time.June, 15, 6, 0, 0, 0, time.UTC)
	history := []domain.SensorReading{
		reading("d", 40, t0),
		reading("d", 30, t0.Add(30*time.Minute)),
		reading("d", 20, t0.Add(time.Hour)),
	}
	assert.InDelta(t, -20.0, predict.TrendFactor(history), 1e-9)
}

func TestTrendFactor_Degenerate(t *testing.T) {
	t0 := time.Date(2025, time.June, 15, 6, 0, 0, 0, time.UTC)

	assert.Zero(t, predict.TrendFactor(nil))
	assert.Zero(t, predict.TrendFactor([]domain.SensorReading{reading("d", 10, t0)}))

	// All points at the same timestamp have no usable slope.
	same := []domain.SensorReading{
		reading("d", 10, t0),
		reading("d", 50, t0),
	}
	assert.Zero(t, predict.TrendFactor(same))
}

func TestWeatherFactor(t *testing.T) {
	rain1h := 10.0
	rain3h := 12.0

	tests := []struct {
		name   string
		sample *domain.WeatherSample
		want   float64
	}{
		{"nil sample", nil, 0},
		{"no rainfall reported", &domain.WeatherSample{Condition: "Rain", Humidity: 70}, 0},
		{
			"rain with both windows",
			&domain.WeatherSample{Rainfall1h: &rain1h, Rainfall3h: &rain3h, Condition: "Rain", Humidity: 70},
			(10*0.2 + 12.0/3*0.15) * 1.2,
		},
		{
			"thunderstorm multiplier",
			&domain.WeatherSample{Rainfall1h: &rain1h, Condition: "Thunderstorm", Humidity: 70},
			10 * 0.2 * 1.5,
		},
		{
			"high humidity bump",
			&domain.WeatherSample{Rainfall1h: &rain1h, Condition: "Clouds", Humidity: 85},
			10 * 0.2 * 1.0 * 1.1,
		},
		{
			"clear dampens",
			&domain.WeatherSample{Rainfall1h: &rain1h, Condition: "Clear", Humidity: 50},
			10 * 0.2 * 0.9,
		},
		{
			"unknown condition passes through",
			&domain.WeatherSample{Rainfall1h: &rain1h, Condition: "Haboob", Humidity: 50},
			10 * 0.2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, predict.WeatherFactor(tt.sample), 1e-9)
		})
	}
}

// --- GenerateForDevice ---

func TestEngine_GenerateForDevice(t *testing.T) {
	ctx := context.Background()
	now := fixedClock(t)
	store := memory.NewStore()
	setupDevice(t, store, true)

	// Rising 5 cm/hour ending at 15 cm.
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 5, now.Add(-2*time.Hour))))
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 10, now.Add(-time.Hour))))
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 15, now)))

	cascade := &mockCascader{}
	engine := predict.New(store, store, store, store, cascade, discard(), observability.NewMetricsForTesting())

	res, err := engine.GenerateForDevice(ctx, "station-1")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, len(domain.Horizons), res.Generated)
	assert.Equal(t, []string{"station-1"}, cascade.calls)

	predictions, err := store.ActivePredictions(ctx, "station-1", now.UnixMilli())
	require.NoError(t, err)
	require.Len(t, predictions, len(domain.Horizons))

	byHorizon := map[domain.TimeHorizon]domain.Prediction{}
	for _, p := range predictions {
		byHorizon[p.TimeHorizon] = p
	}

	// 15 cm now + 5 cm/hour, no weather: 20 cm at 1h.
	p1 := byHorizon[domain.Horizon1h]
	require.NotNil(t, p1.PredictedWaterLevel)
	assert.InDelta(t, 20, *p1.PredictedWaterLevel, 1e-9)
	assert.Equal(t, domain.SeverityMedium, p1.Severity)
	assert.InDelta(t, 0.30, p1.FloodProbability, 1e-9)
	assert.Equal(t, now.UnixMilli()+3600_000, p1.ValidUntil)

	// 55 cm at 8h.
	p8 := byHorizon[domain.Horizon8h]
	require.NotNil(t, p8.PredictedWaterLevel)
	assert.InDelta(t, 55, *p8.PredictedWaterLevel, 1e-9)
	assert.Equal(t, domain.SeverityHigh, p8.Severity)

	require.NotNil(t, p1.Metadata)
	assert.Equal(t, 15.0, p1.Metadata.CurrentLevel)
	assert.InDelta(t, 5.0, p1.Metadata.TrendFactor, 1e-9)
	assert.Equal(t, 3, p1.Metadata.ReadingCount)
}

func TestEngine_GenerateForDevice_WeatherRaisesLevels(t *testing.T) {
	ctx := context.Background()
	now := fixedClock(t)
	store := memory.NewStore()
	setupDevice(t, store, true)

	require.NoError(t, store.InsertReading(ctx, reading("station-1", 15, now)))

	rain := 10.0
	require.NoError(t, store.InsertWeatherSample(ctx, domain.WeatherSample{
		Rainfall1h: &rain,
		Condition:  "Rain",
		Humidity:   70,
		FetchedAt:  now.UnixMilli(),
	}))

	engine := predict.New(store, store, store, store, nil, discard(), observability.NewMetricsForTesting())
	_, err := engine.GenerateForDevice(ctx, "station-1")
	require.NoError(t, err)

	predictions, err := store.ActivePredictions(ctx, "station-1", now.UnixMilli())
	require.NoError(t, err)
	for _, p := range predictions {
		// Single reading means zero trend; only weather lifts the level.
		want := 15 + 10*0.2*1.2*p.TimeHorizon.Hours()
		assert.InDelta(t, want, *p.PredictedWaterLevel, 1e-9)
	}
}

func TestEngine_GenerateForDevice_NoReadingsIsNoop(t *testing.T) {
	ctx := context.Background()
	fixedClock(t)
	store := memory.NewStore()
	setupDevice(t, store, true)

	cascade := &mockCascader{}
	engine := predict.New(store, store, store, store, cascade, discard(), observability.NewMetricsForTesting())

	res, err := engine.GenerateForDevice(ctx, "station-1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "no recent water-level readings", res.Reason)
	assert.Empty(t, cascade.calls, "no cascade without predictions")
}

func TestEngine_GenerateForDevice_DisabledDevice(t *testing.T) {
	ctx := context.Background()
	now := fixedClock(t)
	store := memory.NewStore()
	setupDevice(t, store, false)
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 80, now)))

	engine := predict.New(store, store, store, store, nil, discard(), observability.NewMetricsForTesting())

	res, err := engine.GenerateForDevice(ctx, "station-1")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "device disabled", res.Reason)

	predictions, err := store.ActivePredictions(ctx, "station-1", now.UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, predictions)
}

func TestEngine_GenerateForDevice_UnknownDevice(t *testing.T) {
	fixedClock(t)
	store := memory.NewStore()
	engine := predict.New(store, store, store, store, nil, discard(), observability.NewMetricsForTesting())

	_, err := engine.GenerateForDevice(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, predict.IsNotFound(err))
}

func TestEngine_GenerateForDevice_WeatherFailureDegrades(t *testing.T) {
	ctx := context.Background()
	now := fixedClock(t)
	store := memory.NewStore()
	setupDevice(t, store, true)
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 25, now)))

	engine := predict.New(store, store, failingWeatherStore{}, store, nil, discard(), observability.NewMetricsForTesting())

	res, err := engine.GenerateForDevice(ctx, "station-1")
	require.NoError(t, err, "weather outage must not fail the cycle")
	assert.Equal(t, len(domain.Horizons), res.Generated)

	predictions, err := store.ActivePredictions(ctx, "station-1", now.UnixMilli())
	require.NoError(t, err)
	for _, p := range predictions {
		assert.InDelta(t, 25, *p.PredictedWaterLevel, 1e-9, "zero weather factor")
	}
}

func TestEngine_GenerateForDevice_LevelClampedAtZero(t *testing.T) {
	ctx := context.Background()
	now := fixedClock(t)
	store := memory.NewStore()
	setupDevice(t, store, true)

	// Falling fast: 30 cm/hour drop from 10 cm.
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 40, now.Add(-time.Hour))))
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 10, now)))

	engine := predict.New(store, store, store, store, nil, discard(), observability.NewMetricsForTesting())
	_, err := engine.GenerateForDevice(ctx, "station-1")
	require.NoError(t, err)

	predictions, err := store.ActivePredictions(ctx, "station-1", now.UnixMilli())
	require.NoError(t, err)
	for _, p := range predictions {
		assert.GreaterOrEqual(t, *p.PredictedWaterLevel, 0.0)
	}
}

func TestEngine_GenerateForDevice_CascadeErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	now := fixedClock(t)
	store := memory.NewStore()
	setupDevice(t, store, true)
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 25, now)))

	cascade := &mockCascader{err: errors.New("propagation broke")}
	engine := predict.New(store, store, store, store, cascade, discard(), observability.NewMetricsForTesting())

	res, err := engine.GenerateForDevice(ctx, "station-1")
	require.Error(t, err)
	assert.Equal(t, len(domain.Horizons), res.Generated, "predictions persisted before the cascade failed")
}

func TestEngine_GenerateForDevice_HistoryWindowExcludesOld(t *testing.T) {
	ctx := context.Background()
	now := fixedClock(t)
	store := memory.NewStore()
	setupDevice(t, store, true)

	// A huge reading from 3 hours ago sits outside the 2-hour window and
	// must not drag the trend.
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 500, now.Add(-3*time.Hour))))
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 10, now.Add(-time.Hour))))
	require.NoError(t, store.InsertReading(ctx, reading("station-1", 12, now)))

	engine := predict.New(store, store, store, store, nil, discard(), observability.NewMetricsForTesting())
	_, err := engine.GenerateForDevice(ctx, "station-1")
	require.NoError(t, err)

	predictions, err := store.ActivePredictions(ctx, "station-1", now.UnixMilli())
	require.NoError(t, err)
	for _, p := range predictions {
		if p.TimeHorizon == domain.Horizon1h {
			assert.InDelta(t, 14, *p.PredictedWaterLevel, 1e-9, "trend is 2 cm/hour over the window")
		}
		assert.Equal(t, 2, p.Metadata.ReadingCount)
	}
}

func TestEngine_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	now := fixedClock(t)
	store := memory.NewStore()

	require.NoError(t, store.UpsertPrediction(ctx, domain.Prediction{
		DeviceID: "station-1", TimeHorizon: domain.Horizon1h, ValidUntil: now.UnixMilli() - 1,
	}))
	require.NoError(t, store.UpsertPrediction(ctx, domain.Prediction{
		DeviceID: "station-1", TimeHorizon: domain.Horizon2h, ValidUntil: now.UnixMilli() + 1000,
	}))

	engine := predict.New(store, store, store, store, nil, discard(), observability.NewMetricsForTesting())
	n, err := engine.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
