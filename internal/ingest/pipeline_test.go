package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/ingest"
	"github.com/couchcryptid/flood-watch/internal/observability"
	"github.com/couchcryptid/flood-watch/internal/predict"
	"github.com/couchcryptid/flood-watch/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawReading
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawReading, error) {
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type failingExtractor struct {
	calls atomic.Int64
}

func (f *failingExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawReading, error) {
	f.calls.Add(1)
	return nil, errors.New("broker unavailable")
}

type mockEngine struct {
	mu        sync.Mutex
	deviceIDs []string
	err       error
}

func (m *mockEngine) GenerateForDevice(_ context.Context, deviceID string) (predict.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceIDs = append(m.deviceIDs, deviceID)
	if m.err != nil {
		return predict.Result{}, m.err
	}
	return predict.Result{Generated: len(domain.Horizons)}, nil
}

func (m *mockEngine) triggered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deviceIDs...)
}

type failingDeviceStore struct {
	domain.DeviceStore
}

func (f *failingDeviceStore) DeviceByID(_ context.Context, _ string) (domain.IoTDevice, error) {
	return domain.IoTDevice{}, errors.New("db down")
}

type failingReadingStore struct {
	domain.ReadingStore
}

func (f *failingReadingStore) InsertReading(_ context.Context, _ domain.SensorReading) error {
	return errors.New("db down")
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func newStoreWithDevice(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	err := store.UpsertDevice(context.Background(), domain.IoTDevice{
		ID:              "station-1",
		Name:            "River Station 1",
		APIKey:          "key-1",
		Location:        [2]float64{13.62, 123.19},
		InfluenceRadius: 500,
		IsEnabled:       true,
	})
	require.NoError(t, err)
	return store
}

func makeRawReading(t *testing.T, deviceID string, readingType domain.ReadingType, value float64, commit func(ctx context.Context) error) domain.RawReading {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"deviceId":    deviceID,
		"readingType": string(readingType),
		"value":       value,
		"unit":        "cm",
		"timestamp":   int64(1_700_000_000_000),
	})
	require.NoError(t, err)
	return domain.RawReading{
		Key:       []byte(deviceID),
		Value:     payload,
		Topic:     "sensor-readings",
		Timestamp: time.UnixMilli(1_700_000_000_000),
		Commit:    commit,
	}
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	store := newStoreWithDevice(t)
	engine := &mockEngine{}
	var committed atomic.Int64
	raw := makeRawReading(t, "station-1", domain.ReadingWaterLevel, 42, func(_ context.Context) error {
		committed.Add(1)
		return nil
	})

	ext := &mockExtractor{batches: [][]domain.RawReading{{raw}}}
	p := ingest.New(ext, store, store, engine, slog.Default(), newTestMetrics(), 10)

	require.Error(t, p.CheckReadiness(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	readings, err := store.WaterLevelSince(context.Background(), "station-1", 0)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 42.0, readings[0].Value)

	device, err := store.DeviceByID(context.Background(), "station-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_000), device.LastSeen)
	assert.True(t, device.IsAlive)

	assert.Equal(t, []string{"station-1"}, engine.triggered())
	assert.Equal(t, int64(1), committed.Load())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	store := newStoreWithDevice(t)
	ext := &mockExtractor{} // no batches, will block
	p := ingest.New(ext, store, store, &mockEngine{}, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	require.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_UnparseableReadingCommitted(t *testing.T) {
	store := newStoreWithDevice(t)
	engine := &mockEngine{}
	var committed atomic.Int64
	raw := domain.RawReading{
		Value:     []byte("not json"),
		Timestamp: time.Now(),
		Commit: func(_ context.Context) error {
			committed.Add(1)
			return nil
		},
	}

	ext := &mockExtractor{batches: [][]domain.RawReading{{raw}}}
	p := ingest.New(ext, store, store, engine, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, int64(1), committed.Load(), "poison pill must be committed so it is not redelivered")
	assert.Empty(t, engine.triggered())
	assert.Error(t, p.CheckReadiness(context.Background()), "a skipped reading does not make the pipeline ready")
}

func TestPipeline_Run_UnknownDeviceCommitted(t *testing.T) {
	store := newStoreWithDevice(t)
	engine := &mockEngine{}
	var committed atomic.Int64
	raw := makeRawReading(t, "ghost-device", domain.ReadingWaterLevel, 42, func(_ context.Context) error {
		committed.Add(1)
		return nil
	})

	ext := &mockExtractor{batches: [][]domain.RawReading{{raw}}}
	p := ingest.New(ext, store, store, engine, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, int64(1), committed.Load())
	assert.Empty(t, engine.triggered())

	readings, err := store.WaterLevelSince(context.Background(), "ghost-device", 0)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestPipeline_Run_DeviceLookupFailureNotCommitted(t *testing.T) {
	store := newStoreWithDevice(t)
	var committed atomic.Int64
	raw := makeRawReading(t, "station-1", domain.ReadingWaterLevel, 42, func(_ context.Context) error {
		committed.Add(1)
		return nil
	})

	ext := &mockExtractor{batches: [][]domain.RawReading{{raw}}}
	p := ingest.New(ext, &failingDeviceStore{DeviceStore: store}, store, &mockEngine{}, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, int64(0), committed.Load(), "offset must stay uncommitted for redelivery")
}

func TestPipeline_Run_StoreFailureNotCommitted(t *testing.T) {
	store := newStoreWithDevice(t)
	engine := &mockEngine{}
	var committed atomic.Int64
	raw := makeRawReading(t, "station-1", domain.ReadingWaterLevel, 42, func(_ context.Context) error {
		committed.Add(1)
		return nil
	})

	ext := &mockExtractor{batches: [][]domain.RawReading{{raw}}}
	p := ingest.New(ext, store, &failingReadingStore{ReadingStore: store}, engine, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, int64(0), committed.Load())
	assert.Empty(t, engine.triggered())
}

func TestPipeline_Run_NonWaterLevelSkipsPrediction(t *testing.T) {
	store := newStoreWithDevice(t)
	engine := &mockEngine{}
	var committed atomic.Int64
	commit := func(_ context.Context) error {
		committed.Add(1)
		return nil
	}
	batch := []domain.RawReading{
		makeRawReading(t, "station-1", domain.ReadingRainfall, 12, commit),
		makeRawReading(t, "station-1", domain.ReadingTemperature, 28, commit),
		makeRawReading(t, "station-1", domain.ReadingWaterLevel, 35, commit),
	}

	ext := &mockExtractor{batches: [][]domain.RawReading{batch}}
	p := ingest.New(ext, store, store, engine, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, []string{"station-1"}, engine.triggered(), "only the water level reading triggers a cycle")
	assert.Equal(t, int64(3), committed.Load(), "context readings are still stored and committed")
}

func TestPipeline_Run_PredictionFailureStillCommits(t *testing.T) {
	store := newStoreWithDevice(t)
	engine := &mockEngine{err: errors.New("weather api down")}
	var committed atomic.Int64
	raw := makeRawReading(t, "station-1", domain.ReadingWaterLevel, 42, func(_ context.Context) error {
		committed.Add(1)
		return nil
	})

	ext := &mockExtractor{batches: [][]domain.RawReading{{raw}}}
	p := ingest.New(ext, store, store, engine, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, int64(1), committed.Load(), "the reading is durably stored; prediction failures do not block the commit")

	readings, err := store.WaterLevelSince(context.Background(), "station-1", 0)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestPipeline_Run_ExtractFailureBacksOff(t *testing.T) {
	store := newStoreWithDevice(t)
	ext := &failingExtractor{}
	p := ingest.New(ext, store, store, &mockEngine{}, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	// 200ms, 400ms, then cancelled mid-sleep: a handful of attempts, not a
	// tight loop.
	calls := ext.calls.Load()
	assert.GreaterOrEqual(t, calls, int64(2))
	assert.LessOrEqual(t, calls, int64(5))
}

func TestPipeline_Run_MissingCommitFunctionTolerated(t *testing.T) {
	store := newStoreWithDevice(t)
	engine := &mockEngine{}
	raw := makeRawReading(t, "station-1", domain.ReadingWaterLevel, 42, nil)

	ext := &mockExtractor{batches: [][]domain.RawReading{{raw}}}
	p := ingest.New(ext, store, store, engine, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, []string{"station-1"}, engine.triggered())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}
