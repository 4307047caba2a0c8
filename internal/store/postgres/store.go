// Package postgres implements the domain store contracts on PostgreSQL via
// pgx. Coordinates and prediction metadata are stored as JSONB; timestamps
// are epoch milliseconds in BIGINT columns, matching the wire format.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/flood-watch/internal/domain"
)

// Store implements every domain store interface against one pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS road_segments (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			coordinates JSONB NOT NULL,
			road_type   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'clear',
			grid_cell   TEXT NOT NULL DEFAULT '',
			min_lat     DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_lat     DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_lng     DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_lng     DOUBLE PRECISION NOT NULL DEFAULT 0,
			osm_id      TEXT NOT NULL DEFAULT '',
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_road_segments_grid_cell ON road_segments (grid_cell)`,
		`CREATE INDEX IF NOT EXISTS idx_road_segments_status ON road_segments (status)`,
		`CREATE INDEX IF NOT EXISTS idx_road_segments_osm_id ON road_segments (osm_id)`,
		`CREATE TABLE IF NOT EXISTS iot_devices (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL DEFAULT '',
			api_key          TEXT NOT NULL,
			lat              DOUBLE PRECISION NOT NULL,
			lng              DOUBLE PRECISION NOT NULL,
			influence_radius DOUBLE PRECISION NOT NULL,
			is_alive         BOOLEAN NOT NULL DEFAULT FALSE,
			is_enabled       BOOLEAN NOT NULL DEFAULT TRUE,
			last_seen        BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_iot_devices_api_key ON iot_devices (api_key)`,
		`CREATE TABLE IF NOT EXISTS sensor_readings (
			id           BIGSERIAL PRIMARY KEY,
			device_id    TEXT NOT NULL,
			reading_type TEXT NOT NULL,
			value        DOUBLE PRECISION NOT NULL,
			unit         TEXT NOT NULL DEFAULT '',
			ts           BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_readings_device ON sensor_readings (device_id, reading_type, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id                    TEXT NOT NULL,
			device_id             TEXT NOT NULL,
			time_horizon          TEXT NOT NULL,
			flood_probability     DOUBLE PRECISION NOT NULL,
			predicted_water_level DOUBLE PRECISION,
			severity              TEXT NOT NULL,
			predicted_at          BIGINT NOT NULL,
			valid_until           BIGINT NOT NULL,
			metadata              JSONB,
			PRIMARY KEY (device_id, time_horizon)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id             TEXT PRIMARY KEY,
			device_id      TEXT NOT NULL,
			severity       TEXT NOT NULL,
			message        TEXT NOT NULL DEFAULT '',
			roads_affected INT NOT NULL DEFAULT 0,
			is_active      BOOLEAN NOT NULL DEFAULT TRUE,
			created_at     BIGINT NOT NULL,
			updated_at     BIGINT NOT NULL,
			expires_at     BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_device_active ON alerts (device_id, is_active)`,
		`CREATE TABLE IF NOT EXISTS weather_samples (
			id          BIGSERIAL PRIMARY KEY,
			humidity    DOUBLE PRECISION NOT NULL,
			rainfall_1h DOUBLE PRECISION,
			rainfall_3h DOUBLE PRECISION,
			condition   TEXT NOT NULL DEFAULT '',
			fetched_at  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_weather_samples_fetched ON weather_samples (fetched_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Health checks database connectivity.
func (s *Store) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

const segmentColumns = `id, name, coordinates, road_type, status, grid_cell,
	min_lat, max_lat, min_lng, max_lng, osm_id, created_at, updated_at`

func scanSegment(row pgx.Row) (domain.RoadSegment, error) {
	var seg domain.RoadSegment
	err := row.Scan(
		&seg.ID, &seg.Name, &seg.Coordinates, &seg.RoadType, &seg.Status, &seg.GridCell,
		&seg.MinLat, &seg.MaxLat, &seg.MinLng, &seg.MaxLng, &seg.OsmID, &seg.CreatedAt, &seg.UpdatedAt,
	)
	return seg, err
}

func (s *Store) querySegments(ctx context.Context, query string, args ...any) ([]domain.RoadSegment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query segments: %w", err)
	}
	defer rows.Close()

	var results []domain.RoadSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan segment row: %w", err)
		}
		results = append(results, seg)
	}
	return results, rows.Err()
}

// SegmentByID returns the segment or domain.ErrNotFound.
func (s *Store) SegmentByID(ctx context.Context, id string) (domain.RoadSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM road_segments WHERE id = $1`
	seg, err := scanSegment(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoadSegment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RoadSegment{}, fmt.Errorf("postgres: failed to get segment: %w", err)
	}
	return seg, nil
}

// SegmentByOsmID returns the segment carrying the OSM id or domain.ErrNotFound.
func (s *Store) SegmentByOsmID(ctx context.Context, osmID string) (domain.RoadSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM road_segments WHERE osm_id = $1 LIMIT 1`
	seg, err := scanSegment(s.pool.QueryRow(ctx, query, osmID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoadSegment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RoadSegment{}, fmt.Errorf("postgres: failed to get segment by osm id: %w", err)
	}
	return seg, nil
}

// SegmentsByGridCell returns every segment in the cell, ordered by id.
func (s *Store) SegmentsByGridCell(ctx context.Context, cell string) ([]domain.RoadSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM road_segments WHERE grid_cell = $1 ORDER BY id`
	return s.querySegments(ctx, query, cell)
}

// SegmentsByStatus returns every segment with the status, ordered by id.
func (s *Store) SegmentsByStatus(ctx context.Context, status domain.RoadStatus) ([]domain.RoadSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM road_segments WHERE status = $1 ORDER BY id`
	return s.querySegments(ctx, query, string(status))
}

// ListSegments pages through segments ordered by id.
func (s *Store) ListSegments(ctx context.Context, cursor string, limit int, status *domain.RoadStatus) ([]domain.RoadSegment, string, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		segs []domain.RoadSegment
		err  error
	)
	// Fetch one extra row to decide whether a next page exists.
	if status != nil {
		query := `SELECT ` + segmentColumns + ` FROM road_segments
			WHERE id > $1 AND status = $2 ORDER BY id LIMIT $3`
		segs, err = s.querySegments(ctx, query, cursor, string(*status), limit+1)
	} else {
		query := `SELECT ` + segmentColumns + ` FROM road_segments
			WHERE id > $1 ORDER BY id LIMIT $2`
		segs, err = s.querySegments(ctx, query, cursor, limit+1)
	}
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(segs) > limit {
		segs = segs[:limit]
		next = segs[len(segs)-1].ID
	}
	return segs, next, nil
}

// SegmentsUpdatedInCells returns segments in any of the cells updated strictly
// after sinceMillis.
func (s *Store) SegmentsUpdatedInCells(ctx context.Context, cells []string, sinceMillis int64) ([]domain.RoadSegment, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	query := `SELECT ` + segmentColumns + ` FROM road_segments
		WHERE grid_cell = ANY($1) AND updated_at > $2 ORDER BY id`
	return s.querySegments(ctx, query, cells, sinceMillis)
}

// InsertSegment stores a new segment. A missing id gets a generated one.
func (s *Store) InsertSegment(ctx context.Context, seg domain.RoadSegment) (string, error) {
	query := `
		INSERT INTO road_segments (
			id, name, coordinates, road_type, status, grid_cell,
			min_lat, max_lat, min_lng, max_lng, osm_id, created_at, updated_at
		) VALUES (
			COALESCE(NULLIF($1, ''), 'road-' || substr(md5(random()::text), 1, 12)),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING id
	`
	var id string
	err := s.pool.QueryRow(ctx, query,
		seg.ID, seg.Name, seg.Coordinates, seg.RoadType, string(seg.Status), seg.GridCell,
		seg.MinLat, seg.MaxLat, seg.MinLng, seg.MaxLng, seg.OsmID, seg.CreatedAt, seg.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to insert segment: %w", err)
	}
	return id, nil
}

// UpdateSegmentStatus sets status and updated_at for one segment.
func (s *Store) UpdateSegmentStatus(ctx context.Context, id string, status domain.RoadStatus, updatedAtMillis int64) error {
	query := `UPDATE road_segments SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), updatedAtMillis)
	if err != nil {
		return fmt.Errorf("postgres: failed to update segment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateSpatialFields persists derived grid cell and bounding box values.
func (s *Store) UpdateSpatialFields(ctx context.Context, id string, gridCell string, bounds domain.BoundingBox, updatedAtMillis int64) error {
	query := `UPDATE road_segments
		SET grid_cell = $2, min_lat = $3, max_lat = $4, min_lng = $5, max_lng = $6, updated_at = $7
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, gridCell, bounds.MinLat, bounds.MaxLat, bounds.MinLng, bounds.MaxLng, updatedAtMillis)
	if err != nil {
		return fmt.Errorf("postgres: failed to update spatial fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAllSegments removes every segment and returns the count.
func (s *Store) DeleteAllSegments(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM road_segments`)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete segments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const deviceColumns = `id, name, api_key, lat, lng, influence_radius, is_alive, is_enabled, last_seen`

func scanDevice(row pgx.Row) (domain.IoTDevice, error) {
	var d domain.IoTDevice
	err := row.Scan(
		&d.ID, &d.Name, &d.APIKey, &d.Location[0], &d.Location[1],
		&d.InfluenceRadius, &d.IsAlive, &d.IsEnabled, &d.LastSeen,
	)
	return d, err
}

// DeviceByID returns the device or domain.ErrNotFound.
func (s *Store) DeviceByID(ctx context.Context, id string) (domain.IoTDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM iot_devices WHERE id = $1`
	d, err := scanDevice(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IoTDevice{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IoTDevice{}, fmt.Errorf("postgres: failed to get device: %w", err)
	}
	return d, nil
}

// DeviceByAPIKey returns the device owning the key or domain.ErrNotFound.
func (s *Store) DeviceByAPIKey(ctx context.Context, apiKey string) (domain.IoTDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM iot_devices WHERE api_key = $1`
	d, err := scanDevice(s.pool.QueryRow(ctx, query, apiKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IoTDevice{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.IoTDevice{}, fmt.Errorf("postgres: failed to get device by api key: %w", err)
	}
	return d, nil
}

// UpsertDevice inserts or fully replaces the device row.
func (s *Store) UpsertDevice(ctx context.Context, device domain.IoTDevice) error {
	query := `
		INSERT INTO iot_devices (id, name, api_key, lat, lng, influence_radius, is_alive, is_enabled, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			api_key = EXCLUDED.api_key,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			influence_radius = EXCLUDED.influence_radius,
			is_alive = EXCLUDED.is_alive,
			is_enabled = EXCLUDED.is_enabled,
			last_seen = EXCLUDED.last_seen
	`
	_, err := s.pool.Exec(ctx, query,
		device.ID, device.Name, device.APIKey, device.Location[0], device.Location[1],
		device.InfluenceRadius, device.IsAlive, device.IsEnabled, device.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert device: %w", err)
	}
	return nil
}

// Heartbeat marks the device alive and records when it was last heard.
func (s *Store) Heartbeat(ctx context.Context, id string, lastSeenMillis int64) error {
	query := `UPDATE iot_devices SET is_alive = TRUE, last_seen = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, lastSeenMillis)
	if err != nil {
		return fmt.Errorf("postgres: failed to record heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// InsertReading persists one sensor sample.
func (s *Store) InsertReading(ctx context.Context, reading domain.SensorReading) error {
	query := `INSERT INTO sensor_readings (device_id, reading_type, value, unit, ts)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		reading.DeviceID, string(reading.ReadingType), reading.Value, reading.Unit, reading.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert reading: %w", err)
	}
	return nil
}

// WaterLevelSince returns the device's water_level readings with
// ts >= sinceMillis, newest first.
func (s *Store) WaterLevelSince(ctx context.Context, deviceID string, sinceMillis int64) ([]domain.SensorReading, error) {
	query := `SELECT id::text, device_id, reading_type, value, unit, ts
		FROM sensor_readings
		WHERE device_id = $1 AND reading_type = $2 AND ts >= $3
		ORDER BY ts DESC`
	rows, err := s.pool.Query(ctx, query, deviceID, string(domain.ReadingWaterLevel), sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query readings: %w", err)
	}
	defer rows.Close()

	var results []domain.SensorReading
	for rows.Next() {
		var r domain.SensorReading
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.ReadingType, &r.Value, &r.Unit, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan reading row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// UpsertPrediction inserts or overwrites the row for (deviceId, timeHorizon).
func (s *Store) UpsertPrediction(ctx context.Context, p domain.Prediction) error {
	query := `
		INSERT INTO predictions (
			id, device_id, time_horizon, flood_probability, predicted_water_level,
			severity, predicted_at, valid_until, metadata
		) VALUES (
			COALESCE(NULLIF($1, ''), 'pred-' || substr(md5(random()::text), 1, 12)),
			$2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (device_id, time_horizon) DO UPDATE SET
			flood_probability = EXCLUDED.flood_probability,
			predicted_water_level = EXCLUDED.predicted_water_level,
			severity = EXCLUDED.severity,
			predicted_at = EXCLUDED.predicted_at,
			valid_until = EXCLUDED.valid_until,
			metadata = EXCLUDED.metadata
	`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.DeviceID, string(p.TimeHorizon), p.FloodProbability, p.PredictedWaterLevel,
		string(p.Severity), p.PredictedAt, p.ValidUntil, p.Metadata,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert prediction: %w", err)
	}
	return nil
}

// ActivePredictions returns the device's predictions with valid_until >= now.
func (s *Store) ActivePredictions(ctx context.Context, deviceID string, nowMillis int64) ([]domain.Prediction, error) {
	query := `SELECT id, device_id, time_horizon, flood_probability, predicted_water_level,
			severity, predicted_at, valid_until, metadata
		FROM predictions
		WHERE device_id = $1 AND valid_until >= $2
		ORDER BY time_horizon`
	rows, err := s.pool.Query(ctx, query, deviceID, nowMillis)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query predictions: %w", err)
	}
	defer rows.Close()

	var results []domain.Prediction
	for rows.Next() {
		var p domain.Prediction
		err := rows.Scan(
			&p.ID, &p.DeviceID, &p.TimeHorizon, &p.FloodProbability, &p.PredictedWaterLevel,
			&p.Severity, &p.PredictedAt, &p.ValidUntil, &p.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan prediction row: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// DeleteExpiredPredictions purges rows past their validity.
func (s *Store) DeleteExpiredPredictions(ctx context.Context, nowMillis int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM predictions WHERE valid_until < $1`, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete expired predictions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ActiveAlertByDevice returns the device's active, unexpired alert or
// domain.ErrNotFound. A zero expires_at never expires.
func (s *Store) ActiveAlertByDevice(ctx context.Context, deviceID string, nowMillis int64) (domain.Alert, error) {
	query := `SELECT id, device_id, severity, message, roads_affected, is_active, created_at, updated_at, expires_at
		FROM alerts
		WHERE device_id = $1 AND is_active AND (expires_at = 0 OR expires_at > $2)
		ORDER BY updated_at DESC
		LIMIT 1`
	var a domain.Alert
	err := s.pool.QueryRow(ctx, query, deviceID, nowMillis).Scan(
		&a.ID, &a.DeviceID, &a.Severity, &a.Message, &a.RoadsAffected,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt, &a.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Alert{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("postgres: failed to get active alert: %w", err)
	}
	return a, nil
}

// InsertAlert stores a new alert. A missing id gets a generated one.
func (s *Store) InsertAlert(ctx context.Context, alert domain.Alert) (string, error) {
	query := `
		INSERT INTO alerts (id, device_id, severity, message, roads_affected, is_active, created_at, updated_at, expires_at)
		VALUES (
			COALESCE(NULLIF($1, ''), 'alert-' || substr(md5(random()::text), 1, 12)),
			$2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING id
	`
	var id string
	err := s.pool.QueryRow(ctx, query,
		alert.ID, alert.DeviceID, string(alert.Severity), alert.Message, alert.RoadsAffected,
		alert.IsActive, alert.CreatedAt, alert.UpdatedAt, alert.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to insert alert: %w", err)
	}
	return id, nil
}

// UpdateAlert fully replaces the alert row.
func (s *Store) UpdateAlert(ctx context.Context, alert domain.Alert) error {
	query := `UPDATE alerts
		SET severity = $2, message = $3, roads_affected = $4, is_active = $5, updated_at = $6, expires_at = $7
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		alert.ID, string(alert.Severity), alert.Message, alert.RoadsAffected,
		alert.IsActive, alert.UpdatedAt, alert.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeactivateExpiredAlerts flips is_active off for alerts past expires_at.
func (s *Store) DeactivateExpiredAlerts(ctx context.Context, nowMillis int64) (int, error) {
	query := `UPDATE alerts SET is_active = FALSE WHERE is_active AND expires_at < $1`
	tag, err := s.pool.Exec(ctx, query, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to deactivate expired alerts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertWeatherSample persists one weather observation.
func (s *Store) InsertWeatherSample(ctx context.Context, sample domain.WeatherSample) error {
	query := `INSERT INTO weather_samples (humidity, rainfall_1h, rainfall_3h, condition, fetched_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		sample.Humidity, sample.Rainfall1h, sample.Rainfall3h, sample.Condition, sample.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert weather sample: %w", err)
	}
	return nil
}

// WeatherSince returns samples with fetched_at >= sinceMillis, newest first.
func (s *Store) WeatherSince(ctx context.Context, sinceMillis int64) ([]domain.WeatherSample, error) {
	query := `SELECT humidity, rainfall_1h, rainfall_3h, condition, fetched_at
		FROM weather_samples
		WHERE fetched_at >= $1
		ORDER BY fetched_at DESC`
	rows, err := s.pool.Query(ctx, query, sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query weather samples: %w", err)
	}
	defer rows.Close()

	var results []domain.WeatherSample
	for rows.Next() {
		var w domain.WeatherSample
		if err := rows.Scan(&w.Humidity, &w.Rainfall1h, &w.Rainfall3h, &w.Condition, &w.FetchedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan weather row: %w", err)
		}
		results = append(results, w)
	}
	return results, rows.Err()
}
