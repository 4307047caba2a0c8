package domain

import "context"

// The store interfaces describe the key-indexed, paginated persistence
// substrate the service runs against. internal/store/postgres implements
// them on pgx; internal/store/memory implements them for tests and for
// running without a database. Method names are collection-qualified so one
// store type can satisfy every contract.

// SegmentStore persists road segments, indexed by id, status, osmId, and
// gridCell.
type SegmentStore interface {
	// SegmentByID returns ErrNotFound when the segment does not exist.
	SegmentByID(ctx context.Context, id string) (RoadSegment, error)

	// SegmentByOsmID returns ErrNotFound when no segment carries the OSM id.
	SegmentByOsmID(ctx context.Context, osmID string) (RoadSegment, error)

	// SegmentsByGridCell returns every segment whose gridCell equals cell.
	SegmentsByGridCell(ctx context.Context, cell string) ([]RoadSegment, error)

	// SegmentsByStatus returns every segment with the given status.
	SegmentsByStatus(ctx context.Context, status RoadStatus) ([]RoadSegment, error)

	// ListSegments pages through segments ordered by id, starting after
	// cursor (empty cursor starts from the beginning). status narrows
	// results when non-nil. The returned cursor is empty once the scan is
	// done.
	ListSegments(ctx context.Context, cursor string, limit int, status *RoadStatus) ([]RoadSegment, string, error)

	// SegmentsUpdatedInCells returns segments in any of the cells whose
	// UpdatedAt is strictly after sinceMillis. Backs the staleness delta
	// query.
	SegmentsUpdatedInCells(ctx context.Context, cells []string, sinceMillis int64) ([]RoadSegment, error)

	// InsertSegment stores a new segment and returns its id.
	InsertSegment(ctx context.Context, seg RoadSegment) (string, error)

	// UpdateSegmentStatus sets status and updatedAt. ErrNotFound when
	// missing.
	UpdateSegmentStatus(ctx context.Context, id string, status RoadStatus, updatedAtMillis int64) error

	// UpdateSpatialFields persists derived gridCell and bounding box values.
	UpdateSpatialFields(ctx context.Context, id string, gridCell string, bounds BoundingBox, updatedAtMillis int64) error

	// DeleteAllSegments removes every segment (explicit clear operation)
	// and returns the number removed.
	DeleteAllSegments(ctx context.Context) (int, error)
}

// DeviceStore persists IoT devices, indexed by id and apiKey.
type DeviceStore interface {
	DeviceByID(ctx context.Context, id string) (IoTDevice, error)
	DeviceByAPIKey(ctx context.Context, apiKey string) (IoTDevice, error)
	UpsertDevice(ctx context.Context, device IoTDevice) error

	// Heartbeat marks the device alive and records when it was last heard.
	Heartbeat(ctx context.Context, id string, lastSeenMillis int64) error
}

// ReadingStore persists sensor readings.
type ReadingStore interface {
	InsertReading(ctx context.Context, reading SensorReading) error

	// WaterLevelSince returns the device's water_level readings with
	// Timestamp >= sinceMillis, newest first.
	WaterLevelSince(ctx context.Context, deviceID string, sinceMillis int64) ([]SensorReading, error)
}

// PredictionStore persists predictions keyed by (deviceId, timeHorizon).
type PredictionStore interface {
	// UpsertPrediction inserts or overwrites the row for
	// (p.DeviceID, p.TimeHorizon).
	UpsertPrediction(ctx context.Context, p Prediction) error

	// ActivePredictions returns the device's predictions with
	// ValidUntil >= nowMillis.
	ActivePredictions(ctx context.Context, deviceID string, nowMillis int64) ([]Prediction, error)

	// DeleteExpiredPredictions purges rows past their validity and returns
	// the count. Called by an external scheduler, not by the core paths.
	DeleteExpiredPredictions(ctx context.Context, nowMillis int64) (int, error)
}

// AlertStore persists alerts; at most one active alert per device.
type AlertStore interface {
	// ActiveAlertByDevice returns ErrNotFound when the device has no
	// active, unexpired alert. An alert is unexpired while ExpiresAt is
	// strictly after nowMillis; a zero ExpiresAt never expires.
	ActiveAlertByDevice(ctx context.Context, deviceID string, nowMillis int64) (Alert, error)

	InsertAlert(ctx context.Context, alert Alert) (string, error)
	UpdateAlert(ctx context.Context, alert Alert) error

	// DeactivateExpiredAlerts flips IsActive off for alerts past ExpiresAt
	// and returns the count.
	DeactivateExpiredAlerts(ctx context.Context, nowMillis int64) (int, error)
}

// WeatherStore persists the shared, device-agnostic weather sample pool.
type WeatherStore interface {
	InsertWeatherSample(ctx context.Context, sample WeatherSample) error

	// WeatherSince returns samples with FetchedAt >= sinceMillis, newest
	// first.
	WeatherSince(ctx context.Context, sinceMillis int64) ([]WeatherSample, error)
}
