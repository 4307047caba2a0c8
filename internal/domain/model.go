package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RoadStatus is the displayed state of a road segment.
type RoadStatus string

const (
	RoadClear   RoadStatus = "clear"
	RoadRisk    RoadStatus = "risk"
	RoadFlooded RoadStatus = "flooded"
)

// Valid reports whether s is one of the three known statuses.
func (s RoadStatus) Valid() bool {
	switch s {
	case RoadClear, RoadRisk, RoadFlooded:
		return true
	}
	return false
}

// BoundingBox is an axis-aligned lat/lng rectangle.
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLng float64 `json:"minLng"`
	MaxLng float64 `json:"maxLng"`
}

// Intersects reports whether two boxes overlap, boundary touches included.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat &&
		b.MinLng <= o.MaxLng && b.MaxLng >= o.MinLng
}

// RoadSegment is one stretch of road on the monitored network.
//
// GridCell and the bounding box are derived from Coordinates; a segment with
// GridCell == "" predates the spatial migration and is invisible to viewport
// and radius queries until MigrateSpatialFields backfills it.
type RoadSegment struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Coordinates [][]float64 `json:"coordinates"` // ordered [lat, lng] pairs, ≥2 points
	RoadType    string      `json:"roadType,omitempty"`
	Status      RoadStatus  `json:"status"`
	GridCell    string      `json:"gridCell,omitempty"`
	MinLat      float64     `json:"minLat,omitempty"`
	MaxLat      float64     `json:"maxLat,omitempty"`
	MinLng      float64     `json:"minLng,omitempty"`
	MaxLng      float64     `json:"maxLng,omitempty"`
	OsmID       string      `json:"osmId,omitempty"`
	CreatedAt   int64       `json:"createdAt"`
	UpdatedAt   int64       `json:"updatedAt"`
}

// HasSpatialFields reports whether the derived spatial fields are populated.
func (r RoadSegment) HasSpatialFields() bool {
	return r.GridCell != ""
}

// Bounds returns the stored bounding box.
func (r RoadSegment) Bounds() BoundingBox {
	return BoundingBox{MinLat: r.MinLat, MaxLat: r.MaxLat, MinLng: r.MinLng, MaxLng: r.MaxLng}
}

// SegmentID produces a deterministic segment ID from the external OSM id, or
// from name plus first coordinate when no OSM id exists. Deterministic IDs
// make re-imports idempotent without distributed coordination.
func SegmentID(osmID, name string, lat, lng float64) string {
	input := fmt.Sprintf("%s|%s|%.6f|%.6f", osmID, name, lat, lng)
	hash := sha256.Sum256([]byte(input))
	return "road-" + hex.EncodeToString(hash[:8])
}

// DefaultInfluenceRadiusMeters applies when a device registration omits one.
const DefaultInfluenceRadiusMeters = 500.0

// IoTDevice is a registered water-level station.
type IoTDevice struct {
	ID              string     `json:"id"`
	Name            string     `json:"name,omitempty"`
	APIKey          string     `json:"apiKey"`
	Location        [2]float64 `json:"location"`        // [lat, lng]
	InfluenceRadius float64    `json:"influenceRadius"` // meters
	IsAlive         bool       `json:"isAlive"`
	IsEnabled       bool       `json:"isEnabled"`
	LastSeen        int64      `json:"lastSeen"`
}

// ReadingType identifies what a sensor sample measures.
type ReadingType string

const (
	ReadingWaterLevel  ReadingType = "water_level"
	ReadingRainfall    ReadingType = "rainfall"
	ReadingFlowRate    ReadingType = "flow_rate"
	ReadingTemperature ReadingType = "temperature"
	ReadingHumidity    ReadingType = "humidity"
)

// Valid reports whether t is a known reading type.
func (t ReadingType) Valid() bool {
	switch t {
	case ReadingWaterLevel, ReadingRainfall, ReadingFlowRate, ReadingTemperature, ReadingHumidity:
		return true
	}
	return false
}

// SensorReading is one sample reported by a device.
type SensorReading struct {
	ID          string      `json:"id,omitempty"`
	DeviceID    string      `json:"deviceId"`
	ReadingType ReadingType `json:"readingType"`
	Value       float64     `json:"value"`
	Unit        string      `json:"unit"`
	Timestamp   int64       `json:"timestamp"`
}

// TimeHorizon is a prediction look-ahead window.
type TimeHorizon string

const (
	Horizon1h TimeHorizon = "1h"
	Horizon2h TimeHorizon = "2h"
	Horizon4h TimeHorizon = "4h"
	Horizon8h TimeHorizon = "8h"
)

// Horizons lists every window a prediction cycle produces, ascending.
var Horizons = []TimeHorizon{Horizon1h, Horizon2h, Horizon4h, Horizon8h}

// Hours returns the horizon length in hours, or 0 for an unknown horizon.
func (h TimeHorizon) Hours() float64 {
	switch h {
	case Horizon1h:
		return 1
	case Horizon2h:
		return 2
	case Horizon4h:
		return 4
	case Horizon8h:
		return 8
	}
	return 0
}

// PredictionMetadata records the inputs a prediction was computed from, for
// operator diagnostics.
type PredictionMetadata struct {
	CurrentLevel       float64 `json:"currentLevel"`
	TrendFactor        float64 `json:"trendFactor"`
	WeatherFactor      float64 `json:"weatherFactor"`
	ReadingCount       int     `json:"readingCount"`
	WeatherSampleCount int     `json:"weatherSampleCount"`
}

// Prediction is one projected flood state for a (device, horizon) pair.
// At most one live row exists per pair; writes are upserts.
type Prediction struct {
	ID                  string              `json:"id,omitempty"`
	DeviceID            string              `json:"deviceId"`
	TimeHorizon         TimeHorizon         `json:"timeHorizon"`
	FloodProbability    float64             `json:"floodProbability"`
	PredictedWaterLevel *float64            `json:"predictedWaterLevel,omitempty"` // cm
	Severity            Severity            `json:"severity"`
	PredictedAt         int64               `json:"predictedAt"`
	ValidUntil          int64               `json:"validUntil"`
	Metadata            *PredictionMetadata `json:"metadata,omitempty"`
}

// Expired reports whether the prediction is past its validity window.
func (p Prediction) Expired(nowMillis int64) bool {
	return p.ValidUntil < nowMillis
}

// Alert is the user-facing notification for a device's flood state. One
// active alert exists per device; its severity only escalates within the
// same alert, never auto-downgrades.
type Alert struct {
	ID            string        `json:"id,omitempty"`
	DeviceID      string        `json:"deviceId"`
	Severity      AlertSeverity `json:"severity"`
	Message       string        `json:"message"`
	RoadsAffected int           `json:"roadsAffected"`
	IsActive      bool          `json:"isActive"`
	CreatedAt     int64         `json:"createdAt"`
	UpdatedAt     int64         `json:"updatedAt"`
	ExpiresAt     int64         `json:"expiresAt"`
}

// WeatherSample is one observation from the shared, device-agnostic weather
// pool. Rainfall fields are pointers because the provider omits them when
// there has been no rain.
type WeatherSample struct {
	Humidity   float64  `json:"humidity"`
	Rainfall1h *float64 `json:"rainfall1h,omitempty"` // mm over the last hour
	Rainfall3h *float64 `json:"rainfall3h,omitempty"` // mm over the last three hours
	Condition  string   `json:"weatherCondition"`
	FetchedAt  int64    `json:"fetchedAt"`
}
