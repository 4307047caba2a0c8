package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RawReading is an unprocessed message from the readings source topic.
type RawReading struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// rawReadingPayload is the flat JSON the ingestion collaborators publish.
type rawReadingPayload struct {
	DeviceID    string  `json:"deviceId"`
	ReadingType string  `json:"readingType"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Timestamp   *int64  `json:"timestamp,omitempty"` // epoch ms; message time when absent
}

// ParseRawReading deserializes a RawReading's value into a SensorReading.
// The message timestamp fills in when the payload omits one.
func ParseRawReading(raw RawReading) (SensorReading, error) {
	var p rawReadingPayload
	if err := json.Unmarshal(raw.Value, &p); err != nil {
		return SensorReading{}, fmt.Errorf("parse raw reading: %w", err)
	}

	if p.DeviceID == "" {
		return SensorReading{}, fmt.Errorf("parse raw reading: missing deviceId")
	}
	rt := ReadingType(p.ReadingType)
	if !rt.Valid() {
		return SensorReading{}, fmt.Errorf("parse raw reading: unknown readingType %q", p.ReadingType)
	}

	ts := raw.Timestamp.UnixMilli()
	if p.Timestamp != nil && *p.Timestamp > 0 {
		ts = *p.Timestamp
	}

	return SensorReading{
		DeviceID:    p.DeviceID,
		ReadingType: rt,
		Value:       p.Value,
		Unit:        p.Unit,
		Timestamp:   ts,
	}, nil
}
