package kafka

import (
	"testing"
	"time"

	"github.com/couchcryptid/flood-watch/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessageToRawReading(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("station-1"),
		Value:     []byte(`{"deviceId":"station-1"}`),
		Topic:     "sensor-readings",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("gateway")},
		},
	}

	raw := mapMessageToRawReading(msg)

	assert.Equal(t, []byte("station-1"), raw.Key)
	assert.JSONEq(t, `{"deviceId":"station-1"}`, string(raw.Value))
	assert.Equal(t, "sensor-readings", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "gateway", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestSerializeAlert(t *testing.T) {
	alert := domain.Alert{
		ID:            "alert-1",
		DeviceID:      "station-1",
		Severity:      domain.AlertDanger,
		Message:       "Flood alert: water level 55 cm",
		RoadsAffected: 3,
		IsActive:      true,
		CreatedAt:     1_700_000_000_000,
		UpdatedAt:     1_700_000_060_000,
		ExpiresAt:     1_700_028_800_000,
	}

	msg, err := serializeAlert(alert)
	require.NoError(t, err)

	assert.Equal(t, []byte("station-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"severity":"danger"`)
	assert.Contains(t, string(msg.Value), `"roadsAffected":3`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "severity", msg.Headers[0].Key)
	assert.Equal(t, []byte("danger"), msg.Headers[0].Value)
	assert.Equal(t, "updated_at", msg.Headers[1].Key)
	assert.Equal(t, []byte("1700000060000"), msg.Headers[1].Value)
}
