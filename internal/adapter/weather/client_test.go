package weather

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey           = "test-key"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(baseURL string) *Client {
	return &Client{
		apiKey:     testKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		lat:        13.6218,
		lng:        123.1948,
		metrics:    testMetrics(),
		logger:     discardLogger(),
	}
}

func float64Ptr(v float64) *float64 { return &v }

func TestClient_Current_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "13.6218", r.URL.Query().Get("lat"))
		assert.Equal(t, "123.1948", r.URL.Query().Get("lon"))
		assert.Equal(t, testKey, r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))

		var resp response
		resp.Main.Humidity = 85
		resp.Weather = []struct {
			Main string `json:"main"`
		}{{Main: "Rain"}}
		resp.Rain.OneHour = float64Ptr(4.5)
		resp.Rain.ThreeHour = float64Ptr(10.2)

		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	fakeClock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	domain.SetClock(fakeClock)
	defer domain.SetClock(nil)

	c := testClient(srv.URL)
	sample, err := c.Current(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 85.0, sample.Humidity)
	assert.Equal(t, "Rain", sample.Condition)
	require.NotNil(t, sample.Rainfall1h)
	assert.Equal(t, 4.5, *sample.Rainfall1h)
	require.NotNil(t, sample.Rainfall3h)
	assert.Equal(t, 10.2, *sample.Rainfall3h)
	assert.Equal(t, int64(1_700_000_000_000), sample.FetchedAt)
}

func TestClient_Current_NoRain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, err := w.Write([]byte(`{"main":{"humidity":60},"weather":[{"main":"Clear"}]}`))
		require.NoError(t, err)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	sample, err := c.Current(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 60.0, sample.Humidity)
	assert.Equal(t, "Clear", sample.Condition)
	assert.Nil(t, sample.Rainfall1h)
	assert.Nil(t, sample.Rainfall3h)
}

func TestClient_Current_EmptyWeatherArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, err := w.Write([]byte(`{"main":{"humidity":60},"weather":[]}`))
		require.NoError(t, err)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	sample, err := c.Current(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sample.Condition)
}

func TestClient_Current_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"cod":401,"message":"Invalid API key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Current(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestClient_Current_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, err := w.Write([]byte(`{not json`))
		require.NoError(t, err)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Current(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode weather response")
}

func TestClient_Current_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(srv.URL)
	_, err := c.Current(ctx)
	require.Error(t, err)
}
