// Package weather talks to the hosted weather provider and feeds the
// shared, device-agnostic weather sample pool the prediction engine reads.
// The provider is a black box; only the sample shape matters.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/observability"
)

// Client fetches current conditions for the station coordinates.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	lat, lng   float64
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a weather provider client.
func NewClient(apiKey string, lat, lng float64, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://api.openweathermap.org/data/2.5/weather",
		lat:     lat,
		lng:     lng,
		metrics: metrics,
		logger:  logger,
	}
}

// Current fetches the latest observation and maps it onto the domain
// sample shape. Rainfall fields stay nil when the provider omits them.
func (c *Client) Current(ctx context.Context) (domain.WeatherSample, error) {
	params := url.Values{
		"lat":   {fmt.Sprintf("%.4f", c.lat)},
		"lon":   {fmt.Sprintf("%.4f", c.lng)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.WeatherSample{}, fmt.Errorf("create weather request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.WeatherFetches.WithLabelValues("error").Inc()
		return domain.WeatherSample{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.WeatherFetches.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return domain.WeatherSample{}, fmt.Errorf("weather provider error: status %d: %s", resp.StatusCode, body)
	}

	var wr response
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		c.metrics.WeatherFetches.WithLabelValues("error").Inc()
		return domain.WeatherSample{}, fmt.Errorf("decode weather response: %w", err)
	}
	c.metrics.WeatherFetches.WithLabelValues("success").Inc()

	sample := domain.WeatherSample{
		Humidity:   wr.Main.Humidity,
		Rainfall1h: wr.Rain.OneHour,
		Rainfall3h: wr.Rain.ThreeHour,
		FetchedAt:  domain.NowMillis(),
	}
	if len(wr.Weather) > 0 {
		sample.Condition = wr.Weather[0].Main
	}
	return sample, nil
}

// Provider API response types.

type response struct {
	Main struct {
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
	Rain struct {
		OneHour   *float64 `json:"1h,omitempty"`
		ThreeHour *float64 `json:"3h,omitempty"`
	} `json:"rain"`
}
