package weather

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-watch/internal/domain"
)

// Fetcher is the piece of Client the poller depends on.
type Fetcher interface {
	Current(ctx context.Context) (domain.WeatherSample, error)
}

// Poller periodically fetches current conditions and stores them in the
// shared weather pool. Fetch failures are logged and retried on the next
// tick; the pool simply goes stale until the provider recovers.
type Poller struct {
	fetcher  Fetcher
	store    domain.WeatherStore
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewPoller creates a weather poller.
func NewPoller(fetcher Fetcher, store domain.WeatherStore, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
}

// SetClock overrides the poller clock. Intended for tests.
func (p *Poller) SetClock(c clockwork.Clock) {
	if c == nil {
		p.clock = clockwork.NewRealClock()
		return
	}
	p.clock = c
}

// Run fetches once immediately, then on every interval tick until the
// context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.fetchOnce(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("weather poller stopping")
			return ctx.Err()
		case <-ticker.Chan():
			p.fetchOnce(ctx)
		}
	}
}

func (p *Poller) fetchOnce(ctx context.Context) {
	sample, err := p.fetcher.Current(ctx)
	if err != nil {
		p.logger.Warn("weather fetch failed", "error", err)
		return
	}
	if err := p.store.InsertWeatherSample(ctx, sample); err != nil {
		p.logger.Warn("failed to store weather sample", "error", err)
		return
	}
	p.logger.Debug("weather sample stored",
		"condition", sample.Condition,
		"humidity", sample.Humidity,
	)
}
