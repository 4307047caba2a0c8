// Package gridcache implements the map client's incremental segment cache.
//
// The cache tracks which grid cells have been fetched at least once and
// only requests cells the current (buffered) viewport needs that it has not
// seen. A periodic staleness pass re-queries every loaded cell for segments
// updated since the last pass. Both paths funnel through one merge keyed by
// UpdatedAt, so applying the same segment twice, or out of order, converges
// to the same state — which is what makes concurrent viewport and poll
// fetches harmless without cancellation.
package gridcache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/geo"
	"github.com/jonboulle/clockwork"
)

// Fetcher loads segments for the cache. internal/spatial.Service satisfies
// it; tests substitute counting fakes.
type Fetcher interface {
	SegmentsInCells(ctx context.Context, cells []string) ([]domain.RoadSegment, error)
	UpdatedInCells(ctx context.Context, cells []string, sinceMillis int64) ([]domain.RoadSegment, error)
}

const (
	// DefaultBufferFraction expands the viewport by 20% per side so panning
	// rarely hits an unloaded cell.
	DefaultBufferFraction = 0.20

	// DefaultStaleInterval is how often loaded cells are re-checked for
	// server-side changes.
	DefaultStaleInterval = 30 * time.Second
)

// Config tunes a Cache. Zero values take the defaults above and the real
// clock.
type Config struct {
	BufferFraction float64
	StaleInterval  time.Duration
	Clock          clockwork.Clock
}

// Cache is one map instance's segment cache. Construct with NewCache; the
// zero value is not usable. Safe for concurrent use.
type Cache struct {
	fetcher  Fetcher
	clock    clockwork.Clock
	buffer   float64
	interval time.Duration
	logger   *slog.Logger

	mu            sync.Mutex
	loadedCells   map[string]struct{}
	segments      map[string]domain.RoadSegment
	viewport      domain.BoundingBox
	hasViewport   bool
	everLoaded    bool
	inflight      int
	lastReconcile int64 // epoch ms of the previous staleness pass
}

// NewCache creates a cache over the fetcher.
func NewCache(fetcher Fetcher, cfg Config, logger *slog.Logger) *Cache {
	if cfg.BufferFraction <= 0 {
		cfg.BufferFraction = DefaultBufferFraction
	}
	if cfg.StaleInterval <= 0 {
		cfg.StaleInterval = DefaultStaleInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Cache{
		fetcher:     fetcher,
		clock:       cfg.Clock,
		buffer:      cfg.BufferFraction,
		interval:    cfg.StaleInterval,
		logger:      logger,
		loadedCells: make(map[string]struct{}),
		segments:    make(map[string]domain.RoadSegment),
	}
}

// SetViewport records the new (unexpanded) viewport and fetches whichever
// cells of the buffered viewport have never been loaded. Cells that return
// zero segments are still marked loaded so empty areas are not refetched on
// every pan.
func (c *Cache) SetViewport(ctx context.Context, viewport domain.BoundingBox) error {
	expanded := expand(viewport, c.buffer)
	cells := geo.CellsCovering(expanded)

	c.mu.Lock()
	c.viewport = viewport
	c.hasViewport = true

	var missing []string
	for _, cell := range cells {
		if _, ok := c.loadedCells[cell]; !ok {
			missing = append(missing, cell)
		}
	}
	if len(missing) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.inflight++
	c.mu.Unlock()

	segs, err := c.fetcher.SegmentsInCells(ctx, missing)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if err != nil {
		return fmt.Errorf("fetch cells: %w", err)
	}

	c.mergeLocked(segs)
	for _, cell := range missing {
		c.loadedCells[cell] = struct{}{}
	}
	c.everLoaded = true
	if c.lastReconcile == 0 {
		c.lastReconcile = c.clock.Now().UnixMilli()
	}
	return nil
}

// Reconcile runs one staleness pass over every loaded cell, merging any
// segments updated since the previous pass. A no-op before the first load.
func (c *Cache) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	if len(c.loadedCells) == 0 {
		c.mu.Unlock()
		return nil
	}
	cells := make([]string, 0, len(c.loadedCells))
	for cell := range c.loadedCells {
		cells = append(cells, cell)
	}
	sort.Strings(cells)
	since := c.lastReconcile
	// Stamp the pass start, not the end: a write landing during the fetch
	// is picked up again next pass instead of being skipped forever.
	passStart := c.clock.Now().UnixMilli()
	c.inflight++
	c.mu.Unlock()

	segs, err := c.fetcher.UpdatedInCells(ctx, cells, since)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight--
	if err != nil {
		return fmt.Errorf("staleness reconcile: %w", err)
	}

	c.mergeLocked(segs)
	c.lastReconcile = passStart
	return nil
}

// Run reconciles on the configured interval until the context is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := c.Reconcile(ctx); err != nil {
				c.logger.Warn("staleness reconcile failed", "error", err)
			}
		}
	}
}

// Visible returns the cached segments whose bounding box intersects the
// unexpanded viewport, sorted by id. Buffered-but-offscreen segments stay
// cached but are not returned.
func (c *Cache) Visible() []domain.RoadSegment {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasViewport {
		return nil
	}
	var out []domain.RoadSegment
	for _, seg := range c.segments {
		if seg.Bounds().Intersects(c.viewport) {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InitialLoad reports whether a fetch is outstanding and nothing has ever
// loaded — the only state where a client should block rendering.
func (c *Cache) InitialLoad() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.everLoaded && c.inflight > 0
}

// Fetching reports whether a fetch is outstanding while cached data already
// exists; clients keep rendering the stale data.
func (c *Cache) Fetching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.everLoaded && c.inflight > 0
}

// Len returns the number of cached segments, visible or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segments)
}

// Reset drops all cached state, returning the cache to its initial
// condition. Supports map re-instantiation without rebuilding the object
// graph.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadedCells = make(map[string]struct{})
	c.segments = make(map[string]domain.RoadSegment)
	c.viewport = domain.BoundingBox{}
	c.hasViewport = false
	c.everLoaded = false
	c.lastReconcile = 0
}

// mergeLocked applies fetched segments. A segment replaces the cached copy
// only when its id is new or its UpdatedAt is strictly newer, so merges are
// idempotent and commutative and a superseded fetch can never clobber
// fresher data. Caller holds c.mu.
func (c *Cache) mergeLocked(segs []domain.RoadSegment) {
	for _, seg := range segs {
		existing, ok := c.segments[seg.ID]
		if ok && existing.UpdatedAt >= seg.UpdatedAt {
			continue
		}
		c.segments[seg.ID] = seg
	}
}

// expand grows the box by fraction of its span on each side.
func expand(b domain.BoundingBox, fraction float64) domain.BoundingBox {
	latPad := (b.MaxLat - b.MinLat) * fraction
	lngPad := (b.MaxLng - b.MinLng) * fraction
	return domain.BoundingBox{
		MinLat: b.MinLat - latPad,
		MaxLat: b.MaxLat + latPad,
		MinLng: b.MinLng - lngPad,
		MaxLng: b.MaxLng + lngPad,
	}
}
