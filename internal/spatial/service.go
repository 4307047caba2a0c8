// Package spatial implements the road-network query engine: viewport and
// radius lookups over the grid index, bulk import with OSM-id dedup, and
// the cursor-paginated spatial-field migration.
package spatial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/geo"
)

// Service answers spatial queries and mutations against a SegmentStore.
type Service struct {
	segments domain.SegmentStore
	logger   *slog.Logger
}

// New creates a spatial service over the given segment store.
func New(segments domain.SegmentStore, logger *slog.Logger) *Service {
	return &Service{segments: segments, logger: logger}
}

// SegmentsInCells returns the union of the indexed lookups for each cell,
// deduplicated by id and sorted for stable output.
func (s *Service) SegmentsInCells(ctx context.Context, cells []string) ([]domain.RoadSegment, error) {
	seen := make(map[string]struct{})
	var out []domain.RoadSegment
	for _, cell := range cells {
		segs, err := s.segments.SegmentsByGridCell(ctx, cell)
		if err != nil {
			return nil, fmt.Errorf("segments in cell %s: %w", cell, err)
		}
		for _, seg := range segs {
			if _, ok := seen[seg.ID]; ok {
				continue
			}
			seen[seg.ID] = struct{}{}
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdatedInCells returns segments in the cells changed strictly after
// sinceMillis. Delta query behind the client cache's staleness poll.
func (s *Service) UpdatedInCells(ctx context.Context, cells []string, sinceMillis int64) ([]domain.RoadSegment, error) {
	segs, err := s.segments.SegmentsUpdatedInCells(ctx, cells, sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("updated in cells: %w", err)
	}
	return segs, nil
}

// ByViewport returns segments intersecting the bounds. Grid cells are a
// coarse prefilter; the exact bounding-box test afterwards drops segments
// whose cell intersects the viewport but whose geometry does not, and the
// id set dedups segments spanning several cells. Segments without spatial
// fields never appear (pre-migration degraded mode).
func (s *Service) ByViewport(ctx context.Context, bounds domain.BoundingBox) ([]domain.RoadSegment, error) {
	candidates, err := s.SegmentsInCells(ctx, geo.CellsCovering(bounds))
	if err != nil {
		return nil, err
	}

	out := candidates[:0]
	for _, seg := range candidates {
		if seg.HasSpatialFields() && seg.Bounds().Intersects(bounds) {
			out = append(out, seg)
		}
	}
	return out, nil
}

// WithinRadius returns segments with at least one coordinate within
// radiusMeters of the point. The degree-box viewport query prefilters;
// haversine against every candidate point decides membership.
func (s *Service) WithinRadius(ctx context.Context, lat, lng, radiusMeters float64) ([]domain.RoadSegment, error) {
	candidates, err := s.ByViewport(ctx, geo.RadiusBounds(lat, lng, radiusMeters))
	if err != nil {
		return nil, err
	}

	out := candidates[:0]
	for _, seg := range candidates {
		if anyPointWithin(seg.Coordinates, lat, lng, radiusMeters) {
			out = append(out, seg)
		}
	}
	return out, nil
}

func anyPointWithin(coordinates [][]float64, lat, lng, radiusMeters float64) bool {
	for _, p := range coordinates {
		if len(p) < 2 {
			continue
		}
		if geo.HaversineMeters(lat, lng, p[0], p[1]) <= radiusMeters {
			return true
		}
	}
	return false
}

// SegmentInput is one row of a bulk import.
type SegmentInput struct {
	Name        string      `json:"name"`
	Coordinates [][]float64 `json:"coordinates"`
	RoadType    string      `json:"roadType,omitempty"`
	OsmID       string      `json:"osmId,omitempty"`
}

// ImportResult aggregates a bulk import batch.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// BulkImport inserts segments, deduplicating by OSM id both within the
// batch and against stored rows (indexed lookup, not a scan). Spatial
// fields are computed before insert; a row with bad geometry is counted as
// skipped, never aborts the batch. Rows without an OSM id are always
// inserted. Callers chunk their batches to stay under the store's
// single-call limits.
func (s *Service) BulkImport(ctx context.Context, inputs []SegmentInput) (ImportResult, error) {
	res := ImportResult{Total: len(inputs)}
	seenOsm := make(map[string]struct{})

	for _, in := range inputs {
		if in.OsmID != "" {
			if _, dup := seenOsm[in.OsmID]; dup {
				res.Skipped++
				continue
			}
			seenOsm[in.OsmID] = struct{}{}

			_, err := s.segments.SegmentByOsmID(ctx, in.OsmID)
			switch {
			case err == nil:
				res.Skipped++
				continue
			case !errors.Is(err, domain.ErrNotFound):
				return res, fmt.Errorf("dedup lookup osmId %s: %w", in.OsmID, err)
			}
		}

		if len(in.Coordinates) < 2 {
			s.logger.Warn("skipping import row with insufficient geometry",
				"name", in.Name, "osm_id", in.OsmID, "points", len(in.Coordinates))
			res.Skipped++
			continue
		}
		bounds, err := geo.BoundingBoxOf(in.Coordinates)
		if err != nil {
			s.logger.Warn("skipping import row with invalid geometry",
				"name", in.Name, "osm_id", in.OsmID, "error", err)
			res.Skipped++
			continue
		}

		now := domain.NowMillis()
		first := in.Coordinates[0]
		seg := domain.RoadSegment{
			ID:          domain.SegmentID(in.OsmID, in.Name, first[0], first[1]),
			Name:        in.Name,
			Coordinates: in.Coordinates,
			RoadType:    in.RoadType,
			Status:      domain.RoadClear,
			GridCell:    geo.GridCell(first[0], first[1]),
			MinLat:      bounds.MinLat,
			MaxLat:      bounds.MaxLat,
			MinLng:      bounds.MinLng,
			MaxLng:      bounds.MaxLng,
			OsmID:       in.OsmID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := s.segments.InsertSegment(ctx, seg); err != nil {
			return res, fmt.Errorf("insert segment %s: %w", seg.Name, err)
		}
		res.Imported++
	}

	return res, nil
}

// MigrateResult aggregates one page of the spatial-field backfill.
type MigrateResult struct {
	Updated        int    `json:"updated"`
	Skipped        int    `json:"skipped"`
	Processed      int    `json:"processed"`
	ContinueCursor string `json:"continueCursor,omitempty"`
	IsDone         bool   `json:"isDone"`
}

// MigrateSpatialFields backfills gridCell and bounding box for one page of
// segments. Idempotent: rows already carrying spatial fields are skipped,
// so re-running a migrated range reports zero updates. A malformed geometry
// skips that row only. The caller drives paging with ContinueCursor until
// IsDone.
func (s *Service) MigrateSpatialFields(ctx context.Context, cursor string, limit int) (MigrateResult, error) {
	segs, next, err := s.segments.ListSegments(ctx, cursor, limit, nil)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("migrate list page: %w", err)
	}

	res := MigrateResult{Processed: len(segs), ContinueCursor: next, IsDone: next == ""}
	for _, seg := range segs {
		if seg.HasSpatialFields() {
			res.Skipped++
			continue
		}
		if len(seg.Coordinates) == 0 || len(seg.Coordinates[0]) < 2 {
			s.logger.Warn("migration skipping segment with invalid geometry", "id", seg.ID)
			res.Skipped++
			continue
		}
		bounds, err := geo.BoundingBoxOf(seg.Coordinates)
		if err != nil {
			s.logger.Warn("migration skipping segment with invalid geometry", "id", seg.ID, "error", err)
			res.Skipped++
			continue
		}

		cell := geo.GridCell(seg.Coordinates[0][0], seg.Coordinates[0][1])
		if err := s.segments.UpdateSpatialFields(ctx, seg.ID, cell, bounds, domain.NowMillis()); err != nil {
			return res, fmt.Errorf("migrate segment %s: %w", seg.ID, err)
		}
		res.Updated++
	}
	return res, nil
}

// UpdateStatus sets one segment's status. Fails fast on an unknown status
// or a missing segment.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.RoadStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update status: unknown status %q", status)
	}
	if err := s.segments.UpdateSegmentStatus(ctx, id, status, domain.NowMillis()); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// UpdateStatusBulk sets the status on every id, returning how many rows
// changed. Missing ids are skipped and logged rather than failing the
// batch; the id set comes from a query that may race deletions.
func (s *Service) UpdateStatusBulk(ctx context.Context, ids []string, status domain.RoadStatus) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("update status bulk: unknown status %q", status)
	}

	updated := 0
	now := domain.NowMillis()
	for _, id := range ids {
		err := s.segments.UpdateSegmentStatus(ctx, id, status, now)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("bulk status update: segment vanished", "id", id)
			continue
		}
		if err != nil {
			return updated, fmt.Errorf("update status bulk: %w", err)
		}
		updated++
	}
	return updated, nil
}

// ClearAll removes every segment. Explicit operator action only.
func (s *Service) ClearAll(ctx context.Context) (int, error) {
	n, err := s.segments.DeleteAllSegments(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear segments: %w", err)
	}
	s.logger.Info("cleared road segments", "count", n)
	return n, nil
}
