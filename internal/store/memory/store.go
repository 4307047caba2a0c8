// Package memory implements the domain store contracts with in-process
// maps. It backs the unit tests and the binary's no-database fallback mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/couchcryptid/flood-watch/internal/domain"
)

// Store holds every collection behind one mutex. Contention is irrelevant at
// test and fallback scale; a single lock keeps multi-collection operations
// trivially consistent.
type Store struct {
	mu sync.RWMutex

	segments map[string]domain.RoadSegment
	osmIndex map[string]string // osmId -> segment id

	devices     map[string]domain.IoTDevice
	apiKeyIndex map[string]string // apiKey -> device id

	readings    []domain.SensorReading
	predictions map[string]domain.Prediction // deviceId|horizon -> row
	alerts      map[string]domain.Alert
	weather     []domain.WeatherSample

	seq int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		segments:    make(map[string]domain.RoadSegment),
		osmIndex:    make(map[string]string),
		devices:     make(map[string]domain.IoTDevice),
		apiKeyIndex: make(map[string]string),
		predictions: make(map[string]domain.Prediction),
		alerts:      make(map[string]domain.Alert),
	}
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%06d", prefix, s.seq)
}

// Health reports store availability; in-process maps are always reachable.
func (s *Store) Health(_ context.Context) error {
	return nil
}

// --- SegmentStore ---

func (s *Store) SegmentByID(_ context.Context, id string) (domain.RoadSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[id]
	if !ok {
		return domain.RoadSegment{}, fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	return seg, nil
}

func (s *Store) SegmentByOsmID(_ context.Context, osmID string) (domain.RoadSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.osmIndex[osmID]
	if !ok {
		return domain.RoadSegment{}, fmt.Errorf("segment with osmId %s: %w", osmID, domain.ErrNotFound)
	}
	return s.segments[id], nil
}

func (s *Store) SegmentsByGridCell(_ context.Context, cell string) ([]domain.RoadSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RoadSegment
	for _, seg := range s.segments {
		if seg.GridCell == cell {
			out = append(out, seg)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *Store) SegmentsByStatus(_ context.Context, status domain.RoadStatus) ([]domain.RoadSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.RoadSegment
	for _, seg := range s.segments {
		if seg.Status == status {
			out = append(out, seg)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *Store) ListSegments(_ context.Context, cursor string, limit int, status *domain.RoadStatus) ([]domain.RoadSegment, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.segments))
	for id := range s.segments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []domain.RoadSegment
	for _, id := range ids {
		if cursor != "" && id <= cursor {
			continue
		}
		seg := s.segments[id]
		if status != nil && seg.Status != *status {
			continue
		}
		out = append(out, seg)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	next := ""
	if len(out) > 0 {
		last := out[len(out)-1].ID
		// Only hand back a cursor when rows remain past the page.
		for _, id := range ids {
			if id > last {
				next = last
				break
			}
		}
	}
	return out, next, nil
}

func (s *Store) SegmentsUpdatedInCells(_ context.Context, cells []string, sinceMillis int64) ([]domain.RoadSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(cells))
	for _, c := range cells {
		wanted[c] = struct{}{}
	}

	var out []domain.RoadSegment
	for _, seg := range s.segments {
		if _, ok := wanted[seg.GridCell]; !ok {
			continue
		}
		if seg.UpdatedAt > sinceMillis {
			out = append(out, seg)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *Store) InsertSegment(_ context.Context, seg domain.RoadSegment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg.ID == "" {
		seg.ID = s.nextID("road")
	}
	s.segments[seg.ID] = seg
	if seg.OsmID != "" {
		s.osmIndex[seg.OsmID] = seg.ID
	}
	return seg.ID, nil
}

func (s *Store) UpdateSegmentStatus(_ context.Context, id string, status domain.RoadStatus, updatedAtMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[id]
	if !ok {
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	seg.Status = status
	seg.UpdatedAt = updatedAtMillis
	s.segments[id] = seg
	return nil
}

func (s *Store) UpdateSpatialFields(_ context.Context, id string, gridCell string, bounds domain.BoundingBox, updatedAtMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[id]
	if !ok {
		return fmt.Errorf("segment %s: %w", id, domain.ErrNotFound)
	}
	seg.GridCell = gridCell
	seg.MinLat = bounds.MinLat
	seg.MaxLat = bounds.MaxLat
	seg.MinLng = bounds.MinLng
	seg.MaxLng = bounds.MaxLng
	seg.UpdatedAt = updatedAtMillis
	s.segments[id] = seg
	return nil
}

func (s *Store) DeleteAllSegments(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.segments)
	s.segments = make(map[string]domain.RoadSegment)
	s.osmIndex = make(map[string]string)
	return n, nil
}

// --- DeviceStore ---

func (s *Store) DeviceByID(_ context.Context, id string) (domain.IoTDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return domain.IoTDevice{}, fmt.Errorf("device %s: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

func (s *Store) DeviceByAPIKey(_ context.Context, apiKey string) (domain.IoTDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.apiKeyIndex[apiKey]
	if !ok {
		return domain.IoTDevice{}, fmt.Errorf("device with api key: %w", domain.ErrNotFound)
	}
	return s.devices[id], nil
}

func (s *Store) UpsertDevice(_ context.Context, device domain.IoTDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device.ID == "" {
		device.ID = s.nextID("dev")
	}
	if device.InfluenceRadius <= 0 {
		device.InfluenceRadius = domain.DefaultInfluenceRadiusMeters
	}
	s.devices[device.ID] = device
	if device.APIKey != "" {
		s.apiKeyIndex[device.APIKey] = device.ID
	}
	return nil
}

func (s *Store) Heartbeat(_ context.Context, id string, lastSeenMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return fmt.Errorf("device %s: %w", id, domain.ErrNotFound)
	}
	d.IsAlive = true
	d.LastSeen = lastSeenMillis
	s.devices[id] = d
	return nil
}

// --- ReadingStore ---

func (s *Store) InsertReading(_ context.Context, reading domain.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reading.ID == "" {
		reading.ID = s.nextID("read")
	}
	s.readings = append(s.readings, reading)
	return nil
}

func (s *Store) WaterLevelSince(_ context.Context, deviceID string, sinceMillis int64) ([]domain.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SensorReading
	for _, r := range s.readings {
		if r.DeviceID == deviceID && r.ReadingType == domain.ReadingWaterLevel && r.Timestamp >= sinceMillis {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// --- PredictionStore ---

func predictionKey(deviceID string, horizon domain.TimeHorizon) string {
	return deviceID + "|" + string(horizon)
}

func (s *Store) UpsertPrediction(_ context.Context, p domain.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := predictionKey(p.DeviceID, p.TimeHorizon)
	if existing, ok := s.predictions[key]; ok {
		p.ID = existing.ID
	} else if p.ID == "" {
		p.ID = s.nextID("pred")
	}
	s.predictions[key] = p
	return nil
}

func (s *Store) ActivePredictions(_ context.Context, deviceID string, nowMillis int64) ([]domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Prediction
	for _, p := range s.predictions {
		if p.DeviceID == deviceID && !p.Expired(nowMillis) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeHorizon < out[j].TimeHorizon })
	return out, nil
}

func (s *Store) DeleteExpiredPredictions(_ context.Context, nowMillis int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, p := range s.predictions {
		if p.Expired(nowMillis) {
			delete(s.predictions, key)
			n++
		}
	}
	return n, nil
}

// --- AlertStore ---

func (s *Store) ActiveAlertByDevice(_ context.Context, deviceID string, nowMillis int64) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.DeviceID == deviceID && a.IsActive && (a.ExpiresAt == 0 || a.ExpiresAt > nowMillis) {
			return a, nil
		}
	}
	return domain.Alert{}, fmt.Errorf("active alert for device %s: %w", deviceID, domain.ErrNotFound)
}

func (s *Store) InsertAlert(_ context.Context, alert domain.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.ID == "" {
		alert.ID = s.nextID("alert")
	}
	s.alerts[alert.ID] = alert
	return alert.ID, nil
}

func (s *Store) UpdateAlert(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[alert.ID]; !ok {
		return fmt.Errorf("alert %s: %w", alert.ID, domain.ErrNotFound)
	}
	s.alerts[alert.ID] = alert
	return nil
}

func (s *Store) DeactivateExpiredAlerts(_ context.Context, nowMillis int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, a := range s.alerts {
		if a.IsActive && a.ExpiresAt != 0 && a.ExpiresAt <= nowMillis {
			a.IsActive = false
			s.alerts[id] = a
			n++
		}
	}
	return n, nil
}

// --- WeatherStore ---

func (s *Store) InsertWeatherSample(_ context.Context, sample domain.WeatherSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.weather = append(s.weather, sample)
	return nil
}

func (s *Store) WeatherSince(_ context.Context, sinceMillis int64) ([]domain.WeatherSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.WeatherSample
	for _, w := range s.weather {
		if w.FetchedAt >= sinceMillis {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt > out[j].FetchedAt })
	return out, nil
}

func sortByID(segs []domain.RoadSegment) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].ID < segs[j].ID })
}
