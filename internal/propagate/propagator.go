// Package propagate fans a device's predictions out onto the road network:
// worst-case severity becomes a road status written to every segment within
// the device's influence radius, and the device's alert is created or
// escalated to match.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/flood-watch/internal/domain"
	"github.com/couchcryptid/flood-watch/internal/observability"
)

// SpatialIndex is the slice of the spatial service propagation needs.
type SpatialIndex interface {
	WithinRadius(ctx context.Context, lat, lng, radiusMeters float64) ([]domain.RoadSegment, error)
	UpdateStatusBulk(ctx context.Context, ids []string, status domain.RoadStatus) (int, error)
}

// AlertPublisher pushes alert events to downstream consumers. Optional.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert domain.Alert) error
}

// Propagator recomputes road state from a device's live predictions. Like
// the prediction engine it is re-entrant; same-device races resolve
// last-write-wins on single-row updates.
type Propagator struct {
	devices     domain.DeviceStore
	predictions domain.PredictionStore
	alerts      domain.AlertStore
	spatial     SpatialIndex
	publisher   AlertPublisher
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates a propagator. publisher may be nil when no alert sink is
// configured.
func New(
	devices domain.DeviceStore,
	predictions domain.PredictionStore,
	alerts domain.AlertStore,
	spatial SpatialIndex,
	publisher AlertPublisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Propagator {
	return &Propagator{
		devices:     devices,
		predictions: predictions,
		alerts:      alerts,
		spatial:     spatial,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
	}
}

// Result summarizes one propagation run.
type Result struct {
	DeviceID        string
	Severity        domain.Severity
	Status          domain.RoadStatus
	WorstLevel      float64
	SegmentsUpdated int
	AlertID         string
	AlertCreated    bool
	AlertEscalated  bool
}

// Propagate recomputes and applies road state for the device. With no live
// predictions carrying a predicted level it reports zero updates and stops.
// Status writes are unconditional: a manual operator override is overwritten
// by the next cycle, which is the documented behavior.
func (p *Propagator) Propagate(ctx context.Context, deviceID string) (Result, error) {
	p.metrics.PropagationRuns.Inc()

	device, err := p.devices.DeviceByID(ctx, deviceID)
	if err != nil {
		return Result{}, fmt.Errorf("propagation device lookup: %w", err)
	}

	now := domain.NowMillis()
	preds, err := p.predictions.ActivePredictions(ctx, deviceID, now)
	if err != nil {
		return Result{}, fmt.Errorf("load active predictions: %w", err)
	}

	worst, ok := worstPrediction(preds)
	if !ok {
		return Result{DeviceID: deviceID}, nil
	}
	level := *worst.PredictedWaterLevel
	severity := domain.SeverityFromLevel(level)
	status := domain.RoadStatusForSeverity(severity)

	radius := device.InfluenceRadius
	if radius <= 0 {
		radius = domain.DefaultInfluenceRadiusMeters
	}
	segments, err := p.spatial.WithinRadius(ctx, device.Location[0], device.Location[1], radius)
	if err != nil {
		return Result{}, fmt.Errorf("influence region query: %w", err)
	}

	ids := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Status != status {
			p.logger.Debug("overwriting segment status",
				"segment_id", seg.ID, "from", seg.Status, "to", status)
		}
		ids = append(ids, seg.ID)
	}

	updated, err := p.spatial.UpdateStatusBulk(ctx, ids, status)
	if err != nil {
		return Result{}, fmt.Errorf("bulk status update: %w", err)
	}
	p.metrics.SegmentsUpdated.Add(float64(updated))

	res := Result{
		DeviceID:        deviceID,
		Severity:        severity,
		Status:          status,
		WorstLevel:      level,
		SegmentsUpdated: updated,
	}

	alert, created, escalated, err := p.upsertAlert(ctx, device, severity, level, updated, latestValidUntil(preds), now)
	if err != nil {
		return res, err
	}
	res.AlertID = alert.ID
	res.AlertCreated = created
	res.AlertEscalated = escalated

	if p.publisher != nil {
		if err := p.publisher.PublishAlert(ctx, alert); err != nil {
			// Downstream notification is best-effort; road state is already
			// consistent.
			p.logger.Warn("alert publish failed", "alert_id", alert.ID, "error", err)
		}
	}

	p.logger.Info("propagation applied",
		"device_id", deviceID,
		"severity", severity,
		"status", status,
		"segments_updated", updated,
		"alert_id", alert.ID,
		"alert_created", created,
		"alert_escalated", escalated,
	)
	return res, nil
}

// worstPrediction picks the live prediction with the highest severity rank,
// ties broken by higher predicted level. Predictions without a predicted
// level are ignored.
func worstPrediction(preds []domain.Prediction) (domain.Prediction, bool) {
	var worst domain.Prediction
	found := false
	for _, pr := range preds {
		if pr.PredictedWaterLevel == nil {
			continue
		}
		if !found {
			worst, found = pr, true
			continue
		}
		sev := domain.SeverityFromLevel(*pr.PredictedWaterLevel)
		worstSev := domain.SeverityFromLevel(*worst.PredictedWaterLevel)
		if sev.Rank() > worstSev.Rank() ||
			(sev.Rank() == worstSev.Rank() && *pr.PredictedWaterLevel > *worst.PredictedWaterLevel) {
			worst = pr
		}
	}
	return worst, found
}

func latestValidUntil(preds []domain.Prediction) int64 {
	var latest int64
	for _, pr := range preds {
		if pr.ValidUntil > latest {
			latest = pr.ValidUntil
		}
	}
	return latest
}

// upsertAlert creates the device's alert or escalates the active one.
// Severity never goes down within the same alert; the message and expiry
// always refresh to the latest cycle.
func (p *Propagator) upsertAlert(
	ctx context.Context,
	device domain.IoTDevice,
	severity domain.Severity,
	levelCM float64,
	roadsAffected int,
	expiresAt int64,
	now int64,
) (domain.Alert, bool, bool, error) {
	target := domain.AlertSeverityFor(severity)
	message := domain.AlertMessage(device.Name, levelCM, roadsAffected)

	existing, err := p.alerts.ActiveAlertByDevice(ctx, device.ID, now)
	if errors.Is(err, domain.ErrNotFound) {
		alert := domain.Alert{
			DeviceID:      device.ID,
			Severity:      target,
			Message:       message,
			RoadsAffected: roadsAffected,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
			ExpiresAt:     expiresAt,
		}
		id, err := p.alerts.InsertAlert(ctx, alert)
		if err != nil {
			return domain.Alert{}, false, false, fmt.Errorf("create alert: %w", err)
		}
		alert.ID = id
		p.metrics.AlertsCreated.Inc()
		return alert, true, false, nil
	}
	if err != nil {
		return domain.Alert{}, false, false, fmt.Errorf("active alert lookup: %w", err)
	}

	escalated := false
	if target.Rank() > existing.Severity.Rank() {
		existing.Severity = target
		escalated = true
		p.metrics.AlertsEscalated.Inc()
	}
	existing.Message = message
	existing.RoadsAffected = roadsAffected
	existing.UpdatedAt = now
	if expiresAt > existing.ExpiresAt {
		existing.ExpiresAt = expiresAt
	}
	if err := p.alerts.UpdateAlert(ctx, existing); err != nil {
		return domain.Alert{}, false, false, fmt.Errorf("update alert: %w", err)
	}
	return existing, false, escalated, nil
}

// ExpireAlerts deactivates alerts past their expiry. For an external
// scheduler, alongside the prediction purge sweep.
func (p *Propagator) ExpireAlerts(ctx context.Context) (int, error) {
	n, err := p.alerts.DeactivateExpiredAlerts(ctx, domain.NowMillis())
	if err != nil {
		return 0, fmt.Errorf("expire alerts: %w", err)
	}
	if n > 0 {
		p.logger.Info("deactivated expired alerts", "count", n)
	}
	return n, nil
}
