package domain

import "fmt"

// Severity is the ordinal risk level derived from predicted water height.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison: low < medium < high < critical.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// AlertSeverity is the user-facing alert level.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertDanger   AlertSeverity = "danger"
	AlertCritical AlertSeverity = "critical"
)

// Rank orders alert severities: info < warning < danger < critical.
func (s AlertSeverity) Rank() int {
	switch s {
	case AlertInfo:
		return 0
	case AlertWarning:
		return 1
	case AlertDanger:
		return 2
	case AlertCritical:
		return 3
	}
	return -1
}

// SeverityFromLevel maps a predicted water level in cm to a severity.
// Boundaries are inclusive on the upper branch: exactly 20 cm is medium,
// 50 cm is high, 100 cm is critical.
func SeverityFromLevel(levelCM float64) Severity {
	switch {
	case levelCM >= 100:
		return SeverityCritical
	case levelCM >= 50:
		return SeverityHigh
	case levelCM >= 20:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// FloodProbability maps a predicted water level in cm to a probability in
// [0,1]. Piecewise linear and continuous at the severity breakpoints:
// each branch evaluates to the next branch's base value at its upper bound.
func FloodProbability(levelCM float64) float64 {
	var p float64
	switch {
	case levelCM >= 100:
		p = 0.95
	case levelCM >= 50:
		p = 0.70 + (levelCM-50)/50*0.25
	case levelCM >= 20:
		p = 0.30 + (levelCM-20)/30*0.40
	default:
		p = levelCM / 20 * 0.30
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// RoadStatusForSeverity maps a prediction severity to the road status the
// propagation pipeline writes: critical and high flood the road, medium
// marks it at risk, low clears it.
func RoadStatusForSeverity(s Severity) RoadStatus {
	switch s {
	case SeverityCritical, SeverityHigh:
		return RoadFlooded
	case SeverityMedium:
		return RoadRisk
	default:
		return RoadClear
	}
}

// AlertSeverityFor maps a prediction severity onto the alert scale.
func AlertSeverityFor(s Severity) AlertSeverity {
	switch s {
	case SeverityCritical:
		return AlertCritical
	case SeverityHigh:
		return AlertDanger
	case SeverityMedium:
		return AlertWarning
	default:
		return AlertInfo
	}
}

// Passability thresholds in cm of standing water.
const (
	vehicleImpassableCM = 30.0
	humanImpassableCM   = 50.0
)

// PassabilityMessage describes who can still traverse roads at the given
// predicted water level, for inclusion in alert text.
func PassabilityMessage(levelCM float64) string {
	switch {
	case levelCM >= humanImpassableCM:
		return "impassable for vehicles and pedestrians"
	case levelCM >= vehicleImpassableCM:
		return "impassable for vehicles"
	default:
		return "passable for vehicles and pedestrians"
	}
}

// AlertMessage builds the operator-facing alert text for a device's worst
// prediction.
func AlertMessage(deviceName string, levelCM float64, roadsAffected int) string {
	where := deviceName
	if where == "" {
		where = "monitored station"
	}
	return fmt.Sprintf("Predicted water level %.0f cm near %s; %d road(s) affected; roads %s.",
		levelCM, where, roadsAffected, PassabilityMessage(levelCM))
}
