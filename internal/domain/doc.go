// Package domain models the flood monitoring data set: road segments on a
// grid-indexed network, IoT water-level stations, short-horizon flood
// predictions, and the alerts derived from them.
//
// # Spatial Model
//
// Road geometry is an ordered list of [lat, lng] points (two or more). Each
// segment carries derived spatial fields:
//
//	gridCell: the 0.01° quantization bucket of the FIRST coordinate,
//	          formatted "lat_lng" with both components fixed to two decimals
//	          (e.g. "13.62_123.19"). 0.01° is roughly 1.1 km at the equator.
//	bounding box: min/max latitude and longitude over all points.
//
// Both are derived from coordinates and never set independently. Segments
// written before the spatial migration lack them (GridCell == "") and are
// deliberately invisible to viewport and radius queries until backfilled.
//
// # Prediction Model
//
// Predictions are produced per device and per time horizon (1h, 2h, 4h, 8h)
// from a linear water-level trend plus a weather impact factor. At most one
// live prediction exists per (device, horizon); writes are upserts keyed by
// that pair. Rows past ValidUntil are filtered at read time, never treated
// as an error.
//
// Severity thresholds over predicted water level (cm):
//
//	<20 low | [20,50) medium | [50,100) high | ≥100 critical
//
// Flood probability is a separate piecewise-linear curve over the same
// breakpoints, continuous at 20/50/100 by construction:
//
//	<20       level/20 * 0.30
//	[20,50)   0.30 + (level-20)/30 * 0.40
//	[50,100)  0.70 + (level-50)/50 * 0.25
//	≥100      0.95
//
// Passability thresholds used in alert text: vehicles impassable at ≥30 cm,
// pedestrians at ≥50 cm.
//
// # Timestamps
//
// All persisted timestamps are Unix epoch milliseconds, matching the wire
// contract the map clients and admin tooling already read.
package domain
