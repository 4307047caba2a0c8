package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingest-predict-propagate path.
type Metrics struct {
	ReadingsConsumed  prometheus.Counter
	ReadingParseError prometheus.Counter
	IngestRunning     prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Prediction and propagation metrics.
	PredictionsGenerated prometheus.Counter
	PredictionSkips      prometheus.Counter // no readings, or device disabled
	PropagationRuns      prometheus.Counter
	SegmentsUpdated      prometheus.Counter
	AlertsCreated        prometheus.Counter
	AlertsEscalated      prometheus.Counter

	// Weather provider metrics.
	WeatherFetches *prometheus.CounterVec // labels: outcome={success,error}
	WeatherEnabled prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ReadingsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "readings_consumed_total",
			Help:      "Total sensor readings read from the source topic.",
		}),
		ReadingParseError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "reading_parse_errors_total",
			Help:      "Total readings dropped as unparseable.",
		}),
		IngestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_watch",
			Name:      "ingest_running",
			Help:      "1 when the ingest loop is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_watch",
			Name:      "batch_size",
			Help:      "Number of readings per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_watch",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete ingest batch including cascades.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		PredictionsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "predictions_generated_total",
			Help:      "Total prediction rows upserted across all horizons.",
		}),
		PredictionSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "prediction_skips_total",
			Help:      "Prediction cycles skipped for lack of readings or a disabled device.",
		}),
		PropagationRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "propagation_runs_total",
			Help:      "Total propagation pipeline executions.",
		}),
		SegmentsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "segments_updated_total",
			Help:      "Road segments whose status propagation rewrote.",
		}),
		AlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "alerts_created_total",
			Help:      "New alerts opened by propagation.",
		}),
		AlertsEscalated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "alerts_escalated_total",
			Help:      "Existing alerts escalated to a higher severity.",
		}),
		WeatherFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_watch",
			Name:      "weather_fetches_total",
			Help:      "Weather provider requests by outcome.",
		}, []string{"outcome"}),
		WeatherEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_watch",
			Name:      "weather_enabled",
			Help:      "1 when weather polling is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.ReadingsConsumed,
		m.ReadingParseError,
		m.IngestRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.PredictionsGenerated,
		m.PredictionSkips,
		m.PropagationRuns,
		m.SegmentsUpdated,
		m.AlertsCreated,
		m.AlertsEscalated,
		m.WeatherFetches,
		m.WeatherEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics without touching the default
// registry, avoiding "already registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ReadingsConsumed:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_watch", Name: "readings_consumed_total"}),
		ReadingParseError:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_watch", Name: "reading_parse_errors_total"}),
		IngestRunning:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "flood_watch", Name: "ingest_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_watch", Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "flood_watch", Name: "batch_processing_duration_seconds"}),
		PredictionsGenerated:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_watch", Name: "predictions_generated_total"}),
		PredictionSkips:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_watch", Name: "prediction_skips_total"}),
		PropagationRuns:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_watch", Name: "propagation_runs_total"}),
		SegmentsUpdated:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_watch", Name: "segments_updated_total"}),
		AlertsCreated:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_watch", Name: "alerts_created_total"}),
		AlertsEscalated:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "flood_watch", Name: "alerts_escalated_total"}),
		WeatherFetches:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "flood_watch", Name: "weather_fetches_total"}, []string{"outcome"}),
		WeatherEnabled:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "flood_watch", Name: "weather_enabled"}),
	}
}
