package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// InfraMetrics contains all infrastructure-level metrics for the tuner.
//
// Infrastructure metrics track low-level system resources:
//   - Database connection pools (connections, queries, latency)
//   - Tuning loop progress (iterations, objective, plateau)
//
// All metrics follow the taxonomy:
// dbtuner_infra_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	im := NewInfraMetrics("dbtuner")
//	im.DB.ConnectionsActive.Set(42)
//	im.Tuning.IterationsTotal.WithLabelValues("tpcc", "ok").Inc()
type InfraMetrics struct {
	namespace string

	// DB subsystem - database connection pool metrics
	DB *DatabaseMetrics

	// Tuning subsystem - tuning loop progress metrics
	Tuning *TuningMetrics
}

// NewInfraMetrics creates a new InfraMetrics instance with all subsystems initialized.
func NewInfraMetrics(namespace string) *InfraMetrics {
	return &InfraMetrics{
		namespace: namespace,
		DB:        NewDatabaseMetrics(namespace),
		Tuning:    NewTuningMetrics(namespace),
	}
}

// DatabaseMetrics contains metrics for the tuned database's connection pool.
//
// These metrics are populated by the PrometheusExporter in internal/dbpool/prometheus.go.
type DatabaseMetrics struct {
	// Connection pool metrics
	ConnectionsActive prometheus.Gauge   // Number of active database connections
	ConnectionsIdle   prometheus.Gauge   // Number of idle connections in pool
	ConnectionsTotal  prometheus.Counter // Total number of connections created (cumulative)

	// Performance metrics
	ConnectionWaitDurationSeconds prometheus.Histogram    // Time spent waiting for a connection
	QueryDurationSeconds          *prometheus.HistogramVec // Duration of database queries

	// Operation metrics
	QueriesTotal *prometheus.CounterVec // Total number of queries executed

	// Error metrics
	ErrorsTotal *prometheus.CounterVec // Total number of database errors
}

// NewDatabaseMetrics creates database connection pool metrics.
func NewDatabaseMetrics(namespace string) *DatabaseMetrics {
	return &DatabaseMetrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "infra_db",
			Name:      "connections_active",
			Help:      "Number of active database connections currently in use",
		}),

		ConnectionsIdle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "infra_db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections in the pool",
		}),

		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "infra_db",
			Name:      "connections_total",
			Help:      "Total number of database connections created (cumulative)",
		}),

		ConnectionWaitDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "infra_db",
			Name:      "connection_wait_duration_seconds",
			Help:      "Time spent waiting for a database connection from the pool",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "infra_db",
				Name:      "query_duration_seconds",
				Help:      "Duration of database queries in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
			},
			[]string{"operation"}, // operation: set|restart|workload|counters
		),

		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "infra_db",
				Name:      "queries_total",
				Help:      "Total number of database queries executed",
			},
			[]string{"operation", "status"}, // status: success|error
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "infra_db",
				Name:      "errors_total",
				Help:      "Total number of database errors encountered",
			},
			[]string{"error_type"}, // error_type: connection|apply|restart|timeout
		),
	}
}

// TuningMetrics contains metrics for the tuning loop's own progress.
//
// Tracks iteration count, incumbent objective, and plateau state so that the
// tuning session can be observed from Grafana while it runs unattended.
type TuningMetrics struct {
	IterationsTotal   *prometheus.CounterVec // Total evaluated iterations, by workload and outcome
	InvalidTotal      *prometheus.CounterVec // Total invalidated iterations, by workload
	BestObjective     *prometheus.GaugeVec   // Current incumbent objective, by workload
	PlateauCounter    *prometheus.GaugeVec   // Current plateau counter, by workload
	EvaluationSeconds *prometheus.HistogramVec
}

// NewTuningMetrics creates tuning loop progress metrics.
func NewTuningMetrics(namespace string) *TuningMetrics {
	return &TuningMetrics{
		IterationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "infra_tuning",
				Name:      "iterations_total",
				Help:      "Total number of evaluated configurations",
			},
			[]string{"workload", "outcome"}, // outcome: ok|invalid
		),

		InvalidTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "infra_tuning",
				Name:      "invalid_iterations_total",
				Help:      "Total number of invalidated iterations (apply/restart/worker failure)",
			},
			[]string{"workload"},
		),

		BestObjective: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "infra_tuning",
				Name:      "best_objective",
				Help:      "Current incumbent objective value (lower is better)",
			},
			[]string{"workload"},
		),

		PlateauCounter: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "infra_tuning",
				Name:      "plateau_counter",
				Help:      "Number of consecutive iterations without improvement",
			},
			[]string{"workload"},
		),

		EvaluationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "infra_tuning",
				Name:      "evaluation_seconds",
				Help:      "Wall-clock time to evaluate one configuration (apply+restart+workload)",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"workload"},
		),
	}
}
