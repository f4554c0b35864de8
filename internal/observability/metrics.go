package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the risk engine.
type Metrics struct {
	// --- Operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Journals    *prometheus.CounterVec
	Sequence    prometheus.Gauge

	// --- Positions ---
	OpenPositions *prometheus.GaugeVec
	OpenInterest  *prometheus.GaugeVec
	VolumeTotal   *prometheus.CounterVec

	// --- Oracle ---
	OracleUpdates       *prometheus.CounterVec
	OracleRejects       *prometheus.CounterVec
	OracleSecondaryDrop *prometheus.CounterVec
	CircuitBreakerTrips *prometheus.CounterVec
	OracleDeviationBps  *prometheus.HistogramVec

	// --- Liquidation ---
	Liquidations       *prometheus.CounterVec
	LiquidationDeficit *prometheus.CounterVec
	EmergencyPauses    *prometheus.CounterVec

	// --- Insurance ---
	InsuranceDeposits prometheus.Counter
	InsuranceClaims   prometheus.Counter
	InsuranceRatioBps prometheus.Gauge
	InsuranceHealthy  prometheus.Gauge

	// --- Funding ---
	FundingSettled   *prometheus.CounterVec
	FundingRateFP    *prometheus.GaugeVec
	FundingPositions *prometheus.CounterVec

	// --- Ingestion & publishing ---
	PricesReceived  *prometheus.CounterVec
	PriceDuplicates *prometheus.CounterVec
	PriceOutOfOrder *prometheus.CounterVec
	PublishDrops    *prometheus.CounterVec
	WSClients       prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	SnapshotTaken          prometheus.Counter

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		OpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_ops_applied_total",
			Help: "Operations committed by the engine",
		}, []string{"op"}),

		OpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_ops_rejected_total",
			Help: "Operations rejected, by error code name",
		}, []string{"op", "code"}),

		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_risk_op_duration_seconds",
			Help:    "Time to run one engine operation end to end",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_journals_total",
			Help: "Ledger transfers applied",
		}, []string{"journal_type"}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_risk_sequence",
			Help: "Last emitted event sequence",
		}),

		OpenPositions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_risk_open_positions",
			Help: "Open positions per market",
		}, []string{"symbol"}),

		OpenInterest: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_risk_open_interest_base",
			Help: "Open interest in FP base units",
		}, []string{"symbol", "side"}),

		VolumeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_volume_quote_total",
			Help: "Quote volume opened",
		}, []string{"symbol"}),

		OracleUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_oracle_updates_total",
			Help: "Oracle prices committed",
		}, []string{"feed"}),

		OracleRejects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_oracle_rejects_total",
			Help: "Oracle reads or updates rejected",
		}, []string{"feed", "code"}),

		OracleSecondaryDrop: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_oracle_secondary_fallback_total",
			Help: "Aggregations that fell back to the primary feed",
		}, []string{"symbol"}),

		CircuitBreakerTrips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_circuit_breaker_trips_total",
			Help: "Price updates rejected by the circuit breaker",
		}, []string{"feed"}),

		OracleDeviationBps: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_risk_oracle_deviation_bps",
			Help:    "Primary/secondary deviation at aggregation",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500},
		}, []string{"symbol"}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"symbol", "kind"}),

		LiquidationDeficit: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_liquidation_deficit_total",
			Help: "Bad debt absorbed by the insurance fund, raw units",
		}, []string{"symbol"}),

		EmergencyPauses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_emergency_pauses_total",
			Help: "Automatic pauses",
		}, []string{"scope"}),

		InsuranceDeposits: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_risk_insurance_deposits_total",
			Help: "Insurance fund deposits, raw units",
		}),

		InsuranceClaims: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_risk_insurance_claims_total",
			Help: "Insurance fund withdrawals, raw units",
		}),

		InsuranceRatioBps: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_risk_insurance_fund_ratio_bps",
			Help: "Deposits over claims in bps",
		}),

		InsuranceHealthy: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_risk_insurance_fund_healthy",
			Help: "1 when the fund ratio is above 1.5x",
		}),

		FundingSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_funding_settled_total",
			Help: "Funding settlements",
		}, []string{"symbol"}),

		FundingRateFP: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_risk_funding_rate_fp",
			Help: "Last per-interval funding rate",
		}, []string{"symbol"}),

		FundingPositions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_funding_positions_total",
			Help: "Positions charged or credited funding",
		}, []string{"symbol"}),

		PricesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_prices_received_total",
			Help: "Price messages received from the feed",
		}, []string{"symbol"}),

		PriceDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_price_duplicates_total",
			Help: "Price messages dropped as duplicates",
		}, []string{"symbol"}),

		PriceOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_price_out_of_order_total",
			Help: "Price messages older than the last accepted one",
		}, []string{"symbol"}),

		PublishDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_publish_drops_total",
			Help: "Events dropped due to a full publish channel",
		}, []string{"sink"}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_risk_ws_clients",
			Help: "Connected stream clients",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_risk_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_risk_persist_journals_written_total",
			Help: "Journal entries written",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_risk_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_risk_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_risk_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_risk_snapshots_taken_total",
			Help: "Ledger snapshots written",
		}),

		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_risk_api_requests_total",
			Help: "API requests",
		}, []string{"transport", "method", "status"}),

		APIDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_risk_api_duration_seconds",
			Help:    "API request duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}, []string{"transport", "method"}),
	}
}

// NewTestMetrics registers on a private registry.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
