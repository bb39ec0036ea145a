package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement core.
type Metrics struct {
	// --- Operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	OpSequence  prometheus.Gauge

	// --- Pools ---
	VaultBalance      *prometheus.GaugeVec
	ShareSupply       *prometheus.GaugeVec
	TotalInsuredValue *prometheus.GaugeVec

	// --- Policies ---
	PoliciesCreated  prometheus.Counter
	PoliciesActive   *prometheus.GaugeVec
	PoliciesSettled  *prometheus.CounterVec
	PayoutsTotal     *prometheus.CounterVec
	PremiumsTotal    *prometheus.CounterVec

	// --- Oracle ---
	OracleUpdates    *prometheus.CounterVec
	OracleQuoteAge   prometheus.Histogram
	OracleRejections *prometheus.CounterVec

	// --- Persistence ---
	PersistBatchDuration prometheus.Histogram
	PersistErrors        prometheus.Counter
	PersistLastSequence  prometheus.Gauge
}

// NewMetrics registers all metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_ops_applied_total",
			Help: "Operations committed, by operation type",
		}, []string{"op"}),
		OpsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_ops_rejected_total",
			Help: "Operations rejected, by operation type and error code",
		}, []string{"op", "reason"}),
		OpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guard_op_duration_seconds",
			Help:    "Operation latency from dispatch to commit",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		OpSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guard_op_sequence",
			Help: "Last committed operation sequence",
		}),

		VaultBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guard_vault_balance",
			Help: "Collateral vault balance per pool",
		}, []string{"asset"}),
		ShareSupply: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guard_share_supply",
			Help: "Outstanding proportional shares per pool",
		}, []string{"asset"}),
		TotalInsuredValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guard_total_insured_value",
			Help: "Insured notional across active policies per pool",
		}, []string{"asset"}),

		PoliciesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "guard_policies_created_total",
			Help: "Policies written",
		}),
		PoliciesActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guard_policies_active",
			Help: "Policies currently in force per pool",
		}, []string{"asset"}),
		PoliciesSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_policies_settled_total",
			Help: "Policies settled, by terminal status",
		}, []string{"status"}),
		PayoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_payouts_total",
			Help: "Collateral paid out on depeg, by asset",
		}, []string{"asset"}),
		PremiumsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_premiums_total",
			Help: "Premiums collected into vaults, by asset",
		}, []string{"asset"}),

		OracleUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_oracle_updates_total",
			Help: "Price updates accepted into the feed cache, by feed",
		}, []string{"feed_id"}),
		OracleQuoteAge: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guard_oracle_quote_age_seconds",
			Help:    "Age of quotes at settlement time",
			Buckets: prometheus.LinearBuckets(0, 5, 12),
		}),
		OracleRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guard_oracle_rejections_total",
			Help: "Quotes rejected at settlement, by reason",
		}, []string{"reason"}),

		PersistBatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guard_persist_batch_duration_seconds",
			Help:    "Postgres write batch latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		PersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "guard_persist_errors_total",
			Help: "Postgres write failures",
		}),
		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guard_persist_last_sequence",
			Help: "Highest operation sequence durably written",
		}),
	}
}
