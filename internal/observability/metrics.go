package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CurveDesk.
type Metrics struct {
	// --- Trading ---
	TradesSettled  *prometheus.CounterVec
	TradesRejected *prometheus.CounterVec
	TradeDuration  *prometheus.HistogramVec
	TradeVolume    *prometheus.CounterVec
	FeesCollected  prometheus.Counter
	FeeSharesPaid  *prometheus.CounterVec
	QuoteRequests  *prometheus.CounterVec
	HarvestAccrued prometheus.Counter
	EngineSequence prometheus.Gauge

	// --- Guard ---
	GuardViolations *prometheus.CounterVec

	// --- Burn accumulator ---
	BurnPending      prometheus.Gauge
	BurnDeposits     *prometheus.CounterVec
	FlushAttempts    *prometheus.CounterVec
	BurnedTotal      prometheus.Counter
	FlushDuration    prometheus.Histogram
	DepositsRedirect prometheus.Counter

	// --- Persistence ---
	PersistRecordsWritten  prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Channels & publishing ---
	ChannelSize  *prometheus.GaugeVec
	PublishDrops prometheus.Counter
	PublishFails prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		TradesSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_trades_settled_total",
			Help: "Trades settled against the venue",
		}, []string{"side"}),

		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_trades_rejected_total",
			Help: "Trades rejected (validation, slippage, partial fill, venue)",
		}, []string{"side", "reason"}),

		TradeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "curvedesk_trade_duration_seconds",
			Help:    "Time to settle a single trade",
			Buckets: latencyBuckets,
		}, []string{"side"}),

		TradeVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_trade_volume_base_units_total",
			Help: "Gross funding volume settled",
		}, []string{"side"}),

		FeesCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_fees_collected_total",
			Help: "Gross fees taken from trades, funding base units",
		}),

		FeeSharesPaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_fee_shares_paid_total",
			Help: "Fee base units routed per waterfall share",
		}, []string{"share"}),

		QuoteRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_quote_requests_total",
			Help: "Read-only quote requests",
		}, []string{"side"}),

		HarvestAccrued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_harvest_accrued_total",
			Help: "Position fee revenue collected from the venue",
		}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "curvedesk_engine_sequence",
			Help: "Current settlement sequence",
		}),

		GuardViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_guard_violations_total",
			Help: "Rejected settlement callbacks",
		}, []string{"subsystem"}),

		BurnPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "curvedesk_burn_pending_base_units",
			Help: "Funding base units buffered for burning",
		}),

		BurnDeposits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_burn_deposits_total",
			Help: "Burn-share deposit attempts",
		}, []string{"outcome"}),

		FlushAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_burn_flush_attempts_total",
			Help: "Accumulator flush attempts",
		}, []string{"result"}),

		BurnedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_burned_total",
			Help: "Target asset base units sent to the burn sink",
		}),

		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "curvedesk_burn_flush_duration_seconds",
			Help:    "Time to execute a flush",
			Buckets: latencyBuckets,
		}),

		DepositsRedirect: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_burn_redirects_total",
			Help: "Burn shares redirected to protocol after deposit failure",
		}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_persist_records_written_total",
			Help: "Settlement records written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_persist_journals_written_total",
			Help: "Journal rows written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "curvedesk_persist_batch_size",
			Help:    "Records per persistence flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "curvedesk_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_persist_retries_total",
			Help: "Persistence retry attempts",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "curvedesk_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curvedesk_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_publish_drops_total",
			Help: "Outbound events dropped on full publish channel",
		}),

		PublishFails: promauto.NewCounter(prometheus.CounterOpts{
			Name: "curvedesk_publish_failures_total",
			Help: "Outbound NATS publish failures",
		}),
	}
}
