package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumentix_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumentix_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	TicketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumentix_tickets_issued_total",
			Help: "Ticket issuance outcomes (created, replayed)",
		},
		[]string{"result"},
	)

	CheckIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumentix_checkins_total",
			Help: "Gate scan outcomes",
		},
		[]string{"outcome"},
	)

	PaymentsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumentix_payments_expired_total",
			Help: "Expiry sweep row outcomes",
		},
		[]string{"result"},
	)

	OracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumentix_oracle_seconds",
			Help:    "Duration of settlement transaction lookups",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	DispatchDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumentix_dispatch_dropped_total",
			Help: "Side-effect tasks dropped because the pool was saturated",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumentix_outbox_lag_seconds",
			Help: "Age of the oldest outbox record relayed in the last batch",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumentix_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
