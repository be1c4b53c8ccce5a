package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperationsTotal counts finished store operations by outcome
	StoreOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerpoints_store_operations_total",
		Help: "The total number of points store operations by result",
	}, []string{"operation", "result"})
	StoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerpoints_store_retries_total",
		Help: "The total number of operation retries caused by transport failures",
	}, []string{"operation"})
	StoreReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerpoints_store_reconnects_total",
		Help: "The total number of connection (re)establishment attempts",
	}, []string{"result"})
	StoreOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playerpoints_store_operation_seconds",
		Help:    "Latency of points store operations including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	ImportEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playerpoints_import_entries_total",
		Help: "The total number of imported entries by result",
	}, []string{"result"})
)

// Result labels
const (
	ResultOK          = "ok"
	ResultInvalid     = "invalid"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
	ResultSkipped     = "skipped"
)
