package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ods",
		Subsystem: "ingest",
		Name:      "records_total",
		Help:      "Organisation fragments processed by the ingest pipeline, by outcome.",
	}, []string{"outcome"})

	ingestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ods",
		Subsystem: "ingest",
		Name:      "batches_total",
		Help:      "Write batches handed to the store, by result.",
	}, []string{"result"})

	writeBatchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ods",
		Subsystem: "ingest",
		Name:      "write_batch_seconds",
		Help:      "Time spent writing one batch.",
		Buckets:   prometheus.DefBuckets,
	})

	writeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ods",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Integrity violations raised by batch writes, by kind.",
	}, []string{"kind"})

	graphTraversals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ods",
		Subsystem: "graph",
		Name:      "traversals_total",
		Help:      "Closure computations, by algorithm and form.",
	}, []string{"algorithm", "form"})

	graphCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ods",
		Subsystem: "graph",
		Name:      "cycles_total",
		Help:      "Cycles met while traversing succession or relationship edges.",
	})

	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ods",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "Search requests, by result shape and outcome.",
	}, []string{"shape", "outcome"})
)

func recordIngest(outcome string, n int) {
	if n <= 0 {
		return
	}
	ingestRecords.WithLabelValues(outcome).Add(float64(n))
}

func recordBatch(ok bool, seconds float64) {
	result := "ok"
	if !ok {
		result = "error"
	}
	ingestBatches.WithLabelValues(result).Inc()
	writeBatchSeconds.Observe(seconds)
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	writeConflicts.WithLabelValues(kind).Inc()
}

func recordTraversal(algorithm string, batch bool) {
	form := "single"
	if batch {
		form = "batch"
	}
	graphTraversals.WithLabelValues(algorithm, form).Inc()
}

func recordSearch(shape ResultShape, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	searchRequests.WithLabelValues(string(shape), outcome).Inc()
}
