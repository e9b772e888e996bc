package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// PromObs implements the Observability port with Prometheus metrics and
// stdlib logging.
type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	ingested := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suitcase_documents_ingested_total",
		Help: "Total documents successfully written to the broker.",
	})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suitcase_documents_duplicate_total",
		Help: "Documents skipped because their scan was already in the broker.",
	})
	walGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "suitcase_wal_size_bytes",
		Help: "Size of the ingest journal on disk.",
	})
	queueGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "suitcase_queue_length",
		Help: "Current number of documents buffered in the in-memory queue.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "suitcase_sink_write_latency_seconds",
		Help:    "Latency from dequeued document batch to broker commit.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	dlq := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suitcase_dlq_total",
		Help: "Documents sent to DLQ due to transform/sink failures.",
	})
	queueDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "suitcase_queue_dropped_total",
		Help: "Documents lost due to queue backpressure policies.",
	})

	prometheus.MustRegister(ingested, duplicates, walGauge, queueGauge, latency, dlq, queueDrops)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"suitcase_documents_ingested_total":  ingested,
			"suitcase_documents_duplicate_total": duplicates,
			"suitcase_dlq_total":                 dlq,
			"suitcase_queue_dropped_total":       queueDrops,
		},
		gauges: map[string]prometheus.Gauge{
			"suitcase_wal_size_bytes": walGauge,
			"suitcase_queue_length":   queueGauge,
		},
		histos: map[string]prometheus.Observer{
			"suitcase_sink_write_latency_seconds": latency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	log.Printf("WARN: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
	}
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	if err != nil {
		log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
	}
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, doc *domain.Document, err error) {
	p.IncCounter("suitcase_dlq_total", 1)
	if err != nil && doc != nil {
		log.Printf("DLQ document kind=%s uid=%s err=%v", doc.Kind, doc.UID(), err)
	}
}

func formatFields(fields []ports.Field) string {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
