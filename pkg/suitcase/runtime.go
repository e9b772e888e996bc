package suitcase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bluesky/suitcase-core/internal/adapters/broker"
	"github.com/bluesky/suitcase-core/internal/adapters/observability"
	"github.com/bluesky/suitcase-core/internal/adapters/queue"
	"github.com/bluesky/suitcase-core/internal/adapters/specfile"
	"github.com/bluesky/suitcase-core/internal/adapters/wal"
	"github.com/bluesky/suitcase-core/internal/app/pipeline"
	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	source        Source
	sink          Sink
	broker        Broker
	transformer   Transformer
	wal           WAL
	queue         DocumentQueue
	observability Observability
}

// WithSource injects a custom document source (live acquisition, replay, simulators, etc.).
func WithSource(src Source) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.source = src
	}
}

// WithSink injects a custom sink so documents can be sent to any database or API.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithBroker injects a custom broker implementation. The broker doubles as
// the pipeline sink unless WithSink is also given.
func WithBroker(b Broker) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.broker = b
	}
}

// WithTransformer overrides the default no-op transformer.
func WithTransformer(t Transformer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transformer = t
	}
}

// WithWAL lets callers bring their own WAL implementation or reuse an existing instance.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.wal = w
	}
}

// WithDocumentQueue injects a custom queue implementation (e.g., lock-free, sharded).
func WithDocumentQueue(q DocumentQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend (OpenTelemetry, structured logs, etc.).
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// Runtime wires up the source → WAL → queue → broker pipeline and exposes
// simple lifecycle hooks for embedding the converter inside any Go service.
type Runtime struct {
	cfg          *Config
	policy       ports.Policy
	obs          ports.Observability
	wal          ports.WAL
	queue        ports.DocumentQueue
	source       ports.Source
	transformer  ports.Transformer
	sink         ports.Sink
	broker       ports.Broker
	db           *sql.DB
	metricsSrv   *http.Server
	gaugeStopCh  chan struct{}
	ingestDoneCh chan struct{}
}

// NewRuntime bootstraps the default adapters (specfile source, file WAL,
// in-memory queue, Postgres broker, Prometheus observability). Callers can
// use RuntimeOption values to override any dependency and point the pipeline
// at custom sources, sinks, or telemetry backends.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs()
	}

	var (
		walAdapter ports.WAL
		err        error
	)
	if overrides.wal != nil {
		walAdapter = overrides.wal
	} else {
		walAdapter, err = wal.NewFileWAL(cfg.WAL.Dir)
		if err != nil {
			return nil, err
		}
	}
	if walAdapter == nil {
		return nil, fmt.Errorf("wal adapter is nil")
	}

	q := overrides.queue
	if q == nil {
		q = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}
	if q == nil {
		return nil, fmt.Errorf("document queue is nil")
	}

	if err := replayWALIntoQueue(walAdapter, q, cfg.Policy, obs); err != nil {
		return nil, err
	}

	src := overrides.source
	if src == nil {
		src, err = specfile.NewSource(cfg.Specfile)
		if err != nil {
			return nil, err
		}
	}
	if src == nil {
		return nil, fmt.Errorf("source is nil")
	}

	var (
		db  *sql.DB
		brk ports.Broker
	)
	if overrides.broker != nil {
		brk = overrides.broker
	} else if overrides.sink == nil {
		db, err = sql.Open("postgres", cfg.Broker.ConnString)
		if err != nil {
			return nil, err
		}
		pg := broker.NewPostgresBroker(db, cfg.Broker.TablePrefix)
		if err := pg.InitSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
		brk = pg
	}

	snk := overrides.sink
	if snk == nil {
		snk = brk
	}
	if snk == nil {
		return nil, fmt.Errorf("sink is nil")
	}

	tr := overrides.transformer
	if tr == nil {
		tr = &noopTransformer{}
	}

	return &Runtime{
		cfg:         cfg,
		policy:      cfg.Policy,
		obs:         obs,
		wal:         walAdapter,
		queue:       q,
		source:      src,
		transformer: tr,
		sink:        snk,
		broker:      brk,
		db:          db,
	}, nil
}

// Broker returns the broker the runtime writes into, or nil when the runtime
// was built with only a plain sink.
func (r *Runtime) Broker() ports.Broker {
	if r == nil {
		return nil
	}
	return r.broker
}

// Start begins the source + sink pipelines and launches the observability
// stack. It returns immediately; call Run to block until ingest completes.
func (r *Runtime) Start() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	sourceDone, err := pipeline.RunSourcePipeline(r.source, r.wal, r.queue, r.policy, r.obs)
	if err != nil {
		return err
	}

	r.ingestDoneCh = make(chan struct{})
	go func() {
		pipeline.RunSinkPipeline(r.wal, r.queue, r.transformer, r.sink, r.policy, r.obs, sourceDone)
		close(r.ingestDoneCh)
	}()

	r.startMetrics()
	return nil
}

// Run starts the runtime and blocks until either the source is exhausted and
// the queue drained, or the provided context is cancelled. Either way it
// attempts a graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-r.ingestDoneCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Done reports when the ingest side has drained; nil before Start.
func (r *Runtime) Done() <-chan struct{} {
	if r == nil {
		return nil
	}
	return r.ingestDoneCh
}

// Shutdown stops the source, metrics server, and DB connection. After a
// clean drain the WAL is compacted down to its uncommitted tail.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.gaugeStopCh != nil {
		close(r.gaugeStopCh)
	}

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if r.source != nil {
		if err := r.source.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if r.ingestDoneCh != nil {
		select {
		case <-r.ingestDoneCh:
			if err := r.wal.TruncateCommitted(); err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()

	r.gaugeStopCh = make(chan struct{})
	go r.recordResourceGauges(r.gaugeStopCh, time.Second)
}

func (r *Runtime) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stats := r.wal.Stats()
			r.obs.SetGauge("suitcase_wal_size_bytes", float64(stats.SizeBytes))
			r.obs.SetGauge("suitcase_queue_length", float64(r.queue.Len()))
		}
	}
}

func replayWALIntoQueue(walAdapter ports.WAL, q ports.DocumentQueue, pol ports.Policy, obs ports.Observability) error {
	stats := walAdapter.Stats()
	if stats.LatestAppended == 0 {
		return nil
	}
	start := stats.OldestUncommitted
	if start == 0 || start > stats.LatestAppended {
		return nil
	}

	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = 5 * time.Millisecond
	}

	var replayed int
	err := walAdapter.Iterate(start, func(id ports.WALEntryID, doc *domain.Document) error {
		for {
			if q.Enqueue(id, doc) {
				replayed++
				return nil
			}
			switch pol.OnQueueFull {
			case "drop", "reject":
				return fmt.Errorf("queue full during WAL replay")
			default:
				time.Sleep(sleep)
			}
		}
	})
	if err != nil {
		return err
	}
	if replayed > 0 {
		obs.LogInfo("wal_replay_complete",
			ports.Field{Key: "documents", Value: replayed},
			ports.Field{Key: "from_id", Value: start})
	}
	return nil
}

type noopTransformer struct{}

func (n *noopTransformer) Transform(d *domain.Document) (*domain.Document, error) { return d, nil }
