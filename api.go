package suitcase

import (
	"context"

	base "github.com/bluesky/suitcase-core/pkg/suitcase"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull         = base.ErrQueueFull
	ErrWALFull           = base.ErrWALFull
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// Type aliases so consumers can import github.com/bluesky/suitcase-core directly.
type (
	Config            = base.Config
	Policy            = base.Policy
	SpecfileConfig    = base.SpecfileConfig
	BrokerConfig      = base.BrokerConfig
	ExportConfig      = base.ExportConfig
	MetricsConfig     = base.MetricsConfig
	WALConfig         = base.WALConfig
	ExportOptions     = base.ExportOptions
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Document          = base.Document
	RunStart          = base.RunStart
	EventDescriptor   = base.EventDescriptor
	Event             = base.Event
	RunStop           = base.RunStop
	DataKey           = base.DataKey
	Header            = base.Header
	DocumentBatchSink = base.DocumentBatchSink
	Source            = base.Source
	Sink              = base.Sink
	Broker            = base.Broker
	InsertStats       = base.InsertStats
	RunStartFilter    = base.RunStartFilter
	Transformer       = base.Transformer
	DocumentQueue     = base.DocumentQueue
	WAL               = base.WAL
	Observability     = base.Observability
	QueuedDocument    = base.QueuedDocument
	WALEntryID        = base.WALEntryID
	WALStats          = base.WALStats
	DocumentPublisher = base.DocumentPublisher
	PublisherConfig   = base.PublisherConfig
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSource(src Source) StreamInOption {
	return base.StreamInSource(src)
}

func StreamInQueue(q DocumentQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutBroker(b Broker) StreamOutOption {
	return base.StreamOutBroker(b)
}

func StreamOutTransformer(tr Transformer) StreamOutOption {
	return base.StreamOutTransformer(tr)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn DocumentBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSource(src Source) RuntimeOption {
	return base.WithSource(src)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithBroker(b Broker) RuntimeOption {
	return base.WithBroker(b)
}

func WithTransformer(tr Transformer) RuntimeOption {
	return base.WithTransformer(tr)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithDocumentQueue(q DocumentQueue) RuntimeOption {
	return base.WithDocumentQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

// Sink adapters.
func NewCallbackSink(name string, fn DocumentBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []*Document, func()) {
	return base.NewChannelSink(name, buffer)
}

func NewSpecWriterSink(path string) (Sink, error) {
	return base.NewSpecWriterSink(path)
}

// Document publisher.
func NewDocumentPublisher(cfg *PublisherConfig, sink DocumentBatchSink) (*DocumentPublisher, error) {
	return base.NewDocumentPublisher(cfg, sink)
}

// Broker round trips.
func InsertSpecfile(ctx context.Context, b Broker, path string, scanIDs ...int) (InsertStats, error) {
	return base.InsertSpecfile(ctx, b, path, scanIDs...)
}

func Export(ctx context.Context, b Broker, headers []Header, path string, opts ExportOptions) error {
	return base.Export(ctx, b, headers, path, opts)
}

func ExportUIDs(ctx context.Context, b Broker, path string, opts ExportOptions, uids ...string) error {
	return base.ExportUIDs(ctx, b, path, opts, uids...)
}

func ExportNexus(ctx context.Context, b Broker, headers []Header, path string, opts ExportOptions) error {
	return base.ExportNexus(ctx, b, headers, path, opts)
}

func ExportNexusUIDs(ctx context.Context, b Broker, path string, opts ExportOptions, uids ...string) error {
	return base.ExportNexusUIDs(ctx, b, path, opts, uids...)
}

func DefaultExportOptions() ExportOptions {
	return base.DefaultExportOptions()
}

func ExportOptionsFromConfig(ec ExportConfig) ExportOptions {
	return base.ExportOptionsFromConfig(ec)
}

func ListRuns(path string) ([]string, error) {
	return base.ListRuns(path)
}

func WriteSpec(ctx context.Context, b Broker, path string, uids ...string) error {
	return base.WriteSpec(ctx, b, path, uids...)
}

// Broker constructors.
func OpenBroker(ctx context.Context, cfg BrokerConfig) (Broker, func() error, error) {
	return base.OpenBroker(ctx, cfg)
}

func NewMemBroker() Broker {
	return base.NewMemBroker()
}
