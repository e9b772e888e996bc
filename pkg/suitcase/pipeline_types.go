package suitcase

import (
	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

// Document is the unit that flows through the WAL→queue→broker pipeline. It
// mirrors internal/domain.Document but is exported so custom adapters can
// reference it.
type Document = domain.Document

// RunStart opens a run and carries scan-level metadata.
type RunStart = domain.RunStart

// EventDescriptor names a stream and declares its data keys.
type EventDescriptor = domain.EventDescriptor

// Event is one row of readings tied to a descriptor.
type Event = domain.Event

// RunStop closes a run with an exit status.
type RunStop = domain.RunStop

// DataKey describes a single column of an event stream.
type DataKey = domain.DataKey

// Header bundles a run's start, descriptors, and stop for export.
type Header = domain.Header

// QueuedDocument represents an item buffered inside the bounded queue.
type QueuedDocument = ports.QueuedDocument

// Source streams documents from any producer (specfiles, live acquisition,
// replayed runs) into the pipeline.
type Source = ports.Source

// DocumentQueue is the bounded, in-memory queue that decouples the source and sink.
type DocumentQueue = ports.DocumentQueue

// Transformer lets callers mutate documents (unit conversion, enrichment,
// key renaming) before persistence.
type Transformer = ports.Transformer

// Sink consumes batches of documents and persists them to any downstream system.
type Sink = ports.Sink

// Broker is a queryable sink with idempotent insertion and header assembly.
type Broker = ports.Broker

// InsertStats reports inserted vs duplicate-skipped documents for a batch.
type InsertStats = ports.InsertStats

// RunStartFilter narrows Broker.FindRunStarts queries.
type RunStartFilter = ports.RunStartFilter

// Observability emits metrics/logs about throughput, latency, and DLQ conditions.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the write-ahead log used for durability and crash recovery.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

// WALEntryID uniquely identifies a WAL entry.
type WALEntryID = ports.WALEntryID
