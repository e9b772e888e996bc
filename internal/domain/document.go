package domain

import (
	"fmt"
	"time"
)

// Kind discriminates the four document types emitted for one run.
type Kind string

const (
	KindRunStart   Kind = "start"
	KindDescriptor Kind = "descriptor"
	KindEvent      Kind = "event"
	KindRunStop    Kind = "stop"
)

// Document is the unit that flows through the ingest pipeline. Exactly one of
// the payload pointers is set, selected by Kind.
type Document struct {
	Kind       Kind             `json:"kind"`
	Start      *RunStart        `json:"start,omitempty"`
	Descriptor *EventDescriptor `json:"descriptor,omitempty"`
	Event      *Event           `json:"event,omitempty"`
	Stop       *RunStop         `json:"stop,omitempty"`
}

// RunStart opens one data-collection run.
type RunStart struct {
	UID        string            `json:"uid"`
	Time       time.Time         `json:"time"`
	ScanID     int               `json:"scan_id"`
	SpecPath   string            `json:"specpath"`
	Owner      string            `json:"owner"`
	PlanName   string            `json:"plan_name"`
	PlanArgs   map[string]string `json:"plan_args"`
	Motors     []string          `json:"motors"`
	Group      string            `json:"group"`
	BeamlineID string            `json:"beamline_id"`
	// ScanHash identifies the source scan so re-ingesting the same scan is
	// detectable regardless of the freshly minted UID.
	ScanHash string `json:"scan_hash"`
}

// DataKey describes one measured field announced by a descriptor.
type DataKey struct {
	DType      string `json:"dtype"`
	Shape      []int  `json:"shape"`
	Source     string `json:"source"`
	ObjectName string `json:"object_name"`
	Precision  int    `json:"precision"`
	Units      string `json:"units"`
}

// EventDescriptor announces the data keys shared by a stream of events.
// Name is "baseline" for the pre-scan motor snapshot and "primary" for the
// measured stream.
type EventDescriptor struct {
	UID      string             `json:"uid"`
	RunStart string             `json:"run_start"`
	Name     string             `json:"name,omitempty"`
	Time     time.Time          `json:"time"`
	DataKeys map[string]DataKey `json:"data_keys"`
	ScanHash string             `json:"scan_hash"`
}

// Event carries one measured point.
type Event struct {
	UID        string               `json:"uid"`
	Descriptor string               `json:"descriptor"`
	SeqNum     int                  `json:"seq_num"`
	Time       time.Time            `json:"time"`
	Data       map[string]float64   `json:"data"`
	Timestamps map[string]time.Time `json:"timestamps"`
}

// RunStop closes a run. ExitStatus is "success", or "abort" with Reason set
// when the run produced fewer points than planned.
type RunStop struct {
	UID        string    `json:"uid"`
	RunStart   string    `json:"run_start"`
	Time       time.Time `json:"time"`
	ExitStatus string    `json:"exit_status"`
	Reason     string    `json:"reason,omitempty"`
	ScanHash   string    `json:"scan_hash"`
}

// Header bundles everything the exporter needs about one run.
type Header struct {
	Start       RunStart          `json:"start"`
	Descriptors []EventDescriptor `json:"descriptors"`
	Stop        *RunStop          `json:"stop,omitempty"`
}

// UID returns the uid of the active payload, or "" for a malformed document.
func (d *Document) UID() string {
	switch d.Kind {
	case KindRunStart:
		if d.Start != nil {
			return d.Start.UID
		}
	case KindDescriptor:
		if d.Descriptor != nil {
			return d.Descriptor.UID
		}
	case KindEvent:
		if d.Event != nil {
			return d.Event.UID
		}
	case KindRunStop:
		if d.Stop != nil {
			return d.Stop.UID
		}
	}
	return ""
}

// Validate checks that the document has the payload its Kind promises and
// that required identity/link fields are present.
func (d *Document) Validate() error {
	switch d.Kind {
	case KindRunStart:
		if d.Start == nil {
			return fmt.Errorf("start document has no payload")
		}
		if d.Start.UID == "" {
			return fmt.Errorf("start document has no uid")
		}
	case KindDescriptor:
		if d.Descriptor == nil {
			return fmt.Errorf("descriptor document has no payload")
		}
		if d.Descriptor.UID == "" {
			return fmt.Errorf("descriptor document has no uid")
		}
		if d.Descriptor.RunStart == "" {
			return fmt.Errorf("descriptor %s has no run_start link", d.Descriptor.UID)
		}
	case KindEvent:
		if d.Event == nil {
			return fmt.Errorf("event document has no payload")
		}
		if d.Event.UID == "" {
			return fmt.Errorf("event document has no uid")
		}
		if d.Event.Descriptor == "" {
			return fmt.Errorf("event %s has no descriptor link", d.Event.UID)
		}
	case KindRunStop:
		if d.Stop == nil {
			return fmt.Errorf("stop document has no payload")
		}
		if d.Stop.UID == "" {
			return fmt.Errorf("stop document has no uid")
		}
		if d.Stop.RunStart == "" {
			return fmt.Errorf("stop %s has no run_start link", d.Stop.UID)
		}
	default:
		return fmt.Errorf("unknown document kind %q", d.Kind)
	}
	return nil
}
