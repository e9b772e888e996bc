package specfile

import (
	"errors"
	"testing"
	"time"

	"github.com/bluesky/suitcase-core/internal/domain"
)

func TestToDocumentsStructure(t *testing.T) {
	sf := openSample(t)
	scan, _ := sf.Scan(1)

	docs, err := ToDocuments(scan)
	if err != nil {
		t.Fatalf("to documents: %v", err)
	}

	// start, baseline descriptor+event, primary descriptor, 3 events, stop
	if len(docs) != 8 {
		t.Fatalf("expected 8 documents, got %d", len(docs))
	}
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			t.Fatalf("invalid document %s: %v", doc.Kind, err)
		}
	}

	start := docs[0].Start
	if start == nil {
		t.Fatalf("first document must be a run start")
	}
	// ascan maps to the dscan plan (and vice versa).
	if start.PlanName != "dscan" {
		t.Fatalf("unexpected plan name %q", start.PlanName)
	}
	if start.ScanID != 1 {
		t.Fatalf("unexpected scan id %d", start.ScanID)
	}
	if start.Owner != "asuvorov" {
		t.Fatalf("unexpected owner %q", start.Owner)
	}
	if start.Group != "SpecToDocumentConverter" || start.BeamlineID != "SpecToDocumentConverter" {
		t.Fatalf("unexpected group/beamline %q/%q", start.Group, start.BeamlineID)
	}
	if len(start.Motors) != 1 || start.Motors[0] != "Two Theta" {
		t.Fatalf("unexpected motors %v", start.Motors)
	}
	if start.ScanHash != scan.Hash() {
		t.Fatalf("start scan hash mismatch")
	}

	baseline := docs[1].Descriptor
	if baseline == nil || baseline.Name != "baseline" {
		t.Fatalf("second document must be the baseline descriptor")
	}
	if baseline.RunStart != start.UID {
		t.Fatalf("baseline descriptor not linked to run start")
	}
	// Two motors from #P plus h, k, l from #Q.
	for _, key := range []string{"th", "tth", "h", "k", "l"} {
		if _, ok := baseline.DataKeys[key]; !ok {
			t.Fatalf("baseline missing data key %q", key)
		}
	}

	baseEvent := docs[2].Event
	if baseEvent == nil || baseEvent.Descriptor != baseline.UID {
		t.Fatalf("third document must be the baseline event")
	}
	if baseEvent.Data["tth"] != 1.25 {
		t.Fatalf("unexpected baseline tth %f", baseEvent.Data["tth"])
	}
	if baseEvent.Data["k"] != 2 {
		t.Fatalf("unexpected baseline k %f", baseEvent.Data["k"])
	}

	primary := docs[3].Descriptor
	if primary == nil || primary.Name != "primary" {
		t.Fatalf("fourth document must be the primary descriptor")
	}
	if len(primary.DataKeys) != 4 {
		t.Fatalf("unexpected primary data keys %v", primary.DataKeys)
	}

	// Event times are offset from the scan date by the Epoch column.
	ev := docs[4].Event
	if ev == nil || ev.SeqNum != 0 {
		t.Fatalf("fifth document must be the first primary event")
	}
	wantTime := scan.Date.Add(1 * time.Second)
	if !ev.Time.Equal(wantTime) {
		t.Fatalf("unexpected event time %s, want %s", ev.Time, wantTime)
	}
	if ev.Data["Detector"] != 100 {
		t.Fatalf("unexpected detector value %f", ev.Data["Detector"])
	}

	stop := docs[7].Stop
	if stop == nil {
		t.Fatalf("last document must be a run stop")
	}
	// num=2 intervals means 3 rows; all present, so the run succeeded.
	if stop.ExitStatus != "success" {
		t.Fatalf("unexpected exit status %q (%s)", stop.ExitStatus, stop.Reason)
	}
	if stop.RunStart != start.UID {
		t.Fatalf("stop not linked to run start")
	}
}

func TestToDocumentsAbortOnShortScan(t *testing.T) {
	sf := openSample(t)
	// Scan 2 declares num=1 (two rows expected) but holds one row.
	scan, _ := sf.Scan(2)

	docs, err := ToDocuments(scan)
	if err != nil {
		t.Fatalf("to documents: %v", err)
	}

	if docs[0].Start.PlanName != "ascan" {
		t.Fatalf("dscan should map to plan ascan, got %q", docs[0].Start.PlanName)
	}

	stop := docs[len(docs)-1].Stop
	if stop.ExitStatus != "abort" {
		t.Fatalf("expected abort, got %q", stop.ExitStatus)
	}
	if stop.Reason != "expected events: 2, actual events: 1" {
		t.Fatalf("unexpected abort reason %q", stop.Reason)
	}
}

func TestToDocumentsCountScan(t *testing.T) {
	sf := openSample(t)
	scan, _ := sf.Scan(3)

	docs, err := ToDocuments(scan)
	if err != nil {
		t.Fatalf("to documents: %v", err)
	}

	start := docs[0].Start
	if start.PlanName != "ct" {
		t.Fatalf("unexpected plan name %q", start.PlanName)
	}

	// A single counted point is a complete ct run.
	stop := docs[len(docs)-1].Stop
	if stop.ExitStatus != "success" {
		t.Fatalf("unexpected exit status %q (%s)", stop.ExitStatus, stop.Reason)
	}
}

func TestToDocumentsUnsupportedCommand(t *testing.T) {
	sf := openSample(t)
	scan, _ := sf.Scan(4)

	if _, err := ToDocuments(scan); !errors.Is(err, ErrUnsupportedScan) {
		t.Fatalf("expected ErrUnsupportedScan, got %v", err)
	}
}

func TestToDocumentsFreshUIDsPerCall(t *testing.T) {
	sf := openSample(t)
	scan, _ := sf.Scan(1)

	docs1, err := ToDocuments(scan)
	if err != nil {
		t.Fatalf("to documents: %v", err)
	}
	docs2, err := ToDocuments(scan)
	if err != nil {
		t.Fatalf("to documents: %v", err)
	}

	if docs1[0].UID() == docs2[0].UID() {
		t.Fatalf("run start uids must differ between conversions")
	}
	// The scan hash is what ties the two conversions together.
	if docs1[0].Start.ScanHash != docs2[0].Start.ScanHash {
		t.Fatalf("scan hash must be identical between conversions")
	}
}

func TestDocumentKindsOrdered(t *testing.T) {
	sf := openSample(t)
	scan, _ := sf.Scan(1)

	docs, err := ToDocuments(scan)
	if err != nil {
		t.Fatalf("to documents: %v", err)
	}

	if docs[0].Kind != domain.KindRunStart {
		t.Fatalf("stream must open with a run start")
	}
	if docs[len(docs)-1].Kind != domain.KindRunStop {
		t.Fatalf("stream must close with a run stop")
	}
	seenDescriptor := false
	for _, doc := range docs {
		if doc.Kind == domain.KindDescriptor {
			seenDescriptor = true
		}
		if doc.Kind == domain.KindEvent && !seenDescriptor {
			t.Fatalf("event before any descriptor")
		}
	}
}
