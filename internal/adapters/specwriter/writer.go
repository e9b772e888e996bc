// Package specwriter renders a document stream back into specfile format,
// so runs held in the broker can be handed to tooling that only reads the
// legacy instrument log. It is the inverse of the specfile source for the
// scalar fields a specfile can carry.
package specwriter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bluesky/suitcase-core/internal/domain"
	"github.com/bluesky/suitcase-core/internal/ports"
)

const timeLayout = "Mon Jan 02 15:04:05 2006"

// plan names that map back onto spec commands; the ascan/dscan swap mirrors
// the ingest direction.
var specCommands = map[string]string{
	"dscan": "ascan",
	"ascan": "dscan",
	"ct":    "ct",
}

// Writer is a Sink that appends scans to a specfile as their documents
// arrive. It expects each run's documents in stream order: start, baseline
// descriptor, baseline event, primary descriptor, primary events, stop.
type Writer struct {
	path string

	mu                 sync.Mutex
	start              *domain.RunStart
	baselineDescriptor *domain.EventDescriptor
	baselineEvent      *domain.Event
	primaryDescriptor  *domain.EventDescriptor
	wroteScanHeader    bool
}

func NewWriter(path string) (*Writer, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Writer{path: abs}, nil
}

func (w *Writer) Name() string { return "specwriter" }

func (w *Writer) WriteBatch(docs []*domain.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, doc := range docs {
		if err := w.consume(doc); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) consume(doc *domain.Document) error {
	switch doc.Kind {
	case domain.KindRunStart:
		w.start = doc.Start
		w.baselineDescriptor = nil
		w.baselineEvent = nil
		w.primaryDescriptor = nil
		w.wroteScanHeader = false
		return nil
	case domain.KindDescriptor:
		if doc.Descriptor.Name == "baseline" {
			w.baselineDescriptor = doc.Descriptor
			return nil
		}
		if w.primaryDescriptor != nil {
			return fmt.Errorf("specwriter handles a single primary stream, got second descriptor %s", doc.Descriptor.UID)
		}
		w.primaryDescriptor = doc.Descriptor
		return nil
	case domain.KindEvent:
		return w.consumeEvent(doc.Event)
	case domain.KindRunStop:
		// nothing to render; the next #S line implicitly closes the scan
		return nil
	default:
		return fmt.Errorf("specwriter: unknown document kind %q", doc.Kind)
	}
}

func (w *Writer) consumeEvent(ev *domain.Event) error {
	if w.baselineDescriptor != nil && ev.Descriptor == w.baselineDescriptor.UID {
		w.baselineEvent = ev
		return nil
	}
	if w.start == nil || w.primaryDescriptor == nil {
		return fmt.Errorf("specwriter: event %s arrived before its start/descriptor", ev.UID)
	}
	if !w.wroteScanHeader {
		if err := w.ensureFileHeader(); err != nil {
			return err
		}
		if err := w.appendScanHeader(); err != nil {
			return err
		}
		w.wroteScanHeader = true
	}
	return w.appendDataRow(ev)
}

func (w *Writer) ensureFileHeader() error {
	if _, err := os.Stat(w.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	var names, sources []string
	if w.baselineDescriptor != nil {
		names = sortedKeys(w.baselineDescriptor.DataKeys)
		for _, n := range names {
			sources = append(sources, w.baselineDescriptor.DataKeys[n].Source)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "#F %s\n", filepath.Base(w.path))
	fmt.Fprintf(&b, "#E %d\n", w.start.Time.Unix())
	fmt.Fprintf(&b, "#D %s\n", w.start.Time.Format(timeLayout))
	fmt.Fprintf(&b, "#C %s  User = %s\n", w.start.Owner, w.start.Owner)
	fmt.Fprintf(&b, "#O0 %s\n", strings.Join(sources, "  "))
	fmt.Fprintf(&b, "#o0 %s\n", strings.Join(names, " "))
	return os.WriteFile(w.path, []byte(b.String()), 0o644)
}

func (w *Writer) appendScanHeader() error {
	command := w.command()
	motor := w.motorName()
	dataKeys := w.dataColumns()

	var positions []string
	if w.baselineEvent != nil {
		for _, k := range sortedKeys2(w.baselineEvent.Data) {
			positions = append(positions, formatValue(w.baselineEvent.Data[k]))
		}
	}

	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "#S %d %s\n", w.start.ScanID, command)
	fmt.Fprintf(&b, "#D %s\n", w.start.Time.Format(timeLayout))
	fmt.Fprintf(&b, "#T %s  (Seconds)\n", w.acqTime())
	fmt.Fprintf(&b, "#P0 %s\n", strings.Join(positions, " "))
	fmt.Fprintf(&b, "#N %d\n", 3+len(dataKeys))
	fmt.Fprintf(&b, "#L %s  Epoch  Seconds  %s\n", motor, strings.Join(dataKeys, "  "))
	return w.append(b.String())
}

func (w *Writer) appendDataRow(ev *domain.Event) error {
	motor := w.motorName()
	position := float64(ev.SeqNum)
	if motor != "seq_num" {
		if v, ok := ev.Data[motor]; ok {
			position = v
		}
	}

	values := make([]string, 0, len(w.dataColumns()))
	for _, k := range w.dataColumns() {
		values = append(values, formatValue(ev.Data[k]))
	}
	row := fmt.Sprintf("%s  %d %s %s\n",
		formatValue(position), ev.Time.Unix(), w.acqTime(), strings.Join(values, " "))
	return w.append(row)
}

// command reassembles the #S command from the run's plan name and args.
func (w *Writer) command() string {
	cmd, ok := specCommands[w.start.PlanName]
	if !ok {
		return "Other"
	}
	parts := []string{cmd}
	if !strings.EqualFold(cmd, "ct") {
		motor := w.start.PlanArgs["scan_motor"]
		if motor == "" {
			motor = w.motorName()
		}
		parts = append(parts, motor)
		for _, k := range []string{"start", "stop", "num"} {
			if v, ok := w.start.PlanArgs[k]; ok {
				parts = append(parts, v)
			}
		}
		parts = append(parts, w.acqTime())
	} else if v, ok := w.start.PlanArgs["time"]; ok && v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, " ")
}

func (w *Writer) motorName() string {
	if _, ok := specCommands[w.start.PlanName]; !ok {
		return "seq_num"
	}
	if w.start.PlanName == "ct" || len(w.start.Motors) != 1 {
		return "seq_num"
	}
	return w.start.Motors[0]
}

func (w *Writer) acqTime() string {
	if v, ok := w.start.PlanArgs["time"]; ok && v != "" {
		return v
	}
	return "-1"
}

// dataColumns lists the primary scalar fields excluding the motor column and
// the Epoch/Seconds columns that every scan header carries explicitly.
func (w *Writer) dataColumns() []string {
	motor := w.motorName()
	var cols []string
	for _, k := range sortedKeys(w.primaryDescriptor.DataKeys) {
		key := w.primaryDescriptor.DataKeys[k]
		if key.ObjectName == motor || len(key.Shape) > 0 {
			continue
		}
		if k == "Epoch" || k == "Seconds" {
			continue
		}
		cols = append(cols, k)
	}
	return cols
}

func (w *Writer) append(s string) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

func formatValue(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}

func sortedKeys(m map[string]domain.DataKey) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys2(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ ports.Sink = (*Writer)(nil)
