package specfile

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bluesky/suitcase-core/internal/domain"
)

// ErrUnsupportedScan marks scans whose command has no document translation.
var ErrUnsupportedScan = errors.New("unsupported scan command")

// planNames maps a spec command to the plan name recorded on the RunStart.
// ascan/dscan swap because spec's absolute scan corresponds to the plan
// world's delta scan and vice versa.
var planNames = map[string]string{
	"ascan": "dscan",
	"dscan": "ascan",
	"ct":    "ct",
}

// scansWithoutMotors are commands that produce a single counted point.
var scansWithoutMotors = map[string]bool{"ct": true}

const converterGroup = "SpecToDocumentConverter"

// ToDocuments converts one scan into its full document stream:
// RunStart, baseline descriptor + event, primary descriptor + one event per
// data row, RunStop. Scans with commands other than ascan/dscan/ct return
// ErrUnsupportedScan.
func ToDocuments(scan *Scan) ([]*domain.Document, error) {
	planName, ok := planNames[scan.Command]
	if !ok {
		return nil, fmt.Errorf("scan %d command %q: %w", scan.ScanID, scan.Command, ErrUnsupportedScan)
	}

	hash := scan.Hash()
	start := &domain.RunStart{
		UID:        uuid.NewString(),
		Time:       scan.Date,
		ScanID:     scan.ScanID,
		SpecPath:   scan.file.Path,
		Owner:      scan.file.Header.User,
		PlanName:   planName,
		PlanArgs:   scan.Args,
		Motors:     startMotors(scan),
		Group:      converterGroup,
		BeamlineID: converterGroup,
		ScanHash:   hash,
	}

	docs := []*domain.Document{{Kind: domain.KindRunStart, Start: start}}
	docs = append(docs, baselineDocuments(scan, start.UID, hash)...)
	docs = append(docs, primaryDocuments(scan, start.UID, hash)...)
	docs = append(docs, stopDocument(scan, start.UID, hash))
	return docs, nil
}

func startMotors(scan *Scan) []string {
	if len(scan.Columns) > 0 {
		return []string{scan.Columns[0]}
	}
	if m, ok := scan.Args["scan_motor"]; ok {
		return []string{m}
	}
	return nil
}

// baselineDocuments snapshots the motor positions recorded in the scan's #P
// block, zipped against the file header's motor names, plus the hkl
// coordinates when the scan carries a #Q line.
func baselineDocuments(scan *Scan, startUID, hash string) []*domain.Document {
	hdr := scan.file.Header
	dataKeys := make(map[string]domain.DataKey)
	data := make(map[string]float64)
	timestamps := make(map[string]time.Time)

	n := len(scan.MotorValues)
	if len(hdr.MotorSpecNames) < n {
		n = len(hdr.MotorSpecNames)
	}
	if len(hdr.MotorHumanNames) < n {
		n = len(hdr.MotorHumanNames)
	}
	for i := 0; i < n; i++ {
		name := hdr.MotorSpecNames[i]
		dataKeys[name] = domain.DataKey{
			DType:      "number",
			Shape:      []int{},
			Source:     hdr.MotorHumanNames[i],
			ObjectName: name,
			Precision:  -1,
			Units:      "N/A",
		}
		data[name] = scan.MotorValues[i]
		timestamps[name] = scan.Date
	}
	if len(scan.HKL) == 3 {
		for i, name := range []string{"h", "k", "l"} {
			dataKeys[name] = domain.DataKey{
				DType:      "number",
				Shape:      []int{},
				Source:     name,
				ObjectName: name,
				Precision:  -1,
				Units:      "N/A",
			}
			data[name] = scan.HKL[i]
			timestamps[name] = scan.Date
		}
	}

	descriptor := &domain.EventDescriptor{
		UID:      uuid.NewString(),
		RunStart: startUID,
		Name:     "baseline",
		Time:     scan.Date,
		DataKeys: dataKeys,
		ScanHash: hash,
	}
	event := &domain.Event{
		UID:        uuid.NewString(),
		Descriptor: descriptor.UID,
		SeqNum:     0,
		Time:       scan.Date,
		Data:       data,
		Timestamps: timestamps,
	}
	return []*domain.Document{
		{Kind: domain.KindDescriptor, Descriptor: descriptor},
		{Kind: domain.KindEvent, Event: event},
	}
}

// primaryDocuments emits the descriptor for the #L columns and one event per
// data row. Row times are offset from the scan date by the Epoch column when
// the scan has one.
func primaryDocuments(scan *Scan, startUID, hash string) []*domain.Document {
	dataKeys := make(map[string]domain.DataKey, len(scan.Columns))
	for _, col := range scan.Columns {
		dataKeys[col] = domain.DataKey{
			DType:      "number",
			Shape:      []int{},
			Source:     col,
			ObjectName: col,
			Precision:  -1,
			Units:      "N/A",
		}
	}
	descriptor := &domain.EventDescriptor{
		UID:      uuid.NewString(),
		RunStart: startUID,
		Name:     "primary",
		Time:     scan.Date,
		DataKeys: dataKeys,
		ScanHash: hash,
	}
	docs := []*domain.Document{{Kind: domain.KindDescriptor, Descriptor: descriptor}}

	timestamps := make(map[string]time.Time, len(scan.Columns))
	for _, col := range scan.Columns {
		timestamps[col] = scan.Date
	}
	epochIdx := -1
	for i, col := range scan.Columns {
		if col == "Epoch" {
			epochIdx = i
		}
	}

	for seq, row := range scan.Data {
		data := make(map[string]float64, len(scan.Columns))
		for i, col := range scan.Columns {
			if i < len(row) {
				data[col] = row[i]
			}
		}
		eventTime := scan.Date
		if epochIdx >= 0 && epochIdx < len(row) {
			eventTime = scan.Date.Add(time.Duration(row[epochIdx] * float64(time.Second)))
		}
		docs = append(docs, &domain.Document{Kind: domain.KindEvent, Event: &domain.Event{
			UID:        uuid.NewString(),
			Descriptor: descriptor.UID,
			SeqNum:     seq,
			Time:       eventTime,
			Data:       data,
			Timestamps: timestamps,
		}})
	}
	return docs
}

// stopDocument closes the run, marking it aborted when the scan holds fewer
// points than its command planned.
func stopDocument(scan *Scan, startUID, hash string) *domain.Document {
	stop := &domain.RunStop{
		UID:        uuid.NewString(),
		RunStart:   startUID,
		Time:       scan.Date,
		ExitStatus: "success",
		ScanHash:   hash,
	}

	actual := scan.Points()
	expected := actual
	if scansWithoutMotors[scan.Command] {
		expected = 1
	} else if numArg, ok := scan.Args["num"]; ok {
		if num, err := strconv.Atoi(numArg); err == nil {
			// num counts intervals, so a completed scan has num+1 rows.
			expected = num + 1
		}
	}
	if actual != expected {
		stop.ExitStatus = "abort"
		stop.Reason = fmt.Sprintf("expected events: %d, actual events: %d", expected, actual)
	}
	return &domain.Document{Kind: domain.KindRunStop, Stop: stop}
}
