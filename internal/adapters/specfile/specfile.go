// Package specfile parses the legacy flat-file scan logs written by the
// spec instrument-control program and converts their scans into the
// document stream the broker stores.
package specfile

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// timeLayout matches the #D/#E date lines, e.g. "Fri Feb 19 14:01:35 2016".
// The day of month may be space padded in files written by older spec builds.
const timeLayout = "Mon Jan _2 15:04:05 2006"

// FileHeader holds the metadata block that precedes the first #S line.
type FileHeader struct {
	Filename           string
	Epoch              time.Time
	Date               time.Time
	Mode               string
	User               string
	MotorHumanNames    []string
	MotorSpecNames     []string
	DetectorHumanNames []string
	DetectorSpecNames  []string
	// Unknown keeps header lines we have no mapping for, keyed by their
	// line type (e.g. "#X"), so nothing is silently discarded.
	Unknown map[string]string
}

// Specfile is the parsed model of one spec-format file. Scans are looked up
// by their scan number.
type Specfile struct {
	Path   string
	Header FileHeader

	scans map[int]*Scan
}

// Open reads and parses the spec file at path.
func Open(path string) (*Specfile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, abs)
}

// Parse reads a spec-format stream. The path is recorded on the resulting
// Specfile and ends up in the specpath field of every RunStart.
func Parse(r io.Reader, path string) (*Specfile, error) {
	sf := &Specfile{
		Path:  path,
		scans: make(map[int]*Scan),
	}

	var (
		headerLines []string
		block       []string
		inScan      bool
	)
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		scan, err := parseScan(sf, block)
		if err != nil {
			return err
		}
		sf.scans[scan.ScanID] = scan
		block = nil
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#S ") || line == "#S" {
			if err := flush(); err != nil {
				return nil, err
			}
			inScan = true
			block = append(block, line)
			continue
		}
		if inScan {
			block = append(block, line)
		} else {
			headerLines = append(headerLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("specfile %s: %w", path, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	hdr, err := parseFileHeader(headerLines)
	if err != nil {
		return nil, fmt.Errorf("specfile %s: %w", path, err)
	}
	sf.Header = hdr
	return sf, nil
}

// Scan returns the scan with the given scan number.
func (sf *Specfile) Scan(id int) (*Scan, bool) {
	s, ok := sf.scans[id]
	return s, ok
}

// Scans returns every scan in ascending scan-number order.
func (sf *Specfile) Scans() []*Scan {
	out := make([]*Scan, 0, len(sf.scans))
	for _, s := range sf.scans {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanID < out[j].ScanID })
	return out
}

// Len reports the number of scans in the file.
func (sf *Specfile) Len() int { return len(sf.scans) }

func (sf *Specfile) String() string {
	return fmt.Sprintf("%s: %d scans, user %s", sf.Path, len(sf.scans), sf.Header.User)
}

// Scan is one logged measurement run: the #S block's metadata plus its
// measured data rows.
type Scan struct {
	file *Specfile

	// Raw keeps the verbatim lines of the block; the scan hash is
	// computed over them.
	Raw []string

	ScanID       int
	Command      string
	Args         map[string]string
	Date         time.Time
	ExposureTime float64
	HKL          []float64
	NumColumns   int
	Geometry     []float64
	MotorValues  []float64
	XName        string
	Columns      []string
	Data         [][]float64
}

// File returns the Specfile this scan was parsed from.
func (s *Scan) File() *Specfile { return s.file }

// Points reports the number of measured rows.
func (s *Scan) Points() int { return len(s.Data) }

// Hash is the duplicate-detection key for this scan: a digest over the raw
// block, so the same scan hashes identically across re-ingests.
func (s *Scan) Hash() string {
	h := sha256.Sum256([]byte(strings.Join(s.Raw, "\n")))
	return hex.EncodeToString(h[:])
}

func (s *Scan) String() string {
	return fmt.Sprintf("scan %d (%s): %d points", s.ScanID, s.Command, s.Points())
}
