package suitcase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleSpec = `#F /home/user/lab.spec
#E 1534432676
#D Thu Aug 16 14:37:56 2018
#C fourc  User = asuvorov
#O0 theta  two theta
#o0 th tth

#S 1  ascan  tth -0.7 -0.5  2 1
#D Thu Aug 16 14:38:00 2018
#T 1  (Seconds)
#P0 -0.5 1.25
#N 4
#L Two Theta  Epoch  Seconds  Detector
-0.7 1 1 100
-0.6 2 1 120
-0.5 3 1 130

#S 2  tseries  1 10
#D Thu Aug 16 14:40:00 2018
#N 2
#L Time  Detector
0 1
`

func writeSampleSpec(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lab.spec")
	if err := os.WriteFile(path, []byte(sampleSpec), 0o644); err != nil {
		t.Fatalf("write specfile: %v", err)
	}
	return path
}

func TestInsertSpecfileIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemBroker()
	path := writeSampleSpec(t)

	// Scan 1 converts into start + 2 descriptors + 4 events + stop; the
	// tseries scan has no document mapping and is skipped entirely.
	stats, err := InsertSpecfile(ctx, b, path)
	if err != nil {
		t.Fatalf("InsertSpecfile returned error: %v", err)
	}
	if stats.Inserted != 8 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats on first insert: %+v", stats)
	}

	stats, err = InsertSpecfile(ctx, b, path)
	if err != nil {
		t.Fatalf("InsertSpecfile returned error on re-run: %v", err)
	}
	if stats.Inserted != 0 || stats.Skipped != 8 {
		t.Fatalf("expected re-run to skip everything, got %+v", stats)
	}
}

func TestInsertSpecfileMissingScan(t *testing.T) {
	b := NewMemBroker()
	path := writeSampleSpec(t)

	if _, err := InsertSpecfile(context.Background(), b, path, 99); err == nil {
		t.Fatalf("expected error for unknown scan id")
	}
}

func TestWriteSpecRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewMemBroker()
	path := writeSampleSpec(t)

	if _, err := InsertSpecfile(ctx, b, path); err != nil {
		t.Fatalf("InsertSpecfile returned error: %v", err)
	}

	out := filepath.Join(t.TempDir(), "out.spec")
	if err := WriteSpec(ctx, b, out); err != nil {
		t.Fatalf("WriteSpec returned error: %v", err)
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read rendered specfile: %v", err)
	}
	text := string(raw)

	// The ascan plan was stored as dscan, so rendering swaps it back.
	if !strings.Contains(text, "#S 1 ascan tth -0.7 -0.5 2 1") {
		t.Fatalf("missing #S line in rendered specfile:\n%s", text)
	}
	if !strings.Contains(text, "#L Two Theta  Epoch  Seconds  Detector") {
		t.Fatalf("missing #L line in rendered specfile:\n%s", text)
	}
	if !strings.Contains(text, "-0.6  ") {
		t.Fatalf("missing data row in rendered specfile:\n%s", text)
	}
}
