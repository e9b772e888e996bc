package specfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The #S line carries the invoked command, e.g.
//
//	#S 1  ascan  tth -0.7 -0.5  101 1
//
// For motor scans the positional arguments are motor, start, stop, number
// of intervals, and count time.
var scanArgNames = []string{"scan_motor", "start", "stop", "num", "time"}

func parseFileHeader(lines []string) (FileHeader, error) {
	hdr := FileHeader{Unknown: map[string]string{}}
	for _, line := range lines {
		if !strings.HasPrefix(line, "#") {
			continue
		}
		lineType, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(lineType, "#O"):
			hdr.MotorHumanNames = append(hdr.MotorHumanNames, splitNames(rest, "  ")...)
		case strings.HasPrefix(lineType, "#o"):
			hdr.MotorSpecNames = append(hdr.MotorSpecNames, splitNames(rest, " ")...)
		case strings.HasPrefix(lineType, "#J"):
			hdr.DetectorHumanNames = append(hdr.DetectorHumanNames, splitNames(rest, "  ")...)
		case strings.HasPrefix(lineType, "#j"):
			hdr.DetectorSpecNames = append(hdr.DetectorSpecNames, splitNames(rest, " ")...)
		case lineType == "#C":
			// "#C fourc  User = asuvorov"
			mode, userPart, ok := strings.Cut(rest, "  ")
			if ok {
				hdr.Mode = mode
				fields := strings.Fields(userPart)
				if len(fields) > 0 {
					hdr.User = fields[len(fields)-1]
				}
			} else {
				hdr.Mode = strings.TrimSpace(rest)
			}
		case lineType == "#D":
			t, err := time.ParseInLocation(timeLayout, strings.TrimSpace(rest), time.Local)
			if err != nil {
				return hdr, fmt.Errorf("header #D line: %w", err)
			}
			hdr.Date = t
		case lineType == "#E":
			sec, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
			if err != nil {
				return hdr, fmt.Errorf("header #E line: %w", err)
			}
			hdr.Epoch = time.Unix(sec, 0)
		case lineType == "#F":
			hdr.Filename = strings.TrimSpace(rest)
		default:
			hdr.Unknown[lineType] = rest
		}
	}
	return hdr, nil
}

func parseScan(sf *Specfile, lines []string) (*Scan, error) {
	scan := &Scan{
		file: sf,
		Raw:  append([]string(nil), lines...),
		Args: map[string]string{},
	}

	sFields := strings.Fields(lines[0])
	if len(sFields) < 3 {
		return nil, fmt.Errorf("malformed #S line %q", lines[0])
	}
	id, err := strconv.Atoi(sFields[1])
	if err != nil {
		return nil, fmt.Errorf("scan number in %q: %w", lines[0], err)
	}
	scan.ScanID = id
	scan.Command = sFields[2]
	for i, v := range sFields[3:] {
		if i >= len(scanArgNames) {
			break
		}
		scan.Args[scanArgNames[i]] = v
	}

	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, "#") {
			if row := strings.Fields(line); len(row) > 0 {
				vals, err := parseFloats(row)
				if err != nil {
					return nil, fmt.Errorf("scan %d data row %q: %w", id, line, err)
				}
				scan.Data = append(scan.Data, vals)
			}
			continue
		}
		lineType, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch {
		case lineType == "#D":
			t, err := time.ParseInLocation(timeLayout, strings.TrimSpace(rest), time.Local)
			if err != nil {
				return nil, fmt.Errorf("scan %d #D line: %w", id, err)
			}
			scan.Date = t
		case lineType == "#T":
			// "#T 1  (Seconds)"
			first, _, _ := strings.Cut(rest, "  ")
			v, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
			if err != nil {
				return nil, fmt.Errorf("scan %d #T line: %w", id, err)
			}
			scan.ExposureTime = v
		case lineType == "#Q":
			vals, err := parseFloats(strings.Fields(rest))
			if err != nil {
				return nil, fmt.Errorf("scan %d #Q line: %w", id, err)
			}
			scan.HKL = vals
		case lineType == "#N":
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return nil, fmt.Errorf("scan %d #N line: %w", id, err)
			}
			scan.NumColumns = n
		case lineType == "#L":
			// Column names are separated by exactly two spaces; single
			// spaces occur inside names like "Two Theta".
			scan.Columns = splitNames(rest, "  ")
			if len(scan.Columns) > 0 {
				scan.XName = scan.Columns[0]
			}
		case strings.HasPrefix(lineType, "#G"):
			vals, err := parseFloats(strings.Fields(rest))
			if err != nil {
				return nil, fmt.Errorf("scan %d %s line: %w", id, lineType, err)
			}
			scan.Geometry = append(scan.Geometry, vals...)
		case strings.HasPrefix(lineType, "#P"):
			vals, err := parseFloats(strings.Fields(rest))
			if err != nil {
				return nil, fmt.Errorf("scan %d %s line: %w", id, lineType, err)
			}
			scan.MotorValues = append(scan.MotorValues, vals...)
		}
	}
	return scan, nil
}

func splitNames(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(strings.TrimSpace(s), sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
