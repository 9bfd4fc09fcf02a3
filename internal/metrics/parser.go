package metrics

import (
	"strconv"
	"strings"
)

// Sample is one set of values parsed from a stress output line.
type Sample struct {
	Ops     float64
	LatMean float64
	LatP99  float64
	Errors  float64

	HasOps     bool
	HasLatMean bool
	HasLatP99  bool
	HasErrors  bool
}

// ParseLine extracts progress values from one line of stress output.
// Two shapes are understood: the periodic "total, ..." progress row
// (total ops, op/s, pk/s, row/s, mean, med, .95, .99, .999, max, time)
// and the "key : value" lines of the final results block. Lines that
// match neither return ok=false.
func ParseLine(line string) (Sample, bool) {
	line = strings.TrimSpace(line)

	if rest, found := strings.CutPrefix(line, "total,"); found {
		return parseProgressRow(rest)
	}
	if strings.Contains(line, ":") {
		return parseResultLine(line)
	}
	return Sample{}, false
}

func parseProgressRow(rest string) (Sample, bool) {
	fields := strings.Split(rest, ",")
	if len(fields) < 8 {
		return Sample{}, false
	}

	var s Sample
	if v, err := parseNumber(fields[1]); err == nil {
		s.Ops = v
		s.HasOps = true
	}
	if v, err := parseNumber(fields[4]); err == nil {
		s.LatMean = v
		s.HasLatMean = true
	}
	if v, err := parseNumber(fields[7]); err == nil {
		s.LatP99 = v
		s.HasLatP99 = true
	}
	ok := s.HasOps || s.HasLatMean || s.HasLatP99
	return s, ok
}

func parseResultLine(line string) (Sample, bool) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return Sample{}, false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	// Values may carry a unit suffix, e.g. "4.2 ms" or "59,938 op/s".
	valueField := strings.Fields(strings.TrimSpace(value))
	if len(valueField) == 0 {
		return Sample{}, false
	}
	v, err := parseNumber(valueField[0])
	if err != nil {
		return Sample{}, false
	}

	var s Sample
	switch key {
	case "op rate":
		s.Ops = v
		s.HasOps = true
	case "latency mean":
		s.LatMean = v
		s.HasLatMean = true
	case "latency 99th percentile":
		s.LatP99 = v
		s.HasLatP99 = true
	case "errors", "total errors":
		s.Errors = v
		s.HasErrors = true
	default:
		return Sample{}, false
	}
	return s, true
}

// parseNumber handles thousands separators in stress output ("59,938").
func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.ParseFloat(s, 64)
}
