package result

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Prefix starts the single line a harness program prints to report its outcome.
const Prefix = "RESULTS: "

// FormatLine renders the wire line for the given scores.
func FormatLine(avgReturn, successRate float64) string {
	return fmt.Sprintf("%savg_return=%.3f, success_rate=%.3f", Prefix, avgReturn, successRate)
}

// SentinelLine is the line a failing program prints.
func SentinelLine() string {
	return FormatLine(SentinelReturn, 0)
}

// ParseOutput scans stdout for the first well-formed result line. Lines that do
// not start with Prefix are ignored.
func ParseOutput(stdout string) (Metrics, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, Prefix) {
			continue
		}
		if m, err := ParseLine(line); err == nil {
			return m, true
		}
	}
	return nil, false
}

// ParseLine parses one result line. Both avg_return and success_rate must be
// present and finite; extra key=value pairs are kept.
func ParseLine(line string) (Metrics, error) {
	body, ok := strings.CutPrefix(line, Prefix)
	if !ok {
		return nil, fmt.Errorf("missing %q prefix", strings.TrimSpace(Prefix))
	}
	m := Metrics{}
	for _, pair := range strings.Split(body, ", ") {
		key, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", key, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s is not finite", key)
		}
		m[key] = v
	}
	for _, key := range []string{KeyAvgReturn, KeySuccessRate} {
		if _, ok := m[key]; !ok {
			return nil, fmt.Errorf("missing %s", key)
		}
	}
	return m, nil
}
