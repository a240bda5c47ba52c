package result

import "time"

// Metric keys every Metrics value carries.
const (
	KeyAvgReturn   = "avg_return"
	KeySuccessRate = "success_rate"
)

// SentinelReturn is the avg_return reported when no true score could be computed.
const SentinelReturn = -999.0

// BaselineIndex marks a Result that belongs to the baseline rather than a candidate.
const BaselineIndex = -1

type Metrics map[string]float64

// Sentinel returns a fresh copy of the failure metrics.
func Sentinel() Metrics {
	return Metrics{KeyAvgReturn: SentinelReturn, KeySuccessRate: 0.0}
}

func (m Metrics) AvgReturn() float64 {
	v, ok := m[KeyAvgReturn]
	if !ok {
		return SentinelReturn
	}
	return v
}

func (m Metrics) SuccessRate() float64 {
	return m[KeySuccessRate]
}

// Failed reports whether m is the sentinel (or anything at or below it).
func (m Metrics) Failed() bool {
	return m.AvgReturn() <= SentinelReturn
}

func (m Metrics) Clone() Metrics {
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type Status string

const (
	StatusOK        Status = "ok"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCrashed   Status = "crashed"
	StatusMalformed Status = "malformed"
	StatusError     Status = "error"
)

type Result struct {
	Label    string        `json:"label"`
	Index    int           `json:"index"`
	Metrics  Metrics       `json:"metrics"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}

// OK reports whether the evaluation produced a usable score.
func (r Result) OK() bool {
	return r.Status == StatusOK && !r.Metrics.Failed()
}
