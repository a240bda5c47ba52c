package selector

import (
	"fmt"
	"math"
)

// Rule decides whether a candidate score beats the running best.
type Rule interface {
	Improves(candidate, best float64) bool
	Name() string
}

// Relative requires a proportional margin over the best score. The literal
// form multiplies the best by 1+Margin, which lowers the bar when the best
// is negative; Corrected scales the margin by |best| instead.
type Relative struct {
	Margin    float64
	Corrected bool
}

func (r Relative) Improves(candidate, best float64) bool {
	if r.Corrected {
		return candidate > best+math.Abs(best)*r.Margin
	}
	return candidate > best*(1+r.Margin)
}

func (r Relative) Name() string {
	if r.Corrected {
		return fmt.Sprintf("corrected(%g)", r.Margin)
	}
	return fmt.Sprintf("literal(%g)", r.Margin)
}

// Absolute requires a fixed additive margin over the best score.
type Absolute struct {
	Margin float64
}

func (a Absolute) Improves(candidate, best float64) bool {
	return candidate > best+a.Margin
}

func (a Absolute) Name() string { return fmt.Sprintf("absolute(%g)", a.Margin) }

// Default margins.
const (
	AgentMargin  = 0.10
	ConfigMargin = 0.05
)

// AgentRule returns the relative rule named by kind: "literal" or
// "corrected".
func AgentRule(kind string, margin float64) (Rule, error) {
	switch kind {
	case "", "literal":
		return Relative{Margin: margin}, nil
	case "corrected":
		return Relative{Margin: margin, Corrected: true}, nil
	}
	return nil, fmt.Errorf("unknown agent rule %q (want literal or corrected)", kind)
}
