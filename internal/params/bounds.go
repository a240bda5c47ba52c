package params

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrOutOfBounds      = errors.New("parameter out of bounds")
)

// Limit is one side of a bound. The zero value means "no limit".
type Limit struct {
	Set   bool
	Value float64
}

func At(v float64) Limit { return Limit{Set: true, Value: v} }

// Unbounded is the explicit "no limit" marker.
var Unbounded = Limit{}

func (l Limit) String() string {
	if !l.Set {
		return "none"
	}
	return fmt.Sprintf("%g", l.Value)
}

type Kind int

const (
	Float Kind = iota
	Int
)

func (k Kind) String() string {
	if k == Int {
		return "int"
	}
	return "float"
}

type Bound struct {
	Name     string
	Category Category
	Kind     Kind
	Min      Limit
	Max      Limit
	// MaxParam names a parameter whose current value caps this one.
	MaxParam string
}

// Registry lists every tunable parameter exactly once, in application order.
var Registry = []Bound{
	{Name: "grid_size", Category: Environment, Kind: Int, Min: At(1), Max: At(10)},
	{Name: "n_traps", Category: Environment, Kind: Int, Min: At(0), Max: Unbounded, MaxParam: "grid_size"},
	{Name: "move_penalty", Category: Rewards, Kind: Float, Min: At(-1.0), Max: At(0.0)},
	{Name: "trap_penalty", Category: Rewards, Kind: Float, Min: At(-10.0), Max: At(0.0)},
	{Name: "goal_reward", Category: Rewards, Kind: Float, Min: At(0.1), Max: At(10.0)},
	{Name: "sense_penalty", Category: Rewards, Kind: Float, Min: At(-1.0), Max: At(0.0)},
	{Name: "learning_rate", Category: Agent, Kind: Float, Min: At(0.01), Max: At(1.0)},
	{Name: "gamma", Category: Agent, Kind: Float, Min: At(0.1), Max: At(0.99)},
	{Name: "epsilon_start", Category: Agent, Kind: Float, Min: At(0.1), Max: At(1.0)},
	{Name: "epsilon_min", Category: Agent, Kind: Float, Min: At(0.01), Max: At(0.5)},
	{Name: "epsilon_decay", Category: Agent, Kind: Float, Min: At(0.9), Max: At(0.999)},
	{Name: "episodes", Category: Training, Kind: Int, Min: At(50), Max: At(1000)},
	{Name: "max_steps_per_episode", Category: Training, Kind: Int, Min: At(50), Max: At(500)},
	{Name: "seed", Category: System, Kind: Int, Min: Unbounded, Max: Unbounded},
}

var byName = func() map[string]Bound {
	m := make(map[string]Bound, len(Registry))
	for _, b := range Registry {
		if _, dup := m[b.Name]; dup {
			panic("params: duplicate registry entry " + b.Name)
		}
		m[b.Name] = b
	}
	return m
}()

// Lookup returns the bound registered for name.
func Lookup(name string) (Bound, bool) {
	b, ok := byName[name]
	return b, ok
}

// CategoryOf returns the document section a parameter lives in.
func CategoryOf(name string) (Category, bool) {
	b, ok := byName[name]
	return b.Category, ok
}

// ValidateParameter checks value against the registry. Dynamic caps such as
// n_traps <= grid_size are resolved against doc.
func ValidateParameter(name string, value float64, doc Document) error {
	b, ok := byName[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownParameter, name)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s=%v is not finite", ErrOutOfBounds, name, value)
	}
	if b.Kind == Int && value != math.Trunc(value) {
		return fmt.Errorf("%w: %s=%v must be an integer", ErrOutOfBounds, name, value)
	}
	if (b.Min.Set && value < b.Min.Value) || (b.Max.Set && value > b.Max.Value) {
		return fmt.Errorf("%w: %s=%v outside [%s, %s]", ErrOutOfBounds, name, value, b.Min, b.Max)
	}
	if b.MaxParam != "" {
		limit, ok := doc.Get(b.MaxParam)
		if ok && value > limit {
			return fmt.Errorf("%w: %s=%v too high for %s=%v", ErrOutOfBounds, name, value, b.MaxParam, limit)
		}
	}
	for _, dep := range Registry {
		if dep.MaxParam != name {
			continue
		}
		if current, ok := doc.Get(dep.Name); ok && current > value {
			return fmt.Errorf("%w: %s=%v below current %s=%v", ErrOutOfBounds, name, value, dep.Name, current)
		}
	}
	return nil
}

// Validate checks every registered parameter present in doc and reports keys
// the registry does not know.
func Validate(doc Document) error {
	var errs []error
	for _, c := range Categories {
		for name, v := range doc[c] {
			b, ok := byName[name]
			if !ok {
				errs = append(errs, fmt.Errorf("%w %q in %s", ErrUnknownParameter, name, c))
				continue
			}
			if b.Category != c {
				errs = append(errs, fmt.Errorf("%s belongs in %s, found in %s", name, b.Category, c))
				continue
			}
			if err := ValidateParameter(name, v, doc); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
