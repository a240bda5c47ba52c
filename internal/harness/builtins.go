package harness

import (
	"fmt"
	"math"
	"math/rand/v2"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/signalnine/ratchet/internal/gridworld"
	"github.com/signalnine/ratchet/internal/params"
	"github.com/signalnine/ratchet/internal/result"
)

const rngKey = "ratchet.rng"

type randomSource struct {
	pcg *rand.PCG
	rng *rand.Rand
}

// sourceFor returns the thread's random source. Agents and the environment
// share it, and seed() reseeds it in place.
func sourceFor(thread *starlark.Thread) *randomSource {
	if s, ok := thread.Local(rngKey).(*randomSource); ok {
		return s
	}
	pcg := rand.NewPCG(0, 0)
	s := &randomSource{pcg: pcg, rng: rand.New(pcg)}
	thread.SetLocal(rngKey, s)
	return s
}

// Predeclared returns the names every harness program and agent module sees.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct":       starlark.NewBuiltin("struct", starlarkstruct.Make),
		"seed":         starlark.NewBuiltin("seed", seedBuiltin),
		"random":       starlark.NewBuiltin("random", randomBuiltin),
		"randrange":    starlark.NewBuiltin("randrange", randrangeBuiltin),
		"GridWorld":    starlark.NewBuiltin("GridWorld", gridWorldBuiltin),
		"load_config":  starlark.NewBuiltin("load_config", loadConfigBuiltin),
		"results_line": starlark.NewBuiltin("results_line", resultsLineBuiltin),
	}
}

func seedBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int64
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &n); err != nil {
		return nil, err
	}
	sourceFor(thread).pcg.Seed(uint64(n), uint64(n))
	return starlark.None, nil
}

func randomBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Float(sourceFor(thread).rng.Float64()), nil
}

func randrangeBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop int
	var stopVal starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &start, &stopVal); err != nil {
		return nil, err
	}
	if stopVal == starlark.None {
		start, stop = 0, start
	} else if err := starlark.AsInt(stopVal, &stop); err != nil {
		return nil, fmt.Errorf("%s: stop: %w", fn.Name(), err)
	}
	if stop <= start {
		return nil, fmt.Errorf("%s: empty range [%d, %d)", fn.Name(), start, stop)
	}
	return starlark.MakeInt(start + sourceFor(thread).rng.IntN(stop-start)), nil
}

func resultsLineBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var avg, rate starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &avg, &rate); err != nil {
		return nil, err
	}
	a, ok := starlark.AsFloat(avg)
	if !ok {
		return nil, fmt.Errorf("%s: avg_return must be a number, got %s", fn.Name(), avg.Type())
	}
	r, ok := starlark.AsFloat(rate)
	if !ok {
		return nil, fmt.Errorf("%s: success_rate must be a number, got %s", fn.Name(), rate.Type())
	}
	if math.IsNaN(a) || math.IsNaN(r) || math.IsInf(a, 0) || math.IsInf(r, 0) {
		return nil, fmt.Errorf("%s: scores must be finite", fn.Name())
	}
	return starlark.String(result.FormatLine(a, r)), nil
}

func loadConfigBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	doc, err := params.Load(path)
	if err != nil {
		return nil, err
	}
	return documentValue(doc), nil
}

func documentValue(doc params.Document) *starlark.Dict {
	out := starlark.NewDict(len(params.Categories))
	for _, c := range params.Categories {
		section := starlark.NewDict(len(doc[c]))
		for k, v := range doc[c] {
			section.SetKey(starlark.String(k), numberValue(k, v))
		}
		out.SetKey(starlark.String(c), section)
	}
	return out
}

func numberValue(name string, v float64) starlark.Value {
	if b, ok := params.Lookup(name); ok && b.Kind == params.Int {
		return starlark.MakeInt64(int64(v))
	}
	return starlark.Float(v)
}

func gridWorldBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cfg *starlark.Dict
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &cfg); err != nil {
		return nil, err
	}
	num := func(key string, def float64, required bool) (float64, error) {
		v, found, err := cfg.Get(starlark.String(key))
		if err != nil {
			return 0, err
		}
		if !found {
			if required {
				return 0, fmt.Errorf("%s: config lacks %q", fn.Name(), key)
			}
			return def, nil
		}
		f, ok := starlark.AsFloat(v)
		if !ok {
			return 0, fmt.Errorf("%s: %q must be a number, got %s", fn.Name(), key, v.Type())
		}
		return f, nil
	}

	var vals [6]float64
	specs := []struct {
		key      string
		def      float64
		required bool
	}{
		{"grid_size", 0, true},
		{"n_traps", 0, true},
		{"move_penalty", 0, true},
		{"trap_penalty", 0, true},
		{"goal_reward", 0, true},
		{"sense_penalty", -0.1, false},
	}
	for i, s := range specs {
		v, err := num(s.key, s.def, s.required)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	world, err := gridworld.New(int(vals[0]), int(vals[1]), gridworld.Rewards{
		Move:  vals[2],
		Trap:  vals[3],
		Goal:  vals[4],
		Sense: vals[5],
	}, sourceFor(thread).rng)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return &envValue{world: world}, nil
}

// envValue exposes a gridworld.World to Starlark with the environment
// contract: reset, step, state_shape, n_actions.
type envValue struct {
	world *gridworld.World
}

var _ starlark.HasAttrs = (*envValue)(nil)

func (e *envValue) String() string        { return "<GridWorld>" }
func (e *envValue) Type() string          { return "GridWorld" }
func (e *envValue) Freeze()               {}
func (e *envValue) Truth() starlark.Bool  { return starlark.True }
func (e *envValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: GridWorld") }

func (e *envValue) AttrNames() []string {
	return []string{"n_actions", "reset", "state_shape", "step"}
}

func (e *envValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "reset":
		return starlark.NewBuiltin("reset", e.reset), nil
	case "step":
		return starlark.NewBuiltin("step", e.step), nil
	case "state_shape":
		return starlark.NewBuiltin("state_shape", e.stateShape), nil
	case "n_actions":
		return starlark.NewBuiltin("n_actions", e.nActions), nil
	}
	return nil, nil
}

func (e *envValue) reset(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return stateValue(e.world.Reset()), nil
}

func (e *envValue) step(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var action int
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &action); err != nil {
		return nil, err
	}
	next, reward, done, info, err := e.world.Step(action)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	traps := make([]starlark.Value, 0, len(info.AdjacentTraps))
	for _, s := range info.AdjacentTraps {
		traps = append(traps, stateValue(s))
	}
	infoDict := starlark.NewDict(1)
	if info.AdjacentTraps != nil {
		infoDict.SetKey(starlark.String("adjacent_traps"), starlark.NewList(traps))
	}
	return starlark.Tuple{stateValue(next), starlark.Float(reward), starlark.Bool(done), infoDict}, nil
}

func (e *envValue) stateShape(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	r, c := e.world.StateShape()
	return starlark.Tuple{starlark.MakeInt(r), starlark.MakeInt(c)}, nil
}

func (e *envValue) nActions(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.MakeInt(e.world.NActions()), nil
}

func stateValue(s gridworld.State) starlark.Tuple {
	return starlark.Tuple{starlark.MakeInt(s.Row), starlark.MakeInt(s.Col)}
}
