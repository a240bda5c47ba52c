// Package gridworld is the environment candidates are scored in: a square
// grid with a goal and traps that are resampled on every reset.
package gridworld

import (
	"fmt"
	"math/rand/v2"
)

type State struct {
	Row, Col int
}

// Actions: four moves plus a sense action that reveals adjacent traps.
const (
	Up = iota
	Down
	Left
	Right
	Sense
	numActions
)

var moves = [...]State{Up: {-1, 0}, Down: {1, 0}, Left: {0, -1}, Right: {0, 1}}

type Rewards struct {
	Move  float64
	Trap  float64
	Goal  float64
	Sense float64
}

// Info carries the optional side channel of a step.
type Info struct {
	AdjacentTraps []State
}

type World struct {
	size    int
	nTraps  int
	rewards Rewards
	rng     *rand.Rand

	goal  State
	traps []State
	state State
}

func New(size, nTraps int, rewards Rewards, rng *rand.Rand) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("grid size %d must be positive", size)
	}
	if nTraps < 0 || nTraps+2 > size*size {
		return nil, fmt.Errorf("%d traps do not fit a %dx%d grid", nTraps, size, size)
	}
	return &World{size: size, nTraps: nTraps, rewards: rewards, rng: rng}, nil
}

// Reset samples a fresh layout and returns the start state.
func (w *World) Reset() State {
	occupied := map[State]bool{}
	w.goal = w.randomCellExcluding(occupied)
	occupied[w.goal] = true
	w.traps = w.traps[:0]
	for range w.nTraps {
		cell := w.randomCellExcluding(occupied)
		w.traps = append(w.traps, cell)
		occupied[cell] = true
	}
	w.state = w.randomCellExcluding(occupied)
	return w.state
}

// Step applies one action. Falling into a trap costs the trap penalty but
// does not end the episode; reaching the goal does.
func (w *World) Step(action int) (State, float64, bool, Info, error) {
	if action < 0 || action >= numActions {
		return w.state, 0, false, Info{}, fmt.Errorf("invalid action %d", action)
	}
	if action == Sense {
		return w.state, w.rewards.Sense, false, Info{AdjacentTraps: w.adjacentTraps()}, nil
	}
	d := moves[action]
	w.state = State{clamp(w.state.Row+d.Row, w.size), clamp(w.state.Col+d.Col, w.size)}

	reward := w.rewards.Move
	done := false
	switch {
	case w.state == w.goal:
		reward += w.rewards.Goal
		done = true
	case w.isTrap(w.state):
		reward += w.rewards.Trap
	}
	return w.state, reward, done, Info{}, nil
}

func (w *World) StateShape() (int, int) { return w.size, w.size }

func (w *World) NActions() int { return numActions }

func (w *World) adjacentTraps() []State {
	var out []State
	for _, d := range moves {
		n := State{w.state.Row + d.Row, w.state.Col + d.Col}
		if n.Row < 0 || n.Row >= w.size || n.Col < 0 || n.Col >= w.size {
			continue
		}
		if w.isTrap(n) {
			out = append(out, n)
		}
	}
	return out
}

func (w *World) isTrap(s State) bool {
	for _, t := range w.traps {
		if t == s {
			return true
		}
	}
	return false
}

func (w *World) randomCellExcluding(excluded map[State]bool) State {
	for {
		cell := State{w.rng.IntN(w.size), w.rng.IntN(w.size)}
		if !excluded[cell] {
			return cell
		}
	}
}

func clamp(v, size int) int {
	return max(0, min(size-1, v))
}
