// Package agent defines the unit a candidate must provide: a Starlark
// function named Agent that returns select_action, learn and
// decay_exploration.
package agent

import (
	_ "embed"
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// UnitName is the function a candidate must define at top level.
const UnitName = "Agent"

// Required lists the capabilities Agent must expose.
var Required = []string{"select_action", "learn", "decay_exploration"}

//go:embed qlearning.star
var DefaultSource string

// FileOptions is the dialect agents and harness programs are written in.
var FileOptions = &syntax.FileOptions{
	Set:   true,
	While: true,
}

type StructureError struct {
	NoUnit    bool
	LoadStmts int
	Missing   []string
}

func (e *StructureError) Error() string {
	var parts []string
	if e.NoUnit {
		parts = append(parts, fmt.Sprintf("no top-level def %s", UnitName))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required method(s): "+strings.Join(e.Missing, ", "))
	}
	if e.LoadStmts > 0 {
		parts = append(parts, "load statements are not allowed in agent code")
	}
	return "agent structure: " + strings.Join(parts, "; ")
}

// CheckStructure parses src and verifies the unit and its capabilities are
// defined. Nothing is executed.
func CheckStructure(filename, src string) error {
	f, err := FileOptions.Parse(filename, src, 0)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", filename, err)
	}

	serr := &StructureError{}
	var unit *syntax.DefStmt
	for _, stmt := range f.Stmts {
		switch s := stmt.(type) {
		case *syntax.DefStmt:
			if s.Name.Name == UnitName {
				unit = s
			}
		case *syntax.LoadStmt:
			serr.LoadStmts++
		}
	}
	if unit == nil {
		serr.NoUnit = true
		serr.Missing = append(serr.Missing, Required...)
		return serr
	}

	defined := map[string]bool{}
	syntax.Walk(unit, func(n syntax.Node) bool {
		if def, ok := n.(*syntax.DefStmt); ok && def != unit {
			defined[def.Name.Name] = true
		}
		return true
	})
	for _, name := range Required {
		if !defined[name] {
			serr.Missing = append(serr.Missing, name)
		}
	}
	if len(serr.Missing) > 0 || serr.LoadStmts > 0 {
		return serr
	}
	return nil
}
