package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Category string

const (
	Environment Category = "environment"
	Rewards     Category = "rewards"
	Agent       Category = "agent"
	Training    Category = "training"
	System      Category = "system"
)

// Categories is the fixed section order used for flattening.
var Categories = []Category{Environment, Rewards, Agent, Training, System}

// Document is the persisted configuration: five sections of named numbers.
type Document map[Category]map[string]float64

// Default is the configuration `ratchet init` writes.
func Default() Document {
	return Document{
		Environment: {"grid_size": 5, "n_traps": 3},
		Rewards:     {"move_penalty": -0.05, "trap_penalty": -1.0, "goal_reward": 1.0, "sense_penalty": -0.1},
		Agent:       {"learning_rate": 0.1, "gamma": 0.9, "epsilon_start": 1.0, "epsilon_min": 0.05, "epsilon_decay": 0.995},
		Training:    {"episodes": 300, "max_steps_per_episode": 100},
		System:      {"seed": 42},
	}
}

func (d Document) Clone() Document {
	out := make(Document, len(d))
	for c, section := range d {
		s := make(map[string]float64, len(section))
		for k, v := range section {
			s[k] = v
		}
		out[c] = s
	}
	return out
}

// Flatten merges all sections in Categories order. Keys are assumed unique
// across sections; a later section silently wins.
func (d Document) Flatten() map[string]float64 {
	flat := make(map[string]float64)
	for _, c := range Categories {
		for k, v := range d[c] {
			flat[k] = v
		}
	}
	return flat
}

func (d Document) Get(name string) (float64, bool) {
	c, ok := CategoryOf(name)
	if !ok {
		return 0, false
	}
	v, ok := d[c][name]
	return v, ok
}

// Set stores value in the section the registry assigns to name.
func (d Document) Set(name string, value float64) error {
	c, ok := CategoryOf(name)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownParameter, name)
	}
	if d[c] == nil {
		d[c] = map[string]float64{}
	}
	d[c][name] = value
	return nil
}

// Load reads a document and checks it against the schema and bounds.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading params %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Document, error) {
	if err := CheckSchema(data); err != nil {
		return nil, fmt.Errorf("params schema: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing params: %w", err)
	}
	for _, c := range Categories {
		if doc[c] == nil {
			return nil, fmt.Errorf("params: missing section %q", c)
		}
	}
	if err := Validate(doc); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	return doc, nil
}

func (d Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}
	return append(data, '\n'), nil
}

func (d Document) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating params dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
