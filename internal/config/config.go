package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where commands look for the tool configuration.
const DefaultPath = "ratchet.yaml"

type Config struct {
	StateDir   string     `yaml:"state_dir" validate:"required"`
	Executor   Executor   `yaml:"executor"`
	Evaluation Evaluation `yaml:"evaluation"`
	Promotion  Promotion  `yaml:"promotion"`
	Advisor    Advisor    `yaml:"advisor"`
	Loop       Loop       `yaml:"loop"`
	Logging    Logging    `yaml:"logging"`
	Metrics    Metrics    `yaml:"metrics"`
	Ledger     Ledger     `yaml:"ledger"`
}

type Executor struct {
	Backend        string        `yaml:"backend" validate:"oneof=process docker"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	Parallel       int           `yaml:"parallel" validate:"gte=1,lte=64"`
	MaxOutputBytes int           `yaml:"max_output_bytes" validate:"gte=1024"`
	MaxExecSteps   uint64        `yaml:"max_exec_steps"`
	ProgramDir     string        `yaml:"program_dir"`
	Docker         Docker        `yaml:"docker"`
}

type Docker struct {
	Image       string  `yaml:"image"`
	CPULimit    float64 `yaml:"cpu_limit" validate:"gte=0"`
	MemoryLimit int64   `yaml:"memory_limit" validate:"gte=0"`
}

type Evaluation struct {
	Episodes           int     `yaml:"episodes" validate:"gte=1"`
	Seed               int64   `yaml:"seed"`
	AgentRule          string  `yaml:"agent_rule" validate:"oneof=literal corrected"`
	AgentMargin        float64 `yaml:"agent_margin" validate:"gte=0"`
	ConfigMargin       float64 `yaml:"config_margin" validate:"gte=0"`
	ValidationEpisodes int     `yaml:"validation_episodes" validate:"gte=1"`
}

type Promotion struct {
	Ordering string `yaml:"ordering" validate:"oneof=staged write-then-validate"`
}

type Advisor struct {
	Provider          string  `yaml:"provider" validate:"oneof=openai file none"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	MaxTokens         int     `yaml:"max_tokens" validate:"gte=1"`
	Temperature       float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	EnvFile           string  `yaml:"env_file"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" validate:"gt=0"`
	Candidates        int     `yaml:"candidates" validate:"gte=1,lte=20"`
	PricingFile       string  `yaml:"pricing_file"`
	ProposalsFile     string  `yaml:"proposals_file"`
}

type Loop struct {
	MaxCycles        int `yaml:"max_cycles" validate:"gte=1"`
	EpisodesPerCycle int `yaml:"episodes_per_cycle" validate:"gte=1"`
}

type Logging struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"oneof=text json"`
	File    string `yaml:"file"`
	Journal bool   `yaml:"journal"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

type Ledger struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		StateDir: ".ratchet",
		Executor: Executor{
			Backend:        "process",
			Timeout:        30 * time.Second,
			Parallel:       1,
			MaxOutputBytes: 1 << 20,
			MaxExecSteps:   50_000_000,
			Docker: Docker{
				Image:    "gcr.io/distroless/static-debian12",
				CPULimit: 1,
			},
		},
		Evaluation: Evaluation{
			Episodes:           100,
			Seed:               42,
			AgentRule:          "literal",
			AgentMargin:        0.10,
			ConfigMargin:       0.05,
			ValidationEpisodes: 1,
		},
		Promotion: Promotion{Ordering: "staged"},
		Advisor: Advisor{
			Provider:          "none",
			Model:             "gpt-4o-mini",
			MaxTokens:         4096,
			Temperature:       0.7,
			RequestsPerMinute: 20,
			Candidates:        3,
		},
		Loop:    Loop{MaxCycles: 10, EpisodesPerCycle: 300},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads path over Default. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.finish(configDir(path))
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.finish(configDir(path)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func configDir(path string) string {
	dir := filepath.Dir(path)
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// finish resolves relative paths against dir and validates.
func (c *Config) finish(dir string) error {
	for _, p := range []*string{
		&c.StateDir,
		&c.Executor.ProgramDir,
		&c.Advisor.EnvFile,
		&c.Advisor.PricingFile,
		&c.Advisor.ProposalsFile,
		&c.Logging.File,
		&c.Ledger.Path,
	} {
		resolve(dir, p)
	}
	if c.Ledger.Path == "" && c.StateDir != "" {
		c.Ledger.Path = filepath.Join(c.StateDir, "ledger.db")
	}
	return validate(c)
}

// resolve makes a non-empty relative path relative to dir.
func resolve(dir string, p *string) {
	if *p != "" && !filepath.IsAbs(*p) {
		*p = filepath.Join(dir, *p)
	}
}

var structValidate = validator.New()

func validate(cfg *Config) error {
	if err := structValidate.Struct(cfg); err != nil {
		return err
	}
	if cfg.Executor.Backend == "docker" && cfg.Executor.Docker.Image == "" {
		return fmt.Errorf("executor.docker.image is required for the docker backend")
	}
	if cfg.Advisor.Provider == "openai" && cfg.Advisor.Model == "" {
		return fmt.Errorf("advisor.model is required for the openai provider")
	}
	if cfg.Advisor.Provider == "file" && cfg.Advisor.ProposalsFile == "" {
		return fmt.Errorf("advisor.proposals_file is required for the file provider")
	}
	return nil
}

// Marshal renders cfg as YAML for `ratchet init`.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
