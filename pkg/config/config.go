// Package config provides configuration loading and management for
// multitisynth. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"multitisynth/pkg/signal"
	"multitisynth/pkg/synthesis"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Acquisition parameters of the two input scans
	Acquisition struct {
		// TR is the repetition time in ms, shared by both scans
		TR float64 `yaml:"tr"`

		// TIMPRAGE is the MPRAGE inversion time in ms
		TIMPRAGE float64 `yaml:"tiMPRAGE"`

		// TIFGATIR is the FGATIR inversion time in ms
		TIFGATIR float64 `yaml:"tiFGATIR"`
	} `yaml:"acquisition"`

	// Synthesis parameters controlling the generated TI range
	Synthesis struct {
		// TIMin is the first synthesized inversion time in ms
		TIMin float64 `yaml:"tiMin"`

		// TIMax is the inclusive upper bound of the TI range in ms
		TIMax float64 `yaml:"tiMax"`

		// TIStep is the spacing between synthesized TIs in ms
		TIStep float64 `yaml:"tiStep"`
	} `yaml:"synthesis"`

	// Solver parameters for the per-voxel T1/PD fit
	Solver struct {
		// T1Min and T1Max bound the T1 search interval in ms
		T1Min float64 `yaml:"t1Min"`
		T1Max float64 `yaml:"t1Max"`

		// ScanIntervals is the number of bracketing subintervals
		ScanIntervals int `yaml:"scanIntervals"`

		// Tolerance is the relative bracket width stopping bisection
		Tolerance float64 `yaml:"tolerance"`

		// MaxIterations caps bisection per candidate root
		MaxIterations int `yaml:"maxIterations"`

		// ResidualTolerance is the largest admissible fit residual
		ResidualTolerance float64 `yaml:"residualTolerance"`
	} `yaml:"solver"`

	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many parallel workers to use for
		// the map solver and the synthesis engine
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Dir is the directory synthetic volumes and maps are written to
		Dir string `yaml:"dir"`

		// SaveMaps determines whether the fitted T1 and PD maps are
		// written alongside the synthetic volumes
		SaveMaps bool `yaml:"saveMaps"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// 3T MPRAGE/FGATIR protocol timing
	cfg.Acquisition.TR = 4000
	cfg.Acquisition.TIMPRAGE = 1400
	cfg.Acquisition.TIFGATIR = 400

	cfg.Synthesis.TIMin = 400
	cfg.Synthesis.TIMax = 1400
	cfg.Synthesis.TIStep = 20

	solver := signal.DefaultSolverParams()
	cfg.Solver.T1Min = solver.T1Min
	cfg.Solver.T1Max = solver.T1Max
	cfg.Solver.ScanIntervals = solver.ScanIntervals
	cfg.Solver.Tolerance = solver.Tolerance
	cfg.Solver.MaxIterations = solver.MaxIterations
	cfg.Solver.ResidualTolerance = solver.ResidualTol

	cfg.Processing.NumWorkers = runtime.NumCPU()

	cfg.Output.Dir = "output"
	cfg.Output.SaveMaps = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks every invariant the core depends on, so violations
// surface before any voxel work starts.
func (c *Config) Validate() error {
	if err := c.AcquisitionParams().Validate(); err != nil {
		return err
	}
	if err := c.SynthesisRequest().Validate(); err != nil {
		return err
	}
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("numWorkers must be at least 1, got %d", c.Processing.NumWorkers)
	}
	if !(c.Solver.T1Min > 0) || c.Solver.T1Max <= c.Solver.T1Min {
		return fmt.Errorf("T1 search interval is invalid: [%g, %g]", c.Solver.T1Min, c.Solver.T1Max)
	}
	return nil
}

// AcquisitionParams returns the acquisition timing as the signal
// package's parameter type.
func (c *Config) AcquisitionParams() signal.Acquisition {
	return signal.Acquisition{
		TR:       c.Acquisition.TR,
		TIMPRAGE: c.Acquisition.TIMPRAGE,
		TIFGATIR: c.Acquisition.TIFGATIR,
	}
}

// SynthesisRequest returns the configured TI range as a synthesis
// request.
func (c *Config) SynthesisRequest() synthesis.Request {
	return synthesis.Request{
		TIMin:  c.Synthesis.TIMin,
		TIMax:  c.Synthesis.TIMax,
		TIStep: c.Synthesis.TIStep,
	}
}

// SolverParams returns the configured root-search parameters.
func (c *Config) SolverParams() signal.SolverParams {
	return signal.SolverParams{
		T1Min:         c.Solver.T1Min,
		T1Max:         c.Solver.T1Max,
		ScanIntervals: c.Solver.ScanIntervals,
		Tolerance:     c.Solver.Tolerance,
		MaxIterations: c.Solver.MaxIterations,
		ResidualTol:   c.Solver.ResidualTolerance,
	}
}
