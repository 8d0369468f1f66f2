package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/brookluers/rdd"
)

// Config is the YAML configuration consumed by the run and density
// commands.  Everything the estimation core needs is copied into
// immutable per-component config values; nothing here is mutated after
// loading.
type Config struct {
	// Input is the path to the Stata survey extract.
	Input string `yaml:"input"`

	// Output is the path of the results CSV.
	Output string `yaml:"output"`

	// LogLevel is "info" (default) or "debug".
	LogLevel string `yaml:"log_level"`

	// Threshold is the base-period eligibility threshold;
	// ThresholdFollowup the follow-up period's (DiDC only).
	Threshold         float64 `yaml:"threshold"`
	ThresholdFollowup float64 `yaml:"threshold_followup"`

	// EligibleAbove flips the treated side; the DiDC design sets it.
	EligibleAbove bool `yaml:"eligible_above"`

	// DiDC selects the differenced design.
	DiDC bool `yaml:"didc"`

	// BaseYear selects the survey period for cross-sectional builds
	// (zero keeps every period) and the base panel period for DiDC;
	// FollowupYear identifies the DiDC follow-up period.
	BaseYear     float64 `yaml:"base_year"`
	FollowupYear float64 `yaml:"followup_year"`

	// Outcomes are the attendance indicator columns to analyze.
	Outcomes []string `yaml:"outcomes"`

	// Orders are the local polynomial orders to run (default 1 and 2).
	Orders []int `yaml:"orders"`

	// MinSample is the subgroup sample-size gate (default 50).
	MinSample int `yaml:"min_sample"`

	// CountEmptyTowardGate counts zero-subgroup-member households
	// toward the gate.
	CountEmptyTowardGate bool `yaml:"count_empty_toward_gate"`

	// MaxCovariateMissing is the missing-rate cap above which a
	// control column is not used (default 0.05).
	MaxCovariateMissing float64 `yaml:"max_covariate_missing"`

	// Columns overrides the default column names of the extract.
	Columns map[string]string `yaml:"columns"`
}

// LoadConfig reads and validates the YAML configuration.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %v", path, err)
	}

	if cfg.Input == "" {
		return nil, fmt.Errorf("%s: input path is required", path)
	}
	if len(cfg.Outcomes) == 0 {
		return nil, fmt.Errorf("%s: at least one outcome column is required", path)
	}
	if len(cfg.Orders) == 0 {
		cfg.Orders = []int{1, 2}
	}
	if cfg.Output == "" {
		cfg.Output = "results.csv"
	}
	if cfg.MaxCovariateMissing == 0 {
		cfg.MaxCovariateMissing = 0.05
	}
	if cfg.DiDC {
		// The differenced design flips the eligibility convention.
		cfg.EligibleAbove = true
	}
	return cfg, nil
}

// columns maps the configured names onto the extract columns.
func (cfg *Config) columns() rdd.Columns {
	cols := rdd.DefaultColumns()
	set := map[string]*string{
		"household":      &cols.Household,
		"year":           &cols.Year,
		"income":         &cols.Income,
		"region":         &cols.Region,
		"weight":         &cols.Weight,
		"age":            &cols.Age,
		"female":         &cols.Female,
		"child_of_head":  &cols.ChildOfHead,
		"urban":          &cols.Urban,
		"household_size": &cols.HouseholdSize,
		"head_education": &cols.HeadEducation,
		"head":           &cols.Head,
		"panel_flag":     &cols.PanelFlag,
	}
	for k, v := range cfg.Columns {
		if p, ok := set[k]; ok {
			*p = v
		}
	}
	return cols
}

// running builds the running-variable configuration.
func (cfg *Config) running() rdd.RunningConfig {
	return rdd.RunningConfig{
		Threshold:         cfg.Threshold,
		ThresholdFollowup: cfg.ThresholdFollowup,
		EligibleAbove:     cfg.EligibleAbove,
	}
}

// newLogger builds the zap logger for the configured level.
func newLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if level == "debug" {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}
