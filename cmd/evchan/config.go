package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BenchConfig describes one bench run. It can be loaded from YAML and
// overridden by flags.
type BenchConfig struct {
	Producers   int           `yaml:"producers"`
	Items       int           `yaml:"items"`
	Capacity    int           `yaml:"capacity"` // 0 = unbounded
	Rate        float64       `yaml:"rate"`     // events/s per producer, 0 = unlimited
	Timeout     time.Duration `yaml:"timeout"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

func defaultBenchConfig() BenchConfig {
	return BenchConfig{
		Producers: 4,
		Items:     10000,
		Timeout:   30 * time.Second,
	}
}

func (c BenchConfig) Validate() error {
	var errs []error
	if c.Producers <= 0 {
		errs = append(errs, fmt.Errorf("producers must be > 0, got %d", c.Producers))
	}
	if c.Items < 0 {
		errs = append(errs, fmt.Errorf("items must be >= 0, got %d", c.Items))
	}
	if c.Capacity < 0 {
		errs = append(errs, fmt.Errorf("capacity must be >= 0, got %d", c.Capacity))
	}
	if c.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate must be >= 0, got %g", c.Rate))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0, got %s", c.Timeout))
	}
	return errors.Join(errs...)
}

// loadBenchConfig reads path on top of the defaults.
func loadBenchConfig(path string) (BenchConfig, error) {
	cfg := defaultBenchConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
