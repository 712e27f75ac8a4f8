package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryPolicy bounds the retries of throttled requests. The delay starts at
// MinDelay and doubles up to MaxDelay, a random jitter up to Jitter is added
// to every sleep.
type RetryPolicy struct {
	Attempts int           `yaml:"attempts"`
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Jitter   time.Duration `yaml:"jitter"`
}

// WaitConfig bounds the polling done after CREATE and DROP
type WaitConfig struct {
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config holds the engine settings. The zero value of a field means its
// default.
type Config struct {
	// PageSize caps the items requested per Query or Scan call
	PageSize   int32       `yaml:"page_size"`
	ReadRetry  RetryPolicy `yaml:"read_retry"`
	WriteRetry RetryPolicy `yaml:"write_retry"`
	// Profiles are the retry policies UPDATE and DELETE select with USING
	Profiles         map[string]RetryPolicy `yaml:"profiles"`
	Wait             WaitConfig             `yaml:"wait"`
	WriteConcurrency int                    `yaml:"write_concurrency"`
	// Timezone is the location ts() and timestamp() parse local times in
	Timezone string `yaml:"timezone"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
		ReadRetry: RetryPolicy{
			Attempts: 10,
			MinDelay: 50 * time.Millisecond,
			MaxDelay: 5 * time.Second,
			Jitter:   50 * time.Millisecond,
		},
		WriteRetry: RetryPolicy{
			Attempts: 5,
			MinDelay: 50 * time.Millisecond,
			MaxDelay: 2 * time.Second,
			Jitter:   50 * time.Millisecond,
		},
		Wait: WaitConfig{
			MinDelay: time.Second,
			MaxDelay: 10 * time.Second,
			Timeout:  5 * time.Minute,
		},
		WriteConcurrency: 4,
		Timezone:         "Local",
	}
}

// LoadConfig reads a yaml file on top of the defaults
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}

	c.ReadRetry = c.ReadRetry.withDefaults(d.ReadRetry)
	c.WriteRetry = c.WriteRetry.withDefaults(d.WriteRetry)

	for name, p := range c.Profiles {
		c.Profiles[name] = p.withDefaults(c.WriteRetry)
	}

	if c.Wait.MinDelay <= 0 {
		c.Wait.MinDelay = d.Wait.MinDelay
	}

	if c.Wait.MaxDelay < c.Wait.MinDelay {
		c.Wait.MaxDelay = max(c.Wait.MinDelay, d.Wait.MaxDelay)
	}

	if c.Wait.Timeout <= 0 {
		c.Wait.Timeout = d.Wait.Timeout
	}

	if c.WriteConcurrency <= 0 {
		c.WriteConcurrency = d.WriteConcurrency
	}

	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}

	return c
}

func (p RetryPolicy) withDefaults(d RetryPolicy) RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}

	if p.MinDelay <= 0 {
		p.MinDelay = d.MinDelay
	}

	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = max(p.MinDelay, d.MaxDelay)
	}

	return p
}

func (c Config) location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}

	return loc, nil
}
