// Package config loads dashboard configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Category is one time-tracking bucket queried by label.
type Category struct {
	Key   string `yaml:"key" json:"key"`
	Title string `yaml:"title" json:"title"`
	Label string `yaml:"label" json:"label"`
}

// Config holds the dashboard configuration.
type Config struct {
	// Jira connection
	JiraDomain    string        `yaml:"jira_domain"`
	SessionCookie string        `yaml:"session_cookie"`
	APIToken      string        `yaml:"api_token"`
	Timeout       time.Duration `yaml:"timeout"`

	// Hierarchy and query constants
	HierarchyField       string `yaml:"hierarchy_field"`
	SizeField            string `yaml:"size_field"`
	Project              string `yaml:"project"`
	InitiativeType       string `yaml:"initiative_type"`
	Label                string `yaml:"label"`
	ExcludedLabel        string `yaml:"excluded_label"`
	SupportInitiativeKey string `yaml:"support_initiative_key"`
	BoardID              int    `yaml:"board_id"`

	// Time tracking
	TimeTracking   []Category `yaml:"time_tracking"`
	TimeFrameStart string     `yaml:"time_frame_start"`
	TimeFrameEnd   string     `yaml:"time_frame_end"`

	// Fetch engine
	Concurrency    int `yaml:"concurrency"`
	BatchSize      int `yaml:"batch_size"`
	BatchAttempts  int `yaml:"batch_attempts"`
	SearchPageSize int `yaml:"search_page_size"`
	FrontierChunk  int `yaml:"frontier_chunk"`

	// Infrastructure
	Port      int           `yaml:"port"`
	RedisURL  string        `yaml:"redis_url"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	LogLevel  string        `yaml:"log_level"`
	LogPretty bool          `yaml:"log_pretty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Timeout:        30 * time.Second,
		HierarchyField: "parent",
		Project:        "APPS",
		InitiativeType: "Initiative",
		ExcludedLabel:  "Out_of_scope",
		Concurrency:    5,
		BatchSize:      100,
		BatchAttempts:  1,
		SearchPageSize: 1000,
		FrontierChunk:  100,
		Port:           7001,
		CacheTTL:       time.Minute,
		LogLevel:       "info",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.JiraDomain, "JIRA_DOMAIN")
	setString(&c.SessionCookie, "JIRA_SESSION_COOKIE")
	setString(&c.APIToken, "JIRA_API_TOKEN")
	setString(&c.HierarchyField, "JIRA_HIERARCHY_FIELD")
	setString(&c.SizeField, "TSHIRT_FIELD_ID")
	setString(&c.Project, "JIRA_PROJECT")
	setString(&c.InitiativeType, "JIRA_INITIATIVE_TYPE")
	setString(&c.Label, "JIRA_LABEL")
	setString(&c.ExcludedLabel, "JIRA_EXCLUDED_LABEL")
	setString(&c.SupportInitiativeKey, "SUPPORT_INITIATIVE_KEY")
	setString(&c.TimeFrameStart, "TIME_FRAME_START")
	setString(&c.TimeFrameEnd, "TIME_FRAME_END")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.LogLevel, "LOG_LEVEL")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.BoardID, "JIRA_AGILE_BOARD_ID"},
		{&c.Concurrency, "JIRA_CONCURRENCY"},
		{&c.BatchSize, "JIRA_BATCH_SIZE"},
		{&c.BatchAttempts, "JIRA_BATCH_ATTEMPTS"},
		{&c.SearchPageSize, "JIRA_SEARCH_PAGE_SIZE"},
		{&c.FrontierChunk, "JIRA_FRONTIER_CHUNK"},
		{&c.Port, "PORT"},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}

	if err := setDuration(&c.Timeout, "JIRA_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.CacheTTL, "CACHE_TTL"); err != nil {
		return err
	}

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse LOG_PRETTY: %w", err)
		}
		c.LogPretty = b
	}
	return nil
}

// Validate checks required values and limits.
func (c *Config) Validate() error {
	var errs []error
	if c.JiraDomain == "" {
		errs = append(errs, errors.New("jira_domain is required"))
	}
	if c.HierarchyField == "" {
		errs = append(errs, errors.New("hierarchy_field is required"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be >= 1 (got %d)", c.Concurrency))
	}
	if c.BatchSize < 1 || c.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("batch_size must be between 1 and 100 (got %d)", c.BatchSize))
	}
	if c.BatchAttempts < 1 {
		errs = append(errs, fmt.Errorf("batch_attempts must be >= 1 (got %d)", c.BatchAttempts))
	}
	if c.SearchPageSize < 1 || c.SearchPageSize > 5000 {
		errs = append(errs, fmt.Errorf("search_page_size must be between 1 and 5000 (got %d)", c.SearchPageSize))
	}
	if c.FrontierChunk < 1 {
		errs = append(errs, fmt.Errorf("frontier_chunk must be >= 1 (got %d)", c.FrontierChunk))
	}
	for n, cat := range c.TimeTracking {
		if cat.Key == "" || cat.Label == "" {
			errs = append(errs, fmt.Errorf("time_tracking[%d]: key and label are required", n))
		}
	}
	return errors.Join(errs...)
}

// BaseURL returns the https origin of the Jira site.
func (c *Config) BaseURL() string {
	d := strings.TrimSuffix(c.JiraDomain, "/")
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d
	}
	return "https://" + d
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
