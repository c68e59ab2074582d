package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig tunes the submission validation pipeline.
type PipelineConfig struct {
	ManifestFile              string            `yaml:"manifest_file"`
	RawBaseURL                string            `yaml:"raw_base_url"`
	Branches                  []string          `yaml:"branches"`
	FetchTimeoutSeconds       int64             `yaml:"fetch_timeout_seconds"`
	RunTimeoutSeconds         int64             `yaml:"run_timeout_seconds"`
	DefaultVersion            string            `yaml:"default_version"`
	MaxManifestBytes          int64             `yaml:"max_manifest_bytes"`
	ReplayPendingAfterSeconds int64             `yaml:"replay_pending_after_seconds"`
	ReplayIntervalSeconds     int64             `yaml:"replay_interval_seconds"`
	SecretPatterns            map[string]string `yaml:"secret_patterns"`
}

// FetchTimeout bounds one manifest candidate retrieval.
func (c *PipelineConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// RunTimeout bounds one whole validation run.
func (c *PipelineConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// ReplayPendingAfter is the age after which an unvalidated submission is replayed.
func (c *PipelineConfig) ReplayPendingAfter() time.Duration {
	return time.Duration(c.ReplayPendingAfterSeconds) * time.Second
}

// ReplayInterval is the replayer poll interval.
func (c *PipelineConfig) ReplayInterval() time.Duration {
	return time.Duration(c.ReplayIntervalSeconds) * time.Second
}

// LoadPipeline loads a YAML pipeline file; returns defaults if missing.
func LoadPipeline(path string) (*PipelineConfig, error) {
	if path == "" {
		return DefaultPipeline(), nil
	}
	// #nosec G304 -- pipeline config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPipeline(), nil
		}
		return DefaultPipeline(), fmt.Errorf("read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline parses pipeline config data from YAML/JSON bytes.
func ParsePipeline(data []byte) (*PipelineConfig, error) {
	cfg := DefaultPipeline()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := validateConfigSchema("pipeline", pipelineSchemaFile, data); err != nil {
		return cfg, err
	}
	var parsed PipelineConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cfg, fmt.Errorf("parse pipeline config: %w", err)
	}
	if v := strings.TrimSpace(parsed.ManifestFile); v != "" {
		cfg.ManifestFile = strings.TrimPrefix(v, "/")
	}
	if v := strings.TrimSpace(parsed.RawBaseURL); v != "" {
		cfg.RawBaseURL = strings.TrimRight(v, "/")
	}
	if branches := cleanList(parsed.Branches); len(branches) > 0 {
		cfg.Branches = branches
	}
	if parsed.FetchTimeoutSeconds > 0 {
		cfg.FetchTimeoutSeconds = parsed.FetchTimeoutSeconds
	}
	if parsed.RunTimeoutSeconds > 0 {
		cfg.RunTimeoutSeconds = parsed.RunTimeoutSeconds
	}
	if v := strings.TrimSpace(parsed.DefaultVersion); v != "" {
		cfg.DefaultVersion = v
	}
	if parsed.MaxManifestBytes > 0 {
		cfg.MaxManifestBytes = parsed.MaxManifestBytes
	}
	if parsed.ReplayPendingAfterSeconds > 0 {
		cfg.ReplayPendingAfterSeconds = parsed.ReplayPendingAfterSeconds
	}
	if parsed.ReplayIntervalSeconds > 0 {
		cfg.ReplayIntervalSeconds = parsed.ReplayIntervalSeconds
	}
	if len(parsed.SecretPatterns) > 0 {
		cfg.SecretPatterns = parsed.SecretPatterns
	}
	if err := cfg.Validate(); err != nil {
		return DefaultPipeline(), err
	}
	return cfg, nil
}

// Validate reports settings that would make the pipeline unusable.
func (c *PipelineConfig) Validate() error {
	if c.RunTimeoutSeconds < c.FetchTimeoutSeconds*int64(len(c.Branches)) {
		return fmt.Errorf("run_timeout_seconds %d shorter than %d branch fetches of %ds",
			c.RunTimeoutSeconds, len(c.Branches), c.FetchTimeoutSeconds)
	}
	for name, pattern := range c.SecretPatterns {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("secret pattern %q is empty", name)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("secret pattern %q: %w", name, err)
		}
	}
	return nil
}

// DefaultPipeline returns the built-in pipeline settings.
func DefaultPipeline() *PipelineConfig {
	return &PipelineConfig{
		ManifestFile:              "gemini-extension.json",
		RawBaseURL:                "https://raw.githubusercontent.com",
		Branches:                  []string{"main", "master"},
		FetchTimeoutSeconds:       10,
		RunTimeoutSeconds:         60,
		DefaultVersion:            "0.0.1",
		MaxManifestBytes:          1 << 20,
		ReplayPendingAfterSeconds: 300,
		ReplayIntervalSeconds:     60,
		SecretPatterns: map[string]string{
			"google_api_key": `AIza[0-9A-Za-z\-_]{35}`,
		},
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
