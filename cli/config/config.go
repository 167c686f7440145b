package config

import (
	"fmt"
	"time"
)

// Config represents a scanstream.yaml configuration file.
// All values are optional and act as defaults for scanstream commands.
// CLI flags always override config values.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Poll       PollConfig       `yaml:"poll"`
	ImageStore ImageStoreConfig `yaml:"image_store"`
	Adapter    AdapterConfig    `yaml:"adapter"`
}

// ServerConfig holds API endpoint defaults from the config file.
type ServerConfig struct {
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	Token          string   `yaml:"token"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
	StreamTimeout  Duration `yaml:"stream_timeout,omitempty"`
}

// PollConfig holds polling fallback defaults from the config file.
type PollConfig struct {
	Warmup   Duration `yaml:"warmup,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
}

// ImageStoreConfig holds S3 image store defaults from the config file.
type ImageStoreConfig struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// AdapterConfig holds notification adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
