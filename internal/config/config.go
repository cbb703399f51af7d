// Package config loads capture settings for the command-line tools from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
)

// Config represents a capture tool configuration file
type Config struct {
	Camera  CameraConfig  `yaml:"camera"`
	Capture CaptureConfig `yaml:"capture"`
	Log     LogConfig     `yaml:"log"`
}

// CameraConfig identifies the stream
type CameraConfig struct {
	URL          string `yaml:"url"`
	SourceStream string `yaml:"source_stream"`
}

// CaptureConfig tunes ingestion. Durations use Go syntax ("5s", "100ms");
// zero keeps the library default.
type CaptureConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
	StallTimeout    time.Duration `yaml:"stall_timeout"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	MinBackoff      time.Duration `yaml:"min_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	MaxBufferBytes  int           `yaml:"max_buffer_bytes"`
}

// LogConfig selects the slog level and handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Camera: CameraConfig{SourceStream: "camera"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads and parses a YAML configuration file. The result is not
// validated: callers apply their overrides first, then call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.Camera.URL == "" {
		return fmt.Errorf("camera.url is required")
	}
	u, err := url.Parse(cfg.Camera.URL)
	if err != nil {
		return fmt.Errorf("camera.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("camera.url must be http or https, got %q", u.Scheme)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"capture.request_timeout", cfg.Capture.RequestTimeout},
		{"capture.keep_alive", cfg.Capture.KeepAlive},
		{"capture.stall_timeout", cfg.Capture.StallTimeout},
		{"capture.liveness_timeout", cfg.Capture.LivenessTimeout},
		{"capture.min_backoff", cfg.Capture.MinBackoff},
		{"capture.max_backoff", cfg.Capture.MaxBackoff},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}
	if cfg.Capture.MaxBufferBytes < 0 {
		return fmt.Errorf("capture.max_buffer_bytes must not be negative")
	}

	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	return nil
}

// StreamConfig maps the file onto the library configuration
func (c *Config) StreamConfig() mjpegcapture.MJPEGConfig {
	return mjpegcapture.MJPEGConfig{
		URL:             c.Camera.URL,
		SourceStream:    c.Camera.SourceStream,
		RequestTimeout:  c.Capture.RequestTimeout,
		KeepAlive:       c.Capture.KeepAlive,
		StallTimeout:    c.Capture.StallTimeout,
		LivenessTimeout: c.Capture.LivenessTimeout,
		MinBackoff:      c.Capture.MinBackoff,
		MaxBackoff:      c.Capture.MaxBackoff,
		MaxBufferSize:   c.Capture.MaxBufferBytes,
	}
}
