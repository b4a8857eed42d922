package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/MegaGrindStone/resume-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

const backendURLEnv = "RESUME_BACKEND_URL"

type config struct {
	Port    string        `yaml:"port"`
	DBPath  string        `yaml:"dbPath"`
	Backend backendConfig `yaml:"backend"`
	Log     logConfig     `yaml:"log"`
}

type backendConfig struct {
	URL     string                     `yaml:"url"`
	Timeout time.Duration              `yaml:"timeout"`
	Breaker services.BreakerParameters `yaml:"breaker"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func defaultConfig() config {
	return config{
		Port: "8080",
		Backend: backendConfig{
			URL:     "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Log: logConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// UnmarshalYAML decodes the config on top of the defaults, so a partial file only overrides the
// fields it sets.
func (c *config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig config
	raw := rawConfig(defaultConfig())
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = config(raw)
	return nil
}

// loadConfig reads the config at path. A missing file yields the defaults. The backend URL from the
// environment takes precedence over the file.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	if u := os.Getenv(backendURLEnv); u != "" {
		cfg.Backend.URL = u
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend url %q must be http or https", c.Backend.URL)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend timeout must not be negative")
	}
	return nil
}
