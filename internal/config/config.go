// Package config loads client and loopback server settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "config.yml"

// Config holds connection and server settings.
type Config struct {
	// URL is the server root, e.g. http://localhost:5000/api/v0.
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Timeout bounds a single request.
	Timeout time.Duration `yaml:"timeout"`
	// Compression requests zstd-encoded responses.
	Compression bool `yaml:"compression"`
	// SchemaFiles are glob patterns for JSON schema documents.
	SchemaFiles []string `yaml:"schema_files"`
	Debug       bool     `yaml:"debug"`

	// Listen, DataDir and Engine configure the loopback server. Engine is
	// "badger" or "bolt".
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
	Engine  string `yaml:"engine"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		URL:     "http://localhost:5000/api/v0",
		Timeout: 60 * time.Second,
		Listen:  ":5000",
		Engine:  "badger",
	}
}

// Load reads path (or DefaultFile when path is empty and present) over the
// defaults and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// FromEnv creates a Config from the defaults and environment variables only.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.URL = getEnv("QUERYDUCK_URL", c.URL)
	c.Username = getEnv("QUERYDUCK_USERNAME", c.Username)
	c.Password = getEnv("QUERYDUCK_PASSWORD", c.Password)
	c.Timeout = getEnvDuration("QUERYDUCK_TIMEOUT", c.Timeout)
	c.Compression = getEnvBool("QUERYDUCK_COMPRESSION", c.Compression)
	c.Debug = getEnvBool("QUERYDUCK_DEBUG", c.Debug)
	c.Listen = getEnv("QUERYDUCK_LISTEN", c.Listen)
	c.DataDir = getEnv("QUERYDUCK_DATA", c.DataDir)
	c.Engine = getEnv("QUERYDUCK_ENGINE", c.Engine)
}

// SchemaPaths expands SchemaFiles into a sorted, duplicate-free list of
// files. A pattern matching nothing is an error.
func (c *Config) SchemaPaths() ([]string, error) {
	var paths []string
	for _, pattern := range c.SchemaFiles {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("schema pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("schema pattern %q matched no files", pattern)
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
