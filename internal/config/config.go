package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"repodocx/internal/conversion"
)

const (
	defaultAPIBaseURL   = "http://localhost:5000/api"
	defaultPollInterval = time.Second
	defaultHTTPTimeout  = 30 * time.Second
	defaultDownloadDir  = "downloads"
	defaultPort         = 8080
	defaultLogLevel     = "info"
	defaultLogFormat    = "console"
)

// DefaultPath is the config file looked up when no --config flag is given.
const DefaultPath = "repodocx.yml"

var defaultExtensions = []string{".cpp", ".h", ".hpp", ".py", ".js", ".ts", ".jsx", ".tsx", ".java", ".c", ".cs"}

// Config describes runtime configuration for the client, the CLI and the web front.
type Config struct {
	APIBaseURL        string        `yaml:"api_base_url"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	DownloadDir       string        `yaml:"download_dir"`
	DefaultExtensions []string      `yaml:"default_extensions"`
	Port              int           `yaml:"port"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		APIBaseURL:        defaultAPIBaseURL,
		PollInterval:      defaultPollInterval,
		HTTPTimeout:       defaultHTTPTimeout,
		DownloadDir:       defaultDownloadDir,
		DefaultExtensions: append([]string(nil), defaultExtensions...),
		Port:              defaultPort,
		LogLevel:          defaultLogLevel,
		LogFormat:         defaultLogFormat,
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, cfg.normalize()
}

func (c *Config) normalize() error {
	c.APIBaseURL = strings.TrimSpace(c.APIBaseURL)
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll_interval: %s (must be > 0)", c.PollInterval)
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.DownloadDir == "" {
		c.DownloadDir = defaultDownloadDir
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	switch strings.ToLower(c.LogFormat) {
	case "":
		c.LogFormat = defaultLogFormat
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (want console or json)", c.LogFormat)
	}
	c.DefaultExtensions = conversion.NormalizeExtensions(c.DefaultExtensions)
	if len(c.DefaultExtensions) == 0 {
		c.DefaultExtensions = append([]string(nil), defaultExtensions...)
	}
	return nil
}
