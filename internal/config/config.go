package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"offlinegate/internal/agent"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Origin  OriginConfig  `yaml:"origin" envPrefix:"ORIGIN_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Agent   AgentConfig   `yaml:"agent" envPrefix:"AGENT_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Address string    `yaml:"address" env:"ADDRESS"`
	TLS     TLSConfig `yaml:"tls" envPrefix:"TLS_"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	CertFile string `yaml:"certFile" env:"CERT_FILE"`
	KeyFile  string `yaml:"keyFile" env:"KEY_FILE"`
}

type OriginConfig struct {
	URL                string        `yaml:"url" env:"URL"`
	Timeout            time.Duration `yaml:"timeout" env:"TIMEOUT"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify" env:"INSECURE_SKIP_VERIFY"`
	CircuitBreaker     BreakerConfig `yaml:"circuitBreaker" envPrefix:"CIRCUIT_BREAKER_"`
}

// BreakerConfig short-circuits origin fetches after consecutive network
// failures. Zero ConsecutiveFailures disables it.
type BreakerConfig struct {
	ConsecutiveFailures int           `yaml:"consecutiveFailures" env:"CONSECUTIVE_FAILURES"`
	Cooldown            time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type StorageConfig struct {
	Driver       string `yaml:"driver" env:"DRIVER"`
	Path         string `yaml:"path" env:"PATH"`
	MaxEntries   int    `yaml:"maxEntries" env:"MAX_ENTRIES"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes" env:"MAX_BODY_BYTES"`
}

type AgentConfig struct {
	Generation        string        `yaml:"generation" env:"GENERATION"`
	APIPrefix         string        `yaml:"apiPrefix" env:"API_PREFIX"`
	ShellPath         string        `yaml:"shellPath" env:"SHELL_PATH"`
	Manifest          []string      `yaml:"manifest" env:"MANIFEST" envSeparator:","`
	InstallAttempts   int           `yaml:"installAttempts" env:"INSTALL_ATTEMPTS"`
	InstallRetryDelay time.Duration `yaml:"installRetryDelay" env:"INSTALL_RETRY_DELAY"`
	WriteTimeout      time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OFFLINEGATE_"

// Load reads the YAML file at path, applies OFFLINEGATE_* environment
// overrides, fills defaults and validates the result. An empty path skips
// the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	d := agent.DefaultOptions()

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Origin.Timeout <= 0 {
		cfg.Origin.Timeout = 10 * time.Second
	}
	if cfg.Origin.CircuitBreaker.ConsecutiveFailures > 0 && cfg.Origin.CircuitBreaker.Cooldown <= 0 {
		cfg.Origin.CircuitBreaker.Cooldown = 5 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Storage.MaxEntries <= 0 {
		cfg.Storage.MaxEntries = 1000
	}
	if cfg.Storage.MaxBodyBytes <= 0 {
		cfg.Storage.MaxBodyBytes = d.MaxBodyBytes
	}
	if cfg.Agent.Generation == "" {
		cfg.Agent.Generation = d.Generation
	}
	if cfg.Agent.APIPrefix == "" {
		cfg.Agent.APIPrefix = d.APIPrefix
	}
	if cfg.Agent.ShellPath == "" {
		cfg.Agent.ShellPath = d.ShellPath
	}
	if len(cfg.Agent.Manifest) == 0 {
		cfg.Agent.Manifest = d.Manifest
	}
	if cfg.Agent.InstallAttempts <= 0 {
		cfg.Agent.InstallAttempts = 3
	}
	if cfg.Agent.InstallRetryDelay <= 0 {
		cfg.Agent.InstallRetryDelay = 2 * time.Second
	}
	if cfg.Agent.WriteTimeout <= 0 {
		cfg.Agent.WriteTimeout = d.WriteTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func (cfg *Config) Validate() error {
	var errs []error

	if cfg.Origin.URL == "" {
		errs = append(errs, errors.New("origin.url is required"))
	} else if u, err := url.Parse(cfg.Origin.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("origin.url %q must be an absolute URL", cfg.Origin.URL))
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
		if need := cfg.requiredEntries(); cfg.Storage.MaxEntries < need {
			errs = append(errs, fmt.Errorf("storage.maxEntries %d cannot hold the manifest and shell (%d entries)", cfg.Storage.MaxEntries, need))
		}
	case DriverSQLite:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver))
	}

	if !strings.HasPrefix(cfg.Agent.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("agent.apiPrefix %q must start with /", cfg.Agent.APIPrefix))
	}
	if !strings.HasPrefix(cfg.Agent.ShellPath, "/") {
		errs = append(errs, fmt.Errorf("agent.shellPath %q must start with /", cfg.Agent.ShellPath))
	}
	for _, p := range cfg.Agent.Manifest {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("agent.manifest entry %q must start with /", p))
		}
	}

	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires certFile and keyFile"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// requiredEntries counts the distinct keys install and the shell write put
// into one generation.
func (cfg *Config) requiredEntries() int {
	keys := make(map[string]struct{}, len(cfg.Agent.Manifest)+1)
	for _, p := range cfg.Agent.Manifest {
		keys[p] = struct{}{}
	}
	keys[cfg.Agent.ShellPath] = struct{}{}
	return len(keys)
}

// AgentOptions maps the config onto the agent's deploy-time constants.
func (cfg *Config) AgentOptions() agent.Options {
	return agent.Options{
		Generation:   cfg.Agent.Generation,
		Manifest:     append([]string(nil), cfg.Agent.Manifest...),
		APIPrefix:    cfg.Agent.APIPrefix,
		ShellPath:    cfg.Agent.ShellPath,
		MaxBodyBytes: cfg.Storage.MaxBodyBytes,
		WriteTimeout: cfg.Agent.WriteTimeout,
	}
}
