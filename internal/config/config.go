// Package config loads and validates the engine's runtime configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// Config holds the engine's runtime configuration. Every field can be
// overridden by a MICROSCOPE_-prefixed environment variable
// (e.g. MICROSCOPE_SERVER_PORT=9100), which takes precedence over the file.
type Config struct {
	// Central routing server.
	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port"`

	// Instrument PC running the AutoScript server.
	InstrumentHost string `yaml:"instrument_host"`
	InstrumentPort int    `yaml:"instrument_port"`

	// Aberration corrector server.
	CeosPort int `yaml:"ceos_port"`

	// Local path to the AutoScript client library; exported to spawned
	// backends via PYTHONPATH and AUTOSCRIPT_PATH.
	AutoscriptPath string `yaml:"autoscript_path"`

	// Simulated backend binary spawned in mock mode.
	TemserverPath string `yaml:"temserver_path"`

	// mock spawns the simulated backends, real the hardware-backed ones.
	RunMode domain.RunMode `yaml:"run_mode"`

	// Stage bounds in microns.
	StageXMin float64 `yaml:"stage_x_min"`
	StageXMax float64 `yaml:"stage_x_max"`
	StageYMin float64 `yaml:"stage_y_min"`
	StageYMax float64 `yaml:"stage_y_max"`

	// Maximum width/height for image acquisition.
	MaxImageSize int `yaml:"max_image_size"`

	// Per-command deadline on the routed connection.
	CommandTimeoutSec int `yaml:"command_timeout_sec"`

	// Delay before the first connect attempt, giving just-started
	// backends time to finish binding.
	ConnectGraceMs int `yaml:"connect_grace_ms"`

	// Run-history database.
	DBPath string `yaml:"db_path"`
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, applies environment overrides and
// defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// CommandTimeout returns the per-command deadline as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// ConnectGrace returns the pre-connect delay as a duration.
func (c *Config) ConnectGrace() time.Duration {
	return time.Duration(c.ConnectGraceMs) * time.Millisecond
}

func (c *Config) applyDefaults() {
	if c.ServerHost == "" {
		c.ServerHost = "127.0.0.1"
	}
	if c.ServerPort == 0 {
		c.ServerPort = 9000
	}
	if c.InstrumentHost == "" {
		c.InstrumentHost = "localhost"
	}
	if c.InstrumentPort == 0 {
		c.InstrumentPort = 9001
	}
	if c.CeosPort == 0 {
		c.CeosPort = 9002
	}
	if c.AutoscriptPath == "" {
		c.AutoscriptPath = "/opt/autoscript_tem_microscope_client"
	}
	if c.TemserverPath == "" {
		c.TemserverPath = "temserver"
	}
	if c.RunMode == "" {
		c.RunMode = domain.ModeMock
	}
	if c.StageXMax == 0 {
		c.StageXMax = 100000.0
	}
	if c.StageYMax == 0 {
		c.StageYMax = 100000.0
	}
	if c.MaxImageSize == 0 {
		c.MaxImageSize = 4096
	}
	if c.CommandTimeoutSec == 0 {
		c.CommandTimeoutSec = 30
	}
	if c.ConnectGraceMs == 0 {
		c.ConnectGraceMs = 1000
	}
	if c.DBPath == "" {
		c.DBPath = "microscope.db"
	}
}

func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setString("MICROSCOPE_SERVER_HOST", &c.ServerHost)
	setInt("MICROSCOPE_SERVER_PORT", &c.ServerPort)
	setString("MICROSCOPE_INSTRUMENT_HOST", &c.InstrumentHost)
	setInt("MICROSCOPE_INSTRUMENT_PORT", &c.InstrumentPort)
	setInt("MICROSCOPE_CEOS_PORT", &c.CeosPort)
	setString("MICROSCOPE_AUTOSCRIPT_PATH", &c.AutoscriptPath)
	setString("MICROSCOPE_TEMSERVER_PATH", &c.TemserverPath)
	setFloat("MICROSCOPE_STAGE_X_MIN", &c.StageXMin)
	setFloat("MICROSCOPE_STAGE_X_MAX", &c.StageXMax)
	setFloat("MICROSCOPE_STAGE_Y_MIN", &c.StageYMin)
	setFloat("MICROSCOPE_STAGE_Y_MAX", &c.StageYMax)
	setInt("MICROSCOPE_MAX_IMAGE_SIZE", &c.MaxImageSize)
	setInt("MICROSCOPE_COMMAND_TIMEOUT_SEC", &c.CommandTimeoutSec)
	setInt("MICROSCOPE_CONNECT_GRACE_MS", &c.ConnectGraceMs)
	setString("MICROSCOPE_DB_PATH", &c.DBPath)
	if v, ok := os.LookupEnv("MICROSCOPE_RUN_MODE"); ok {
		c.RunMode = domain.RunMode(v)
	}
}

func (c *Config) validate() error {
	var problems []string

	checkPort := func(name string, port int) {
		if port < 1 || port > 65535 {
			problems = append(problems, fmt.Sprintf("%s %d out of range [1, 65535]", name, port))
		}
	}
	checkPort("server_port", c.ServerPort)
	checkPort("instrument_port", c.InstrumentPort)
	checkPort("ceos_port", c.CeosPort)

	if c.RunMode != domain.ModeMock && c.RunMode != domain.ModeReal {
		problems = append(problems, fmt.Sprintf("run_mode %q must be mock or real", c.RunMode))
	}
	if c.StageXMax <= c.StageXMin {
		problems = append(problems, "stage_x_max must be greater than stage_x_min")
	}
	if c.StageYMax <= c.StageYMin {
		problems = append(problems, "stage_y_max must be greater than stage_y_min")
	}
	if c.MaxImageSize <= 0 {
		problems = append(problems, "max_image_size must be positive")
	}
	if c.CommandTimeoutSec <= 0 {
		problems = append(problems, "command_timeout_sec must be positive")
	}
	if c.ConnectGraceMs < 0 {
		problems = append(problems, "connect_grace_ms must not be negative")
	}
	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
