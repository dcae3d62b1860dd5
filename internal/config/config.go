package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VISIONRELAY_"

// Config holds all configuration settings for the relay service.
type Config struct {
	System     SystemConfig     `json:"system" yaml:"system" envPrefix:"SYSTEM_"`
	WorkerPool WorkerPoolConfig `json:"workerPool" yaml:"workerPool" envPrefix:"POOL_"`
	Timeouts   TimeoutsConfig   `json:"timeouts" yaml:"timeouts" envPrefix:"TIMEOUT_"`
	Relay      RelayConfig      `json:"relay" yaml:"relay" envPrefix:"RELAY_"`
	Vision     VisionConfig     `json:"vision" yaml:"vision" envPrefix:"VISION_"`
	Server     ServerConfig     `json:"server" yaml:"server" envPrefix:"SERVER_"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus" envPrefix:"EVENTBUS_"`
}

// SystemConfig holds general system settings.
type SystemConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel" env:"LOG_LEVEL"`    // debug, info, warn, error
	LogFormat string `json:"logFormat" yaml:"logFormat" env:"LOG_FORMAT"` // json, console
	Tracing   string `json:"tracing" yaml:"tracing" env:"TRACING"`        // none, stdout
}

// WorkerPoolConfig holds settings for the worker pool.
type WorkerPoolConfig struct {
	Workers      int     `json:"workers" yaml:"workers" env:"WORKERS"`
	QueueSize    int     `json:"queueSize" yaml:"queueSize" env:"QUEUE_SIZE"`
	CPUThreshold float64 `json:"cpuThreshold" yaml:"cpuThreshold" env:"CPU_THRESHOLD"`
	MemThreshold float64 `json:"memThreshold" yaml:"memThreshold" env:"MEM_THRESHOLD"`
}

// TimeoutsConfig holds the dispatch budget.
type TimeoutsConfig struct {
	Submit  Duration `json:"submit" yaml:"submit" env:"SUBMIT"`
	Encode  Duration `json:"encode" yaml:"encode" env:"ENCODE"`
	Network Duration `json:"network" yaml:"network" env:"NETWORK"`
	Total   Duration `json:"total" yaml:"total" env:"TOTAL"`
}

// RelayConfig holds settings for the stream relay.
type RelayConfig struct {
	BufferSize int `json:"bufferSize" yaml:"bufferSize" env:"BUFFER_SIZE"`
}

// VisionConfig holds settings for the upstream vision model.
type VisionConfig struct {
	BaseURL       string `json:"baseURL" yaml:"baseURL" env:"BASE_URL"`
	Model         string `json:"model" yaml:"model" env:"MODEL"`
	APIKey        string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" env:"API_KEY"`
	SystemPrompt  string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty" env:"SYSTEM_PROMPT"`
	Completer     string `json:"completer" yaml:"completer" env:"COMPLETER"` // http, sdk
	MaxImageBytes int64  `json:"maxImageBytes" yaml:"maxImageBytes" env:"MAX_IMAGE_BYTES"`
	MaxHistory    int    `json:"maxHistory" yaml:"maxHistory" env:"MAX_HISTORY"`
	// AllowedImageHosts limits remote image fetches; empty allows any host.
	AllowedImageHosts []string `json:"allowedImageHosts,omitempty" yaml:"allowedImageHosts,omitempty" env:"ALLOWED_IMAGE_HOSTS" envSeparator:","`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`
	Mode string `json:"mode" yaml:"mode" env:"MODE"` // debug, release, test
}

// EventBusConfig holds settings for the event bus.
type EventBusConfig struct {
	BufferSize int `json:"bufferSize" yaml:"bufferSize" env:"BUFFER_SIZE"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	b := domain.DefaultBudget()
	return &Config{
		System: SystemConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Tracing:   "none",
		},
		WorkerPool: WorkerPoolConfig{
			Workers:      5,
			QueueSize:    100,
			CPUThreshold: 0.9,
			MemThreshold: 0.9,
		},
		Timeouts: TimeoutsConfig{
			Submit:  Duration(b.Submit),
			Encode:  Duration(b.Encode),
			Network: Duration(b.Network),
			Total:   Duration(b.Total),
		},
		Relay: RelayConfig{
			BufferSize: 64,
		},
		Vision: VisionConfig{
			BaseURL:       "https://openrouter.ai/api/v1",
			Model:         "nvidia/nemotron-nano-12b-v2-vl:free",
			Completer:     "http",
			MaxImageBytes: 20 << 20,
			MaxHistory:    10,
		},
		Server: ServerConfig{
			Addr: ":5000",
			Mode: "release",
		},
		EventBus: EventBusConfig{
			BufferSize: 64,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension, then applies environment overrides. A missing file yields the
// defaults plus the environment. An empty path skips the file.
func LoadFromFile(filePath string) (*Config, error) {
	cfg := DefaultConfig()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case os.IsNotExist(err):
			log.Debug().Str("path", filePath).Msg("Config file not found, using defaults")
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := decode(filePath, data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
			log.Debug().Str("path", filePath).Msg("Loaded configuration")
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays VISIONRELAY_* variables onto cfg. OPENROUTER_API_KEY
// fills the API key when VISIONRELAY_VISION_API_KEY is unset.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("error reading environment: %w", err)
	}
	if cfg.Vision.APIKey == "" {
		cfg.Vision.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// SaveToFile saves the configuration as JSON or YAML, chosen by extension.
// The API key is never written.
func (c *Config) SaveToFile(filePath string) error {
	out := *c
	out.Vision.APIKey = ""

	var (
		data []byte
		err  error
	)
	if isYAML(filePath) {
		data, err = yaml.Marshal(&out)
	} else {
		data, err = json.MarshalIndent(&out, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	log.Debug().Str("path", filePath).Msg("Saved configuration")
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.System.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logLevel must be one of debug, info, warn, error")
	}
	switch c.System.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("logFormat must be json or console")
	}
	switch c.System.Tracing {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing must be none or stdout")
	}

	if c.WorkerPool.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.WorkerPool.QueueSize < 1 {
		return fmt.Errorf("queueSize must be at least 1")
	}
	if !inUnit(c.WorkerPool.CPUThreshold) || !inUnit(c.WorkerPool.MemThreshold) {
		return fmt.Errorf("load thresholds must be in (0, 1]")
	}

	for name, d := range map[string]Duration{
		"submit":  c.Timeouts.Submit,
		"encode":  c.Timeouts.Encode,
		"network": c.Timeouts.Network,
		"total":   c.Timeouts.Total,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
	}

	if c.Relay.BufferSize < 1 {
		return fmt.Errorf("relay bufferSize must be at least 1")
	}

	switch c.Vision.Completer {
	case "http", "sdk":
	default:
		return fmt.Errorf("completer must be http or sdk")
	}
	if c.Vision.BaseURL == "" {
		return fmt.Errorf("vision baseURL is required")
	}
	if c.Vision.MaxImageBytes < 1 {
		return fmt.Errorf("maxImageBytes must be at least 1")
	}
	if c.Vision.MaxHistory < 0 {
		return fmt.Errorf("maxHistory cannot be negative")
	}
	for _, h := range c.Vision.AllowedImageHosts {
		if strings.TrimSpace(h) == "" || strings.Contains(h, "/") {
			return fmt.Errorf("allowedImageHosts entries must be host names, got %q", h)
		}
	}

	if c.EventBus.BufferSize < 1 {
		return fmt.Errorf("eventBus bufferSize must be at least 1")
	}
	return nil
}

func inUnit(f float64) bool { return f > 0 && f <= 1 }

// Budget converts the timeouts section into a dispatch budget.
func (c *Config) Budget() domain.Budget {
	return domain.Budget{
		Submit:  time.Duration(c.Timeouts.Submit),
		Encode:  time.Duration(c.Timeouts.Encode),
		Network: time.Duration(c.Timeouts.Network),
		Total:   time.Duration(c.Timeouts.Total),
	}
}

// CompletionsURL is the chat completions endpoint under BaseURL.
func (v VisionConfig) CompletionsURL() string {
	return strings.TrimRight(v.BaseURL, "/") + "/chat/completions"
}
