package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/clipforge/clipforge/pkg/alert"
	"github.com/clipforge/clipforge/pkg/models"
)

// ErrConfiguration reports configuration that cannot start the service,
// usually missing provider credentials.
var ErrConfiguration = errors.New("configuration error")

// Config holds all clipforge configuration.
type Config struct {
	Listen    string                   `yaml:"listen"`
	Log       LogConfig                `yaml:"log"`
	Storage   StorageConfig            `yaml:"storage"`
	Cache     CacheConfig              `yaml:"cache"`
	Prefetch  PrefetchConfig           `yaml:"prefetch"`
	Limits    LimitsConfig             `yaml:"limits"`
	Metrics   MetricsConfig            `yaml:"metrics"`
	Alerts    AlertsConfig             `yaml:"alerts"`
	Providers ProvidersConfig          `yaml:"providers"`
	Pricing   []models.ProviderPricing `yaml:"pricing"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
}

// LogConfig selects log level and format ("text", "json" or "logfmt").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects the durable store. Driver is "sqlite", "badger" or
// "memory". Path is the sqlite file or badger directory.
type StorageConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	CostsPath string `yaml:"costs_path"`
}

// TierConfig sizes one cache.
type TierConfig struct {
	Capacity       int           `yaml:"capacity"`
	TTL            time.Duration `yaml:"ttl"`
	FreshThreshold time.Duration `yaml:"fresh_threshold"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// CacheConfig controls the content and artifact caches.
type CacheConfig struct {
	Content       TierConfig    `yaml:"content"`
	Artifacts     TierConfig    `yaml:"artifacts"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PrefetchConfig controls background refreshes.
type PrefetchConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Limit       int           `yaml:"limit"`
	Timeout     time.Duration `yaml:"timeout"`
	OriginRPS   float64       `yaml:"origin_rps"`
	OriginBurst int           `yaml:"origin_burst"`
	// Warm lists categories scheduled at startup.
	Warm []string `yaml:"warm"`
}

// LimitsConfig controls call windows and spend budgets.
type LimitsConfig struct {
	Window       time.Duration           `yaml:"window"`
	DefaultCalls int                     `yaml:"default_calls"`
	Calls        map[string]int          `yaml:"calls"`
	Budgets      []models.ProviderBudget `yaml:"budgets"`
}

// MetricsConfig controls sample retention.
type MetricsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// Window is the averaging window exported to Prometheus.
	Window time.Duration `yaml:"window"`
}

// AlertsConfig controls rule evaluation. An empty Rules list installs the
// built-in rules.
type AlertsConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Cooldown  time.Duration `yaml:"cooldown"`
	Retention time.Duration `yaml:"retention"`
	Rules     []alert.Rule  `yaml:"rules"`
}

// ProvidersConfig configures the pipeline collaborators.
type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Speech    HTTPConfig      `yaml:"speech"`
	Render    RenderConfig    `yaml:"render"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// OpenAIConfig configures the text enhancer.
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
}

// HTTPConfig configures a JSON-over-HTTP provider.
type HTTPConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
}

// RenderConfig configures the video renderer.
type RenderConfig struct {
	HTTPConfig   `yaml:",inline"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DiscoveryConfig configures content discovery. Subreddits maps a category
// to the listing it reads; unmapped categories are used as-is.
type DiscoveryConfig struct {
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url"`
	UserAgent  string            `yaml:"user_agent"`
	Timeout    time.Duration     `yaml:"timeout"`
	RPS        float64           `yaml:"rps"`
	Subreddits map[string]string `yaml:"subreddits"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Exporter    string  `yaml:"exporter"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// overrides are read from the environment after the file.
type overrides struct {
	Listen        string `env:"CLIPFORGE_LISTEN"`
	LogLevel      string `env:"CLIPFORGE_LOG_LEVEL"`
	StorageDriver string `env:"CLIPFORGE_STORAGE_DRIVER"`
	StoragePath   string `env:"CLIPFORGE_STORAGE_PATH"`
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	SpeechKey     string `env:"CLIPFORGE_SPEECH_API_KEY"`
	RenderKey     string `env:"CLIPFORGE_RENDER_API_KEY"`
	Exporter      string `env:"CLIPFORGE_TRACE_EXPORTER"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "clipforge.db",
			CostsPath: "clipforge-costs.db",
		},
		Cache: CacheConfig{
			Content: TierConfig{
				Capacity:       100,
				TTL:            30 * time.Minute,
				FreshThreshold: 5 * time.Minute,
				StaleThreshold: 30 * time.Minute,
			},
			Artifacts: TierConfig{
				Capacity:       100,
				TTL:            time.Hour,
				FreshThreshold: 15 * time.Minute,
				StaleThreshold: time.Hour,
			},
			SweepInterval: time.Minute,
		},
		Prefetch: PrefetchConfig{
			Interval:    time.Second,
			Concurrency: 2,
			Limit:       10,
			Timeout:     30 * time.Second,
			OriginRPS:   1,
			OriginBurst: 2,
		},
		Limits: LimitsConfig{
			Window: time.Minute,
			Calls: map[string]int{
				"pipeline.run": 30,
				"openai":       60,
				"elevenlabs":   20,
				"shotstack":    10,
				"reddit":       30,
			},
			Budgets: []models.ProviderBudget{
				{Provider: "openai", DailyLimit: 5, MonthlyLimit: 50},
				{Provider: "elevenlabs", DailyLimit: 10, MonthlyLimit: 100},
				{Provider: "shotstack", DailyLimit: 5, MonthlyLimit: 100},
			},
		},
		Metrics: MetricsConfig{
			Retention:     24 * time.Hour,
			SweepInterval: 5 * time.Minute,
			Window:        5 * time.Minute,
		},
		Alerts: AlertsConfig{
			Interval:  30 * time.Second,
			Cooldown:  5 * time.Minute,
			Retention: 24 * time.Hour,
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				Model:   "gpt-4o-mini",
				Timeout: time.Minute,
				RPS:     2,
			},
			Speech: HTTPConfig{
				Name:    "elevenlabs",
				URL:     "https://api.elevenlabs.io",
				Timeout: time.Minute,
				RPS:     1,
			},
			Render: RenderConfig{
				HTTPConfig: HTTPConfig{
					Name:    "shotstack",
					URL:     "https://api.shotstack.io/stage",
					Timeout: 5 * time.Minute,
					RPS:     1,
				},
				PollInterval: 5 * time.Second,
			},
			Discovery: DiscoveryConfig{
				Name:      "reddit",
				URL:       "https://www.reddit.com",
				UserAgent: "clipforge/0.1",
				Timeout:   15 * time.Second,
				RPS:       1,
				Subreddits: map[string]string{
					"drama":      "AmItheAsshole",
					"horror":     "nosleep",
					"true-crime": "UnresolvedMysteries",
					"comedy":     "tifu",
				},
			},
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "clipforge",
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// environment overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	o, err := env.ParseAs[overrides]()
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Listen, o.Listen)
	set(&c.Log.Level, o.LogLevel)
	set(&c.Storage.Driver, o.StorageDriver)
	set(&c.Storage.Path, o.StoragePath)
	set(&c.Providers.OpenAI.APIKey, o.OpenAIKey)
	set(&c.Providers.OpenAI.BaseURL, o.OpenAIBaseURL)
	set(&c.Providers.Speech.APIKey, o.SpeechKey)
	set(&c.Providers.Render.APIKey, o.RenderKey)
	set(&c.Telemetry.Exporter, o.Exporter)
	return nil
}

// Validate checks that the service can start. Unless simulate is set, every
// paid provider needs credentials.
func (c *Config) Validate(simulate bool) error {
	var problems []string

	switch c.Storage.Driver {
	case "sqlite", "badger", "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
	for name, t := range map[string]TierConfig{"content": c.Cache.Content, "artifacts": c.Cache.Artifacts} {
		if t.FreshThreshold > 0 && t.StaleThreshold > 0 && t.FreshThreshold >= t.StaleThreshold {
			problems = append(problems, fmt.Sprintf("cache.%s: fresh_threshold must be below stale_threshold", name))
		}
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}

	if !simulate {
		if c.Providers.OpenAI.APIKey == "" {
			problems = append(problems, "providers.openai.api_key (OPENAI_API_KEY) is not set")
		}
		if c.Providers.Speech.APIKey == "" {
			problems = append(problems, "providers.speech.api_key (CLIPFORGE_SPEECH_API_KEY) is not set")
		}
		if c.Providers.Render.APIKey == "" {
			problems = append(problems, "providers.render.api_key (CLIPFORGE_RENDER_API_KEY) is not set")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid log level %q", ErrConfiguration, c.Level)
	}
	var formatter log.Formatter
	switch c.Format {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("%w: invalid log format %q", ErrConfiguration, c.Format)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	}), nil
}
