package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vango-go/vai-call/pkg/call/health"
)

// EnvPrefix namespaces every environment override, e.g. VAI_CALL_SERVER_URL.
const EnvPrefix = "VAI_CALL"

type Config struct {
	ServerURL string `mapstructure:"server_url"`
	// HealthURL defaults to the server URL's HTTP root.
	HealthURL string `mapstructure:"health_url"`

	PageMaxChars int           `mapstructure:"page_max_chars"`
	MinClipBytes int           `mapstructure:"min_clip_bytes"`
	SegmentGap   time.Duration `mapstructure:"segment_gap"`

	CaptureSampleRate  int `mapstructure:"capture_sample_rate"`
	CaptureChannels    int `mapstructure:"capture_channels"`
	PlaybackSampleRate int `mapstructure:"playback_sample_rate"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// MetricsAddr enables the Prometheus endpoint when set.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "ws://localhost:8000/ws")
	v.SetDefault("health_url", "")
	v.SetDefault("page_max_chars", 5000)
	v.SetDefault("min_clip_bytes", 1000)
	v.SetDefault("segment_gap", 100*time.Millisecond)
	v.SetDefault("capture_sample_rate", 16000)
	v.SetDefault("capture_channels", 1)
	v.SetDefault("playback_sample_rate", 24000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_addr", "")
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"server":       "server_url",
	"health-url":   "health_url",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"log-file":     "log_file",
	"metrics-addr": "metrics_addr",
}

// Load resolves configuration from defaults, the optional file at path,
// VAI_CALL_* environment variables, and flags that were set explicitly, in
// increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	cfg.HealthURL = strings.TrimSpace(cfg.HealthURL)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("VAI_CALL_SERVER_URL must be a ws:// or wss:// url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("VAI_CALL_SERVER_URL must be a ws:// or wss:// url")
	}
	if c.HealthURL != "" {
		hu, err := url.Parse(c.HealthURL)
		if err != nil || hu.Host == "" || (hu.Scheme != "http" && hu.Scheme != "https") {
			return fmt.Errorf("VAI_CALL_HEALTH_URL must be an http:// or https:// url")
		}
	}
	if c.PageMaxChars <= 0 {
		return fmt.Errorf("VAI_CALL_PAGE_MAX_CHARS must be > 0")
	}
	if c.MinClipBytes <= 0 {
		return fmt.Errorf("VAI_CALL_MIN_CLIP_BYTES must be > 0")
	}
	if c.SegmentGap < 0 {
		return fmt.Errorf("VAI_CALL_SEGMENT_GAP must be >= 0")
	}
	if c.CaptureSampleRate <= 0 {
		return fmt.Errorf("VAI_CALL_CAPTURE_SAMPLE_RATE must be > 0")
	}
	if c.CaptureChannels != 1 && c.CaptureChannels != 2 {
		return fmt.Errorf("VAI_CALL_CAPTURE_CHANNELS must be 1 or 2")
	}
	if c.PlaybackSampleRate <= 0 {
		return fmt.Errorf("VAI_CALL_PLAYBACK_SAMPLE_RATE must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("VAI_CALL_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("VAI_CALL_LOG_FORMAT must be one of text|json")
	}
	return nil
}

// HealthEndpoint returns the configured health URL or derives it from the
// server URL.
func (c Config) HealthEndpoint() (string, error) {
	if c.HealthURL != "" {
		return c.HealthURL, nil
	}
	if c.ServerURL == "" {
		return "", errors.New("server url is empty")
	}
	return health.HTTPURL(c.ServerURL)
}
