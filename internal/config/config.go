// Package config loads and validates the gateway's configuration from a
// YAML file, layered with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Listen           string                 `yaml:"listen"`
	RateLimit        RateLimitConfig        `yaml:"rate_limit"`
	Captcha          CaptchaConfig          `yaml:"captcha"`
	BrowserDetection BrowserDetectionConfig `yaml:"browser_detection"`
	XForwardedFor    XForwardedForConfig    `yaml:"x_forwarded_for"`
	AccessRecord     AccessRecordConfig     `yaml:"access_record"`
	Redis            RedisConfig            `yaml:"redis"`
	Admin            AdminConfig            `yaml:"admin"`
	Logging          LoggingConfig          `yaml:"logging"`
	Telemetry        TelemetryConfig        `yaml:"telemetry"`
	Storage          StorageConfig          `yaml:"storage"`
}

// RateLimitConfig is the `rate_limit.*` key family.
type RateLimitConfig struct {
	Enabled                  bool       `yaml:"enabled"`
	SlidingWindow            SlidingWindowConfig `yaml:"sliding_window"`
	DDoSThresholdIPCount     int        `yaml:"ddos_threshold_ip_count"`
	DDoSReleaseIPCount       int        `yaml:"ddos_release_ip_count"`
	IPTrackDurationSeconds   int        `yaml:"ip_track_duration_seconds"`
	WhiteListDurationMinutes int        `yaml:"white_list_duration_minutes"`
	BlackListDurationMinutes int        `yaml:"black_list_duration_minutes"`
	CaptchaDurationMinutes   int        `yaml:"captcha_duration_minutes"`
	BlackListEnabled         bool       `yaml:"black_list_enabled"`
	SkipPaths                []string   `yaml:"skip_paths"`
	CaptchaPagePath          string     `yaml:"captcha_page_path"`
	BaseURL                  string     `yaml:"base_url"`
}

// SlidingWindowConfig is `rate_limit.sliding_window.*`.
type SlidingWindowConfig struct {
	StorageType        string     `yaml:"storage_type"` // LOCAL_MEMORY | REMOTE
	DefaultWindowSize  int        `yaml:"default_window_size"`
	DefaultMaxRequests int        `yaml:"default_max_requests"`
	PathRules          []PathRule `yaml:"path_rules"`
}

// CaptchaConfig is `captcha.*`.
type CaptchaConfig struct {
	StrictMode               bool `yaml:"strict_mode"`
	AllowAPIWhenCaptchaActive bool `yaml:"allow_api_when_captcha_active"`
}

// BrowserDetectionConfig is `browser_detection.*`.
type BrowserDetectionConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Strictness          string   `yaml:"strictness"` // STRICT | MODERATE | LOOSE
	MinUserAgentLength  int      `yaml:"min_user_agent_length"`
	MaxUserAgentLength  int      `yaml:"max_user_agent_length"`
	BotKeywords         []string `yaml:"bot_keywords"`
	RealBrowserKeywords []string `yaml:"real_browser_keywords"`
	RequiredHeaders     []string `yaml:"required_headers"`
	SuspiciousHeaders   []string `yaml:"suspicious_headers"`
}

// XForwardedForConfig is `x_forwarded_for.*`.
type XForwardedForConfig struct {
	MaxTrustedIndex int `yaml:"max_trusted_index"`
}

// AccessRecordConfig is `access_record.*`.
type AccessRecordConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// RedisConfig configures the remote Store back-end.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AdminConfig configures the admin REST surface.
type AdminConfig struct {
	Listen  string         `yaml:"listen"`
	Enabled bool           `yaml:"enabled"`
	Auth    AdminAuthConfig `yaml:"auth"`
}

// AdminAuthConfig gates admin endpoints behind a bearer token.
type AdminAuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Format string `yaml:"format"` // json | text
	Level  string `yaml:"level"`
}

// TelemetryConfig controls trace-id propagation; it deliberately does not
// configure span-based instrumentation of the admission decision itself.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // otlp | stdout | none
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// StorageConfig controls the Audit Sink's durable back-end.
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads a YAML config file, falling back to defaults when the file
// does not exist, applies environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Defaults returns the gateway's built-in default configuration.
func Defaults() *Config {
	return &Config{
		Listen: ":8080",
		RateLimit: RateLimitConfig{
			Enabled: true,
			SlidingWindow: SlidingWindowConfig{
				StorageType:        "LOCAL_MEMORY",
				DefaultWindowSize:  60,
				DefaultMaxRequests: 100,
				PathRules:          []PathRule{},
			},
			DDoSThresholdIPCount:     50,
			DDoSReleaseIPCount:       10,
			IPTrackDurationSeconds:   10,
			WhiteListDurationMinutes: 5,
			BlackListDurationMinutes: 30,
			CaptchaDurationMinutes:   5,
			BlackListEnabled:         true,
			SkipPaths:                []string{"/health", "/favicon.ico"},
			CaptchaPagePath:          "/captcha",
			BaseURL:                  "",
		},
		Captcha: CaptchaConfig{
			StrictMode:                true,
			AllowAPIWhenCaptchaActive: false,
		},
		BrowserDetection: BrowserDetectionConfig{
			Enabled:            true,
			Strictness:         "MODERATE",
			MinUserAgentLength: 10,
			MaxUserAgentLength: 512,
			BotKeywords: []string{
				"bot", "crawler", "spider", "scraper", "curl", "wget",
				"python-requests", "go-http-client", "java/", "libwww",
			},
			RealBrowserKeywords: []string{"mozilla", "chrome", "safari", "firefox", "edg", "webkit"},
			RequiredHeaders:     []string{"Accept", "Accept-Language", "Accept-Encoding", "Connection"},
			SuspiciousHeaders:   []string{"X-Scanner", "X-Forwarded-Host-Spoofed"},
		},
		XForwardedFor: XForwardedForConfig{MaxTrustedIndex: 0},
		AccessRecord:  AccessRecordConfig{RetentionDays: 30},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "rate_limit",
		},
		Admin: AdminConfig{
			Listen:  ":8081",
			Enabled: true,
		},
		Logging: LoggingConfig{Format: "json", Level: "info"},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "sentrygate",
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          "./data/audit.db",
			RetentionDays: 30,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("GATEWAY_RATE_LIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = parseBool(v, cfg.RateLimit.Enabled)
	}
	if v := os.Getenv("GATEWAY_STORAGE_TYPE"); v != "" {
		cfg.RateLimit.SlidingWindow.StorageType = v
	}
	if v := os.Getenv("GATEWAY_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GATEWAY_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GATEWAY_DDOS_THRESHOLD"); v != "" {
		cfg.RateLimit.DDoSThresholdIPCount = parseInt(v, cfg.RateLimit.DDoSThresholdIPCount)
	}
	if v := os.Getenv("GATEWAY_DDOS_RELEASE"); v != "" {
		cfg.RateLimit.DDoSReleaseIPCount = parseInt(v, cfg.RateLimit.DDoSReleaseIPCount)
	}
	if v := os.Getenv("GATEWAY_CAPTCHA_STRICT_MODE"); v != "" {
		cfg.Captcha.StrictMode = parseBool(v, cfg.Captcha.StrictMode)
	}
	if v := os.Getenv("GATEWAY_BROWSER_DETECTION_STRICTNESS"); v != "" {
		cfg.BrowserDetection.Strictness = strings.ToUpper(v)
	}
	if v := os.Getenv("GATEWAY_ADMIN_API_KEY"); v != "" {
		cfg.Admin.Auth.Enabled = true
		cfg.Admin.Auth.APIKey = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func validate(cfg *Config) error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address must be set")
	}
	switch cfg.RateLimit.SlidingWindow.StorageType {
	case "LOCAL_MEMORY", "REMOTE":
	default:
		return fmt.Errorf("rate_limit.sliding_window.storage_type must be LOCAL_MEMORY or REMOTE, got %q", cfg.RateLimit.SlidingWindow.StorageType)
	}
	if cfg.RateLimit.SlidingWindow.StorageType == "REMOTE" && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when storage_type is REMOTE")
	}
	if cfg.RateLimit.DDoSReleaseIPCount >= cfg.RateLimit.DDoSThresholdIPCount {
		return fmt.Errorf("rate_limit.ddos_release_ip_count must be less than ddos_threshold_ip_count")
	}
	switch strings.ToUpper(cfg.BrowserDetection.Strictness) {
	case "STRICT", "MODERATE", "LOOSE":
	default:
		return fmt.Errorf("browser_detection.strictness must be STRICT, MODERATE, or LOOSE, got %q", cfg.BrowserDetection.Strictness)
	}
	if cfg.AccessRecord.RetentionDays <= 0 {
		return fmt.Errorf("access_record.retention_days must be positive")
	}
	for _, rule := range cfg.RateLimit.SlidingWindow.PathRules {
		if rule.Pattern == "" {
			return fmt.Errorf("path rule with empty pattern")
		}
	}
	return nil
}
