package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/portalwatch/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
	Storage   StorageConfig   `toml:"storage"`
	Cycle     CycleConfig     `toml:"cycle"`
	Health    HealthConfig    `toml:"health"`
	Daily     DailyConfig     `toml:"daily"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Notify    NotifyConfig    `toml:"notify"`
	Page      PageConfig      `toml:"page"`
	Rules     RulesConfig     `toml:"rules"`
}

type ServerConfig struct {
	Port              int               `toml:"port" validate:"min=1,max=65535"`
	Host              string            `toml:"host" validate:"required"`
	AllowedOrigins    []string          `toml:"allowed_origins"`    // CORS origins, "*" = any
	AllowedEvents     []string          `toml:"allowed_events"`     // WebSocket whitelist (empty = all)
	ThrottleIntervals map[string]string `toml:"throttle_intervals"` // Minimum spacing per event type on the WebSocket, e.g. {cycle_skipped = "30s"}
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"` // "debug", "info", "warn", "error"
	Format     string   `toml:"format" validate:"oneof=text json"`
	Output     []string `toml:"output" validate:"dive,oneof=stdout console file"`
	TimeFormat string   `toml:"time_format"`
	Dir        string   `toml:"dir"` // Defaults to ./logs next to the executable
}

// StorageConfig controls where dedup stores and scheduler state live
type StorageConfig struct {
	DataDir       string `toml:"data_dir" validate:"required"`
	ArchiveDir    string `toml:"archive_dir"`                                // Defaults to <data_dir>/archive
	StateBackend  string `toml:"state_backend" validate:"oneof=file badger"` // Scheduler/daily state persistence
	BadgerPath    string `toml:"badger_path"`                                // Used when state_backend = "badger"
	CoalesceDelay string `toml:"coalesce_delay"`                             // Pending-write window for dedup stores, e.g. "500ms"
	MaxLiveRows   int    `toml:"max_live_rows" validate:"min=0"`             // Auto-rotate threshold per store (0 = never)
}

// CycleConfig controls the collection cycle scheduler
type CycleConfig struct {
	Interval    string `toml:"interval"`     // Normal interval between passes, e.g. "2m"
	MinInterval string `toml:"min_interval"` // Lower clamp for enable()
	MaxInterval string `toml:"max_interval"` // Upper clamp for enable()
	RetryDelay  string `toml:"retry_delay"`  // Short retry after a not-ready pass
	AutoStart   bool   `toml:"auto_start"`
}

// HealthConfig controls the network and session state machines
type HealthConfig struct {
	PollInterval     string `toml:"poll_interval"`
	OfflineThreshold int    `toml:"offline_threshold" validate:"min=1"` // Consecutive probe failures before offline
	StabilizeWindow  string `toml:"stabilize_window"`                   // Online-but-unstable period after recovery
	LogoutThreshold  int    `toml:"logout_threshold" validate:"min=1"`  // Consecutive indicator misses before logout
	LoginQuarantine  string `toml:"login_quarantine"`                   // Logout signals ignored for this long after a login
	ProbeURL         string `toml:"probe_url"`                          // Network probe target (empty = portal_url)
	ProbeTimeout     string `toml:"probe_timeout"`
}

// DailyConfig controls the once-per-day digest scheduler
type DailyConfig struct {
	Timezone         string   `toml:"timezone" validate:"required"`
	Slots            []string `toml:"slots" validate:"dive,datetime=15:04"`
	CatchUpMinutes   int      `toml:"catch_up_minutes" validate:"min=0"`
	TickInterval     string   `toml:"tick_interval"`
	InclusiveCatchUp bool     `toml:"inclusive_catch_up"` // true: late by exactly catch_up_minutes still runs
	DigestMaxTitles  int      `toml:"digest_max_titles" validate:"min=0"`
}

// RateLimitConfig controls the unlock credential limiter
type RateLimitConfig struct {
	MaxAttempts    int    `toml:"max_attempts" validate:"min=1"`
	Window         string `toml:"window"`
	Lockout        string `toml:"lockout"`
	Expiry         string `toml:"expiry"`
	SweepInterval  string `toml:"sweep_interval"`
	Username       string `toml:"username"`
	Secret         string `toml:"secret"`
	MaxFieldLength int    `toml:"max_field_length" validate:"min=1"`
}

// NotifyConfig controls the outbound notification channel
type NotifyConfig struct {
	WebhookURL    string `toml:"webhook_url" validate:"omitempty,url"` // Empty = log only
	TTL           string `toml:"ttl"`                                  // Identical messages suppressed within this window
	RatePerMinute int    `toml:"rate_per_minute" validate:"min=1"`
	Timeout       string `toml:"timeout"`
}

// PageConfig describes the portal page and the selectors the adapter uses
type PageConfig struct {
	PortalURL         string            `toml:"portal_url" validate:"omitempty,url"`
	Headless          bool              `toml:"headless"`
	NoSandbox         bool              `toml:"no_sandbox"` // Required when Chrome runs as root in a container
	UserAgent         string            `toml:"user_agent"`
	ReadySelector     string            `toml:"ready_selector"`
	ItemSelector      string            `toml:"item_selector"`
	LoginSelector     string            `toml:"login_selector"`
	ClickSelector     string            `toml:"click_selector"`
	IDAttribute       string            `toml:"id_attribute"`
	FieldSelectors    map[string]string `toml:"field_selectors"`
	NavigationTimeout string            `toml:"navigation_timeout"`
	ActionTimeout     string            `toml:"action_timeout"`
}

// RulesConfig points at the matching rules file
type RulesConfig struct {
	Path  string `toml:"path"` // .toml, .yaml or .yml
	Watch bool   `toml:"watch"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8686,
			Host:              "localhost",
			AllowedOrigins:    []string{"*"},
			ThrottleIntervals: map[string]string{models.EventCycleSkipped: "30s"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Storage: StorageConfig{
			DataDir:       "./data",
			StateBackend:  "file",
			BadgerPath:    "./data/state",
			CoalesceDelay: "500ms",
			MaxLiveRows:   10000,
		},
		Cycle: CycleConfig{
			Interval:    "2m",
			MinInterval: "15s",
			MaxInterval: "6h",
			RetryDelay:  "10s",
			AutoStart:   true,
		},
		Health: HealthConfig{
			PollInterval:     "5s",
			OfflineThreshold: 3,
			StabilizeWindow:  "5s",
			LogoutThreshold:  3,
			LoginQuarantine:  "30s",
			ProbeTimeout:     "5s",
		},
		Daily: DailyConfig{
			Timezone:         "UTC",
			Slots:            []string{"08:00", "20:00"},
			CatchUpMinutes:   120,
			TickInterval:     "30s",
			InclusiveCatchUp: true,
			DigestMaxTitles:  10,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:    5,
			Window:         "5m",
			Lockout:        "5m",
			Expiry:         "24h",
			SweepInterval:  "10m",
			MaxFieldLength: 256,
		},
		Notify: NotifyConfig{
			TTL:           "30m",
			RatePerMinute: 20,
			Timeout:       "10s",
		},
		Page: PageConfig{
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ReadySelector:     "[data-listing-table]",
			ItemSelector:      "[data-listing-row]",
			LoginSelector:     "[data-account-menu]",
			ClickSelector:     "[data-action=contact]",
			IDAttribute:       "data-id",
			FieldSelectors:    map[string]string{"title": ".title", "price": ".price", "seller": ".seller"},
			NavigationTimeout: "30s",
			ActionTimeout:     "10s",
		},
		Rules: RulesConfig{
			Path:  "./rules.toml",
			Watch: true,
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if config.Storage.ArchiveDir == "" {
		config.Storage.ArchiveDir = config.Storage.DataDir + "/archive"
	}

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks struct constraints and the values validator tags cannot express
func Validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(config.Daily.Timezone); err != nil {
		return fmt.Errorf("invalid configuration: daily.timezone %q: %w", config.Daily.Timezone, err)
	}
	for name, value := range map[string]string{
		"cycle.interval":       config.Cycle.Interval,
		"cycle.min_interval":   config.Cycle.MinInterval,
		"cycle.max_interval":   config.Cycle.MaxInterval,
		"cycle.retry_delay":    config.Cycle.RetryDelay,
		"health.poll_interval": config.Health.PollInterval,
		"ratelimit.window":     config.RateLimit.Window,
		"ratelimit.lockout":    config.RateLimit.Lockout,
		"notify.ttl":           config.Notify.TTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s %q: %w", name, value, err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("PORTALWATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PORTALWATCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if level := os.Getenv("PORTALWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PORTALWATCH_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if dataDir := os.Getenv("PORTALWATCH_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}
	if backend := os.Getenv("PORTALWATCH_STATE_BACKEND"); backend != "" {
		config.Storage.StateBackend = backend
	}

	if interval := os.Getenv("PORTALWATCH_CYCLE_INTERVAL"); interval != "" {
		config.Cycle.Interval = interval
	}

	if tz := os.Getenv("PORTALWATCH_TIMEZONE"); tz != "" {
		config.Daily.Timezone = tz
	}
	if slots := os.Getenv("PORTALWATCH_DIGEST_SLOTS"); slots != "" {
		config.Daily.Slots = splitList(slots)
	}

	if username := os.Getenv("PORTALWATCH_UNLOCK_USERNAME"); username != "" {
		config.RateLimit.Username = username
	}
	if secret := os.Getenv("PORTALWATCH_UNLOCK_SECRET"); secret != "" {
		config.RateLimit.Secret = secret
	}

	if webhook := os.Getenv("PORTALWATCH_WEBHOOK_URL"); webhook != "" {
		config.Notify.WebhookURL = webhook
	}

	if portal := os.Getenv("PORTALWATCH_PORTAL_URL"); portal != "" {
		config.Page.PortalURL = portal
	}
	if headless := os.Getenv("PORTALWATCH_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Page.Headless = h
		}
	}

	if rules := os.Getenv("PORTALWATCH_RULES_PATH"); rules != "" {
		config.Rules.Path = rules
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDurationOr parses s, returning fallback for empty or malformed input
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
