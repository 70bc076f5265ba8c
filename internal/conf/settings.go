// Package conf loads and holds the alert engine configuration.
package conf

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/hydrowatch/alertengine/internal/errors"
)

// Settings is the root configuration.
type Settings struct {
	HTTP         HTTPSettings         `mapstructure:"http" yaml:"http"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Alerting     AlertingSettings     `mapstructure:"alerting" yaml:"alerting"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Targets      TargetSettings       `mapstructure:"targets" yaml:"targets"`
	Logging      LoggingSettings      `mapstructure:"logging" yaml:"logging"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
}

// HTTPSettings configures the API listener.
type HTTPSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// DatabaseSettings selects and configures the backing store.
type DatabaseSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "mysql"
	Path   string `mapstructure:"path" yaml:"path"`     // sqlite file path
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // mysql DSN
	Debug  bool   `mapstructure:"debug" yaml:"debug"`
}

// AlertingSettings configures the rule engine.
type AlertingSettings struct {
	ScanInterval         Duration `mapstructure:"scan_interval" yaml:"scan_interval"`
	RecoveryInterval     Duration `mapstructure:"recovery_interval" yaml:"recovery_interval"`
	RetryInterval        Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	HistoryRetentionDays int      `mapstructure:"history_retention_days" yaml:"history_retention_days"`
	// StrictMetrics rejects rules whose metrics no registered collector supports.
	StrictMetrics bool `mapstructure:"strict_metrics" yaml:"strict_metrics"`
	SeedDefaults  bool `mapstructure:"seed_defaults" yaml:"seed_defaults"`
	// TargetTypes extends the built-in metric → target type table.
	TargetTypes map[string][]string `mapstructure:"target_types" yaml:"target_types"`
	// HostTargetID names the gateway host reported by the host collector.
	HostTargetID string `mapstructure:"host_target_id" yaml:"host_target_id"`
}

// Recipient is an addressable notification recipient.
type Recipient struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Email   string `mapstructure:"email" yaml:"email"`
	Phone   string `mapstructure:"phone" yaml:"phone"`
	Webhook string `mapstructure:"webhook" yaml:"webhook"`
}

// NotificationSettings configures outbound delivery.
type NotificationSettings struct {
	Timeout       Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSecond float64  `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int      `mapstructure:"burst" yaml:"burst"`
	// Channels maps a notify type (email, sms, webhook) to a shoutrrr URL
	// template. "{address}" is replaced with the recipient address.
	Channels    map[string]string    `mapstructure:"channels" yaml:"channels"`
	Users       map[string]Recipient `mapstructure:"users" yaml:"users"`
	Departments map[string][]string  `mapstructure:"departments" yaml:"departments"`
}

// TelemetrySettings configures the MQTT reading ingest.
type TelemetrySettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	QoS      byte   `mapstructure:"qos" yaml:"qos"`
	// WarmUp is how long one-shot commands listen for retained readings
	// before evaluating.
	WarmUp Duration `mapstructure:"warm_up" yaml:"warm_up"`
}

// TargetSettings configures target-name lookup against the inventory service.
type TargetSettings struct {
	BaseURL  string   `mapstructure:"base_url" yaml:"base_url"`
	Timeout  Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheTTL Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// LoggingSettings configures the logger.
type LoggingSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Timezone   string `mapstructure:"timezone" yaml:"timezone"`
}

// SentrySettings configures error reporting.
type SentrySettings struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

var (
	settings   *Settings
	settingsMu sync.RWMutex
)

// GetSettings returns the loaded settings, or nil before Load.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

// SetSettings replaces the global settings.
func SetSettings(s *Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settings = s
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.listen", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "alertd.db")
	v.SetDefault("alerting.scan_interval", "1m")
	v.SetDefault("alerting.recovery_interval", "5m")
	v.SetDefault("alerting.retry_interval", "2m")
	v.SetDefault("alerting.history_retention_days", 180)
	v.SetDefault("alerting.seed_defaults", true)
	v.SetDefault("alerting.host_target_id", "gateway")
	v.SetDefault("notification.timeout", "30s")
	v.SetDefault("notification.rate_per_second", 5.0)
	v.SetDefault("notification.burst", 10)
	v.SetDefault("telemetry.topic", "hydrowatch/+/readings")
	v.SetDefault("telemetry.client_id", "alertd")
	v.SetDefault("telemetry.warm_up", "5s")
	v.SetDefault("targets.timeout", "5s")
	v.SetDefault("targets.cache_ttl", "10m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
}

// Load reads configuration from path (or the default search locations when
// path is empty) and ALERTD_-prefixed environment variables, validates it
// and stores it as the global settings.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("alertd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/alertd")
	}
	v.SetEnvPrefix("ALERTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("read config: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(fmt.Errorf("decode config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	SetSettings(&s)
	return &s, nil
}

// Validate checks settings for values the engine cannot run with.
func (s *Settings) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Newf(format, args...).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	switch s.Database.Driver {
	case "sqlite":
		if s.Database.Path == "" {
			return invalid("database.path is required for sqlite")
		}
	case "mysql":
		if s.Database.DSN == "" {
			return invalid("database.dsn is required for mysql")
		}
	default:
		return invalid("unsupported database driver %q", s.Database.Driver)
	}
	if s.Alerting.ScanInterval.Std() < time.Second {
		return invalid("alerting.scan_interval must be at least 1s, got %s", s.Alerting.ScanInterval)
	}
	if s.Alerting.RecoveryInterval.Std() < time.Second {
		return invalid("alerting.recovery_interval must be at least 1s, got %s", s.Alerting.RecoveryInterval)
	}
	if s.Alerting.HistoryRetentionDays < 0 {
		return invalid("alerting.history_retention_days must not be negative")
	}
	if s.Telemetry.Enabled && s.Telemetry.Broker == "" {
		return invalid("telemetry.broker is required when telemetry is enabled")
	}
	return nil
}
