package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/domain/errors"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: SECURELENS_ADMINBYREQUEST__API_KEY sets
// adminbyrequest.api_key.
const EnvPrefix = "SECURELENS_"

const (
	ModeLive   = "live"
	ModeCached = "cached"
)

type Config struct {
	LogLevel  string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string `koanf:"log_format" validate:"oneof=json console"`
	Mode      string `koanf:"mode" validate:"oneof=live cached"`

	AdminByRequest AdminByRequestConfig `koanf:"adminbyrequest"`
	Cache          CacheConfig          `koanf:"cache"`
	Directory      DirectoryConfig      `koanf:"directory"`
	Redis          RedisConfig          `koanf:"redis"`
	Database       DatabaseConfig       `koanf:"database"`
	Reconciliation ReconciliationConfig `koanf:"reconciliation"`
	Server         ServerConfig         `koanf:"server"`
	Telemetry      TelemetryConfig      `koanf:"telemetry"`

	Settings []SettingConfig `koanf:"settings" validate:"dive"`
}

type AdminByRequestConfig struct {
	BaseURL      string        `koanf:"base_url" validate:"required,url"`
	APIKey       string        `koanf:"api_key"`
	LookbackDays int           `koanf:"lookback_days" validate:"gte=0"`
	Status       string        `koanf:"status"`
	Take         int           `koanf:"take" validate:"gte=1,lte=10000"`
	WantGroups   bool          `koanf:"want_groups"`
	MaxPages     int           `koanf:"max_pages" validate:"gte=1"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	RateLimitRPS float64       `koanf:"rate_limit_rps" validate:"gte=0"`
}

type CacheConfig struct {
	Dir           string `koanf:"dir" validate:"required"`
	InventoryFile string `koanf:"inventory_file" validate:"required"`
	AuditFile     string `koanf:"audit_file" validate:"required"`
}

type DirectoryConfig struct {
	Command        string        `koanf:"command" validate:"required"`
	Args           []string      `koanf:"args"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	Workers        int           `koanf:"workers" validate:"gte=1"`
	NotFoundMarker string        `koanf:"not_found_marker"`
}

type RedisConfig struct {
	Enabled     bool          `koanf:"enabled"`
	URL         string        `koanf:"url" validate:"required_if=Enabled true"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db" validate:"gte=0"`
	KeyPrefix   string        `koanf:"key_prefix"`
	TTL         time.Duration `koanf:"ttl" validate:"gte=0"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

type DatabaseConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url" validate:"required_if=Enabled true"`
	MaxConns int32  `koanf:"max_conns" validate:"gte=0"`
}

type ReconciliationConfig struct {
	MatchingPolicy   string `koanf:"matching_policy" validate:"oneof=exact prefix contains"`
	IncludeInventory bool   `koanf:"include_inventory"`
	Workers          int    `koanf:"workers" validate:"gte=1"`
	GroupWorkers     int    `koanf:"group_workers" validate:"gte=1"`
	TopUsers         int    `koanf:"top_users" validate:"gte=0"`
	WindowDays       int    `koanf:"window_days" validate:"gte=0"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=0"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type TelemetryConfig struct {
	Enabled        bool          `koanf:"enabled"`
	OTLPEndpoint   string        `koanf:"otlp_endpoint" validate:"required_if=Enabled true"`
	SamplingRate   float64       `koanf:"sampling_rate" validate:"gte=0,lte=1"`
	Environment    string        `koanf:"environment"`
	ExportInterval time.Duration `koanf:"export_interval" validate:"gte=0"`
}

// SettingConfig is one authorization setting as written in configuration.
type SettingConfig struct {
	Name   string   `koanf:"name" validate:"required"`
	Groups []string `koanf:"groups"`
}

// Defaults returns the configuration used before any file or environment
// override is applied.
func Defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Mode:      ModeLive,
		AdminByRequest: AdminByRequestConfig{
			BaseURL:      "https://dc1api.adminbyrequest.com",
			LookbackDays: 30,
			Status:       "Finished",
			Take:         100,
			WantGroups:   true,
			MaxPages:     1000,
			Timeout:      30 * time.Second,
			RateLimitRPS: 5,
		},
		Cache: CacheConfig{
			Dir:           ".",
			InventoryFile: "cached_inventory.json",
			AuditFile:     "cached_auditlogs.json",
		},
		Directory: DirectoryConfig{
			Command: "powershell",
			Args: []string{
				"-NoProfile", "-NonInteractive", "-Command",
				"Get-ADGroupMember -Identity '{group}' -Recursive | Select-Object -ExpandProperty SamAccountName",
			},
			Timeout:        60 * time.Second,
			Workers:        4,
			NotFoundMarker: "Cannot find an object with identity",
		},
		Redis: RedisConfig{
			URL:         "redis://localhost:6379/0",
			KeyPrefix:   "securelens:",
			TTL:         24 * time.Hour,
			DialTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Reconciliation: ReconciliationConfig{
			MatchingPolicy: "exact",
			Workers:        1,
			GroupWorkers:   4,
			TopUsers:       10,
		},
		Server: ServerConfig{
			Port:            8080,
			RefreshInterval: 15 * time.Minute,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   "localhost:4317",
			SamplingRate:   1.0,
			Environment:    "production",
			ExportInterval: 30 * time.Second,
		},
	}
}

// Load reads defaults, then the YAML file at path (skipped when path is
// empty or the file does not exist), then SECURELENS_ environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !stderrors.Is(err, fs.ErrNotExist) {
				return nil, errors.NewConfigurationError("config_file", fmt.Sprintf("loading %s", path)).WithCause(err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewConfigurationError(fe.Namespace(),
				fmt.Sprintf("failed %q validation (value %v)", fe.Tag(), fe.Value())).WithCause(err)
		}
		return errors.NewConfigurationError("config", err.Error())
	}
	return nil
}

// ElevationSettings converts configured settings to domain settings in
// configuration order.
func (c *Config) ElevationSettings() []elevation.Setting {
	out := make([]elevation.Setting, 0, len(c.Settings))
	for _, s := range c.Settings {
		out = append(out, elevation.Setting{Name: s.Name, AuthorizedGroups: s.Groups})
	}
	return out
}

// InventoryPath returns the inventory snapshot location.
func (c CacheConfig) InventoryPath() string {
	return filepath.Join(c.Dir, c.InventoryFile)
}

// AuditPath returns the audit log snapshot location.
func (c CacheConfig) AuditPath() string {
	return filepath.Join(c.Dir, c.AuditFile)
}
