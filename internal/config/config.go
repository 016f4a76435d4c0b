// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data        DataConfig        `yaml:"data" mapstructure:"data"`
	Request     RequestConfig     `yaml:"request" mapstructure:"request"`
	Worker      WorkerConfig      `yaml:"worker" mapstructure:"worker"`
	Teams       TeamsConfig       `yaml:"teams" mapstructure:"teams"`
	Skip        SkipConfig        `yaml:"skip" mapstructure:"skip"`
	Location    LocationConfig    `yaml:"location" mapstructure:"location"`
	Destination DestinationConfig `yaml:"destination" mapstructure:"destination"`
	Auth        AuthConfig        `yaml:"auth" mapstructure:"auth"`
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Journal     JournalConfig     `yaml:"journal" mapstructure:"journal"`
	Artifact    ArtifactConfig    `yaml:"artifact" mapstructure:"artifact"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// DataConfig bounds batch and page sizes.
type DataConfig struct {
	Limit int `yaml:"limit" mapstructure:"limit"`
}

// RequestConfig paces and bounds outbound calls.
type RequestConfig struct {
	IntervalMs       int `yaml:"interval_ms" mapstructure:"interval_ms"`
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	MaxFailures      int `yaml:"max_failures" mapstructure:"max_failures"`
}

// Interval returns the configured inter-request delay.
func (r RequestConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMs) * time.Millisecond
}

// Timeout returns the per-call timeout.
func (r RequestConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// ResetTimeout returns the circuit-breaker half-open delay.
func (r RequestConfig) ResetTimeout() time.Duration {
	return time.Duration(r.ResetTimeoutSecs) * time.Second
}

// WorkerConfig bounds the blocking-task pool.
type WorkerConfig struct {
	PoolSize int `yaml:"pool_size" mapstructure:"pool_size"`
}

// TeamsConfig enables organization generation for one hierarchy level.
// A blank trigger level disables generation entirely.
type TeamsConfig struct {
	TriggerLevel string `yaml:"trigger_level" mapstructure:"trigger_level"`
}

// SkipConfig lets an operator skip whole stages.
type SkipConfig struct {
	Locations  bool `yaml:"locations" mapstructure:"locations"`
	Users      bool `yaml:"users" mapstructure:"users"`
	UserGroups bool `yaml:"user_groups" mapstructure:"user_groups"`
}

// LocationConfig describes the administrative hierarchy. Hierarchy is a
// comma-separated "Level:depth" list, e.g. "Country:0,Province:1".
type LocationConfig struct {
	Hierarchy string `yaml:"hierarchy" mapstructure:"hierarchy"`
}

// Levels parses the hierarchy string into a level-name to depth map.
// Malformed entries are dropped rather than failing the run.
func (l LocationConfig) Levels() map[string]int {
	levels := make(map[string]int)
	for _, pair := range strings.Split(l.Hierarchy, ",") {
		name, depth, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		d, err := strconv.Atoi(strings.TrimSpace(depth))
		if name == "" || err != nil || d < 0 {
			continue
		}
		levels[name] = d
	}
	return levels
}

// DestinationConfig holds the destination REST endpoint URLs.
type DestinationConfig struct {
	LocationTagURL          string `yaml:"location_tag_url" mapstructure:"location_tag_url"`
	LocationURL             string `yaml:"location_url" mapstructure:"location_url"`
	OrganizationURL         string `yaml:"organization_url" mapstructure:"organization_url"`
	OrganizationLocationURL string `yaml:"organization_location_url" mapstructure:"organization_location_url"`
	UserURL                 string `yaml:"user_url" mapstructure:"user_url"`
	UserGroupURL            string `yaml:"user_group_url" mapstructure:"user_group_url"`
}

// AuthConfig holds token-endpoint credentials for the destination.
type AuthConfig struct {
	TokenURL     string `yaml:"token_url" mapstructure:"token_url"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	Username     string `yaml:"username" mapstructure:"username"`
	Password     string `yaml:"password" mapstructure:"password"`
}

// SourceConfig configures the live source database, used when no CSV file
// is supplied.
type SourceConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// JournalConfig configures the batch-outcome journal.
type JournalConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ArtifactConfig configures the generated-entity CSV output directory.
type ArtifactConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REFDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.limit", 50)
	v.SetDefault("request.interval_ms", 10000)
	v.SetDefault("request.timeout_secs", 30)
	v.SetDefault("request.reset_timeout_secs", 10)
	v.SetDefault("request.max_failures", 5)
	v.SetDefault("worker.pool_size", 10)
	v.SetDefault("location.hierarchy", "Country:0,Province:1,District:2,Village:3")
	v.SetDefault("journal.path", "refdata-journal.db")
	v.SetDefault("artifact.dir", "refdata-out")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
