// Package config loads the settings of a host running compensation stacks.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fortressi/sagastack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g.
// SAGASTACK_COMPENSATION_POLICY.
const EnvPrefix = "SAGASTACK"

// Config is the sagastack configuration loaded from file and environment.
type Config struct {
	Compensation CompensationConfig `mapstructure:"compensation"`
	Log          LogConfig          `mapstructure:"log"`
	Workers      WorkersConfig      `mapstructure:"workers"`
	Store        StoreConfig        `mapstructure:"store"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// CompensationConfig holds the stack's failure policy and undo timeout.
type CompensationConfig struct {
	// Policy is halt_on_first_failure or continue_with_error.
	Policy      string        `mapstructure:"policy"`
	UndoTimeout time.Duration `mapstructure:"undo_timeout"`
}

// LogConfig selects the zap log level and encoding.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is json or console.
	Format string `mapstructure:"format"`
}

// WorkersConfig names the routing keys of the parent and child execution
// contexts.
type WorkersConfig struct {
	Parent string `mapstructure:"parent"`
	Child  string `mapstructure:"child"`
}

// StoreConfig locates the on-disk snapshot store.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig turns the prometheus counters on and sets their namespace.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("compensation.policy", sagastack.HaltOnFirstFailure.String())
	v.SetDefault("compensation.undo_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("workers.parent", "parent")
	v.SetDefault("workers.child", "child")
	v.SetDefault("store.dir", ".sagastack")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "sagastack")
}

// LoadConfig reads the config file at configPath and applies environment
// overrides. An empty configPath yields the defaults plus the environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if _, err := sagastack.ParsePolicy(cfg.Compensation.Policy); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StackOptions returns the stack options the compensation section selects.
func (c *Config) StackOptions() ([]sagastack.Option, error) {
	policy, err := sagastack.ParsePolicy(c.Compensation.Policy)
	if err != nil {
		return nil, err
	}
	return []sagastack.Option{
		sagastack.WithPolicy(policy),
		sagastack.WithUndoTimeout(c.Compensation.UndoTimeout),
	}, nil
}

// NewMetrics registers the stack counters on reg. It returns nil when metrics
// are disabled; a nil *sagastack.Metrics records nothing.
func (c *Config) NewMetrics(reg prometheus.Registerer) (*sagastack.Metrics, error) {
	if !c.Metrics.Enabled {
		return nil, nil
	}
	return sagastack.NewMetrics(reg, c.Metrics.Namespace)
}

// NewLogger builds the logger the log section describes.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}

	var zc zap.Config
	switch c.Log.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
