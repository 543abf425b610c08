package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/committee/member"
	"github.com/zkbitcoin/committee/internal/logging"
)

// EnvPrefix prefixes the environment variables overriding settings, so that
// orchestrator.round_timeout is read from ZKBTC_ORCHESTRATOR_ROUND_TIMEOUT.
const EnvPrefix = "ZKBTC"

// Settings are the runtime settings of a node.
type Settings struct {
	Listen  string         `mapstructure:"listen"`
	Network string         `mapstructure:"network"`
	Logging logging.Config `mapstructure:"logging"`

	Member       member.Config `mapstructure:"member"`
	Orchestrator Orchestrator  `mapstructure:"orchestrator"`

	// Redis is the address of the deployment registry. Empty uses Deployments.
	Redis string `mapstructure:"redis"`
	// Deployments is the JSON file of the deployment registry.
	Deployments string `mapstructure:"deployments"`
}

// Orchestrator settings.
type Orchestrator struct {
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	// RateLimit is the number of requests per second accepted from one address.
	// Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	MaxFee    int64   `mapstructure:"max_fee"`
}

var defaults = map[string]interface{}{
	"listen":                     "127.0.0.1:8891",
	"network":                    "testnet",
	"logging.mode":               logging.ModeProduction,
	"logging.level":              "info",
	"logging.file":               "",
	"logging.console":            false,
	"logging.max_size_mb":        0,
	"logging.max_backups":        0,
	"logging.max_age_days":       0,
	"member.session_ttl":         member.DefaultSessionTTL,
	"member.max_sessions":        member.DefaultMaxSessions,
	"member.tombstone_ttl":       member.DefaultTombstoneTTL,
	"member.max_tombstones":      member.DefaultMaxTombstones,
	"orchestrator.round_timeout": 10 * time.Second,
	"orchestrator.rate_limit":    10.0,
	"orchestrator.max_fee":       100_000,
	"redis":                      "",
	"deployments":                "deployments.json",
}

// NewViper returns a viper instance with the defaults and the environment bound.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Bind maps command line flags to setting keys.
func Bind(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("config.Bind: no flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config.Bind: %w", err)
		}
	}
	return nil
}

// Load reads the optional settings file, then decodes every setting.
func Load(v *viper.Viper, file string) (*Settings, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, api.Wrap(api.ErrConfiguration, err)
		}
	}
	s := new(Settings)
	if err := v.Unmarshal(s); err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	if s.Orchestrator.RoundTimeout <= 0 {
		return nil, api.Errorf(api.ErrConfiguration, "orchestrator.round_timeout must be positive")
	}
	return s, nil
}
