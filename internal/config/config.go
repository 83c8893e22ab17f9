// Package config loads the permex runtime configuration via viper.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SymbolConfig declares one tradable instrument and its opening reference
// price for the circuit breaker.
type SymbolConfig struct {
	Symbol         string  `mapstructure:"symbol"`
	ReferencePrice float64 `mapstructure:"reference_price"`
}

// ValidatorConfig is one ledger validator identity. Secrets are shared keys;
// signatures are HMACs, not real asymmetric signatures.
type ValidatorConfig struct {
	ID     string `mapstructure:"id"`
	Secret string `mapstructure:"secret"`
}

// Config is the full runtime configuration.
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		AdminKey string `mapstructure:"admin_key"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Market struct {
		Symbols []SymbolConfig `mapstructure:"symbols"`
	} `mapstructure:"market"`

	Risk struct {
		VelocityWindow    time.Duration `mapstructure:"velocity_window"`
		VelocityLimit     int           `mapstructure:"velocity_limit"`
		OversizedNotional float64       `mapstructure:"oversized_notional"`
	} `mapstructure:"risk"`

	CircuitBreaker struct {
		DefaultPct   float64       `mapstructure:"default_pct"`
		HaltDuration time.Duration `mapstructure:"halt_duration"`
	} `mapstructure:"circuit_breaker"`

	Settlement struct {
		DefaultDelay  time.Duration `mapstructure:"default_delay"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"settlement"`

	Ledger struct {
		Validators []ValidatorConfig `mapstructure:"validators"`
		Quorum     int               `mapstructure:"quorum"`
	} `mapstructure:"ledger"`
}

// Load reads permex.yaml from the given path (or the working directory when
// empty), applies PERMEX_* environment overrides, and falls back to defaults
// for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PERMEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("permex")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/permex")
	}

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine, defaults apply. Anything else is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.admin_key", "ADMIN_DEMO_KEY")
	v.SetDefault("log.level", "info")

	v.SetDefault("market.symbols", []map[string]any{
		{"symbol": "AAPL", "reference_price": 150.0},
		{"symbol": "MSFT", "reference_price": 320.0},
		{"symbol": "TSLA", "reference_price": 220.0},
	})

	v.SetDefault("risk.velocity_window", time.Minute)
	v.SetDefault("risk.velocity_limit", 6)
	v.SetDefault("risk.oversized_notional", 250000.0)

	v.SetDefault("circuit_breaker.default_pct", 10.0)
	v.SetDefault("circuit_breaker.halt_duration", 30*time.Second)

	v.SetDefault("settlement.default_delay", 30*time.Second)
	v.SetDefault("settlement.sweep_interval", 5*time.Second)

	v.SetDefault("ledger.quorum", 2)
	v.SetDefault("ledger.validators", []map[string]any{
		{"id": "v1", "secret": "validator_secret_1"},
		{"id": "v2", "secret": "validator_secret_2"},
		{"id": "v3", "secret": "validator_secret_3"},
	})
}
