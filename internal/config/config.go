// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/storage"
)

// Config is the daemon configuration. Amount fields hold human decimal
// strings ("0.01" ETH) and are converted to wei on demand, so config files
// never carry raw 18-decimal integers.
type Config struct {
	LogFile         string `mapstructure:"log_file"`
	DebugLogging    bool   `mapstructure:"debug_logging"`
	Workers         int    `mapstructure:"workers"`
	BlockIntervalMs int    `mapstructure:"block_interval_ms"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
	TasksFile       string `mapstructure:"tasks_file"`
	EventBuffer     int    `mapstructure:"event_buffer"`

	Owner          string `mapstructure:"owner"`
	Treasury       string `mapstructure:"treasury"`
	PlatformFeeBps uint64 `mapstructure:"platform_fee_bps"`
	CreatorFeeBps  uint64 `mapstructure:"creator_fee_bps"`
	MinPurchaseETH string `mapstructure:"min_purchase_eth"`

	Journal storage.Config `mapstructure:"journal"`
}

const (
	DefaultWorkers         = 4
	DefaultBlockIntervalMs = 1000
	DefaultEventBuffer     = 256
	DefaultPlatformFeeBps  = 100
	DefaultCreatorFeeBps   = 100
	DefaultMinPurchaseETH  = "0.01"
	DefaultMetricsAddr     = ":9090"
)

const bpsDenominator = 10_000

// LoadConfig reads, overrides from the environment and validates the daemon
// configuration.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"log_file":          "curved.log",
		"workers":           DefaultWorkers,
		"block_interval_ms": DefaultBlockIntervalMs,
		"event_buffer":      DefaultEventBuffer,
		"metrics_addr":      DefaultMetricsAddr,
		"platform_fee_bps":  DefaultPlatformFeeBps,
		"creator_fee_bps":   DefaultCreatorFeeBps,
		"min_purchase_eth":  DefaultMinPurchaseETH,
		"journal.driver":    storage.DriverMemory,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if !common.IsHexAddress(cfg.Owner) {
		return errors.New("owner must be a hex address")
	}
	if !common.IsHexAddress(cfg.Treasury) {
		return errors.New("treasury must be a hex address")
	}
	if cfg.PlatformFeeBps+cfg.CreatorFeeBps > bpsDenominator {
		return fmt.Errorf("fee rates exceed 10000 bps: platform %d + creator %d",
			cfg.PlatformFeeBps, cfg.CreatorFeeBps)
	}
	if _, err := curve.ParseWAD(cfg.MinPurchaseETH); err != nil {
		return fmt.Errorf("invalid min_purchase_eth: %w", err)
	}
	if err := validateNumericParams(cfg); err != nil {
		return err
	}
	return validateJournal(&cfg.Journal)
}

func validateNumericParams(cfg *Config) error {
	if cfg.Workers < 0 {
		return errors.New("invalid workers count")
	}
	if cfg.BlockIntervalMs <= 0 {
		return errors.New("invalid block_interval_ms")
	}
	if cfg.EventBuffer < 0 {
		return errors.New("invalid event_buffer")
	}
	return nil
}

func validateJournal(j *storage.Config) error {
	switch j.Driver {
	case "", storage.DriverMemory:
	case storage.DriverPebble:
		if j.Path == "" {
			return errors.New("journal.path is required for the pebble driver")
		}
	case storage.DriverPostgres:
		if j.DSN == "" {
			return errors.New("journal.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown journal driver %q", j.Driver)
	}
	return nil
}

// loadEnvironmentVariables applies CURVE_ENGINE_* overrides. Only identity
// and credential values come from the environment; tuning stays in the file.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("CURVE_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if owner := v.GetString("OWNER"); owner != "" {
		cfg.Owner = owner
	}
	if treasury := v.GetString("TREASURY"); treasury != "" {
		cfg.Treasury = treasury
	}
	if dsn := v.GetString("JOURNAL_DSN"); dsn != "" {
		cfg.Journal.DSN = dsn
	}
	return nil
}

// OwnerAddress returns the parsed owner identity.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Owner)
}

// TreasuryAddress returns the parsed platform treasury.
func (c *Config) TreasuryAddress() common.Address {
	return common.HexToAddress(c.Treasury)
}

// MinPurchaseWei returns the buy floor in wei. Call after validation.
func (c *Config) MinPurchaseWei() *big.Int {
	wei, err := curve.ParseWAD(c.MinPurchaseETH)
	if err != nil {
		return new(big.Int)
	}
	return wei
}

// BlockInterval returns the wall-clock duration of one synthetic block.
func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.BlockIntervalMs) * time.Millisecond
}
