package common

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
	"github.com/ruteri/wallet-key-backup/storage"
	"github.com/ruteri/wallet-key-backup/transaction"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. WALLET_BACKUP_CHAIN_ACCESS_NODE_URL.
const EnvPrefix = "WALLET_BACKUP"

// Config holds the settings of the backup library and commands.
type Config struct {
	Backup   BackupConfig   `mapstructure:"backup"`
	Chain    ChainConfig    `mapstructure:"chain"`
	FeePayer FeePayerConfig `mapstructure:"fee_payer"`
	Registry RegistryConfig `mapstructure:"registry"`
	Retry    RetryConfig    `mapstructure:"retry"`
}

// BackupConfig locates the backup files.
type BackupConfig struct {
	// Secret is the static secret encrypting every backup file.
	Secret   string `mapstructure:"secret"`
	FileName string `mapstructure:"file_name"`

	// StorageURIs are cloud driver locations, see storage.DriverFactory.
	StorageURIs []string `mapstructure:"storage_uris"`
}

type ChainConfig struct {
	AccessNodeURL string        `mapstructure:"access_node_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ComputeLimit  uint64        `mapstructure:"compute_limit"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxPolls      uint64        `mapstructure:"max_polls"`
}

// FeePayerConfig is empty when accounts pay for their own transactions.
type FeePayerConfig struct {
	URL      string        `mapstructure:"url"`
	Address  string        `mapstructure:"address"`
	KeyIndex int           `mapstructure:"key_index"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RegistryConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	Attempts uint64        `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backup.secret", "")
	v.SetDefault("backup.file_name", storage.DefaultBackupFileName)
	v.SetDefault("backup.storage_uris", []string{})
	v.SetDefault("chain.access_node_url", "https://rest-testnet.onflow.org")
	v.SetDefault("chain.timeout", 30*time.Second)
	v.SetDefault("chain.compute_limit", transaction.DefaultComputeLimit)
	v.SetDefault("chain.poll_interval", transaction.DefaultPollInterval)
	v.SetDefault("chain.max_polls", transaction.DefaultMaxPolls)
	v.SetDefault("fee_payer.url", "")
	v.SetDefault("fee_payer.address", "")
	v.SetDefault("fee_payer.key_index", 0)
	v.SetDefault("fee_payer.timeout", 30*time.Second)
	v.SetDefault("registry.url", "")
	v.SetDefault("registry.token", "")
	v.SetDefault("registry.timeout", 30*time.Second)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.interval", 500*time.Millisecond)
}

// LoadConfig reads the config file at path, when given, and applies environment
// overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config %s: %v", interfaces.ErrConfiguration, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %v", interfaces.ErrConfiguration, err)
	}
	return &cfg, cfg.Validate()
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Backup.Secret == "" {
		errs = append(errs, errors.New("backup.secret is required"))
	}
	if c.Chain.AccessNodeURL == "" {
		errs = append(errs, errors.New("chain.access_node_url is required"))
	}
	if (c.FeePayer.URL == "") != (c.FeePayer.Address == "") {
		errs = append(errs, errors.New("fee_payer.url and fee_payer.address must be set together"))
	}
	if c.FeePayer.Address != "" {
		if _, err := interfaces.NewAddressFromHex(c.FeePayer.Address); err != nil {
			errs = append(errs, fmt.Errorf("fee_payer.address: %v", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", interfaces.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// FeePayerAddress returns the configured payer, if any.
func (c *Config) FeePayerAddress() (interfaces.Address, bool) {
	if c.FeePayer.Address == "" {
		return interfaces.EmptyAddress, false
	}
	addr, err := interfaces.NewAddressFromHex(c.FeePayer.Address)
	return addr, err == nil
}

// BackupStores opens a record store for every storage URI. A URI that cannot be
// opened is logged and skipped.
func (c *Config) BackupStores(log *slog.Logger) ([]*storage.BackupStore, error) {
	drivers, err := storage.NewDriverFactory(log).DriversFor(c.Backup.StorageURIs)
	if err != nil {
		return nil, err
	}

	stores := make([]*storage.BackupStore, 0, len(drivers))
	for _, driver := range drivers {
		stores = append(stores, storage.NewBackupStore(driver, c.Backup.Secret, c.Backup.FileName, log))
	}
	return stores, nil
}
