package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	APIConf  APIConf  `yaml:"APIConf"`
	Database Database `yaml:"Database"`
	Journal  Journal  `yaml:"Journal"`
	Ledger   Ledger   `yaml:"Ledger"`
	Reanchor Reanchor `yaml:"Reanchor"`
	LogLevel string   `yaml:"LogLevel" validate:"omitempty,oneof=trace debug info warn warning error"`
}

type APIConf struct {
	Port string `yaml:"Port" default:"8081"`
	Host string `yaml:"Host" default:"0.0.0.0"`
}

type Database struct {
	Driver string `yaml:"Driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN    string `yaml:"DSN" validate:"required"`
}

type Journal struct {
	Path      string        `yaml:"Path"`
	InMemory  bool          `yaml:"InMemory"`
	RecordTTL time.Duration `yaml:"RecordTTL"`
}

// Ledger configures anchoring. When Enabled is false no node is dialled and
// the on-chain verification tier always reports false.
type Ledger struct {
	Enabled         bool           `yaml:"Enabled"`
	Node            string         `yaml:"Node" validate:"required_if=Enabled true"`
	RegistryAddress common.Address `yaml:"RegistryAddress"`
	ChainID         int64          `yaml:"ChainID" validate:"required_if=Enabled true"`
	GasLimit        uint64         `yaml:"GasLimit"`
	CallTimeout     time.Duration  `yaml:"CallTimeout"`
	ReceiptTimeout  time.Duration  `yaml:"ReceiptTimeout"`
	// OwnerPrivateKey comes from the environment, never from the yaml file.
	OwnerPrivateKey string `yaml:"-"`
}

type Reanchor struct {
	Enabled     bool   `yaml:"Enabled"`
	Schedule    string `yaml:"Schedule"`
	MaxAttempts int    `yaml:"MaxAttempts" validate:"gte=0"`
}

func Default() Config {
	return Config{
		APIConf: APIConf{Port: "8081", Host: "0.0.0.0"},
		Database: Database{
			Driver: DriverSQLite,
			DSN:    "certificates.db",
		},
		Journal: Journal{InMemory: true, RecordTTL: 30 * 24 * time.Hour},
		Ledger: Ledger{
			GasLimit:       150000,
			CallTimeout:    15 * time.Second,
			ReceiptTimeout: 2 * time.Minute,
		},
		Reanchor: Reanchor{Schedule: "@every 5m", MaxAttempts: 5},
		LogLevel: "info",
	}
}

// Load reads the yaml file at path over the defaults and validates the result.
func Load(path string) (Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(yamlFile)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Ledger.Enabled && c.Ledger.RegistryAddress == (common.Address{}) {
		return fmt.Errorf("invalid config: Ledger.RegistryAddress is required when the ledger is enabled")
	}
	return nil
}
