package main

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	ledgerMemory   = "memory"
	ledgerPebble   = "pebble"
	ledgerPostgres = "postgres"
)

// localnetConfig is the "app" section of the config file.
type localnetConfig struct {
	Ledger string `mapstructure:"ledger"`

	PebblePath string `mapstructure:"pebble_path"`

	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDbName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	SlotInterval time.Duration `mapstructure:"slot_interval"`

	// FaucetKeyPath stores the faucet seed of a persistent ledger so restarts
	// keep airdropping from the funded faucet.
	FaucetKeyPath string `mapstructure:"faucet_key_path"`
}

var defaultLocalnetConfig = localnetConfig{
	Ledger: ledgerMemory,

	PebblePath: "ledger",

	PostgresHost:   "localhost",
	PostgresPort:   5432,
	PostgresDbName: "custody",

	SlotInterval: 400 * time.Millisecond,

	FaucetKeyPath: "faucet.key",
}

func decodeConfig(raw map[string]interface{}) (*localnetConfig, error) {
	config := defaultLocalnetConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &config,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "invalid app config")
	}

	switch config.Ledger {
	case ledgerMemory, ledgerPebble, ledgerPostgres:
	default:
		return nil, errors.Errorf("unsupported ledger: %s", config.Ledger)
	}
	if config.SlotInterval <= 0 {
		return nil, errors.New("slot interval must be positive")
	}

	return &config, nil
}
