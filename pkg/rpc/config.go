package rpc

import (
	"github.com/code-payments/custody-program/pkg/config"
	"github.com/code-payments/custody-program/pkg/config/env"
	"github.com/code-payments/custody-program/pkg/config/memory"
	"github.com/code-payments/custody-program/pkg/config/wrapper"
)

const (
	envConfigPrefix = "RPC_"

	AirdropsEnabledConfigEnvName = envConfigPrefix + "AIRDROPS_ENABLED"
	defaultAirdropsEnabled       = true

	MaxAirdropLamportsConfigEnvName = envConfigPrefix + "MAX_AIRDROP_LAMPORTS"
	defaultMaxAirdropLamports       = 1_000 * 1_000_000_000
)

type conf struct {
	airdropsEnabled    config.Bool
	maxAirdropLamports config.Uint64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			airdropsEnabled:    env.NewBoolConfig(AirdropsEnabledConfigEnvName, defaultAirdropsEnabled),
			maxAirdropLamports: env.NewUint64Config(MaxAirdropLamportsConfigEnvName, defaultMaxAirdropLamports),
		}
	}
}

type testOverrides struct {
	airdropsEnabled    bool
	maxAirdropLamports uint64
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	return func() *conf {
		return &conf{
			airdropsEnabled:    wrapper.NewBoolConfig(memory.NewConfig(overrides.airdropsEnabled), defaultAirdropsEnabled),
			maxAirdropLamports: wrapper.NewUint64Config(memory.NewConfig(overrides.maxAirdropLamports), defaultMaxAirdropLamports),
		}
	}
}
