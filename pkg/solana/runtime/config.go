package runtime

import (
	"github.com/mr-tron/base58"

	"github.com/code-payments/custody-program/pkg/config"
	"github.com/code-payments/custody-program/pkg/config/env"
	"github.com/code-payments/custody-program/pkg/config/memory"
	"github.com/code-payments/custody-program/pkg/config/wrapper"
)

const (
	envConfigPrefix = "RUNTIME_"

	LamportsPerSignatureConfigEnvName = envConfigPrefix + "LAMPORTS_PER_SIGNATURE"
	defaultLamportsPerSignature       = 5000

	BlockhashQueueSizeConfigEnvName = envConfigPrefix + "BLOCKHASH_QUEUE_SIZE"
	defaultBlockhashQueueSize       = 150

	MaxCallDepthConfigEnvName = envConfigPrefix + "MAX_CALL_DEPTH"
	defaultMaxCallDepth       = 4

	LockStripesConfigEnvName = envConfigPrefix + "LOCK_STRIPES"
	defaultLockStripes       = 1024

	FaucetLamportsConfigEnvName = envConfigPrefix + "FAUCET_LAMPORTS"
	defaultFaucetLamports       = 500_000_000 * 1_000_000_000

	// FaucetSeedConfigEnvName holds the base58 encoded 32 byte ed25519 seed of
	// the faucet. When unset a new faucet is generated at boot.
	FaucetSeedConfigEnvName = envConfigPrefix + "FAUCET_SEED"
	defaultFaucetSeed       = ""
)

type conf struct {
	lamportsPerSignature config.Uint64
	blockhashQueueSize   config.Uint64
	maxCallDepth         config.Uint64
	lockStripes          config.Uint64
	faucetLamports       config.Uint64
	faucetSeed           config.String
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			lamportsPerSignature: env.NewUint64Config(LamportsPerSignatureConfigEnvName, defaultLamportsPerSignature),
			blockhashQueueSize:   env.NewUint64Config(BlockhashQueueSizeConfigEnvName, defaultBlockhashQueueSize),
			maxCallDepth:         env.NewUint64Config(MaxCallDepthConfigEnvName, defaultMaxCallDepth),
			lockStripes:          env.NewUint64Config(LockStripesConfigEnvName, defaultLockStripes),
			faucetLamports:       env.NewUint64Config(FaucetLamportsConfigEnvName, defaultFaucetLamports),
			faucetSeed:           env.NewStringConfig(FaucetSeedConfigEnvName, defaultFaucetSeed),
		}
	}
}

// WithFaucetSeed overrides the faucet seed of provider.
func WithFaucetSeed(provider ConfigProvider, seed []byte) ConfigProvider {
	return func() *conf {
		c := provider()
		c.faucetSeed = wrapper.NewStringConfig(memory.NewConfig(base58.Encode(seed)), defaultFaucetSeed)
		return c
	}
}

type testOverrides struct {
	lamportsPerSignature uint64
	blockhashQueueSize   uint64
	maxCallDepth         uint64
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	return func() *conf {
		return &conf{
			lamportsPerSignature: wrapper.NewUint64Config(memory.NewConfig(overrides.lamportsPerSignature), defaultLamportsPerSignature),
			blockhashQueueSize:   wrapper.NewUint64Config(memory.NewConfig(overrides.blockhashQueueSize), defaultBlockhashQueueSize),
			maxCallDepth:         wrapper.NewUint64Config(memory.NewConfig(overrides.maxCallDepth), defaultMaxCallDepth),
			lockStripes:          wrapper.NewUint64Config(memory.NewConfig(uint64(16)), defaultLockStripes),
			faucetLamports:       wrapper.NewUint64Config(memory.NewConfig(uint64(defaultFaucetLamports)), defaultFaucetLamports),
			faucetSeed:           wrapper.NewStringConfig(memory.NewConfig(nil), defaultFaucetSeed),
		}
	}
}
