package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/custody-program/pkg/app"
	"github.com/code-payments/custody-program/pkg/custody"
	pg "github.com/code-payments/custody-program/pkg/database/postgres"
	"github.com/code-payments/custody-program/pkg/ledger"
	"github.com/code-payments/custody-program/pkg/ledger/memory"
	ledger_pebble "github.com/code-payments/custody-program/pkg/ledger/pebble"
	ledger_postgres "github.com/code-payments/custody-program/pkg/ledger/postgres"
	"github.com/code-payments/custody-program/pkg/metrics"
	"github.com/code-payments/custody-program/pkg/rpc"
	"github.com/code-payments/custody-program/pkg/solana/runtime"
)

type localnet struct {
	log *logrus.Entry

	bank   *runtime.Bank
	server *rpc.Server
	closer io.Closer

	ctx    context.Context
	cancel context.CancelFunc

	shutdownCh chan struct{}
	stopOnce   sync.Once
}

func (l *localnet) Init(config app.Config, metricsProvider *newrelic.Application) error {
	conf, err := decodeConfig(config)
	if err != nil {
		return err
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	if metricsProvider != nil {
		l.ctx = metrics.NewContext(l.ctx, metricsProvider)
	}

	store, closer, err := openLedger(conf)
	if err != nil {
		return err
	}
	l.closer = closer

	bankConfig := runtime.WithEnvConfigs()
	if conf.Ledger != ledgerMemory && conf.FaucetKeyPath != "" && os.Getenv(runtime.FaucetSeedConfigEnvName) == "" {
		seed, err := loadOrCreateFaucetSeed(conf.FaucetKeyPath)
		if err != nil {
			return err
		}
		bankConfig = runtime.WithFaucetSeed(bankConfig, seed)
	}

	l.bank, err = runtime.NewBank(l.ctx, store, bankConfig)
	if err != nil {
		return errors.Wrap(err, "failed to initialize bank")
	}

	if err := l.bank.RegisterProgram(l.ctx, custody.PROGRAM_ID, custody.ProcessInstruction); err != nil {
		return errors.Wrap(err, "failed to register custody program")
	}

	go l.bank.RunSlotTicker(l.ctx, conf.SlotInterval)

	l.server = rpc.NewServer(l.bank, rpc.WithEnvConfigs())

	l.log.WithFields(logrus.Fields{
		"ledger":  conf.Ledger,
		"program": custody.PROGRAM_ADDRESS,
		"faucet":  base58.Encode(l.bank.FaucetKey()),
	}).Info("localnet initialized")

	return nil
}

func (l *localnet) Serve(lis net.Listener) error {
	return l.server.Serve(lis)
}

func (l *localnet) Gatherer() prometheus.Gatherer {
	return l.bank.Registry()
}

func (l *localnet) ShutdownChan() <-chan struct{} {
	return l.shutdownCh
}

func (l *localnet) Stop(ctx context.Context) {
	l.stopOnce.Do(func() {
		if l.server != nil {
			if err := l.server.Shutdown(ctx); err != nil {
				l.log.WithError(err).Warn("failed to shutdown rpc server")
			}
		}

		if l.cancel != nil {
			l.cancel()
		}

		if l.closer != nil {
			if err := l.closer.Close(); err != nil {
				l.log.WithError(err).Warn("failed to close ledger")
			}
		}

		close(l.shutdownCh)
	})
}

func openLedger(conf *localnetConfig) (ledger.Store, io.Closer, error) {
	switch conf.Ledger {
	case ledgerPebble:
		store, db, err := ledger_pebble.Open(conf.PebblePath, nil)
		if err != nil {
			return nil, nil, err
		}
		return store, db, nil
	case ledgerPostgres:
		db, err := pg.Open(&pg.Config{
			Host:     conf.PostgresHost,
			Port:     conf.PostgresPort,
			User:     conf.PostgresUser,
			Password: conf.PostgresPassword,
			DbName:   conf.PostgresDbName,
			SSLMode:  conf.PostgresSSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		return ledger_postgres.New(db), db, nil
	default:
		return memory.New(), nil, nil
	}
}

// loadOrCreateFaucetSeed reads the base58 faucet seed at path, writing a new
// one if the file does not exist.
func loadOrCreateFaucetSeed(path string) ([]byte, error) {
	encoded, err := os.ReadFile(path)
	if err == nil {
		seed, err := base58.Decode(strings.TrimSpace(string(encoded)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, errors.Errorf("invalid faucet seed in %s", path)
		}
		return seed, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read faucet seed")
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, errors.Wrap(err, "failed to generate faucet seed")
	}
	if err := os.WriteFile(path, []byte(base58.Encode(seed)+"\n"), 0o600); err != nil {
		return nil, errors.Wrap(err, "failed to write faucet seed")
	}
	return seed, nil
}

func main() {
	l := &localnet{
		log:        logrus.StandardLogger().WithField("type", "localnet"),
		shutdownCh: make(chan struct{}),
	}

	if err := app.Run(l); err != nil {
		logrus.WithError(err).Error("error running localnet")
		os.Exit(1)
	}
}
