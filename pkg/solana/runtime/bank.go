// Package runtime is an in-process execution environment for Solana style
// programs. A Bank verifies, executes and commits legacy transactions against
// a ledger.Store.
package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/custody-program/pkg/database/query"
	"github.com/code-payments/custody-program/pkg/ledger"
	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/program"
	"github.com/code-payments/custody-program/pkg/solana/system"
	sync_util "github.com/code-payments/custody-program/pkg/sync"
)

const (
	metricsStructName = "runtime.bank"

	// Reference: https://github.com/solana-labs/solana/blob/b5256997f8b1a0dfb4d4e81e4b3e0ab9a6f7e6ed/sdk/program/src/rent.rs#L28-L41
	accountStorageOverhead  = 128
	lamportsPerByteYear     = 3480
	exemptionThresholdYears = 2
	maxPermittedDataLength  = 10 * 1024 * 1024
	builtinProgramLamports  = 1

	ownerPageSize = 100
)

var (
	// NativeLoaderKey owns builtin programs such as the system program.
	NativeLoaderKey = ed25519.PublicKey(solana.MustBase58Decode("NativeLoader1111111111111111111111111111111"))

	// UpgradeableLoaderKey owns programs registered with RegisterProgram.
	UpgradeableLoaderKey = ed25519.PublicKey(solana.MustBase58Decode("BPFLoaderUpgradeab1e11111111111111111111111"))
)

var (
	ErrProgramAlreadyRegistered = errors.New("program already registered")
	ErrAddressInUse             = errors.New("address is already in use by a non-executable account")
)

// Bank executes transactions and tracks the recent blockhashes they may
// reference.
type Bank struct {
	log      *logrus.Entry
	conf     *conf
	store    ledger.Store
	locks    *sync_util.StripedLock
	metrics  *bankMetrics
	registry *prometheus.Registry

	faucet ed25519.PrivateKey

	programsMu sync.RWMutex
	programs   map[string]program.Entrypoint

	stateMu     sync.Mutex
	slot        uint64
	blockhashes []solana.Blockhash
	signatures  map[solana.Blockhash]map[solana.Signature]struct{}
}

// NewBank returns a bank backed by store. The system program account and the
// faucet account are written to the store if missing, and a genesis blockhash
// is made available. The faucet is only funded when the store does not hold
// it yet.
func NewBank(ctx context.Context, store ledger.Store, configProvider ConfigProvider) (*Bank, error) {
	conf := configProvider()

	registry, m, err := newMetrics()
	if err != nil {
		return nil, errors.Wrap(err, "failed to register metrics")
	}

	faucet, err := loadFaucet(ctx, conf)
	if err != nil {
		return nil, err
	}

	b := &Bank{
		log:        logrus.StandardLogger().WithField("type", "solana/runtime"),
		conf:       conf,
		store:      store,
		locks:      sync_util.NewStripedLock(uint(conf.lockStripes.Get(ctx))),
		metrics:    m,
		registry:   registry,
		faucet:     faucet,
		programs:   make(map[string]program.Entrypoint),
		signatures: make(map[solana.Blockhash]map[solana.Signature]struct{}),
	}

	if err := b.genesis(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Bank) genesis(ctx context.Context) error {
	systemAccount, err := b.store.Get(ctx, base58.Encode(system.ProgramKey[:]))
	switch err {
	case nil:
		b.observeSlot(systemAccount.Slot)
	case ledger.ErrAccountNotFound:
		systemAccount = &ledger.Record{
			Address:    base58.Encode(system.ProgramKey[:]),
			Owner:      base58.Encode(NativeLoaderKey),
			Lamports:   builtinProgramLamports,
			Executable: true,
		}
	default:
		return errors.Wrap(err, "failed to load system program account")
	}

	genesisAccounts := []*ledger.Record{systemAccount}

	faucetAccount, err := b.store.Get(ctx, base58.Encode(b.FaucetKey()))
	switch err {
	case nil:
		b.observeSlot(faucetAccount.Slot)
	case ledger.ErrAccountNotFound:
		genesisAccounts = append(genesisAccounts, &ledger.Record{
			Address:  base58.Encode(b.FaucetKey()),
			Owner:    base58.Encode(system.ProgramKey[:]),
			Lamports: b.conf.faucetLamports.Get(ctx),
		})
	default:
		return errors.Wrap(err, "failed to load faucet account")
	}

	for _, record := range genesisAccounts {
		record.Slot = b.Slot()
	}
	if err := b.store.Save(ctx, genesisAccounts...); err != nil {
		return errors.Wrap(err, "failed to save genesis accounts")
	}

	seed := sha256.New()
	seed.Write(b.FaucetKey())
	_ = binary.Write(seed, binary.LittleEndian, time.Now().UnixNano())

	var genesis solana.Blockhash
	copy(genesis[:], seed.Sum(nil))

	b.stateMu.Lock()
	b.pushBlockhash(genesis)
	b.stateMu.Unlock()

	b.log.WithFields(logrus.Fields{
		"method":    "genesis",
		"faucet":    base58.Encode(b.FaucetKey()),
		"slot":      b.Slot(),
		"blockhash": genesis.String(),
	}).Info("bank initialized")

	return nil
}

// RegisterProgram makes entrypoint executable at id. An executable account
// owned by the upgradeable loader is created for the program if one does not
// already exist.
func (b *Bank) RegisterProgram(ctx context.Context, id ed25519.PublicKey, entrypoint program.Entrypoint) error {
	if bytes.Equal(id, system.ProgramKey[:]) {
		return ErrProgramAlreadyRegistered
	}

	b.programsMu.Lock()
	defer b.programsMu.Unlock()

	address := base58.Encode(id)
	if _, ok := b.programs[address]; ok {
		return ErrProgramAlreadyRegistered
	}

	unlock := b.locks.LockAll([][]byte{id}, nil)
	defer unlock()

	existing, err := b.store.Get(ctx, address)
	switch err {
	case nil:
		if !existing.Executable {
			return ErrAddressInUse
		}
	case ledger.ErrAccountNotFound:
		err = b.store.Save(ctx, &ledger.Record{
			Address:    address,
			Owner:      base58.Encode(UpgradeableLoaderKey),
			Lamports:   builtinProgramLamports,
			Executable: true,
			Slot:       b.Slot(),
		})
		if err != nil {
			return errors.Wrap(err, "failed to save program account")
		}
	default:
		return errors.Wrap(err, "failed to load program account")
	}

	b.programs[address] = entrypoint

	b.log.WithFields(logrus.Fields{
		"method":  "RegisterProgram",
		"program": address,
	}).Info("program registered")

	return nil
}

func (b *Bank) getEntrypoint(id ed25519.PublicKey) (program.Entrypoint, bool) {
	b.programsMu.RLock()
	defer b.programsMu.RUnlock()

	entrypoint, ok := b.programs[base58.Encode(id)]
	return entrypoint, ok
}

func (b *Bank) isProgram(id ed25519.PublicKey) bool {
	if bytes.Equal(id, system.ProgramKey[:]) {
		return true
	}
	_, ok := b.getEntrypoint(id)
	return ok
}

func loadFaucet(ctx context.Context, conf *conf) (ed25519.PrivateKey, error) {
	encoded := conf.faucetSeed.Get(ctx)
	if encoded == "" {
		_, faucet, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate faucet")
		}
		return faucet, nil
	}

	seed, err := base58.Decode(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "invalid faucet seed")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("invalid faucet seed length: %d", len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// FaucetKey returns the address airdrops are funded from.
func (b *Bank) FaucetKey() ed25519.PublicKey {
	return b.faucet.Public().(ed25519.PublicKey)
}

// Airdrop transfers lamports from the faucet to the account.
func (b *Bank) Airdrop(ctx context.Context, to ed25519.PublicKey, lamports uint64) (solana.Signature, error) {
	tx := solana.NewTransaction(b.FaucetKey(), system.Transfer(b.FaucetKey(), to, lamports))
	tx.SetBlockhash(b.LatestBlockhash())
	if err := tx.Sign(b.faucet); err != nil {
		return solana.Signature{}, errors.Wrap(err, "failed to sign airdrop")
	}

	result, err := b.ProcessTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	if result.Err != nil {
		return result.Signature, result.Err
	}
	return result.Signature, nil
}

// GetAccount returns the committed state of an account. ledger.ErrAccountNotFound
// is returned for accounts that hold nothing.
func (b *Bank) GetAccount(ctx context.Context, key ed25519.PublicKey) (*ledger.Record, error) {
	record, err := b.store.Get(ctx, base58.Encode(key))
	if err != nil {
		return nil, err
	}

	if record.IsEmpty() && record.Owner == base58.Encode(system.ProgramKey[:]) {
		return nil, ledger.ErrAccountNotFound
	}
	return record, nil
}

// GetProgramAccounts returns every account owned by the program, in the
// order the ledger first saw them.
func (b *Bank) GetProgramAccounts(ctx context.Context, program ed25519.PublicKey) ([]*ledger.Record, error) {
	var res []*ledger.Record
	var cursor query.Cursor

	for {
		page, err := b.store.GetAllByOwner(ctx, base58.Encode(program), cursor, ownerPageSize, query.Ascending)
		if err == ledger.ErrAccountNotFound {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "failed to get accounts by owner")
		}

		res = append(res, page...)
		if len(page) < ownerPageSize {
			break
		}
		cursor = query.ToCursor(page[len(page)-1].Id)
	}

	return res, nil
}

// MinimumBalanceForRentExemption returns the lamports an account of dataSize
// bytes needs to be rent exempt.
func (b *Bank) MinimumBalanceForRentExemption(dataSize uint64) uint64 {
	return (accountStorageOverhead + dataSize) * lamportsPerByteYear * exemptionThresholdYears
}

// Registry returns the prometheus registry holding the bank's metrics.
func (b *Bank) Registry() *prometheus.Registry {
	return b.registry
}

// Slot returns the current slot.
func (b *Bank) Slot() uint64 {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	return b.slot
}

// LatestBlockhash returns the most recent blockhash.
func (b *Bank) LatestBlockhash() solana.Blockhash {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	return b.blockhashes[len(b.blockhashes)-1]
}

// LastValidSlot returns the last slot at which a transaction referencing the
// latest blockhash is still accepted.
func (b *Bank) LastValidSlot() uint64 {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	return b.slot + b.conf.blockhashQueueSize.Get(context.Background()) - 1
}

// AdvanceSlot moves the bank to the next slot and produces a new blockhash.
// Blockhashes older than the configured queue size expire, along with the
// signatures recorded against them.
func (b *Bank) AdvanceSlot() uint64 {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	b.slot++

	latest := b.blockhashes[len(b.blockhashes)-1]

	h := sha256.New()
	h.Write(latest[:])
	_ = binary.Write(h, binary.LittleEndian, b.slot)

	var next solana.Blockhash
	copy(next[:], h.Sum(nil))
	b.pushBlockhash(next)

	return b.slot
}

// RunSlotTicker advances the slot every interval until ctx is done.
func (b *Bank) RunSlotTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.AdvanceSlot()
		}
	}
}

// pushBlockhash requires stateMu to be held.
func (b *Bank) pushBlockhash(hash solana.Blockhash) {
	b.blockhashes = append(b.blockhashes, hash)
	b.signatures[hash] = make(map[solana.Signature]struct{})

	max := int(b.conf.blockhashQueueSize.Get(context.Background()))
	if max < 1 {
		max = 1
	}
	for len(b.blockhashes) > max {
		delete(b.signatures, b.blockhashes[0])
		b.blockhashes = b.blockhashes[1:]
	}
}

// observeSlot moves the bank forward to slot if it is behind. Used when
// resuming from a store written by an earlier bank.
func (b *Bank) observeSlot(slot uint64) uint64 {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if slot > b.slot {
		b.slot = slot
	}
	return b.slot
}

func (b *Bank) checkAge(hash solana.Blockhash, sig solana.Signature) *solana.TransactionError {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	seen, ok := b.signatures[hash]
	if !ok {
		return solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound)
	}
	if _, ok := seen[sig]; ok {
		return solana.NewTransactionError(solana.TransactionErrorDuplicateSignature)
	}
	return nil
}

func (b *Bank) recordSignature(hash solana.Blockhash, sig solana.Signature) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if seen, ok := b.signatures[hash]; ok {
		seen[sig] = struct{}{}
	}
}
