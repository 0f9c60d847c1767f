package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/custody-program/pkg/ledger"
	"github.com/code-payments/custody-program/pkg/metrics"
	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/program"
	"github.com/code-payments/custody-program/pkg/solana/system"
)

const (
	transactionFailedEventName = "RuntimeTransactionFailed"
	processingTimeMetricName   = "Runtime/ProcessTransaction"
	feesCollectedMetricName    = "Runtime/FeesCollected"
)

// TransactionResult describes the outcome of a processed transaction.
//
// Err is set when the transaction was rejected or when one of its
// instructions failed. A rejected transaction is not committed and is not
// charged a fee. A transaction with a failed instruction is committed with
// only its fee applied.
type TransactionResult struct {
	Signature solana.Signature
	Slot      uint64
	Fee       uint64
	Committed bool
	Logs      []string
	Err       *solana.TransactionError
}

// ProcessTransaction executes tx against the ledger. A non-nil error is
// only returned when the bank fails to read or write the ledger; transaction
// failures are reported through TransactionResult.Err.
func (b *Bank) ProcessTransaction(ctx context.Context, tx solana.Transaction) (*TransactionResult, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "ProcessTransaction")
	defer tracer.End()

	start := time.Now()

	result, err := b.processTransaction(ctx, tx)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}

	metrics.RecordDuration(ctx, processingTimeMetricName, time.Since(start))

	tracer.AddAttributes(map[string]interface{}{
		"signature": result.Signature.String(),
		"slot":      result.Slot,
		"committed": result.Committed,
	})

	if result.Committed {
		b.metrics.transactionsProcessed.Inc()
		b.metrics.instructionsExecuted.Add(float64(len(tx.Message.Instructions)))
		b.metrics.feesCollected.Add(float64(result.Fee))

		metrics.RecordCount(ctx, feesCollectedMetricName, result.Fee)
	}

	if result.Err != nil {
		errorKey := string(result.Err.ErrorKey())
		if ie := result.Err.InstructionError(); ie != nil {
			errorKey = string(ie.ErrorKey())
		}

		b.metrics.transactionsFailed.WithLabelValues(errorKey).Inc()

		metrics.RecordEvent(ctx, transactionFailedEventName, map[string]interface{}{
			"signature": result.Signature.String(),
			"error":     result.Err.Error(),
			"committed": result.Committed,
		})

		b.log.WithFields(logrus.Fields{
			"method":    "ProcessTransaction",
			"signature": result.Signature.String(),
			"committed": result.Committed,
		}).WithError(result.Err).Debug("transaction failed")
	}

	return result, nil
}

func (b *Bank) processTransaction(ctx context.Context, tx solana.Transaction) (*TransactionResult, error) {
	result := &TransactionResult{}
	if len(tx.Signatures) > 0 {
		result.Signature = tx.Signatures[0]
	}

	if txErr := sanitize(tx); txErr != nil {
		result.Err = txErr
		return result, nil
	}

	for i := range tx.Message.Instructions {
		programID := tx.Message.Accounts[tx.Message.Instructions[i].ProgramIndex]
		if !b.isProgram(programID) {
			result.Err = solana.NewTransactionError(solana.TransactionErrorProgramAccountNotFound)
			return result, nil
		}
	}

	if err := tx.VerifySignatures(); err != nil {
		result.Err = solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
		return result, nil
	}

	var writable, readonly [][]byte
	for i, key := range tx.Message.Accounts {
		if tx.Message.IsWritable(i) {
			writable = append(writable, key)
		} else {
			readonly = append(readonly, key)
		}
	}

	unlock := b.locks.LockAll(writable, readonly)
	defer unlock()

	if txErr := b.checkAge(tx.Message.RecentBlockhash, result.Signature); txErr != nil {
		result.Err = txErr
		return result, nil
	}

	loaded, maxSlot, err := b.loadAccounts(ctx, tx.Message)
	if err != nil {
		return nil, err
	}
	result.Slot = b.observeSlot(maxSlot)

	payer := loaded[0]
	if payer.Lamports == 0 && len(payer.Data) == 0 {
		result.Err = solana.NewTransactionError(solana.TransactionErrorAccountNotFound)
		return result, nil
	}
	if !payer.IsOwnedBy(system.ProgramKey[:]) || len(payer.Data) > 0 {
		result.Err = solana.NewTransactionError(solana.TransactionErrorInvalidAccountForFee)
		return result, nil
	}

	fee := b.conf.lamportsPerSignature.Get(ctx) * uint64(len(tx.Signatures))
	if payer.Lamports < fee {
		result.Err = solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
		return result, nil
	}

	working := make([]*program.AccountInfo, len(loaded))
	for i, info := range loaded {
		working[i] = cloneAccountInfo(info)
	}
	working[0].Lamports -= fee

	tc := newTransactionContext(b, tx.Message, working)
	if err := tc.execute(ctx); err != nil {
		ie, ok := err.(*solana.InstructionError)
		if !ok {
			return nil, err
		}

		txErr, err := solana.TransactionErrorFromInstructionError(ie)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert instruction error")
		}
		result.Err = txErr

		// Roll back everything except the fee.
		for i, info := range loaded {
			working[i] = cloneAccountInfo(info)
		}
		working[0].Lamports -= fee
	}
	result.Logs = tc.logs
	result.Fee = fee

	var records []*ledger.Record
	for i, info := range working {
		if !tx.Message.IsWritable(i) {
			continue
		}
		if i != 0 && accountStateEquals(info, loaded[i]) {
			continue
		}

		records = append(records, &ledger.Record{
			Address:    base58.Encode(info.Key),
			Owner:      base58.Encode(info.Owner),
			Lamports:   info.Lamports,
			Data:       info.Data,
			Executable: info.Executable,
			Slot:       result.Slot,
		})
	}

	if err := b.store.Save(ctx, records...); err != nil {
		return nil, errors.Wrap(err, "failed to commit accounts")
	}

	b.recordSignature(tx.Message.RecentBlockhash, result.Signature)
	result.Committed = true

	return result, nil
}

// sanitize performs the structural checks that do not require any state.
func sanitize(tx solana.Transaction) *solana.TransactionError {
	m := tx.Message

	if m.Header.NumSignatures == 0 {
		return solana.NewTransactionError(solana.TransactionErrorMissingSignatureForFee)
	}
	if len(tx.Signatures) != int(m.Header.NumSignatures) {
		return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}
	if int(m.Header.NumSignatures)+int(m.Header.NumReadOnly) > len(m.Accounts) {
		return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}
	if m.Header.NumReadonlySigned >= m.Header.NumSignatures {
		return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}
	if len(tx.Marshal()) > solana.MaxTransactionSize {
		return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}

	for _, ix := range m.Instructions {
		// The fee payer can never be invoked.
		if ix.ProgramIndex == 0 || int(ix.ProgramIndex) >= len(m.Accounts) {
			return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
		}
		for _, index := range ix.Accounts {
			if int(index) >= len(m.Accounts) {
				return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
			}
		}
	}

	for i := range m.Accounts {
		if len(m.Accounts[i]) != ed25519.PublicKeySize {
			return solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
		}
		for j := i + 1; j < len(m.Accounts); j++ {
			if bytes.Equal(m.Accounts[i], m.Accounts[j]) {
				return solana.NewTransactionError(solana.TransactionErrorAccountLoadedTwice)
			}
		}
	}

	return nil
}

// loadAccounts reads every account referenced by the message. Accounts the
// ledger has never seen load as empty system owned accounts.
func (b *Bank) loadAccounts(ctx context.Context, m solana.Message) ([]*program.AccountInfo, uint64, error) {
	var maxSlot uint64

	infos := make([]*program.AccountInfo, len(m.Accounts))
	for i, key := range m.Accounts {
		info := &program.AccountInfo{
			Key:        key,
			Owner:      system.ProgramKey[:],
			IsSigner:   m.IsSigner(i),
			IsWritable: m.IsWritable(i),
		}

		record, err := b.store.Get(ctx, base58.Encode(key))
		switch err {
		case nil:
			owner, err := base58.Decode(record.Owner)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "invalid owner stored for %s", record.Address)
			}

			info.Owner = owner
			info.Lamports = record.Lamports
			info.Data = record.Data
			info.Executable = record.Executable

			if record.Slot > maxSlot {
				maxSlot = record.Slot
			}
		case ledger.ErrAccountNotFound:
		default:
			return nil, 0, errors.Wrapf(err, "failed to load account %s", base58.Encode(key))
		}

		infos[i] = info
	}

	return infos, maxSlot, nil
}

func cloneAccountInfo(info *program.AccountInfo) *program.AccountInfo {
	cloned := *info
	cloned.Owner = append(ed25519.PublicKey(nil), info.Owner...)
	if info.Data != nil {
		cloned.Data = append([]byte(nil), info.Data...)
	}
	return &cloned
}

func accountStateEquals(a, b *program.AccountInfo) bool {
	return a.Lamports == b.Lamports &&
		a.Executable == b.Executable &&
		bytes.Equal(a.Owner, b.Owner) &&
		bytes.Equal(a.Data, b.Data)
}
