package rpc

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	"github.com/mr-tron/base58"

	"github.com/code-payments/custody-program/pkg/ledger"
	"github.com/code-payments/custody-program/pkg/solana"
)

const (
	encodingBase58 = "base58"
	encodingBase64 = "base64"
)

type contextValue struct {
	Slot uint64 `json:"slot"`
}

type valueWithContext struct {
	Context contextValue `json:"context"`
	Value   interface{}  `json:"value"`
}

type accountValue struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Data       [2]string `json:"data"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
	Space      int       `json:"space"`
}

type keyedAccountValue struct {
	Pubkey  string        `json:"pubkey"`
	Account *accountValue `json:"account"`
}

type blockhashValue struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// requestConfig is the union of the optional config objects accepted by the
// supported methods. Unknown fields are ignored.
type requestConfig struct {
	Commitment string `json:"commitment"`
	Encoding   string `json:"encoding"`
}

func (s *Server) getAccountInfo(ctx context.Context, params []json.RawMessage) (interface{}, *Error) {
	key, rpcErr := parseKeyParam(params, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	config, rpcErr := parseConfigParam(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	encoding, rpcErr := parseAccountEncoding(config)
	if rpcErr != nil {
		return nil, rpcErr
	}

	slot := s.bank.Slot()

	record, err := s.bank.GetAccount(ctx, key)
	if err == ledger.ErrAccountNotFound {
		return &valueWithContext{Context: contextValue{Slot: slot}}, nil
	} else if err != nil {
		return nil, newInternalError(err)
	}

	return &valueWithContext{
		Context: contextValue{Slot: slot},
		Value:   toAccountValue(record, encoding),
	}, nil
}

func (s *Server) getBalance(ctx context.Context, params []json.RawMessage) (interface{}, *Error) {
	key, rpcErr := parseKeyParam(params, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	slot := s.bank.Slot()

	var lamports uint64
	record, err := s.bank.GetAccount(ctx, key)
	switch err {
	case nil:
		lamports = record.Lamports
	case ledger.ErrAccountNotFound:
	default:
		return nil, newInternalError(err)
	}

	return &valueWithContext{
		Context: contextValue{Slot: slot},
		Value:   lamports,
	}, nil
}

func (s *Server) getHealth(_ context.Context, _ []json.RawMessage) (interface{}, *Error) {
	return "ok", nil
}

func (s *Server) getLatestBlockhash(_ context.Context, _ []json.RawMessage) (interface{}, *Error) {
	return &valueWithContext{
		Context: contextValue{Slot: s.bank.Slot()},
		Value: &blockhashValue{
			Blockhash:            s.bank.LatestBlockhash().String(),
			LastValidBlockHeight: s.bank.LastValidSlot(),
		},
	}, nil
}

func (s *Server) getMinimumBalanceForRentExemption(_ context.Context, params []json.RawMessage) (interface{}, *Error) {
	if len(params) < 1 {
		return nil, newInvalidParamsError("missing data size")
	}

	var size uint64
	if err := json.Unmarshal(params[0], &size); err != nil {
		return nil, newInvalidParamsError("invalid data size")
	}

	return s.bank.MinimumBalanceForRentExemption(size), nil
}

func (s *Server) getProgramAccounts(ctx context.Context, params []json.RawMessage) (interface{}, *Error) {
	program, rpcErr := parseKeyParam(params, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	config, rpcErr := parseConfigParam(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	encoding, rpcErr := parseAccountEncoding(config)
	if rpcErr != nil {
		return nil, rpcErr
	}

	records, err := s.bank.GetProgramAccounts(ctx, program)
	if err != nil {
		return nil, newInternalError(err)
	}

	accounts := make([]*keyedAccountValue, len(records))
	for i, record := range records {
		accounts[i] = &keyedAccountValue{
			Pubkey:  record.Address,
			Account: toAccountValue(record, encoding),
		}
	}
	return accounts, nil
}

func (s *Server) getSlot(_ context.Context, _ []json.RawMessage) (interface{}, *Error) {
	return s.bank.Slot(), nil
}

func (s *Server) requestAirdrop(ctx context.Context, params []json.RawMessage) (interface{}, *Error) {
	if !s.conf.airdropsEnabled.Get(ctx) {
		return nil, &Error{Code: invalidRequestCode, Message: "Airdrops are disabled"}
	}

	to, rpcErr := parseKeyParam(params, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(params) < 2 {
		return nil, newInvalidParamsError("missing lamports")
	}

	var lamports uint64
	if err := json.Unmarshal(params[1], &lamports); err != nil {
		return nil, newInvalidParamsError("invalid lamports")
	}
	if max := s.conf.maxAirdropLamports.Get(ctx); lamports > max {
		return nil, newInvalidParamsError("airdrop of %d lamports exceeds the limit of %d", lamports, max)
	}

	sig, err := s.bank.Airdrop(ctx, to, lamports)
	if err != nil {
		if txErr, ok := err.(*solana.TransactionError); ok {
			return nil, newTransactionFailedError(txErr, nil)
		}
		return nil, newInternalError(err)
	}

	return sig.String(), nil
}

func (s *Server) sendTransaction(ctx context.Context, params []json.RawMessage) (interface{}, *Error) {
	if len(params) < 1 {
		return nil, newInvalidParamsError("missing transaction")
	}

	var encoded string
	if err := json.Unmarshal(params[0], &encoded); err != nil {
		return nil, newInvalidParamsError("transaction must be a string")
	}

	config, rpcErr := parseConfigParam(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	encoding := config.Encoding
	if encoding == "" {
		encoding = encodingBase58
	}

	var raw []byte
	var err error
	switch encoding {
	case encodingBase58:
		raw, err = base58.Decode(encoded)
	case encodingBase64:
		raw, err = base64.StdEncoding.DecodeString(encoded)
	default:
		return nil, newInvalidParamsError("unsupported encoding: %s", encoding)
	}
	if err != nil {
		return nil, newInvalidParamsError("invalid %s encoded transaction", encoding)
	}
	if len(raw) > solana.MaxTransactionSize {
		return nil, newInvalidParamsError("transaction too large: %d bytes", len(raw))
	}

	var tx solana.Transaction
	if err := tx.Unmarshal(raw); err != nil {
		return nil, newInvalidParamsError("failed to deserialize transaction: %v", err)
	}
	if len(tx.Signatures) == 0 {
		return nil, newInvalidParamsError("transaction has no signatures")
	}

	result, err := s.bank.ProcessTransaction(ctx, tx)
	if err != nil {
		return nil, newInternalError(err)
	}
	if result.Err != nil {
		return nil, newTransactionFailedError(result.Err, result.Logs)
	}

	return result.Signature.String(), nil
}

func newTransactionFailedError(txErr *solana.TransactionError, logs []string) *Error {
	if logs == nil {
		logs = []string{}
	}

	return &Error{
		Code:    sendTransactionPreflightFailureCode,
		Message: "Transaction simulation failed: " + txErr.Error(),
		Data: map[string]interface{}{
			"err":  txErr.Raw(),
			"logs": logs,
		},
	}
}

func toAccountValue(record *ledger.Record, encoding string) *accountValue {
	var data string
	if encoding == encodingBase58 {
		data = base58.Encode(record.Data)
	} else {
		data = base64.StdEncoding.EncodeToString(record.Data)
	}

	return &accountValue{
		Lamports:   record.Lamports,
		Owner:      record.Owner,
		Data:       [2]string{data, encoding},
		Executable: record.Executable,
		Space:      len(record.Data),
	}
}

func parseKeyParam(params []json.RawMessage, index int) (ed25519.PublicKey, *Error) {
	if len(params) <= index {
		return nil, newInvalidParamsError("missing address")
	}

	var encoded string
	if err := json.Unmarshal(params[index], &encoded); err != nil {
		return nil, newInvalidParamsError("address must be a string")
	}

	decoded, err := base58.Decode(encoded)
	if err != nil || len(decoded) != ed25519.PublicKeySize {
		return nil, newInvalidParamsError("invalid address: %s", encoded)
	}
	return decoded, nil
}

func parseConfigParam(params []json.RawMessage, index int) (*requestConfig, *Error) {
	var config requestConfig
	if len(params) <= index || string(params[index]) == "null" {
		return &config, nil
	}

	if err := json.Unmarshal(params[index], &config); err != nil {
		return nil, newInvalidParamsError("invalid config object")
	}
	return &config, nil
}

func parseAccountEncoding(config *requestConfig) (string, *Error) {
	switch config.Encoding {
	case "", encodingBase64:
		return encodingBase64, nil
	case encodingBase58:
		return encodingBase58, nil
	default:
		return "", newInvalidParamsError("unsupported encoding: %s", config.Encoding)
	}
}
