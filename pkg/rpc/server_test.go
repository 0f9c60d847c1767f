package rpc

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/custody-program/pkg/ledger/memory"
	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/runtime"
	"github.com/code-payments/custody-program/pkg/solana/system"
	"github.com/code-payments/custody-program/pkg/testutil"
)

const (
	testMaxAirdropLamports = 100_000_000_000
	testLamportsPerSig     = 5000
)

type testEnv struct {
	ctx    context.Context
	bank   *runtime.Bank
	server *Server
	client solana.Client
}

func setup(t *testing.T) testEnv {
	ctx := context.Background()

	bank, err := runtime.NewBank(ctx, memory.New(), runtime.WithEnvConfigs())
	require.NoError(t, err)

	server := NewServer(bank, withManualTestOverrides(&testOverrides{
		airdropsEnabled:    true,
		maxAirdropLamports: testMaxAirdropLamports,
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = server.Shutdown(context.Background())
	})

	client := solana.New("http://" + ln.Addr().String())
	require.NoError(t, testutil.WaitFor(5*time.Second, 50*time.Millisecond, func() bool {
		_, err := client.GetSlot(solana.CommitmentProcessed)
		return err == nil
	}))

	return testEnv{
		ctx:    ctx,
		bank:   bank,
		server: server,
		client: client,
	}
}

// call posts a raw JSON-RPC request through the fiber app without a network
// round trip.
func (e testEnv) call(t *testing.T, body string) *response {
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.server.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded response
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, jsonRPCVersion, decoded.JSONRPC)
	return &decoded
}

func TestServer_Health(t *testing.T) {
	env := setup(t)

	resp, err := env.server.app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	decoded := env.call(t, `{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)
	require.Nil(t, decoded.Error)
	assert.JSONEq(t, `"ok"`, string(decoded.Result))
	assert.JSONEq(t, `1`, string(decoded.ID))
}

func TestServer_ProtocolErrors(t *testing.T) {
	env := setup(t)

	for _, tc := range []struct {
		body string
		code int
	}{
		{`{not json`, parseErrorCode},
		{`{"jsonrpc":"1.0","id":1,"method":"getSlot"}`, invalidRequestCode},
		{`{"jsonrpc":"2.0","id":1,"method":"getVoteAccounts"}`, methodNotFoundCode},
		{`{"jsonrpc":"2.0","id":1,"method":"getSlot","params":{"commitment":"processed"}}`, invalidParamsCode},
		{`{"jsonrpc":"2.0","id":1,"method":"getBalance","params":[]}`, invalidParamsCode},
		{`{"jsonrpc":"2.0","id":1,"method":"getBalance","params":["not-a-key"]}`, invalidParamsCode},
		{`{"jsonrpc":"2.0","id":1,"method":"getAccountInfo","params":["11111111111111111111111111111111",{"encoding":"jsonParsed"}]}`, invalidParamsCode},
		{`{"jsonrpc":"2.0","id":1,"method":"sendTransaction","params":["!!!"]}`, invalidParamsCode},
		{`{"jsonrpc":"2.0","id":1,"method":"sendTransaction","params":["AQ==",{"encoding":"base64"}]}`, invalidParamsCode},
		{`{"jsonrpc":"2.0","id":1,"method":"getMinimumBalanceForRentExemption","params":["eight"]}`, invalidParamsCode},
	} {
		decoded := env.call(t, tc.body)
		require.NotNil(t, decoded.Error, tc.body)
		assert.Equal(t, tc.code, decoded.Error.Code, tc.body)
		assert.Empty(t, decoded.Result, tc.body)
	}
}

func TestServer_Airdrop(t *testing.T) {
	env := setup(t)

	key := testutil.GenerateSolanaKeys(t, 1)[0]

	balance, err := env.client.GetBalance(key)
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = env.client.GetAccountInfo(key, solana.CommitmentProcessed)
	assert.Equal(t, solana.ErrNoAccountInfo, err)

	sig, err := env.client.RequestAirdrop(key, 1_000_000_000, solana.CommitmentProcessed)
	require.NoError(t, err)
	assert.NotEqual(t, solana.Signature{}, sig)

	balance, err = env.client.GetBalance(key)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000_000, balance)

	info, err := env.client.GetAccountInfo(key, solana.CommitmentProcessed)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000_000, info.Lamports)
	assert.EqualValues(t, system.ProgramKey[:], info.Owner)
	assert.Empty(t, info.Data)
	assert.False(t, info.Executable)

	_, err = env.client.RequestAirdrop(key, testMaxAirdropLamports+1, solana.CommitmentProcessed)
	assert.Error(t, err)
}

func TestServer_AirdropsDisabled(t *testing.T) {
	env := setup(t)
	env.server.conf = withManualTestOverrides(&testOverrides{
		airdropsEnabled:    false,
		maxAirdropLamports: testMaxAirdropLamports,
	})()

	key := testutil.GenerateSolanaKeys(t, 1)[0]
	decoded := env.call(t, `{"jsonrpc":"2.0","id":"a","method":"requestAirdrop","params":["`+base58.Encode(key)+`",1000]}`)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, invalidRequestCode, decoded.Error.Code)
}

func TestServer_ChainState(t *testing.T) {
	env := setup(t)

	slot, err := env.client.GetSlot(solana.CommitmentProcessed)
	require.NoError(t, err)
	assert.Equal(t, env.bank.Slot(), slot)

	env.bank.AdvanceSlot()

	slot, err = env.client.GetSlot(solana.CommitmentProcessed)
	require.NoError(t, err)
	assert.Equal(t, env.bank.Slot(), slot)

	blockhash, err := env.client.GetLatestBlockhash()
	require.NoError(t, err)
	assert.Equal(t, env.bank.LatestBlockhash(), blockhash)

	lamports, err := env.client.GetMinimumBalanceForRentExemption(8)
	require.NoError(t, err)
	assert.EqualValues(t, 946560, lamports)

	decoded := env.call(t, `{"jsonrpc":"2.0","id":1,"method":"getLatestBlockhash"}`)
	require.Nil(t, decoded.Error)

	var result struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	require.NoError(t, json.Unmarshal(decoded.Result, &result))
	assert.Equal(t, env.bank.Slot(), result.Context.Slot)
	assert.Equal(t, env.bank.LatestBlockhash().String(), result.Value.Blockhash)
	assert.Equal(t, env.bank.LastValidSlot(), result.Value.LastValidBlockHeight)
}

func TestServer_SendTransaction(t *testing.T) {
	env := setup(t)

	sender := testutil.GenerateSolanaKeypair(t)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	_, err := env.bank.Airdrop(env.ctx, sender.Public().(ed25519.PublicKey), 1_000_000_000)
	require.NoError(t, err)

	tx := solana.NewTransaction(
		sender.Public().(ed25519.PublicKey),
		system.Transfer(sender.Public().(ed25519.PublicKey), receiver, 250_000_000),
	)
	tx.SetBlockhash(env.bank.LatestBlockhash())
	require.NoError(t, tx.Sign(sender))

	sig, err := env.client.SubmitTransaction(tx, solana.CommitmentProcessed)
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)

	balance, err := env.client.GetBalance(receiver)
	require.NoError(t, err)
	assert.EqualValues(t, 250_000_000, balance)

	balance, err = env.client.GetBalance(sender.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	assert.EqualValues(t, 750_000_000-testLamportsPerSig, balance)

	// Replaying the same transaction is rejected without a fee.
	_, err = env.client.SubmitTransaction(tx, solana.CommitmentProcessed)
	require.Error(t, err)
	txErr, ok := err.(*solana.TransactionError)
	require.True(t, ok)
	assert.Equal(t, solana.TransactionErrorDuplicateSignature, txErr.ErrorKey())

	// A failed instruction is reported with its index and the program logs.
	tx = solana.NewTransaction(
		sender.Public().(ed25519.PublicKey),
		system.Transfer(sender.Public().(ed25519.PublicKey), receiver, 10_000_000_000),
	)
	tx.SetBlockhash(env.bank.LatestBlockhash())
	require.NoError(t, tx.Sign(sender))

	decoded := env.call(t, `{"jsonrpc":"2.0","id":7,"method":"sendTransaction","params":["`+base64.StdEncoding.EncodeToString(tx.Marshal())+`",{"encoding":"base64"}]}`)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, sendTransactionPreflightFailureCode, decoded.Error.Code)

	data, ok := decoded.Error.Data.(map[string]interface{})
	require.True(t, ok)
	encodedErr, err := json.Marshal(data["err"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"InstructionError":[0,"InsufficientFunds"]}`, string(encodedErr))
	assert.NotEmpty(t, data["logs"])

	balance, err = env.client.GetBalance(sender.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	assert.EqualValues(t, 750_000_000-2*testLamportsPerSig, balance)
}

func TestServer_GetProgramAccounts(t *testing.T) {
	env := setup(t)

	keys := testutil.GenerateSolanaKeys(t, 3)
	for _, key := range keys {
		_, err := env.bank.Airdrop(env.ctx, key, 1)
		require.NoError(t, err)
	}

	decoded := env.call(t, `{"jsonrpc":"2.0","id":1,"method":"getProgramAccounts","params":["`+base58.Encode(system.ProgramKey[:])+`",{"encoding":"base58"}]}`)
	require.Nil(t, decoded.Error)

	var accounts []keyedAccountValue
	require.NoError(t, json.Unmarshal(decoded.Result, &accounts))

	byAddress := make(map[string]*accountValue)
	for _, account := range accounts {
		byAddress[account.Pubkey] = account.Account
	}
	for _, key := range keys {
		account, ok := byAddress[base58.Encode(key)]
		require.True(t, ok)
		assert.EqualValues(t, 1, account.Lamports)
		assert.Equal(t, encodingBase58, account.Data[1])
	}
}
