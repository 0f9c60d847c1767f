package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Taken from: https://github.com/solana-labs/solana/blob/14339dec0a960e8161d1165b6a8e5cfb73e78f23/sdk/src/transaction.rs#L523
const rustGenerated = "AUc7Cbu+gZalFSGeSFdukHhP7oSGaSdmdNEd5ZokaSysdoMWfIOzjrAbdaBZZuDMAfyNAogAJdrhgVya+jthsgoBAAEDnON0wdcmjhYIDuXvd10F2qEjAyEAJGSe/CGhYbk+WWMBAQEEBQYHCAkJCQkJCQkJCQkJCQkJCQkIBwYFBAEBAQICAgQFBgcICQEBAQEBAQEBAQEBAQEBCQgHBgUEAgICAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABAgIAAQMBAgM="

// The above example does not have the correct public key encoded in the keypair.
// This is the above example with the correctly generated keypair.
const rustGeneratedAdjusted = "ATMfBMZ8phHEheLph8K9TJhRKhnE4qNZvWiXdUdJRmlTCRsQjWmW2CkQJeRHBCcsqFm2gynjL40M9mTe0Dxp4QIBAAEDfEya6wnC7f3Cv53qnOEywwIJ928rIdqAlfXYI1adXroBAQEEBQYHCAkJCQkJCQkJCQkJCQkJCQkIBwYFBAEBAQICAgQFBgcICQEBAQEBAQEBAQEBAQEBCQgHBgUEAgICAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABAgIAAQMBAgM="

func TestTransaction_CrossImpl(t *testing.T) {
	keypair := ed25519.PrivateKey{48, 83, 2, 1, 1, 48, 5, 6, 3, 43, 101, 112, 4, 34, 4, 32, 255, 101, 36, 24, 124, 23,
		167, 21, 132, 204, 155, 5, 185, 58, 121, 75, 156, 227, 116, 193, 215, 38, 142, 22, 8,
		14, 229, 239, 119, 93, 5, 218, 161, 35, 3, 33, 0, 36, 100, 158, 252, 33, 161, 97, 185,
		62, 89, 99}
	programID := ed25519.PublicKey{2, 2, 2, 4, 5, 6, 7, 8, 9, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 9, 8, 7, 6, 5, 4,
		2, 2, 2}
	to := ed25519.PublicKey{1, 1, 1, 4, 5, 6, 7, 8, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 8, 7, 6, 5, 4, 1, 1, 1}

	tx := NewTransaction(
		keypair.Public().(ed25519.PublicKey),
		NewInstruction(
			programID,
			[]byte{1, 2, 3},
			NewAccountMeta(keypair.Public().(ed25519.PublicKey), true),
			NewAccountMeta(to, false),
		),
	)
	require.NoError(t, tx.Sign(keypair))

	generated, err := base64.StdEncoding.DecodeString(rustGenerated)
	require.NoError(t, err)
	assert.Equal(t, generated, tx.Marshal())
}

func TestTransaction_GenerateValidCrossImpl(t *testing.T) {
	keypair := ed25519.NewKeyFromSeed([]byte{48, 83, 2, 1, 1, 48, 5, 6, 3, 43, 101, 112, 4, 34, 4, 32, 255, 101, 36, 24, 124, 23,
		167, 21, 132, 204, 155, 5, 185, 58, 121, 75})
	programID := ed25519.PublicKey{2, 2, 2, 4, 5, 6, 7, 8, 9, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 9, 8, 7, 6, 5, 4,
		2, 2, 2}
	to := ed25519.PublicKey{1, 1, 1, 4, 5, 6, 7, 8, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 8, 7, 6, 5, 4, 1, 1, 1}

	tx := NewTransaction(
		keypair.Public().(ed25519.PublicKey),
		NewInstruction(
			programID,
			[]byte{1, 2, 3},
			NewAccountMeta(keypair.Public().(ed25519.PublicKey), true),
			NewAccountMeta(to, false),
		),
	)
	require.NoError(t, tx.Sign(keypair))
	assert.Equal(t, rustGeneratedAdjusted, base64.StdEncoding.EncodeToString(tx.Marshal()))
}

func TestTransaction_MarshalRoundTrip(t *testing.T) {
	payer, payerKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	program, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	to, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := NewTransaction(
		payer,
		NewInstruction(program, []byte{0, 1, 2, 3}, NewAccountMeta(payer, true), NewAccountMeta(to, false)),
		NewInstruction(program, []byte{1}, NewReadonlyAccountMeta(to, false)),
	)
	tx.SetBlockhash(Blockhash{1, 2, 3})
	require.NoError(t, tx.Sign(payerKey))

	var actual Transaction
	require.NoError(t, actual.Unmarshal(tx.Marshal()))
	assert.Equal(t, tx.Signatures, actual.Signatures)
	assert.Equal(t, tx.Message.Header, actual.Message.Header)
	assert.Equal(t, tx.Message.Accounts, actual.Message.Accounts)
	assert.Equal(t, tx.Message.RecentBlockhash, actual.Message.RecentBlockhash)
	require.Len(t, actual.Message.Instructions, 2)
	assert.Equal(t, []byte{0, 1, 2, 3}, actual.Message.Instructions[0].Data)
	assert.Equal(t, []byte{1}, actual.Message.Instructions[1].Data)
	assert.NoError(t, actual.VerifySignatures())
}

func TestTransaction_AccountPermissions(t *testing.T) {
	payer, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	writable, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	readonly, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	program, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := NewTransaction(
		payer,
		NewInstruction(
			program,
			nil,
			NewReadonlyAccountMeta(readonly, false),
			NewAccountMeta(writable, false),
			NewReadonlyAccountMeta(signer, true),
		),
	)

	m := tx.Message
	assert.EqualValues(t, 2, m.Header.NumSignatures)
	assert.EqualValues(t, 1, m.Header.NumReadonlySigned)
	assert.EqualValues(t, 2, m.Header.NumReadOnly)
	assert.Len(t, tx.Signatures, 2)

	expected := []struct {
		key      ed25519.PublicKey
		signer   bool
		writable bool
	}{
		{payer, true, true},
		{signer, true, false},
		{writable, false, true},
		{readonly, false, false},
		{program, false, false},
	}
	for _, e := range expected {
		i := indexOf(m.Accounts, e.key)
		require.True(t, i >= 0)
		assert.Equal(t, e.signer, m.IsSigner(i))
		assert.Equal(t, e.writable, m.IsWritable(i))
	}

	assert.False(t, m.IsSigner(-1))
	assert.False(t, m.IsWritable(len(m.Accounts)))
}

func TestTransaction_DuplicateAccountsArePromoted(t *testing.T) {
	payer, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	account, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	program, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := NewTransaction(
		payer,
		NewInstruction(program, nil, NewReadonlyAccountMeta(account, false)),
		NewInstruction(program, nil, NewAccountMeta(account, false)),
	)

	assert.Len(t, tx.Message.Accounts, 3)
	assert.True(t, tx.Message.IsWritable(indexOf(tx.Message.Accounts, account)))
}

func TestMessage_Decompile(t *testing.T) {
	payer, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	custody, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	program, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	original := NewInstruction(
		program,
		[]byte{1, 2, 3},
		NewAccountMeta(payer, true),
		NewAccountMeta(custody, false),
	)
	tx := NewTransaction(payer, original)

	decompiled, err := tx.Message.Decompile(0)
	require.NoError(t, err)
	assert.Equal(t, original.Program, decompiled.Program)
	assert.Equal(t, original.Data, decompiled.Data)
	assert.Equal(t, original.Accounts, decompiled.Accounts)

	_, err = tx.Message.Decompile(1)
	assert.Error(t, err)

	tx.Message.Instructions[0].Accounts[0] = 200
	_, err = tx.Message.Decompile(0)
	assert.Error(t, err)
}

func TestTransaction_VerifySignatures(t *testing.T) {
	payer, payerKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	other, otherKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	program, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := NewTransaction(payer, NewInstruction(program, nil, NewAccountMeta(other, true)))

	assert.ErrorIs(t, tx.VerifySignatures(), ErrInvalidSignature)

	require.NoError(t, tx.Sign(payerKey))
	assert.ErrorIs(t, tx.VerifySignatures(), ErrInvalidSignature)

	require.NoError(t, tx.Sign(otherKey))
	assert.NoError(t, tx.VerifySignatures())

	tx.Message.RecentBlockhash[0] ^= 0xff
	assert.ErrorIs(t, tx.VerifySignatures(), ErrInvalidSignature)

	tx.Signatures = tx.Signatures[:1]
	assert.Equal(t, ErrMissingSignatures, tx.VerifySignatures())

	_, unknownKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	assert.Error(t, tx.Sign(unknownKey))
}

func TestMessage_UnmarshalVersioned(t *testing.T) {
	var m Message
	assert.Equal(t, ErrUnsupportedMessageVersion, m.Unmarshal([]byte{0x80, 1, 0, 0}))
	assert.Error(t, m.Unmarshal(nil))
}
