package custody

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/custody-program/pkg/ledger"
	"github.com/code-payments/custody-program/pkg/ledger/memory"
	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/program"
	"github.com/code-payments/custody-program/pkg/solana/runtime"
	"github.com/code-payments/custody-program/pkg/solana/system"
	"github.com/code-payments/custody-program/pkg/testutil"
)

const (
	fee         = 5000
	userFunding = 10_000_000_000
)

type testEnv struct {
	ctx   context.Context
	bank  *runtime.Bank
	store ledger.Store
}

func setup(t *testing.T) testEnv {
	ctx := context.Background()
	store := memory.New()

	bank, err := runtime.NewBank(ctx, store, runtime.WithEnvConfigs())
	require.NoError(t, err)
	require.NoError(t, bank.RegisterProgram(ctx, PROGRAM_ID, ProcessInstruction))

	return testEnv{
		ctx:   ctx,
		bank:  bank,
		store: store,
	}
}

func (e testEnv) newUser(t *testing.T) ed25519.PrivateKey {
	user := testutil.GenerateSolanaKeypair(t)

	_, err := e.bank.Airdrop(e.ctx, user.Public().(ed25519.PublicKey), userFunding)
	require.NoError(t, err)

	return user
}

func (e testEnv) submit(t *testing.T, payer ed25519.PrivateKey, instructions ...solana.Instruction) *runtime.TransactionResult {
	e.bank.AdvanceSlot()

	tx := solana.NewTransaction(payer.Public().(ed25519.PublicKey), instructions...)
	tx.SetBlockhash(e.bank.LatestBlockhash())
	require.NoError(t, tx.Sign(payer))

	result, err := e.bank.ProcessTransaction(e.ctx, tx)
	require.NoError(t, err)
	require.True(t, result.Committed)
	return result
}

func (e testEnv) deposit(t *testing.T, user ed25519.PrivateKey, amount uint64) *runtime.TransactionResult {
	return e.submit(t, user, NewDepositInstruction(custodyAccounts(t, user), &DepositInstructionArgs{Amount: amount}))
}

func (e testEnv) withdraw(t *testing.T, user ed25519.PrivateKey, amount uint64) *runtime.TransactionResult {
	return e.submit(t, user, NewWithdrawInstruction(custodyAccounts(t, user), &WithdrawInstructionArgs{Amount: amount}))
}

// snapshot captures the lamports of the user and their custody account and
// the custody account's recorded balance.
type snapshot struct {
	user     uint64
	custody  uint64
	recorded uint64
	data     []byte
}

func (e testEnv) snapshot(t *testing.T, user ed25519.PrivateKey) snapshot {
	var s snapshot

	record, err := e.bank.GetAccount(e.ctx, user.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	s.user = record.Lamports

	record, err = e.bank.GetAccount(e.ctx, custodyAccounts(t, user).Custody)
	if err == ledger.ErrAccountNotFound {
		return s
	}
	require.NoError(t, err)

	s.custody = record.Lamports
	s.data = record.Data

	var state CustodyAccount
	if state.Unmarshal(record.Data) == nil {
		s.recorded = state.Balance
	}
	return s
}

func custodyAccounts(t *testing.T, user ed25519.PrivateKey) *CustodyInstructionAccounts {
	owner := user.Public().(ed25519.PublicKey)

	address, _, err := GetCustodyAddress(&GetCustodyAddressArgs{Owner: owner})
	require.NoError(t, err)

	return &CustodyInstructionAccounts{
		Owner:   owner,
		Custody: address,
	}
}

func requireInstructionError(t *testing.T, result *runtime.TransactionResult, key solana.InstructionErrorKey) {
	require.NotNil(t, result.Err)
	require.NotNil(t, result.Err.InstructionError(), result.Err.Error())
	assert.Equal(t, 0, result.Err.InstructionError().Index)
	assert.Equal(t, key, result.Err.InstructionError().ErrorKey())
}

func requireCustomError(t *testing.T, result *runtime.TransactionResult, expected solana.CustomError) {
	requireInstructionError(t, result, solana.InstructionErrorCustom)
	assert.Equal(t, expected, *result.Err.InstructionError().CustomError())
}

// assertOnlyFeeCharged checks that nothing but the transaction fee changed.
func assertOnlyFeeCharged(t *testing.T, before, after snapshot) {
	assert.Equal(t, before.user-fee, after.user)
	assert.Equal(t, before.custody, after.custody)
	assert.Equal(t, before.recorded, after.recorded)
	assert.Equal(t, before.data, after.data)
}

func TestDeposit_CreatesCustodyAccount(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	result := env.deposit(t, user, 1_000)
	require.Nil(t, result.Err)

	assert.Contains(t, result.Logs, "Program log: Instruction: Deposit")
	assert.Contains(t, result.Logs, "Program log: Successful deposit of 1000")
	assert.Contains(t, result.Logs, "Program 11111111111111111111111111111111 invoke [2]")

	record, err := env.bank.GetAccount(env.ctx, custodyAccounts(t, user).Custody)
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(PROGRAM_ID), record.Owner)
	assert.Len(t, record.Data, CustodyAccountSize)

	after := env.snapshot(t, user)
	assert.EqualValues(t, userFunding-1_000-fee, after.user)
	assert.EqualValues(t, 1_000, after.custody)
	assert.EqualValues(t, 1_000, after.recorded)
}

func TestDeposit_Conservation(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	var total uint64
	for _, amount := range []uint64{1, 0, 500, 1_000_000_000} {
		before := env.snapshot(t, user)

		result := env.deposit(t, user, amount)
		require.Nil(t, result.Err)
		total += amount

		after := env.snapshot(t, user)
		assert.Equal(t, before.user-amount-fee, after.user)
		assert.Equal(t, before.custody+amount, after.custody)
		assert.Equal(t, total, after.recorded)
		assert.Equal(t, after.custody, after.recorded)
	}
}

func TestDeposit_PrefundedCustodyAccount(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)
	address := custodyAccounts(t, user).Custody

	_, err := env.bank.Airdrop(env.ctx, address, 777)
	require.NoError(t, err)

	result := env.deposit(t, user, 1_000)
	require.Nil(t, result.Err)

	after := env.snapshot(t, user)
	assert.EqualValues(t, 1_777, after.custody)
	assert.EqualValues(t, 1_000, after.recorded)

	record, err := env.bank.GetAccount(env.ctx, address)
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(PROGRAM_ID), record.Owner)

	result = env.withdraw(t, user, 1_000)
	require.Nil(t, result.Err)

	after = env.snapshot(t, user)
	assert.EqualValues(t, 777, after.custody)
	assert.EqualValues(t, 0, after.recorded)
}

func TestDeposit_InsufficientFunds(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	before := env.snapshot(t, user)

	result := env.deposit(t, user, userFunding)
	requireInstructionError(t, result, solana.InstructionErrorInsufficientFunds)

	assertOnlyFeeCharged(t, before, env.snapshot(t, user))

	_, err := env.bank.GetAccount(env.ctx, custodyAccounts(t, user).Custody)
	assert.Equal(t, ledger.ErrAccountNotFound, err)
}

func TestDeposit_Overflow(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	require.Nil(t, env.deposit(t, user, 1).Err)

	record, err := env.store.Get(env.ctx, base58.Encode(custodyAccounts(t, user).Custody))
	require.NoError(t, err)

	state := CustodyAccount{Balance: math.MaxUint64}
	record.Data = state.Marshal()
	require.NoError(t, env.store.Save(env.ctx, record))

	before := env.snapshot(t, user)

	result := env.deposit(t, user, 1)
	requireCustomError(t, result, ErrArithmeticOverflow)

	assertOnlyFeeCharged(t, before, env.snapshot(t, user))
}

func TestWithdraw_RoundTrip(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	require.Nil(t, env.deposit(t, user, 1_000_000).Err)

	before := env.snapshot(t, user)

	result := env.withdraw(t, user, 400_000)
	require.Nil(t, result.Err)
	assert.Contains(t, result.Logs, "Program log: Instruction: Withdraw")
	assert.Contains(t, result.Logs, "Program log: Successful withdraw of 400000")

	after := env.snapshot(t, user)
	assert.Equal(t, before.user+400_000-fee, after.user)
	assert.Equal(t, before.custody-400_000, after.custody)
	assert.EqualValues(t, 600_000, after.recorded)
}

func TestWithdraw_ExactBalance(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	require.Nil(t, env.deposit(t, user, 1_000).Err)
	require.Nil(t, env.withdraw(t, user, 1_000).Err)

	after := env.snapshot(t, user)
	assert.EqualValues(t, 0, after.custody)
	assert.EqualValues(t, 0, after.recorded)
	assert.EqualValues(t, userFunding-2*fee, after.user)

	before := after
	result := env.withdraw(t, user, 1)
	requireInstructionError(t, result, solana.InstructionErrorInsufficientFunds)
	assertOnlyFeeCharged(t, before, env.snapshot(t, user))
}

func TestWithdraw_InsufficientRecordedBalance(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	require.Nil(t, env.deposit(t, user, 1_000).Err)

	// Lamports sent directly to the custody account are not withdrawable.
	_, err := env.bank.Airdrop(env.ctx, custodyAccounts(t, user).Custody, 5_000)
	require.NoError(t, err)

	before := env.snapshot(t, user)

	result := env.withdraw(t, user, 1_001)
	requireInstructionError(t, result, solana.InstructionErrorInsufficientFunds)
	assertOnlyFeeCharged(t, before, env.snapshot(t, user))
}

// saveCustodyAccount writes a program owned custody account for user with the
// given lamports and recorded balance.
func (e testEnv) saveCustodyAccount(t *testing.T, user ed25519.PrivateKey, lamports, balance uint64) {
	state := CustodyAccount{Balance: balance}
	require.NoError(t, e.store.Save(e.ctx, &ledger.Record{
		Address:  base58.Encode(custodyAccounts(t, user).Custody),
		Owner:    base58.Encode(PROGRAM_ID),
		Lamports: lamports,
		Data:     state.Marshal(),
		Slot:     e.bank.Slot(),
	}))
}

func TestWithdraw_RecordedBalanceExceedsLamports(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	env.saveCustodyAccount(t, user, 500, 1_000)

	before := env.snapshot(t, user)
	require.EqualValues(t, 1_000, before.recorded)

	result := env.withdraw(t, user, 600)
	requireInstructionError(t, result, solana.InstructionErrorInsufficientFunds)
	assertOnlyFeeCharged(t, before, env.snapshot(t, user))

	require.Nil(t, env.withdraw(t, user, 500).Err)

	after := env.snapshot(t, user)
	assert.EqualValues(t, 0, after.custody)
	assert.EqualValues(t, 500, after.recorded)
}

func TestWithdraw_UserLamportsOverflow(t *testing.T) {
	env := setup(t)

	user := testutil.GenerateSolanaKeypair(t)
	require.NoError(t, env.store.Save(env.ctx, &ledger.Record{
		Address:  base58.Encode(user.Public().(ed25519.PublicKey)),
		Owner:    base58.Encode(system.ProgramKey[:]),
		Lamports: math.MaxUint64 - 10,
		Slot:     env.bank.Slot(),
	}))
	env.saveCustodyAccount(t, user, 10_000, 10_000)

	before := env.snapshot(t, user)

	result := env.withdraw(t, user, 6_000)
	requireCustomError(t, result, ErrArithmeticOverflow)
	assertOnlyFeeCharged(t, before, env.snapshot(t, user))

	require.Nil(t, env.withdraw(t, user, 1_000).Err)
	assert.EqualValues(t, 9_000, env.snapshot(t, user).recorded)
}

func TestWithdraw_UnrelatedUser(t *testing.T) {
	env := setup(t)
	owner := env.newUser(t)
	other := env.newUser(t)

	require.Nil(t, env.deposit(t, owner, 1_000).Err)

	ownerBefore := env.snapshot(t, owner)
	otherBefore := env.snapshot(t, other)

	result := env.submit(t, other, NewWithdrawInstruction(&WithdrawInstructionAccounts{
		Owner:   other.Public().(ed25519.PublicKey),
		Custody: custodyAccounts(t, owner).Custody,
	}, &WithdrawInstructionArgs{Amount: 1}))
	requireInstructionError(t, result, solana.InstructionErrorInvalidAccountData)

	assert.Equal(t, ownerBefore, env.snapshot(t, owner))
	assert.Equal(t, otherBefore.user-fee, env.snapshot(t, other).user)

	// Depositing into someone else's custody account is rejected too.
	result = env.submit(t, other, NewDepositInstruction(&DepositInstructionAccounts{
		Owner:   other.Public().(ed25519.PublicKey),
		Custody: custodyAccounts(t, owner).Custody,
	}, &DepositInstructionArgs{Amount: 1}))
	requireInstructionError(t, result, solana.InstructionErrorInvalidAccountData)
}

func TestWithdraw_IncorrectOwner(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	before := env.snapshot(t, user)

	result := env.withdraw(t, user, 0)
	requireInstructionError(t, result, solana.InstructionErrorIncorrectProgramID)
	assert.Contains(t, result.Logs, "Program log: Error: incorrect program owner")

	assertOnlyFeeCharged(t, before, env.snapshot(t, user))
}

func TestWithdraw_ShortAccountData(t *testing.T) {
	for _, amount := range []uint64{0, 1, 1_000} {
		t.Run(fmt.Sprintf("amount=%d", amount), func(t *testing.T) {
			env := setup(t)
			user := env.newUser(t)

			require.NoError(t, env.store.Save(env.ctx, &ledger.Record{
				Address:  base58.Encode(custodyAccounts(t, user).Custody),
				Owner:    base58.Encode(PROGRAM_ID),
				Lamports: 1_000_000,
				Data:     []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
				Slot:     env.bank.Slot(),
			}))

			before := env.snapshot(t, user)

			result := env.withdraw(t, user, amount)
			requireInstructionError(t, result, solana.InstructionErrorInvalidAccountData)
			assertOnlyFeeCharged(t, before, env.snapshot(t, user))

			result = env.deposit(t, user, amount)
			requireInstructionError(t, result, solana.InstructionErrorInvalidAccountData)
		})
	}
}

func TestUnknownOpcode(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)

	require.Nil(t, env.deposit(t, user, 1_000).Err)

	for _, opcode := range []byte{2, 7, 255} {
		before := env.snapshot(t, user)

		ix := NewWithdrawInstruction(custodyAccounts(t, user), &WithdrawInstructionArgs{Amount: 1_000})
		ix.Data[0] = opcode

		result := env.submit(t, user, ix)
		require.Nil(t, result.Err)
		assert.Contains(t, result.Logs, "Program log: Error: unknown instruction")

		assertOnlyFeeCharged(t, before, env.snapshot(t, user))
	}
}

func TestInstructionValidation(t *testing.T) {
	env := setup(t)
	user := env.newUser(t)
	accounts := custodyAccounts(t, user)

	require.Nil(t, env.deposit(t, user, 1_000).Err)

	for _, tc := range []struct {
		name     string
		ix       solana.Instruction
		expected solana.InstructionErrorKey
		custom   solana.CustomError
	}{
		{
			name:     "empty payload",
			ix:       solana.NewInstruction(PROGRAM_ID, nil),
			expected: solana.InstructionErrorInvalidInstructionData,
		},
		{
			name: "short body",
			ix: solana.NewInstruction(
				PROGRAM_ID,
				[]byte{byte(OpcodeWithdraw), 1, 0, 0, 0, 0, 0, 0},
				solana.NewAccountMeta(accounts.Owner, true),
				solana.NewAccountMeta(accounts.Custody, false),
				solana.NewReadonlyAccountMeta(SYSTEM_PROGRAM_ID, false),
			),
			expected: solana.InstructionErrorInvalidInstructionData,
		},
		{
			name: "missing system program",
			ix: solana.NewInstruction(
				PROGRAM_ID,
				[]byte{byte(OpcodeDeposit), 1, 0, 0, 0, 0, 0, 0, 0},
				solana.NewAccountMeta(accounts.Owner, true),
				solana.NewAccountMeta(accounts.Custody, false),
			),
			expected: solana.InstructionErrorNotEnoughAccountKeys,
		},
		{
			name: "wrong system program",
			ix: solana.NewInstruction(
				PROGRAM_ID,
				[]byte{byte(OpcodeDeposit), 1, 0, 0, 0, 0, 0, 0, 0},
				solana.NewAccountMeta(accounts.Owner, true),
				solana.NewAccountMeta(accounts.Custody, false),
				solana.NewReadonlyAccountMeta(PROGRAM_ID, false),
			),
			expected: solana.InstructionErrorIncorrectProgramID,
		},
		{
			name: "readonly custody account with short body",
			ix: solana.NewInstruction(
				PROGRAM_ID,
				[]byte{byte(OpcodeDeposit), 1},
				solana.NewAccountMeta(accounts.Owner, true),
				solana.NewReadonlyAccountMeta(accounts.Custody, false),
				solana.NewReadonlyAccountMeta(SYSTEM_PROGRAM_ID, false),
			),
			expected: solana.InstructionErrorCustom,
			custom:   ErrCustodyNotWritable,
		},
		{
			name: "readonly custody account without system program",
			ix: solana.NewInstruction(
				PROGRAM_ID,
				[]byte{byte(OpcodeWithdraw), 1, 0, 0, 0, 0, 0, 0, 0},
				solana.NewAccountMeta(accounts.Owner, true),
				solana.NewReadonlyAccountMeta(accounts.Custody, false),
			),
			expected: solana.InstructionErrorCustom,
			custom:   ErrCustodyNotWritable,
		},
		{
			name: "readonly custody account",
			ix: solana.NewInstruction(
				PROGRAM_ID,
				[]byte{byte(OpcodeWithdraw), 1, 0, 0, 0, 0, 0, 0, 0},
				solana.NewAccountMeta(accounts.Owner, true),
				solana.NewReadonlyAccountMeta(accounts.Custody, false),
				solana.NewReadonlyAccountMeta(SYSTEM_PROGRAM_ID, false),
			),
			expected: solana.InstructionErrorCustom,
			custom:   ErrCustodyNotWritable,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := env.snapshot(t, user)

			result := env.submit(t, user, tc.ix)
			requireInstructionError(t, result, tc.expected)
			if tc.expected == solana.InstructionErrorCustom {
				assert.Equal(t, tc.custom, *result.Err.InstructionError().CustomError())
			}

			assertOnlyFeeCharged(t, before, env.snapshot(t, user))
		})
	}
}

type fakeHost struct {
	logs    []string
	invoked []solana.Instruction
}

func (h *fakeHost) Log(format string, args ...interface{}) {
	h.logs = append(h.logs, fmt.Sprintf(format, args...))
}

func (h *fakeHost) Invoke(ctx context.Context, ix solana.Instruction, accounts []*program.AccountInfo) error {
	return h.InvokeSigned(ctx, ix, accounts)
}

func (h *fakeHost) InvokeSigned(_ context.Context, ix solana.Instruction, _ []*program.AccountInfo, _ ...[][]byte) error {
	h.invoked = append(h.invoked, ix)
	return nil
}

func TestProcessInstruction_Dispatch(t *testing.T) {
	owner := testutil.GenerateSolanaKeys(t, 1)[0]
	address, _, err := GetCustodyAddress(&GetCustodyAddressArgs{Owner: owner})
	require.NoError(t, err)

	state := CustodyAccount{Balance: 10}
	newAccounts := func() []*program.AccountInfo {
		return []*program.AccountInfo{
			{Key: owner, Owner: SYSTEM_PROGRAM_ID, Lamports: 100, IsSigner: true, IsWritable: true},
			{Key: address, Owner: PROGRAM_ID, Lamports: 10, Data: state.Marshal(), IsWritable: true},
			{Key: SYSTEM_PROGRAM_ID, Owner: SYSTEM_PROGRAM_ID, Executable: true},
		}
	}

	host := &fakeHost{}
	assert.Equal(t, program.ErrInvalidInstructionData, ProcessInstruction(context.Background(), host, PROGRAM_ID, newAccounts(), nil))
	assert.Empty(t, host.logs)

	host = &fakeHost{}
	require.NoError(t, ProcessInstruction(context.Background(), host, PROGRAM_ID, nil, []byte{9}))
	assert.Equal(t, []string{"Error: unknown instruction"}, host.logs)

	host = &fakeHost{}
	accounts := newAccounts()
	ix := NewWithdrawInstruction(&WithdrawInstructionAccounts{Owner: owner, Custody: address}, &WithdrawInstructionArgs{Amount: 4})
	require.NoError(t, ProcessInstruction(context.Background(), host, PROGRAM_ID, accounts, ix.Data))
	assert.Equal(t, []string{"Instruction: Withdraw", "Successful withdraw of 4"}, host.logs)
	assert.Empty(t, host.invoked)
	assert.EqualValues(t, 104, accounts[0].Lamports)
	assert.EqualValues(t, 6, accounts[1].Lamports)

	var updated CustodyAccount
	require.NoError(t, updated.Unmarshal(accounts[1].Data))
	assert.EqualValues(t, 6, updated.Balance)

	host = &fakeHost{}
	accounts = newAccounts()
	ix = NewDepositInstruction(&DepositInstructionAccounts{Owner: owner, Custody: address}, &DepositInstructionArgs{Amount: 5})
	require.NoError(t, ProcessInstruction(context.Background(), host, PROGRAM_ID, accounts, ix.Data))
	assert.Equal(t, []string{"Instruction: Deposit", "Successful deposit of 5"}, host.logs)
	require.Len(t, host.invoked, 1)

	lamports, err := system.ParseTransferData(host.invoked[0].Data)
	require.NoError(t, err)
	assert.EqualValues(t, 5, lamports)
	assert.EqualValues(t, owner, host.invoked[0].Accounts[0].PublicKey)
	assert.EqualValues(t, address, host.invoked[0].Accounts[1].PublicKey)

	require.NoError(t, updated.Unmarshal(accounts[1].Data))
	assert.EqualValues(t, 15, updated.Balance)
}
