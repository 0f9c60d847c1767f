package custody

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/code-payments/custody-program/pkg/solana/program"
	"github.com/code-payments/custody-program/pkg/solana/system"
)

// ProcessInstruction is the custody program entrypoint.
//
// Unknown opcodes are logged and otherwise ignored.
func ProcessInstruction(ctx context.Context, host program.Host, programID ed25519.PublicKey, accounts []*program.AccountInfo, data []byte) error {
	if len(data) == 0 {
		return program.ErrInvalidInstructionData
	}

	opcode, body := Opcode(data[0]), data[1:]
	switch opcode {
	case OpcodeDeposit, OpcodeWithdraw:
		host.Log("Instruction: %s", opcode)
	default:
		host.Log("Error: unknown instruction")
		return nil
	}

	custodyAccounts, amount, err := parseInstruction(accounts, body)
	if err != nil {
		return err
	}

	if opcode == OpcodeDeposit {
		return processDeposit(ctx, host, programID, custodyAccounts, amount)
	}
	return processWithdraw(host, programID, custodyAccounts, amount)
}

type instructionAccounts struct {
	all []*program.AccountInfo

	user          *program.AccountInfo
	custody       *program.AccountInfo
	systemProgram *program.AccountInfo
}

func parseInstruction(accounts []*program.AccountInfo, body []byte) (*instructionAccounts, uint64, error) {
	var offset int
	var err error

	parsed := &instructionAccounts{all: accounts}
	if parsed.user, err = program.NextAccountInfo(accounts, &offset); err != nil {
		return nil, 0, err
	}
	if parsed.custody, err = program.NextAccountInfo(accounts, &offset); err != nil {
		return nil, 0, err
	}
	if !parsed.custody.IsWritable {
		return nil, 0, ErrCustodyNotWritable
	}
	if parsed.systemProgram, err = program.NextAccountInfo(accounts, &offset); err != nil {
		return nil, 0, err
	}

	if !bytes.Equal(parsed.systemProgram.Key, SYSTEM_PROGRAM_ID) {
		return nil, 0, program.ErrIncorrectProgramID
	}

	amount, ok := parseAmount(body)
	if !ok {
		return nil, 0, program.ErrInvalidInstructionData
	}

	return parsed, amount, nil
}

func processDeposit(ctx context.Context, host program.Host, programID ed25519.PublicKey, accounts *instructionAccounts, amount uint64) error {
	user, custody := accounts.user, accounts.custody

	address, bump, err := deriveCustodyAddress(programID, user.Key)
	if err != nil || !bytes.Equal(address, custody.Key) {
		return program.ErrInvalidAccountData
	}

	if custody.IsUninitialized() {
		if err := createCustodyAccount(ctx, host, programID, accounts, bump); err != nil {
			return err
		}
	}

	if !custody.IsOwnedBy(programID) {
		return program.ErrIncorrectProgramID
	}

	var state CustodyAccount
	if err := state.Unmarshal(custody.Data); err != nil {
		return program.ErrInvalidAccountData
	}

	if state.Balance+amount < state.Balance {
		return ErrArithmeticOverflow
	}

	if err := host.Invoke(ctx, system.Transfer(user.Key, custody.Key, amount), accounts.all); err != nil {
		return err
	}

	state.Balance += amount
	copy(custody.Data, state.Marshal())

	host.Log("Successful deposit of %d", amount)
	return nil
}

// createCustodyAccount allocates the custody account and assigns it to the
// program. An address that was sent lamports before its first deposit cannot
// go through CreateAccount and is allocated and assigned in place instead.
func createCustodyAccount(ctx context.Context, host program.Host, programID ed25519.PublicKey, accounts *instructionAccounts, bump uint8) error {
	user, custody := accounts.user, accounts.custody
	seeds := custodySignerSeeds(user.Key, bump)

	if custody.Lamports == 0 {
		ix := system.CreateAccount(user.Key, custody.Key, programID, 0, CustodyAccountSize)
		return host.InvokeSigned(ctx, ix, accounts.all, seeds)
	}

	if err := host.InvokeSigned(ctx, system.Allocate(custody.Key, CustodyAccountSize), accounts.all, seeds); err != nil {
		return err
	}
	return host.InvokeSigned(ctx, system.Assign(custody.Key, programID), accounts.all, seeds)
}

func processWithdraw(host program.Host, programID ed25519.PublicKey, accounts *instructionAccounts, amount uint64) error {
	user, custody := accounts.user, accounts.custody

	if !custody.IsOwnedBy(programID) {
		host.Log("Error: incorrect program owner")
		return program.ErrIncorrectProgramID
	}

	address, _, err := deriveCustodyAddress(programID, user.Key)
	if err != nil || !bytes.Equal(address, custody.Key) {
		return program.ErrInvalidAccountData
	}

	var state CustodyAccount
	if err := state.Unmarshal(custody.Data); err != nil {
		return program.ErrInvalidAccountData
	}

	if state.Balance < amount || custody.Lamports < amount {
		return program.ErrInsufficientFunds
	}
	if user.Lamports+amount < user.Lamports {
		return ErrArithmeticOverflow
	}

	// The custody account carries data, so the system program cannot debit
	// it. The program owns it and moves the lamports itself.
	custody.Lamports -= amount
	user.Lamports += amount

	state.Balance -= amount
	copy(custody.Data, state.Marshal())

	host.Log("Successful withdraw of %d", amount)
	return nil
}
