package custody

import (
	"bytes"
	"crypto/ed25519"

	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/binary"
)

const (
	AmountInstructionArgsSize = (8) // amount

	InstructionSize = (1 + // opcode
		AmountInstructionArgsSize) // args
)

// AmountInstructionArgs are the arguments shared by deposit and withdraw.
type AmountInstructionArgs struct {
	Amount uint64
}

// CustodyInstructionAccounts are the accounts shared by deposit and withdraw.
type CustodyInstructionAccounts struct {
	Owner   ed25519.PublicKey
	Custody ed25519.PublicKey
}

func newInstruction(opcode Opcode, accounts *CustodyInstructionAccounts, args *AmountInstructionArgs) solana.Instruction {
	var offset int

	// Serialize instruction arguments
	data := make([]byte, InstructionSize)
	binary.PutUint8(data[offset:], uint8(opcode), &offset)
	binary.PutUint64(data[offset:], args.Amount, &offset)

	return solana.NewInstruction(
		PROGRAM_ID,
		data,
		solana.NewAccountMeta(accounts.Owner, true),
		solana.NewAccountMeta(accounts.Custody, false),
		solana.NewReadonlyAccountMeta(SYSTEM_PROGRAM_ID, false),
	)
}

// parseAmount reads the amount from the instruction body that follows the
// opcode.
func parseAmount(body []byte) (uint64, bool) {
	if len(body) < AmountInstructionArgsSize {
		return 0, false
	}

	var amount uint64
	var offset int
	binary.GetUint64(body, &amount, &offset)
	return amount, true
}

func decompile(opcode Opcode, m solana.Message, index int) (*AmountInstructionArgs, *CustodyInstructionAccounts, error) {
	ix, err := m.Decompile(index)
	if err != nil {
		return nil, nil, err
	}

	if !bytes.Equal(ix.Program, PROGRAM_ID) {
		return nil, nil, solana.ErrIncorrectProgram
	}
	if len(ix.Data) < InstructionSize || Opcode(ix.Data[0]) != opcode {
		return nil, nil, solana.ErrIncorrectInstruction
	}
	if len(ix.Accounts) < 3 {
		return nil, nil, ErrInvalidInstructionData
	}

	amount, _ := parseAmount(ix.Data[1:])

	return &AmountInstructionArgs{
			Amount: amount,
		}, &CustodyInstructionAccounts{
			Owner:   ix.Accounts[0].PublicKey,
			Custody: ix.Accounts[1].PublicKey,
		}, nil
}
