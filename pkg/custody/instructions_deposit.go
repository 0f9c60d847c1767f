package custody

import (
	"github.com/code-payments/custody-program/pkg/solana"
)

type DepositInstructionArgs = AmountInstructionArgs

type DepositInstructionAccounts = CustodyInstructionAccounts

// NewDepositInstruction moves args.Amount lamports from the owner into their
// custody account, creating the custody account if needed.
func NewDepositInstruction(accounts *DepositInstructionAccounts, args *DepositInstructionArgs) solana.Instruction {
	return newInstruction(OpcodeDeposit, accounts, args)
}

func DecompileDeposit(m solana.Message, index int) (*DepositInstructionArgs, *DepositInstructionAccounts, error) {
	return decompile(OpcodeDeposit, m, index)
}
