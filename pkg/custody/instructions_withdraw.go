package custody

import (
	"github.com/code-payments/custody-program/pkg/solana"
)

type WithdrawInstructionArgs = AmountInstructionArgs

type WithdrawInstructionAccounts = CustodyInstructionAccounts

// NewWithdrawInstruction moves args.Amount lamports from the owner's custody
// account back to the owner.
func NewWithdrawInstruction(accounts *WithdrawInstructionAccounts, args *WithdrawInstructionArgs) solana.Instruction {
	return newInstruction(OpcodeWithdraw, accounts, args)
}

func DecompileWithdraw(m solana.Message, index int) (*WithdrawInstructionArgs, *WithdrawInstructionAccounts, error) {
	return decompile(OpcodeWithdraw, m, index)
}
