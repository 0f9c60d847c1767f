package runtime

import (
	"github.com/code-payments/custody-program/pkg/solana/program"
	"github.com/code-payments/custody-program/pkg/solana/system"
)

// processSystemInstruction is the builtin system program.
func processSystemInstruction(accounts []*program.AccountInfo, data []byte) error {
	command, err := system.GetCommand(data)
	if err != nil {
		return program.ErrInvalidInstructionData
	}

	switch command {
	case system.CommandCreateAccount:
		args, err := system.ParseCreateAccountData(data)
		if err != nil {
			return program.ErrInvalidInstructionData
		}
		return createAccount(accounts, args)
	case system.CommandAssign:
		owner, err := system.ParseAssignData(data)
		if err != nil {
			return program.ErrInvalidInstructionData
		}
		return assign(accounts, owner)
	case system.CommandTransfer:
		lamports, err := system.ParseTransferData(data)
		if err != nil {
			return program.ErrInvalidInstructionData
		}
		return transfer(accounts, lamports)
	case system.CommandAllocate:
		size, err := system.ParseAllocateData(data)
		if err != nil {
			return program.ErrInvalidInstructionData
		}
		return allocate(accounts, size)
	default:
		return program.ErrInvalidInstructionData
	}
}

func createAccount(accounts []*program.AccountInfo, args *system.CreateAccountArgs) error {
	var offset int
	funder, err := program.NextAccountInfo(accounts, &offset)
	if err != nil {
		return err
	}
	newAccount, err := program.NextAccountInfo(accounts, &offset)
	if err != nil {
		return err
	}

	if !funder.IsSigner || !newAccount.IsSigner {
		return program.ErrMissingRequiredSignature
	}
	if newAccount.Lamports > 0 {
		return program.ErrAccountAlreadyInUse
	}

	if err := allocateAndAssign(newAccount, args.Size, args.Owner); err != nil {
		return err
	}

	return move(funder, newAccount, args.Lamports)
}

func assign(accounts []*program.AccountInfo, owner []byte) error {
	var offset int
	account, err := program.NextAccountInfo(accounts, &offset)
	if err != nil {
		return err
	}

	if account.IsOwnedBy(owner) {
		return nil
	}
	if !account.IsSigner {
		return program.ErrMissingRequiredSignature
	}

	account.Owner = append([]byte(nil), owner...)
	return nil
}

func allocate(accounts []*program.AccountInfo, size uint64) error {
	var offset int
	account, err := program.NextAccountInfo(accounts, &offset)
	if err != nil {
		return err
	}

	if !account.IsSigner {
		return program.ErrMissingRequiredSignature
	}
	return allocateSpace(account, size)
}

func allocateAndAssign(account *program.AccountInfo, size uint64, owner []byte) error {
	if err := allocateSpace(account, size); err != nil {
		return err
	}

	account.Owner = append([]byte(nil), owner...)
	return nil
}

func allocateSpace(account *program.AccountInfo, size uint64) error {
	if !account.IsUninitialized() {
		return program.ErrAccountAlreadyInUse
	}
	if size > maxPermittedDataLength {
		return program.ErrInvalidArgument
	}

	account.Data = make([]byte, size)
	return nil
}

func transfer(accounts []*program.AccountInfo, lamports uint64) error {
	var offset int
	from, err := program.NextAccountInfo(accounts, &offset)
	if err != nil {
		return err
	}
	to, err := program.NextAccountInfo(accounts, &offset)
	if err != nil {
		return err
	}

	if !from.IsSigner {
		return program.ErrMissingRequiredSignature
	}

	return move(from, to, lamports)
}

func move(from, to *program.AccountInfo, lamports uint64) error {
	if len(from.Data) > 0 {
		return program.ErrInvalidArgument
	}
	if from.Lamports < lamports {
		return program.ErrInsufficientFunds
	}

	from.Lamports -= lamports
	if to.Lamports+lamports < to.Lamports {
		from.Lamports += lamports
		return program.ErrInvalidArgument
	}
	to.Lamports += lamports

	return nil
}
