package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"math/bits"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/custody-program/pkg/solana"
	"github.com/code-payments/custody-program/pkg/solana/program"
	"github.com/code-payments/custody-program/pkg/solana/system"
)

// instructionAccount is an account reference handed to process. backing is
// the account the callee's changes are committed into.
type instructionAccount struct {
	backing    *program.AccountInfo
	isSigner   bool
	isWritable bool
}

type accountState struct {
	owner      ed25519.PublicKey
	lamports   uint64
	data       []byte
	executable bool
}

func snapshot(info *program.AccountInfo) accountState {
	return accountState{
		owner:      append(ed25519.PublicKey(nil), info.Owner...),
		lamports:   info.Lamports,
		data:       append([]byte(nil), info.Data...),
		executable: info.Executable,
	}
}

func (s accountState) applyTo(info *program.AccountInfo) {
	info.Owner = append(ed25519.PublicKey(nil), s.owner...)
	info.Lamports = s.lamports
	info.Data = append([]byte(nil), s.data...)
	info.Executable = s.executable
}

type frameAccount struct {
	view    *program.AccountInfo
	backing *program.AccountInfo
	pre     accountState

	isSigner   bool
	isWritable bool
}

// frame is a single program invocation. Each distinct account appears once,
// no matter how many times the instruction references it.
type frame struct {
	programID ed25519.PublicKey
	accounts  []*frameAccount
}

func (f *frame) find(key ed25519.PublicKey) *frameAccount {
	for _, fa := range f.accounts {
		if bytes.Equal(fa.view.Key, key) {
			return fa
		}
	}
	return nil
}

func (f *frame) findBacking(backing *program.AccountInfo) *frameAccount {
	for _, fa := range f.accounts {
		if fa.backing == backing {
			return fa
		}
	}
	return nil
}

type transactionContext struct {
	bank     *Bank
	message  solana.Message
	accounts []*program.AccountInfo
	maxDepth int

	logs   []string
	stack  []*frame
	cpiErr error
}

func newTransactionContext(bank *Bank, message solana.Message, accounts []*program.AccountInfo) *transactionContext {
	return &transactionContext{
		bank:     bank,
		message:  message,
		accounts: accounts,
		maxDepth: int(bank.conf.maxCallDepth.Get(context.Background())),
	}
}

// execute runs every instruction in the message. The returned error, if any,
// is a *solana.InstructionError.
func (tc *transactionContext) execute(ctx context.Context) error {
	for i, compiled := range tc.message.Instructions {
		programID := tc.message.Accounts[compiled.ProgramIndex]

		accounts := make([]instructionAccount, len(compiled.Accounts))
		for j, index := range compiled.Accounts {
			accounts[j] = instructionAccount{
				backing:    tc.accounts[index],
				isSigner:   tc.message.IsSigner(int(index)),
				isWritable: tc.message.IsWritable(int(index)),
			}
		}

		tc.cpiErr = nil
		err := tc.process(ctx, programID, accounts, compiled.Data)
		if err == nil && tc.cpiErr != nil {
			err = tc.cpiErr
		}
		if err != nil {
			return solana.NewInstructionError(i, err)
		}
	}

	return nil
}

func (tc *transactionContext) log(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	tc.logs = append(tc.logs, line)
	tc.bank.log.WithField("method", "execute").Debug(line)
}

// process invokes programID with accounts, verifies the resulting changes
// and commits them into the backing accounts.
func (tc *transactionContext) process(ctx context.Context, programID ed25519.PublicKey, accounts []instructionAccount, data []byte) error {
	depth := len(tc.stack) + 1
	if depth > tc.maxDepth {
		return program.ErrCallDepth
	}
	// A program may call itself directly, but may not be re-entered
	// through another program.
	if len(tc.stack) > 0 && !bytes.Equal(tc.stack[len(tc.stack)-1].programID, programID) {
		for _, f := range tc.stack {
			if bytes.Equal(f.programID, programID) {
				return program.ErrReentrancyNotAllowed
			}
		}
	}

	f := &frame{programID: programID}
	views := make([]*program.AccountInfo, len(accounts))
	for i, account := range accounts {
		fa := f.findBacking(account.backing)
		if fa == nil {
			fa = &frameAccount{
				view:    cloneAccountInfo(account.backing),
				backing: account.backing,
				pre:     snapshot(account.backing),
			}
			f.accounts = append(f.accounts, fa)
		}

		fa.isSigner = fa.isSigner || account.isSigner
		fa.isWritable = fa.isWritable || account.isWritable
		views[i] = fa.view
	}
	for _, fa := range f.accounts {
		fa.view.IsSigner = fa.isSigner
		fa.view.IsWritable = fa.isWritable
	}

	tc.stack = append(tc.stack, f)
	defer func() {
		tc.stack = tc.stack[:len(tc.stack)-1]
	}()

	name := base58.Encode(programID)
	tc.log("Program %s invoke [%d]", name, depth)

	err := tc.run(ctx, f, views, data)
	if err == nil {
		err = tc.verify(f)
	}
	if err != nil {
		tc.log("Program %s failed: %s", name, errors.Cause(err).Error())
		return err
	}

	for _, fa := range f.accounts {
		snapshot(fa.view).applyTo(fa.backing)
	}

	tc.log("Program %s success", name)
	return nil
}

func (tc *transactionContext) run(ctx context.Context, f *frame, views []*program.AccountInfo, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("program panicked: %v", r)
		}
	}()

	if bytes.Equal(f.programID, system.ProgramKey[:]) {
		return processSystemInstruction(views, data)
	}

	entrypoint, ok := tc.bank.getEntrypoint(f.programID)
	if !ok {
		return program.ErrUnsupportedProgramID
	}

	host := &invocationHost{tc: tc, frame: f}
	return entrypoint(ctx, host, f.programID, views, data)
}

// verify checks the changes the frame's program made since the last
// snapshot, then takes a new snapshot.
func (tc *transactionContext) verify(f *frame) error {
	var preHi, preLo, postHi, postLo, carry uint64

	isSystem := bytes.Equal(f.programID, system.ProgramKey[:])

	for _, fa := range f.accounts {
		pre, post := fa.pre, fa.view
		isOwner := bytes.Equal(pre.owner, f.programID)

		if !bytes.Equal(pre.owner, post.Owner) {
			if !fa.isWritable || pre.executable || !isOwner || !isZeroed(post.Data) {
				return program.ErrModifiedProgramID
			}
		}

		if pre.lamports != post.Lamports {
			if !fa.isWritable {
				return program.ErrReadonlyLamportChange
			}
			if post.Lamports < pre.lamports && !isOwner {
				return program.ErrExternalAccountLamportSpend
			}
		}

		if len(pre.data) != len(post.Data) && !isSystem {
			return program.ErrAccountDataSizeChanged
		}

		if !bytes.Equal(pre.data, post.Data) {
			if !fa.isWritable {
				return program.ErrReadonlyDataModified
			}
			if !isOwner {
				return program.ErrExternalAccountDataModified
			}
		}

		if pre.executable != post.Executable {
			return program.ErrExecutableModified
		}

		preLo, carry = bits.Add64(preLo, pre.lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, post.Lamports, 0)
		postHi += carry
	}

	if preHi != postHi || preLo != postLo {
		return program.ErrUnbalancedInstruction
	}

	for _, fa := range f.accounts {
		fa.pre = snapshot(fa.view)
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// invocationHost is the program.Host given to a program for one frame.
type invocationHost struct {
	tc    *transactionContext
	frame *frame
}

func (h *invocationHost) Log(format string, args ...interface{}) {
	h.tc.log("Program log: %s", fmt.Sprintf(format, args...))
}

func (h *invocationHost) Invoke(ctx context.Context, ix solana.Instruction, accounts []*program.AccountInfo) error {
	return h.InvokeSigned(ctx, ix, accounts)
}

func (h *invocationHost) InvokeSigned(ctx context.Context, ix solana.Instruction, accounts []*program.AccountInfo, signerSeeds ...[][]byte) error {
	err := h.invokeSigned(ctx, ix, accounts, signerSeeds...)
	if err != nil && h.tc.cpiErr == nil {
		h.tc.cpiErr = err
	}
	return err
}

func (h *invocationHost) invokeSigned(ctx context.Context, ix solana.Instruction, accounts []*program.AccountInfo, signerSeeds ...[][]byte) error {
	caller := h.frame

	// Programs may hand over their own copies of account infos.
	for _, info := range accounts {
		if fa := caller.find(info.Key); fa != nil && fa.view != info {
			snapshot(info).applyTo(fa.view)
		}
	}

	if err := h.tc.verify(caller); err != nil {
		return err
	}

	signers := make([]ed25519.PublicKey, 0, len(signerSeeds))
	for _, seeds := range signerSeeds {
		address, err := solana.CreateProgramAddress(caller.programID, seeds...)
		if err != nil {
			return program.ErrInvalidSeeds
		}
		signers = append(signers, address)
	}

	if _, ok := program.FindAccountInfo(accounts, ix.Program); !ok || caller.find(ix.Program) == nil {
		return program.ErrMissingAccount
	}
	if !h.tc.bank.isProgram(ix.Program) {
		return program.ErrAccountNotExecutable
	}

	calleeAccounts := make([]instructionAccount, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		if _, ok := program.FindAccountInfo(accounts, meta.PublicKey); !ok {
			return program.ErrMissingAccount
		}

		fa := caller.find(meta.PublicKey)
		if fa == nil {
			return program.ErrMissingAccount
		}

		if meta.IsWritable && !fa.isWritable {
			return program.ErrPrivilegeEscalation
		}
		if meta.IsSigner && !fa.isSigner && !containsKey(signers, meta.PublicKey) {
			return program.ErrPrivilegeEscalation
		}

		calleeAccounts[i] = instructionAccount{
			backing:    fa.view,
			isSigner:   meta.IsSigner,
			isWritable: meta.IsWritable,
		}
	}

	if err := h.tc.process(ctx, ix.Program, calleeAccounts, ix.Data); err != nil {
		return err
	}

	for _, fa := range caller.accounts {
		fa.pre = snapshot(fa.view)
	}
	for _, info := range accounts {
		if fa := caller.find(info.Key); fa != nil && fa.view != info {
			snapshot(fa.view).applyTo(info)
		}
	}

	return nil
}

func containsKey(keys []ed25519.PublicKey, key ed25519.PublicKey) bool {
	for _, k := range keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}
