package fake

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metamart/marketplace/errs"
)

// Token is an in-memory transferable-balance ledger with allowances,
// implementing market.PaymentToken. TransferFrom consumes allowance the way
// an ERC20 token does, except when from is the configured spender itself.
type Token struct {
	// Spender is the marketplace identity whose allowance is consumed on
	// transfers initiated by the engine.
	Spender common.Address

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	// TransferErr, when set, makes every transfer fail with it.
	TransferErr error
	// FailTo, when non-zero, makes transfers to that address fail. Lets
	// tests abort one leg of a multi-transfer settlement.
	FailTo common.Address
}

// NewToken creates an empty ledger with the marketplace spender identity.
func NewToken(spender common.Address) *Token {
	return &Token{
		Spender:    spender,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Fund credits an account balance.
func (t *Token) Fund(account common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(account, amount)
}

// Approve sets the allowance from owner to spender.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

// BalanceOf returns the account balance.
func (t *Token) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(account)), nil
}

// Allowance returns the remaining allowance from owner to spender.
func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil || t.allowances[owner][spender] == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(t.allowances[owner][spender]), nil
}

// TransferFrom moves amount from one account to another, consuming the
// spender's allowance over the source account.
func (t *Token) TransferFrom(_ context.Context, from, to common.Address, amount *big.Int) error {
	if t.TransferErr != nil {
		return t.TransferErr
	}
	if t.FailTo != (common.Address{}) && to == t.FailTo {
		return errs.New("fake/token", errs.CodeTransferFailed, errs.WithMessage("transfer refused"))
	}
	if amount == nil || amount.Sign() < 0 {
		return errs.New("fake/token", errs.CodeInvalid, errs.WithMessage("amount required"))
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowanceFor(from)
	if allowance.Cmp(amount) < 0 {
		return errs.New("fake/token", errs.CodeTransferFailed, errs.WithMessage("insufficient allowance"))
	}
	balance := t.balance(from)
	if balance.Cmp(amount) < 0 {
		return errs.New("fake/token", errs.CodeTransferFailed, errs.WithMessage("insufficient balance"))
	}

	balance.Sub(balance, amount)
	t.credit(to, amount)
	allowance.Sub(allowance, amount)
	return nil
}

func (t *Token) balance(account common.Address) *big.Int {
	if t.balances[account] == nil {
		t.balances[account] = new(big.Int)
	}
	return t.balances[account]
}

func (t *Token) credit(account common.Address, amount *big.Int) {
	t.balance(account).Add(t.balance(account), amount)
}

// allowanceFor returns the live allowance cell consumed by a transfer out of
// the given account. The spender moving its own funds needs no allowance.
func (t *Token) allowanceFor(from common.Address) *big.Int {
	if from == t.Spender {
		return new(big.Int).SetUint64(^uint64(0))
	}
	if t.allowances[from] == nil {
		t.allowances[from] = make(map[common.Address]*big.Int)
	}
	if t.allowances[from][t.Spender] == nil {
		t.allowances[from][t.Spender] = new(big.Int)
	}
	return t.allowances[from][t.Spender]
}
