package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metamart/marketplace/errs"
)

// Token adapts one ERC20 contract as the marketplace payment token.
type Token struct {
	client  *Client
	address common.Address
}

// NewToken binds a payment token adapter to the contract at address.
func NewToken(client *Client, address common.Address) *Token {
	return &Token{client: client, address: address}
}

// Address returns the bound contract address.
func (t *Token) Address() common.Address { return t.address }

// TransferFrom submits the transfer and waits for it to be mined. The
// marketplace must hold a sufficient allowance from the payer.
func (t *Token) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	data := packCall(selTransferFrom, wordAddress(from), wordAddress(to), wordUint(amount))
	// Some tokens signal failure by returning false instead of reverting; such
	// a transfer still mines with a successful receipt. Simulate the call first
	// and refuse an explicit false before any funds move.
	if ret, err := t.client.callFrom(ctx, t.address, data); err == nil && transferReturnedFalse(ret) {
		return errs.New("evm/token", errs.CodeTransferFailed, errs.WithMessage("token transfer returned false"))
	}
	if err := t.client.send(ctx, t.address, data); err != nil {
		if errs.CodeOf(err) == errs.CodeTransferFailed {
			return err
		}
		return errs.New("evm/token", errs.CodeTransferFailed,
			errs.WithMessage("token transfer failed"), errs.WithCause(err))
	}
	return nil
}

func (t *Token) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	ret, err := t.client.call(ctx, t.address, packCall(selBalanceOf, wordAddress(account)))
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf: %w", err)
	}
	return unpackUint(ret)
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	ret, err := t.client.call(ctx, t.address, packCall(selAllowance, wordAddress(owner), wordAddress(spender)))
	if err != nil {
		return nil, fmt.Errorf("evm: allowance: %w", err)
	}
	return unpackUint(ret)
}
