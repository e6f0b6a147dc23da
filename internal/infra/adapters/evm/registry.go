package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/domain/market"
)

// Registry answers asset queries for a single ERC721 contract.
type Registry struct {
	client  *Client
	address common.Address
}

// NewRegistry binds a registry adapter to the contract at address.
func NewRegistry(client *Client, address common.Address) *Registry {
	return &Registry{client: client, address: address}
}

// Address returns the bound contract address.
func (r *Registry) Address() common.Address { return r.address }

// SupportsInterface answers the EIP-165 interface-identification query.
func (r *Registry) SupportsInterface(ctx context.Context, id [4]byte) (bool, error) {
	ret, err := r.client.call(ctx, r.address, packCall(selSupportsInterface, wordBytes4(id)))
	if err != nil {
		// Contracts without EIP-165 revert on the probe.
		return false, nil
	}
	return unpackBool(ret)
}

func (r *Registry) OwnerOf(ctx context.Context, assetID *big.Int) (common.Address, error) {
	ret, err := r.client.call(ctx, r.address, packCall(selOwnerOf, wordUint(assetID)))
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: ownerOf: %w", err)
	}
	return unpackAddress(ret)
}

func (r *Registry) GetApproved(ctx context.Context, assetID *big.Int) (common.Address, error) {
	ret, err := r.client.call(ctx, r.address, packCall(selGetApproved, wordUint(assetID)))
	if err != nil {
		return common.Address{}, fmt.Errorf("evm: getApproved: %w", err)
	}
	return unpackAddress(ret)
}

func (r *Registry) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	ret, err := r.client.call(ctx, r.address, packCall(selIsApprovedForAll, wordAddress(owner), wordAddress(operator)))
	if err != nil {
		return false, fmt.Errorf("evm: isApprovedForAll: %w", err)
	}
	return unpackBool(ret)
}

// TransferFrom submits the transfer and waits for it to be mined.
func (r *Registry) TransferFrom(ctx context.Context, from, to common.Address, assetID *big.Int) error {
	data := packCall(selTransferFrom, wordAddress(from), wordAddress(to), wordUint(assetID))
	if err := r.client.send(ctx, r.address, data); err != nil {
		if errs.CodeOf(err) == errs.CodeTransferFailed {
			return err
		}
		return errs.New("evm/registry", errs.CodeTransferFailed,
			errs.WithMessage("asset transfer failed"), errs.WithCause(err))
	}
	return nil
}

func (r *Registry) VerifyFingerprint(ctx context.Context, assetID *big.Int, fingerprint []byte) (bool, error) {
	data := packCallWithBytes(selVerifyFingerprint, fingerprint, wordUint(assetID))
	ret, err := r.client.call(ctx, r.address, data)
	if err != nil {
		return false, fmt.Errorf("evm: verifyFingerprint: %w", err)
	}
	return unpackBool(ret)
}

// Resolver maps registry addresses to adapters, requiring deployed code at
// the address.
type Resolver struct {
	client *Client
}

// NewResolver constructs a resolver over the shared client.
func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client}
}

func (r *Resolver) Resolve(ctx context.Context, registry common.Address) (market.AssetRegistry, error) {
	code, err := r.client.eth.CodeAt(ctx, registry, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: code at %s: %w", registry.Hex(), err)
	}
	if len(code) == 0 {
		return nil, errs.New("evm/resolver", errs.CodeInvalidRegistry,
			errs.WithMessage("no contract deployed at registry address"))
	}
	return NewRegistry(r.client, registry), nil
}
