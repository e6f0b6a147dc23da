package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC721InterfaceID is the EIP-165 identifier every supported asset registry
// must declare.
var ERC721InterfaceID = [4]byte{0x80, 0xac, 0x58, 0xcd}

// FingerprintInterfaceID identifies the optional verifyFingerprint(uint256,bytes)
// capability used by registries whose assets carry mutable attributes.
var FingerprintInterfaceID = [4]byte{0x8f, 0x9f, 0x4b, 0x63}

// AssetRegistry is the consumed capability of one NFT collection: ownership
// lookup, approval checks, and transfer. Implementations answer for a single
// registry address.
type AssetRegistry interface {
	// SupportsInterface answers the EIP-165 interface-identification query.
	SupportsInterface(ctx context.Context, id [4]byte) (bool, error)
	OwnerOf(ctx context.Context, assetID *big.Int) (common.Address, error)
	GetApproved(ctx context.Context, assetID *big.Int) (common.Address, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	// TransferFrom moves the asset between parties; refusal is a fatal abort.
	TransferFrom(ctx context.Context, from, to common.Address, assetID *big.Int) error
	// VerifyFingerprint re-validates an asset's mutable attributes. Only
	// meaningful when SupportsInterface(FingerprintInterfaceID) is true.
	VerifyFingerprint(ctx context.Context, assetID *big.Int, fingerprint []byte) (bool, error)
}

// PaymentToken is the consumed capability of the accepted ERC20-compatible
// token. TransferFrom is conditional on a pre-approved allowance; refusal is
// a fatal abort, never retried.
type PaymentToken interface {
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// RegistryResolver maps a registry address to its adapter. Resolution fails
// when the address is not a deployed contract implementing the registry
// interface.
type RegistryResolver interface {
	Resolve(ctx context.Context, registry common.Address) (AssetRegistry, error)
}
