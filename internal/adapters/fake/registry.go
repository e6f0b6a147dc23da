// Package fake provides in-memory registry and token adapters for tests and
// local development.
package fake

import (
	"bytes"
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/domain/market"
)

// Registry is an in-memory asset registry implementing market.AssetRegistry.
type Registry struct {
	address common.Address

	mu           sync.RWMutex
	owners       map[string]common.Address
	approvals    map[string]common.Address
	operators    map[common.Address]map[common.Address]bool
	fingerprints map[string][]byte

	// SupportsFingerprint toggles the optional verification capability.
	SupportsFingerprint bool
	// DenyERC721 makes the EIP-165 query answer false, simulating a contract
	// that is not an asset registry.
	DenyERC721 bool
	// TransferErr, when set, makes every asset transfer fail with it.
	TransferErr error
}

// NewRegistry creates an empty registry answering for the given address.
func NewRegistry(address common.Address) *Registry {
	return &Registry{
		address:      address,
		owners:       make(map[string]common.Address),
		approvals:    make(map[string]common.Address),
		operators:    make(map[common.Address]map[common.Address]bool),
		fingerprints: make(map[string][]byte),
	}
}

// Address returns the registry's on-chain address.
func (r *Registry) Address() common.Address { return r.address }

// Mint assigns ownership of an asset, creating it if needed.
func (r *Registry) Mint(assetID *big.Int, owner common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[assetID.String()] = owner
	delete(r.approvals, assetID.String())
}

// Approve grants per-asset transfer approval.
func (r *Registry) Approve(assetID *big.Int, operator common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals[assetID.String()] = operator
}

// SetApprovalForAll grants or revokes blanket approval from owner to operator.
func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.operators[owner] == nil {
		r.operators[owner] = make(map[common.Address]bool)
	}
	r.operators[owner][operator] = approved
}

// SetFingerprint records the asset's current fingerprint.
func (r *Registry) SetFingerprint(assetID *big.Int, fingerprint []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fingerprints[assetID.String()] = bytes.Clone(fingerprint)
}

// SupportsInterface answers the EIP-165 query.
func (r *Registry) SupportsInterface(_ context.Context, id [4]byte) (bool, error) {
	switch id {
	case market.ERC721InterfaceID:
		return !r.DenyERC721, nil
	case market.FingerprintInterfaceID:
		return r.SupportsFingerprint, nil
	default:
		return false, nil
	}
}

// OwnerOf returns the asset's current owner.
func (r *Registry) OwnerOf(_ context.Context, assetID *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[assetID.String()]
	if !ok {
		return common.Address{}, errs.New("fake/registry", errs.CodeNotFound, errs.WithMessage("asset does not exist"))
	}
	return owner, nil
}

// GetApproved returns the per-asset approved operator.
func (r *Registry) GetApproved(_ context.Context, assetID *big.Int) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.approvals[assetID.String()], nil
}

// IsApprovedForAll reports blanket approval from owner to operator.
func (r *Registry) IsApprovedForAll(_ context.Context, owner, operator common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[owner][operator], nil
}

// TransferFrom moves the asset to a new owner.
func (r *Registry) TransferFrom(_ context.Context, from, to common.Address, assetID *big.Int) error {
	if r.TransferErr != nil {
		return r.TransferErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assetID.String()
	owner, ok := r.owners[key]
	if !ok {
		return errs.New("fake/registry", errs.CodeNotFound, errs.WithMessage("asset does not exist"))
	}
	if owner != from {
		return errs.New("fake/registry", errs.CodeUnauthorized, errs.WithMessage("transfer from non-owner"))
	}
	r.owners[key] = to
	delete(r.approvals, key)
	return nil
}

// VerifyFingerprint compares the supplied fingerprint with the recorded one.
func (r *Registry) VerifyFingerprint(_ context.Context, assetID *big.Int, fingerprint []byte) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return bytes.Equal(r.fingerprints[assetID.String()], fingerprint), nil
}

// Resolver is a static market.RegistryResolver over fake registries.
type Resolver struct {
	mu         sync.RWMutex
	registries map[common.Address]*Registry
}

// NewResolver creates a resolver over the provided registries.
func NewResolver(registries ...*Registry) *Resolver {
	r := &Resolver{registries: make(map[common.Address]*Registry, len(registries))}
	for _, reg := range registries {
		r.registries[reg.Address()] = reg
	}
	return r
}

// Add registers another fake registry.
func (r *Resolver) Add(reg *Registry) {
	r.mu.Lock()
	r.registries[reg.Address()] = reg
	r.mu.Unlock()
}

// Resolve returns the registry adapter for the address.
func (r *Resolver) Resolve(_ context.Context, registry common.Address) (market.AssetRegistry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registries[registry]
	if !ok {
		return nil, errs.New("fake/resolver", errs.CodeInvalidRegistry, errs.WithMessage("no contract deployed at address"))
	}
	return reg, nil
}
