package market

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/observability"
	"github.com/metamart/marketplace/internal/telemetry"
)

// Config carries the engine's deployment-time identities and fee settings.
type Config struct {
	// Marketplace is the settlement identity that must hold asset approval
	// and performs transfers on behalf of the parties.
	Marketplace common.Address
	// Operator is the privileged identity allowed to change fees and cancel
	// any order.
	Operator common.Address
	// FeeCollector receives publication fees and sale shares.
	FeeCollector common.Address
	// PublicationFee is the flat listing fee in payment-token units; nil or
	// zero disables it.
	PublicationFee *big.Int
	// OwnerCutPerMillion is the operator's sale share in parts per million,
	// constrained to [0, MaxOwnerCutPerMillion].
	OwnerCutPerMillion uint64
	// LegacyRegistry is the registry bound by the legacy compatibility shim.
	LegacyRegistry common.Address
}

func (c Config) validate() error {
	if c.Marketplace == (common.Address{}) {
		return errs.New("market/config", errs.CodeInvalid, errs.WithMessage("marketplace address required"))
	}
	if c.Operator == (common.Address{}) {
		return errs.New("market/config", errs.CodeInvalid, errs.WithMessage("operator address required"))
	}
	if c.FeeCollector == (common.Address{}) {
		return errs.New("market/config", errs.CodeInvalid, errs.WithMessage("fee collector address required"))
	}
	if c.OwnerCutPerMillion > MaxOwnerCutPerMillion {
		return errs.New("market/config", errs.CodeInvalid, errs.WithMessage("owner cut must be below one million"))
	}
	if c.PublicationFee != nil && c.PublicationFee.Sign() < 0 {
		return errs.New("market/config", errs.CodeInvalid, errs.WithMessage("publication fee must not be negative"))
	}
	return nil
}

// Engine implements the order lifecycle state machine. Each public operation
// runs to completion under a single writer lock: one operation fully commits
// or fully aborts before the next is applied.
type Engine struct {
	store      Store
	registries RegistryResolver
	token      PaymentToken
	events     Publisher
	now        func() time.Time

	// opMu serializes lifecycle transitions; cfgMu guards the mutable
	// fee/registry settings so reads on the hot path stay cheap.
	opMu  sync.Mutex
	cfgMu sync.RWMutex
	cfg   Config

	created   metric.Int64Counter
	cancelled metric.Int64Counter
	executed  metric.Int64Counter
	aborted   metric.Int64Counter
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs the lifecycle engine.
func NewEngine(store Store, registries RegistryResolver, token PaymentToken, events Publisher, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errs.New("market/engine", errs.CodeInvalid, errs.WithMessage("order store required"))
	}
	if registries == nil {
		return nil, errs.New("market/engine", errs.CodeInvalid, errs.WithMessage("registry resolver required"))
	}
	if token == nil {
		return nil, errs.New("market/engine", errs.CodeInvalid, errs.WithMessage("payment token required"))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:      store,
		registries: registries,
		token:      token,
		events:     events,
		now:        time.Now,
		cfg:        cfg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	meter := otel.Meter("market")
	e.created, _ = meter.Int64Counter("market.orders.created",
		metric.WithDescription("Number of orders created"),
		metric.WithUnit("{order}"))
	e.cancelled, _ = meter.Int64Counter("market.orders.cancelled",
		metric.WithDescription("Number of orders cancelled"),
		metric.WithUnit("{order}"))
	e.executed, _ = meter.Int64Counter("market.orders.executed",
		metric.WithDescription("Number of orders executed"),
		metric.WithUnit("{order}"))
	e.aborted, _ = meter.Int64Counter("market.orders.aborted",
		metric.WithDescription("Number of lifecycle operations aborted"),
		metric.WithUnit("{operation}"))
	return e, nil
}

// Settings returns a snapshot of the mutable configuration.
func (e *Engine) Settings() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	cfg := e.cfg
	if cfg.PublicationFee != nil {
		cfg.PublicationFee = new(big.Int).Set(cfg.PublicationFee)
	}
	return cfg
}

// SetPublicationFee updates the flat listing fee. Operator only.
func (e *Engine) SetPublicationFee(caller common.Address, fee *big.Int) error {
	if err := e.requireOperator(caller, "market/set-publication-fee"); err != nil {
		return err
	}
	if fee != nil && fee.Sign() < 0 {
		return errs.New("market/set-publication-fee", errs.CodeInvalid, errs.WithMessage("publication fee must not be negative"))
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if fee == nil {
		e.cfg.PublicationFee = nil
		return nil
	}
	e.cfg.PublicationFee = new(big.Int).Set(fee)
	return nil
}

// SetOwnerCutPerMillion updates the sale share. Operator only; the cut must
// stay below one million so the seller amount remains positive.
func (e *Engine) SetOwnerCutPerMillion(caller common.Address, cut uint64) error {
	if err := e.requireOperator(caller, "market/set-owner-cut"); err != nil {
		return err
	}
	if cut > MaxOwnerCutPerMillion {
		return errs.New("market/set-owner-cut", errs.CodeInvalid, errs.WithMessage("owner cut must be below one million"))
	}
	e.cfgMu.Lock()
	e.cfg.OwnerCutPerMillion = cut
	e.cfgMu.Unlock()
	return nil
}

// SetLegacyRegistry rebinds the registry served by the legacy shim. Operator only.
func (e *Engine) SetLegacyRegistry(caller, registry common.Address) error {
	if err := e.requireOperator(caller, "market/set-legacy-registry"); err != nil {
		return err
	}
	if registry == (common.Address{}) {
		return errs.New("market/set-legacy-registry", errs.CodeInvalid, errs.WithMessage("registry address required"))
	}
	e.cfgMu.Lock()
	e.cfg.LegacyRegistry = registry
	e.cfgMu.Unlock()
	return nil
}

func (e *Engine) requireOperator(caller common.Address, scope string) error {
	e.cfgMu.RLock()
	operator := e.cfg.Operator
	e.cfgMu.RUnlock()
	if caller != operator {
		return errs.New(scope, errs.CodeUnauthorized, errs.WithMessage("operator privilege required"))
	}
	return nil
}

// CreateOrder publishes a listing for the asset at a fixed price.
func (e *Engine) CreateOrder(ctx context.Context, caller, registry common.Address, assetID, price *big.Int, expiresAt time.Time) (Order, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	now := e.now()
	if price == nil || price.Sign() <= 0 {
		return Order{}, e.abort(ctx, "create", errs.New("market/create", errs.CodeInvalid, errs.WithMessage("price must be greater than zero")))
	}
	if !expiresAt.After(now.Add(MinListingDuration)) {
		return Order{}, e.abort(ctx, "create", errs.New("market/create", errs.CodeInvalid, errs.WithMessage("listing must expire more than one minute in the future")))
	}

	reg, err := e.requireRegistry(ctx, registry, "market/create")
	if err != nil {
		return Order{}, e.abort(ctx, "create", err)
	}

	owner, err := reg.OwnerOf(ctx, assetID)
	if err != nil {
		return Order{}, e.abort(ctx, "create", errs.New("market/create", errs.CodeInvalidRegistry, errs.WithMessage("owner lookup failed"), errs.WithCause(err)))
	}
	if owner != caller {
		return Order{}, e.abort(ctx, "create", errs.New("market/create", errs.CodeUnauthorized, errs.WithMessage("only the asset owner can create orders")))
	}

	cfg := e.Settings()
	approved, err := reg.GetApproved(ctx, assetID)
	if err != nil {
		return Order{}, e.abort(ctx, "create", errs.New("market/create", errs.CodeInvalidRegistry, errs.WithMessage("approval lookup failed"), errs.WithCause(err)))
	}
	if approved != cfg.Marketplace {
		forAll, err := reg.IsApprovedForAll(ctx, owner, cfg.Marketplace)
		if err != nil {
			return Order{}, e.abort(ctx, "create", errs.New("market/create", errs.CodeInvalidRegistry, errs.WithMessage("approval lookup failed"), errs.WithCause(err)))
		}
		if !forAll {
			return Order{}, e.abort(ctx, "create", errs.New("market/create", errs.CodeUnauthorized, errs.WithMessage("marketplace is not authorized to manage the asset")))
		}
	}

	order := Order{
		ID:        DeriveOrderID(now, caller, assetID, registry, price),
		Seller:    caller,
		Registry:  registry,
		AssetID:   new(big.Int).Set(assetID),
		Price:     new(big.Int).Set(price),
		ExpiresAt: expiresAt,
	}

	// A stale entry for the key is overwritten; remember it so a failed fee
	// charge can restore the exact prior state. Only an explicit not-published
	// result counts as "no prior entry": a store read failure aborts the create
	// rather than risking a rollback that deletes an overwritten listing.
	prior, priorErr := e.store.Get(ctx, order.KeyOf())
	hadPrior := priorErr == nil
	if priorErr != nil && errs.CodeOf(priorErr) != errs.CodeNotPublished {
		return Order{}, e.abort(ctx, "create", priorErr)
	}

	if err := e.store.Put(ctx, order); err != nil {
		return Order{}, e.abort(ctx, "create", err)
	}

	if cfg.PublicationFee != nil && cfg.PublicationFee.Sign() > 0 {
		if err := e.token.TransferFrom(ctx, caller, cfg.FeeCollector, cfg.PublicationFee); err != nil {
			e.rollbackPut(ctx, order.KeyOf(), prior, hadPrior)
			return Order{}, e.abort(ctx, "create", errs.New("market/create", errs.CodeTransferFailed, errs.WithMessage("publication fee charge failed"), errs.WithCause(err)))
		}
	}

	e.publish(ctx, Event{
		Type:      EventOrderCreated,
		OrderID:   order.ID,
		AssetID:   order.AssetID,
		Seller:    order.Seller,
		Registry:  order.Registry,
		Price:     order.Price,
		ExpiresAt: order.ExpiresAt,
		EmittedAt: now,
	})
	if e.created != nil {
		e.created.Add(ctx, 1, metric.WithAttributes(telemetry.Registry(registry.Hex())))
	}
	observability.Log().Info("order created",
		observability.Field{Key: "order_id", Value: order.ID.Hex()},
		observability.Field{Key: "registry", Value: registry.Hex()},
		observability.Field{Key: "asset_id", Value: order.AssetID.String()},
		observability.Field{Key: "price", Value: order.Price.String()})
	return order.Clone(), nil
}

// CancelOrder withdraws an active listing. Allowed for the order's seller and
// for the operator (administrative override).
func (e *Engine) CancelOrder(ctx context.Context, caller, registry common.Address, assetID *big.Int) (Order, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	key := Key{Registry: registry, AssetID: assetID}
	order, err := e.store.Get(ctx, key)
	if err != nil {
		return Order{}, e.abort(ctx, "cancel", err)
	}

	cfg := e.Settings()
	if caller != order.Seller && caller != cfg.Operator {
		return Order{}, e.abort(ctx, "cancel", errs.New("market/cancel", errs.CodeUnauthorized, errs.WithMessage("only the seller or the operator can cancel")))
	}

	removed, err := e.store.Remove(ctx, key)
	if err != nil {
		return Order{}, e.abort(ctx, "cancel", err)
	}

	now := e.now()
	e.publish(ctx, Event{
		Type:      EventOrderCancelled,
		OrderID:   removed.ID,
		AssetID:   removed.AssetID,
		Seller:    removed.Seller,
		Registry:  removed.Registry,
		Price:     removed.Price,
		EmittedAt: now,
	})
	if e.cancelled != nil {
		e.cancelled.Add(ctx, 1, metric.WithAttributes(telemetry.Registry(registry.Hex())))
	}
	observability.Log().Info("order cancelled",
		observability.Field{Key: "order_id", Value: removed.ID.Hex()},
		observability.Field{Key: "registry", Value: registry.Hex()},
		observability.Field{Key: "asset_id", Value: removed.AssetID.String()})
	return removed.Clone(), nil
}

// ExecuteOrder purchases an active listing at its exact listed price. The
// caller commits to the price they observed; any divergence aborts.
func (e *Engine) ExecuteOrder(ctx context.Context, caller, registry common.Address, assetID, price *big.Int, fingerprint []byte) (Order, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	reg, err := e.requireRegistry(ctx, registry, "market/execute")
	if err != nil {
		return Order{}, e.abort(ctx, "execute", err)
	}

	if err := e.verifyFingerprint(ctx, reg, assetID, fingerprint); err != nil {
		return Order{}, e.abort(ctx, "execute", err)
	}

	key := Key{Registry: registry, AssetID: assetID}
	order, err := e.store.Get(ctx, key)
	if err != nil {
		return Order{}, e.abort(ctx, "execute", err)
	}

	if order.Seller == (common.Address{}) {
		return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodeInvalid, errs.WithMessage("order has no seller")))
	}
	if order.Seller == caller {
		return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodeUnauthorized, errs.WithMessage("seller cannot purchase their own asset")))
	}
	if price == nil || order.Price.Cmp(price) != 0 {
		return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodePriceMismatch, errs.WithMessage("supplied price does not match listed price")))
	}
	now := e.now()
	if !now.Before(order.ExpiresAt) {
		return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodeExpired, errs.WithMessage("order has expired")))
	}

	currentOwner, err := reg.OwnerOf(ctx, assetID)
	if err != nil {
		return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodeInvalidRegistry, errs.WithMessage("owner lookup failed"), errs.WithCause(err)))
	}
	if currentOwner != order.Seller {
		return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodeStaleOwner, errs.WithMessage("seller is no longer the asset owner")))
	}

	// Own state is mutated before any external value transfer so a re-entrant
	// or duplicate execution of the same listing observes it as consumed.
	if _, err := e.store.Remove(ctx, key); err != nil {
		return Order{}, e.abort(ctx, "execute", err)
	}

	cfg := e.Settings()
	share := SaleShare(order.Price, cfg.OwnerCutPerMillion)
	proceeds := SellerProceeds(order.Price, cfg.OwnerCutPerMillion)

	if share.Sign() > 0 {
		if err := e.token.TransferFrom(ctx, caller, cfg.FeeCollector, share); err != nil {
			e.restore(ctx, order)
			return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodeTransferFailed, errs.WithMessage("sale share transfer failed"), errs.WithCause(err)))
		}
	}

	if err := e.token.TransferFrom(ctx, caller, order.Seller, proceeds); err != nil {
		e.refund(ctx, cfg.FeeCollector, caller, share)
		e.restore(ctx, order)
		return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodeTransferFailed, errs.WithMessage("seller payment failed"), errs.WithCause(err)))
	}

	if err := reg.TransferFrom(ctx, order.Seller, caller, assetID); err != nil {
		e.refund(ctx, order.Seller, caller, proceeds)
		e.refund(ctx, cfg.FeeCollector, caller, share)
		e.restore(ctx, order)
		return Order{}, e.abort(ctx, "execute", errs.New("market/execute", errs.CodeTransferFailed, errs.WithMessage("asset transfer failed"), errs.WithCause(err)))
	}

	e.publish(ctx, Event{
		Type:      EventOrderSuccessful,
		OrderID:   order.ID,
		AssetID:   order.AssetID,
		Seller:    order.Seller,
		Registry:  order.Registry,
		Price:     order.Price,
		Buyer:     caller,
		EmittedAt: now,
	})
	if e.executed != nil {
		e.executed.Add(ctx, 1, metric.WithAttributes(telemetry.Registry(registry.Hex())))
	}
	observability.Log().Info("order executed",
		observability.Field{Key: "order_id", Value: order.ID.Hex()},
		observability.Field{Key: "registry", Value: registry.Hex()},
		observability.Field{Key: "asset_id", Value: order.AssetID.String()},
		observability.Field{Key: "buyer", Value: caller.Hex()})
	return order.Clone(), nil
}

// requireRegistry resolves the registry adapter and checks the EIP-165
// declaration, the shared precondition of the create and execute paths.
func (e *Engine) requireRegistry(ctx context.Context, registry common.Address, scope string) (AssetRegistry, error) {
	if registry == (common.Address{}) {
		return nil, errs.New(scope, errs.CodeInvalidRegistry, errs.WithMessage("registry address required"))
	}
	reg, err := e.registries.Resolve(ctx, registry)
	if err != nil {
		return nil, errs.New(scope, errs.CodeInvalidRegistry, errs.WithMessage("address is not a deployed asset registry"), errs.WithCause(err))
	}
	ok, err := reg.SupportsInterface(ctx, ERC721InterfaceID)
	if err != nil {
		return nil, errs.New(scope, errs.CodeInvalidRegistry, errs.WithMessage("interface query failed"), errs.WithCause(err))
	}
	if !ok {
		return nil, errs.New(scope, errs.CodeInvalidRegistry, errs.WithMessage("registry does not implement the asset interface"))
	}
	return reg, nil
}

func (e *Engine) verifyFingerprint(ctx context.Context, reg AssetRegistry, assetID *big.Int, fingerprint []byte) error {
	supported, err := reg.SupportsInterface(ctx, FingerprintInterfaceID)
	if err != nil {
		return errs.New("market/execute", errs.CodeInvalidRegistry, errs.WithMessage("interface query failed"), errs.WithCause(err))
	}
	if !supported {
		return nil
	}
	ok, err := reg.VerifyFingerprint(ctx, assetID, fingerprint)
	if err != nil {
		return errs.New("market/execute", errs.CodeFingerprint, errs.WithMessage("fingerprint verification failed"), errs.WithCause(err))
	}
	if !ok {
		return errs.New("market/execute", errs.CodeFingerprint, errs.WithMessage("asset fingerprint does not match"))
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, evt Event) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, evt)
}

// restore re-inserts an order removed by an execution that later aborted.
func (e *Engine) restore(ctx context.Context, order Order) {
	if err := e.store.Put(ctx, order); err != nil {
		observability.Log().Error("order restore failed",
			observability.Field{Key: "order_id", Value: order.ID.Hex()},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

// refund reverses an already-applied token transfer while unwinding a failed
// execution. Failure to compensate is logged; the abort still propagates.
func (e *Engine) refund(ctx context.Context, from, to common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	if err := e.token.TransferFrom(ctx, from, to, amount); err != nil {
		observability.Log().Error("refund failed",
			observability.Field{Key: "from", Value: from.Hex()},
			observability.Field{Key: "to", Value: to.Hex()},
			observability.Field{Key: "amount", Value: amount.String()},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

func (e *Engine) rollbackPut(ctx context.Context, key Key, prior Order, hadPrior bool) {
	if hadPrior {
		e.restore(ctx, prior)
		return
	}
	if _, err := e.store.Remove(ctx, key); err != nil {
		observability.Log().Error("order rollback failed",
			observability.Field{Key: "registry", Value: key.Registry.Hex()},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

func (e *Engine) abort(ctx context.Context, op string, err error) error {
	if e.aborted != nil {
		e.aborted.Add(ctx, 1, metric.WithAttributes(
			telemetry.Operation(op),
			telemetry.Reason(string(errs.CodeOf(err)))))
	}
	return err
}
