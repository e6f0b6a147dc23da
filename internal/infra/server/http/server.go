// Package httpserver exposes the marketplace HTTP surface: order listing and
// lifecycle operations, operator configuration, and the event feed.
package httpserver

import (
	"errors"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/bus/eventbus"
	"github.com/metamart/marketplace/internal/domain/market"
	"github.com/metamart/marketplace/internal/infra/config"
	"github.com/metamart/marketplace/internal/numeric"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	ordersPath        = "/orders"
	orderDetailPrefix = ordersPath + "/"

	legacyOrdersPath        = "/legacy/orders"
	legacyOrderDetailPrefix = legacyOrdersPath + "/"

	publicationFeePath = "/config/publication-fee"
	ownerCutPath       = "/config/owner-cut"
	legacyRegistryPath = "/config/legacy-registry"

	healthzPath   = "/healthz"
	eventFeedPath = "/events/ws"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// Options configures the marketplace HTTP handler.
type Options struct {
	Engine        *market.Engine
	Legacy        *market.LegacyMarket
	Store         market.Store
	Bus           eventbus.Bus
	TokenDecimals int32
	AdminEnabled  bool
	RateLimit     float64
	RateBurst     int
}

type httpServer struct {
	engine       *market.Engine
	legacy       *market.LegacyMarket
	store        market.Store
	bus          eventbus.Bus
	decimals     int32
	adminEnabled bool
}

// NewHandler creates the marketplace HTTP handler.
func NewHandler(opts Options) http.Handler {
	decimals := opts.TokenDecimals
	if decimals <= 0 {
		decimals = 18
	}
	server := &httpServer{
		engine:       opts.Engine,
		legacy:       opts.Legacy,
		store:        opts.Store,
		bus:          opts.Bus,
		decimals:     decimals,
		adminEnabled: opts.AdminEnabled,
	}
	mux := http.NewServeMux()

	mux.Handle(ordersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listOrders,
		http.MethodPost: server.createOrder,
	}))
	mux.Handle(orderDetailPrefix, http.HandlerFunc(server.handleOrderDetail))

	if server.legacy != nil {
		mux.Handle(legacyOrdersPath, server.methodHandlers(map[string]handlerFunc{
			http.MethodPost: server.createLegacyOrder,
		}))
		mux.Handle(legacyOrderDetailPrefix, http.HandlerFunc(server.handleLegacyOrderDetail))
	}

	if server.adminEnabled {
		mux.Handle(publicationFeePath, server.methodHandlers(map[string]handlerFunc{
			http.MethodPut: server.setPublicationFee,
		}))
		mux.Handle(ownerCutPath, server.methodHandlers(map[string]handlerFunc{
			http.MethodPut: server.setOwnerCut,
		}))
		mux.Handle(legacyRegistryPath, server.methodHandlers(map[string]handlerFunc{
			http.MethodPut: server.setLegacyRegistry,
		}))
	}

	mux.Handle(healthzPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.healthz,
	}))

	if server.bus != nil {
		mux.Handle(eventFeedPath, http.HandlerFunc(server.serveEventFeed))
	}

	handler := withCORS(mux)
	if opts.RateLimit > 0 {
		handler = withRateLimit(handler, rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst))
	}
	return handler
}

// NewServer wraps the handler in an http.Server bound to the configured address.
func NewServer(cfg config.APIServerConfig, opts Options) *http.Server {
	opts.AdminEnabled = cfg.EnableAdminAPI
	opts.RateLimit = cfg.RateLimit
	opts.RateBurst = cfg.RateBurst
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

type orderPayload struct {
	ID           string `json:"id"`
	NFTAddress   string `json:"nftAddress"`
	AssetID      string `json:"assetId"`
	Seller       string `json:"seller"`
	PriceInWei   string `json:"priceInWei"`
	PriceDisplay string `json:"priceDisplay"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func (s *httpServer) renderOrder(order market.Order) orderPayload {
	return orderPayload{
		ID:           order.ID.Hex(),
		NFTAddress:   order.Registry.Hex(),
		AssetID:      order.AssetID.String(),
		Seller:       order.Seller.Hex(),
		PriceInWei:   order.Price.String(),
		PriceDisplay: numeric.DisplayAmount(order.Price, s.decimals),
		ExpiresAt:    order.ExpiresAt.Unix(),
	}
}

func (s *httpServer) listOrders(w http.ResponseWriter, r *http.Request) {
	query := market.Query{
		Registry: strings.TrimSpace(r.URL.Query().Get("registry")),
		Seller:   strings.TrimSpace(r.URL.Query().Get("seller")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		query.Limit = limit
	}
	if query.Registry != "" && !common.IsHexAddress(query.Registry) {
		writeError(w, http.StatusBadRequest, "registry must be a hex address")
		return
	}
	if query.Seller != "" && !common.IsHexAddress(query.Seller) {
		writeError(w, http.StatusBadRequest, "seller must be a hex address")
		return
	}

	orders, err := s.store.List(r.Context(), query)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	payloads := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payloads = append(payloads, s.renderOrder(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": payloads})
}

type createOrderRequest struct {
	Caller     string `json:"caller"`
	NFTAddress string `json:"nftAddress"`
	AssetID    string `json:"assetId"`
	PriceInWei string `json:"priceInWei"`
	ExpiresAt  int64  `json:"expiresAt"`
}

func (s *httpServer) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	registry, ok := parseAddress(w, "nftAddress", req.NFTAddress)
	if !ok {
		return
	}
	assetID, ok := parseBig(w, "assetId", req.AssetID)
	if !ok {
		return
	}
	price, ok := parseBig(w, "priceInWei", req.PriceInWei)
	if !ok {
		return
	}

	order, err := s.engine.CreateOrder(r.Context(), caller, registry, assetID, price, time.Unix(req.ExpiresAt, 0))
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.renderOrder(order))
}

// handleOrderDetail routes /orders/{registry}/{asset} and
// /orders/{registry}/{asset}/execute.
func (s *httpServer) handleOrderDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, orderDetailPrefix), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 2:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		s.cancelOrder(w, r, parts[0], parts[1])
	case len(parts) == 3 && parts[2] == "execute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.executeOrder(w, r, parts[0], parts[1])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type cancelOrderRequest struct {
	Caller string `json:"caller"`
}

func (s *httpServer) cancelOrder(w http.ResponseWriter, r *http.Request, rawRegistry, rawAsset string) {
	var req cancelOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	registry, ok := parseAddress(w, "registry", rawRegistry)
	if !ok {
		return
	}
	assetID, ok := parseBig(w, "asset", rawAsset)
	if !ok {
		return
	}

	order, err := s.engine.CancelOrder(r.Context(), caller, registry, assetID)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.renderOrder(order))
}

type executeOrderRequest struct {
	Caller      string `json:"caller"`
	PriceInWei  string `json:"priceInWei"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func (s *httpServer) executeOrder(w http.ResponseWriter, r *http.Request, rawRegistry, rawAsset string) {
	var req executeOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	registry, ok := parseAddress(w, "registry", rawRegistry)
	if !ok {
		return
	}
	assetID, ok := parseBig(w, "asset", rawAsset)
	if !ok {
		return
	}
	price, ok := parseBig(w, "priceInWei", req.PriceInWei)
	if !ok {
		return
	}
	var fingerprint []byte
	if trimmed := strings.TrimSpace(req.Fingerprint); trimmed != "" {
		fingerprint = common.FromHex(trimmed)
		if len(fingerprint) == 0 {
			writeError(w, http.StatusBadRequest, "fingerprint must be hex encoded")
			return
		}
	}

	order, err := s.engine.ExecuteOrder(r.Context(), caller, registry, assetID, price, fingerprint)
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.renderOrder(order))
}

type legacyCreateRequest struct {
	Caller     string `json:"caller"`
	AssetID    string `json:"assetId"`
	PriceInWei string `json:"priceInWei"`
	ExpiresAt  int64  `json:"expiresAt"`
}

func (s *httpServer) createLegacyOrder(w http.ResponseWriter, r *http.Request) {
	var req legacyCreateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	assetID, ok := parseBig(w, "assetId", req.AssetID)
	if !ok {
		return
	}
	price, ok := parseBig(w, "priceInWei", req.PriceInWei)
	if !ok {
		return
	}

	order, err := s.legacy.CreateOrder(r.Context(), caller, assetID, price, time.Unix(req.ExpiresAt, 0))
	if err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.renderOrder(order))
}

type legacyExecuteRequest struct {
	Caller     string `json:"caller"`
	PriceInWei string `json:"priceInWei"`
}

// handleLegacyOrderDetail routes /legacy/orders/{asset} and
// /legacy/orders/{asset}/execute.
func (s *httpServer) handleLegacyOrderDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, legacyOrderDetailPrefix), "/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		var req cancelOrderRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		caller, ok := parseAddress(w, "caller", req.Caller)
		if !ok {
			return
		}
		assetID, ok := parseBig(w, "asset", parts[0])
		if !ok {
			return
		}
		order, err := s.legacy.CancelOrder(r.Context(), caller, assetID)
		if err != nil {
			writeMarketError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.renderOrder(order))
	case len(parts) == 2 && parts[1] == "execute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req legacyExecuteRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		caller, ok := parseAddress(w, "caller", req.Caller)
		if !ok {
			return
		}
		assetID, ok := parseBig(w, "asset", parts[0])
		if !ok {
			return
		}
		price, ok := parseBig(w, "priceInWei", req.PriceInWei)
		if !ok {
			return
		}
		order, err := s.legacy.ExecuteOrder(r.Context(), caller, assetID, price)
		if err != nil {
			writeMarketError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.renderOrder(order))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type setFeeRequest struct {
	Caller string `json:"caller"`
	FeeWei string `json:"feeInWei"`
}

func (s *httpServer) setPublicationFee(w http.ResponseWriter, r *http.Request) {
	var req setFeeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	fee, ok := parseBig(w, "feeInWei", req.FeeWei)
	if !ok {
		return
	}
	if err := s.engine.SetPublicationFee(caller, fee); err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "publicationFee": fee.String()})
}

type setOwnerCutRequest struct {
	Caller             string `json:"caller"`
	OwnerCutPerMillion uint64 `json:"ownerCutPerMillion"`
}

func (s *httpServer) setOwnerCut(w http.ResponseWriter, r *http.Request) {
	var req setOwnerCutRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	if err := s.engine.SetOwnerCutPerMillion(caller, req.OwnerCutPerMillion); err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ownerCutPerMillion": req.OwnerCutPerMillion})
}

type setLegacyRegistryRequest struct {
	Caller   string `json:"caller"`
	Registry string `json:"registry"`
}

func (s *httpServer) setLegacyRegistry(w http.ResponseWriter, r *http.Request) {
	var req setLegacyRegistryRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	caller, ok := parseAddress(w, "caller", req.Caller)
	if !ok {
		return
	}
	registry, ok := parseAddress(w, "registry", req.Registry)
	if !ok {
		return
	}
	if err := s.engine.SetLegacyRegistry(caller, registry); err != nil {
		writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "legacyRegistry": registry.Hex()})
}

func (s *httpServer) healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.List(r.Context(), market.Query{Limit: 1}); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDecodeError(w, err)
		return false
	}
	return true
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func parseAddress(w http.ResponseWriter, field, value string) (common.Address, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || !common.IsHexAddress(trimmed) {
		writeError(w, http.StatusBadRequest, field+" must be a hex address")
		return common.Address{}, false
	}
	return common.HexToAddress(trimmed), true
}

func parseBig(w http.ResponseWriter, field, value string) (*big.Int, bool) {
	parsed, ok := numeric.ParseBaseAmount(strings.TrimSpace(value))
	if !ok {
		writeError(w, http.StatusBadRequest, field+" must be a base-10 integer")
		return nil, false
	}
	return parsed, true
}

func writeMarketError(w http.ResponseWriter, err error) {
	writeError(w, errs.HTTPStatus(err), err.Error())
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func withRateLimit(handler http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		handler.ServeHTTP(w, r)
	})
}
