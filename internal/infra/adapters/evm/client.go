// Package evm binds the marketplace adapter interfaces to on-chain contracts
// reached through a JSON-RPC node.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/metamart/marketplace/errs"
	"github.com/metamart/marketplace/internal/observability"
)

// Config controls node connectivity and transaction signing.
type Config struct {
	RPCEndpoint     string
	ChainID         int64
	PrivateKey      string
	DialTimeout     time.Duration
	CallTimeout     time.Duration
	RetryMaxElapsed time.Duration
}

// Client wraps an ethclient connection with call timeouts and an optional
// transaction signer.
type Client struct {
	eth         *ethclient.Client
	chainID     *big.Int
	key         *ecdsa.PrivateKey
	sender      common.Address
	callTimeout time.Duration
}

// Dial connects to the configured node, retrying with exponential backoff
// until the retry budget is exhausted.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.RPCEndpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("evm: rpc endpoint required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = time.Minute
	}

	var key *ecdsa.PrivateKey
	var sender common.Address
	if trimmed := strings.TrimSpace(cfg.PrivateKey); trimmed != "" {
		parsed, err := crypto.HexToECDSA(strings.TrimPrefix(trimmed, "0x"))
		if err != nil {
			return nil, fmt.Errorf("evm: parse private key: %w", err)
		}
		key = parsed
		sender = crypto.PubkeyToAddress(parsed.PublicKey)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	deadline := time.Now().Add(cfg.RetryMaxElapsed)

	var eth *ethclient.Client
	for {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		conn, err := ethclient.DialContext(dialCtx, endpoint)
		cancel()
		if err == nil {
			eth = conn
			break
		}
		observability.Log().Error("evm dial failed",
			observability.Field{Key: "endpoint", Value: endpoint},
			observability.Field{Key: "error", Value: err.Error()})
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("evm: dial %s: %w", endpoint, err)
		}
		sleep := backoffCfg.NextBackOff()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		reported, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("evm: resolve chain id: %w", err)
		}
		chainID = reported
	}

	return &Client{
		eth:         eth,
		chainID:     chainID,
		key:         key,
		sender:      sender,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Sender returns the address transactions are signed with; zero when the
// client is read-only.
func (c *Client) Sender() common.Address {
	return c.sender
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.eth.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// callFrom simulates a state-changing call from the signer identity so the
// contract sees the same msg.sender the submitted transaction would.
func (c *Client) callFrom(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.eth.CallContract(callCtx, ethereum.CallMsg{From: c.sender, To: &to, Data: data}, nil)
}

// send signs and submits a state-changing call, then waits for the receipt.
// A reverted transaction surfaces as a transfer failure.
func (c *Client) send(ctx context.Context, to common.Address, data []byte) error {
	if c.key == nil {
		return errs.New("evm", errs.CodeTransferFailed, errs.WithMessage("no signing key configured"))
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return fmt.Errorf("evm: pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("evm: suggest gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.sender,
		To:   &to,
		Data: data,
	})
	if err != nil {
		// Estimation failure usually means the call would revert.
		return errs.New("evm", errs.CodeTransferFailed,
			errs.WithMessage("transaction would revert"), errs.WithCause(err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return fmt.Errorf("evm: sign transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("evm: send transaction: %w", err)
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errs.New("evm", errs.CodeTransferFailed, errs.WithMessage("transaction reverted"))
	}
	return nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("evm: transaction receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
