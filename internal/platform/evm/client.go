// Package evm adapts on-chain contracts to the domain interfaces: ERC-20
// tokens as the settlement ledger and Chainlink-style aggregators as price
// feeds.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ClientConfig holds connection parameters for the EVM RPC endpoint.
type ClientConfig struct {
	RPCURL  string
	ChainID int64
	// PrivateKey is the hex key of the engine account. Required for the
	// ledger's transfer operations; read-only feeds work without it.
	PrivateKey string
}

// Client wraps an ethclient connection and the engine's transactor.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	auth    *bind.TransactOpts
}

// Dial connects to the RPC endpoint and, when a key is configured, prepares
// the engine's transactor.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("evm: chain id: %w", err)
		}
	}

	c := &Client{eth: eth, chainID: chainID}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("evm: parse private key: %w", err)
		}
		c.auth, err = bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("evm: build transactor: %w", err)
		}
	}
	return c, nil
}

// Eth returns the underlying ethclient.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// Close shuts down the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
