package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// TokenConfig maps a token symbol to its contract.
type TokenConfig struct {
	Address  string
	Decimals int32
}

type boundToken struct {
	contract *bind.BoundContract
	decimals int32
}

// Ledger implements domain.TokenLedger over ERC-20 contracts. The engine
// account is the only account the ledger can move funds for directly;
// third-party funds move through transferFrom against prior approvals.
type Ledger struct {
	client *Client
	engine common.Address
	tokens map[string]boundToken
}

// NewLedger binds the configured token contracts. The client must carry a
// transactor for mutating operations.
func NewLedger(client *Client, engineAccount string, tokens map[string]TokenConfig) (*Ledger, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse erc20 abi: %w", err)
	}

	bound := make(map[string]boundToken, len(tokens))
	for symbol, cfg := range tokens {
		if !common.IsHexAddress(cfg.Address) {
			return nil, fmt.Errorf("evm: token %s: invalid address %q", symbol, cfg.Address)
		}
		bound[symbol] = boundToken{
			contract: bind.NewBoundContract(common.HexToAddress(cfg.Address), parsed, client.eth, client.eth, client.eth),
			decimals: cfg.Decimals,
		}
	}

	if !common.IsHexAddress(engineAccount) {
		return nil, fmt.Errorf("evm: invalid engine account %q", engineAccount)
	}
	return &Ledger{
		client: client,
		engine: common.HexToAddress(engineAccount),
		tokens: bound,
	}, nil
}

func (l *Ledger) token(symbol string) (boundToken, error) {
	bt, ok := l.tokens[symbol]
	if !ok {
		return boundToken{}, fmt.Errorf("evm: unknown token %s", symbol)
	}
	return bt, nil
}

// toUnits converts a decimal amount to the token's integer base units.
func toUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// fromUnits converts integer base units back to a decimal amount.
func fromUnits(units *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimals)
}

// BalanceOf returns an account's token balance.
func (l *Ledger) BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error) {
	bt, err := l.token(token)
	if err != nil {
		return decimal.Zero, err
	}
	var out []any
	err = bt.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return decimal.Zero, fmt.Errorf("evm: balanceOf %s/%s: %w", token, account, err)
	}
	return fromUnits(abi.ConvertType(out[0], new(big.Int)).(*big.Int), bt.decimals), nil
}

// Allowance returns the amount owner has approved spender to move.
func (l *Ledger) Allowance(ctx context.Context, token, owner, spender string) (decimal.Decimal, error) {
	bt, err := l.token(token)
	if err != nil {
		return decimal.Zero, err
	}
	var out []any
	err = bt.contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance",
		common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return decimal.Zero, fmt.Errorf("evm: allowance %s/%s: %w", token, owner, err)
	}
	return fromUnits(abi.ConvertType(out[0], new(big.Int)).(*big.Int), bt.decimals), nil
}

// Transfer moves tokens out of the engine account. The ledger holds only the
// engine's key, so from must be the engine account.
func (l *Ledger) Transfer(ctx context.Context, token, from, to string, amount decimal.Decimal) error {
	bt, err := l.token(token)
	if err != nil {
		return err
	}
	if common.HexToAddress(from) != l.engine {
		return fmt.Errorf("evm: transfer from %s: only the engine account's funds are directly movable", from)
	}
	return l.transact(ctx, bt, "transfer", common.HexToAddress(to), toUnits(amount, bt.decimals))
}

// TransferFrom moves approved tokens between third parties. The spender must
// be the engine account since the ledger signs with the engine key.
func (l *Ledger) TransferFrom(ctx context.Context, token, spender, from, to string, amount decimal.Decimal) error {
	bt, err := l.token(token)
	if err != nil {
		return err
	}
	if common.HexToAddress(spender) != l.engine {
		return fmt.Errorf("evm: transferFrom spender %s: ledger signs as the engine account", spender)
	}
	return l.transact(ctx, bt, "transferFrom",
		common.HexToAddress(from), common.HexToAddress(to), toUnits(amount, bt.decimals))
}

// Mint is not available on deployed ERC-20 contracts.
func (l *Ledger) Mint(context.Context, string, string, decimal.Decimal) error {
	return fmt.Errorf("evm: mint not supported on erc20 ledger")
}

// Burn is not available on deployed ERC-20 contracts.
func (l *Ledger) Burn(context.Context, string, string, decimal.Decimal) error {
	return fmt.Errorf("evm: burn not supported on erc20 ledger")
}

func (l *Ledger) transact(ctx context.Context, bt boundToken, method string, args ...any) error {
	if l.client.auth == nil {
		return fmt.Errorf("evm: %s: no transactor configured", method)
	}

	opts := *l.client.auth
	opts.Context = ctx
	tx, err := bt.contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("evm: %s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, l.client.eth, tx)
	if err != nil {
		return fmt.Errorf("evm: %s: wait mined %s: %w", method, tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("evm: %s: transaction %s reverted", method, tx.Hash())
	}
	return nil
}

// Compile-time interface check.
var _ domain.TokenLedger = (*Ledger)(nil)
