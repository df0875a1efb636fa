package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

const aggregatorABI = `[
	{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}
	]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// AggregatorFeed implements domain.PriceFeed over a Chainlink-compatible
// aggregator contract.
type AggregatorFeed struct {
	name     string
	contract *bind.BoundContract

	// decimals is resolved lazily on the first read and cached; aggregator
	// decimals never change after deployment.
	decimals int32
	resolved bool
}

// NewAggregatorFeed binds a feed at the given aggregator address.
func NewAggregatorFeed(client *Client, name, address string) (*AggregatorFeed, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("evm: parse aggregator abi: %w", err)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("evm: feed %s: invalid address %q", name, address)
	}
	return &AggregatorFeed{
		name:     name,
		contract: bind.NewBoundContract(common.HexToAddress(address), parsed, client.eth, client.eth, client.eth),
	}, nil
}

// LatestPrice returns the aggregator's latest answer and its update time.
func (f *AggregatorFeed) LatestPrice(ctx context.Context) (decimal.Decimal, time.Time, error) {
	if !f.resolved {
		var out []any
		if err := f.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
			return decimal.Zero, time.Time{}, fmt.Errorf("evm: feed %s: decimals: %w", f.name, err)
		}
		f.decimals = int32(*abi.ConvertType(out[0], new(uint8)).(*uint8))
		f.resolved = true
	}

	var out []any
	if err := f.contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestRoundData"); err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("evm: feed %s: latestRoundData: %w", f.name, err)
	}

	answer := abi.ConvertType(out[1], new(big.Int)).(*big.Int)
	updatedAt := abi.ConvertType(out[3], new(big.Int)).(*big.Int)

	price := decimal.NewFromBigInt(answer, -f.decimals)
	return price, time.Unix(updatedAt.Int64(), 0), nil
}

// Name identifies the feed in logs and validation results.
func (f *AggregatorFeed) Name() string {
	return f.name
}

// Compile-time interface check.
var _ domain.PriceFeed = (*AggregatorFeed)(nil)
