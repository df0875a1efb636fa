package app

import (
	"fmt"

	"github.com/quantfall/otcdesk/internal/config"
	"github.com/quantfall/otcdesk/internal/domain"
	"github.com/quantfall/otcdesk/internal/platform/evm"
	"github.com/quantfall/otcdesk/internal/platform/simfeed"
)

// feedRegistry resolves configured feed names to live PriceFeed instances.
// The admin API references feeds by name through this registry.
type feedRegistry struct {
	feeds map[string]domain.PriceFeed
}

// Feed implements handler.FeedResolver.
func (r *feedRegistry) Feed(name string) (domain.PriceFeed, bool) {
	f, ok := r.feeds[name]
	return f, ok
}

// buildFeeds instantiates every configured feed. Chainlink feeds need a live
// EVM client; sim feeds are self-contained random walks.
func buildFeeds(configs []config.FeedConfig, evmClient *evm.Client) (*feedRegistry, error) {
	reg := &feedRegistry{feeds: make(map[string]domain.PriceFeed, len(configs))}
	for _, fc := range configs {
		switch fc.Kind {
		case "chainlink":
			if evmClient == nil {
				return nil, fmt.Errorf("feed %q: chainlink feeds require evm.enabled", fc.Name)
			}
			feed, err := evm.NewAggregatorFeed(evmClient, fc.Name, fc.Address)
			if err != nil {
				return nil, fmt.Errorf("feed %q: %w", fc.Name, err)
			}
			reg.feeds[fc.Name] = feed
		case "sim":
			reg.feeds[fc.Name] = simfeed.New(fc.Name, fc.StartPrice, fc.DriftBps)
		default:
			return nil, fmt.Errorf("feed %q: unknown kind %q", fc.Name, fc.Kind)
		}
	}
	return reg, nil
}
