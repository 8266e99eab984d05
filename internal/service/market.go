package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/risk"
)

// Market data types.
const (
	MarketGlobal   = "global"
	MarketTrending = "trending"
	MarketTopCoins = "top-coins"
	MarketAll      = "all"
)

// MarketOverview is the combined market payload.
type MarketOverview struct {
	Global   *fetcher.GlobalMarket  `json:"global"`
	Trending []fetcher.TrendingCoin `json:"trending"`
	TopCoins []risk.TokenData       `json:"top_coins"`
}

// MarketData returns market data of the given type from a short-lived cache.
func (s *Service) MarketData(ctx context.Context, kind string) (any, error) {
	if s.deps.Market == nil {
		return nil, &fetcher.Error{Provider: "service", Kind: fetcher.KindUnavailable, Message: "market data source not configured"}
	}
	if kind == "" {
		kind = MarketAll
	}

	switch kind {
	case MarketGlobal:
		var global fetcher.GlobalMarket
		err := s.cachedMarket(ctx, kind, &global, func(ctx context.Context) (any, error) {
			return s.deps.Market.FetchGlobal(ctx)
		})
		return global, err
	case MarketTrending:
		var trending []fetcher.TrendingCoin
		err := s.cachedMarket(ctx, kind, &trending, func(ctx context.Context) (any, error) {
			return s.deps.Market.FetchTrending(ctx)
		})
		return trending, err
	case MarketTopCoins:
		var coins []risk.TokenData
		err := s.cachedMarket(ctx, kind, &coins, func(ctx context.Context) (any, error) {
			return s.deps.Market.FetchTopCoins(ctx, s.opts.TopCoinsLimit)
		})
		return coins, err
	case MarketAll:
		var overview MarketOverview
		err := s.cachedMarket(ctx, kind, &overview, func(ctx context.Context) (any, error) {
			return s.fetchOverview(ctx)
		})
		return overview, err
	}
	return nil, invalidRequest(fmt.Sprintf("unknown market data type %q", kind))
}

func (s *Service) fetchOverview(ctx context.Context) (MarketOverview, error) {
	var out MarketOverview
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		global, err := s.deps.Market.FetchGlobal(egCtx)
		if err != nil {
			return err
		}
		out.Global = &global
		return nil
	})
	eg.Go(func() error {
		trending, err := s.deps.Market.FetchTrending(egCtx)
		out.Trending = trending
		return err
	})
	eg.Go(func() error {
		coins, err := s.deps.Market.FetchTopCoins(egCtx, s.opts.TopCoinsLimit)
		out.TopCoins = coins
		return err
	})
	if err := eg.Wait(); err != nil {
		return MarketOverview{}, err
	}
	return out, nil
}

// cachedMarket decodes a fresh cached payload into out, or fetches, stores
// and decodes it.
func (s *Service) cachedMarket(ctx context.Context, kind string, out any, fetch func(ctx context.Context) (any, error)) error {
	key := "market:" + kind
	c := s.deps.MarketCache
	if c != nil {
		entry, ok, err := c.Get(ctx, key)
		if err == nil && ok && s.opts.Now().Sub(entry.StoredAt) < s.opts.MarketCacheTTL {
			if json.Unmarshal(entry.Value, out) == nil {
				return nil
			}
		}
	}

	v, _, err := s.shared(ctx, key, func(runCtx context.Context) (any, error) {
		data, err := fetch(runCtx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(data)
	})
	if err != nil {
		return err
	}
	payload := v.([]byte)

	if c != nil {
		if err := c.Set(ctx, key, payload, s.opts.MarketCacheTTL); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("market cache write failed")
		}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode market data: %w", err)
	}
	return nil
}

// ClearMarketCache drops cached market data.
func (s *Service) ClearMarketCache(ctx context.Context) error {
	if s.deps.MarketCache == nil {
		return errors.New("market cache not configured")
	}
	if err := s.deps.MarketCache.Clear(ctx); err != nil {
		return fmt.Errorf("clear market cache: %w", err)
	}
	return nil
}
