package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"crypto-risk-scorer/internal/risk"
)

const (
	providerMoralis   = "moralis"
	moralisDefaultURL = "https://deep-index.moralis.io/api/v2.2"
	moralisOwnerLimit = 100
)

var moralisChains = map[Chain]string{
	ChainEthereum:  "eth",
	ChainBSC:       "bsc",
	ChainPolygon:   "polygon",
	ChainArbitrum:  "arbitrum",
	ChainBase:      "base",
	ChainAvalanche: "avalanche",
}

// Moralis serves ERC-20 holder and price data.
type Moralis struct {
	req    *requester
	hasKey bool
}

// NewMoralis constructs a Moralis client; the key goes in X-API-Key.
func NewMoralis(opts ClientOptions, logger zerolog.Logger) *Moralis {
	r := newRequester(providerMoralis, moralisDefaultURL, opts, logger)
	key := strings.TrimSpace(opts.APIKey)
	if key != "" {
		r.authorize = func(req *http.Request) { req.Header.Set("X-API-Key", key) }
	}
	return &Moralis{req: r, hasKey: key != ""}
}

// Source implements QuoteSource.
func (m *Moralis) Source() risk.DataSource { return risk.SourceMoralis }

func (m *Moralis) params(chain, address string) (string, url.Values, error) {
	if !m.hasKey {
		return "", nil, unavailableError(providerMoralis, "api key not configured")
	}
	if !ValidAddress(address) {
		return "", nil, validationError(providerMoralis, "invalid token address %q", address)
	}
	c, ok := NormalizeChain(chain)
	if !ok {
		return "", nil, validationError(providerMoralis, "unsupported chain %q", chain)
	}
	code, ok := moralisChains[c]
	if !ok {
		return "", nil, validationError(providerMoralis, "unsupported chain %q", chain)
	}
	return strings.ToLower(address), url.Values{"chain": {code}}, nil
}

// FetchHolders retrieves the top owners and, best effort, the holder count.
func (m *Moralis) FetchHolders(ctx context.Context, chain, address string) (HolderSnapshot, error) {
	addr, q, err := m.params(chain, address)
	if err != nil {
		return HolderSnapshot{}, err
	}
	q.Set("limit", strconv.Itoa(moralisOwnerLimit))
	q.Set("order", "DESC")

	var owners struct {
		Result []struct {
			OwnerAddress                    string `json:"owner_address"`
			PercentageRelativeToTotalSupply any    `json:"percentage_relative_to_total_supply"`
		} `json:"result"`
	}
	if err := m.req.getJSON(ctx, "/erc20/"+addr+"/owners", q, &owners); err != nil {
		return HolderSnapshot{}, err
	}
	if len(owners.Result) == 0 {
		return HolderSnapshot{}, &Error{Provider: providerMoralis, Kind: KindNotFound, Message: "no holders for " + addr}
	}

	snap := HolderSnapshot{Percentages: make([]float64, 0, len(owners.Result))}
	for _, o := range owners.Result {
		if pct, ok := numeric(o.PercentageRelativeToTotalSupply); ok {
			snap.Percentages = append(snap.Percentages, pct)
		}
	}

	if count, err := m.FetchHolderCount(ctx, chain, address); err == nil {
		snap.TotalHolders = count
	} else {
		m.req.logger.Debug().Err(err).Str("address", addr).Msg("holder count unavailable")
	}
	return snap, nil
}

// FetchHolderCount retrieves /erc20/{address}/holders.
func (m *Moralis) FetchHolderCount(ctx context.Context, chain, address string) (int, error) {
	addr, q, err := m.params(chain, address)
	if err != nil {
		return 0, err
	}
	var payload struct {
		TotalHolders int `json:"totalHolders"`
	}
	if err := m.req.getJSON(ctx, "/erc20/"+addr+"/holders", q, &payload); err != nil {
		return 0, err
	}
	return payload.TotalHolders, nil
}

// FetchQuote retrieves /erc20/{address}/price.
func (m *Moralis) FetchQuote(ctx context.Context, req QuoteRequest) (Quote, error) {
	addr, q, err := m.params(req.Chain, req.Address)
	if err != nil {
		return Quote{}, err
	}
	q.Set("include", "percent_change")

	var payload struct {
		USDPrice              *float64 `json:"usdPrice"`
		PairTotalLiquidityUSD any      `json:"pairTotalLiquidityUsd"`
	}
	if err := m.req.getJSON(ctx, "/erc20/"+addr+"/price", q, &payload); err != nil {
		return Quote{}, err
	}
	if payload.USDPrice == nil {
		return Quote{}, &Error{Provider: providerMoralis, Kind: KindNotFound, Message: "no price for " + addr}
	}

	quote := Quote{Source: risk.SourceMoralis, Price: floatPtr(*payload.USDPrice)}
	if liq, ok := numeric(payload.PairTotalLiquidityUSD); ok && liq > 0 {
		quote.LiquidityUSD = floatPtr(liq)
	}
	return quote, nil
}

// numeric accepts the number-or-string encodings providers use.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

var (
	_ HolderSource = (*Moralis)(nil)
	_ QuoteSource  = (*Moralis)(nil)
)
