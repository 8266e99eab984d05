package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"crypto-risk-scorer/internal/risk"
)

const (
	providerTokenview   = "tokenview"
	tokenviewDefaultURL = "https://services.tokenview.io/vipapi"
	tokenviewOK         = 1
)

var tokenviewChains = map[Chain]string{
	ChainEthereum: "eth",
	ChainBSC:      "bsc",
	ChainPolygon:  "matic",
}

// Tokenview serves explorer metadata: holders, verification and supply.
type Tokenview struct {
	req    *requester
	apiKey string
}

// NewTokenview constructs a Tokenview client; the key is sent as ?apikey=.
func NewTokenview(opts ClientOptions, logger zerolog.Logger) *Tokenview {
	return &Tokenview{
		req:    newRequester(providerTokenview, tokenviewDefaultURL, opts, logger),
		apiKey: strings.TrimSpace(opts.APIKey),
	}
}

// Source implements QuoteSource.
func (t *Tokenview) Source() risk.DataSource { return risk.SourceTokenview }

// FetchTokenInfo retrieves /token/info/{chain}/{address}.
func (t *Tokenview) FetchTokenInfo(ctx context.Context, chain, address string) (TokenInfo, error) {
	if t.apiKey == "" {
		return TokenInfo{}, unavailableError(providerTokenview, "api key not configured")
	}
	if !ValidAddress(address) {
		return TokenInfo{}, validationError(providerTokenview, "invalid token address %q", address)
	}
	c, _ := NormalizeChain(chain)
	code, ok := tokenviewChains[c]
	if !ok {
		return TokenInfo{}, validationError(providerTokenview, "unsupported chain %q", chain)
	}

	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data *struct {
			HolderCount any   `json:"holderCount"`
			Verified    *bool `json:"verified"`
			TotalSupply any   `json:"totalSupply"`
			Price       any   `json:"price"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/token/info/%s/%s", code, strings.ToLower(address))
	if err := t.req.getJSON(ctx, path, url.Values{"apikey": {t.apiKey}}, &payload); err != nil {
		return TokenInfo{}, err
	}
	// 业务码非 1 时 data 为空
	if payload.Code != tokenviewOK || payload.Data == nil {
		return TokenInfo{}, &Error{Provider: providerTokenview, Kind: KindNotFound, Message: fmt.Sprintf("code %d: %s", payload.Code, payload.Msg)}
	}

	d := payload.Data
	info := TokenInfo{Verified: d.Verified}
	if n, ok := numeric(d.HolderCount); ok {
		info.HolderCount = int(n)
	}
	if v, ok := numeric(d.TotalSupply); ok && v > 0 {
		info.TotalSupply = floatPtr(v)
	}
	if v, ok := numeric(d.Price); ok && v > 0 {
		info.Price = floatPtr(v)
	}
	return info, nil
}

// FetchQuote reports the explorer price and supply.
func (t *Tokenview) FetchQuote(ctx context.Context, req QuoteRequest) (Quote, error) {
	info, err := t.FetchTokenInfo(ctx, req.Chain, req.Address)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Source: risk.SourceTokenview, Price: info.Price, TotalSupply: info.TotalSupply}, nil
}

var (
	_ TokenInfoSource = (*Tokenview)(nil)
	_ QuoteSource     = (*Tokenview)(nil)
)
