package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"crypto-risk-scorer/internal/risk"
)

const (
	providerMobula   = "mobula"
	mobulaDefaultURL = "https://api.mobula.io/api/1"
)

// Mobula serves aggregated market data including pooled liquidity.
type Mobula struct {
	req *requester
}

// NewMobula constructs a Mobula client; the key goes in Authorization.
func NewMobula(opts ClientOptions, logger zerolog.Logger) *Mobula {
	r := newRequester(providerMobula, mobulaDefaultURL, opts, logger)
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		r.authorize = func(req *http.Request) { req.Header.Set("Authorization", key) }
	}
	return &Mobula{req: r}
}

// Source implements QuoteSource.
func (m *Mobula) Source() risk.DataSource { return risk.SourceMobula }

// FetchQuote retrieves /market/data by contract address when known, else by
// asset name.
func (m *Mobula) FetchQuote(ctx context.Context, req QuoteRequest) (Quote, error) {
	q := url.Values{}
	switch {
	case req.Address != "":
		if !ValidAddress(req.Address) {
			return Quote{}, validationError(providerMobula, "invalid token address %q", req.Address)
		}
		q.Set("asset", req.Address)
		if c, ok := NormalizeChain(req.Chain); ok {
			q.Set("blockchain", string(c))
		}
	case req.Name != "":
		q.Set("asset", req.Name)
	case req.TokenID != "":
		q.Set("asset", req.TokenID)
	default:
		return Quote{}, validationError(providerMobula, "asset identifier required")
	}

	var payload struct {
		Data *struct {
			Price             *float64 `json:"price"`
			MarketCap         *float64 `json:"market_cap"`
			Volume            *float64 `json:"volume"`
			Liquidity         *float64 `json:"liquidity"`
			TotalSupply       any      `json:"total_supply"`
			CirculatingSupply any      `json:"circulating_supply"`
		} `json:"data"`
	}
	if err := m.req.getJSON(ctx, "/market/data", q, &payload); err != nil {
		return Quote{}, err
	}
	if payload.Data == nil || payload.Data.Price == nil {
		return Quote{}, &Error{Provider: providerMobula, Kind: KindNotFound, Message: "asset not found: " + q.Get("asset")}
	}

	d := payload.Data
	quote := Quote{
		Source:      risk.SourceMobula,
		Price:       d.Price,
		MarketCap:   positive(d.MarketCap),
		TotalVolume: positive(d.Volume),
	}
	if d.Liquidity != nil && *d.Liquidity > 0 {
		quote.LiquidityUSD = d.Liquidity
	}
	if v, ok := numeric(d.TotalSupply); ok && v > 0 {
		quote.TotalSupply = floatPtr(v)
	}
	if v, ok := numeric(d.CirculatingSupply); ok && v > 0 {
		quote.CirculatingSupply = floatPtr(v)
	}
	return quote, nil
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

var _ QuoteSource = (*Mobula)(nil)
