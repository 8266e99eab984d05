package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crypto-risk-scorer/internal/risk"
)

const (
	providerCoinGecko   = "coingecko"
	coinGeckoDefaultURL = "https://api.coingecko.com/api/v3"
)

// fallbackTokenIDs resolves common tickers without a search round trip.
var fallbackTokenIDs = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"usdt":  "tether",
	"usdc":  "usd-coin",
	"bnb":   "binancecoin",
	"sol":   "solana",
	"xrp":   "ripple",
	"ada":   "cardano",
	"doge":  "dogecoin",
	"trx":   "tron",
	"dot":   "polkadot",
	"matic": "matic-network",
	"link":  "chainlink",
	"ltc":   "litecoin",
	"avax":  "avalanche-2",
	"shib":  "shiba-inu",
	"uni":   "uniswap",
	"pepe":  "pepe",
	"arb":   "arbitrum",
	"dai":   "dai",
}

// CoinGecko is the primary market-data client.
type CoinGecko struct {
	req *requester
}

// NewCoinGecko constructs a CoinGecko client. Keys for the pro endpoint are
// sent as x-cg-pro-api-key, others as x-cg-demo-api-key.
func NewCoinGecko(opts ClientOptions, logger zerolog.Logger) *CoinGecko {
	r := newRequester(providerCoinGecko, coinGeckoDefaultURL, opts, logger)
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		header := "x-cg-demo-api-key"
		if strings.Contains(r.baseURL, "pro-api") {
			header = "x-cg-pro-api-key"
		}
		r.authorize = func(req *http.Request) { req.Header.Set(header, key) }
	}
	return &CoinGecko{req: r}
}

// FetchToken retrieves /coins/{id} with market, community and developer data.
func (c *CoinGecko) FetchToken(ctx context.Context, tokenID string) (risk.TokenData, error) {
	tokenID = strings.ToLower(strings.TrimSpace(tokenID))
	if tokenID == "" {
		return risk.TokenData{}, validationError(providerCoinGecko, "token id required")
	}

	q := url.Values{}
	q.Set("localization", "false")
	q.Set("tickers", "false")
	q.Set("market_data", "true")
	q.Set("community_data", "true")
	q.Set("developer_data", "true")
	q.Set("sparkline", "false")

	var payload coinResponse
	if err := c.req.getJSON(ctx, "/coins/"+url.PathEscape(tokenID), q, &payload); err != nil {
		return risk.TokenData{}, err
	}
	if payload.ID == "" {
		return risk.TokenData{}, &Error{Provider: providerCoinGecko, Kind: KindNotFound, Message: "empty coin payload for " + tokenID}
	}
	return payload.toTokenData(), nil
}

// ResolveTokenID maps a ticker or free-text query onto a CoinGecko id.
func (c *CoinGecko) ResolveTokenID(ctx context.Context, query string) (string, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return "", validationError(providerCoinGecko, "query required")
	}
	if id, ok := fallbackTokenIDs[query]; ok {
		return id, nil
	}

	var payload struct {
		Coins []struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		} `json:"coins"`
	}
	if err := c.req.getJSON(ctx, "/search", url.Values{"query": {query}}, &payload); err != nil {
		return "", err
	}
	for _, coin := range payload.Coins {
		if strings.EqualFold(coin.Symbol, query) || coin.ID == query {
			return coin.ID, nil
		}
	}
	if len(payload.Coins) > 0 {
		return payload.Coins[0].ID, nil
	}
	return "", &Error{Provider: providerCoinGecko, Kind: KindNotFound, Message: "no coin matches " + query}
}

// QuoteFromToken extracts the cross-validated fields of a snapshot.
func QuoteFromToken(token risk.TokenData) Quote {
	q := Quote{Source: token.DataSource}
	if q.Source == "" {
		q.Source = risk.SourceCoinGecko
	}
	if token.CurrentPrice > 0 {
		q.Price = floatPtr(token.CurrentPrice)
	}
	if token.MarketCap > 0 {
		q.MarketCap = floatPtr(token.MarketCap)
	}
	if token.TotalVolume > 0 {
		q.TotalVolume = floatPtr(token.TotalVolume)
	}
	if token.CirculatingSupply > 0 {
		q.CirculatingSupply = floatPtr(token.CirculatingSupply)
	}
	if token.TotalSupply > 0 {
		q.TotalSupply = floatPtr(token.TotalSupply)
	}
	return q
}

// FetchGlobal retrieves /global.
func (c *CoinGecko) FetchGlobal(ctx context.Context) (GlobalMarket, error) {
	var payload struct {
		Data struct {
			ActiveCryptocurrencies          int                `json:"active_cryptocurrencies"`
			Markets                         int                `json:"markets"`
			TotalMarketCap                  map[string]float64 `json:"total_market_cap"`
			TotalVolume                     map[string]float64 `json:"total_volume"`
			MarketCapPercentage             map[string]float64 `json:"market_cap_percentage"`
			MarketCapChangePercentage24hUSD float64            `json:"market_cap_change_percentage_24h_usd"`
			UpdatedAt                       int64              `json:"updated_at"`
		} `json:"data"`
	}
	if err := c.req.getJSON(ctx, "/global", nil, &payload); err != nil {
		return GlobalMarket{}, err
	}
	d := payload.Data
	return GlobalMarket{
		ActiveCryptocurrencies: d.ActiveCryptocurrencies,
		Markets:                d.Markets,
		TotalMarketCapUSD:      d.TotalMarketCap["usd"],
		TotalVolumeUSD:         d.TotalVolume["usd"],
		MarketCapPercentage:    d.MarketCapPercentage,
		MarketCapChange24hPct:  d.MarketCapChangePercentage24hUSD,
		UpdatedAt:              time.Unix(d.UpdatedAt, 0).UTC(),
	}, nil
}

// FetchTrending retrieves /search/trending.
func (c *CoinGecko) FetchTrending(ctx context.Context) ([]TrendingCoin, error) {
	var payload struct {
		Coins []struct {
			Item struct {
				ID            string `json:"id"`
				Name          string `json:"name"`
				Symbol        string `json:"symbol"`
				MarketCapRank *int   `json:"market_cap_rank"`
				Score         int    `json:"score"`
			} `json:"item"`
		} `json:"coins"`
	}
	if err := c.req.getJSON(ctx, "/search/trending", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]TrendingCoin, 0, len(payload.Coins))
	for _, coin := range payload.Coins {
		tc := TrendingCoin{ID: coin.Item.ID, Name: coin.Item.Name, Symbol: coin.Item.Symbol, Score: coin.Item.Score}
		if coin.Item.MarketCapRank != nil {
			tc.MarketCapRank = *coin.Item.MarketCapRank
		}
		out = append(out, tc)
	}
	return out, nil
}

// FetchTopCoins retrieves /coins/markets ordered by market cap.
func (c *CoinGecko) FetchTopCoins(ctx context.Context, limit int) ([]risk.TokenData, error) {
	if limit <= 0 || limit > 250 {
		return nil, validationError(providerCoinGecko, "limit must be within 1..250, got %d", limit)
	}
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("page", "1")
	q.Set("sparkline", "false")

	var coins []risk.TokenData
	if err := c.req.getJSON(ctx, "/coins/markets", q, &coins); err != nil {
		return nil, err
	}
	for i := range coins {
		coins[i].DataSource = risk.SourceCoinGecko
	}
	return coins, nil
}

type usdMap map[string]*float64

func (m usdMap) usd() float64 {
	if v, ok := m["usd"]; ok && v != nil {
		return *v
	}
	return 0
}

type coinResponse struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	Name          string            `json:"name"`
	MarketCapRank *int              `json:"market_cap_rank"`
	Platforms     map[string]string `json:"platforms"`
	MarketData    struct {
		CurrentPrice             usdMap    `json:"current_price"`
		MarketCap                usdMap    `json:"market_cap"`
		FullyDilutedValuation    usdMap    `json:"fully_diluted_valuation"`
		TotalVolume              usdMap    `json:"total_volume"`
		High24h                  usdMap    `json:"high_24h"`
		Low24h                   usdMap    `json:"low_24h"`
		ATH                      usdMap    `json:"ath"`
		ATHChangePercentage      usdMap    `json:"ath_change_percentage"`
		ATL                      usdMap    `json:"atl"`
		ATLChangePercentage      usdMap    `json:"atl_change_percentage"`
		PriceChangePercentage24h *float64  `json:"price_change_percentage_24h"`
		PriceChangePercentage7d  *float64  `json:"price_change_percentage_7d"`
		TotalSupply              *float64  `json:"total_supply"`
		CirculatingSupply        *float64  `json:"circulating_supply"`
		MaxSupply                *float64  `json:"max_supply"`
		LastUpdated              time.Time `json:"last_updated"`
	} `json:"market_data"`
	CommunityData *struct {
		RedditSubscribers        *int `json:"reddit_subscribers"`
		TelegramChannelUserCount *int `json:"telegram_channel_user_count"`
		TwitterFollowers         *int `json:"twitter_followers"`
	} `json:"community_data"`
	DeveloperData *struct {
		Forks                   *int `json:"forks"`
		Stars                   *int `json:"stars"`
		Subscribers             *int `json:"subscribers"`
		TotalIssues             *int `json:"total_issues"`
		ClosedIssues            *int `json:"closed_issues"`
		PullRequestsMerged      *int `json:"pull_requests_merged"`
		PullRequestContributors *int `json:"pull_request_contributors"`
		CommitCount4Weeks       *int `json:"commit_count_4_weeks"`
	} `json:"developer_data"`
}

func (c coinResponse) toTokenData() risk.TokenData {
	md := c.MarketData
	token := risk.TokenData{
		ID:                       c.ID,
		Symbol:                   c.Symbol,
		Name:                     c.Name,
		CurrentPrice:             md.CurrentPrice.usd(),
		PriceChangePercentage24h: deref(md.PriceChangePercentage24h),
		PriceChangePercentage7d:  deref(md.PriceChangePercentage7d),
		MarketCap:                md.MarketCap.usd(),
		FullyDilutedValuation:    md.FullyDilutedValuation.usd(),
		TotalVolume:              md.TotalVolume.usd(),
		High24h:                  md.High24h.usd(),
		Low24h:                   md.Low24h.usd(),
		TotalSupply:              deref(md.TotalSupply),
		CirculatingSupply:        deref(md.CirculatingSupply),
		ATH:                      md.ATH.usd(),
		ATHChangePercentage:      md.ATHChangePercentage.usd(),
		ATL:                      md.ATL.usd(),
		ATLChangePercentage:      md.ATLChangePercentage.usd(),
		LastUpdated:              md.LastUpdated,
		DataSource:               risk.SourceCoinGecko,
	}
	if c.MarketCapRank != nil {
		token.MarketCapRank = *c.MarketCapRank
	}
	if md.MaxSupply != nil && *md.MaxSupply > 0 {
		token.MaxSupply = floatPtr(*md.MaxSupply)
	}

	// 平台地址为空字符串时丢弃
	for platform, addr := range c.Platforms {
		if platform == "" || strings.TrimSpace(addr) == "" {
			continue
		}
		if token.Platforms == nil {
			token.Platforms = make(map[string]string)
		}
		token.Platforms[platform] = addr
	}

	if cd := c.CommunityData; cd != nil && (cd.RedditSubscribers != nil || cd.TelegramChannelUserCount != nil || cd.TwitterFollowers != nil) {
		token.CommunityData = &risk.CommunityData{
			RedditSubscribers:        derefInt(cd.RedditSubscribers),
			TelegramChannelUserCount: derefInt(cd.TelegramChannelUserCount),
			TwitterFollowers:         derefInt(cd.TwitterFollowers),
		}
	}
	if dd := c.DeveloperData; dd != nil && (dd.CommitCount4Weeks != nil || dd.PullRequestContributors != nil || dd.TotalIssues != nil) {
		token.DeveloperData = &risk.DeveloperData{
			Forks:                   derefInt(dd.Forks),
			Stars:                   derefInt(dd.Stars),
			Subscribers:             derefInt(dd.Subscribers),
			TotalIssues:             derefInt(dd.TotalIssues),
			ClosedIssues:            derefInt(dd.ClosedIssues),
			PullRequestsMerged:      derefInt(dd.PullRequestsMerged),
			PullRequestContributors: derefInt(dd.PullRequestContributors),
			CommitCount4Weeks:       derefInt(dd.CommitCount4Weeks),
		}
	}
	return token
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

var (
	_ TokenSource  = (*CoinGecko)(nil)
	_ MarketSource = (*CoinGecko)(nil)
)
