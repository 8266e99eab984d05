// Package analyzer gathers provider data for a token, runs the risk
// calculator over it and grades the result with confidence metrics.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/risk"
	"crypto-risk-scorer/internal/validation"
)

// Fallback component names reported in FallbackSources.
const (
	ComponentWallet   = "wallet_concentration"
	ComponentContract = "contract_security"
	ComponentTrading  = "trading_behavior"
)

// Sources are the providers an Analyzer draws on. Only Token is required.
type Sources struct {
	Token     fetcher.TokenSource
	Holders   fetcher.HolderSource
	TokenInfo fetcher.TokenInfoSource
	Contract  fetcher.ContractInspector
	// Quotes feed cross-validation alongside the primary token source.
	Quotes []fetcher.QuoteSource
}

// History reads stored scores.
type History interface {
	RecentScores(ctx context.Context, tokenID string, limit int) ([]ScorePoint, error)
	PeerScores(ctx context.Context, excludeTokenID string, limit int) ([]float64, error)
}

// CallFunc runs one provider call, e.g. with retries.
type CallFunc func(ctx context.Context, name string, fn func(ctx context.Context) error) error

// Recorder observes fallback substitutions.
type Recorder interface {
	FallbackUsed(component string)
}

// Options tune an Analyzer.
type Options struct {
	DefaultChain string
	HistoryDepth int
	PeerLimit    int
	Call         CallFunc
	Recorder     Recorder
	Now          func() time.Time
}

// Analyzer produces EnhancedRiskAnalysis values.
type Analyzer struct {
	sources   Sources
	history   History
	validator *validation.Validator
	opts      Options
	logger    zerolog.Logger
}

// New builds an Analyzer. history may be nil.
func New(sources Sources, history History, opts Options, logger zerolog.Logger) (*Analyzer, error) {
	if sources.Token == nil {
		return nil, errors.New("token source required")
	}
	if opts.DefaultChain == "" {
		opts.DefaultChain = string(fetcher.ChainEthereum)
	}
	if opts.HistoryDepth <= 0 {
		opts.HistoryDepth = 30
	}
	if opts.PeerLimit <= 0 {
		opts.PeerLimit = 200
	}
	if opts.Call == nil {
		opts.Call = func(ctx context.Context, _ string, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{
		sources:   sources,
		history:   history,
		validator: validation.New(),
		opts:      opts,
		logger:    logger.With().Str("component", "analyzer").Logger(),
	}, nil
}

// Analyze returns the analysis or the error of the mandatory token fetch.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (EnhancedRiskAnalysis, error) {
	req.TokenID = strings.ToLower(strings.TrimSpace(req.TokenID))
	if req.TokenID == "" {
		return EnhancedRiskAnalysis{}, &fetcher.Error{Provider: "analyzer", Kind: fetcher.KindValidation, Message: "tokenId required"}
	}
	if req.Blockchain == "" {
		req.Blockchain = a.opts.DefaultChain
	}

	token, err := a.fetchToken(ctx, req.TokenID)
	if err != nil {
		return EnhancedRiskAnalysis{}, fmt.Errorf("fetch token %s: %w", req.TokenID, err)
	}
	if req.TokenAddress == "" {
		req.TokenAddress = platformAddress(token, req.Blockchain)
	}

	g := a.gather(ctx, req, token)
	return a.assemble(req, token, g), nil
}

// PerformComprehensiveAnalysis always answers: if the token cannot be
// fetched it returns the fallback analysis instead of an error.
func (a *Analyzer) PerformComprehensiveAnalysis(ctx context.Context, req Request) EnhancedRiskAnalysis {
	req.CrossValidate = true
	res, err := a.Analyze(ctx, req)
	if err != nil {
		a.logger.Warn().Err(err).Str("token", req.TokenID).Msg("analysis failed, returning fallback")
		a.recordFallback("analysis")
		return FallbackAnalysis(req.TokenID, err, a.opts.Now())
	}
	return res
}

func (a *Analyzer) fetchToken(ctx context.Context, tokenID string) (risk.TokenData, error) {
	var token risk.TokenData
	err := a.opts.Call(ctx, "token", func(ctx context.Context) error {
		var err error
		token, err = a.sources.Token.FetchToken(ctx, tokenID)
		return err
	})
	if err == nil || fetcher.KindOf(err) != fetcher.KindNotFound {
		return token, err
	}

	// ticker 或名称: 先解析为 id 再取一次
	var resolved string
	if rerr := a.opts.Call(ctx, "resolve", func(ctx context.Context) error {
		var err error
		resolved, err = a.sources.Token.ResolveTokenID(ctx, tokenID)
		return err
	}); rerr != nil || resolved == "" || resolved == tokenID {
		return token, err
	}

	a.logger.Debug().Str("query", tokenID).Str("resolved", resolved).Msg("token id resolved")
	err = a.opts.Call(ctx, "token", func(ctx context.Context) error {
		var err error
		token, err = a.sources.Token.FetchToken(ctx, resolved)
		return err
	})
	return token, err
}

// gathered holds the optional inputs; nil pointers mean the source failed
// or was not configured.
type gathered struct {
	holders   *fetcher.HolderSnapshot
	info      *fetcher.TokenInfo
	contract  *fetcher.ContractInfo
	quotes    []fetcher.Quote
	history   []ScorePoint
	peers     []float64
	failures  map[string]error
	failureMu sync.Mutex
}

func (g *gathered) fail(name string, err error) {
	g.failureMu.Lock()
	defer g.failureMu.Unlock()
	g.failures[name] = err
}

func (a *Analyzer) gather(ctx context.Context, req Request, token risk.TokenData) *gathered {
	g := &gathered{failures: make(map[string]error)}
	eg, egCtx := errgroup.WithContext(ctx)
	hasAddr := fetcher.ValidAddress(req.TokenAddress)

	if a.sources.Holders != nil && hasAddr {
		eg.Go(func() error {
			var snap fetcher.HolderSnapshot
			err := a.opts.Call(egCtx, "holders", func(ctx context.Context) error {
				var err error
				snap, err = a.sources.Holders.FetchHolders(ctx, req.Blockchain, req.TokenAddress)
				return err
			})
			if err != nil {
				g.fail("holders", err)
				return nil
			}
			g.holders = &snap
			return nil
		})
	}

	if a.sources.TokenInfo != nil && hasAddr {
		eg.Go(func() error {
			var info fetcher.TokenInfo
			err := a.opts.Call(egCtx, "token_info", func(ctx context.Context) error {
				var err error
				info, err = a.sources.TokenInfo.FetchTokenInfo(ctx, req.Blockchain, req.TokenAddress)
				return err
			})
			if err != nil {
				g.fail("token_info", err)
				return nil
			}
			g.info = &info
			return nil
		})
	}

	if a.sources.Contract != nil && hasAddr {
		eg.Go(func() error {
			var info fetcher.ContractInfo
			err := a.opts.Call(egCtx, "contract", func(ctx context.Context) error {
				var err error
				info, err = a.sources.Contract.InspectContract(ctx, req.Blockchain, req.TokenAddress)
				return err
			})
			if err != nil {
				g.fail("contract", err)
				return nil
			}
			g.contract = &info
			return nil
		})
	}

	quotes := make([]*fetcher.Quote, len(a.sources.Quotes))
	for i, src := range a.sources.Quotes {
		eg.Go(func() error {
			var q fetcher.Quote
			err := a.opts.Call(egCtx, string(src.Source())+"_quote", func(ctx context.Context) error {
				var err error
				q, err = src.FetchQuote(ctx, fetcher.QuoteRequest{
					TokenID: token.ID,
					Symbol:  token.Symbol,
					Name:    token.Name,
					Address: req.TokenAddress,
					Chain:   req.Blockchain,
				})
				return err
			})
			if err != nil {
				g.fail(string(src.Source())+"_quote", err)
				return nil
			}
			quotes[i] = &q
			return nil
		})
	}

	if a.history != nil {
		eg.Go(func() error {
			points, err := a.history.RecentScores(egCtx, token.ID, a.opts.HistoryDepth)
			if err != nil {
				g.fail("history", err)
				return nil
			}
			g.history = points
			return nil
		})
		eg.Go(func() error {
			peers, err := a.history.PeerScores(egCtx, token.ID, a.opts.PeerLimit)
			if err != nil {
				g.fail("peers", err)
				return nil
			}
			g.peers = peers
			return nil
		})
	}

	_ = eg.Wait()

	for _, q := range quotes {
		if q != nil {
			g.quotes = append(g.quotes, *q)
		}
	}
	for name, err := range g.failures {
		a.logger.Debug().Err(err).Str("source", name).Str("token", token.ID).Msg("optional source failed")
	}
	return g
}

func (a *Analyzer) assemble(req Request, token risk.TokenData, g *gathered) EnhancedRiskAnalysis {
	var fallbacks []string

	wallet := a.walletConcentration(g)
	if wallet.DataSource == risk.SourceFallback {
		fallbacks = append(fallbacks, ComponentWallet)
	}
	contract := contractSecurity(g)
	if contract.DataSource == risk.SourceFallback {
		fallbacks = append(fallbacks, ComponentContract)
	}
	liquidity := liquidityUSD(g.quotes)
	trading := risk.DeriveTradingBehavior(token, liquidity)
	if token.MarketCap <= 0 {
		trading = risk.DefaultTradingBehavior()
		fallbacks = append(fallbacks, ComponentTrading)
	}
	for _, name := range fallbacks {
		a.recordFallback(name)
	}

	base := risk.CalculateOverallRisk(token, wallet, contract, trading)
	base.TokenID = token.ID
	now := a.opts.Now().UTC()
	base.LastUpdated = now

	var report *validation.Report
	if req.CrossValidate {
		report = a.crossValidate(token, g)
	}

	out := EnhancedRiskAnalysis{
		Analysis:            base,
		BaseScore:           base.OverallScore,
		Token:               token,
		WalletConcentration: wallet,
		ContractSecurity:    contract,
		TradingBehavior:     trading,
		CrossValidation:     report,
		FallbackSources:     fallbacks,
		AnalyzedAt:          now,
	}
	if out.FallbackSources == nil {
		out.FallbackSources = []string{}
	}
	out.DataSources = contributingSources(base.DataSources, g)

	out.Confidence = confidenceMetrics(token, wallet, contract, liquidity != nil, out.DataSources, g.history, report)
	out.OverallScore = adjustedScore(base.OverallScore, out.Confidence.OverallConfidence)
	out.RiskLevel = risk.LevelFromScore(out.OverallScore)

	if req.IncludeHistorical {
		out.HistoricalTrend = historicalTrend(out.OverallScore, g.history, a.history != nil)
	} else {
		out.HistoricalTrend = HistoricalTrend{Status: StatusUnavailable}
	}
	out.PeerComparison = peerComparison(out.OverallScore, g.peers)
	out.Alerts = generateAlerts(out)
	return out
}

func (a *Analyzer) walletConcentration(g *gathered) risk.WalletConcentration {
	holderCount := 0
	if g.info != nil {
		holderCount = g.info.HolderCount
	}
	if g.holders != nil && len(g.holders.Percentages) > 0 {
		total := g.holders.TotalHolders
		if holderCount > total {
			total = holderCount
		}
		return risk.ConcentrationFromHolders(g.holders.Percentages, total, risk.SourceMoralis)
	}
	wc := risk.DefaultWalletConcentration()
	wc.TotalHolders = holderCount
	return wc
}

func contractSecurity(g *gathered) risk.ContractSecurity {
	var verified *bool
	if g.info != nil {
		verified = g.info.Verified
	}

	if g.contract == nil {
		cs := risk.DefaultContractSecurity()
		if verified != nil {
			cs.IsVerified = *verified
			cs.DataSource = risk.SourceTokenview
			cs.SecurityScore = risk.SecurityScore(cs)
		}
		return cs
	}

	cs := risk.ContractSecurity{
		HasProxy:           g.contract.HasProxy,
		HasMintFunction:    g.contract.HasMintFunction,
		HasPauseFunction:   g.contract.HasPauseFunction,
		OwnershipRenounced: g.contract.OwnershipRenounced,
		DataSource:         risk.SourceOnchain,
	}
	if verified != nil {
		cs.IsVerified = *verified
	}
	cs.SecurityScore = risk.SecurityScore(cs)
	return cs
}

func liquidityUSD(quotes []fetcher.Quote) *float64 {
	var best *float64
	for _, q := range quotes {
		if q.LiquidityUSD == nil {
			continue
		}
		if best == nil || *q.LiquidityUSD > *best {
			v := *q.LiquidityUSD
			best = &v
		}
	}
	return best
}

func (a *Analyzer) crossValidate(token risk.TokenData, g *gathered) *validation.Report {
	primary := fetcher.QuoteFromToken(token)
	sources := map[risk.DataSource]validation.Fields{
		primary.Source: fieldsFromQuote(primary),
	}
	for _, q := range g.quotes {
		sources[q.Source] = fieldsFromQuote(q)
	}
	if g.info != nil {
		if _, ok := sources[risk.SourceTokenview]; !ok {
			sources[risk.SourceTokenview] = validation.Fields{Price: g.info.Price, TotalSupply: g.info.TotalSupply}
		}
	}
	report := a.validator.ValidateTokenData(token.ID, sources)
	return &report
}

func fieldsFromQuote(q fetcher.Quote) validation.Fields {
	return validation.Fields{
		Price:             q.Price,
		MarketCap:         q.MarketCap,
		TotalVolume:       q.TotalVolume,
		CirculatingSupply: q.CirculatingSupply,
		TotalSupply:       q.TotalSupply,
	}
}

// contributingSources adds quote and explorer providers that returned data.
func contributingSources(base []risk.DataSource, g *gathered) []risk.DataSource {
	seen := make(map[risk.DataSource]bool, len(base))
	out := make([]risk.DataSource, 0, len(base)+len(g.quotes)+1)
	add := func(s risk.DataSource) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range base {
		add(s)
	}
	if g.info != nil {
		add(risk.SourceTokenview)
	}
	for _, q := range g.quotes {
		add(q.Source)
	}
	return out
}

// platformAddress finds the contract address of token on chain.
func platformAddress(token risk.TokenData, chain string) string {
	want, ok := fetcher.NormalizeChain(chain)
	if !ok {
		return ""
	}
	for platform, addr := range token.Platforms {
		if c, ok := fetcher.NormalizeChain(platform); ok && c == want && fetcher.ValidAddress(addr) {
			return addr
		}
	}
	return ""
}

func adjustedScore(base, confidence float64) float64 {
	score := base
	switch {
	case confidence < 0.4:
		score += 15 * (1 - confidence)
	case confidence < 0.6:
		score += 5 * (1 - confidence)
	}
	return risk.Clamp(math.Round(score))
}

func (a *Analyzer) recordFallback(component string) {
	if a.opts.Recorder != nil {
		a.opts.Recorder.FallbackUsed(component)
	}
}
