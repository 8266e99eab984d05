package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/risk"
)

const daiAddress = "0x6B175474E89094C44Da98b954EedeAC495271d0F"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func sampleToken() risk.TokenData {
	return risk.TokenData{
		ID:                  "dai",
		Symbol:              "dai",
		Name:                "Dai",
		MarketCapRank:       20,
		CurrentPrice:        1,
		MarketCap:           5_000_000_000,
		TotalVolume:         200_000_000,
		High24h:             1.001,
		Low24h:              0.999,
		TotalSupply:         5_000_000_000,
		CirculatingSupply:   5_000_000_000,
		MaxSupply:           f64(10_000_000_000),
		CommunityData:       &risk.CommunityData{RedditSubscribers: 50_000, TelegramChannelUserCount: 60_000},
		DeveloperData:       &risk.DeveloperData{CommitCount4Weeks: 40, PullRequestContributors: 25, TotalIssues: 100, ClosedIssues: 90},
		Platforms:           map[string]string{"ethereum": daiAddress},
		DataSource:          risk.SourceCoinGecko,
		ATHChangePercentage: -5,
	}
}

type fakeTokens struct {
	mu      sync.Mutex
	tokens  map[string]risk.TokenData
	aliases map[string]string
	calls   []string
}

func (f *fakeTokens) FetchToken(_ context.Context, id string) (risk.TokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if t, ok := f.tokens[id]; ok {
		return t, nil
	}
	return risk.TokenData{}, &fetcher.Error{Provider: "fake", Kind: fetcher.KindNotFound, Message: id}
}

func (f *fakeTokens) ResolveTokenID(_ context.Context, q string) (string, error) {
	if id, ok := f.aliases[q]; ok {
		return id, nil
	}
	return "", &fetcher.Error{Provider: "fake", Kind: fetcher.KindNotFound}
}

type fakeHolders struct{ snap fetcher.HolderSnapshot }

func (f fakeHolders) FetchHolders(context.Context, string, string) (fetcher.HolderSnapshot, error) {
	return f.snap, nil
}

type fakeInfo struct{ info fetcher.TokenInfo }

func (f fakeInfo) FetchTokenInfo(context.Context, string, string) (fetcher.TokenInfo, error) {
	return f.info, nil
}

type fakeInspector struct {
	info fetcher.ContractInfo
	err  error
}

func (f fakeInspector) InspectContract(context.Context, string, string) (fetcher.ContractInfo, error) {
	return f.info, f.err
}

type fakeQuotes struct{ q fetcher.Quote }

func (f fakeQuotes) Source() risk.DataSource { return f.q.Source }
func (f fakeQuotes) FetchQuote(context.Context, fetcher.QuoteRequest) (fetcher.Quote, error) {
	return f.q, nil
}

type fakeHistory struct {
	points []ScorePoint
	peers  []float64
}

func (f fakeHistory) RecentScores(context.Context, string, int) ([]ScorePoint, error) {
	return f.points, nil
}

func (f fakeHistory) PeerScores(context.Context, string, int) ([]float64, error) {
	return f.peers, nil
}

func newAnalyzer(t *testing.T, sources Sources, history History, opts Options) *Analyzer {
	t.Helper()
	opts.Now = func() time.Time { return fixedNow }
	a, err := New(sources, history, opts, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func TestNewRequiresTokenSource(t *testing.T) {
	_, err := New(Sources{}, nil, Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestAnalyzeTokenOnlyUsesTaggedFallbacks(t *testing.T) {
	token := sampleToken()
	token.Platforms = nil
	a := newAnalyzer(t, Sources{Token: &fakeTokens{tokens: map[string]risk.TokenData{"dai": token}}}, nil, Options{})

	res, err := a.Analyze(context.Background(), Request{TokenID: "DAI"})
	require.NoError(t, err)

	assert.False(t, res.Fallback)
	assert.Equal(t, []string{ComponentWallet, ComponentContract}, res.FallbackSources)
	assert.Equal(t, risk.SourceFallback, res.WalletConcentration.DataSource)
	assert.Equal(t, risk.SourceFallback, res.ContractSecurity.DataSource)
	assert.Contains(t, res.Alerts, "Fallback data used for: wallet_concentration, contract_security")

	c := res.Confidence
	require.NotNil(t, c.DataCompleteness)
	require.NotNil(t, c.SourceReliability)
	assert.Nil(t, c.TemporalConsistency)
	assert.Nil(t, c.CrossValidationScore)
	assert.InDelta(t, 10.0/12.0, *c.DataCompleteness, 1e-9)
	assert.InDelta(t, 0.95, *c.SourceReliability, 1e-9)
	want := (10.0/12.0*0.30 + 0.95*0.25) / 0.55
	assert.InDelta(t, want, c.OverallConfidence, 1e-9)

	assert.Equal(t, res.BaseScore, res.OverallScore, "confidence above 0.6 leaves the score unchanged")
	assert.Equal(t, risk.LevelFromScore(res.OverallScore), res.RiskLevel)
	assert.Equal(t, StatusUnavailable, res.HistoricalTrend.Status)
	assert.Equal(t, StatusUnavailable, res.PeerComparison.Status)
	assert.Equal(t, fixedNow, res.AnalyzedAt)
}

func TestAnalyzeWithAllSources(t *testing.T) {
	verified := true
	var calls sync.Map
	sources := Sources{
		Token: &fakeTokens{tokens: map[string]risk.TokenData{"dai": sampleToken()}},
		Holders: fakeHolders{snap: fetcher.HolderSnapshot{
			Percentages:  []float64{30, 25, 10, 5, 5},
			TotalHolders: 1000,
		}},
		TokenInfo: fakeInfo{info: fetcher.TokenInfo{HolderCount: 5000, Verified: &verified, Price: f64(1.0), TotalSupply: f64(5_000_000_000)}},
		Contract:  fakeInspector{info: fetcher.ContractInfo{HasCode: true, HasMintFunction: true}},
		Quotes: []fetcher.QuoteSource{
			fakeQuotes{q: fetcher.Quote{Source: risk.SourceMobula, Price: f64(1.001), MarketCap: f64(5_010_000_000), LiquidityUSD: f64(150_000_000)}},
		},
	}
	call := func(ctx context.Context, name string, fn func(context.Context) error) error {
		calls.Store(name, true)
		return fn(ctx)
	}
	a := newAnalyzer(t, sources, nil, Options{Call: call})

	res, err := a.Analyze(context.Background(), Request{TokenID: "dai", CrossValidate: true})
	require.NoError(t, err)

	assert.Empty(t, res.FallbackSources)
	assert.Equal(t, risk.SourceMoralis, res.WalletConcentration.DataSource)
	assert.Equal(t, 75.0, res.WalletConcentration.Top10HoldersPercentage)
	assert.Equal(t, 5000, res.WalletConcentration.TotalHolders)
	assert.Equal(t, risk.SourceOnchain, res.ContractSecurity.DataSource)
	assert.True(t, res.ContractSecurity.IsVerified)
	assert.InDelta(t, 30.0, res.TradingBehavior.LiquidityScore, 1e-9, "pooled liquidity / market cap drives the liquidity score")

	assert.ElementsMatch(t,
		[]risk.DataSource{risk.SourceCoinGecko, risk.SourceMoralis, risk.SourceOnchain, risk.SourceDerived, risk.SourceTokenview, risk.SourceMobula},
		res.DataSources)

	require.NotNil(t, res.CrossValidation)
	assert.Len(t, res.CrossValidation.Results["price"].SourceValues, 3)
	require.NotNil(t, res.Confidence.CrossValidationScore)
	assert.Contains(t, res.Alerts, "Whale concentration: top 10 holders control 75.0% of supply")
	assert.Contains(t, res.Alerts, "Mint authority: an active owner can create new supply")

	for _, name := range []string{"token", "holders", "token_info", "contract", "mobula_quote"} {
		_, ok := calls.Load(name)
		assert.True(t, ok, "call wrapper should see %s", name)
	}
}

func TestAnalyzeContractFailureKeepsVerification(t *testing.T) {
	verified := true
	sources := Sources{
		Token:     &fakeTokens{tokens: map[string]risk.TokenData{"dai": sampleToken()}},
		TokenInfo: fakeInfo{info: fetcher.TokenInfo{Verified: &verified}},
		Contract:  fakeInspector{err: &fetcher.Error{Kind: fetcher.KindUnavailable}},
	}
	a := newAnalyzer(t, sources, nil, Options{})

	res, err := a.Analyze(context.Background(), Request{TokenID: "dai"})
	require.NoError(t, err)
	assert.Equal(t, risk.SourceTokenview, res.ContractSecurity.DataSource)
	assert.True(t, res.ContractSecurity.IsVerified)
	assert.NotContains(t, res.FallbackSources, ComponentContract)
}

func TestAnalyzeStrictReturnsTypedError(t *testing.T) {
	a := newAnalyzer(t, Sources{Token: &fakeTokens{}}, nil, Options{})

	_, err := a.Analyze(context.Background(), Request{TokenID: "nope"})
	require.Error(t, err)
	assert.Equal(t, fetcher.KindNotFound, fetcher.KindOf(err))

	_, err = a.Analyze(context.Background(), Request{TokenID: " "})
	assert.Equal(t, fetcher.KindValidation, fetcher.KindOf(err))
}

func TestAnalyzeResolvesTicker(t *testing.T) {
	tokens := &fakeTokens{
		tokens:  map[string]risk.TokenData{"dai": sampleToken()},
		aliases: map[string]string{"makerdai": "dai"},
	}
	a := newAnalyzer(t, Sources{Token: tokens}, nil, Options{})

	res, err := a.Analyze(context.Background(), Request{TokenID: "MakerDAI"})
	require.NoError(t, err)
	assert.Equal(t, "dai", res.TokenID)
	assert.Equal(t, []string{"makerdai", "dai"}, tokens.calls)
}

func TestComprehensiveAnalysisFallback(t *testing.T) {
	a := newAnalyzer(t, Sources{Token: &fakeTokens{}}, nil, Options{})

	res := a.PerformComprehensiveAnalysis(context.Background(), Request{TokenID: "ghost"})

	assert.True(t, res.Fallback)
	assert.Equal(t, 65.0, res.OverallScore)
	assert.Equal(t, risk.LevelMedium, res.RiskLevel)
	assert.Len(t, res.RiskFactors, 7)
	assert.NotEmpty(t, res.FallbackReason)
	assert.Contains(t, res.Alerts, "Fallback analysis: not_found error from primary source")
	assert.Zero(t, res.Confidence.OverallConfidence)
}

func TestHistoryDrivesTemporalTrendAndPeers(t *testing.T) {
	history := fakeHistory{
		points: []ScorePoint{
			{At: fixedNow.Add(-time.Hour), Score: 30},
			{At: fixedNow.Add(-48 * time.Hour), Score: 10},
			{At: fixedNow.Add(-24 * time.Hour), Score: 20},
		},
		peers: []float64{10, 20, 90, 95},
	}
	a := newAnalyzer(t, Sources{Token: &fakeTokens{tokens: map[string]risk.TokenData{"dai": sampleToken()}}}, history, Options{})

	res, err := a.Analyze(context.Background(), Request{TokenID: "dai", IncludeHistorical: true})
	require.NoError(t, err)

	require.NotNil(t, res.Confidence.TemporalConsistency)
	// stddev of 10,20,30 is ~8.165
	assert.InDelta(t, 1-8.16496580927726/25, *res.Confidence.TemporalConsistency, 1e-9)

	trend := res.HistoricalTrend
	assert.Equal(t, StatusAvailable, trend.Status)
	require.Len(t, trend.Points, 3)
	assert.Equal(t, 10.0, trend.Points[0].Score, "points are oldest first")
	assert.InDelta(t, res.OverallScore-10, trend.Change, 1e-9)

	peers := res.PeerComparison
	assert.Equal(t, StatusAvailable, peers.Status)
	assert.Equal(t, 4, peers.PeerCount)
	assert.InDelta(t, 53.75, peers.PeerAvg, 1e-9)
}

func TestAdjustedScore(t *testing.T) {
	assert.Equal(t, 61.0, adjustedScore(50, 0.3))
	assert.Equal(t, 53.0, adjustedScore(50, 0.5))
	assert.Equal(t, 50.0, adjustedScore(50, 0.8))
	assert.Equal(t, 100.0, adjustedScore(95, 0))
}

func TestBlendRenormalises(t *testing.T) {
	assert.InDelta(t, 0.5, blend(ConfidenceMetrics{DataCompleteness: f64(0.5)}), 1e-9)
	assert.Zero(t, blend(ConfidenceMetrics{}))
	full := ConfidenceMetrics{DataCompleteness: f64(1), SourceReliability: f64(1), TemporalConsistency: f64(0), CrossValidationScore: f64(0)}
	assert.InDelta(t, 0.55, blend(full), 1e-9)
}

func TestTrendDirections(t *testing.T) {
	pts := []ScorePoint{{At: fixedNow, Score: 60}, {At: fixedNow.Add(-time.Hour), Score: 50}}
	assert.Equal(t, TrendWorsening, historicalTrend(56, pts, true).Direction)
	assert.Equal(t, TrendImproving, historicalTrend(44, pts, true).Direction)
	assert.Equal(t, TrendStable, historicalTrend(55, pts, true).Direction)
	assert.Equal(t, StatusUnavailable, historicalTrend(55, nil, true).Status)
	assert.Equal(t, StatusUnavailable, historicalTrend(55, pts, false).Status)
}

func TestTrendNeedsTwoPoints(t *testing.T) {
	single := historicalTrend(80, []ScorePoint{{At: fixedNow, Score: 20}}, true)
	assert.Equal(t, StatusUnavailable, single.Status)
	assert.Empty(t, single.Points)
	assert.Empty(t, single.Direction)
}

func TestPeerComparisonNeedsThreePeers(t *testing.T) {
	assert.Equal(t, StatusUnavailable, peerComparison(50, []float64{1, 2}).Status)
	pc := peerComparison(50, []float64{10, 20, 30, 90})
	assert.Equal(t, 75.0, pc.Percentile)
	assert.Equal(t, "higher", pc.Relative)
}

func TestGatherToleratesErrors(t *testing.T) {
	sources := Sources{
		Token:    &fakeTokens{tokens: map[string]risk.TokenData{"dai": sampleToken()}},
		Contract: fakeInspector{err: errors.New("rpc down")},
	}
	a := newAnalyzer(t, sources, nil, Options{})
	res, err := a.Analyze(context.Background(), Request{TokenID: "dai"})
	require.NoError(t, err)
	assert.Contains(t, res.FallbackSources, ComponentContract)
}
