package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-scorer/internal/alerting"
	"crypto-risk-scorer/internal/analyzer"
	"crypto-risk-scorer/internal/cache"
	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/risk"
	"crypto-risk-scorer/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeAnalyzer answers from a score/price table and counts calls.
type fakeAnalyzer struct {
	mu     sync.Mutex
	scores map[string]float64
	prices map[string]float64
	fail   map[string]error
	calls  atomic.Int32

	// gate 非空时 Analyze 阻塞到 gate 关闭，started 收到开始信号
	gate    chan struct{}
	started chan struct{}
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		scores: map[string]float64{},
		prices: map[string]float64{},
		fail:   map[string]error{},
	}
}

func (f *fakeAnalyzer) set(id string, score, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[id] = score
	f.prices[id] = price
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (analyzer.EnhancedRiskAnalysis, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return analyzer.EnhancedRiskAnalysis{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[req.TokenID]; ok {
		return analyzer.EnhancedRiskAnalysis{}, err
	}
	score, ok := f.scores[req.TokenID]
	if !ok {
		score = 30
	}
	return analyzer.EnhancedRiskAnalysis{
		Analysis: risk.Analysis{
			TokenID:      req.TokenID,
			OverallScore: score,
			RiskLevel:    risk.LevelFromScore(score),
			DataSources:  []risk.DataSource{risk.SourceCoinGecko},
		},
		Token:      risk.TokenData{ID: req.TokenID, Symbol: req.TokenID[:3], CurrentPrice: f.prices[req.TokenID]},
		Confidence: analyzer.ConfidenceMetrics{OverallConfidence: 0.8},
		Alerts:     []string{"watch"},
	}, nil
}

func (f *fakeAnalyzer) PerformComprehensiveAnalysis(ctx context.Context, req analyzer.Request) analyzer.EnhancedRiskAnalysis {
	res, err := f.Analyze(ctx, req)
	if err != nil {
		return analyzer.FallbackAnalysis(req.TokenID, err, time.Now())
	}
	return res
}

type sleepSpy struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepSpy) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

type snapshotSpy struct {
	mu    sync.Mutex
	snaps []storage.RiskSnapshot
}

func (s *snapshotSpy) InsertSnapshot(_ context.Context, snap storage.RiskSnapshot) (storage.RiskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return snap, nil
}

func (s *snapshotSpy) ListRecentSnapshots(context.Context, string, int) ([]storage.RiskSnapshot, error) {
	return nil, nil
}

func (s *snapshotSpy) ListSnapshotsBetween(context.Context, string, time.Time, time.Time) ([]storage.RiskSnapshot, error) {
	return nil, nil
}

func (s *snapshotSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

type fixture struct {
	svc       *Service
	analyzer  *fakeAnalyzer
	clock     *clock
	sleeps    *sleepSpy
	snapshots *snapshotSpy
	notes     *noteSpy
	alerts    *alertSpy
	market    *fakeMarket
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	fx := &fixture{
		analyzer:  newFakeAnalyzer(),
		clock:     newClock(),
		sleeps:    &sleepSpy{},
		snapshots: &snapshotSpy{},
		notes:     &noteSpy{},
		alerts:    &alertSpy{},
		market:    &fakeMarket{},
	}
	opts := Options{
		CacheDuration:    5 * time.Minute,
		MaxCacheDuration: time.Hour,
		BatchSize:        5,
		BatchDelay:       time.Second,
		AlertsEnabled:    true,
		AlertCooldown:    30 * time.Minute,
		Now:              fx.clock.Now,
		Sleep:            fx.sleeps.Sleep,
	}
	if mutate != nil {
		mutate(&opts)
	}

	svc, err := New(Deps{
		Analyzer:    fx.analyzer,
		Cache:       cache.NewMemory(cache.MemoryOptions{MaxEntries: 100, Now: fx.clock.Now}, zerolog.Nop()),
		MarketCache: cache.NewMemory(cache.MemoryOptions{MaxEntries: 10, Now: fx.clock.Now}, zerolog.Nop()),
		Market:      fx.market,
		Snapshots:   fx.snapshots,
		Alerts:      fx.alerts,
		Notifier:    fx.notes,
	}, opts, zerolog.Nop())
	require.NoError(t, err)
	fx.svc = svc
	return fx
}

func TestAnalyzeTokenCacheWindow(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	req := AnalyzeRequest{TokenID: "Bitcoin"}

	first, err := fx.svc.AnalyzeToken(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.AnalysisMetadata.Cached)
	assert.Equal(t, AnalysisEnhanced, first.AnalysisType)
	assert.Equal(t, "bitcoin", first.RiskAnalysis.TokenID)
	assert.Equal(t, "ethereum", first.AnalysisMetadata.Blockchain)

	fx.clock.Advance(4 * time.Minute)
	second, err := fx.svc.AnalyzeToken(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.AnalysisMetadata.Cached)
	assert.InDelta(t, 240, second.AnalysisMetadata.CacheAgeSeconds, 0.001)
	assert.EqualValues(t, 1, fx.analyzer.calls.Load())

	// 6 分钟: 超出默认 5 分钟，但在调用方给出的 10 分钟内
	fx.clock.Advance(2 * time.Minute)
	_, err = fx.svc.AnalyzeToken(ctx, AnalyzeRequest{TokenID: "bitcoin", CacheDuration: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, fx.analyzer.calls.Load())

	third, err := fx.svc.AnalyzeToken(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.AnalysisMetadata.Cached)
	assert.EqualValues(t, 2, fx.analyzer.calls.Load())
	assert.Equal(t, 2, fx.snapshots.count())
}

func TestAnalyzeTokenSharedCallSurvivesCallerCancel(t *testing.T) {
	fx := newFixture(t, nil)
	fx.analyzer.gate = make(chan struct{})
	fx.analyzer.started = make(chan struct{}, 1)
	req := AnalyzeRequest{TokenID: "pepe"}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := fx.svc.AnalyzeToken(ctxA, req)
		errA <- err
	}()

	select {
	case <-fx.analyzer.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("分析未开始")
	}
	cancelA()
	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("取消的调用方未返回")
	}

	// 共享分析仍在进行，第二个调用方加入同一 key
	type result struct {
		data ComprehensiveTokenData
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		data, err := fx.svc.AnalyzeToken(context.Background(), req)
		resB <- result{data: data, err: err}
	}()
	close(fx.analyzer.gate)

	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, "pepe", res.data.RiskAnalysis.TokenID)
	case <-time.After(2 * time.Second):
		t.Fatalf("未取消的调用方未返回")
	}
	assert.EqualValues(t, 1, fx.analyzer.calls.Load())
}

func TestAnalyzeTokenKeyIncludesAddressAndChain(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.AnalyzeToken(ctx, AnalyzeRequest{TokenID: "usd-coin", Blockchain: "ethereum"})
	require.NoError(t, err)
	_, err = fx.svc.AnalyzeToken(ctx, AnalyzeRequest{TokenID: "usd-coin", Blockchain: "polygon"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fx.analyzer.calls.Load())

	assert.Equal(t, "usd-coin-0xabc-ethereum", CacheKey(AnalyzeRequest{TokenID: "usd-coin", TokenAddress: "0xabc", Blockchain: "ethereum"}))
}

func TestAnalyzeTokenErrors(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.svc.AnalyzeToken(ctx, AnalyzeRequest{TokenID: "  "})
	assert.Equal(t, fetcher.KindValidation, fetcher.KindOf(err))

	fx.analyzer.fail["ghost"] = &fetcher.Error{Provider: "coingecko", Kind: fetcher.KindNotFound, Status: 404}
	_, err = fx.svc.AnalyzeToken(ctx, AnalyzeRequest{TokenID: "ghost"})
	assert.Equal(t, fetcher.KindNotFound, fetcher.KindOf(err))
	assert.Zero(t, fx.snapshots.count())

	data := fx.svc.ComprehensiveAnalysis(ctx, AnalyzeRequest{TokenID: "ghost"})
	assert.Equal(t, AnalysisFallback, data.AnalysisType)
	assert.True(t, data.AnalysisMetadata.Fallback)
	assert.Equal(t, 65.0, data.RiskAnalysis.OverallScore)
	assert.Zero(t, fx.snapshots.count(), "fallback 结果不应持久化")
}

func TestBatchRiskAssessment(t *testing.T) {
	fx := newFixture(t, nil)
	fx.analyzer.fail["broken"] = &fetcher.Error{Provider: "coingecko", Kind: fetcher.KindNotFound}

	ids := []string{"aaa", "bbb", "broken", "ccc", "ddd", "eee", "fff"}
	reqs := make([]AnalyzeRequest, len(ids))
	for i, id := range ids {
		reqs[i] = AnalyzeRequest{TokenID: id}
	}

	results, err := fx.svc.BatchRiskAssessment(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 7)
	assert.Equal(t, []time.Duration{time.Second}, fx.sleeps.waits)

	for i, r := range results {
		assert.Equal(t, ids[i], r.TokenID)
		if ids[i] == "broken" {
			assert.False(t, r.OK())
			assert.Equal(t, "not_found", r.ErrorKind)
			continue
		}
		assert.True(t, r.OK(), ids[i])
	}
}

func TestBatchRejectsTooManyTokens(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.MaxBatchTokens = 2 })
	_, err := fx.svc.BatchRiskAssessment(context.Background(), make([]AnalyzeRequest, 3))
	assert.Equal(t, fetcher.KindValidation, fetcher.KindOf(err))
	assert.Zero(t, fx.analyzer.calls.Load())
}

func TestGenerateRiskReport(t *testing.T) {
	fx := newFixture(t, nil)
	fx.analyzer.set("safecoin", 20, 1)
	fx.analyzer.set("midcoin", 50, 1)
	fx.analyzer.set("scamcoin", 90, 1)
	fx.analyzer.fail["gone"] = &fetcher.Error{Provider: "coingecko", Kind: fetcher.KindNotFound}

	reqs := []AnalyzeRequest{{TokenID: "safecoin"}, {TokenID: "midcoin"}, {TokenID: "scamcoin"}, {TokenID: "gone"}}

	summary, err := fx.svc.GenerateRiskReport(context.Background(), reqs, ReportTypeSummary)
	require.NoError(t, err)
	assert.Nil(t, summary.DetailedAnalysis)
	assert.Equal(t, 4, summary.Summary.TotalTokens)
	assert.Equal(t, 3, summary.Summary.Analyzed)
	assert.Equal(t, 1, summary.Summary.Failed)
	assert.InDelta(t, 160.0/3, summary.Summary.AverageScore, 1e-9)
	assert.Equal(t, 1, summary.Summary.LevelDistribution[risk.LevelCritical])
	assert.Equal(t, 1, summary.Summary.LevelDistribution[risk.LevelLow])
	require.Len(t, summary.Summary.TopRisks, 3)
	assert.Equal(t, "scamcoin", summary.Summary.TopRisks[0].TokenID)
	assert.Contains(t, summary.Errors, "gone")

	detailed, err := fx.svc.GenerateRiskReport(context.Background(), reqs, ReportTypeDetailed)
	require.NoError(t, err)
	assert.Len(t, detailed.DetailedAnalysis, 3)
	assert.Equal(t, 90.0, detailed.DetailedAnalysis["scamcoin"].RiskAnalysis.OverallScore)

	_, err = fx.svc.GenerateRiskReport(context.Background(), reqs, "weekly")
	assert.Equal(t, fetcher.KindValidation, fetcher.KindOf(err))
}

func TestRetrierBackoff(t *testing.T) {
	spy := &sleepSpy{}
	r := NewRetrier(3, 100*time.Millisecond, spy.Sleep, zerolog.Nop())

	calls := 0
	err := r.Call(context.Background(), "token", func(context.Context) error {
		calls++
		if calls < 3 {
			return &fetcher.Error{Provider: "coingecko", Kind: fetcher.KindRateLimited}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, spy.waits)
}

func TestRetrierReturnsLastError(t *testing.T) {
	spy := &sleepSpy{}
	r := NewRetrier(3, 10*time.Millisecond, spy.Sleep, zerolog.Nop())

	calls := 0
	err := r.Call(context.Background(), "token", func(context.Context) error {
		calls++
		return &fetcher.Error{Provider: "mobula", Kind: fetcher.KindUpstream, Status: 500 + calls}
	})
	var fe *fetcher.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 503, fe.Status)
	assert.Equal(t, 3, calls)
	assert.Len(t, spy.waits, 2)
}

func TestRetrierSkipsNonRetryable(t *testing.T) {
	spy := &sleepSpy{}
	r := NewRetrier(5, time.Second, spy.Sleep, zerolog.Nop())

	calls := 0
	err := r.Call(context.Background(), "token", func(context.Context) error {
		calls++
		return &fetcher.Error{Provider: "coingecko", Kind: fetcher.KindNotFound}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, spy.waits)
}

func TestRetrierStopsOnCancel(t *testing.T) {
	r := NewRetrier(5, time.Hour, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Call(ctx, "token", func(context.Context) error {
			calls++
			return errors.New("boom")
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.EqualError(t, err, "boom")
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("取消后应立即停止等待")
	}
}

func TestMonitoringMetricsReportsCachedTokens(t *testing.T) {
	fx := newFixture(t, nil)
	fx.analyzer.set("pepe", 72, 0.00001)
	_, err := fx.svc.AnalyzeToken(context.Background(), AnalyzeRequest{TokenID: "pepe"})
	require.NoError(t, err)

	metrics := fx.svc.MonitoringMetrics(context.Background(), []string{"pepe", "doge", ""})
	require.Len(t, metrics.Tokens, 2)
	assert.True(t, metrics.Tokens[0].Cached)
	assert.Equal(t, risk.LevelHigh, metrics.Tokens[0].RiskLevel)
	assert.False(t, metrics.Tokens[1].Cached)
	assert.Equal(t, "memory", metrics.Cache.Backend)
	assert.False(t, metrics.Monitor.Active)

	require.NoError(t, fx.svc.ClearCache(context.Background()))
	assert.Zero(t, fx.svc.CacheStats(context.Background()).Entries)
}

type noteSpy struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *noteSpy) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *noteSpy) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.TokenID+":"+note.Kind)
	}
	return out
}

type alertSpy struct {
	mu      sync.Mutex
	records []storage.MonitorAlert
}

func (a *alertSpy) InsertMonitorAlert(_ context.Context, rec storage.MonitorAlert) (storage.MonitorAlert, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return rec, nil
}

func (a *alertSpy) ListRecentAlerts(context.Context, int) ([]storage.MonitorAlert, error) {
	return nil, nil
}

func (a *alertSpy) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
