package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"crypto-risk-scorer/internal/alerting"
	"crypto-risk-scorer/internal/analyzer"
	"crypto-risk-scorer/internal/cache"
	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/storage"
	"crypto-risk-scorer/internal/version"
)

// RiskAnalyzer produces enhanced analyses.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) (analyzer.EnhancedRiskAnalysis, error)
	PerformComprehensiveAnalysis(ctx context.Context, req analyzer.Request) analyzer.EnhancedRiskAnalysis
}

// Recorder observes service activity.
type Recorder interface {
	AnalysisCompleted(level string, fallback bool)
	MonitorTick(outcome string)
	MonitorAlert(kind string)
}

type nopRecorder struct{}

func (nopRecorder) AnalysisCompleted(string, bool) {}
func (nopRecorder) MonitorTick(string)             {}
func (nopRecorder) MonitorAlert(string)            {}

// Options tune the service.
type Options struct {
	DefaultChain     string
	CacheDuration    time.Duration
	MaxCacheDuration time.Duration
	BatchSize        int
	BatchDelay       time.Duration
	MaxBatchTokens   int

	// AnalysisTimeout bounds a shared analysis once callers are detached.
	AnalysisTimeout time.Duration

	MonitorInterval   time.Duration
	PriceDeviationPct float64
	CriticalScore     float64
	AlertCooldown     time.Duration
	AlertsEnabled     bool
	AlertChannels     []string
	LockKey           int64

	MarketCacheTTL time.Duration
	TopCoinsLimit  int

	Now   func() time.Time
	Sleep SleepFunc
}

// Deps are the collaborators of the service. Analyzer and Cache are required.
type Deps struct {
	Analyzer    RiskAnalyzer
	Cache       cache.Cache
	MarketCache cache.Cache
	Market      fetcher.MarketSource
	Snapshots   storage.SnapshotStore
	Alerts      storage.AlertStore
	Locker      storage.AdvisoryLocker
	Notifier    alerting.Notifier
	Recorder    Recorder
}

// Service ties analysis to caching, batching, reporting and monitoring.
type Service struct {
	deps   Deps
	opts   Options
	group  singleflight.Group
	logger zerolog.Logger

	mu         sync.Mutex
	monitor    *Monitor
	thresholds Thresholds
}

// New constructs the service.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Service, error) {
	if deps.Analyzer == nil {
		return nil, errors.New("analyzer required")
	}
	if deps.Cache == nil {
		return nil, errors.New("cache required")
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if opts.DefaultChain == "" {
		opts.DefaultChain = string(fetcher.ChainEthereum)
	}
	if opts.CacheDuration <= 0 {
		opts.CacheDuration = 5 * time.Minute
	}
	if opts.MaxCacheDuration < opts.CacheDuration {
		opts.MaxCacheDuration = opts.CacheDuration
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.MaxBatchTokens <= 0 {
		opts.MaxBatchTokens = 50
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 2 * time.Minute
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = time.Minute
	}
	if opts.PriceDeviationPct <= 0 {
		opts.PriceDeviationPct = 10
	}
	if opts.CriticalScore <= 0 {
		opts.CriticalScore = 80
	}
	if opts.MarketCacheTTL <= 0 {
		opts.MarketCacheTTL = time.Minute
	}
	if opts.TopCoinsLimit <= 0 {
		opts.TopCoinsLimit = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
		thresholds: Thresholds{
			PriceDeviationPct: opts.PriceDeviationPct,
			CriticalScore:     opts.CriticalScore,
		},
	}, nil
}

// MaxBatchTokens is the largest accepted batch.
func (s *Service) MaxBatchTokens() int {
	return s.opts.MaxBatchTokens
}

// AnalyzeToken returns a cached analysis when it is younger than the
// requested duration, otherwise runs a fresh one and caches it.
func (s *Service) AnalyzeToken(ctx context.Context, req AnalyzeRequest) (ComprehensiveTokenData, error) {
	req = s.normalize(req)
	if req.TokenID == "" {
		return ComprehensiveTokenData{}, invalidRequest("tokenId is required")
	}

	key := CacheKey(req)
	validFor := s.cacheDuration(req)

	if data, ok := s.lookup(ctx, key, validFor); ok {
		return data, nil
	}

	// 同一 key 的并发未命中只触发一次分析
	v, shared, err := s.shared(ctx, key, func(runCtx context.Context) (any, error) {
		if data, ok := s.lookup(runCtx, key, validFor); ok {
			return data, nil
		}
		data, err := s.analyzeFresh(runCtx, req)
		if err != nil {
			return ComprehensiveTokenData{}, err
		}
		s.store(runCtx, key, data)
		return data, nil
	})
	if err != nil {
		return ComprehensiveTokenData{}, err
	}
	if shared {
		s.logger.Debug().Str("key", key).Msg("joined in-flight analysis")
	}
	return v.(ComprehensiveTokenData), nil
}

// shared runs fn once per key for concurrent callers. fn runs detached from
// the callers' cancellation, bounded by AnalysisTimeout; each caller only
// waits as long as its own ctx allows.
func (s *Service) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.AnalysisTimeout)
		defer cancel()
		return fn(runCtx)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	}
}

// ComprehensiveAnalysis always answers, substituting the fallback analysis
// when the primary source fails. Results are not cached.
func (s *Service) ComprehensiveAnalysis(ctx context.Context, req AnalyzeRequest) ComprehensiveTokenData {
	req = s.normalize(req)
	started := s.opts.Now()

	result := s.deps.Analyzer.PerformComprehensiveAnalysis(ctx, s.analyzerRequest(req))
	analysisType := AnalysisComprehensive
	if result.Fallback {
		analysisType = AnalysisFallback
	}
	data := s.wrap(req, result, analysisType, started)
	s.completed(ctx, req, result)
	return data
}

func (s *Service) analyzeFresh(ctx context.Context, req AnalyzeRequest) (ComprehensiveTokenData, error) {
	started := s.opts.Now()
	result, err := s.deps.Analyzer.Analyze(ctx, s.analyzerRequest(req))
	if err != nil {
		s.logger.Warn().Err(err).
			Str("token", req.TokenID).
			Str("kind", string(fetcher.KindOf(err))).
			Msg("analysis failed")
		return ComprehensiveTokenData{}, err
	}

	data := s.wrap(req, result, AnalysisEnhanced, started)
	s.completed(ctx, req, result)
	return data, nil
}

func (s *Service) analyzerRequest(req AnalyzeRequest) analyzer.Request {
	return analyzer.Request{
		TokenID:           req.TokenID,
		TokenAddress:      req.TokenAddress,
		Blockchain:        req.Blockchain,
		IncludeHistorical: req.IncludeHistorical,
		CrossValidate:     true,
	}
}

func (s *Service) wrap(req AnalyzeRequest, result analyzer.EnhancedRiskAnalysis, analysisType string, started time.Time) ComprehensiveTokenData {
	now := s.opts.Now()
	return ComprehensiveTokenData{
		Token:        result.Token,
		RiskAnalysis: result,
		AnalysisType: analysisType,
		DataSources:  result.DataSources,
		AnalysisMetadata: AnalysisMetadata{
			ProcessingTimeMs: now.Sub(started).Milliseconds(),
			Confidence:       result.Confidence.OverallConfidence,
			Fallback:         result.Fallback,
			FallbackSources:  result.FallbackSources,
			Blockchain:       req.Blockchain,
			TokenAddress:     req.TokenAddress,
			Version:          version.Version,
		},
		Timestamp: now.UTC(),
	}
}

// completed records metrics and persists the snapshot.
func (s *Service) completed(ctx context.Context, req AnalyzeRequest, result analyzer.EnhancedRiskAnalysis) {
	s.deps.Recorder.AnalysisCompleted(string(result.RiskLevel), result.Fallback)
	if s.deps.Snapshots == nil || result.Fallback {
		return
	}

	snap, err := storage.SnapshotFromAnalysis(result, req.Blockchain, req.TokenAddress)
	if err != nil {
		s.logger.Error().Err(err).Str("token", req.TokenID).Msg("failed to build snapshot")
		return
	}
	if _, err := s.deps.Snapshots.InsertSnapshot(ctx, snap); err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		s.logger.Error().Err(err).Str("token", req.TokenID).Msg("failed to persist snapshot")
	}
}

func (s *Service) lookup(ctx context.Context, key string, validFor time.Duration) (ComprehensiveTokenData, bool) {
	entry, ok, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache lookup failed")
		return ComprehensiveTokenData{}, false
	}
	if !ok {
		return ComprehensiveTokenData{}, false
	}

	age := s.opts.Now().Sub(entry.StoredAt)
	if age >= validFor {
		return ComprehensiveTokenData{}, false
	}

	var data ComprehensiveTokenData
	if err := json.Unmarshal(entry.Value, &data); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		_ = s.deps.Cache.Delete(ctx, key)
		return ComprehensiveTokenData{}, false
	}

	data.AnalysisMetadata.Cached = true
	data.AnalysisMetadata.CacheAgeSeconds = age.Seconds()
	data.AnalysisMetadata.ProcessingTimeMs = 0
	return data, true
}

func (s *Service) store(ctx context.Context, key string, data ComprehensiveTokenData) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to encode analysis for cache")
		return
	}
	// 过期由调用方的 cacheDuration 判定，底层 TTL 取上限
	if err := s.deps.Cache.Set(ctx, key, payload, s.opts.MaxCacheDuration); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// ClearCache drops every cached analysis.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.deps.Cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear analysis cache: %w", err)
	}
	s.logger.Info().Msg("analysis cache cleared")
	return nil
}

// CacheStats reports analysis cache statistics.
func (s *Service) CacheStats(ctx context.Context) cache.Stats {
	return s.deps.Cache.Stats(ctx)
}

// MonitoringMetrics reports cache statistics, the monitor state and the
// cached view of the requested tokens.
func (s *Service) MonitoringMetrics(ctx context.Context, tokenIDs []string) MonitoringMetrics {
	stats := s.deps.Cache.Stats(ctx)
	out := MonitoringMetrics{
		Cache:        stats,
		CacheHitRate: stats.HitRate(),
		Monitor:      s.MonitorStatus(),
		Tokens:       make([]TokenMetric, 0, len(tokenIDs)),
		Timestamp:    s.opts.Now().UTC(),
	}

	for _, id := range tokenIDs {
		req := s.normalize(AnalyzeRequest{TokenID: id})
		if req.TokenID == "" {
			continue
		}
		metric := TokenMetric{TokenID: req.TokenID}
		if data, ok := s.lookup(ctx, CacheKey(req), s.opts.MaxCacheDuration); ok {
			cachedAt := data.Timestamp
			metric.Cached = true
			metric.Score = data.RiskAnalysis.OverallScore
			metric.RiskLevel = data.RiskAnalysis.RiskLevel
			metric.Price = data.Token.CurrentPrice
			metric.CachedAt = &cachedAt
		}
		out.Tokens = append(out.Tokens, metric)
	}
	return out
}

func (s *Service) normalize(req AnalyzeRequest) AnalyzeRequest {
	req.TokenID = strings.ToLower(strings.TrimSpace(req.TokenID))
	req.TokenAddress = strings.TrimSpace(req.TokenAddress)
	req.Blockchain = strings.ToLower(strings.TrimSpace(req.Blockchain))
	if req.Blockchain == "" {
		req.Blockchain = s.opts.DefaultChain
	}
	return req
}

func (s *Service) cacheDuration(req AnalyzeRequest) time.Duration {
	if req.CacheDuration <= 0 {
		return s.opts.CacheDuration
	}
	d := time.Duration(req.CacheDuration) * time.Minute
	if d > s.opts.MaxCacheDuration {
		return s.opts.MaxCacheDuration
	}
	return d
}

// CacheKey is tokenId-tokenAddress-blockchain.
func CacheKey(req AnalyzeRequest) string {
	return fmt.Sprintf("%s-%s-%s", req.TokenID, req.TokenAddress, req.Blockchain)
}

func invalidRequest(msg string) error {
	return &fetcher.Error{Provider: "service", Kind: fetcher.KindValidation, Message: msg}
}
