package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crypto-risk-scorer/internal/alerting"
	"crypto-risk-scorer/internal/analyzer"
	"crypto-risk-scorer/internal/cache"
	"crypto-risk-scorer/internal/config"
	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/httpapi"
	"crypto-risk-scorer/internal/logging"
	"crypto-risk-scorer/internal/metrics"
	"crypto-risk-scorer/internal/service"
	"crypto-risk-scorer/internal/storage"
	"crypto-risk-scorer/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// runtime 持有一次命令执行所需的全部组件。
type runtime struct {
	service *service.Service
	metrics *metrics.Registry
	store   *storage.Store
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) clientOptions(p config.ProviderConfig, observer fetcher.Observer) fetcher.ClientOptions {
	b := a.Config.Breaker
	return fetcher.ClientOptions{
		BaseURL:       p.BaseURL,
		APIKey:        p.APIKey,
		Timeout:       p.RequestTimeout,
		UserAgent:     version.UserAgent(),
		RatePerSecond: p.RatePerSecond,
		Burst:         p.Burst,
		Breaker: fetcher.BreakerOptions{
			MaxRequests:         b.MaxRequests,
			Interval:            b.Interval,
			Timeout:             b.Timeout,
			ConsecutiveFailures: b.ConsecutiveFailures,
		},
		Observer: observer,
	}
}

// newSources 按配置构造行情、持仓、浏览器与链上数据源。
func (a *App) newSources(observer fetcher.Observer) (analyzer.Sources, fetcher.MarketSource) {
	p := a.Config.Providers
	coingecko := fetcher.NewCoinGecko(a.clientOptions(p.CoinGecko, observer), a.Logger)
	sources := analyzer.Sources{Token: coingecko}

	var quotes []fetcher.QuoteSource
	if p.Moralis.Enabled() && p.Moralis.APIKey != "" {
		moralis := fetcher.NewMoralis(a.clientOptions(p.Moralis, observer), a.Logger)
		sources.Holders = moralis
		quotes = append(quotes, moralis)
	}
	if p.Mobula.Enabled() {
		quotes = append(quotes, fetcher.NewMobula(a.clientOptions(p.Mobula, observer), a.Logger))
	}
	if p.Tokenview.Enabled() && p.Tokenview.APIKey != "" {
		tokenview := fetcher.NewTokenview(a.clientOptions(p.Tokenview, observer), a.Logger)
		sources.TokenInfo = tokenview
		quotes = append(quotes, tokenview)
	}
	if a.Config.Analysis.CrossValidate {
		sources.Quotes = quotes
	}

	if p.Ethereum.RPCURL != "" {
		sources.Contract = fetcher.NewOnchain(fetcher.OnchainOptions{
			RPCURL:  p.Ethereum.RPCURL,
			Timeout: p.Ethereum.RequestTimeout,
		}, a.Logger)
	} else {
		a.Logger.Info().Msg("providers.ethereum.rpc_url not configured; contract inspection disabled")
	}

	return sources, coingecko
}

// newCache 构造分析缓存；memory 后端的清扫协程随 ctx 退出。
func (a *App) newCache(ctx context.Context, recorder cache.Recorder) (cache.Cache, func(), error) {
	c := a.Config.Cache
	if c.Backend == "redis" {
		rc, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
			Recorder:  recorder,
		}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return rc, func() { _ = rc.Close() }, nil
	}

	mem := cache.NewMemory(cache.MemoryOptions{
		Name:          "analysis",
		MaxEntries:    c.MaxEntries,
		SweepInterval: c.SweepInterval,
		Recorder:      recorder,
	}, a.Logger)
	go mem.Run(ctx)
	return mem, func() {}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	return notifiers
}

func (a *App) alertChannels() []string {
	channels := []string{"log"}
	if a.Config.Alerting.Telegram.Enabled {
		channels = append(channels, "telegram")
	}
	return channels
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// build 组装 service 及其依赖，调用方负责 Close。
func (a *App) build(ctx context.Context) (*runtime, error) {
	rt := &runtime{metrics: metrics.New()}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		rt.store = store
		rt.closers = append(rt.closers, closeStore)
	}

	analysisCache, closeCache, err := a.newCache(ctx, rt.metrics)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeCache)
	marketCache := cache.NewMemory(cache.MemoryOptions{Name: "market", MaxEntries: 16, Recorder: rt.metrics}, a.Logger)

	sources, market := a.newSources(rt.metrics)
	an := a.Config.Analysis
	retrier := service.NewRetrier(an.MaxRetries, an.RetryDelay, nil, a.Logger)

	var history analyzer.History
	if store != nil {
		history = store
	}
	riskAnalyzer, err := analyzer.New(sources, history, analyzer.Options{
		DefaultChain: an.DefaultChain,
		HistoryDepth: an.HistoryDepth,
		Call:         retrier.Call,
		Recorder:     rt.metrics,
	}, a.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	deps := service.Deps{
		Analyzer:    riskAnalyzer,
		Cache:       analysisCache,
		MarketCache: marketCache,
		Market:      market,
		Notifier:    a.newNotifier(),
		Recorder:    rt.metrics,
	}
	if store != nil {
		deps.Snapshots = store
		deps.Alerts = store
		deps.Locker = store
	}

	mon := a.Config.Monitoring
	svc, err := service.New(deps, service.Options{
		DefaultChain:      an.DefaultChain,
		CacheDuration:     a.Config.Cache.DefaultDuration,
		MaxCacheDuration:  a.Config.Cache.MaxDuration,
		BatchSize:         an.BatchSize,
		BatchDelay:        an.BatchDelay,
		MaxBatchTokens:    an.MaxBatchTokens,
		AnalysisTimeout:   an.Timeout,
		MonitorInterval:   mon.Interval,
		PriceDeviationPct: mon.PriceDeviationPct,
		CriticalScore:     mon.CriticalScore,
		AlertCooldown:     a.Config.Alerting.Cooldown,
		AlertsEnabled:     a.Config.Alerting.Enabled,
		AlertChannels:     a.alertChannels(),
		LockKey:           mon.AdvisoryLockKey,
		MarketCacheTTL:    a.Config.Market.CacheTTL,
		TopCoinsLimit:     a.Config.Market.TopCoinsLimit,
	}, a.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.service = svc
	return rt, nil
}

// Serve runs the HTTP API until SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	server := httpapi.New(rt.service, httpapi.Options{
		Config:         a.Config.Server,
		MetricsHandler: rt.metrics.Handler(),
		Observer:       rt.metrics,
	}, a.Logger)

	a.Logger.Info().Str("addr", a.Config.Server.Addr).Str("version", version.Version).Msg("starting risk api")
	err = server.Run(ctx)
	if rt.service.MonitorStatus().Active {
		_ = rt.service.StopMonitoring()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("server terminated with error")
		return err
	}

	a.Logger.Info().Msg("risk api stopped")
	return nil
}

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	TokenID      string
	TokenAddress string
	Blockchain   string
	Historical   bool
	JSON         bool
}

// BatchOptions configure the batch command.
type BatchOptions struct {
	TokenIDs []string
	Detailed bool
}

// MonitorOptions configure the monitor command.
type MonitorOptions struct {
	TokenIDs []string
	Interval time.Duration
}

// ExportOptions hold parameters for exporting a token's score history.
type ExportOptions struct {
	TokenID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	TokenID string
	Limit   int
}
