package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crypto-risk-scorer/internal/alerting"
	"crypto-risk-scorer/internal/analyzer"
	"crypto-risk-scorer/internal/risk"
	"crypto-risk-scorer/internal/scheduler"
	"crypto-risk-scorer/internal/storage"
)

var (
	// ErrMonitorRunning is returned when a monitor is already active.
	ErrMonitorRunning = errors.New("monitoring already running")
	// ErrMonitorNotRunning is returned when there is no monitor to stop.
	ErrMonitorNotRunning = errors.New("monitoring not running")
)

// Thresholds trigger monitoring alerts.
type Thresholds struct {
	PriceDeviationPct float64 `json:"price_deviation_pct"`
	CriticalScore     float64 `json:"critical_score"`
}

// MonitorStatus describes the running monitor.
type MonitorStatus struct {
	Active     bool       `json:"active"`
	SessionID  string     `json:"session_id,omitempty"`
	Tokens     []string   `json:"tokens"`
	Interval   string     `json:"interval,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	LastTick   *time.Time `json:"last_tick,omitempty"`
	Ticks      int64      `json:"ticks"`
	Alerts     int64      `json:"alerts"`
	Thresholds Thresholds `json:"thresholds"`
}

// Monitor periodically re-analyzes a token set until stopped.
type Monitor struct {
	id        string
	svc       *Service
	tokens    []AnalyzeRequest
	interval  time.Duration
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
	logger    zerolog.Logger

	mu         sync.Mutex
	lastPrices map[string]decimal.Decimal
	lastAlert  map[string]time.Time
	lastTick   time.Time
	ticks      int64
	alerts     int64
}

// StartRealTimeMonitoring starts the only monitor of this service. The
// monitor outlives ctx's deadline but not its values; stop it with Stop.
func (s *Service) StartRealTimeMonitoring(ctx context.Context, tokens []AnalyzeRequest, interval time.Duration) (*Monitor, error) {
	if len(tokens) == 0 {
		return nil, invalidRequest("at least one token is required")
	}
	if len(tokens) > s.opts.MaxBatchTokens {
		return nil, invalidRequest(fmt.Sprintf("at most %d tokens can be monitored", s.opts.MaxBatchTokens))
	}
	if interval <= 0 {
		interval = s.opts.MonitorInterval
	}

	normalized := make([]AnalyzeRequest, 0, len(tokens))
	for _, t := range tokens {
		t = s.normalize(t)
		if t.TokenID == "" {
			return nil, invalidRequest("tokenId is required")
		}
		normalized = append(normalized, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor != nil {
		return nil, ErrMonitorRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Monitor{
		id:         uuid.NewString(),
		svc:        s,
		tokens:     normalized,
		interval:   interval,
		startedAt:  s.opts.Now().UTC(),
		cancel:     cancel,
		done:       make(chan struct{}),
		lastPrices: make(map[string]decimal.Decimal),
		lastAlert:  make(map[string]time.Time),
	}
	m.logger = s.logger.With().Str("monitor", m.id).Logger()
	s.monitor = m

	sched := scheduler.New(scheduler.Options{Interval: interval, Immediate: true, Now: s.opts.Now}, s.logger)
	go func() {
		defer close(m.done)
		defer s.release(m)
		if err := sched.Run(runCtx, m.Tick); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Msg("monitor stopped unexpectedly")
		}
	}()

	m.logger.Info().
		Strs("tokens", m.tokenIDs()).
		Dur("interval", interval).
		Msg("real-time monitoring started")
	return m, nil
}

// StopMonitoring stops the running monitor and waits for it to exit.
func (s *Service) StopMonitoring() error {
	s.mu.Lock()
	m := s.monitor
	s.mu.Unlock()
	if m == nil {
		return ErrMonitorNotRunning
	}
	m.Stop()
	return nil
}

// UpdateThresholds replaces the alert thresholds; non-positive values keep
// the current setting.
func (s *Service) UpdateThresholds(t Thresholds) Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.PriceDeviationPct > 0 {
		s.thresholds.PriceDeviationPct = t.PriceDeviationPct
	}
	if t.CriticalScore > 0 {
		s.thresholds.CriticalScore = risk.Clamp(t.CriticalScore)
	}
	s.logger.Info().
		Float64("price_deviation_pct", s.thresholds.PriceDeviationPct).
		Float64("critical_score", s.thresholds.CriticalScore).
		Msg("monitoring thresholds updated")
	return s.thresholds
}

// MonitorStatus reports the monitor state.
func (s *Service) MonitorStatus() MonitorStatus {
	s.mu.Lock()
	m := s.monitor
	thresholds := s.thresholds
	s.mu.Unlock()

	if m == nil {
		return MonitorStatus{Tokens: []string{}, Thresholds: thresholds}
	}
	return m.status(thresholds)
}

func (s *Service) currentThresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

func (s *Service) release(m *Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor == m {
		s.monitor = nil
	}
}

// ID returns the monitoring session id.
func (m *Monitor) ID() string { return m.id }

// Done is closed once the monitor has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Stop cancels the monitor and waits for the running tick to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		<-m.done
		m.logger.Info().Int64("ticks", m.Ticks()).Msg("real-time monitoring stopped")
	})
}

// Ticks returns the number of completed ticks.
func (m *Monitor) Ticks() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

func (m *Monitor) status(thresholds Thresholds) MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	started := m.startedAt
	st := MonitorStatus{
		Active:     true,
		SessionID:  m.id,
		Tokens:     m.tokenIDs(),
		Interval:   m.interval.String(),
		StartedAt:  &started,
		Ticks:      m.ticks,
		Alerts:     m.alerts,
		Thresholds: thresholds,
	}
	if !m.lastTick.IsZero() {
		last := m.lastTick
		st.LastTick = &last
	}
	return st
}

func (m *Monitor) tokenIDs() []string {
	ids := make([]string, 0, len(m.tokens))
	for _, t := range m.tokens {
		ids = append(ids, t.TokenID)
	}
	return ids
}

// Tick 重新分析全部代币（绕过缓存）并评估告警条件。
func (m *Monitor) Tick(ctx context.Context, at time.Time) error {
	s := m.svc
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.deps.Recorder.MonitorTick("error")
		return err
	}
	if !proceed {
		m.logger.Debug().Time("tick", at).Msg("skip tick because advisory lock held elsewhere")
		s.deps.Recorder.MonitorTick("skipped")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	thresholds := s.currentThresholds()
	var eg errgroup.Group
	eg.SetLimit(s.opts.BatchSize)
	var failed sync.Map
	for _, req := range m.tokens {
		eg.Go(func() error {
			if err := m.evaluate(ctx, req, thresholds, at); err != nil {
				failed.Store(req.TokenID, err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	var failures []string
	failed.Range(func(k, _ any) bool {
		failures = append(failures, k.(string))
		return true
	})
	sort.Strings(failures)

	m.mu.Lock()
	m.ticks++
	m.lastTick = at.UTC()
	m.mu.Unlock()

	if len(failures) > 0 {
		s.deps.Recorder.MonitorTick("partial")
		return fmt.Errorf("analysis failed for %v", failures)
	}
	s.deps.Recorder.MonitorTick("ok")
	return nil
}

func (m *Monitor) evaluate(ctx context.Context, req AnalyzeRequest, thresholds Thresholds, at time.Time) error {
	s := m.svc
	result, err := s.deps.Analyzer.Analyze(ctx, s.analyzerRequest(req))
	if err != nil {
		m.logger.Warn().Err(err).Str("token", req.TokenID).Msg("monitoring analysis failed")
		return err
	}
	s.completed(ctx, req, result)

	price := decimal.NewFromFloat(result.Token.CurrentPrice)
	m.mu.Lock()
	previous, hadPrevious := m.lastPrices[req.TokenID]
	if price.IsPositive() {
		m.lastPrices[req.TokenID] = price
	}
	m.mu.Unlock()

	if result.RiskLevel == risk.LevelCritical || result.OverallScore >= thresholds.CriticalScore {
		m.alert(ctx, alerting.Notification{
			TokenID:       result.TokenID,
			Symbol:        result.Token.Symbol,
			Kind:          alerting.KindCriticalRisk,
			ObservedAt:    at,
			RiskScore:     result.OverallScore,
			RiskLevel:     result.RiskLevel,
			Price:         price,
			AdditionalMsg: firstAlert(result),
		})
	}

	if hadPrevious && previous.IsPositive() && price.IsPositive() {
		deviation := PriceDeviationPct(previous, price)
		threshold := decimal.NewFromFloat(thresholds.PriceDeviationPct)
		if deviation.Abs().GreaterThan(threshold) {
			m.alert(ctx, alerting.Notification{
				TokenID:       result.TokenID,
				Symbol:        result.Token.Symbol,
				Kind:          alerting.KindPriceDeviation,
				ObservedAt:    at,
				RiskScore:     result.OverallScore,
				RiskLevel:     result.RiskLevel,
				Price:         price,
				PreviousPrice: previous,
				DeviationPct:  deviation,
				ThresholdPct:  threshold,
				Direction:     classifyDeviation(deviation),
			})
		}
	}
	return nil
}

func (m *Monitor) alert(ctx context.Context, note alerting.Notification) {
	s := m.svc
	m.logger.Warn().
		Str("token", note.TokenID).
		Str("kind", note.Kind).
		Float64("risk_score", note.RiskScore).
		Str("deviation_pct", note.DeviationPct.StringFixed(2)).
		Msg("monitoring alert triggered")

	key := note.TokenID + "|" + note.Kind
	m.mu.Lock()
	last, seen := m.lastAlert[key]
	if seen && s.opts.AlertCooldown > 0 && note.ObservedAt.Sub(last) < s.opts.AlertCooldown {
		m.mu.Unlock()
		m.logger.Debug().Str("token", note.TokenID).Str("kind", note.Kind).Msg("alert suppressed by cooldown")
		return
	}
	m.lastAlert[key] = note.ObservedAt
	m.alerts++
	m.mu.Unlock()

	s.deps.Recorder.MonitorAlert(note.Kind)

	if s.deps.Alerts != nil {
		record := storage.MonitorAlert{
			TokenID:       note.TokenID,
			Kind:          note.Kind,
			RiskScore:     decimal.NewFromFloat(note.RiskScore).Round(2),
			RiskLevel:     string(note.RiskLevel),
			PriceUSD:      note.Price,
			PreviousPrice: note.PreviousPrice,
			DeviationPct:  note.DeviationPct,
			ThresholdPct:  note.ThresholdPct,
			Direction:     note.Direction,
			Channels:      s.opts.AlertChannels,
			ObservedAt:    note.ObservedAt.UTC(),
		}
		if _, err := s.deps.Alerts.InsertMonitorAlert(ctx, record); err != nil && !errors.Is(err, storage.ErrNotConfigured) {
			m.logger.Error().Err(err).Str("token", note.TokenID).Msg("failed to persist alert record")
		}
	}

	if s.opts.AlertsEnabled && s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("token", note.TokenID).Msg("failed to dispatch alert")
		}
	}
}

// PriceDeviationPct is (current / previous - 1) × 100.
func PriceDeviationPct(previous, current decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		return decimal.Zero
	}
	return current.Div(previous).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
}

func classifyDeviation(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

func firstAlert(a analyzer.EnhancedRiskAnalysis) string {
	if len(a.Alerts) == 0 {
		return ""
	}
	return a.Alerts[0]
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
