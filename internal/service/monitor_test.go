package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorAlertsAndStops(t *testing.T) {
	fx := newFixture(t, nil)
	fx.analyzer.set("pepe", 30, 1.0)
	fx.analyzer.set("scam", 85, 2.0)
	ctx := context.Background()

	m, err := fx.svc.StartRealTimeMonitoring(ctx, []AnalyzeRequest{{TokenID: "pepe"}, {TokenID: "SCAM"}}, time.Hour)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Ticks() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"scam:critical_risk"}, fx.notes.kinds())

	_, err = fx.svc.StartRealTimeMonitoring(ctx, []AnalyzeRequest{{TokenID: "btc"}}, 0)
	assert.ErrorIs(t, err, ErrMonitorRunning)

	// 价格上涨 20%，critical 告警处于冷却期
	fx.analyzer.set("pepe", 30, 1.2)
	fx.clock.Advance(time.Minute)
	require.NoError(t, m.Tick(ctx, fx.clock.Now()))
	assert.Equal(t, []string{"scam:critical_risk", "pepe:price_deviation"}, fx.notes.kinds())
	assert.Equal(t, 2, fx.alerts.count())

	fx.notes.mu.Lock()
	deviation := fx.notes.notes[1]
	fx.notes.mu.Unlock()
	assert.Equal(t, "up", deviation.Direction)
	assert.True(t, deviation.DeviationPct.Equal(decimal.NewFromInt(20)), deviation.DeviationPct.String())
	assert.True(t, deviation.PreviousPrice.Equal(decimal.NewFromInt(1)))

	status := fx.svc.MonitorStatus()
	assert.True(t, status.Active)
	assert.Equal(t, m.ID(), status.SessionID)
	assert.Equal(t, []string{"pepe", "scam"}, status.Tokens)
	assert.EqualValues(t, 2, status.Ticks)
	assert.EqualValues(t, 2, status.Alerts)
	require.NotNil(t, status.LastTick)

	require.NoError(t, fx.svc.StopMonitoring())
	<-m.Done()
	assert.False(t, fx.svc.MonitorStatus().Active)
	assert.ErrorIs(t, fx.svc.StopMonitoring(), ErrMonitorNotRunning)
	m.Stop()

	// 停止后可重新启动
	m2, err := fx.svc.StartRealTimeMonitoring(ctx, []AnalyzeRequest{{TokenID: "pepe"}}, time.Hour)
	require.NoError(t, err)
	m2.Stop()
}

func TestMonitorThresholdUpdate(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.LockKey = 42 })
	fx.analyzer.set("pepe", 30, 1.0)
	ctx := context.Background()

	updated := fx.svc.UpdateThresholds(Thresholds{PriceDeviationPct: 25})
	assert.Equal(t, 25.0, updated.PriceDeviationPct)
	assert.Equal(t, 80.0, updated.CriticalScore)

	m, err := fx.svc.StartRealTimeMonitoring(ctx, []AnalyzeRequest{{TokenID: "pepe"}}, time.Hour)
	require.NoError(t, err)
	defer m.Stop()
	require.Eventually(t, func() bool { return m.Ticks() == 1 }, 2*time.Second, 5*time.Millisecond)

	fx.analyzer.set("pepe", 30, 0.8)
	require.NoError(t, m.Tick(ctx, fx.clock.Now()))
	assert.Empty(t, fx.notes.kinds(), "20% 跌幅低于 25% 阈值")

	fx.svc.UpdateThresholds(Thresholds{CriticalScore: 25})
	require.NoError(t, m.Tick(ctx, fx.clock.Now()))
	assert.Equal(t, []string{"pepe:critical_risk"}, fx.notes.kinds())
}

func TestMonitorRejectsEmptyTokens(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.svc.StartRealTimeMonitoring(context.Background(), nil, time.Minute)
	assert.Error(t, err)
	assert.False(t, fx.svc.MonitorStatus().Active)
}

func TestPriceDeviationPct(t *testing.T) {
	prev := decimal.RequireFromString("2.50")
	assert.Equal(t, "-10", PriceDeviationPct(prev, decimal.RequireFromString("2.25")).String())
	assert.True(t, PriceDeviationPct(decimal.Zero, prev).IsZero())
	assert.Equal(t, "flat", classifyDeviation(decimal.Zero))
}
