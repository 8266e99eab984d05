package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-risk-scorer/internal/risk"
)

// 告警类型
const (
	KindCriticalRisk   = "critical_risk"
	KindPriceDeviation = "price_deviation"
)

// Notification 封装监控告警上下文。
type Notification struct {
	TokenID       string
	Symbol        string
	Kind          string
	ObservedAt    time.Time
	RiskScore     float64
	RiskLevel     risk.Level
	Price         decimal.Decimal
	PreviousPrice decimal.Decimal
	DeviationPct  decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// LogNotifier 将告警写入日志。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify 以 Warn 级别记录告警。
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("token", note.TokenID).
		Str("kind", note.Kind).
		Str("risk_level", string(note.RiskLevel)).
		Float64("risk_score", note.RiskScore).
		Str("price", note.Price.String()).
		Str("deviation_pct", note.DeviationPct.StringFixed(2)).
		Str("direction", note.Direction).
		Msg("monitoring alert")
	return nil
}

// Multi 依次调用多个告警器，汇总错误。
type Multi []Notifier

// Notify 调用全部告警器。
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("token", note.TokenID).
		Str("kind", note.Kind).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	name := note.TokenID
	if note.Symbol != "" {
		name = fmt.Sprintf("%s (%s)", note.TokenID, strings.ToUpper(note.Symbol))
	}

	builder := strings.Builder{}
	switch note.Kind {
	case KindPriceDeviation:
		builder.WriteString("[Risk Monitor] Price deviation\n")
	default:
		builder.WriteString("[Risk Monitor] Critical risk\n")
	}
	builder.WriteString(fmt.Sprintf("Token: %s\n", name))
	builder.WriteString(fmt.Sprintf("Observed: %s UTC\n", note.ObservedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Risk: %.0f (%s)\n", note.RiskScore, note.RiskLevel))
	if !note.Price.IsZero() {
		builder.WriteString(fmt.Sprintf("Price: %s USD\n", note.Price.String()))
	}
	if note.Kind == KindPriceDeviation {
		builder.WriteString(fmt.Sprintf("Previous: %s USD\n", note.PreviousPrice.String()))
		builder.WriteString(fmt.Sprintf("Deviation: %s%% (threshold %s%%)\n", note.DeviationPct.StringFixed(2), note.ThresholdPct.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
