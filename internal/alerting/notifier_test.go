package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-risk-scorer/internal/risk"
)

func deviationNote() Notification {
	return Notification{
		TokenID:       "pepe",
		Symbol:        "pepe",
		Kind:          KindPriceDeviation,
		ObservedAt:    time.Now(),
		RiskScore:     72,
		RiskLevel:     risk.LevelHigh,
		Price:         decimal.RequireFromString("0.0000121"),
		PreviousPrice: decimal.RequireFromString("0.0000100"),
		DeviationPct:  decimal.NewFromInt(21),
		ThresholdPct:  decimal.NewFromInt(10),
		Direction:     "up",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), deviationNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "Price deviation") || !strings.Contains(text, "pepe (PEPE)") {
		t.Fatalf("text 内容不正确: %q", text)
	}
	if !strings.Contains(text, "Deviation: 21.00% (threshold 10.00%)") {
		t.Fatalf("偏离信息缺失: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), deviationNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderCriticalMessage(t *testing.T) {
	note := Notification{TokenID: "scam", Kind: KindCriticalRisk, RiskScore: 88, RiskLevel: risk.LevelCritical, ObservedAt: time.Now()}
	text := renderMessage(note)
	if !strings.Contains(text, "Critical risk") || !strings.Contains(text, "Risk: 88 (CRITICAL)") {
		t.Fatalf("critical 告警内容不正确: %q", text)
	}
	if strings.Contains(text, "Deviation") {
		t.Fatalf("critical 告警不应包含偏离信息")
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Notification) error {
	f.calls++
	return errors.New("down")
}

func TestMultiNotifiesAll(t *testing.T) {
	a, b := &failingNotifier{}, &failingNotifier{}
	multi := Multi{a, NewLogNotifier(testLogger()), nil, b}

	if err := multi.Notify(context.Background(), deviationNote()); err == nil {
		t.Fatal("应汇总下游错误")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("每个告警器都应被调用一次")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
