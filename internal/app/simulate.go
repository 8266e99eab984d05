package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"crypto-risk-scorer/internal/alerting"
	"crypto-risk-scorer/internal/risk"
	"crypto-risk-scorer/internal/service"
)

// SimulateOptions 描述一次模拟告警。
type SimulateOptions struct {
	TokenID       string
	RiskScore     float64
	Price         decimal.Decimal
	PreviousPrice decimal.Decimal
}

// SimulateAlert 通过给定的风险分与价格走一遍告警通道。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	note, err := simulatedNotification(opts, a.Config.Monitoring.PriceDeviationPct, time.Now().UTC())
	if err != nil {
		return err
	}
	return a.newNotifier().Notify(ctx, note)
}

func simulatedNotification(opts SimulateOptions, thresholdPct float64, at time.Time) (alerting.Notification, error) {
	if opts.TokenID == "" {
		return alerting.Notification{}, errors.New("token id 不能为空")
	}

	note := alerting.Notification{
		TokenID:       opts.TokenID,
		Kind:          alerting.KindCriticalRisk,
		ObservedAt:    at,
		RiskScore:     opts.RiskScore,
		RiskLevel:     risk.LevelFromScore(opts.RiskScore),
		Price:         opts.Price,
		AdditionalMsg: "simulated alert",
	}

	if opts.PreviousPrice.IsPositive() && opts.Price.IsPositive() {
		deviation := service.PriceDeviationPct(opts.PreviousPrice, opts.Price)
		note.Kind = alerting.KindPriceDeviation
		note.PreviousPrice = opts.PreviousPrice
		note.DeviationPct = deviation.Abs()
		note.ThresholdPct = decimal.NewFromFloat(thresholdPct)
		switch deviation.Sign() {
		case 1:
			note.Direction = "up"
		case -1:
			note.Direction = "down"
		default:
			note.Direction = "flat"
		}
	}
	return note, nil
}
