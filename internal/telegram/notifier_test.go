package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/pipeline"
	"github.com/camuig/momentum-trader/internal/risk"
	"github.com/camuig/momentum-trader/internal/storage"
)

func capture(t *testing.T) (*Notifier, *[]string) {
	t.Helper()
	n := NewNotifier(&config.Config{}, logger.Discard())
	var msgs []string
	n.sent = func(text string) { msgs = append(msgs, text) }
	return n, &msgs
}

func TestNewNotifier_Disabled(t *testing.T) {
	n := NewNotifier(&config.Config{}, logger.Discard())
	assert.False(t, n.enabled)
	assert.NotPanics(t, func() { n.NotifyStatus("hello") })
}

func TestNotifyResult(t *testing.T) {
	n, msgs := capture(t)

	n.NotifyResult(pipeline.Result{Symbol: "ETHUSDT", Status: pipeline.StatusNoTrade})
	n.NotifyResult(pipeline.Result{Symbol: "ETHUSDT", Status: pipeline.StatusRejected})
	assert.Empty(t, *msgs)

	n.NotifyResult(pipeline.Result{
		Symbol:     "ETHUSDT",
		Status:     pipeline.StatusExecuted,
		Confidence: 72,
		Position: &storage.Position{
			Symbol: "ETHUSDT", Side: storage.SideLong, EntryPrice: 3100.5, Quantity: 0.25,
			StopLoss: 3000, TakeProfit: 3300,
		},
	})
	n.NotifyResult(pipeline.Result{Symbol: "SOLUSDT", Status: pipeline.StatusError, Stage: pipeline.StageExecution, Err: errors.New("db locked")})

	require.Len(t, *msgs, 2)
	assert.Contains(t, (*msgs)[0], "*LONG* ETHUSDT")
	assert.Contains(t, (*msgs)[0], "Кол-во: 0.25")
	assert.Contains(t, (*msgs)[0], "Уверенность: 72")
	assert.Contains(t, (*msgs)[1], "SOLUSDT execution")
	assert.Contains(t, (*msgs)[1], "db locked")
}

func TestNotifyClosed(t *testing.T) {
	n, msgs := capture(t)

	n.NotifyClosed(context.Background(), ledger.Closed{
		Position:    storage.Position{Symbol: "BTCUSDT", Side: storage.SideLong, EntryPrice: 90000, ExitPrice: 91000, Quantity: 0.1},
		RealizedPnL: 100,
	})

	require.Len(t, *msgs, 1)
	assert.Contains(t, (*msgs)[0], "💰")
	assert.Contains(t, (*msgs)[0], "P&L: 100.00 $")
}

func TestHandleForwardsOnlyFailures(t *testing.T) {
	n, msgs := capture(t)

	n.Handle(context.Background(), pipeline.StageStarted{Symbol: "ETHUSDT", Stage: pipeline.StageAnalysis})
	n.Handle(context.Background(), pipeline.StageCompleted{Symbol: "ETHUSDT", Stage: pipeline.StageAnalysis})
	n.Handle(context.Background(), pipeline.StageFailed{Symbol: "ETHUSDT", Stage: pipeline.StageRiskAudit, Err: "boom"})

	require.Len(t, *msgs, 1)
	assert.Contains(t, (*msgs)[0], "risk_audit")
}

func TestNotifyTrip(t *testing.T) {
	n, msgs := capture(t)
	n.NotifyTrip(context.Background(), risk.TripEvent{PortfolioID: 1, Rule: risk.RuleDrawdown, Value: 15, Limit: 10, Reason: "drawdown 15.00% exceeds 10.00%"})

	require.Len(t, *msgs, 1)
	assert.Contains(t, (*msgs)[0], "drawdown")
}

func TestQty(t *testing.T) {
	assert.Equal(t, "1", qty(1))
	assert.Equal(t, "0.00012345", qty(0.00012345))
}
