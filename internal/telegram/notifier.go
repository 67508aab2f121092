package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/pipeline"
	"github.com/camuig/momentum-trader/internal/risk"
	"github.com/camuig/momentum-trader/internal/storage"
)

type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *logger.Logger

	// sent is swapped in tests.
	sent func(text string)
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifyOpened(pos storage.Position, confidence int) {
	n.send(formatOpened(pos, confidence))
}

func (n *Notifier) NotifyClosed(ctx context.Context, c ledger.Closed) {
	n.send(formatClosed(c))
}

// NotifyTrip is registered as the risk manager's breaker hook.
func (n *Notifier) NotifyTrip(ctx context.Context, ev risk.TripEvent) {
	n.send(fmt.Sprintf("🛑 *Circuit breaker* portfolio %d\nПравило: %s\nЗначение: %.2f / лимит %.2f\n%s",
		ev.PortfolioID, ev.Rule, ev.Value, ev.Limit, ev.Reason))
}

func (n *Notifier) NotifyError(context string, err error) {
	msg := fmt.Sprintf("⚠️ *Ошибка* [%s]\n%v", context, err)
	n.send(msg)
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

// NotifyResult reports the runs worth a message: fills and failures.
func (n *Notifier) NotifyResult(res pipeline.Result) {
	switch res.Status {
	case pipeline.StatusExecuted:
		if res.Position != nil {
			n.NotifyOpened(*res.Position, res.Confidence)
		}
	case pipeline.StatusError:
		n.NotifyError(fmt.Sprintf("%s %s", res.Symbol, res.Stage), res.Err)
	}
}

// Handle makes the notifier a pipeline event sink. Only failed stages are
// forwarded; fills arrive through NotifyResult.
func (n *Notifier) Handle(ctx context.Context, ev pipeline.Event) {
	if f, ok := ev.(pipeline.StageFailed); ok {
		n.send(fmt.Sprintf("⚠️ *Сбой этапа* %s %s\n%s", f.Symbol, f.Stage, f.Err))
	}
}

func formatOpened(pos storage.Position, confidence int) string {
	emoji := "🟢"
	if pos.Side == storage.SideShort {
		emoji = "🔻"
	}
	return fmt.Sprintf("%s *%s* %s\nЦена: %s\nКол-во: %s\nSL: %s\nTP: %s\nУверенность: %d",
		emoji, pos.Side, pos.Symbol, price(pos.EntryPrice), qty(pos.Quantity),
		price(pos.StopLoss), price(pos.TakeProfit), confidence)
}

func formatClosed(c ledger.Closed) string {
	emoji := "🔴"
	if c.RealizedPnL > 0 {
		emoji = "💰"
	}
	p := c.Position
	return fmt.Sprintf("%s *CLOSE* %s %s\nВход: %s\nВыход: %s\nКол-во: %s\nP&L: %.2f $",
		emoji, p.Side, p.Symbol, price(p.EntryPrice), price(p.ExitPrice), qty(p.Quantity), c.RealizedPnL)
}

func price(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f $", v)
}

func qty(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func (n *Notifier) send(text string) {
	if n.sent != nil {
		n.sent(text)
		return
	}
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
