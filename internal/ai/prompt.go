package ai

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = `Ты — опытный трейдер на криптовалютном рынке, торгующий импульс (momentum).
Анализируй индикаторы по нескольким таймфреймам, ликвидность, корреляцию с BTC и текущий портфель.
Горизонт сделок — от нескольких часов до 2 дней.

Тебе предоставлены:
- RSI(14), MACD(12,26,9), полосы Боллинджера(20,2) и отношение объёма к среднему по каждому таймфрейму
- Спред, глубина стакана в пределах 1% и оборот за 24ч
- Изменение цены символа и BTC за 24ч
- Текущий портфель с открытыми позициями

Правила:
1. Предлагай сделку только при согласованном импульсе на старших таймфреймах (1h, 4h).
2. Не предлагай сделку по символу, если позиция уже открыта.
3. Для LONG stop_loss ниже entry, take_profit выше. Для SHORT наоборот.
4. sentiment — оценка рыночного фона: STRONG_POSITIVE, POSITIVE, NEUTRAL, NEGATIVE, STRONG_NEGATIVE.
5. Размер позиции не указывай — его рассчитывает риск-менеджмент.

Ответ строго в JSON (один объект):
{
  "direction": "LONG",
  "entry": 64250.5,
  "stop_loss": 62900.0,
  "take_profit": 67000.0,
  "sentiment": "POSITIVE",
  "reasoning": "Причина решения"
}

Если хорошей возможности нет — верни {"direction": "NONE"}.`

func BuildUserPrompt(req Request) string {
	var sb strings.Builder

	p := req.Portfolio
	sb.WriteString("## Текущий портфель\n")
	sb.WriteString(fmt.Sprintf("Капитал: %.2f USDT / Пик: %.2f USDT / Просадка: %.2f%% / Экспозиция: %.2f%%\n\n",
		p.Equity, p.PeakEquity, p.DrawdownPct, p.ExposurePct))

	if len(p.Positions) > 0 {
		sb.WriteString("### Открытые позиции\n")
		for _, pos := range p.Positions {
			sb.WriteString(fmt.Sprintf("- %s %s: %.6f, вход %.4f, текущая %.4f, P&L %.2f\n",
				pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.CurrentPrice, pos.UnrealizedPnL))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Открытых позиций нет.\n\n")
	}

	mc := req.Momentum
	if mc == nil {
		sb.WriteString(fmt.Sprintf("## %s\nРыночные данные недоступны.\n", req.Symbol))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("## %s, цена %.4f\n", mc.Symbol, mc.Price))
	sb.WriteString("| ТФ | RSI | MACD | Сигнал | Состояние | BB поз. | Объём/ср. | Изм.% |\n")
	sb.WriteString("|----|-----|------|--------|-----------|---------|-----------|-------|\n")

	frames := make([]string, 0, len(mc.Frames))
	for tf := range mc.Frames {
		frames = append(frames, tf)
	}
	sort.Strings(frames)
	for _, tf := range frames {
		f := mc.Frames[tf]
		sb.WriteString(fmt.Sprintf("| %s | %.1f | %.4f | %.4f | %s | %.2f | %.2f | %+.2f |\n",
			tf, f.RSI, f.MACD, f.MACDSignal, f.MACDState, f.BBPosition(), f.VolumeRatio, f.ChangePct))
	}

	sb.WriteString("\n## Ликвидность\n")
	sb.WriteString(fmt.Sprintf("Спред: %.4f%% / Глубина ±1%%: %.0f USDT / Оборот 24ч: %.0f USDT / Объём/ср.: %.2f\n",
		mc.Liquidity.SpreadPct, mc.Liquidity.DepthUSD, mc.Liquidity.QuoteVolume24h, mc.Liquidity.VolumeRatio))

	sb.WriteString("\n## Корреляция\n")
	sb.WriteString(fmt.Sprintf("%s за 24ч: %+.2f%% / BTC за 24ч: %+.2f%%\n",
		mc.Symbol, mc.Correlation.SymbolChangePct, mc.Correlation.BTCChangePct))

	sb.WriteString("\nПроанализируй и выдай решение в JSON.")

	return sb.String()
}
