package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/camuig/momentum-trader/internal/ai"
)

// AuditRequest is a proposed signal plus its confidence score.
type AuditRequest struct {
	Symbol     string
	Direction  ai.Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Confidence int
}

// Audit sizes the trade from confidence, fills missing stop and target levels
// and runs ValidateTrade on the result. A reduced size or a filled level turns
// the approval into a Modify.
func (m *Manager) Audit(ctx context.Context, portfolioID uint, req AuditRequest) (Decision, error) {
	if min := m.cfg.Trading.MinConfidence; req.Confidence < min {
		return Reject{Reasons: []string{fmt.Sprintf("confidence %d below minimum %d", req.Confidence, min)}}, nil
	}
	if !(req.Entry > 0) {
		return nil, fmt.Errorf("%w: entry %v", ErrInvalidProposal, req.Entry)
	}

	st, err := m.ledger.State(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	port := st.Portfolio
	equity := port.CurrentEquity

	sig := AuditedSignal{
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Entry:      req.Entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Confidence: req.Confidence,
	}
	var changes []string

	target := equity * m.cfg.Risk.RiskPerTradePct / 100 * float64(req.Confidence) / 100
	if lim := port.MaxPositionSizePct; lim > 0 {
		if max := equity * lim / 100; target > max {
			target = max
			changes = append(changes, fmt.Sprintf("size capped at %.2f%% of equity", lim))
		}
	}
	if lim := port.MaxTotalExposurePct; lim > 0 {
		headroom := equity*lim/100 - st.OpenNotional
		if headroom > 0 && target > headroom {
			target = headroom
			changes = append(changes, "size reduced to exposure headroom")
		}
	}
	sig.Quantity = roundQty(target / req.Entry)

	slPct, tpPct := m.cfg.Trading.DefaultStopLossPct, m.cfg.Trading.DefaultTakeProfitPct
	long := req.Direction != ai.Short
	if sig.StopLoss <= 0 && slPct > 0 {
		if long {
			sig.StopLoss = req.Entry * (1 - slPct/100)
		} else {
			sig.StopLoss = req.Entry * (1 + slPct/100)
		}
		changes = append(changes, fmt.Sprintf("default stop %.2f%%", slPct))
	}
	if sig.TakeProfit <= 0 && tpPct > 0 {
		if long {
			sig.TakeProfit = req.Entry * (1 + tpPct/100)
		} else {
			sig.TakeProfit = req.Entry * (1 - tpPct/100)
		}
		changes = append(changes, fmt.Sprintf("default target %.2f%%", tpPct))
	}

	if sig.Quantity <= 0 {
		return Reject{Reasons: []string{"position size rounds to zero"}}, nil
	}

	ok, reasons, err := m.ValidateTrade(ctx, portfolioID, ProposalFor(req.Symbol, req.Direction, sig.Quantity, sig.Entry))
	if err != nil {
		return nil, err
	}
	if !ok {
		return Reject{Reasons: reasons}, nil
	}

	if len(changes) > 0 {
		return Modify{Signal: sig, Changes: changes}, nil
	}
	return Approve{Signal: sig}, nil
}

// roundQty truncates to 8 decimals, the finest lot size on spot venues.
func roundQty(q float64) float64 {
	return math.Floor(q*1e8) / 1e8
}
