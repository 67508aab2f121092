package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/camuig/momentum-trader/internal/ai"
	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/execution"
	"github.com/camuig/momentum-trader/internal/id"
	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/momentum"
	"github.com/camuig/momentum-trader/internal/risk"
	"github.com/camuig/momentum-trader/internal/scoring"
	"github.com/camuig/momentum-trader/internal/storage"
)

const maxReasonLen = 500

// Orchestrator runs ANALYSIS, RISK_AUDIT and EXECUTION for one symbol and
// reduces the run to a single Result.
type Orchestrator struct {
	agent    Agent
	builder  ContextBuilder
	prices   PriceSource
	scorer   *scoring.Scorer
	auditor  Auditor
	executor Executor
	ledger   *ledger.Ledger
	repo     *storage.Repository
	bus      *Bus
	cfg      *config.Config
	logger   *logger.Logger
}

type Deps struct {
	Agent    Agent
	Builder  ContextBuilder
	Prices   PriceSource
	Scorer   *scoring.Scorer
	Auditor  Auditor
	Executor Executor
	Ledger   *ledger.Ledger
	Repo     *storage.Repository
	Bus      *Bus
}

func NewOrchestrator(d Deps, cfg *config.Config, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		agent:    d.Agent,
		builder:  d.Builder,
		prices:   d.Prices,
		scorer:   d.Scorer,
		auditor:  d.Auditor,
		executor: d.Executor,
		ledger:   d.Ledger,
		repo:     d.Repo,
		bus:      d.Bus,
		cfg:      cfg,
		logger:   log,
	}
}

// run carries the per-run state between stages.
type run struct {
	id          string
	portfolioID uint
	symbol      string
	started     time.Time

	momentum  *momentum.Context
	signal    *ai.ProposedSignal
	signalAt  time.Time
	decision  risk.Decision
	audited   risk.AuditedSignal
	score     int
	position  *storage.Position
	aborted   string
	rawAnswer string
}

// Run never returns an error: every outcome, including failures, is a Result.
func (o *Orchestrator) Run(ctx context.Context, portfolioID uint, symbol string) Result {
	r := &run{
		id:          id.Prefixed("run"),
		portfolioID: portfolioID,
		symbol:      symbol,
		started:     time.Now().UTC(),
	}
	res := o.run(ctx, r)
	res.RunID = r.id
	res.Symbol = symbol
	res.Confidence = r.score
	res.Elapsed = time.Since(r.started)

	switch res.Status {
	case StatusError:
		o.logger.Error("pipeline run failed", "run_id", r.id, "symbol", symbol, "stage", res.Stage, "error", res.Err)
	default:
		o.logger.Info("pipeline run finished", "run_id", r.id, "symbol", symbol,
			"status", res.Status, "stage", res.Stage, "confidence", res.Confidence, "reasons", res.Reasons)
	}

	o.saveLog(ctx, portfolioID, r, res)
	return res
}

func (o *Orchestrator) run(ctx context.Context, r *run) Result {
	if err := o.stage(ctx, r, StageAnalysis, o.analyze); err != nil {
		return Result{Status: StatusError, Stage: StageAnalysis, Err: err}
	}
	if r.signal == nil {
		return Result{Status: StatusNoTrade, Stage: StageAnalysis}
	}

	if err := o.stage(ctx, r, StageRiskAudit, o.audit); err != nil {
		return Result{Status: StatusError, Stage: StageRiskAudit, Err: err}
	}
	switch d := r.decision.(type) {
	case risk.Reject:
		return Result{Status: StatusRejected, Stage: StageRiskAudit, Reasons: d.Reasons}
	case risk.Approve:
		r.audited = d.Signal
	case risk.Modify:
		r.audited = d.Signal
	default:
		return Result{Status: StatusError, Stage: StageRiskAudit, Err: ErrMissingDecision}
	}

	if err := o.stage(ctx, r, StageExecution, o.execute); err != nil {
		return Result{Status: StatusError, Stage: StageExecution, Err: err}
	}
	if r.aborted != "" {
		return Result{Status: StatusAborted, Stage: StageExecution, Reasons: []string{r.aborted}}
	}
	return Result{Status: StatusExecuted, Stage: StageExecution, Position: r.position}
}

type stageFunc func(ctx context.Context, r *run) (Status, string, error)

// stage runs fn, turns a panic into an error and publishes the stage events.
func (o *Orchestrator) stage(ctx context.Context, r *run, stage Stage, fn stageFunc) (err error) {
	start := time.Now()
	o.bus.Publish(StageStarted{RunID: r.id, Symbol: r.symbol, Stage: stage, At: start.UTC()})

	var (
		status Status
		output string
	)
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("panic in pipeline stage", "run_id", r.id, "stage", stage, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", stage, p)
		}
		elapsed := time.Since(start)
		if err != nil {
			o.bus.Publish(StageFailed{RunID: r.id, Symbol: r.symbol, Stage: stage, Err: err.Error(), Elapsed: elapsed, At: time.Now().UTC()})
			return
		}
		o.bus.Publish(StageCompleted{RunID: r.id, Symbol: r.symbol, Stage: stage, Status: status, Output: output, Elapsed: elapsed, At: time.Now().UTC()})
	}()

	status, output, err = fn(ctx, r)
	return err
}

// analyze builds the market context and asks the agent. Nothing is written to
// the store in this stage.
func (o *Orchestrator) analyze(ctx context.Context, r *run) (Status, string, error) {
	mc, err := o.builder.Build(ctx, r.symbol)
	if err != nil {
		return "", "", fmt.Errorf("build momentum context: %w", err)
	}
	r.momentum = mc

	snap, err := o.portfolioSnapshot(ctx, r.portfolioID)
	if err != nil {
		return "", "", err
	}

	sig, err := o.propose(ctx, ai.Request{RunID: r.id, Symbol: r.symbol, Momentum: mc, Portfolio: snap})
	if err != nil {
		return "", "", err
	}
	if sig == nil {
		return StatusNoTrade, "no signal", nil
	}
	r.signal = sig
	r.signalAt = time.Now().UTC()
	r.rawAnswer = sig.Raw
	return "", fmt.Sprintf("%s %s entry %.4f sentiment %s", sig.Direction, r.symbol, sig.Entry, sig.Sentiment), nil
}

type proposal struct {
	signal *ai.ProposedSignal
	err    error
}

// propose bounds the agent call with the analysis timeout. A timeout is the
// same as no signal. The agent runs on its own goroutine so one that ignores
// its context cannot hold the pipeline past the deadline.
func (o *Orchestrator) propose(ctx context.Context, req ai.Request) (*ai.ProposedSignal, error) {
	actx, cancel := context.WithTimeout(ctx, o.cfg.AnalysisTimeout())
	defer cancel()

	ch := make(chan proposal, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- proposal{err: fmt.Errorf("analysis agent panic: %v", p)}
			}
		}()
		sig, err := o.agent.Propose(actx, req)
		ch <- proposal{signal: sig, err: err}
	}()

	select {
	case p := <-ch:
		if p.err != nil && errors.Is(p.err, context.DeadlineExceeded) && ctx.Err() == nil {
			o.logger.Info("analysis agent timed out", "run_id", req.RunID, "symbol", req.Symbol)
			return nil, nil
		}
		if p.err != nil {
			return nil, fmt.Errorf("analysis agent: %w", p.err)
		}
		return p.signal, nil
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analysis cancelled: %w", err)
		}
		o.logger.Info("analysis agent timed out", "run_id", req.RunID, "symbol", req.Symbol)
		return nil, nil
	}
}

func (o *Orchestrator) portfolioSnapshot(ctx context.Context, portfolioID uint) (ai.PortfolioSnapshot, error) {
	st, err := o.ledger.State(ctx, portfolioID)
	if err != nil {
		return ai.PortfolioSnapshot{}, err
	}
	snap := ai.PortfolioSnapshot{
		Equity:      st.Portfolio.CurrentEquity,
		PeakEquity:  st.Portfolio.PeakEquity,
		DrawdownPct: st.DrawdownPct,
		ExposurePct: st.ExposurePct,
	}
	for _, p := range st.Positions {
		snap.Positions = append(snap.Positions, ai.OpenPosition{
			Symbol:        p.Symbol,
			Side:          p.Side,
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  p.CurrentPrice,
			Quantity:      p.Quantity,
			UnrealizedPnL: p.UnrealizedPnL,
		})
	}
	return snap, nil
}

func (o *Orchestrator) audit(ctx context.Context, r *run) (Status, string, error) {
	b := o.scorer.Evaluate(r.momentum, r.signal.Direction, r.signal.Sentiment)
	r.score = b.Total
	if len(b.Weak) > 0 {
		o.logger.Info("weak confidence components", "run_id", r.id, "symbol", r.symbol, "weak", b.Weak, "score", b.Total)
	}

	d, err := o.auditor.Audit(ctx, r.portfolioID, risk.AuditRequest{
		Symbol:     r.symbol,
		Direction:  r.signal.Direction,
		Entry:      r.signal.Entry,
		StopLoss:   r.signal.StopLoss,
		TakeProfit: r.signal.TakeProfit,
		Confidence: b.Total,
	})
	if err != nil {
		return "", "", fmt.Errorf("risk audit: %w", err)
	}
	if d == nil {
		return "", "", ErrMissingDecision
	}
	r.decision = d

	switch d := d.(type) {
	case risk.Reject:
		return StatusRejected, fmt.Sprintf("REJECT confidence %d: %v", b.Total, d.Reasons), nil
	case risk.Modify:
		return "", fmt.Sprintf("MODIFY confidence %d qty %.8f: %v", b.Total, d.Signal.Quantity, d.Changes), nil
	case risk.Approve:
		return "", fmt.Sprintf("APPROVE confidence %d qty %.8f", b.Total, d.Signal.Quantity), nil
	default:
		return "", "", fmt.Errorf("%w: unexpected %T", ErrMissingDecision, d)
	}
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (Status, string, error) {
	sig := r.audited

	port, err := o.ledger.Portfolio(ctx, r.portfolioID)
	if err != nil {
		return "", "", err
	}
	if port.CircuitBreakerActive {
		r.aborted = "circuit breaker tripped after audit"
		return StatusAborted, r.aborted, nil
	}

	price, err := o.prices.CurrentPrice(ctx, r.symbol)
	if err != nil {
		return "", "", fmt.Errorf("current price: %w", err)
	}
	if dev := math.Abs(price-sig.Entry) / sig.Entry * 100; dev > o.cfg.Trading.MaxPriceDeviationPct {
		r.aborted = fmt.Sprintf("price moved %.2f%% from entry %.4f to %.4f, tolerance %.2f%%",
			dev, sig.Entry, price, o.cfg.Trading.MaxPriceDeviationPct)
		return StatusAborted, r.aborted, nil
	}

	side := execution.Buy
	posSide := storage.SideLong
	if sig.Direction == ai.Short {
		side = execution.Sell
		posSide = storage.SideShort
	}

	order := execution.Order{
		ID:             id.Prefixed("ord"),
		Symbol:         r.symbol,
		Side:           side,
		Quantity:       sig.Quantity,
		ReferencePrice: price,
		Mode:           port.ExecutionMode,
		Market:         marketContext(r.momentum, price),
		SignalAt:       r.signalAt,
	}
	if port.ExecutionMode == storage.ModeHistorical {
		// fill at the bar after the signal, measured from the signal price
		order.ReferencePrice = sig.Entry
	}

	fill, err := o.executor.Execute(ctx, order)
	if err != nil {
		return "", "", fmt.Errorf("simulate order: %w", err)
	}
	if fill.PartialFill && fill.FillPercentage < o.cfg.Execution.MinFillPercentage {
		r.aborted = fmt.Sprintf("partial fill %.2f%% below minimum %.2f%%", fill.FillPercentage, o.cfg.Execution.MinFillPercentage)
		return StatusAborted, r.aborted, nil
	}

	opened, err := o.ledger.OpenPosition(ctx, ledger.OpenRequest{
		PortfolioID: r.portfolioID,
		Symbol:      r.symbol,
		Side:        posSide,
		EntryPrice:  fill.FilledPrice,
		Quantity:    fill.FilledQuantity,
		StopLoss:    sig.StopLoss,
		TakeProfit:  sig.TakeProfit,
		Commission:  fill.Commission,
		Reason:      truncate(r.signal.Reasoning, maxReasonLen),

		EnforceLimits: true,
	})
	if errors.Is(err, ledger.ErrBreakerActive) || errors.Is(err, ledger.ErrLimitExceeded) {
		r.aborted = err.Error()
		return StatusAborted, r.aborted, nil
	}
	if err != nil {
		return "", "", err
	}
	pos := opened.Position
	r.position = &pos

	if err := o.repo.RecordExecutionQuality(ctx, qualityRecord(opened.TradeID, fill)); err != nil {
		o.logger.Error("record execution quality", "run_id", r.id, "trade_id", opened.TradeID, "error", err)
	}
	if _, err := o.auditor.Reconcile(ctx, r.portfolioID, opened.TradeID, r.symbol, fill); err != nil {
		o.logger.Error("reconcile fill", "run_id", r.id, "trade_id", opened.TradeID, "error", err)
	}

	return StatusExecuted, fmt.Sprintf("%s %s %.8f @ %.4f (%s, slippage %.3f%%, fill %.0f%%)",
		posSide, r.symbol, fill.FilledQuantity, fill.FilledPrice, fill.Status, fill.SlippagePct, fill.FillPercentage), nil
}

func qualityRecord(tradeID uint, fill execution.Result) *storage.ExecutionQuality {
	return &storage.ExecutionQuality{
		TradeID:         tradeID,
		Mode:            fill.Mode,
		ReferencePrice:  fill.ReferencePrice,
		FilledPrice:     fill.FilledPrice,
		FilledQuantity:  fill.FilledQuantity,
		SlippagePct:     fill.SlippagePct,
		Commission:      fill.Commission,
		ExecutionTimeMs: fill.ExecutionTimeMs,
		PartialFill:     fill.PartialFill,
		FillPercentage:  fill.FillPercentage,
		SignalAt:        fill.SignalGeneratedAt,
		StartedAt:       fill.ExecutionStartedAt,
		CompletedAt:     fill.ExecutionCompletedAt,
	}
}

// marketContext derives book depth and band width volatility from the momentum context.
func marketContext(mc *momentum.Context, nextOpen float64) *execution.MarketContext {
	m := &execution.MarketContext{NextBarOpen: nextOpen}
	if mc == nil {
		return m
	}
	m.LiquidityUSD = mc.Liquidity.DepthUSD
	for _, tf := range []string{"1h", "15m", "4h", "5m", "1m"} {
		f, ok := mc.Frames[tf]
		if ok && f.BBMiddle > 0 {
			m.VolatilityPct = (f.BBUpper - f.BBLower) / f.BBMiddle * 100
			break
		}
	}
	return m
}

func (o *Orchestrator) saveLog(ctx context.Context, portfolioID uint, r *run, res Result) {
	entry := &storage.AnalysisLog{
		PortfolioID: portfolioID,
		RunID:       r.id,
		Symbol:      r.symbol,
		Status:      string(res.Status),
		Stage:       string(res.Stage),
		Confidence:  r.score,
		AIResponse:  r.rawAnswer,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := o.repo.SaveAnalysisLog(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Error("save analysis log", "run_id", r.id, "error", err)
	}
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
