package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/camuig/momentum-trader/internal/ai"
	"github.com/camuig/momentum-trader/internal/execution"
	"github.com/camuig/momentum-trader/internal/momentum"
	"github.com/camuig/momentum-trader/internal/risk"
	"github.com/camuig/momentum-trader/internal/storage"
)

var ErrMissingDecision = errors.New("risk audit produced no decision")

type Status string

const (
	StatusNoTrade  Status = "NO_TRADE"
	StatusRejected Status = "REJECTED"
	StatusAborted  Status = "ABORTED"
	StatusExecuted Status = "EXECUTED"
	StatusError    Status = "ERROR"
)

type Stage string

const (
	StageAnalysis  Stage = "analysis"
	StageRiskAudit Stage = "risk_audit"
	StageExecution Stage = "execution"
	StagePnLReview Stage = "pnl_review"
)

// Result is the terminal outcome of one run. Callers receive it by value.
type Result struct {
	RunID      string
	Symbol     string
	Status     Status
	Stage      Stage
	Position   *storage.Position
	Confidence int
	Reasons    []string
	Err        error
	Elapsed    time.Duration
}

// Agent proposes a trade or returns nil for no trade.
type Agent interface {
	Propose(ctx context.Context, req ai.Request) (*ai.ProposedSignal, error)
}

type ContextBuilder interface {
	Build(ctx context.Context, symbol string) (*momentum.Context, error)
}

type Auditor interface {
	Audit(ctx context.Context, portfolioID uint, req risk.AuditRequest) (risk.Decision, error)
	Reconcile(ctx context.Context, portfolioID, tradeID uint, symbol string, res execution.Result) (bool, error)
}

type Executor interface {
	Execute(ctx context.Context, o execution.Order) (execution.Result, error)
}

// PriceSource is the slice of the market provider the execution stage needs.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}
