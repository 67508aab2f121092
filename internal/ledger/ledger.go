package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/storage"
)

var (
	ErrDuplicatePosition = errors.New("open position already exists for symbol")
	ErrPositionNotFound  = errors.New("position not found")
	ErrPositionClosed    = errors.New("position already closed")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrPortfolioExists   = errors.New("portfolio already exists")
	ErrPortfolioInactive = errors.New("portfolio is deactivated")
	ErrBreakerActive     = errors.New("circuit breaker active")
	ErrLimitExceeded     = errors.New("risk limit exceeded")
)

// EquityChange is delivered to observers after an equity write commits.
type EquityChange struct {
	PortfolioID uint
	Equity      float64
	PeakEquity  float64
}

type EquityObserver func(ctx context.Context, change EquityChange)

// Ledger owns portfolio and position state. Every mutation for a portfolio runs
// under that portfolio's mutex and inside one transaction.
type Ledger struct {
	repo   *storage.Repository
	logger *logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[uint]*sync.Mutex

	obsMu     sync.RWMutex
	observers []EquityObserver
}

func New(repo *storage.Repository, log *logger.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
		locks:  make(map[uint]*sync.Mutex),
	}
}

func (l *Ledger) lock(portfolioID uint) func() {
	l.mu.Lock()
	m, ok := l.locks[portfolioID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[portfolioID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// OnEquityChange registers fn for equity updates. Observers run synchronously
// after the portfolio lock is released; a panicking observer is logged and skipped.
func (l *Ledger) OnEquityChange(fn EquityObserver) {
	l.obsMu.Lock()
	l.observers = append(l.observers, fn)
	l.obsMu.Unlock()
}

func (l *Ledger) notify(ctx context.Context, change EquityChange) {
	l.obsMu.RLock()
	obs := append([]EquityObserver(nil), l.observers...)
	l.obsMu.RUnlock()

	for _, fn := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("equity observer panic", "portfolio_id", change.PortfolioID, "panic", r)
				}
			}()
			fn(ctx, change)
		}()
	}
}

// Portfolios

type CreateRequest struct {
	Name            string
	StartingCapital float64
	ExecutionMode   string
	Limits          storage.Limits
}

func (l *Ledger) CreatePortfolio(ctx context.Context, req CreateRequest) (uint, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return 0, fmt.Errorf("create portfolio: empty name")
	}
	if req.StartingCapital <= 0 {
		return 0, fmt.Errorf("create portfolio: starting capital must be positive")
	}

	existing, err := l.repo.GetPortfolioByName(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("create portfolio: %w", err)
	}
	if existing != nil {
		return 0, fmt.Errorf("create portfolio %q: %w", name, ErrPortfolioExists)
	}

	p := &storage.Portfolio{
		Name:                name,
		StartingCapital:     req.StartingCapital,
		CurrentEquity:       req.StartingCapital,
		PeakEquity:          req.StartingCapital,
		ExecutionMode:       strings.ToUpper(req.ExecutionMode),
		MaxPositionSizePct:  req.Limits.MaxPositionSizePct,
		MaxTotalExposurePct: req.Limits.MaxTotalExposurePct,
		MaxDailyLossPct:     req.Limits.MaxDailyLossPct,
		MaxDrawdownPct:      req.Limits.MaxDrawdownPct,
	}
	if p.ExecutionMode == "" {
		p.ExecutionMode = storage.ModeRealistic
	}

	id, err := l.repo.CreatePortfolio(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("create portfolio: %w", err)
	}
	l.logger.Info("portfolio created", "portfolio_id", id, "name", name, "capital", req.StartingCapital, "mode", p.ExecutionMode)
	return id, nil
}

// EnsurePortfolio returns the named portfolio, creating it from req when missing.
func (l *Ledger) EnsurePortfolio(ctx context.Context, req CreateRequest) (*storage.Portfolio, error) {
	p, err := l.repo.GetPortfolioByName(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	if p != nil {
		return p, nil
	}
	id, err := l.CreatePortfolio(ctx, req)
	if err != nil {
		return nil, err
	}
	return l.Portfolio(ctx, id)
}

func (l *Ledger) Portfolio(ctx context.Context, id uint) (*storage.Portfolio, error) {
	p, err := l.repo.GetPortfolio(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("portfolio %d: %w", id, ErrPortfolioNotFound)
	}
	return p, nil
}

func (l *Ledger) PortfolioByName(ctx context.Context, name string) (*storage.Portfolio, error) {
	p, err := l.repo.GetPortfolioByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("portfolio %q: %w", name, ErrPortfolioNotFound)
	}
	return p, nil
}

func (l *Ledger) ActivePortfolios(ctx context.Context) ([]storage.Portfolio, error) {
	items, err := l.repo.ListActivePortfolios(ctx)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	return items, nil
}

func (l *Ledger) Deactivate(ctx context.Context, portfolioID uint) error {
	unlock := l.lock(portfolioID)
	defer unlock()
	if err := l.repo.DeactivatePortfolio(ctx, portfolioID); err != nil {
		return fmt.Errorf("deactivate portfolio: %w", err)
	}
	return nil
}

func (l *Ledger) OpenPositions(ctx context.Context, portfolioID uint) ([]storage.Position, error) {
	items, err := l.repo.GetOpenPositions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}
	return items, nil
}

// PositionBySymbol returns the open position for symbol or nil.
func (l *Ledger) PositionBySymbol(ctx context.Context, portfolioID uint, symbol string) (*storage.Position, error) {
	p, err := l.repo.GetPositionBySymbol(ctx, portfolioID, symbol)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// Equity

// UpdateEquity writes a new equity value; peak equity is recomputed in the
// same statement.
func (l *Ledger) UpdateEquity(ctx context.Context, portfolioID uint, newEquity float64) error {
	unlock := l.lock(portfolioID)
	var change EquityChange
	err := l.repo.InTx(ctx, func(tx *storage.Repository) error {
		var err error
		change, err = writeEquity(ctx, tx, portfolioID, decimal.NewFromFloat(newEquity))
		return err
	})
	unlock()
	if err != nil {
		return fmt.Errorf("update equity: %w", err)
	}
	l.notify(ctx, change)
	return nil
}

func writeEquity(ctx context.Context, tx *storage.Repository, portfolioID uint, equity decimal.Decimal) (EquityChange, error) {
	v := equity.InexactFloat64()
	if err := tx.UpdatePortfolioEquity(ctx, portfolioID, v); err != nil {
		if errors.Is(err, storage.ErrNotUpdated) {
			return EquityChange{}, fmt.Errorf("portfolio %d: %w", portfolioID, ErrPortfolioNotFound)
		}
		return EquityChange{}, err
	}
	p, err := tx.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return EquityChange{}, err
	}
	return EquityChange{PortfolioID: portfolioID, Equity: p.CurrentEquity, PeakEquity: p.PeakEquity}, nil
}

// SetCircuitBreaker flips the breaker flag. It reports whether the flag changed.
func (l *Ledger) SetCircuitBreaker(ctx context.Context, portfolioID uint, active bool) (bool, error) {
	unlock := l.lock(portfolioID)
	defer unlock()

	changed := false
	err := l.repo.InTx(ctx, func(tx *storage.Repository) error {
		p, err := tx.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("portfolio %d: %w", portfolioID, ErrPortfolioNotFound)
		}
		if p.CircuitBreakerActive == active {
			return nil
		}
		changed = true
		return tx.SetCircuitBreaker(ctx, portfolioID, active, l.now())
	})
	if err != nil {
		return false, fmt.Errorf("set circuit breaker: %w", err)
	}
	return changed, nil
}
