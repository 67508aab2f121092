package web

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/risk"
	"github.com/camuig/momentum-trader/internal/storage"
)

//go:embed templates/dashboard.html
var templates embed.FS

var dashboardTmpl = template.Must(template.ParseFS(templates, "templates/dashboard.html"))

// PortfolioView is the API shape of one portfolio.
type PortfolioView struct {
	Portfolio     storage.Portfolio  `json:"portfolio"`
	Breaker       risk.BreakerState  `json:"breaker"`
	Positions     []storage.Position `json:"positions"`
	OpenNotional  float64            `json:"open_notional"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	ExposurePct   float64            `json:"exposure_pct"`
	DrawdownPct   float64            `json:"drawdown_pct"`
	DailyLossPct  float64            `json:"daily_loss_pct"`
	Stats         storage.TradeStats `json:"stats"`
}

type DashboardData struct {
	View         *PortfolioView
	RecentTrades []storage.Trade
	Analysis     []storage.AnalysisLog
	Violations   []storage.RiskEvent
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := DashboardData{}

	pid, err := s.dashboardPortfolio(r)
	if err != nil {
		s.logger.Error("resolve dashboard portfolio", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if pid != 0 {
		if data.View, err = s.portfolioView(r, pid); err != nil {
			s.logger.Error("portfolio view", "error", err)
		}
		if trades, err := s.ledger.RecentTrades(ctx, pid, 20); err == nil {
			data.RecentTrades = trades
		}
		if logs, err := s.repo.GetRecentAnalysisLogs(ctx, pid, 20); err == nil {
			data.Analysis = logs
		}
		if events, err := s.risk.Violations(ctx, pid, 24, ""); err == nil {
			data.Violations = events
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.Error("execute template", "error", err)
	}
}

// dashboardPortfolio picks ?portfolio= or the configured portfolio by name.
func (s *Server) dashboardPortfolio(r *http.Request) (uint, error) {
	if v := r.URL.Query().Get("portfolio"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		return uint(id), err
	}
	p, err := s.ledger.PortfolioByName(r.Context(), s.config.Portfolio.Name)
	if errors.Is(err, ledger.ErrPortfolioNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *Server) portfolioView(r *http.Request, pid uint) (*PortfolioView, error) {
	ctx := r.Context()
	st, err := s.ledger.State(ctx, pid)
	if err != nil {
		return nil, err
	}
	stats, err := s.repo.GetTradeStats(ctx, pid)
	if err != nil {
		return nil, err
	}
	breaker := risk.BreakerReady
	if st.Portfolio.CircuitBreakerActive {
		breaker = risk.BreakerActive
	}
	return &PortfolioView{
		Portfolio:     st.Portfolio,
		Breaker:       breaker,
		Positions:     st.Positions,
		OpenNotional:  st.OpenNotional,
		UnrealizedPnL: st.UnrealizedPnL,
		ExposurePct:   st.ExposurePct,
		DrawdownPct:   st.DrawdownPct,
		DailyLossPct:  st.DailyLossPct,
		Stats:         stats,
	}, nil
}

func (s *Server) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	items, err := s.ledger.ActivePortfolios(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.portfolioID(w, r)
	if !ok {
		return
	}
	view, err := s.portfolioView(r, pid)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.portfolioID(w, r)
	if !ok {
		return
	}
	trades, err := s.ledger.RecentTrades(r.Context(), pid, queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.portfolioID(w, r)
	if !ok {
		return
	}
	events, err := s.risk.Violations(r.Context(), pid, queryInt(r, "hours", 24), r.URL.Query().Get("severity"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.portfolioID(w, r)
	if !ok {
		return
	}
	logs, err := s.repo.GetRecentAnalysisLogs(r.Context(), pid, queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.portfolioID(w, r)
	if !ok {
		return
	}
	changed, err := s.risk.ResetBreaker(r.Context(), pid)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reset": changed, "breaker": risk.BreakerReady})
}

func (s *Server) portfolioID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid portfolio id"})
		return 0, false
	}
	return uint(id), true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrPortfolioNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Error("api request", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
