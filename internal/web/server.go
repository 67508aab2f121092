package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/risk"
	"github.com/camuig/momentum-trader/internal/storage"
)

type Server struct {
	httpServer *http.Server
	ledger     *ledger.Ledger
	risk       *risk.Manager
	repo       *storage.Repository
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(l *ledger.Ledger, rm *risk.Manager, repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		ledger: l,
		risk:   rm,
		repo:   repo,
		config: cfg,
		logger: log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /api/portfolios", s.handlePortfolios)
	mux.HandleFunc("GET /api/portfolios/{id}", s.handlePortfolio)
	mux.HandleFunc("GET /api/portfolios/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/portfolios/{id}/violations", s.handleViolations)
	mux.HandleFunc("GET /api/portfolios/{id}/analysis", s.handleAnalysis)
	mux.HandleFunc("POST /api/portfolios/{id}/breaker/reset", s.handleBreakerReset)
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
