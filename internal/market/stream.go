package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camuig/momentum-trader/internal/logger"
)

// PriceHandler receives every price update from the stream.
type PriceHandler func(ctx context.Context, symbol string, price float64)

// Stream subscribes to Binance mini-ticker updates over a combined websocket stream
// and reconnects with backoff until its context is cancelled.
type Stream struct {
	URL         string
	Symbols     []string
	ReadTimeout time.Duration
	MaxBackoff  time.Duration

	logger *logger.Logger
	dialer *websocket.Dialer
}

func NewStream(baseURL string, symbols []string, log *logger.Logger) *Stream {
	return &Stream{
		URL:         baseURL,
		Symbols:     symbols,
		ReadTimeout: 60 * time.Second,
		MaxBackoff:  time.Minute,
		logger:      log,
		dialer:      websocket.DefaultDialer,
	}
}

type miniTickerEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
}

// streamURL builds ".../stream?streams=btcusdt@miniTicker/ethusdt@miniTicker".
func (s *Stream) streamURL() string {
	names := make([]string, 0, len(s.Symbols))
	for _, sym := range s.Symbols {
		names = append(names, strings.ToLower(sym)+"@miniTicker")
	}
	return s.URL + "?streams=" + strings.Join(names, "/")
}

func (s *Stream) Run(ctx context.Context, handle PriceHandler) error {
	if len(s.Symbols) == 0 {
		return fmt.Errorf("price stream: no symbols")
	}

	backoff := time.Second
	for {
		err := s.runOnce(ctx, handle)
		if ctx.Err() != nil {
			s.logger.Info("price stream stopped")
			return nil
		}
		s.logger.Warn("price stream disconnected", "error", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}

func (s *Stream) runOnce(ctx context.Context, handle PriceHandler) error {
	conn, _, err := s.dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.logger.Info("price stream connected", "symbols", len(s.Symbols))

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		symbol, price, ok := parseMiniTicker(raw)
		if !ok {
			continue
		}
		handle(ctx, symbol, price)
	}
}

func parseMiniTicker(raw []byte) (string, float64, bool) {
	var env miniTickerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", 0, false
	}
	if env.Data.Symbol == "" {
		return "", 0, false
	}
	price := toFloat64(env.Data.Close)
	if price <= 0 {
		return "", 0, false
	}
	return env.Data.Symbol, price, true
}
