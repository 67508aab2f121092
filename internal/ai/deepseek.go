package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/logger"
)

// DeepSeekClient is the analysis agent backed by an OpenAI-compatible chat API.
type DeepSeekClient struct {
	client *openai.Client
	model  string
	logger *logger.Logger
}

func NewDeepSeekClient(cfg *config.Config, log *logger.Logger) *DeepSeekClient {
	ocfg := openai.DefaultConfig(cfg.DeepSeek.APIKey)
	ocfg.BaseURL = cfg.DeepSeek.BaseURL

	return &DeepSeekClient{
		client: openai.NewClientWithConfig(ocfg),
		model:  cfg.DeepSeek.Model,
		logger: log,
	}
}

// Propose asks the model for a trade on req.Symbol. It returns (nil, nil) when
// the model sees no opportunity. The caller bounds the call with ctx.
func (d *DeepSeekClient) Propose(ctx context.Context, req Request) (*ProposedSignal, error) {
	userPrompt := BuildUserPrompt(req)

	d.logger.Info("sending analysis request to DeepSeek",
		"run_id", req.RunID,
		"symbol", req.Symbol,
		"positions", len(req.Portfolio.Positions))

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("deepseek API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("deepseek returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	d.logger.Debug("AI raw response", "run_id", req.RunID, "content", raw)

	sig, err := ParseSignal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse AI response: %w", err)
	}
	if sig == nil {
		return nil, nil
	}

	var price float64
	if req.Momentum != nil {
		price = req.Momentum.Price
	}
	sig.Symbol = req.Symbol
	sig.Raw = raw
	if err := sig.Normalize(price); err != nil {
		d.logger.Warn("discarding invalid signal", "run_id", req.RunID, "symbol", req.Symbol, "error", err)
		return nil, nil
	}
	return sig, nil
}
