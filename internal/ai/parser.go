package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes DeepSeek R1 reasoning tags from the response.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))
}

type wireSignal struct {
	Direction  string  `json:"direction"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Sentiment  string  `json:"sentiment"`
	Reasoning  string  `json:"reasoning"`
}

// ParseSignal decodes the model output. Handles a bare JSON object, markdown
// code fences and surrounding prose. A NONE/HOLD direction or an empty answer
// yields (nil, nil).
func ParseSignal(text string) (*ProposedSignal, error) {
	cleaned := StripThinkTags(text)

	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" || cleaned == "{}" || cleaned == "null" {
		return nil, nil
	}

	var w wireSignal
	if err := json.Unmarshal([]byte(cleaned), &w); err != nil {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("failed to parse AI response as JSON: %.200s", cleaned)
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &w); err != nil {
			return nil, fmt.Errorf("failed to parse AI response as JSON: %.200s", cleaned)
		}
	}

	dir, ok := ParseDirection(w.Direction)
	if !ok {
		return nil, nil
	}

	return &ProposedSignal{
		Direction:  dir,
		Entry:      w.Entry,
		StopLoss:   w.StopLoss,
		TakeProfit: w.TakeProfit,
		Sentiment:  ParseSentiment(w.Sentiment),
		Reasoning:  w.Reasoning,
	}, nil
}

// Normalize fills a missing entry from the market price and checks that stop
// and target sit on the correct sides of the entry.
func (s *ProposedSignal) Normalize(marketPrice float64) error {
	if s.Entry <= 0 {
		s.Entry = marketPrice
	}
	if s.Entry <= 0 {
		return fmt.Errorf("no entry price")
	}
	switch s.Direction {
	case Long:
		if s.StopLoss > 0 && s.StopLoss >= s.Entry {
			return fmt.Errorf("long stop %.4f not below entry %.4f", s.StopLoss, s.Entry)
		}
		if s.TakeProfit > 0 && s.TakeProfit <= s.Entry {
			return fmt.Errorf("long target %.4f not above entry %.4f", s.TakeProfit, s.Entry)
		}
	case Short:
		if s.StopLoss > 0 && s.StopLoss <= s.Entry {
			return fmt.Errorf("short stop %.4f not above entry %.4f", s.StopLoss, s.Entry)
		}
		if s.TakeProfit > 0 && s.TakeProfit >= s.Entry {
			return fmt.Errorf("short target %.4f not below entry %.4f", s.TakeProfit, s.Entry)
		}
	default:
		return fmt.Errorf("unknown direction %q", s.Direction)
	}
	return nil
}
