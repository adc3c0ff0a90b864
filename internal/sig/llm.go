package sig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const interpreterPrompt = `You read prescription sig text and answer with strict JSON only:
{"unit":"tablet|capsule|ml|actuation|unit","dose_per_admin":<number>,"admins_per_day":<number>}
Convert teaspoons to ml (1 tsp = 5 ml, 1 tbsp = 15 ml). If the text is not
a dosing direction, answer {"unit":"","dose_per_admin":0,"admins_per_day":0}.`

// LLMConfig holds fallback interpreter configuration.
type LLMConfig struct {
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// LLMInterpreter calls an OpenAI-compatible chat-completions endpoint
// to read directives the rule library could not.
type LLMInterpreter struct {
	cfg    LLMConfig
	client *http.Client
	logger *zap.Logger
}

// NewLLMInterpreter creates the production fallback interpreter.
func NewLLMInterpreter(cfg LLMConfig, logger *zap.Logger) *LLMInterpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &LLMInterpreter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Interpret submits text and parses the structured answer. One retry on
// a 5xx or transport error, matching the external-data call discipline.
func (i *LLMInterpreter) Interpret(ctx context.Context, text string) (*Directive, error) {
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}

		d, retryable, err := i.interpretOnce(ctx, text)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("interpreter retries exhausted: %w", lastErr)
}

func (i *LLMInterpreter) interpretOnce(ctx context.Context, text string) (*Directive, bool, error) {
	body, err := json.Marshal(chatRequest{
		Model: i.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: interpreterPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+i.cfg.APIKey)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("interpreter status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("interpreter status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, false, fmt.Errorf("decode interpreter response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, false, fmt.Errorf("interpreter returned no choices")
	}

	d, err := parseAnswer(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, false, err
	}
	return d, false, nil
}

// parseAnswer decodes the model's JSON answer, tolerating code fences.
func parseAnswer(content string) (*Directive, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var answer struct {
		Unit         string  `json:"unit"`
		DosePerAdmin float64 `json:"dose_per_admin"`
		AdminsPerDay float64 `json:"admins_per_day"`
	}
	if err := json.Unmarshal([]byte(content), &answer); err != nil {
		return nil, fmt.Errorf("unparseable interpreter answer: %w", err)
	}

	dose := decimal.NewFromFloat(answer.DosePerAdmin)
	freq := decimal.NewFromFloat(answer.AdminsPerDay)
	return &Directive{
		Unit:         strings.ToLower(strings.TrimSpace(answer.Unit)),
		DosePerAdmin: dose,
		AdminsPerDay: freq,
		PerDay:       dose.Mul(freq),
		Method:       MethodAI,
	}, nil
}
