// Package prover asks a language model to complete a theorem body and
// checks each proposal with the proof backend, feeding errors back until a
// proposal is accepted or the attempt budget runs out.
package prover

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/pbt-oracle/internal/circuitbreaker"
	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/retry"
)

// Prompt is the instruction sent ahead of the theorem prefix
const Prompt = "Prove the theorem statement by completing the body of its signature below. Your answer should not repeat the signature; i.e. should start with := \n"

const systemPrompt = "You are an expert in the Lean 4 proof assistant. Reply with a single ```lean code block."

var codeBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9]*[ \t]*\n(.*?)```")

// ChatClient is the subset of the OpenAI client used here
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CheckFunc runs a complete script through the backend and reports
// acceptance plus the diagnostic transcript
type CheckFunc func(ctx context.Context, script string) (accepted bool, transcript string, err error)

// Budget gates every model request, typically a quota shared between
// processes
type Budget interface {
	Wait(ctx context.Context) error
}

// Attempt is one model proposal and its check result
type Attempt struct {
	Code     string `json:"code"`
	Accepted bool   `json:"accepted"`
	Feedback string `json:"feedback"`
}

// Result is the attempt trace of one proof session.
// FinalCode is the last proposal, accepted or not; empty if the model never proposed one.
type Result struct {
	FinalCode string    `json:"final_code,omitempty"`
	Accepted  bool      `json:"accepted"`
	Attempts  []Attempt `json:"attempts"`
}

// OpenAIProver drives an interactive proof session over a chat model
type OpenAIProver struct {
	client      ChatClient
	model       string
	maxAttempts int
	temperature float32
	timeout     time.Duration
	check       CheckFunc
	breaker     *circuitbreaker.CircuitBreaker
	retryConfig *retry.RetryConfig
	budget      Budget
}

// NewClient creates an OpenAI-compatible client for cfg
func NewClient(cfg config.ProverConfig) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

// NewOpenAIProver creates a prover. check is used to validate every proposal.
func NewOpenAIProver(cfg config.ProverConfig, client ChatClient, check CheckFunc) *OpenAIProver {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	retryConfig := retry.DefaultRetryConfig()
	retryConfig.MaxAttempts = 3
	retryConfig.Retryable = isRetryable

	return &OpenAIProver{
		client:      client,
		model:       cfg.Model,
		maxAttempts: maxAttempts,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		check:       check,
		breaker:     circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("prover:" + cfg.Model)),
		retryConfig: retryConfig,
	}
}

// WithBudget makes every model request wait on b first
func (p *OpenAIProver) WithBudget(b Budget) *OpenAIProver {
	p.budget = b
	return p
}

// Breaker exposes the circuit breaker state for health reporting
func (p *OpenAIProver) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

// Prove asks the model to complete prefix, a script ending in a bare
// theorem statement. Each proposal is appended to prefix and checked; the
// backend's diagnostics are sent back on rejection.
func (p *OpenAIProver) Prove(ctx context.Context, prefix string) (*Result, error) {
	logger := logging.FromContext(ctx).WithField("model", p.model)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: Prompt + "\n```lean\n" + prefix + "\n```"},
	}

	result := &Result{}
	for i := 0; i < p.maxAttempts; i++ {
		reply, err := p.complete(ctx, messages)
		if err != nil {
			return result, err
		}

		code := ExtractProof(reply)
		if code == "" {
			logger.Warn("model reply contained no proof text")
			messages = append(messages,
				openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
				openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Your reply contained no proof. Reply with the proof body starting with :="},
			)
			continue
		}

		accepted, transcript, err := p.check(ctx, prefix+code)
		if err != nil {
			transcript = err.Error()
		}
		result.FinalCode = code
		result.Attempts = append(result.Attempts, Attempt{Code: code, Accepted: accepted, Feedback: transcript})

		logger.WithFields(map[string]interface{}{
			"attempt":  i + 1,
			"accepted": accepted,
		}).Debug("model proof checked")

		if accepted {
			result.Accepted = true
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Lean rejected the proof:\n" + transcript + "\nPlease fix it. Reply with the corrected proof body only, starting with :="},
		)
	}

	return result, nil
}

func (p *OpenAIProver) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	var reply string
	res := retry.WithExponentialBackoff(ctx, p.retryConfig, func(ctx context.Context, attempt int) error {
		if p.budget != nil {
			if err := p.budget.Wait(ctx); err != nil {
				return err
			}
		}
		return p.breaker.Execute(ctx, func(ctx context.Context) error {
			if p.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, p.timeout)
				defer cancel()
			}

			resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       p.model,
				Messages:    messages,
				Temperature: p.temperature,
			})
			if err != nil {
				return errors.NewProverError(p.model, err)
			}
			if len(resp.Choices) == 0 {
				return errors.NewProverError(p.model, fmt.Errorf("model returned no choices"))
			}
			reply = resp.Choices[0].Message.Content
			return nil
		})
	})
	if !res.Success {
		return "", res.LastError
	}
	return reply, nil
}

// isRetryable retries rate limits, server errors and transport failures,
// but not authentication or request errors
func isRetryable(err error) bool {
	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) || stderrors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return errors.IsRetryable(err)
}

// ExtractProof pulls the proof body out of a model reply: the last fenced
// code block if any, else the whole reply. A repeated theorem header is cut
// back to its ":=".
func ExtractProof(reply string) string {
	code := reply
	if blocks := codeBlock.FindAllStringSubmatch(reply, -1); len(blocks) > 0 {
		code = blocks[len(blocks)-1][1]
	}
	code = strings.TrimSpace(code)

	if !strings.HasPrefix(code, ":=") {
		if idx := strings.Index(code, ":="); idx >= 0 && strings.HasPrefix(code, "theorem") {
			code = code[idx:]
		}
	}
	if code == "" {
		return ""
	}
	return code + "\n"
}
