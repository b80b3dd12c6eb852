package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/invoice-agent/backend/internal/metrics"
	"github.com/invoice-agent/backend/pkg/logger"
	"github.com/invoice-agent/backend/pkg/retry"
)

// ErrPoolExhausted is returned when every model in the pool has been tried
// and failed for a single invocation.
var ErrPoolExhausted = errors.New("all models in pool failed")

type GatewayConfig struct {
	// Models is the ordered pool; order defines the fallback sequence.
	Models         []string
	Retry          retry.Config
	AttemptTimeout time.Duration
}

// Gateway fronts a pool of interchangeable generation models. Each call
// picks a model uniformly at random, retries it with exponential backoff,
// then falls back through the pool in order until success or exhaustion.
type Gateway struct {
	backend        ChatBackend
	models         []string
	retryConfig    retry.Config
	attemptTimeout time.Duration
}

type InvokeOptions struct {
	SystemPrompt string
	// Model pins a specific model, bypassing random selection.
	Model string
}

type Result struct {
	Content   string
	ModelUsed string
}

func NewGateway(backend ChatBackend, cfg GatewayConfig) (*Gateway, error) {
	if len(cfg.Models) == 0 {
		return nil, errors.New("gateway requires a non-empty model pool")
	}

	retryConfig := cfg.Retry
	if retryConfig.MaxAttempts == 0 {
		retryConfig = retry.DefaultConfig()
		retryConfig.Logger = logger.GetLogger()
	}

	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout == 0 {
		attemptTimeout = 60 * time.Second
	}

	return &Gateway{
		backend:        backend,
		models:         append([]string(nil), cfg.Models...),
		retryConfig:    retryConfig,
		attemptTimeout: attemptTimeout,
	}, nil
}

// Models returns a copy of the pool in fallback order.
func (g *Gateway) Models() []string {
	return append([]string(nil), g.models...)
}

func (g *Gateway) Invoke(ctx context.Context, messages []Message, opts InvokeOptions) (*Result, error) {
	selected := opts.Model
	if selected == "" {
		selected = g.models[rand.Intn(len(g.models))]
	}

	prompt := g.buildMessages(messages, opts.SystemPrompt)
	tried := make(map[string]bool, len(g.models))

	var lastErr error
	for len(tried) < len(g.models) {
		tried[selected] = true

		logger.Debug("Invoking model", zap.String("model", selected))

		content, err := g.completeWithRetry(ctx, selected, prompt)
		if err == nil {
			metrics.ModelInvocations.WithLabelValues(selected, "success").Inc()
			return &Result{
				Content:   CleanResponse(content),
				ModelUsed: selected,
			}, nil
		}

		metrics.ModelInvocations.WithLabelValues(selected, "failure").Inc()
		lastErr = err
		logger.Warn("Model failed, considering fallback",
			zap.String("model", selected),
			zap.Error(err),
		)

		next := g.nextUntried(selected, tried)
		if next == "" {
			break
		}

		logger.Info("Falling back to model", zap.String("model", next))
		metrics.ModelFallbacks.Inc()
		selected = next
	}

	metrics.PoolExhaustions.Inc()
	return nil, fmt.Errorf("%w (last error: %v)", ErrPoolExhausted, lastErr)
}

// Stream yields raw chunks from a single selected model. No fallback: a
// stream that has started emitting cannot be transparently restarted.
func (g *Gateway) Stream(ctx context.Context, messages []Message, opts InvokeOptions) (<-chan StreamChunk, error) {
	selected := opts.Model
	if selected == "" {
		selected = g.models[rand.Intn(len(g.models))]
	}

	return g.backend.Stream(ctx, selected, g.buildMessages(messages, opts.SystemPrompt))
}

func (g *Gateway) completeWithRetry(ctx context.Context, model string, messages []Message) (string, error) {
	return retry.DoWithResult(ctx, g.retryConfig, func() (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
		defer cancel()

		return g.backend.Complete(attemptCtx, model, messages)
	})
}

// nextUntried walks the pool in order from the current model, wrapping, and
// returns the first model not yet attempted this invocation.
func (g *Gateway) nextUntried(current string, tried map[string]bool) string {
	start := 0
	for i, m := range g.models {
		if m == current {
			start = i
			break
		}
	}

	for offset := 1; offset < len(g.models); offset++ {
		candidate := g.models[(start+offset)%len(g.models)]
		if !tried[candidate] {
			return candidate
		}
	}
	return ""
}

func (g *Gateway) buildMessages(messages []Message, systemPrompt string) []Message {
	if systemPrompt == "" {
		return messages
	}

	combined := make([]Message, 0, len(messages)+1)
	combined = append(combined, Message{Role: RoleSystem, Content: systemPrompt})
	combined = append(combined, messages...)
	return combined
}

var (
	thinkBlockPattern    = regexp.MustCompile(`(?is)<think>.*?</think>`)
	strayThinkPattern    = regexp.MustCompile(`(?i)</?think>`)
	excessNewlinePattern = regexp.MustCompile(`\n{3,}`)
)

// CleanResponse strips internal-reasoning delimiters some models emit and
// normalizes whitespace before the text reaches a user.
func CleanResponse(text string) string {
	if text == "" {
		return text
	}

	cleaned := thinkBlockPattern.ReplaceAllString(text, "")
	cleaned = strayThinkPattern.ReplaceAllString(cleaned, "")
	cleaned = excessNewlinePattern.ReplaceAllString(cleaned, "\n\n")

	return strings.TrimSpace(cleaned)
}
