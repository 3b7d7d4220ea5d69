package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"traffic-fine-chatbot/metrics"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

// RetryPolicy bounds every provider call with a per-attempt timeout and a
// small number of retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts    int // including the first call
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	CallTimeout    time.Duration // per attempt, 0 disables
	Retryable      func(error) bool
}

// DefaultRetryPolicy returns 3 attempts, 1s doubling backoff capped at 10s, 30s per attempt
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		CallTimeout:    30 * time.Second,
		Retryable:      IsRetryable,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	return p
}

// Retry runs fn under policy. Cancelling ctx stops retrying and returns ctx.Err().
func Retry(ctx context.Context, policy RetryPolicy, operation string, logger *zap.Logger, fn func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	backoff := policy.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
		}

		start := time.Now()
		err := fn(callCtx)
		cancel()

		if err == nil {
			metrics.RecordLLMCall(operation, metrics.StatusSuccess, time.Since(start))
			return nil
		}
		metrics.RecordLLMCall(operation, metrics.StatusError, time.Since(start))
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !policy.Retryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		logger.Warn("provider call failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		metrics.RecordLLMRetry(operation)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, policy.MaxAttempts, lastErr)
}

// IsRetryable classifies transient provider failures: rate limits, server
// errors, per-attempt timeouts and network errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrBlockedPrompt) {
		return false
	}
	// The caller's own deadline is checked by Retry before this runs.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF)
}

// ResilientEmbedder applies a RetryPolicy to every embedding call
type ResilientEmbedder struct {
	provider Embedder
	policy   RetryPolicy
	logger   *zap.Logger
}

// NewResilientEmbedder wraps provider with policy
func NewResilientEmbedder(provider Embedder, policy RetryPolicy, logger *zap.Logger) *ResilientEmbedder {
	return &ResilientEmbedder{provider: provider, policy: policy, logger: logger}
}

// Embed embeds one text with retries
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := Retry(ctx, r.policy, OperationEmbed, r.logger, func(ctx context.Context) error {
		var err error
		out, err = r.provider.Embed(ctx, text)
		return err
	})
	return out, err
}

// EmbedBatch embeds texts with retries of the whole batch
func (r *ResilientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := Retry(ctx, r.policy, OperationEmbedBatch, r.logger, func(ctx context.Context) error {
		var err error
		out, err = r.provider.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

// ResilientGenerator applies a RetryPolicy to every generation call
type ResilientGenerator struct {
	provider Generator
	policy   RetryPolicy
	logger   *zap.Logger
}

// NewResilientGenerator wraps provider with policy
func NewResilientGenerator(provider Generator, policy RetryPolicy, logger *zap.Logger) *ResilientGenerator {
	return &ResilientGenerator{provider: provider, policy: policy, logger: logger}
}

// Generate completes prompt with retries
func (r *ResilientGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := Retry(ctx, r.policy, OperationGenerate, r.logger, func(ctx context.Context) error {
		var err error
		out, err = r.provider.Generate(ctx, prompt)
		return err
	})
	return out, err
}

var (
	_ Embedder  = (*ResilientEmbedder)(nil)
	_ Generator = (*ResilientGenerator)(nil)
	_ Embedder  = (*GeminiEmbedder)(nil)
	_ Generator = (*GeminiGenerator)(nil)
)
