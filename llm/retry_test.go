package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
		CallTimeout:    time.Second,
	}
}

func TestRetry_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), "test", zap.NewNop(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &googleapi.Error{Code: http.StatusTooManyRequests}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	transient := &googleapi.Error{Code: http.StatusServiceUnavailable}
	err := Retry(context.Background(), fastPolicy(), "test", zap.NewNop(), func(ctx context.Context) error {
		calls++
		return transient
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var apiErr *googleapi.Error
	assert.ErrorAs(t, err, &apiErr)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), "test", zap.NewNop(), func(ctx context.Context) error {
		calls++
		return &googleapi.Error{Code: http.StatusBadRequest}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := fastPolicy()
	policy.InitialBackoff = time.Hour
	policy.MaxBackoff = time.Hour

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, policy, "test", zap.NewNop(), func(ctx context.Context) error {
			calls++
			return &googleapi.Error{Code: http.StatusInternalServerError}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop after cancel")
	}
}

func TestRetry_PerAttemptTimeoutIsRetried(t *testing.T) {
	policy := fastPolicy()
	policy.CallTimeout = 10 * time.Millisecond

	calls := 0
	err := Retry(context.Background(), policy, "test", zap.NewNop(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"server error", fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 502}), true},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"unauthorized", &googleapi.Error{Code: 401}, false},
		{"blocked", fmt.Errorf("%w: SAFETY", ErrBlockedPrompt), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestResilientGenerator(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, "prompt").Return("", &googleapi.Error{Code: 503}).Once()
	gen.On("Generate", mock.Anything, "prompt").Return("answer", nil).Once()

	out, err := NewResilientGenerator(gen, fastPolicy(), zap.NewNop()).Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	gen.AssertExpectations(t)
}

func TestResilientEmbedder(t *testing.T) {
	emb := new(MockEmbedder)
	emb.On("EmbedBatch", mock.Anything, []string{"a", "b"}).Return(nil, &googleapi.Error{Code: 500}).Once()
	emb.On("EmbedBatch", mock.Anything, []string{"a", "b"}).Return([][]float32{{1}, {2}}, nil).Once()
	emb.On("Embed", mock.Anything, "q").Return([]float32{3}, nil).Once()

	r := NewResilientEmbedder(emb, fastPolicy(), zap.NewNop())

	batch, err := r.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, batch)

	single, err := r.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, single)
	emb.AssertExpectations(t)
}
