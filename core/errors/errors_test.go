package errors

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTierString(t *testing.T) {
	tests := []struct {
		tier     ErrorTier
		expected string
	}{
		{TierTransient, "transient"},
		{TierPermanent, "permanent"},
		{TierUserFixable, "user_fixable"},
		{TierExternalDegrading, "external_degrading"},
		{ErrorTier(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.tier.String(); got != tt.expected {
				t.Errorf("ErrorTier.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTieredErrorError(t *testing.T) {
	t.Run("with underlying error", func(t *testing.T) {
		err := NewTieredError(TierTransient, "wrapped", errors.New("base error"))
		assert.Equal(t, "[transient] wrapped: base error", err.Error())
	})

	t.Run("without underlying error", func(t *testing.T) {
		err := NewTieredError(TierPermanent, "simple error", nil)
		assert.Equal(t, "[permanent] simple error", err.Error())
	})
}

func TestTieredErrorIs_KindBeatsTier(t *testing.T) {
	missing := NotFound("concept %s", "en:7")
	unsupported := Unsupported("mostSimilar without candidates")

	assert.True(t, errors.Is(missing, ErrNotFound))
	assert.False(t, errors.Is(missing, ErrUnsupported), "same tier, different kind")
	assert.True(t, errors.Is(unsupported, ErrUnsupported))

	// A kindless target still matches on tier.
	assert.True(t, errors.Is(missing, NewTieredError(TierPermanent, "any", nil)))
	assert.False(t, errors.Is(missing, NewTieredError(TierTransient, "any", nil)))
	assert.False(t, errors.Is(missing, errors.New("plain")))
}

func TestHelpers_SurviveWrapping(t *testing.T) {
	base := NotFound("title %q", "Nowhere")
	wrapped := fmt.Errorf("engine: %w", WrapWithTier(TierTransient, "resolve", base))

	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, KindNotFound, GetKind(wrapped))
	assert.Equal(t, TierPermanent, GetTier(wrapped), "wrapping preserves existing tier")

	cfg := Configuration("unknown metric \"foo\"", nil)
	assert.True(t, IsConfiguration(cfg))
	assert.False(t, IsNotFound(cfg))
	assert.Equal(t, TierUserFixable, GetTier(cfg))

	assert.True(t, IsInvalidInput(InvalidInput("k must be positive")))
	assert.Equal(t, KindNone, GetKind(errors.New("plain")))
}

func TestWrapWithTier(t *testing.T) {
	assert.Nil(t, WrapWithTier(TierTransient, "nothing", nil))

	err := WrapWithTier(TierTransient, "read", errors.New("boom"))
	assert.Equal(t, TierTransient, GetTier(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(ErrNotFound))
}

func TestErrorClassifier_Classify(t *testing.T) {
	c := NewErrorClassifier()

	tests := []struct {
		name string
		err  error
		want ErrorTier
	}{
		{"sqlite locked", errors.New("database is locked"), TierTransient},
		{"neo4j unavailable", errors.New("ServiceUnavailable: connection refused"), TierExternalDegrading},
		{"missing schema", errors.New("no such table: links"), TierUserFixable},
		{"timeout keyword", errors.New("i/o timeout"), TierTransient},
		{"canceled", context.Canceled, TierPermanent},
		{"already tiered", ErrConfiguration, TierUserFixable},
		{"unknown", errors.New("syntax error near SELECT"), TierPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.err))
		})
	}
}

func TestErrorClassifier_Wrap(t *testing.T) {
	c := NewErrorClassifier()

	err := c.Wrap("links of en:1", errors.New("database is locked"))
	assert.Equal(t, TierTransient, GetTier(err))
	assert.Equal(t, KindStore, GetKind(err))

	assert.Nil(t, c.Wrap("noop", nil))

	kept := c.Wrap("page", NotFound("page en:3"))
	assert.True(t, IsNotFound(kept))
}

func TestErrorClassifier_InvalidPattern(t *testing.T) {
	_, err := NewErrorClassifierFromConfig(&ErrorClassifierConfig{TransientPatterns: []string{"("}})
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))

	c := NewErrorClassifier()
	require.NoError(t, c.AddTransientPattern(`(?i)snapshot too old`))
	assert.Equal(t, TierTransient, c.Classify(errors.New("Snapshot too old")))
	assert.Error(t, c.AddUserFixablePattern("["))
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryExecutor_RetriesTransient(t *testing.T) {
	exec := NewRetryExecutor(fastPolicy(3), nil)
	var calls atomic.Int32

	err := exec.Execute(context.Background(), func() error {
		if calls.Add(1) < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExecutor_StopsOnPermanent(t *testing.T) {
	exec := NewRetryExecutor(fastPolicy(5), nil)
	var calls atomic.Int32

	err := exec.Execute(context.Background(), func() error {
		calls.Add(1)
		return ErrNotFound
	})

	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryExecutor_Exhausts(t *testing.T) {
	exec := NewRetryExecutor(fastPolicy(2), nil)
	var calls atomic.Int32

	err := exec.Execute(context.Background(), func() error {
		calls.Add(1)
		return ErrStoreBusy
	})

	assert.ErrorIs(t, err, ErrStoreBusy)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExecutor_ContextCancelled(t *testing.T) {
	exec := NewRetryExecutor(RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	err := exec.Execute(ctx, func() error {
		calls.Add(1)
		return ErrStoreBusy
	})

	assert.ErrorIs(t, err, ErrStoreBusy)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCalculateDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 10*time.Millisecond, CalculateDelay(0, policy))
	assert.Equal(t, 40*time.Millisecond, CalculateDelay(2, policy))
	assert.Equal(t, 50*time.Millisecond, CalculateDelay(5, policy))

	for i := 0; i < 20; i++ {
		d := AddJitter(100*time.Millisecond, 0.1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, AddJitter(5*time.Millisecond, 0))
}
