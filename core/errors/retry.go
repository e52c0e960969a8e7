package errors

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines the retry behavior for store reads.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts (0 means no retry).
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0,lte=20"`

	// InitialDelay is the starting backoff duration.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum backoff duration.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64 `yaml:"multiplier"`

	// JitterPercent is the jitter percentage (0.1 for 10%).
	JitterPercent float64 `yaml:"jitter_percent" validate:"gte=0,lte=1"`
}

// DefaultRetryPolicy retries transient store errors a few times with a short
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  25 * time.Millisecond,
		MaxDelay:      time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// RetryExecutor executes operations, retrying the ones whose errors classify
// as retryable.
type RetryExecutor struct {
	policy     RetryPolicy
	classifier *ErrorClassifier
}

// NewRetryExecutor creates a RetryExecutor. A nil classifier uses the
// default patterns.
func NewRetryExecutor(policy RetryPolicy, classifier *ErrorClassifier) *RetryExecutor {
	if classifier == nil {
		classifier = NewErrorClassifier()
	}
	return &RetryExecutor{policy: policy, classifier: classifier}
}

// Classifier returns the classifier used to decide retries.
func (e *RetryExecutor) Classifier() *ErrorClassifier {
	return e.classifier
}

// Execute runs fn until it succeeds, fails with a non-retryable error, or the
// policy is exhausted. The last error is returned unwrapped.
func (e *RetryExecutor) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= e.policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		tier := e.classifier.Classify(lastErr)
		if tier != TierTransient && tier != TierExternalDegrading {
			return lastErr
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		if err := waitBeforeRetry(ctx, e.delay(lastErr, attempt)); err != nil {
			return lastErr
		}
	}

	return lastErr
}

func (e *RetryExecutor) delay(err error, attempt int) time.Duration {
	var te *TieredError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter
	}
	return AddJitter(CalculateDelay(attempt, e.policy), e.policy.JitterPercent)
}

// CalculateDelay computes the backoff delay for a given attempt using exponential backoff.
// Formula: delay = initial * (multiplier ^ attempt), capped at max_delay.
func CalculateDelay(attempt int, policy RetryPolicy) time.Duration {
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	factor := math.Pow(multiplier, float64(attempt))
	delay := time.Duration(float64(policy.InitialDelay) * factor)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

// AddJitter applies a random jitter of ±jitterPercent to the delay.
func AddJitter(delay time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 || delay <= 0 {
		return delay
	}
	jitterRange := float64(delay) * jitterPercent
	offset := (rand.Float64()*2 - 1) * jitterRange
	jittered := time.Duration(float64(delay) + offset)
	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}

func waitBeforeRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
