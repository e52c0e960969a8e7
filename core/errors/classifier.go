package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
)

// ErrorClassifierConfig lists the message patterns used to tier raw driver
// errors from the backing stores.
type ErrorClassifierConfig struct {
	TransientPatterns   []string `yaml:"transient_patterns"`
	DegradingPatterns   []string `yaml:"degrading_patterns"`
	UserFixablePatterns []string `yaml:"user_fixable_patterns"`
}

func DefaultErrorClassifierConfig() *ErrorClassifierConfig {
	return &ErrorClassifierConfig{
		TransientPatterns: []string{
			`(?i)database is locked`,
			`(?i)\bbusy\b`,
			`(?i)connection reset`,
			`(?i)broken pipe`,
			`(?i)TransientError`,
		},
		DegradingPatterns: []string{
			`(?i)ServiceUnavailable`,
			`(?i)connection refused`,
			`(?i)no route to host`,
			`(?i)ConnectivityError`,
		},
		UserFixablePatterns: []string{
			`(?i)no such table`,
			`(?i)unable to open database`,
			`(?i)authentication.*fail`,
			`(?i)Unauthorized`,
		},
	}
}

// ErrorClassifier maps untyped driver errors onto tiers.
type ErrorClassifier struct {
	mu              sync.RWMutex
	transientPats   []*regexp.Regexp
	degradingPats   []*regexp.Regexp
	userFixablePats []*regexp.Regexp
}

func NewErrorClassifier() *ErrorClassifier {
	c, err := NewErrorClassifierFromConfig(DefaultErrorClassifierConfig())
	if err != nil {
		panic(err)
	}
	return c
}

func NewErrorClassifierFromConfig(cfg *ErrorClassifierConfig) (*ErrorClassifier, error) {
	c := &ErrorClassifier{}
	specs := []struct {
		patterns []string
		target   *[]*regexp.Regexp
		name     string
	}{
		{cfg.TransientPatterns, &c.transientPats, "transient"},
		{cfg.DegradingPatterns, &c.degradingPats, "degrading"},
		{cfg.UserFixablePatterns, &c.userFixablePats, "user-fixable"},
	}
	for _, spec := range specs {
		for _, p := range spec.patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, Configuration("invalid "+spec.name+" pattern", err)
			}
			*spec.target = append(*spec.target, re)
		}
	}
	return c, nil
}

// Classify returns the tier of err. Errors that already carry a tier keep
// it; context errors are permanent since the caller gave up.
func (c *ErrorClassifier) Classify(err error) ErrorTier {
	if err == nil {
		return TierPermanent
	}

	var te *TieredError
	if errors.As(err, &te) {
		return te.Tier
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return TierPermanent
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	msg := err.Error()
	switch {
	case matchesAny(msg, c.transientPats):
		return TierTransient
	case matchesAny(msg, c.degradingPats):
		return TierExternalDegrading
	case matchesAny(msg, c.userFixablePats):
		return TierUserFixable
	case strings.Contains(strings.ToLower(msg), "timeout"):
		return TierTransient
	}
	return TierPermanent
}

// Wrap classifies err and wraps it as a KindStore error with message.
func (c *ErrorClassifier) Wrap(message string, err error) error {
	if err == nil {
		return nil
	}
	var te *TieredError
	if errors.As(err, &te) {
		return WrapWithTier(te.Tier, message, err)
	}
	return NewTieredError(c.Classify(err), message, err).WithKind(KindStore)
}

func (c *ErrorClassifier) AddTransientPattern(pattern string) error {
	return c.addPattern(pattern, &c.transientPats)
}

func (c *ErrorClassifier) AddUserFixablePattern(pattern string) error {
	return c.addPattern(pattern, &c.userFixablePats)
}

func (c *ErrorClassifier) addPattern(pattern string, target *[]*regexp.Regexp) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	c.mu.Lock()
	*target = append(*target, re)
	c.mu.Unlock()
	return nil
}

func matchesAny(msg string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}
