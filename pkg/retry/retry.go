package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// Config is the retry policy shared by every upstream gateway.
type Config struct {
	MaxAttempts     int           `split_words:"true" default:"3"`
	InitialInterval time.Duration `split_words:"true" default:"1s"`
	Multiplier      float64       `default:"2"`
	MaxWait         time.Duration `split_words:"true" default:"60s"`
}

// DefaultConfig mirrors the envconfig defaults.
var DefaultConfig = Config{
	MaxAttempts:     3,
	InitialInterval: time.Second,
	Multiplier:      2,
	MaxWait:         60 * time.Second,
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. Rate-limit hints from the provider take precedence
// over the exponential schedule, capped at MaxWait.
func Do[T any](ctx context.Context, cfg Config, name string, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = normalize(cfg)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.Multiplier = cfg.Multiplier
	exp.MaxInterval = cfg.MaxWait
	b := &hintedBackOff{inner: exp}

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !errx.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		b.hint = Wait(err, cfg)
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logx.Warn().
				Err(err).
				Str("operation", name).
				Int("attempt", attempt).
				Dur("next_wait", next).
				Str("kind", errx.Classify(err).String()).
				Msg("Retrying upstream call")
		}),
	)
}

// Wait returns the provider-advertised wait for err capped at cfg.MaxWait,
// or zero when the exponential schedule should apply.
func Wait(err error, cfg Config) time.Duration {
	var rl *errx.RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		return 0
	}
	return min(rl.RetryAfter, cfg.MaxWait)
}

func normalize(cfg Config) Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultConfig.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultConfig.Multiplier
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultConfig.MaxWait
	}
	return cfg
}

// hintedBackOff yields a one-shot provider hint before falling back to inner.
type hintedBackOff struct {
	inner *backoff.ExponentialBackOff
	hint  time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	if h.hint > 0 {
		d := h.hint
		h.hint = 0
		return d
	}
	return h.inner.NextBackOff()
}

func (h *hintedBackOff) Reset() {
	h.hint = 0
	h.inner.Reset()
}
