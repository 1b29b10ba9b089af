package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mcpfed/gateway/pkg/gwerr"
	"github.com/mcpfed/gateway/pkg/protocol"
)

// RetryConfig parameterizes the jittered exponential-backoff loop (spec
// §4.3): InitialBackoff, MaxBackoff, Multiplier, MaxAttempts.
type RetryConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	MaxAttempts    int
}

// DefaultRetryConfig mirrors the spec's stated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		MaxAttempts:    3,
	}
}

// toBackoff builds a cenkalti/backoff ExponentialBackOff from cfg. The
// library's default RandomizationFactor (0.5) supplies the jitter spec §4.3
// calls for.
func (cfg RetryConfig) toBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.Multiplier
	return b
}

// Do runs fn under the retry loop, retrying only on transient errors per
// spec §4.3: transport-level failures and backend errors in the
// -32000..-32099 range. Protocol/parse errors, policy denials, and
// duplicate-in-flight rejections are never retried. Steps 2-7 of the
// dispatcher pipeline (spec §4.10) are not re-run between attempts; Do only
// wraps the final transport execution step.
func Do[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		var gerr *gwerr.Error
		if errors.As(err, &gerr) && !gerr.Retryable() {
			return v, backoff.Permanent(err)
		}
		var rpcErr *protocol.RPCError
		if errors.As(err, &rpcErr) && (rpcErr.Code > -32000 || rpcErr.Code < -32099) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(cfg.toBackoff()),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
	)
}
