package providers

import (
	"context"

	"github.com/avast/retry-go/v4"

	"github.com/parcelkit/address-verifier-go/internal/types"
)

// WithRetry wraps a provider with one extra attempt on transient failures.
// Invalid input and permanent errors are never retried, and the wrapper is
// only installed when the retry flag is set in config — the default chain
// treats a transient failure as an immediate fallthrough.
func WithRetry(p Provider) Provider {
	return &retryProvider{inner: p}
}

type retryProvider struct {
	inner Provider
}

func (r *retryProvider) Name() string {
	return r.inner.Name()
}

func (r *retryProvider) IsHealthy(ctx context.Context) bool {
	if hc, ok := r.inner.(HealthChecker); ok {
		return hc.IsHealthy(ctx)
	}
	return true
}

func (r *retryProvider) Verify(ctx context.Context, addr types.Address) (*types.Outcome, error) {
	var out *types.Outcome
	err := retry.Do(
		func() error {
			o, err := r.inner.Verify(ctx, addr)
			if err != nil {
				return err
			}
			out = o
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return KindOf(err) == KindTransient
		}),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}
