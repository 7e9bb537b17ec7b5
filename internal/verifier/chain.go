package verifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/parcelkit/address-verifier-go/internal/config"
	"github.com/parcelkit/address-verifier-go/internal/metrics"
	"github.com/parcelkit/address-verifier-go/internal/providers"
	"github.com/parcelkit/address-verifier-go/internal/types"
)

// Tier pairs a provider with its own timeout allowance. Timeouts are
// independent: a slow earlier tier never shortens a later one.
type Tier struct {
	Provider providers.Provider
	Timeout  time.Duration
}

// Chain walks the configured tiers in priority order and short-circuits at
// the first one that produces an outcome. Provider errors and timeouts fall
// through; the static validator is the unconditional last resort, so a
// verification call can never fail for a well-formed address. The chain
// holds no per-call state and is safe for concurrent reuse.
type Chain struct {
	tiers   []Tier
	static  *StaticValidator
	metrics *metrics.Metrics
}

func NewChain(tiers []Tier, static *StaticValidator, m *metrics.Metrics) *Chain {
	if static == nil {
		static = NewStaticValidator()
	}
	return &Chain{tiers: tiers, static: static, metrics: m}
}

// ChainFromConfig assembles the chain the way the service runs it: USPS as
// the primary tier, Smarty as the secondary, each only when its credentials
// are present, wrapped with the opt-in retry when enabled.
func ChainFromConfig(cfg *config.Config, m *metrics.Metrics) *Chain {
	var tiers []Tier
	if cfg.USPSConfigured() {
		tiers = append(tiers, Tier{
			Provider: maybeRetry(cfg, providers.NewUSPSProvider(cfg, m)),
			Timeout:  cfg.USPSTimeout,
		})
	}
	if cfg.SmartyConfigured() {
		tiers = append(tiers, Tier{
			Provider: maybeRetry(cfg, providers.NewSmartyProvider(cfg, m)),
			Timeout:  cfg.SmartyTimeout,
		})
	}
	return NewChain(tiers, NewStaticValidator(), m)
}

func maybeRetry(cfg *config.Config, p providers.Provider) providers.Provider {
	if cfg.AppProviderRetryEnabled {
		return providers.WithRetry(p)
	}
	return p
}

// Verify resolves one address through the chain. It always returns an
// outcome; provider-level failures never propagate past this boundary.
func (c *Chain) Verify(ctx context.Context, addr types.Address) *types.Outcome {
	for _, tier := range c.tiers {
		if tier.Provider == nil {
			continue
		}
		name := tier.Provider.Name()

		if hc, ok := tier.Provider.(providers.HealthChecker); ok && !hc.IsHealthy(ctx) {
			slog.WarnContext(ctx, "provider unhealthy, skipping tier", "provider", name)
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, tier.Timeout)
		out, err := tier.Provider.Verify(tctx, addr)
		cancel()

		if err == nil && out != nil {
			c.metrics.IncOutcome(string(out.Tier), string(out.Status))
			return out
		}

		kind := providers.KindOf(err)
		c.metrics.IncProviderError(name, string(kind))
		switch kind {
		case providers.KindPermanent:
			slog.ErrorContext(ctx, "provider failed permanently, falling through",
				"provider", name, "error", err)
		case providers.KindInvalidInput:
			slog.WarnContext(ctx, "provider rejected input locally, falling through",
				"provider", name, "error", err)
		default:
			slog.WarnContext(ctx, "provider failed, falling through",
				"provider", name, "error", err)
		}
	}

	out := c.static.Verify(addr)
	c.metrics.IncOutcome(string(out.Tier), string(out.Status))
	return out
}
