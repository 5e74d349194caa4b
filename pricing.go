package paygate

import (
	"fmt"
	"log/slog"
)

// DynamicFunc computes the credit cost of a call from its fully-populated
// post-execution context. Implementations must be deterministic for a given
// context and must not have observable side effects: the gate evaluates the
// function exactly once per logical call, but idempotent retries may replay
// the same context.
type DynamicFunc func(PricingContext) int64

// Pricing describes how a resource is priced: a fixed credit amount known
// before execution, or a dynamic function evaluated strictly after it.
type Pricing struct {
	credits  int64
	fn       DynamicFunc
	minBound int64
	maxBound int64
}

// Fixed returns a pricing descriptor with a constant, non-negative cost.
// A zero cost is valid: zero-priced calls still verify and settle so that
// free tiers produce receipts.
func Fixed(credits int64) Pricing {
	if credits < 0 {
		credits = 0
	}
	return Pricing{credits: credits, minBound: credits, maxBound: credits}
}

// Dynamic returns a pricing descriptor whose cost is computed after the
// wrapped work completes. The result is clamped to [min, max] when bounds
// are configured via WithBounds.
func Dynamic(fn DynamicFunc, opts ...PricingOption) Pricing {
	p := Pricing{fn: fn, minBound: 1, maxBound: 0}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// PricingOption configures a dynamic pricing descriptor.
type PricingOption func(*Pricing)

// WithBounds clamps the dynamic price to [min, max]. A max of 0 leaves the
// price uncapped above min.
func WithBounds(min, max int64) PricingOption {
	return func(p *Pricing) {
		if min < 0 {
			min = 0
		}
		p.minBound = min
		p.maxBound = max
	}
}

// IsDynamic reports whether the price depends on the executed output.
func (p Pricing) IsDynamic() bool {
	return p.fn != nil
}

// Floor is the minimum possible cost of a call under this descriptor.
// The guard passes it to the facilitator as the verification estimate.
func (p Pricing) Floor() int64 {
	if p.fn == nil {
		return p.credits
	}
	return p.minBound
}

// Validate checks the descriptor for misconfiguration at registration time.
func (p Pricing) Validate() error {
	if p.fn == nil && p.credits < 0 {
		return fmt.Errorf("%w: negative fixed price", ErrInvalidPricing)
	}
	if p.fn != nil && p.maxBound > 0 && p.maxBound < p.minBound {
		return fmt.Errorf("%w: max bound %d below min bound %d", ErrInvalidPricing, p.maxBound, p.minBound)
	}
	return nil
}

// Resolve computes the final price for a call. For dynamic descriptors it
// evaluates the pricing function once against the post-execution context and
// clamps the result to the configured bounds. A panicking or negative-valued
// function falls back to the floor: a pricing bug must not deny the caller a
// result they already paid execution for. The fallback is logged, never
// surfaced.
func (p Pricing) Resolve(pctx PricingContext, logger *slog.Logger) int64 {
	if p.fn == nil {
		return p.credits
	}
	price, err := p.eval(pctx)
	if err != nil {
		fallback := p.minBound
		if fallback <= 0 {
			fallback = 1
		}
		if logger != nil {
			logger.Warn("dynamic pricing failed, falling back to floor",
				"error", err, "fallback", fallback)
		}
		return fallback
	}
	return p.clamp(price)
}

func (p Pricing) eval(pctx PricingContext) (price int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pricing function panicked: %v", r)
		}
	}()
	price = p.fn(pctx)
	if price < 0 {
		return 0, fmt.Errorf("pricing function returned negative price %d", price)
	}
	return price, nil
}

func (p Pricing) clamp(price int64) int64 {
	if price < p.minBound {
		price = p.minBound
	}
	if p.maxBound > 0 && price > p.maxBound {
		price = p.maxBound
	}
	return price
}

// Tier is a named fixed price point.
type Tier struct {
	Credits     int64
	Description string
}

// DefaultTiers is the conventional three-tier pricing ladder for data
// services: cheap lookups, mid-priced summarization, expensive research.
var DefaultTiers = map[string]Tier{
	"simple":  {Credits: 1, Description: "Basic lookup - returns raw results"},
	"medium":  {Credits: 5, Description: "Summarization - model-powered analysis"},
	"complex": {Credits: 10, Description: "Full research - multi-source report"},
}

// TierCredits returns the credit cost for a named tier, falling back to the
// "simple" tier for unknown names.
func TierCredits(tiers map[string]Tier, name string) int64 {
	if t, ok := tiers[name]; ok {
		return t.Credits
	}
	return tiers["simple"].Credits
}

// ScaledByOutput returns a dynamic pricing function that charges base
// credits plus one credit per `per` characters of output, a common shape for
// model-generated results whose cost tracks their length.
func ScaledByOutput(base int64, per int) DynamicFunc {
	if per <= 0 {
		per = 500
	}
	return func(pctx PricingContext) int64 {
		return base + int64(len(pctx.OutputText())/per)
	}
}
