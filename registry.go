package paygate

import (
	"fmt"
	"sync"
)

// Resource describes a registered, payment-gated callable: what it costs and
// which plans pay for it. Pricing is fixed at registration time.
type Resource struct {
	// ID names the resource. Adapters use transport-native ids: a URL path,
	// "mcp://tools/<name>", a task skill id.
	ID string

	// Description is an optional human-readable summary.
	Description string

	// Pricing is the resource's pricing descriptor.
	Pricing Pricing

	// Accepts is the ordered list of plan options the resource accepts.
	Accepts []PlanOption

	// Policy optionally overrides the guard's settlement-failure policy for
	// this resource. Empty means use the guard default.
	Policy SettlementPolicy
}

// Registry maps resource ids to their plan and pricing configuration. It is
// read-mostly: populated at registration time, read on every call.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]Resource
}

// NewRegistry creates an empty resource registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]Resource)}
}

// Register adds or replaces a resource. It rejects resources without an id,
// without at least one accepted plan option, or with invalid pricing.
func (r *Registry) Register(res Resource) error {
	if res.ID == "" {
		return fmt.Errorf("resource id must not be empty")
	}
	if len(res.Accepts) == 0 {
		return fmt.Errorf("resource %q must accept at least one plan option", res.ID)
	}
	if err := res.Pricing.Validate(); err != nil {
		return fmt.Errorf("resource %q: %w", res.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[res.ID] = res
	return nil
}

// Lookup returns the configuration for a resource id.
func (r *Registry) Lookup(id string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[id]
	return res, ok
}

// List returns all registered resources.
func (r *Registry) List() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	return out
}

// RegisterCard parses a service discovery card and registers the service as
// a fixed-price resource keyed by its URL. Used on the caller side to track
// what a remote service charges before acquiring a credential.
func (r *Registry) RegisterCard(card ServiceCard) (Resource, error) {
	opt, ok := card.PaymentOption()
	if !ok {
		return Resource{}, fmt.Errorf("service card %q carries no payment extension", card.Name)
	}
	res := Resource{
		ID:          card.URL,
		Description: card.Description,
		Pricing:     Fixed(opt.Credits),
		Accepts:     []PlanOption{opt},
	}
	if err := r.Register(res); err != nil {
		return Resource{}, err
	}
	return res, nil
}
