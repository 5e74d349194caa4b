// Package paygate implements a credit-metered payment gate for untrusted
// caller/service pairs: a guard that turns an ordinary handler or tool call
// into a verified, pre-paid, settled transaction against an external
// facilitator.
package paygate

import "time"

// Scheme identifies how a credential was delegated to the caller.
type Scheme string

const (
	SchemeCryptoDelegated Scheme = "crypto-delegated"
	SchemeCardDelegated   Scheme = "card-delegated"
	SchemeNone            Scheme = "none"
)

// Credential is an opaque, caller-presented access token bound to a plan.
// It is immutable: the gate only reads it and forwards it to the facilitator.
type Credential struct {
	// Token is the opaque access token issued by the facilitator's authority.
	Token string `json:"token"`

	// PlanID identifies the plan the token is scoped to.
	PlanID string `json:"planId"`

	// AgentID optionally scopes the credential to a specific agent/resource.
	AgentID string `json:"agentId,omitempty"`

	// Scheme records how the credential was issued.
	Scheme Scheme `json:"scheme,omitempty"`
}

// Plan is a priced entitlement definition a credential is scoped to.
type Plan struct {
	// ID is the plan identifier.
	ID string `json:"id"`

	// Name is an optional human-readable plan name.
	Name string `json:"name,omitempty"`

	// CreditsGranted is the credit grant a subscription to this plan carries.
	CreditsGranted int64 `json:"creditsGranted,omitempty"`
}

// PlanOption is a single payment option from a PaymentRequired response.
type PlanOption struct {
	// PlanID identifies the plan the caller must hold a credential for.
	PlanID string `json:"planId"`

	// AgentID optionally identifies the agent the plan is bound to.
	AgentID string `json:"agentId,omitempty"`

	// Scheme is the credential delegation scheme this option accepts.
	Scheme Scheme `json:"scheme,omitempty"`

	// Network is the settlement network identifier, when relevant.
	Network string `json:"network,omitempty"`

	// Credits is the minimum per-call cost under this option.
	Credits int64 `json:"credits,omitempty"`

	// CostDescription is an optional human-readable pricing summary.
	CostDescription string `json:"costDescription,omitempty"`
}

// PaymentRequired is the caller-facing payload returned whenever a call is
// rejected for missing or invalid payment. It is the discovery vehicle: the
// caller parses it, selects an option, acquires a credential and retries.
type PaymentRequired struct {
	// Version is the protocol version (currently 1).
	Version int `json:"paygateVersion"`

	// ResourceID identifies the resource the caller tried to invoke.
	ResourceID string `json:"resource"`

	// Accepts is the ordered list of payment options the resource accepts.
	Accepts []PlanOption `json:"accepts"`

	// Reason is a human-readable explanation.
	Reason string `json:"reason"`
}

// FailureReason classifies why a verification did not authorize a call.
type FailureReason string

const (
	ReasonNoCredential           FailureReason = "no_credential"
	ReasonInvalidCredential      FailureReason = "invalid_credential"
	ReasonInsufficientBalance    FailureReason = "insufficient_balance"
	ReasonFacilitatorUnreachable FailureReason = "facilitator_unreachable"
)

// VerificationResult is the facilitator's answer to a verify request.
// Produced per call, never cached.
type VerificationResult struct {
	// Authorized reports whether the credential grants the call.
	Authorized bool `json:"authorized"`

	// RemainingBalance is the credits left on the plan, when known.
	RemainingBalance int64 `json:"remainingBalance,omitempty"`

	// Subscriber identifies the credential holder, when known.
	Subscriber string `json:"subscriber,omitempty"`

	// Reason is set when Authorized is false.
	Reason FailureReason `json:"reason,omitempty"`
}

// SettlementReceipt records one settlement attempt. Exactly one receipt is
// produced per successfully executed call; calls that fail verification or
// execution produce none.
type SettlementReceipt struct {
	// CreditsCharged is the credit amount the settlement attempted to redeem.
	CreditsCharged int64 `json:"creditsCharged"`

	// SettledAt is when the settlement completed (or failed).
	SettledAt time.Time `json:"settledAt"`

	// Success reports whether the credits were actually redeemed.
	Success bool `json:"success"`

	// TransactionRef is the facilitator's reference for the settlement.
	TransactionRef string `json:"transactionRef,omitempty"`
}

// Call is the transport-neutral inbound request handed to the guard.
// Transport adapters map their wire format (headers, _meta fields, task
// envelopes) onto this shape.
type Call struct {
	// ResourceID names the registered resource being invoked.
	ResourceID string

	// Credential is the caller-presented credential, nil when absent.
	Credential *Credential

	// Inputs are the validated call arguments.
	Inputs map[string]any

	// Metadata carries transport-level request metadata.
	Metadata map[string]string
}

// PricingContext is handed to dynamic pricing functions strictly after the
// wrapped work has completed successfully.
type PricingContext struct {
	// Inputs are the call arguments the work ran with.
	Inputs map[string]any

	// Output is the result the work produced.
	Output any

	// Metadata carries transport-level request metadata.
	Metadata map[string]string
}

// OutputText returns the context's output as a string when it is one.
// Dynamic pricing functions that scale with output size use this.
func (c PricingContext) OutputText() string {
	s, _ := c.Output.(string)
	return s
}
