package paygate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paygate-labs/paygate-go/metrics"
)

// SettlementPolicy controls what the guard does when settlement fails after
// the work has already executed successfully.
type SettlementPolicy string

const (
	// SettleIgnore delivers the result anyway with a failed receipt. The
	// charge is lost and reconciled out-of-band; the caller is not punished
	// for a backend settlement glitch. This is the default.
	SettleIgnore SettlementPolicy = "ignore"

	// SettlePropagate fails the call: the caller never sees the output and
	// is not charged.
	SettlePropagate SettlementPolicy = "propagate"
)

// OutcomeKind tags the single result of guarding one call.
type OutcomeKind int

const (
	// OutcomeExecuted carries the output and a settlement receipt.
	OutcomeExecuted OutcomeKind = iota

	// OutcomeRejected carries a PaymentRequired payload.
	OutcomeRejected

	// OutcomeFailed carries an error; the caller was not charged.
	OutcomeFailed
)

// FailureKind classifies failed outcomes for the caller.
type FailureKind string

const (
	FailureExecution   FailureKind = "execution_error"
	FailureFacilitator FailureKind = "facilitator_unavailable"
	FailureSettlement  FailureKind = "settlement_error"
	FailureCanceled    FailureKind = "canceled"
	FailureInternal    FailureKind = "internal_error"
)

// Outcome is the transport-neutral result of one guarded call. Exactly one
// of the three kinds is produced per call.
type Outcome struct {
	Kind OutcomeKind

	// Output is set for OutcomeExecuted.
	Output any

	// Receipt is set for OutcomeExecuted. Receipt.Success is false when a
	// settlement failure was absorbed under the ignore policy.
	Receipt *SettlementReceipt

	// Required is set for OutcomeRejected.
	Required *PaymentRequired

	// Failure and Err are set for OutcomeFailed. The caller is never
	// charged on this path.
	Failure FailureKind
	Err     error
}

// WorkFunc is a unit of work the guard wraps: opaque business logic that may
// block arbitrarily long. The output it returns feeds dynamic pricing.
type WorkFunc func(ctx context.Context, inputs map[string]any) (any, error)

// DefaultVerifyTimeout bounds facilitator verification calls.
const DefaultVerifyTimeout = 5 * time.Second

// DefaultSettleTimeout bounds facilitator settlement calls. Longer than
// verification because settlement may touch slow backends.
const DefaultSettleTimeout = 60 * time.Second

// Guard is the payment state machine. For every call it runs, in order and
// exactly once each: verify, execute, price, settle. Verification gates
// execution; settlement is attempted only after a successful execution and
// never retried. Concurrent calls are independent; balance consistency
// across them is the facilitator's job.
type Guard struct {
	facilitator   Facilitator
	registry      *Registry
	policy        SettlementPolicy
	verifyTimeout time.Duration
	settleTimeout time.Duration
	logger        *slog.Logger
	recorder      metrics.Recorder
	now           func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithSettlementPolicy sets the default settlement-failure policy.
func WithSettlementPolicy(p SettlementPolicy) GuardOption {
	return func(g *Guard) { g.policy = p }
}

// WithTimeouts sets the verify and settle timeouts.
func WithTimeouts(verify, settle time.Duration) GuardOption {
	return func(g *Guard) {
		if verify > 0 {
			g.verifyTimeout = verify
		}
		if settle > 0 {
			g.settleTimeout = settle
		}
	}
}

// WithLogger sets the guard's logger.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// WithRecorder sets the guard's metrics recorder.
func WithRecorder(r metrics.Recorder) GuardOption {
	return func(g *Guard) { g.recorder = r }
}

// NewGuard creates a guard over the given facilitator and registry. There
// is no global instance: construct one at process start and pass it to the
// transport adapters that need it.
func NewGuard(f Facilitator, reg *Registry, opts ...GuardOption) *Guard {
	g := &Guard{
		facilitator:   f,
		registry:      reg,
		policy:        SettleIgnore,
		verifyTimeout: DefaultVerifyTimeout,
		settleTimeout: DefaultSettleTimeout,
		logger:        slog.Default(),
		recorder:      metrics.Noop{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry returns the resource registry the guard charges from.
func (g *Guard) Registry() *Registry {
	return g.registry
}

// Wrap binds a registered resource to a unit of work, returning a callable
// that runs the full verify/execute/price/settle flow per invocation.
func (g *Guard) Wrap(resourceID string, work WorkFunc) func(ctx context.Context, cred *Credential, inputs map[string]any) Outcome {
	return func(ctx context.Context, cred *Credential, inputs map[string]any) Outcome {
		return g.Do(ctx, Call{ResourceID: resourceID, Credential: cred, Inputs: inputs}, work)
	}
}

// Do runs one call through the state machine. Single pass, no retries.
func (g *Guard) Do(ctx context.Context, call Call, work WorkFunc) Outcome {
	res, ok := g.registry.Lookup(call.ResourceID)
	if !ok {
		return Outcome{Kind: OutcomeFailed, Failure: FailureInternal,
			Err: fmt.Errorf("%w: %s", ErrUnknownResource, call.ResourceID)}
	}

	if call.Credential == nil || call.Credential.Token == "" {
		g.logger.Info("no credential presented", "resource", res.ID)
		g.recorder.IncCounter("rejected_no_credential", labels(res.ID))
		return Outcome{Kind: OutcomeRejected,
			Required: g.required(res, ReasonNoCredential, "no credential presented")}
	}

	cred := *call.Credential
	planID := cred.PlanID

	// Credentials issued as signed tokens can be screened locally: an
	// expired token or one scoped to a different plan will never verify, so
	// skip the facilitator round trip. Opaque tokens pass straight through.
	if claims, err := ParseCredentialToken(cred.Token); err == nil {
		if claims.Expired(g.now()) {
			g.logger.Info("credential token expired", "resource", res.ID, "plan", planID)
			g.recorder.IncCounter("rejected_invalid", labels(res.ID))
			return Outcome{Kind: OutcomeRejected,
				Required: g.required(res, ReasonInvalidCredential, "credential token expired")}
		}
		if planID == "" {
			planID = claims.PlanID
		}
	}
	if !accepts(res, planID) {
		g.recorder.IncCounter("rejected_invalid", labels(res.ID))
		return Outcome{Kind: OutcomeRejected,
			Required: g.required(res, ReasonInvalidCredential,
				fmt.Sprintf("plan %q is not accepted for this resource", planID))}
	}

	// VERIFY. A facilitator error here is infrastructure, not the caller's
	// fault; it must not be reported as payment-required.
	vctx, cancel := context.WithTimeout(ctx, g.verifyTimeout)
	start := g.now()
	vres, err := g.facilitator.Verify(vctx, cred, planID, res.Pricing.Floor())
	cancel()
	g.recorder.ObserveLatency("verify", g.now().Sub(start), labels(res.ID))
	if err != nil {
		g.logger.Error("facilitator verification unreachable", "resource", res.ID, "error", err)
		g.recorder.IncCounter("verify_unreachable", labels(res.ID))
		return Outcome{Kind: OutcomeFailed, Failure: FailureFacilitator,
			Err: fmt.Errorf("%w: %v", ErrFacilitatorUnavailable, err)}
	}
	if !vres.Authorized {
		reason := vres.Reason
		if reason == "" {
			reason = ReasonInvalidCredential
		}
		g.logger.Info("verification refused", "resource", res.ID, "reason", reason)
		g.recorder.IncCounter("rejected_"+string(reason), labels(res.ID))
		return Outcome{Kind: OutcomeRejected,
			Required: g.required(res, reason, "credential not authorized: "+string(reason))}
	}
	g.logger.Info("credential verified", "resource", res.ID, "subscriber", vres.Subscriber)

	// EXECUTE. No second verification, and no settlement if this fails:
	// the caller is never charged for failed work.
	output, err := work(ctx, call.Inputs)
	if err != nil {
		g.logger.Info("execution failed, no charge", "resource", res.ID, "error", err)
		g.recorder.IncCounter("execution_failed", labels(res.ID))
		return Outcome{Kind: OutcomeFailed, Failure: FailureExecution, Err: err}
	}

	// A caller that disconnected during execution is not charged for work
	// it abandoned.
	if ctx.Err() != nil {
		g.logger.Info("caller canceled before settlement, no charge", "resource", res.ID)
		g.recorder.IncCounter("canceled", labels(res.ID))
		return Outcome{Kind: OutcomeFailed, Failure: FailureCanceled, Err: ctx.Err()}
	}

	// PRICE. Evaluated exactly once, strictly after successful execution.
	price := res.Pricing.Resolve(PricingContext{
		Inputs:   call.Inputs,
		Output:   output,
		Metadata: call.Metadata,
	}, g.logger)

	// SETTLE. At most once, on a context detached from the caller: a
	// disconnect mid-settlement must not leave an ambiguous partial charge.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.settleTimeout)
	start = g.now()
	receipt, err := g.facilitator.Settle(sctx, cred, planID, price)
	cancel()
	g.recorder.ObserveLatency("settle", g.now().Sub(start), labels(res.ID))

	if err != nil || receipt == nil || !receipt.Success {
		return g.settlementFailed(res, output, price, err, receipt)
	}
	if receipt.SettledAt.IsZero() {
		receipt.SettledAt = g.now()
	}
	g.logger.Info("settled", "resource", res.ID, "credits", receipt.CreditsCharged,
		"transaction", receipt.TransactionRef)
	g.recorder.IncCounter("settled", labels(res.ID))
	return Outcome{Kind: OutcomeExecuted, Output: output, Receipt: receipt}
}

// settlementFailed applies the resource's (or guard's) settlement-failure
// policy after work already executed. Under ignore, the loss is logged for
// out-of-band reconciliation.
func (g *Guard) settlementFailed(res Resource, output any, price int64, err error, receipt *SettlementReceipt) Outcome {
	policy := res.Policy
	if policy == "" {
		policy = g.policy
	}
	g.recorder.IncCounter("settle_failed", labels(res.ID))

	if policy == SettlePropagate {
		g.logger.Error("settlement failed, propagating", "resource", res.ID,
			"credits", price, "error", err)
		serr := err
		if serr == nil {
			serr = fmt.Errorf("%w: facilitator refused settlement", ErrSettlementFailed)
		} else {
			serr = fmt.Errorf("%w: %v", ErrSettlementFailed, serr)
		}
		return Outcome{Kind: OutcomeFailed, Failure: FailureSettlement, Err: serr}
	}

	// Revenue loss: the result is delivered but the credits were never
	// redeemed. Operators reconcile from this log line.
	g.logger.Warn("settlement failed after execution, delivering result uncharged",
		"resource", res.ID, "credits", price, "error", err)
	failed := &SettlementReceipt{CreditsCharged: price, SettledAt: g.now(), Success: false}
	if receipt != nil && receipt.TransactionRef != "" {
		failed.TransactionRef = receipt.TransactionRef
	}
	return Outcome{Kind: OutcomeExecuted, Output: output, Receipt: failed}
}

func (g *Guard) required(res Resource, reason FailureReason, msg string) *PaymentRequired {
	accepts := make([]PlanOption, len(res.Accepts))
	copy(accepts, res.Accepts)
	return &PaymentRequired{
		Version:    1,
		ResourceID: res.ID,
		Accepts:    accepts,
		Reason:     msg + " (" + string(reason) + ")",
	}
}

func accepts(res Resource, planID string) bool {
	if planID == "" {
		return false
	}
	for _, opt := range res.Accepts {
		if opt.PlanID == planID {
			return true
		}
	}
	return false
}

func labels(resourceID string) map[string]string {
	return map[string]string{"resource": resourceID}
}
