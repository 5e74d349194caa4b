package paygate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// spyFacilitator records every verify and settle call so tests can assert
// exactly-once semantics.
type spyFacilitator struct {
	mu          sync.Mutex
	verifyCalls int
	settleCalls int
	settled     []int64

	verifyErr    error
	verifyResult *VerificationResult
	settleErr    error
	settleOK     bool
}

func newSpyFacilitator() *spyFacilitator {
	return &spyFacilitator{
		verifyResult: &VerificationResult{Authorized: true, RemainingBalance: 100, Subscriber: "sub-1"},
		settleOK:     true,
	}
}

func (s *spyFacilitator) Verify(ctx context.Context, cred Credential, planID string, minCredits int64) (*VerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.verifyResult, nil
}

func (s *spyFacilitator) Settle(ctx context.Context, cred Credential, planID string, credits int64) (*SettlementReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleCalls++
	s.settled = append(s.settled, credits)
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	return &SettlementReceipt{
		CreditsCharged: credits,
		SettledAt:      time.Now(),
		Success:        s.settleOK,
		TransactionRef: "tx-1",
	}, nil
}

func (s *spyFacilitator) Balance(ctx context.Context, cred Credential, planID string) (int64, error) {
	return 100, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	counters map[string]int
}

func (r *fakeRecorder) IncCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = make(map[string]int)
	}
	r.counters[name]++
}

func (r *fakeRecorder) ObserveLatency(op string, d time.Duration, labels map[string]string) {}

func (r *fakeRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func testRegistry(t *testing.T, pricing Pricing) *Registry {
	t.Helper()
	reg := NewRegistry()
	err := reg.Register(Resource{
		ID:      "/research",
		Pricing: pricing,
		Accepts: []PlanOption{{PlanID: "plan-1", Credits: pricing.Floor()}},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return reg
}

func testCredential() *Credential {
	return &Credential{Token: "token-abc", PlanID: "plan-1"}
}

func TestGuard_NoCredentialRejected(t *testing.T) {
	fac := newSpyFacilitator()
	guard := NewGuard(fac, testRegistry(t, Fixed(5)))

	ran := false
	outcome := guard.Do(context.Background(), Call{ResourceID: "/research"},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			ran = true
			return "result", nil
		})

	if outcome.Kind != OutcomeRejected {
		t.Fatalf("Expected OutcomeRejected, got %v", outcome.Kind)
	}
	if ran {
		t.Error("Work ran without a credential")
	}
	if fac.verifyCalls != 0 || fac.settleCalls != 0 {
		t.Errorf("Facilitator called without a credential: verify=%d settle=%d",
			fac.verifyCalls, fac.settleCalls)
	}
	pr := outcome.Required
	if pr == nil {
		t.Fatal("Rejected outcome missing PaymentRequired payload")
	}
	if pr.ResourceID != "/research" {
		t.Errorf("Expected resource /research, got %s", pr.ResourceID)
	}
	if len(pr.Accepts) != 1 || pr.Accepts[0].PlanID != "plan-1" {
		t.Errorf("PaymentRequired accepts wrong: %+v", pr.Accepts)
	}
}

func TestGuard_UnauthorizedNotExecuted(t *testing.T) {
	fac := newSpyFacilitator()
	fac.verifyResult = &VerificationResult{
		Authorized:       false,
		RemainingBalance: 2,
		Reason:           ReasonInsufficientBalance,
	}
	guard := NewGuard(fac, testRegistry(t, Fixed(5)))

	ran := false
	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			ran = true
			return "result", nil
		})

	if outcome.Kind != OutcomeRejected {
		t.Fatalf("Expected OutcomeRejected, got %v", outcome.Kind)
	}
	if ran {
		t.Error("Work ran despite refused verification")
	}
	if fac.settleCalls != 0 {
		t.Errorf("Settle called after refused verification: %d", fac.settleCalls)
	}
	if !strings.Contains(outcome.Required.Reason, string(ReasonInsufficientBalance)) {
		t.Errorf("Rejection reason %q does not carry insufficient_balance", outcome.Required.Reason)
	}
}

func TestGuard_HappyPathSettlesExactlyOnce(t *testing.T) {
	fac := newSpyFacilitator()
	rec := &fakeRecorder{}
	guard := NewGuard(fac, testRegistry(t, Fixed(5)), WithRecorder(rec))

	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			return "the answer", nil
		})

	if outcome.Kind != OutcomeExecuted {
		t.Fatalf("Expected OutcomeExecuted, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.Output != "the answer" {
		t.Errorf("Expected output to pass through, got %v", outcome.Output)
	}
	if fac.verifyCalls != 1 {
		t.Errorf("Expected exactly 1 verify call, got %d", fac.verifyCalls)
	}
	if fac.settleCalls != 1 {
		t.Errorf("Expected exactly 1 settle call, got %d", fac.settleCalls)
	}
	if outcome.Receipt == nil || !outcome.Receipt.Success {
		t.Fatalf("Expected successful receipt, got %+v", outcome.Receipt)
	}
	if outcome.Receipt.CreditsCharged != 5 {
		t.Errorf("Expected 5 credits charged, got %d", outcome.Receipt.CreditsCharged)
	}
	if rec.count("settled") != 1 {
		t.Errorf("Expected settled counter 1, got %d", rec.count("settled"))
	}
}

func TestGuard_ExecutionFailureNotCharged(t *testing.T) {
	fac := newSpyFacilitator()
	guard := NewGuard(fac, testRegistry(t, Fixed(5)))

	boom := errors.New("backend exploded")
	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			return nil, boom
		})

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("Expected OutcomeFailed, got %v", outcome.Kind)
	}
	if outcome.Failure != FailureExecution {
		t.Errorf("Expected FailureExecution, got %s", outcome.Failure)
	}
	if !errors.Is(outcome.Err, boom) {
		t.Errorf("Original execution error not preserved: %v", outcome.Err)
	}
	if fac.settleCalls != 0 {
		t.Errorf("Settle called after failed execution: %d", fac.settleCalls)
	}
}

func TestGuard_FacilitatorUnreachable(t *testing.T) {
	fac := newSpyFacilitator()
	fac.verifyErr = errors.New("connection refused")
	guard := NewGuard(fac, testRegistry(t, Fixed(5)))

	ran := false
	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			ran = true
			return "result", nil
		})

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("Expected OutcomeFailed, got %v", outcome.Kind)
	}
	if outcome.Failure != FailureFacilitator {
		t.Errorf("Expected FailureFacilitator, got %s", outcome.Failure)
	}
	if !errors.Is(outcome.Err, ErrFacilitatorUnavailable) {
		t.Errorf("Expected ErrFacilitatorUnavailable, got %v", outcome.Err)
	}
	if ran {
		t.Error("Work ran while facilitator was unreachable")
	}
}

func TestGuard_SettlementFailureIgnorePolicy(t *testing.T) {
	fac := newSpyFacilitator()
	fac.settleErr = errors.New("settlement backend down")
	guard := NewGuard(fac, testRegistry(t, Fixed(5)))

	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			return "result", nil
		})

	// Default policy delivers the result with a failed receipt.
	if outcome.Kind != OutcomeExecuted {
		t.Fatalf("Expected OutcomeExecuted under ignore policy, got %v", outcome.Kind)
	}
	if outcome.Output != "result" {
		t.Errorf("Result withheld under ignore policy: %v", outcome.Output)
	}
	if outcome.Receipt == nil || outcome.Receipt.Success {
		t.Fatalf("Expected failed receipt, got %+v", outcome.Receipt)
	}
	if outcome.Receipt.CreditsCharged != 5 {
		t.Errorf("Failed receipt should carry attempted charge 5, got %d", outcome.Receipt.CreditsCharged)
	}
}

func TestGuard_SettlementFailurePropagatePolicy(t *testing.T) {
	fac := newSpyFacilitator()
	fac.settleErr = errors.New("settlement backend down")
	guard := NewGuard(fac, testRegistry(t, Fixed(5)),
		WithSettlementPolicy(SettlePropagate))

	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			return "result", nil
		})

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("Expected OutcomeFailed under propagate policy, got %v", outcome.Kind)
	}
	if outcome.Failure != FailureSettlement {
		t.Errorf("Expected FailureSettlement, got %s", outcome.Failure)
	}
	if !errors.Is(outcome.Err, ErrSettlementFailed) {
		t.Errorf("Expected ErrSettlementFailed, got %v", outcome.Err)
	}
	if fac.settleCalls != 1 {
		t.Errorf("Settlement must not be retried, got %d calls", fac.settleCalls)
	}
}

func TestGuard_ResourcePolicyOverridesGuardDefault(t *testing.T) {
	fac := newSpyFacilitator()
	fac.settleErr = errors.New("settlement backend down")

	reg := NewRegistry()
	err := reg.Register(Resource{
		ID:      "/strict",
		Pricing: Fixed(3),
		Accepts: []PlanOption{{PlanID: "plan-1", Credits: 3}},
		Policy:  SettlePropagate,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	guard := NewGuard(fac, reg) // guard default is ignore

	outcome := guard.Do(context.Background(), Call{ResourceID: "/strict", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			return "result", nil
		})

	if outcome.Kind != OutcomeFailed || outcome.Failure != FailureSettlement {
		t.Fatalf("Resource propagate policy not honored: kind=%v failure=%s",
			outcome.Kind, outcome.Failure)
	}
}

func TestGuard_CanceledCallerNotCharged(t *testing.T) {
	fac := newSpyFacilitator()
	guard := NewGuard(fac, testRegistry(t, Fixed(5)))

	ctx, cancel := context.WithCancel(context.Background())
	outcome := guard.Do(ctx, Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			cancel() // caller disconnects while work is running
			return "result", nil
		})

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("Expected OutcomeFailed, got %v", outcome.Kind)
	}
	if outcome.Failure != FailureCanceled {
		t.Errorf("Expected FailureCanceled, got %s", outcome.Failure)
	}
	if fac.settleCalls != 0 {
		t.Errorf("Settle called for abandoned work: %d", fac.settleCalls)
	}
}

func TestGuard_DynamicPriceEvaluatedOnceAfterExecution(t *testing.T) {
	fac := newSpyFacilitator()
	evals := 0
	var executed bool
	pricing := Dynamic(func(pctx PricingContext) int64 {
		evals++
		if !executed {
			t.Error("Pricing evaluated before execution completed")
		}
		return 2 + int64(len(pctx.OutputText())/500)
	}, WithBounds(2, 10))
	guard := NewGuard(fac, testRegistry(t, pricing))

	output := strings.Repeat("x", 1200)
	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			executed = true
			return output, nil
		})

	if outcome.Kind != OutcomeExecuted {
		t.Fatalf("Expected OutcomeExecuted, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if evals != 1 {
		t.Errorf("Expected exactly 1 pricing evaluation, got %d", evals)
	}
	// 2 base + 1200/500 = 4, within [2, 10]
	if outcome.Receipt.CreditsCharged != 4 {
		t.Errorf("Expected 4 credits charged, got %d", outcome.Receipt.CreditsCharged)
	}
}

func TestGuard_ZeroPriceStillSettles(t *testing.T) {
	fac := newSpyFacilitator()
	guard := NewGuard(fac, testRegistry(t, Fixed(0)))

	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			return "free result", nil
		})

	if outcome.Kind != OutcomeExecuted {
		t.Fatalf("Expected OutcomeExecuted, got %v", outcome.Kind)
	}
	if fac.settleCalls != 1 {
		t.Errorf("Zero-priced call must still settle, got %d settle calls", fac.settleCalls)
	}
	if len(fac.settled) != 1 || fac.settled[0] != 0 {
		t.Errorf("Expected a 0-credit settlement, got %v", fac.settled)
	}
}

func TestGuard_UnknownResource(t *testing.T) {
	guard := NewGuard(newSpyFacilitator(), NewRegistry())

	outcome := guard.Do(context.Background(), Call{ResourceID: "/missing", Credential: testCredential()},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			return nil, nil
		})

	if outcome.Kind != OutcomeFailed || outcome.Failure != FailureInternal {
		t.Fatalf("Expected internal failure, got kind=%v failure=%s", outcome.Kind, outcome.Failure)
	}
	if !errors.Is(outcome.Err, ErrUnknownResource) {
		t.Errorf("Expected ErrUnknownResource, got %v", outcome.Err)
	}
}

func TestGuard_PlanNotAccepted(t *testing.T) {
	fac := newSpyFacilitator()
	guard := NewGuard(fac, testRegistry(t, Fixed(5)))

	cred := &Credential{Token: "token-abc", PlanID: "some-other-plan"}
	outcome := guard.Do(context.Background(), Call{ResourceID: "/research", Credential: cred},
		func(ctx context.Context, inputs map[string]any) (any, error) {
			return "result", nil
		})

	if outcome.Kind != OutcomeRejected {
		t.Fatalf("Expected OutcomeRejected, got %v", outcome.Kind)
	}
	if fac.verifyCalls != 0 {
		t.Errorf("Facilitator consulted for a plan the resource does not accept")
	}
}

func TestGuard_WrapRunsFullFlow(t *testing.T) {
	fac := newSpyFacilitator()
	guard := NewGuard(fac, testRegistry(t, Fixed(5)))

	call := guard.Wrap("/research", func(ctx context.Context, inputs map[string]any) (any, error) {
		return fmt.Sprintf("echo %v", inputs["q"]), nil
	})

	outcome := call(context.Background(), testCredential(), map[string]any{"q": "hello"})
	if outcome.Kind != OutcomeExecuted {
		t.Fatalf("Expected OutcomeExecuted, got %v", outcome.Kind)
	}
	if outcome.Output != "echo hello" {
		t.Errorf("Unexpected output: %v", outcome.Output)
	}
	if fac.verifyCalls != 1 || fac.settleCalls != 1 {
		t.Errorf("Expected 1 verify and 1 settle, got %d/%d", fac.verifyCalls, fac.settleCalls)
	}
}

func TestGuard_ConcurrentCallsIndependent(t *testing.T) {
	fac := newSpyFacilitator()
	guard := NewGuard(fac, testRegistry(t, Fixed(1)))

	const n = 20
	var wg sync.WaitGroup
	outcomes := make([]Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = guard.Do(context.Background(),
				Call{ResourceID: "/research", Credential: testCredential()},
				func(ctx context.Context, inputs map[string]any) (any, error) {
					return i, nil
				})
		}(i)
	}
	wg.Wait()

	for i, o := range outcomes {
		if o.Kind != OutcomeExecuted {
			t.Errorf("Call %d: expected OutcomeExecuted, got %v", i, o.Kind)
		}
	}
	if fac.settleCalls != n {
		t.Errorf("Expected %d settlements, got %d", n, fac.settleCalls)
	}
}
