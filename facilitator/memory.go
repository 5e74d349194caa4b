// Package facilitator provides an in-process facilitator implementation.
// It keeps plan balances in memory and is the reference implementation the
// guard is tested against; production deployments talk to a remote
// facilitator through the HTTP client instead.
package facilitator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	paygate "github.com/paygate-labs/paygate-go"
)

// Memory is an in-memory facilitator: plans, credential balances, and
// settlement all live in one process. Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	plans    map[string]paygate.Plan
	balances map[string]*account

	verifyErr error
	settleErr error
}

type account struct {
	planID    string
	agentID   string
	remaining int64
}

// NewMemory creates an empty in-memory facilitator.
func NewMemory() *Memory {
	return &Memory{
		plans:    make(map[string]paygate.Plan),
		balances: make(map[string]*account),
	}
}

// AddPlan registers a plan definition.
func (m *Memory) AddPlan(plan paygate.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
}

// Issue mints a credential for a plan with the plan's credit grant (or the
// given override when credits > 0). The token is opaque.
func (m *Memory) Issue(planID, agentID string, credits int64) paygate.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	if credits <= 0 {
		if plan, ok := m.plans[planID]; ok {
			credits = plan.CreditsGranted
		}
	}
	token := uuid.NewString()
	m.balances[token] = &account{planID: planID, agentID: agentID, remaining: credits}
	return paygate.Credential{
		Token:   token,
		PlanID:  planID,
		AgentID: agentID,
		Scheme:  paygate.SchemeNone,
	}
}

// FailVerifyWith makes all subsequent Verify calls return err. Pass nil to
// restore normal behavior. Used to exercise the unreachable path.
func (m *Memory) FailVerifyWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyErr = err
}

// FailSettleWith makes all subsequent Settle calls return err.
func (m *Memory) FailSettleWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleErr = err
}

// Verify implements paygate.Facilitator.
func (m *Memory) Verify(ctx context.Context, cred paygate.Credential, planID string, minCredits int64) (*paygate.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	acct, ok := m.balances[cred.Token]
	if !ok || acct.planID != planID {
		return &paygate.VerificationResult{
			Authorized: false,
			Reason:     paygate.ReasonInvalidCredential,
		}, nil
	}
	if acct.remaining < minCredits {
		return &paygate.VerificationResult{
			Authorized:       false,
			RemainingBalance: acct.remaining,
			Reason:           paygate.ReasonInsufficientBalance,
		}, nil
	}
	return &paygate.VerificationResult{
		Authorized:       true,
		RemainingBalance: acct.remaining,
		Subscriber:       cred.Token[:8],
	}, nil
}

// Settle implements paygate.Facilitator. It deducts exactly once per call;
// a balance that cannot cover the charge yields an unsuccessful receipt with
// no deduction.
func (m *Memory) Settle(ctx context.Context, cred paygate.Credential, planID string, credits int64) (*paygate.SettlementReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settleErr != nil {
		return nil, m.settleErr
	}
	now := time.Now()
	acct, ok := m.balances[cred.Token]
	if !ok || acct.planID != planID || acct.remaining < credits {
		return &paygate.SettlementReceipt{
			CreditsCharged: credits,
			SettledAt:      now,
			Success:        false,
		}, nil
	}
	acct.remaining -= credits
	return &paygate.SettlementReceipt{
		CreditsCharged: credits,
		SettledAt:      now,
		Success:        true,
		TransactionRef: uuid.NewString(),
	}, nil
}

// Balance implements paygate.Facilitator.
func (m *Memory) Balance(ctx context.Context, cred paygate.Credential, planID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.balances[cred.Token]
	if !ok || acct.planID != planID {
		return 0, paygate.ErrInvalidCredential
	}
	return acct.remaining, nil
}

var _ paygate.Facilitator = (*Memory)(nil)
