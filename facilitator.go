package paygate

import "context"

// Facilitator is the boundary to the external settlement authority that can
// verify credentials and redeem credits against plan balances. The in-memory
// implementation (package facilitator) and the network-backed client
// (package http) are interchangeable behind this seam.
//
// Implementations must distinguish "the facilitator said no" (a
// VerificationResult with Authorized=false, or a receipt with
// Success=false) from "the facilitator could not be reached" (an error
// wrapping ErrFacilitatorUnavailable). The guard treats the former as the
// caller's problem and the latter as infrastructure.
type Facilitator interface {
	// Verify checks that the credential is valid for the plan and that the
	// remaining balance covers at least minCredits. Purely a remote check;
	// it must be safe to call with no local state.
	Verify(ctx context.Context, cred Credential, planID string, minCredits int64) (*VerificationResult, error)

	// Settle redeems the given credit amount against a verified credential.
	// Implementations must not retry internally: a retry loop here can
	// double-charge. The guard owns the failure policy.
	Settle(ctx context.Context, cred Credential, planID string, credits int64) (*SettlementReceipt, error)

	// Balance reports the credits remaining on the credential's plan.
	Balance(ctx context.Context, cred Credential, planID string) (int64, error)
}
