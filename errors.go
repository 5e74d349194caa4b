package paygate

import "errors"

// Standard paygate error definitions

var (
	// ErrNoCredential indicates the call carried no credential.
	ErrNoCredential = errors.New("no credential presented")

	// ErrInvalidCredential indicates the credential is malformed, expired,
	// or not valid for the requested plan.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInsufficientBalance indicates the plan balance cannot cover the call.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrFacilitatorUnavailable indicates the facilitator could not be
	// reached. Distinct from ErrInvalidCredential so callers know the fault
	// is infrastructural and retryable.
	ErrFacilitatorUnavailable = errors.New("facilitator unavailable")

	// ErrVerificationFailed indicates the facilitator answered but did not
	// authorize the credential.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrSettlementFailed indicates credit redemption failed after the work
	// had already executed.
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrExecutionFailed indicates the wrapped work itself failed.
	// The caller is never charged on this path.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrUnknownResource indicates the call named a resource that was never
	// registered with the gate.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrMalformedCredential indicates a credential header or meta field
	// could not be decoded.
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrUnsupportedVersion indicates an unsupported protocol version.
	ErrUnsupportedVersion = errors.New("unsupported paygate version")

	// ErrBudgetExceeded indicates the caller-side budget blocked a spend
	// before any network call was made.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrInvalidPricing indicates a pricing descriptor is misconfigured.
	ErrInvalidPricing = errors.New("invalid pricing descriptor")
)
