package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	paygate "github.com/paygate-labs/paygate-go"
)

// AuthorizationProvider returns an Authorization header value for the
// facilitator. Useful for tokens that need periodic refresh.
type AuthorizationProvider func() (string, error)

// FacilitatorClient talks to a remote facilitator service over HTTP. It
// implements paygate.Facilitator.
//
// Settle is attempted at most once per call: the client never retries
// internally, because a blind retry can double-charge. The guard owns the
// failure policy; the caller owns backoff (package retry).
type FacilitatorClient struct {
	BaseURL       string
	Client        *http.Client
	VerifyTimeout time.Duration
	SettleTimeout time.Duration // longer: settlement may touch slow backends

	// Authorization is a static Authorization header value.
	// Example: "Bearer your-api-key".
	Authorization string

	// AuthorizationProvider takes precedence over Authorization when set.
	AuthorizationProvider AuthorizationProvider
}

// FacilitatorOption configures a FacilitatorClient.
type FacilitatorOption func(*FacilitatorClient)

// WithAuthorization sets a static Authorization header value.
func WithAuthorization(auth string) FacilitatorOption {
	return func(c *FacilitatorClient) { c.Authorization = auth }
}

// WithAuthorizationProvider sets a dynamic Authorization header source.
func WithAuthorizationProvider(p AuthorizationProvider) FacilitatorOption {
	return func(c *FacilitatorClient) { c.AuthorizationProvider = p }
}

// WithFacilitatorTimeouts sets the verify and settle timeouts.
func WithFacilitatorTimeouts(verify, settle time.Duration) FacilitatorOption {
	return func(c *FacilitatorClient) {
		if verify > 0 {
			c.VerifyTimeout = verify
		}
		if settle > 0 {
			c.SettleTimeout = settle
		}
	}
}

// NewFacilitatorClient creates a facilitator client with default timeouts.
func NewFacilitatorClient(baseURL string, opts ...FacilitatorOption) *FacilitatorClient {
	c := &FacilitatorClient{
		BaseURL:       baseURL,
		Client:        &http.Client{},
		VerifyTimeout: paygate.DefaultVerifyTimeout,
		SettleTimeout: paygate.DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// facilitatorRequest is the request payload for /verify, /settle, /balance.
type facilitatorRequest struct {
	Version    int                `json:"paygateVersion"`
	Credential paygate.Credential `json:"credential"`
	PlanID     string             `json:"planId"`
	Credits    int64              `json:"credits,omitempty"`
}

// balanceResponse is the /balance response payload.
type balanceResponse struct {
	RemainingBalance int64 `json:"remainingBalance"`
}

// Verify implements paygate.Facilitator.
func (c *FacilitatorClient) Verify(ctx context.Context, cred paygate.Credential, planID string, minCredits int64) (*paygate.VerificationResult, error) {
	var result paygate.VerificationResult
	err := c.post(ctx, "/verify", c.VerifyTimeout, facilitatorRequest{
		Version:    1,
		Credential: cred,
		PlanID:     planID,
		Credits:    minCredits,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Settle implements paygate.Facilitator.
func (c *FacilitatorClient) Settle(ctx context.Context, cred paygate.Credential, planID string, credits int64) (*paygate.SettlementReceipt, error) {
	var receipt paygate.SettlementReceipt
	err := c.post(ctx, "/settle", c.SettleTimeout, facilitatorRequest{
		Version:    1,
		Credential: cred,
		PlanID:     planID,
		Credits:    credits,
	}, &receipt)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Balance implements paygate.Facilitator.
func (c *FacilitatorClient) Balance(ctx context.Context, cred paygate.Credential, planID string) (int64, error) {
	var resp balanceResponse
	err := c.post(ctx, "/balance", c.VerifyTimeout, facilitatorRequest{
		Version:    1,
		Credential: cred,
		PlanID:     planID,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.RemainingBalance, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, timeout time.Duration, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.setAuthorization(httpReq); err != nil {
		return err
	}

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		// Transport failures, including timeouts, are infrastructure: the
		// guard must not report them as payment-required.
		return fmt.Errorf("%w: %v", paygate.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", paygate.ErrFacilitatorUnavailable, resp.StatusCode)
		}
		return fmt.Errorf("facilitator %s failed: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *FacilitatorClient) setAuthorization(req *http.Request) error {
	if c.AuthorizationProvider != nil {
		auth, err := c.AuthorizationProvider()
		if err != nil {
			return fmt.Errorf("authorization provider: %w", err)
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		return nil
	}
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}
	return nil
}

var _ paygate.Facilitator = (*FacilitatorClient)(nil)
