package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	paygate "github.com/paygate-labs/paygate-go"
	"github.com/paygate-labs/paygate-go/encoding"
	"github.com/paygate-labs/paygate-go/http/internal/helpers"
)

// CredentialSelector chooses or acquires a credential for one of the
// options in a PaymentRequired response. Returning nil declines to pay.
type CredentialSelector func(paygate.PaymentRequired) (*paygate.Credential, error)

// Transport is an http.RoundTripper implementing the caller side of the
// payment flow: it attaches the credential, understands 402 responses,
// gates the retry on the local budget, and records confirmed spends.
type Transport struct {
	Base       http.RoundTripper
	Credential *paygate.Credential
	Budget     *paygate.Budget
	Logger     *slog.Logger

	// Selector is consulted when the server demands payment and no
	// credential was attached (or the attached one was refused). When nil,
	// 402 responses are returned to the caller untouched.
	Selector CredentialSelector
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attached := false
	if t.Credential != nil {
		if err := attachCredential(req, t.Credential); err != nil {
			return nil, err
		}
		attached = true
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.observeReceipt(resp, req, logger)
		return resp, nil
	}

	required, derr := decodeRequired(resp)
	if derr != nil || t.Selector == nil || attached {
		// Nothing further to offer: hand the 402 to the caller so it can
		// acquire a valid credential out-of-band.
		return resp, nil
	}

	cred, err := t.Selector(*required)
	if err != nil {
		return nil, fmt.Errorf("credential selector: %w", err)
	}
	if cred == nil {
		return resp, nil
	}

	// Advisory budget gate, before any retry reaches the network. The
	// estimate is the first (preferred) option's minimum cost.
	if t.Budget != nil && len(required.Accepts) > 0 {
		estimate := required.Accepts[0].Credits
		if allowed, reason := t.Budget.CanSpend(estimate); !allowed {
			return nil, fmt.Errorf("%w: %s", paygate.ErrBudgetExceeded, reason)
		}
	}

	retryReq, err := rewindRequest(req)
	if err != nil {
		return nil, err
	}
	if err := attachCredential(retryReq, cred); err != nil {
		return nil, err
	}

	logger.Info("retrying with credential", "resource", required.ResourceID, "plan", cred.PlanID)
	resp.Body.Close()
	retryResp, err := base.RoundTrip(retryReq)
	if err != nil {
		return nil, err
	}
	t.observeReceipt(retryResp, retryReq, logger)
	return retryResp, nil
}

// observeReceipt records a confirmed spend when the response carries a
// successful settlement receipt. Failed receipts are never recorded: the
// budget tracks actual charges only.
func (t *Transport) observeReceipt(resp *http.Response, req *http.Request, logger *slog.Logger) {
	header := resp.Header.Get(helpers.ReceiptHeader)
	if header == "" || resp.StatusCode >= 400 {
		return
	}
	receipt, err := encoding.DecodeReceipt(header)
	if err != nil {
		logger.Warn("malformed receipt header", "error", err)
		return
	}
	if !receipt.Success {
		return
	}
	logger.Info("payment settled", "credits", receipt.CreditsCharged,
		"transaction", receipt.TransactionRef)
	if t.Budget != nil {
		t.Budget.RecordSpend(receipt.CreditsCharged, req.URL.Path)
	}
}

func attachCredential(req *http.Request, cred *paygate.Credential) error {
	encoded, err := encoding.EncodeCredential(*cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	req.Header.Set(helpers.CredentialHeader, encoded)
	return nil
}

func decodeRequired(resp *http.Response) (*paygate.PaymentRequired, error) {
	if header := resp.Header.Get(helpers.RequiredHeader); header != "" {
		pr, err := encoding.DecodePaymentRequired(header)
		if err == nil {
			return &pr, nil
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var pr paygate.PaymentRequired
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// rewindRequest clones a request for the paid retry. Requests with a body
// need GetBody so the payload can be replayed.
func rewindRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry request with unreplayable body")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}
