// Package helpers provides shared helper functions for paygate HTTP
// middleware implementations. The stdlib, Chi, and Gin adapters all route
// through these to keep wire behavior identical.
package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"

	paygate "github.com/paygate-labs/paygate-go"
	"github.com/paygate-labs/paygate-go/encoding"
)

// CredentialHeader carries the caller's credential on requests.
const CredentialHeader = "X-PAYMENT"

// RequiredHeader carries the machine-parseable PaymentRequired payload on
// 402 responses, alongside the JSON body.
const RequiredHeader = "X-PAYMENT-REQUIRED"

// ReceiptHeader carries the settlement receipt on successful responses.
const ReceiptHeader = "X-PAYMENT-RESPONSE"

// CredentialFromRequest parses the X-PAYMENT header into a Credential.
// A missing header is not an error: it returns (nil, nil) and the guard
// rejects the call with a PaymentRequired payload.
func CredentialFromRequest(r *http.Request) (*paygate.Credential, error) {
	headerValue := r.Header.Get(CredentialHeader)
	if headerValue == "" {
		return nil, nil
	}
	cred, err := encoding.DecodeCredential(headerValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paygate.ErrMalformedCredential, err)
	}
	if cred.Token == "" {
		return nil, fmt.Errorf("%w: empty token", paygate.ErrMalformedCredential)
	}
	return &cred, nil
}

// SendPaymentRequired writes a 402 response: the PaymentRequired payload as
// the JSON body and, base64-encoded, in the X-PAYMENT-REQUIRED header.
func SendPaymentRequired(w http.ResponseWriter, pr *paygate.PaymentRequired) {
	if encoded, err := encoding.EncodePaymentRequired(*pr); err == nil {
		w.Header().Set(RequiredHeader, encoded)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	// Ignore encoding errors - the 402 status is already committed.
	_ = json.NewEncoder(w).Encode(pr)
}

// AddReceiptHeader sets the X-PAYMENT-RESPONSE header with the
// base64-encoded settlement receipt.
func AddReceiptHeader(w http.ResponseWriter, receipt *paygate.SettlementReceipt) error {
	encoded, err := encoding.EncodeReceipt(*receipt)
	if err != nil {
		return err
	}
	w.Header().Set(ReceiptHeader, encoded)
	return nil
}

// FailureBody is the JSON body of a non-payment failure response.
type FailureBody struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
	Charged   bool   `json:"charged"`
}

// WriteFailure maps a failed outcome to an HTTP status and JSON body. The
// caller was not charged on any of these paths.
func WriteFailure(w http.ResponseWriter, kind paygate.FailureKind, err error) {
	status := http.StatusInternalServerError
	switch kind {
	case paygate.FailureFacilitator, paygate.FailureSettlement:
		status = http.StatusServiceUnavailable
	case paygate.FailureCanceled:
		// Client already went away; nothing useful to write.
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(FailureBody{
		ErrorKind: string(kind),
		Message:   msg,
		Charged:   false,
	})
}

// HandlerError carries a buffered error response produced by the wrapped
// handler itself. The guard treats it as an execution failure (no charge)
// and the adapter replays the handler's original response unchanged.
type HandlerError struct {
	Status int
	Header http.Header
	Body   []byte
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler returned status %d", e.Status)
}

// Replay writes the buffered handler response to w as-is.
func (e *HandlerError) Replay(w http.ResponseWriter) {
	for k, vals := range e.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}
