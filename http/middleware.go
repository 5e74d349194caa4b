// Package http provides HTTP transport adapters for the paygate guard: a
// payment-gating middleware for servers and an auto-paying client for
// callers. The guard itself is transport-blind; everything here is
// marshaling between HTTP and the guard's Call/Outcome shapes.
package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	paygate "github.com/paygate-labs/paygate-go"
	"github.com/paygate-labs/paygate-go/http/internal/helpers"
)

// NewMiddleware wraps an HTTP handler with the full payment flow for one
// registered resource. The handler's response is buffered until settlement
// is decided: dynamic pricing needs the complete output, and a settlement
// failure under the propagate policy must be able to withhold it.
//
// A handler response with status >= 400 is an execution failure: it passes
// through unchanged and the caller is not charged.
func NewMiddleware(guard *paygate.Guard, resourceID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ServeGated(guard, resourceID, next, w, r)
		})
	}
}

// ServeGated runs one request through the guard and writes the outcome.
// Shared by the stdlib and Chi adapters.
func ServeGated(guard *paygate.Guard, resourceID string, next http.Handler, w http.ResponseWriter, r *http.Request) {
	logger := slog.Default()

	cred, err := helpers.CredentialFromRequest(r)
	if err != nil {
		logger.Warn("invalid payment header", "error", err)
		http.Error(w, "Invalid payment header", http.StatusBadRequest)
		return
	}

	call := paygate.Call{
		ResourceID: resourceID,
		Credential: cred,
		Inputs:     queryInputs(r),
		Metadata: map[string]string{
			"method": r.Method,
			"path":   r.URL.Path,
		},
	}

	var buf *bufferedResponse
	outcome := guard.Do(r.Context(), call, func(ctx context.Context, _ map[string]any) (any, error) {
		buf = newBufferedResponse()
		next.ServeHTTP(buf, r.WithContext(ctx))
		if buf.status >= 400 {
			return nil, &helpers.HandlerError{Status: buf.status, Header: buf.header, Body: buf.body.Bytes()}
		}
		return buf.body.String(), nil
	})

	writeOutcome(w, outcome, buf, logger)
}

func writeOutcome(w http.ResponseWriter, outcome paygate.Outcome, buf *bufferedResponse, logger *slog.Logger) {
	switch outcome.Kind {
	case paygate.OutcomeRejected:
		helpers.SendPaymentRequired(w, outcome.Required)

	case paygate.OutcomeFailed:
		var herr *helpers.HandlerError
		if errors.As(outcome.Err, &herr) {
			// The wrapped handler failed on its own terms; let its error
			// response through untouched. No settlement happened.
			herr.Replay(w)
			return
		}
		helpers.WriteFailure(w, outcome.Failure, outcome.Err)

	case paygate.OutcomeExecuted:
		for k, vals := range buf.header {
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
		if err := helpers.AddReceiptHeader(w, outcome.Receipt); err != nil {
			logger.Warn("failed to add receipt header", "error", err)
		}
		w.WriteHeader(buf.status)
		_, _ = w.Write(buf.body.Bytes())
	}
}

// queryInputs flattens single-valued query parameters into the call inputs.
func queryInputs(r *http.Request) map[string]any {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	inputs := make(map[string]any, len(q))
	for k, vals := range q {
		if len(vals) > 0 {
			inputs[k] = vals[0]
		}
	}
	return inputs
}

// bufferedResponse captures the wrapped handler's full response so the
// guard can price and settle before anything reaches the wire.
type bufferedResponse struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	return b.body.Write(p)
}

func (b *bufferedResponse) WriteHeader(status int) {
	b.status = status
}
