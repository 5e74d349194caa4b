// Package gin provides Gin-compatible middleware for paygate payment
// gating. The handler chain's response is buffered until settlement is
// decided, because dynamic pricing needs the complete output.
package gin

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	paygate "github.com/paygate-labs/paygate-go"
	"github.com/paygate-labs/paygate-go/http/internal/helpers"
)

// NewMiddleware returns a Gin middleware that gates the route on payment
// for the given registered resource.
//
// Example usage:
//
//	r := gin.Default()
//	r.POST("/research", ginpaygate.NewMiddleware(guard, "/research"), researchHandler)
func NewMiddleware(guard *paygate.Guard, resourceID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := slog.Default()

		cred, err := helpers.CredentialFromRequest(c.Request)
		if err != nil {
			logger.Warn("invalid payment header", "error", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"paygateVersion": 1,
				"error":          "Invalid payment header",
			})
			return
		}

		call := paygate.Call{
			ResourceID: resourceID,
			Credential: cred,
			Metadata: map[string]string{
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
			},
		}

		original := c.Writer
		buf := &bufferedWriter{ResponseWriter: original, status: http.StatusOK}
		c.Writer = buf

		outcome := guard.Do(c.Request.Context(), call, func(ctx context.Context, _ map[string]any) (any, error) {
			c.Next()
			if buf.status >= 400 {
				return nil, &helpers.HandlerError{
					Status: buf.status,
					Header: original.Header().Clone(),
					Body:   buf.body.Bytes(),
				}
			}
			return buf.body.String(), nil
		})

		c.Writer = original

		switch outcome.Kind {
		case paygate.OutcomeRejected:
			c.Abort()
			helpers.SendPaymentRequired(original, outcome.Required)

		case paygate.OutcomeFailed:
			c.Abort()
			var herr *helpers.HandlerError
			if errors.As(outcome.Err, &herr) {
				original.WriteHeader(herr.Status)
				_, _ = original.Write(herr.Body)
				return
			}
			helpers.WriteFailure(original, outcome.Failure, outcome.Err)

		case paygate.OutcomeExecuted:
			if err := helpers.AddReceiptHeader(original, outcome.Receipt); err != nil {
				logger.Warn("failed to add receipt header", "error", err)
			}
			original.WriteHeader(buf.status)
			_, _ = original.Write(buf.body.Bytes())
		}
	}
}

// bufferedWriter captures the handler chain's body instead of streaming it
// to the connection.
type bufferedWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	return w.body.Write(p)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *bufferedWriter) WriteHeader(status int) {
	w.status = status
}

func (w *bufferedWriter) WriteHeaderNow() {}

func (w *bufferedWriter) Status() int {
	return w.status
}

func (w *bufferedWriter) Size() int {
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.body.Len() > 0
}
