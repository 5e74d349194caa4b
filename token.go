package paygate

import (
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2/jwt"
)

// TokenClaims are the claims a JOSE-signed credential token carries.
// Signature verification belongs to the facilitator; the gate only inspects
// claims for early rejection and plan routing, and treats expiry as a
// verification failure rather than a separate state.
type TokenClaims struct {
	// Subject identifies the credential holder.
	Subject string

	// PlanID is the plan the token is scoped to.
	PlanID string

	// AgentID optionally scopes the token to one agent.
	AgentID string

	// Expiry is the token's expiry time; zero when the issuer set none.
	Expiry time.Time
}

// Expired reports whether the token is past its expiry at the given time.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && c.Expiry.Before(now)
}

type privateClaims struct {
	PlanID  string `json:"planId,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

// ParseCredentialToken parses a credential token as a signed JWT and returns
// its claims without verifying the signature. Tokens that are not JWTs are
// not an error condition for callers screening credentials: they are simply
// opaque, and this returns ErrMalformedCredential to say so.
func ParseCredentialToken(token string) (*TokenClaims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	var std jwt.Claims
	var priv privateClaims
	if err := parsed.UnsafeClaimsWithoutVerification(&std, &priv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	claims := &TokenClaims{
		Subject: std.Subject,
		PlanID:  priv.PlanID,
		AgentID: priv.AgentID,
	}
	if std.Expiry != nil {
		claims.Expiry = std.Expiry.Time()
	}
	return claims, nil
}
