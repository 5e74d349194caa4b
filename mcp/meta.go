// Package mcp adapts the paygate guard to the MCP tool-call transport.
// This transport has no status codes: the credential travels out-of-band in
// request params._meta, the receipt in result._meta, and payment-required
// conditions as a structured error block inside the tool result.
package mcp

import (
	"encoding/json"

	paygate "github.com/paygate-labs/paygate-go"
)

const (
	// MetaKeyCredential is the key for the credential in request
	// params._meta.
	MetaKeyCredential = "paygate/credential"

	// MetaKeyReceipt is the key for the settlement receipt in
	// result._meta.
	MetaKeyReceipt = "paygate/receipt"

	// MetaKeyRequired is the key for the PaymentRequired payload inside a
	// payment-error tool result's _meta.
	MetaKeyRequired = "paygate/payment-required"
)

// credentialFromMeta extracts a credential from a params._meta field map.
// Returns nil when no credential is present; malformed entries are an
// error so they are not silently treated as anonymous calls.
func credentialFromMeta(fields map[string]any) (*paygate.Credential, error) {
	raw, ok := fields[MetaKeyCredential]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, paygate.ErrMalformedCredential
	}
	var cred paygate.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, paygate.ErrMalformedCredential
	}
	if cred.Token == "" {
		return nil, paygate.ErrMalformedCredential
	}
	return &cred, nil
}

// CredentialMeta returns the params._meta fields a client should attach to
// a tool call to present the given credential.
func CredentialMeta(cred paygate.Credential) map[string]any {
	return map[string]any{MetaKeyCredential: cred}
}
