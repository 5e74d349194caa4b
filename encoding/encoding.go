// Package encoding provides codecs for moving paygate payloads across
// transports that only carry strings: base64-wrapped JSON for HTTP headers
// and equivalent out-of-band fields.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	paygate "github.com/paygate-labs/paygate-go"
)

// EncodeCredential converts a Credential to a base64-encoded JSON string,
// the format of the X-PAYMENT request header.
func EncodeCredential(cred paygate.Credential) (string, error) {
	data, err := json.Marshal(cred)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credential: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeCredential converts a base64-encoded JSON string to a Credential.
func DecodeCredential(encoded string) (paygate.Credential, error) {
	var cred paygate.Credential

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return cred, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &cred); err != nil {
		return cred, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return cred, nil
}

// EncodeReceipt converts a SettlementReceipt to a base64-encoded JSON
// string, the format of the X-PAYMENT-RESPONSE header.
func EncodeReceipt(receipt paygate.SettlementReceipt) (string, error) {
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeReceipt converts a base64-encoded JSON string to a
// SettlementReceipt.
func DecodeReceipt(encoded string) (paygate.SettlementReceipt, error) {
	var receipt paygate.SettlementReceipt

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return receipt, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &receipt); err != nil {
		return receipt, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return receipt, nil
}

// EncodePaymentRequired converts a PaymentRequired payload to a
// base64-encoded JSON string, the format of the X-PAYMENT-REQUIRED header on
// 402 responses.
func EncodePaymentRequired(pr paygate.PaymentRequired) (string, error) {
	data, err := json.Marshal(pr)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment-required: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentRequired converts a base64-encoded JSON string to a
// PaymentRequired payload.
func DecodePaymentRequired(encoded string) (paygate.PaymentRequired, error) {
	var pr paygate.PaymentRequired

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return pr, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &pr); err != nil {
		return pr, fmt.Errorf("failed to unmarshal payment-required: %w", err)
	}
	return pr, nil
}
