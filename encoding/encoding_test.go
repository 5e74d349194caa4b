package encoding

import (
	"strings"
	"testing"
	"time"

	paygate "github.com/paygate-labs/paygate-go"
)

func TestCredentialRoundTrip(t *testing.T) {
	cred := paygate.Credential{
		Token:  "token-123",
		PlanID: "plan-pro",
		Scheme: paygate.SchemeNone,
	}
	encoded, err := EncodeCredential(cred)
	if err != nil {
		t.Fatalf("EncodeCredential failed: %v", err)
	}
	if strings.Contains(encoded, "token-123") {
		t.Error("Encoded credential leaks plaintext token")
	}
	decoded, err := DecodeCredential(encoded)
	if err != nil {
		t.Fatalf("DecodeCredential failed: %v", err)
	}
	if decoded != cred {
		t.Errorf("Round trip changed credential: %+v -> %+v", cred, decoded)
	}
}

func TestDecodeCredential_Invalid(t *testing.T) {
	if _, err := DecodeCredential("not!!base64"); err == nil {
		t.Error("Expected error for invalid base64")
	}
	if _, err := DecodeCredential("bm90anNvbg=="); err == nil {
		t.Error("Expected error for non-JSON payload")
	}
}

func TestReceiptRoundTrip(t *testing.T) {
	receipt := paygate.SettlementReceipt{
		CreditsCharged: 5,
		SettledAt:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Success:        true,
		TransactionRef: "tx-42",
	}
	encoded, err := EncodeReceipt(receipt)
	if err != nil {
		t.Fatalf("EncodeReceipt failed: %v", err)
	}
	decoded, err := DecodeReceipt(encoded)
	if err != nil {
		t.Fatalf("DecodeReceipt failed: %v", err)
	}
	if decoded.CreditsCharged != 5 || !decoded.Success || decoded.TransactionRef != "tx-42" {
		t.Errorf("Round trip changed receipt: %+v", decoded)
	}
	if !decoded.SettledAt.Equal(receipt.SettledAt) {
		t.Errorf("SettledAt changed: %v", decoded.SettledAt)
	}
}

func TestPaymentRequiredRoundTrip(t *testing.T) {
	pr := paygate.PaymentRequired{
		Version:    1,
		ResourceID: "/search",
		Accepts: []paygate.PlanOption{
			{PlanID: "plan-1", Credits: 2, CostDescription: "2 credits"},
		},
		Reason: "no credential presented (no_credential)",
	}
	encoded, err := EncodePaymentRequired(pr)
	if err != nil {
		t.Fatalf("EncodePaymentRequired failed: %v", err)
	}
	decoded, err := DecodePaymentRequired(encoded)
	if err != nil {
		t.Fatalf("DecodePaymentRequired failed: %v", err)
	}
	if decoded.ResourceID != "/search" || len(decoded.Accepts) != 1 {
		t.Errorf("Round trip changed payload: %+v", decoded)
	}
	if decoded.Accepts[0].PlanID != "plan-1" {
		t.Errorf("Accepts changed: %+v", decoded.Accepts)
	}
}
