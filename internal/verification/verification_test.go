package verification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "rzp_test_secret"

func TestSign_MatchesHMACOverPipeJoinedIDs(t *testing.T) {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("R1|P1"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign(secret, "R1", "P1"))
	assert.NotEqual(t, Sign(secret, "R1", "P1"), Sign(secret, "R1", "P2"))
	assert.NotEqual(t, Sign(secret, "R1", "P1"), Sign("other", "R1", "P1"))
}

func TestVerifySignature(t *testing.T) {
	good := Sign(secret, "R1", "P1")

	tests := []struct {
		name    string
		order   string
		payment string
		sig     string
		wantErr bool
	}{
		{"valid", "R1", "P1", good, false},
		{"valid upper-case hex", "R1", "P1", strings.ToUpper(good), false},
		{"tampered payment id", "R1", "P2", good, true},
		{"tampered order id", "R2", "P1", good, true},
		{"flipped last char", "R1", "P1", good[:len(good)-1] + flip(good[len(good)-1]), true},
		{"empty signature", "R1", "P1", "", true},
		{"empty payment id", "R1", "", good, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(secret, tt.order, tt.payment, tt.sig)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySignature_EmptySecretNeverVerifies(t *testing.T) {
	assert.ErrorIs(t, VerifySignature("", "R1", "P1", Sign("", "R1", "P1")), ErrInvalidSignature)
}

func TestVerify(t *testing.T) {
	exp := Expected{OrderRef: "ord_a", RemoteOrderID: "R1", AmountMinorUnits: 499900, Currency: "INR"}
	claim := Claim{OrderRef: "ord_a", RemoteOrderID: "R1", RemotePaymentID: "P1", Signature: Sign(secret, "R1", "P1")}

	require.NoError(t, Verify(secret, exp, claim))

	withAmount := claim
	withAmount.AmountMinorUnits = 499900
	withAmount.Currency = "inr"
	assert.NoError(t, Verify(secret, exp, withAmount))

	wrongAmount := claim
	wrongAmount.AmountMinorUnits = 100
	assert.ErrorIs(t, Verify(secret, exp, wrongAmount), ErrAmountMismatch)

	wrongCurrency := claim
	wrongCurrency.Currency = "USD"
	assert.ErrorIs(t, Verify(secret, exp, wrongCurrency), ErrAmountMismatch)

	otherOrder := claim
	otherOrder.OrderRef = "ord_b"
	assert.ErrorIs(t, Verify(secret, exp, otherOrder), ErrOrderMismatch)

	// A correctly signed pair for a different remote order is still a mismatch.
	otherRemote := Claim{RemoteOrderID: "R2", RemotePaymentID: "P1", Signature: Sign(secret, "R2", "P1")}
	assert.ErrorIs(t, Verify(secret, exp, otherRemote), ErrOrderMismatch)

	tampered := claim
	tampered.Signature = Sign(secret, "R1", "P9")
	assert.ErrorIs(t, Verify(secret, exp, tampered), ErrInvalidSignature)
}

func TestVerifyWebhookBody(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.NoError(t, VerifyWebhookBody("whsec", body, sig))
	assert.ErrorIs(t, VerifyWebhookBody("whsec", []byte(`{"event":"payment.failed"}`), sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyWebhookBody("", body, sig), ErrInvalidSignature)
}

func TestVerifyMidtransSignature(t *testing.T) {
	sig := MidtransSignature("ord_a", "200", "4999.00", "server-key")
	assert.Len(t, sig, 128)
	assert.NoError(t, VerifyMidtransSignature("ord_a", "200", "4999.00", "server-key", sig))
	assert.ErrorIs(t, VerifyMidtransSignature("ord_a", "200", "1.00", "server-key", sig), ErrInvalidSignature)
}

func flip(b byte) string {
	if b == '0' {
		return "1"
	}
	return "0"
}
