// Package verification checks gateway callbacks. Everything here is pure: no storage,
// no network, no clock.
package verification

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrInvalidSignature = errors.New("invalid callback signature")
	ErrAmountMismatch   = errors.New("amount or currency does not match order")
	ErrOrderMismatch    = errors.New("remote order does not belong to order")
)

// Sign returns the hex HMAC-SHA256 of "remoteOrderID|remotePaymentID" under secret.
// This is the signature the gateway hands the browser after a successful payment.
func Sign(secret, remoteOrderID, remotePaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(remoteOrderID + "|" + remotePaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature with the expected value in constant time.
func VerifySignature(secret, remoteOrderID, remotePaymentID, signature string) error {
	if secret == "" || remoteOrderID == "" || remotePaymentID == "" || signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(secret, remoteOrderID, remotePaymentID)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// Expected is what the stored order says the callback must be about.
type Expected struct {
	OrderRef         string
	RemoteOrderID    string
	AmountMinorUnits int64
	Currency         string
}

// Claim is what an inbound callback asserts. OrderRef, AmountMinorUnits and Currency
// are optional; when present they must agree with the order.
type Claim struct {
	OrderRef         string
	RemoteOrderID    string
	RemotePaymentID  string
	Signature        string
	AmountMinorUnits int64
	Currency         string
}

// Verify checks the signature first and then that the claim is about the expected order.
func Verify(secret string, exp Expected, claim Claim) error {
	if err := VerifySignature(secret, claim.RemoteOrderID, claim.RemotePaymentID, claim.Signature); err != nil {
		return err
	}
	if exp.RemoteOrderID == "" || claim.RemoteOrderID != exp.RemoteOrderID {
		return ErrOrderMismatch
	}
	if claim.OrderRef != "" && claim.OrderRef != exp.OrderRef {
		return ErrOrderMismatch
	}
	if claim.AmountMinorUnits != 0 && claim.AmountMinorUnits != exp.AmountMinorUnits {
		return ErrAmountMismatch
	}
	if claim.Currency != "" && !strings.EqualFold(claim.Currency, exp.Currency) {
		return ErrAmountMismatch
	}
	return nil
}

// VerifyWebhookBody checks a hex HMAC-SHA256 of the raw request body, as sent in
// Razorpay's X-Razorpay-Signature header.
func VerifyWebhookBody(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// MidtransSignature is SHA512(order_id + status_code + gross_amount + server_key), hex encoded.
func MidtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func VerifyMidtransSignature(orderID, statusCode, grossAmount, serverKey, signature string) error {
	if serverKey == "" || signature == "" {
		return ErrInvalidSignature
	}
	expected := MidtransSignature(orderID, statusCode, grossAmount, serverKey)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}
