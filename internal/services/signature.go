package services

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// ClickSignPayload carries the signed fields of a Click webhook, kept as raw
// wire strings so the digest is byte-for-byte what the gateway computed.
type ClickSignPayload struct {
	ClickTransID      string
	ServiceID         string
	MerchantTransID   string
	MerchantPrepareID string // empty on prepare requests
	Amount            string
	Action            string
	SignTime          string
}

// ClickSignature returns the lowercase hex MD5 digest over the fixed field
// concatenation Click specifies. MerchantPrepareID participates as the empty
// string when absent.
func ClickSignature(p ClickSignPayload, secret string) string {
	sum := md5.Sum([]byte(p.ClickTransID + p.ServiceID + secret + p.MerchantTransID +
		p.MerchantPrepareID + p.Amount + p.Action + p.SignTime))
	return hex.EncodeToString(sum[:])
}

// VerifyClickSignature reports whether the provided sign_string matches the
// expected digest. Pure; callers must reject the webhook before any
// transaction lookup when it returns false.
func VerifyClickSignature(p ClickSignPayload, provided, secret string) bool {
	expected := ClickSignature(p, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// PaymeSignature returns the lowercase hex HMAC-SHA256 of the raw request
// body keyed by the merchant key.
func PaymeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymeSignature compares the provided signature byte-exact,
// case-sensitive.
func VerifyPaymeSignature(body []byte, provided, secret string) bool {
	expected := PaymeSignature(body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
