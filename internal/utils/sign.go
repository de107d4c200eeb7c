package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeWebhookSignature computes an HMAC-SHA256 signature over
// "{ts}.{payload}", Stripe style. Returns a hex string.
func ComputeWebhookSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	msg := []byte(fmt.Sprintf("%d.", timestamp))
	msg = append(msg, payload...)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature verifies a hex signature given secret, timestamp,
// and payload using a constant-time comparison.
func VerifyWebhookSignature(secret string, timestamp int64, payload []byte, givenSigHex string) bool {
	expected := ComputeWebhookSignature(secret, timestamp, payload)
	exp, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(givenSigHex)
	if err != nil {
		return false
	}
	return hmac.Equal(exp, got)
}

// SignURLPath signs "{path}:{exp}" for expiring public download links.
func SignURLPath(secret, path string, exp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%d", path, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyURLSignature checks an expiring link signature. The caller is
// responsible for checking exp against the clock.
func VerifyURLSignature(secret, path string, exp int64, givenSigHex string) bool {
	expected := SignURLPath(secret, path, exp)
	exp2, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(givenSigHex)
	if err != nil {
		return false
	}
	return hmac.Equal(exp2, got)
}
