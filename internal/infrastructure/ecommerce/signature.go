package ecommerce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// signHMACBase64 returns base64(HMAC-SHA256(secret, parts...))
func signHMACBase64(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifyHMACBase64 compares a base64 signature against the expected digest in constant time
func verifyHMACBase64(signature, secret string, parts ...[]byte) bool {
	if signature == "" || secret == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hmac.Equal(got, mac.Sum(nil))
}

// constantTimeEqual compares two shared secrets
func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}
