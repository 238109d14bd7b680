package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// expiresAfter is how long a signed request stays valid.
const expiresAfter = 60 * time.Second

// Signer handles BitMEX API key authentication.
type Signer struct {
	apiKey    string
	apiSecret string
	now       func() time.Time
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: apiSecret, now: time.Now}
}

// GenerateHeaders creates the auth headers for a request.
// path includes the query string, body is the raw JSON (empty if none).
func (s *Signer) GenerateHeaders(method, path, body string) map[string]string {
	expires := strconv.FormatInt(s.now().Add(expiresAfter).Unix(), 10)
	return map[string]string{
		"api-expires":   expires,
		"api-key":       s.apiKey,
		"api-signature": computeSignature(s.apiSecret, method+path+expires+body),
		"Content-Type":  "application/json",
	}
}

func computeSignature(secret, message string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
