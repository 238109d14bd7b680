package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Signer handles Kraken private endpoint authentication.
type Signer struct {
	apiKey string
	secret []byte

	mu        sync.Mutex
	lastNonce int64
	now       func() time.Time
}

// NewSigner creates a signer. The secret is the base64 private key shown by Kraken.
func NewSigner(apiKey, apiSecret string) (*Signer, error) {
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid kraken api secret: %w", err)
	}
	return &Signer{apiKey: apiKey, secret: secret, now: time.Now}, nil
}

// Nonce returns a strictly increasing millisecond nonce.
func (s *Signer) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return strconv.FormatInt(n, 10)
}

// GenerateHeaders signs the url encoded post data, which must contain the nonce.
func (s *Signer) GenerateHeaders(path, nonce, postData string) map[string]string {
	return map[string]string{
		"API-Key":      s.apiKey,
		"API-Sign":     computeSignature(s.secret, path, nonce, postData),
		"Content-Type": "application/x-www-form-urlencoded; charset=utf-8",
	}
}

func computeSignature(secret []byte, path, nonce, postData string) string {
	sha := sha256.Sum256([]byte(nonce + postData))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
