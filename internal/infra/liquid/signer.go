package liquid

import (
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer builds the X-Quoine-Auth request token.
type Signer struct {
	tokenID string
	secret  []byte

	mu        sync.Mutex
	lastNonce int64
	now       func() time.Time
}

// NewSigner creates a signer for the API token id and secret.
func NewSigner(tokenID, secret string) *Signer {
	return &Signer{tokenID: tokenID, secret: []byte(secret), now: time.Now}
}

func (s *Signer) nonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

// GenerateHeaders signs the request path, query string included.
func (s *Signer) GenerateHeaders(path string) (map[string]string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"path":     path,
		"nonce":    strconv.FormatInt(s.nonce(), 10),
		"token_id": s.tokenID,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"X-Quoine-API-Version": "2",
		"X-Quoine-Auth":        signed,
		"Content-Type":         "application/json",
	}, nil
}
