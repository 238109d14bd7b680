package liquid

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSigner_GenerateHeaders(t *testing.T) {
	signer := NewSigner("12345", "secret")
	signer.now = func() time.Time { return time.UnixMilli(1600000000000) }

	headers, err := signer.GenerateHeaders("/orders?product_id=1")
	if err != nil {
		t.Fatalf("GenerateHeaders failed: %v", err)
	}
	if headers["X-Quoine-API-Version"] != "2" {
		t.Errorf("unexpected api version %q", headers["X-Quoine-API-Version"])
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(headers["X-Quoine-Auth"], claims, func(tok *jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims["path"] != "/orders?product_id=1" || claims["token_id"] != "12345" || claims["nonce"] != "1600000000000" {
		t.Errorf("unexpected claims %v", claims)
	}
}

func TestNonceIncreases(t *testing.T) {
	signer := NewSigner("1", "s")
	signer.now = func() time.Time { return time.UnixMilli(5) }
	if a, b := signer.nonce(), signer.nonce(); b <= a {
		t.Errorf("nonce did not increase: %d then %d", a, b)
	}
}
