package bitmex

import (
	"testing"
	"time"
)

func TestComputeSignature(t *testing.T) {
	// Example from the BitMEX API key documentation.
	secret := "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO"
	message := "GET/api/v1/instrument1518064236"
	expected := "c7682d435d0cfe87c16098df34ef2eb5a549d4c5a3c2b1f0f77b8af73423bf00"

	if got := computeSignature(secret, message); got != expected {
		t.Errorf("signature mismatch: expected %s, got %s", expected, got)
	}
}

func TestSigner_GenerateHeaders(t *testing.T) {
	signer := NewSigner("key", "secret")
	signer.now = func() time.Time { return time.Unix(1600000000, 0) }

	headers := signer.GenerateHeaders("POST", "/api/v1/order", `{"symbol":"XBTUSD"}`)

	if headers["api-key"] != "key" {
		t.Errorf("Expected api-key to be 'key', got %s", headers["api-key"])
	}
	if headers["api-expires"] != "1600000060" {
		t.Errorf("Expected expiry one minute ahead, got %s", headers["api-expires"])
	}
	want := computeSignature("secret", `POST/api/v1/order1600000060{"symbol":"XBTUSD"}`)
	if headers["api-signature"] != want {
		t.Errorf("Expected signature %s, got %s", want, headers["api-signature"])
	}
}
