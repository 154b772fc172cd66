package backpack

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func testSeedB64(t *testing.T) string {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(seed)
}

func TestNewRejectsMalformedBase64Seed(t *testing.T) {
	if _, err := New("api-key", "not-valid-base64!!"); err == nil {
		t.Fatal("expected an error decoding a malformed base64 seed")
	}
}

func TestNewRejectsWrongLengthSeed(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	if _, err := New("api-key", short); err == nil {
		t.Fatal("expected an error for a seed that is not ed25519.SeedSize bytes")
	}
}

func TestNewAcceptsValidSeed(t *testing.T) {
	c, err := New("api-key", testSeedB64(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.window != DefaultWindow {
		t.Fatalf("window = %d, want %d", c.window, DefaultWindow)
	}
	if c.baseURL != BaseURL {
		t.Fatalf("baseURL = %s, want %s", c.baseURL, BaseURL)
	}
}

func TestSignRequestProducesAVerifiableSignatureOverTheSortedParams(t *testing.T) {
	c, err := New("api-key", testSeedB64(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := map[string]string{"symbol": "SOL_USDC_PERP", "side": "Bid"}
	timestamp, window, sigB64 := c.signRequest("orderExecute", params)

	signString := fmt.Sprintf("instruction=orderExecute&side=Bid&symbol=SOL_USDC_PERP&timestamp=%s&window=%s", timestamp, window)

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !ed25519.Verify(c.privateKey.Public().(ed25519.PublicKey), []byte(signString), sig) {
		t.Fatal("signature does not verify over the expected instruction=...&k=v...&timestamp=...&window=... string")
	}
	if window != strconv.FormatInt(DefaultWindow, 10) {
		t.Fatalf("window = %s, want %d", window, DefaultWindow)
	}
}

func TestSignRequestWithNoParamsOmitsParamSection(t *testing.T) {
	c, err := New("api-key", testSeedB64(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	timestamp, window, sigB64 := c.signRequest("balanceQuery", map[string]string{})
	signString := fmt.Sprintf("instruction=balanceQuery&timestamp=%s&window=%s", timestamp, window)
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !ed25519.Verify(c.privateKey.Public().(ed25519.PublicKey), []byte(signString), sig) {
		t.Fatal("signature does not verify for a param-less instruction")
	}
	if strings.Contains(signString, "&&") {
		t.Fatalf("expected no double-ampersand from an empty params section, got %q", signString)
	}
}

func TestZeroIfEmpty(t *testing.T) {
	if zeroIfEmpty("") != "0" {
		t.Fatalf("zeroIfEmpty(\"\") = %q, want \"0\"", zeroIfEmpty(""))
	}
	if zeroIfEmpty("1.5") != "1.5" {
		t.Fatalf("zeroIfEmpty(\"1.5\") = %q, want \"1.5\"", zeroIfEmpty("1.5"))
	}
}
