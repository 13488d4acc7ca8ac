package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/xssnick/tonutils-go/ton/wallet"
)

func testKeyAndAddress(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := wallet.AddressFromPubKey(pub, wallet.V4R2, wallet.DefaultSubwallet)
	if err != nil {
		t.Fatal(err)
	}
	return pub, priv, addr.String()
}

func TestVerifyWalletProof_Valid(t *testing.T) {
	pub, priv, addr := testKeyAndAddress(t)

	payload := "nonce-12345"
	sig := SignProof(priv, addr, payload)

	got, err := VerifyWalletProof(addr, hex.EncodeToString(pub), sig, payload)
	if err != nil {
		t.Fatalf("VerifyWalletProof failed: %v", err)
	}
	if got == "" {
		t.Fatal("expected normalized address, got empty string")
	}
}

func TestVerifyWalletProof_WrongPayload(t *testing.T) {
	pub, priv, addr := testKeyAndAddress(t)

	sig := SignProof(priv, addr, "nonce-a")
	if _, err := VerifyWalletProof(addr, hex.EncodeToString(pub), sig, "nonce-b"); err == nil {
		t.Fatal("expected failure for signature over a different payload")
	}
}

func TestVerifyWalletProof_ForeignAddress(t *testing.T) {
	pub, priv, _ := testKeyAndAddress(t)
	_, _, otherAddr := testKeyAndAddress(t)

	// Signature is valid for otherAddr's message, but the key does not own it.
	sig := SignProof(priv, otherAddr, "nonce-x")
	if _, err := VerifyWalletProof(otherAddr, hex.EncodeToString(pub), sig, "nonce-x"); err == nil {
		t.Fatal("expected failure when address does not belong to the signing key")
	}
}

func TestVerifyWalletProof_BadEncodings(t *testing.T) {
	_, priv, addr := testKeyAndAddress(t)
	sig := SignProof(priv, addr, "nonce-y")

	if _, err := VerifyWalletProof("not-an-address", "aa", sig, "nonce-y"); err == nil {
		t.Fatal("expected failure for unparseable address")
	}
	if _, err := VerifyWalletProof(addr, "zz", sig, "nonce-y"); err == nil {
		t.Fatal("expected failure for invalid public key hex")
	}
	if _, err := VerifyWalletProof(addr, "aabb", "nothex", "nonce-y"); err == nil {
		t.Fatal("expected failure for invalid signature hex")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	_, _, addr := testKeyAndAddress(t)

	token, err := GenerateJWT("secret", addr, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.Address != addr {
		t.Errorf("address = %q, want %q", claims.Address, addr)
	}

	if _, err := ParseJWT("wrong-secret", token); err == nil {
		t.Fatal("expected parse failure with wrong secret")
	}
}
