package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

// WalletProofPrefix namespaces the signed message so a signature produced for
// the escrow service cannot be replayed against anything else.
const WalletProofPrefix = "v-inference-escrow-auth"

// ProofMessage builds the canonical byte string the wallet signs:
// sha256(prefix || ":" || address || ":" || payload).
func ProofMessage(addr string, payload string) []byte {
	msg := sha256.Sum256([]byte(WalletProofPrefix + ":" + addr + ":" + payload))
	return msg[:]
}

// SignProof signs the canonical message with the wallet's private key.
// Used by clients and tests; the service only verifies.
func SignProof(priv ed25519.PrivateKey, addr string, payload string) string {
	return hex.EncodeToString(ed25519.Sign(priv, ProofMessage(addr, payload)))
}

// VerifyWalletProof checks that sigHex is a valid signature of the one-time
// payload by pubKeyHex, and that the claimed address is the V4R2 wallet of
// that public key. Returns the normalized address on success.
func VerifyWalletProof(claimedAddr, pubKeyHex, sigHex, payload string) (string, error) {
	parsed, err := address.ParseAddr(claimedAddr)
	if err != nil {
		return "", fmt.Errorf("parse address: %w", err)
	}

	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid public key")
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return "", fmt.Errorf("invalid signature encoding")
	}

	if !ed25519.Verify(ed25519.PublicKey(pubKey), ProofMessage(claimedAddr, payload), sig) {
		return "", fmt.Errorf("signature does not match")
	}

	derived, err := wallet.AddressFromPubKey(ed25519.PublicKey(pubKey), wallet.V4R2, wallet.DefaultSubwallet)
	if err != nil {
		return "", fmt.Errorf("derive wallet address: %w", err)
	}
	if derived.Workchain() != parsed.Workchain() || !bytes.Equal(derived.Data(), parsed.Data()) {
		return "", fmt.Errorf("address does not belong to the signing key")
	}

	return parsed.String(), nil
}
