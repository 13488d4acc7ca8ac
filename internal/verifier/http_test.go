package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/v-inference/backend/internal/models"
	"go.uber.org/zap"
)

func TestHTTPVerifier_Verify(t *testing.T) {
	var lastReq verifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&lastReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		valid := len(lastReq.PublicInputs) > 0 && lastReq.PublicInputs[0] == "1"
		_ = json.NewEncoder(w).Encode(verifyResponse{Valid: valid})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, zap.NewNop())

	ok, err := v.Verify(context.Background(), []byte("proof-bytes"), []string{"1", "2"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected valid=true")
	}
	if lastReq.Proof == "" {
		t.Error("proof was not forwarded")
	}

	ok, err = v.Verify(context.Background(), []byte("proof-bytes"), []string{"0"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected valid=false")
	}
}

func TestHTTPVerifier_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, zap.NewNop())
	if _, err := v.Verify(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestFactory_NotConfigured(t *testing.T) {
	f := NewFactory("", zap.NewNop())

	if _, err := f.For(&models.LedgerSettings{}); err != models.ErrVerifierNotConfigured {
		t.Errorf("empty kind: err = %v, want ErrVerifierNotConfigured", err)
	}
	if _, err := f.For(&models.LedgerSettings{VerifierKind: models.VerifierKindHTTP}); err != models.ErrVerifierNotConfigured {
		t.Errorf("http without endpoint: err = %v, want ErrVerifierNotConfigured", err)
	}
	if _, err := f.For(&models.LedgerSettings{VerifierKind: models.VerifierKindGroth16}); err != models.ErrVerifierNotConfigured {
		t.Errorf("groth16 without vk path: err = %v, want ErrVerifierNotConfigured", err)
	}
}

func TestFactory_HTTPCached(t *testing.T) {
	f := NewFactory("", zap.NewNop())
	settings := &models.LedgerSettings{VerifierKind: models.VerifierKindHTTP, VerifierEndpoint: "http://verifier:9000"}

	a, err := f.For(settings)
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.For(settings)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("expected the same verifier instance for an unchanged endpoint")
	}
}
