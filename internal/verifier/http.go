package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPVerifier delegates verification to an external service over JSON:
// POST {proof, public_inputs} -> {valid}. The service is an arbitrary
// collaborator with no contract beyond this shape, so anything unexpected
// (bad status, malformed body) is an error, never a silent false.
type HTTPVerifier struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewHTTPVerifier(baseURL string, log *zap.Logger) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type verifyRequest struct {
	Proof        string   `json:"proof"` // base64
	PublicInputs []string `json:"public_inputs"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, proof []byte, publicInputs []string) (bool, error) {
	body, err := json.Marshal(verifyRequest{
		Proof:        base64.StdEncoding.EncodeToString(proof),
		PublicInputs: publicInputs,
	})
	if err != nil {
		return false, err
	}

	url := v.baseURL + "/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("verifier unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("verifier returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode verifier response: %w", err)
	}
	return result.Valid, nil
}
