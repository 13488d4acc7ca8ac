package models

import "time"

// Verifier kinds
const (
	VerifierKindNone    = ""
	VerifierKindHTTP    = "http"
	VerifierKindGroth16 = "groth16"
)

// LedgerSettings is the single mutable configuration row: the administrator
// address (transferable at runtime) and the configured proof verifier.
type LedgerSettings struct {
	AdminAddress     string    `json:"admin_address"`
	VerifierKind     string    `json:"verifier_kind"`
	VerifierEndpoint string    `json:"verifier_endpoint"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (s *LedgerSettings) IsAdmin(address string) bool {
	return s.AdminAddress != "" && s.AdminAddress == address
}

func (s *LedgerSettings) VerifierConfigured() bool {
	return s.VerifierKind != VerifierKindNone
}
