package dto

// Auth
type ProofPayloadRequest struct {
	Address string `json:"address"`
}

type VerifyProofRequest struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"` // hex ed25519
	Payload   string `json:"payload"`
	Signature string `json:"signature"` // hex
}

// Escrows
type CreateEscrowRequest struct {
	JobID      string `json:"job_id"`
	Provider   string `json:"provider"`
	AmountNano int64  `json:"amount_nano"`
}

type ReleaseEscrowRequest struct {
	ProofHash string `json:"proof_hash,omitempty"`
}

type ReleaseWithProofRequest struct {
	Proof        string   `json:"proof"` // base64
	PublicInputs []string `json:"public_inputs,omitempty"`
}

type RefundEscrowRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Accounts
type WithdrawRequest struct {
	AmountNano int64 `json:"amount_nano"`
}

// Admin
type SetVerifierRequest struct {
	Kind     string `json:"kind"` // "", "http" or "groth16"
	Endpoint string `json:"endpoint,omitempty"`
}

type TransferAdminRequest struct {
	NewAdmin string `json:"new_admin"`
}
