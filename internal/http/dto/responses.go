package dto

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ProofPayloadResponse struct {
	Payload   string `json:"payload"`
	ExpiresAt string `json:"expires_at"`
}

type AuthTokenResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

type PendingResponse struct {
	JobID   string `json:"job_id"`
	Pending bool   `json:"pending"`
}

type DepositInfoResponse struct {
	TreasuryAddress string `json:"treasury_address"`
	Network         string `json:"network"`
}
