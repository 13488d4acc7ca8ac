package verifier

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

// settlementPublicInputs is the exact number of public inputs the settlement
// circuit exposes: job commitment and output commitment.
const settlementPublicInputs = 2

// Groth16Verifier verifies groth16 settlement proofs locally on BN254.
// Proofs are the gnark wire encoding; public inputs are decimal or 0x-hex
// field elements, in circuit order.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

func NewGroth16VerifierFromFile(vkPath string) (*Groth16Verifier, error) {
	data, err := os.ReadFile(vkPath)
	if err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}
	return NewGroth16Verifier(data)
}

func NewGroth16Verifier(vkData []byte) (*Groth16Verifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkData)); err != nil {
		return nil, fmt.Errorf("deserialize verifying key: %w", err)
	}
	return &Groth16Verifier{vk: vk}, nil
}

func (v *Groth16Verifier) Verify(ctx context.Context, proofBytes []byte, publicInputs []string) (bool, error) {
	if len(publicInputs) != settlementPublicInputs {
		return false, fmt.Errorf("expected %d public inputs, got %d", settlementPublicInputs, len(publicInputs))
	}

	jobCommitment, err := parseFieldElement(publicInputs[0])
	if err != nil {
		return false, fmt.Errorf("job commitment: %w", err)
	}
	outputCommitment, err := parseFieldElement(publicInputs[1])
	if err != nil {
		return false, fmt.Errorf("output commitment: %w", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, fmt.Errorf("deserialize proof: %w", err)
	}

	assignment := &SettlementCircuit{
		JobCommitment:    jobCommitment,
		OutputCommitment: outputCommitment,
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("build public witness: %w", err)
	}

	// A failed pairing check is a negative verification result, not an error.
	if err := groth16.Verify(proof, v.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

func parseFieldElement(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid field element %q", s)
	}
	if n.Sign() < 0 || n.Cmp(ecc.BN254.ScalarField()) >= 0 {
		return nil, fmt.Errorf("field element out of range")
	}
	return n, nil
}
