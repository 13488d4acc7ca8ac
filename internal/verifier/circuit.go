package verifier

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// SettlementCircuit proves that the provider knows the inference output behind
// a public output commitment for a specific job, without revealing the output.
//
// Public inputs:
//   - JobCommitment:    MiMC(jobSalt, outputDigest) — binds the proof to one job
//   - OutputCommitment: MiMC(outputDigest)          — commitment to the result
//
// Private witness:
//   - JobSalt:      per-job salt agreed off-chain between buyer and provider
//   - OutputDigest: field-encoded digest of the inference output
type SettlementCircuit struct {
	JobCommitment    frontend.Variable `gnark:",public"`
	OutputCommitment frontend.Variable `gnark:",public"`

	JobSalt      frontend.Variable `gnark:",private"`
	OutputDigest frontend.Variable `gnark:",private"`
}

func (c *SettlementCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return fmt.Errorf("init mimc: %w", err)
	}

	h.Write(c.JobSalt)
	h.Write(c.OutputDigest)
	api.AssertIsEqual(h.Sum(), c.JobCommitment)

	h.Reset()
	h.Write(c.OutputDigest)
	api.AssertIsEqual(h.Sum(), c.OutputCommitment)

	return nil
}
