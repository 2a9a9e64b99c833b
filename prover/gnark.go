package prover

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/veilstate/veilstate/circuits/spendattest"
	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/storage"
)

// Groth16Backend proves spend-attestation jobs with gnark's groth16 over
// BN254. The constraint system and keys are built once on first use and
// kept in memory; Setup here is a development-grade ceremony, production
// deployments load externally generated keys instead.
type Groth16Backend struct {
	setupOnce sync.Once
	setupErr  error

	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewGroth16Backend returns a backend that compiles its artifacts lazily,
// so constructing it is cheap.
func NewGroth16Backend() *Groth16Backend {
	return &Groth16Backend{}
}

func (b *Groth16Backend) setup() error {
	b.setupOnce.Do(func() {
		start := time.Now()
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &spendattest.Circuit{})
		if err != nil {
			b.setupErr = fmt.Errorf("compile attestation circuit: %w", err)
			return
		}
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			b.setupErr = fmt.Errorf("groth16 setup: %w", err)
			return
		}
		b.ccs, b.pk, b.vk = ccs, pk, vk
		log.Infow("attestation circuit ready",
			"constraints", ccs.GetNbConstraints(),
			"took", time.Since(start).String())
	})
	return b.setupErr
}

// VerifyingKey serializes the verification key, so external verifiers can
// check proof blobs without this process.
func (b *Groth16Backend) VerifyingKey() ([]byte, error) {
	if err := b.setup(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := b.vk.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Prove generates the attestation proof for one committed call.
func (b *Groth16Backend) Prove(ctx context.Context, job *storage.ProofJob) (*storage.ProofResult, error) {
	if err := b.setup(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if job.Registry == nil {
		return nil, fmt.Errorf("%w: job %s carries no registry transition", ErrProofGenerationFailed, job.ID.String())
	}
	assignment, err := spendattest.Assignment(&job.Registry.Before, &job.Registry.After, job.Nullifiers, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: cannot build witness: %v", ErrProofGenerationFailed, err)
	}
	proof, err := groth16.Prove(b.ccs, b.pk, fullWitness)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, fmt.Errorf("%w: cannot serialize proof: %v", ErrProofGenerationFailed, err)
	}
	public, err := fullWitness.Public()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot extract public witness: %v", ErrProofGenerationFailed, err)
	}
	publicBin, err := public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot serialize public witness: %v", ErrProofGenerationFailed, err)
	}
	return &storage.ProofResult{
		JobID:         job.ID,
		Instance:      job.Instance,
		Version:       job.Version,
		Proof:         proofBuf.Bytes(),
		PublicWitness: publicBin,
		CompletedAt:   time.Now().UTC(),
	}, nil
}

// Verify checks a proof blob against its public witness with the in-memory
// verification key.
func (b *Groth16Backend) Verify(proofBlob, publicBin []byte) error {
	if err := b.setup(); err != nil {
		return err
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBlob)); err != nil {
		return fmt.Errorf("cannot decode proof: %w", err)
	}
	public, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return err
	}
	if err := public.UnmarshalBinary(publicBin); err != nil {
		return fmt.Errorf("cannot decode public witness: %w", err)
	}
	return groth16.Verify(proof, b.vk, public)
}
