package batch

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/kartapay/soltx/pkg/solana"
)

// DefaultMaxInstructions caps how many instructions a single batch may hold
// when the caller does not specify a limit.
const DefaultMaxInstructions = 64

// InstructionWithSigners pairs an instruction with the signers that must
// authorize it. The set is declared explicitly rather than derived from the
// account metas, since the fee payer can implicitly satisfy a signer role.
type InstructionWithSigners struct {
	Instruction solana.Instruction
	Signers     []Signer
}

// Instructions wraps plain instructions that need no signer beyond the fee
// payer.
func Instructions(ixns ...solana.Instruction) []InstructionWithSigners {
	wrapped := make([]InstructionWithSigners, len(ixns))
	for i, ixn := range ixns {
		wrapped[i] = InstructionWithSigners{Instruction: ixn}
	}
	return wrapped
}

// Batch is an ordered set of instructions that fits a single transaction,
// along with the lookup tables chosen for it. Scaffolding instructions are
// included at the ends.
type Batch struct {
	FeePayer     ed25519.PublicKey
	Instructions []InstructionWithSigners
	Tables       []solana.AddressLookupTable

	// Size and UniqueKeys are the serialized length and unique account key
	// count of the transaction this batch builds.
	Size       int
	UniqueKeys int
}

// Transaction builds the unsigned transaction for the batch. Batches always
// use the versioned format so the serialized length matches Size exactly.
func (b *Batch) Transaction() solana.Transaction {
	ixns := make([]solana.Instruction, len(b.Instructions))
	for i, iws := range b.Instructions {
		ixns[i] = iws.Instruction
	}
	return solana.NewV0Transaction(b.FeePayer, b.Tables, ixns)
}

// Pack partitions an ordered instruction stream into batches such that every
// batch fits the transaction byte budget, the unique key budget and the
// instruction count cap. The before and after instructions are pinned to the
// start and end of every batch; instruction order is otherwise preserved.
// maxInstructions <= 0 applies DefaultMaxInstructions.
//
// Packing failures are deterministic and local: a stream that cannot be
// packed at all fails with an error naming the offending program, and no
// partial batch list is returned.
func Pack(
	instructions []InstructionWithSigners,
	feePayer ed25519.PublicKey,
	before []InstructionWithSigners,
	after []InstructionWithSigners,
	tables []solana.AddressLookupTable,
	maxInstructions int,
) ([]Batch, error) {
	if maxInstructions <= 0 {
		maxInstructions = DefaultMaxInstructions
	}
	if len(before)+len(after)+1 > maxInstructions {
		return nil, errors.Errorf("instruction cap %d leaves no room beyond the %d scaffolding instructions", maxInstructions, len(before)+len(after))
	}

	// The scaffolding must fit on its own, since every batch carries it.
	scaffoldingEstimate := EstimateSize(toInstructions(flatten(before, nil, after)), feePayer, tables)
	if scaffoldingEstimate.UniqueKeys > solana.MaxAccountKeys {
		return nil, errors.Errorf("before/after instructions alone reference %d unique accounts (max %d)", scaffoldingEstimate.UniqueKeys, solana.MaxAccountKeys)
	}
	if scaffoldingEstimate.Size > solana.MaxTransactionSize {
		return nil, errors.Errorf("before/after instructions alone serialize to %d bytes (max %d)", scaffoldingEstimate.Size, solana.MaxTransactionSize)
	}

	var batches []Batch
	var body []InstructionWithSigners
	var bodyEstimate Estimate

	emit := func(estimate Estimate) {
		combined := flatten(before, body, after)
		copied := make([]InstructionWithSigners, len(combined))
		copy(copied, combined)

		batches = append(batches, Batch{
			FeePayer:     feePayer,
			Instructions: copied,
			Tables:       estimate.Tables,
			Size:         estimate.Size,
			UniqueKeys:   estimate.UniqueKeys,
		})
	}

	for _, ixn := range instructions {
		tentative := flatten(before, append(body, ixn), after)
		estimate := EstimateSize(toInstructions(tentative), feePayer, tables)

		if estimate.Size <= solana.MaxTransactionSize &&
			estimate.UniqueKeys <= solana.MaxAccountKeys &&
			len(tentative) <= maxInstructions {
			body = append(body, ixn)
			bodyEstimate = estimate
			continue
		}

		program := base58.Encode(ixn.Instruction.Program)

		if len(body) == 0 {
			// The instruction cannot fit even in an otherwise empty batch.
			if estimate.UniqueKeys > solana.MaxAccountKeys {
				return nil, errors.Errorf("instruction for program %s exceeds the unique account limit on its own (%d keys, max %d)", program, estimate.UniqueKeys, solana.MaxAccountKeys)
			}
			return nil, errors.Errorf("instruction for program %s exceeds the transaction size limit on its own (%d bytes, max %d)", program, estimate.Size, solana.MaxTransactionSize)
		}

		emit(bodyEstimate)

		// Reseed with the instruction that overflowed the previous batch.
		minimal := flatten(before, []InstructionWithSigners{ixn}, after)
		estimate = EstimateSize(toInstructions(minimal), feePayer, tables)
		if estimate.UniqueKeys > solana.MaxAccountKeys {
			return nil, errors.Errorf("instruction for program %s exceeds the unique account limit on its own (%d keys, max %d)", program, estimate.UniqueKeys, solana.MaxAccountKeys)
		}
		if estimate.Size > solana.MaxTransactionSize {
			return nil, errors.Errorf("instruction for program %s exceeds the transaction size limit on its own (%d bytes, max %d)", program, estimate.Size, solana.MaxTransactionSize)
		}

		body = []InstructionWithSigners{ixn}
		bodyEstimate = estimate
	}

	if len(body) > 0 {
		emit(bodyEstimate)
	}

	return batches, nil
}

// flatten assembles the before, body and after blocks into a single ordered
// instruction list.
func flatten(before, body, after []InstructionWithSigners) []InstructionWithSigners {
	combined := make([]InstructionWithSigners, 0, len(before)+len(body)+len(after))
	combined = append(combined, before...)
	combined = append(combined, body...)
	combined = append(combined, after...)
	return combined
}

func toInstructions(iws []InstructionWithSigners) []solana.Instruction {
	ixns := make([]solana.Instruction, len(iws))
	for i := range iws {
		ixns[i] = iws[i].Instruction
	}
	return ixns
}
