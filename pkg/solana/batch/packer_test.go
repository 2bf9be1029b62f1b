package batch

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartapay/soltx/pkg/solana"
	"github.com/kartapay/soltx/pkg/solana/memo"
	"github.com/kartapay/soltx/pkg/solana/system"
)

func TestPack_SingleTransfer(t *testing.T) {
	keys := publicKeys(generateKeys(t, 2))
	payer := keys[0]
	dest := keys[1]

	batches, err := Pack(
		Instructions(system.Transfer(payer, dest, 1_000_000)),
		payer,
		nil,
		nil,
		nil,
		0,
	)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	batch := batches[0]
	assert.Len(t, batch.Instructions, 1)
	assert.Empty(t, batch.Tables)
	assert.True(t, batch.Size <= solana.MaxTransactionSize)
	assert.Equal(t, batch.Size, len(batch.Transaction().Marshal()))
}

func TestPack_InstructionCountCap(t *testing.T) {
	keys := publicKeys(generateKeys(t, 1))
	payer := keys[0]

	var instructions []InstructionWithSigners
	for i := 0; i < 100; i++ {
		instructions = append(instructions, InstructionWithSigners{
			Instruction: memo.Instruction(fmt.Sprintf("payment %03d", i)),
		})
	}

	batches, err := Pack(instructions, payer, nil, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Instructions, 64)
	assert.Len(t, batches[1].Instructions, 36)

	// Input order survives the split.
	var repacked []InstructionWithSigners
	for _, b := range batches {
		assert.True(t, b.Size <= solana.MaxTransactionSize)
		repacked = append(repacked, b.Instructions...)
	}
	require.Len(t, repacked, len(instructions))
	for i := range instructions {
		assert.True(t, bytes.Equal(instructions[i].Instruction.Data, repacked[i].Instruction.Data))
	}
}

func TestPack_CompressedStream(t *testing.T) {
	keys := publicKeys(generateKeys(t, 2))
	payer := keys[0]
	program := keys[1]

	targets := publicKeys(generateKeys(t, 250))
	table := solana.AddressLookupTable{
		PublicKey: publicKeys(generateKeys(t, 1))[0],
		Addresses: targets,
	}

	var instructions []InstructionWithSigners
	for _, target := range targets {
		instructions = append(instructions, InstructionWithSigners{
			Instruction: solana.NewInstruction(
				program,
				make([]byte, 12),
				solana.NewReadonlyAccountMeta(target, false),
			),
		})
	}

	batches, err := Pack(instructions, payer, nil, nil, []solana.AddressLookupTable{table}, 0)
	require.NoError(t, err)

	// The byte budget binds before the instruction cap: 60 compressed
	// instructions per transaction.
	require.Len(t, batches, 5)
	for i, b := range batches {
		if i < 4 {
			assert.Len(t, b.Instructions, 60)
		} else {
			assert.Len(t, b.Instructions, 10)
		}

		require.Len(t, b.Tables, 1)
		assert.True(t, b.Size <= solana.MaxTransactionSize)
		assert.True(t, b.UniqueKeys <= solana.MaxAccountKeys)
	}

	assert.Equal(t, batches[0].Size, len(batches[0].Transaction().Marshal()))
}

func TestPack_KeyCountBoundary(t *testing.T) {
	keys := publicKeys(generateKeys(t, 2))
	payer := keys[0]
	program := keys[1]

	// Payer and program included, 126 referenced accounts lands exactly on
	// the key limit.
	accounts := publicKeys(generateKeys(t, 126))
	table := solana.AddressLookupTable{
		PublicKey: publicKeys(generateKeys(t, 1))[0],
		Addresses: accounts,
	}

	batches, err := Pack(
		Instructions(readonlyInstruction(program, accounts, 0)),
		payer,
		nil,
		nil,
		[]solana.AddressLookupTable{table},
		0,
	)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, solana.MaxAccountKeys, batches[0].UniqueKeys)

	// One more key with no table to compress it fails on the key budget,
	// not the byte budget.
	over := publicKeys(generateKeys(t, 127))
	_, err = Pack(
		Instructions(readonlyInstruction(program, over, 0)),
		payer,
		nil,
		nil,
		nil,
		0,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique account limit")
}

func TestPack_InstructionTooLarge(t *testing.T) {
	keys := publicKeys(generateKeys(t, 2))
	payer := keys[0]
	program := keys[1]

	_, err := Pack(
		Instructions(solana.NewInstruction(program, make([]byte, 1300))),
		payer,
		nil,
		nil,
		nil,
		0,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction size limit")
}

func TestPack_ScaffoldingOverflow(t *testing.T) {
	keys := publicKeys(generateKeys(t, 2))
	payer := keys[0]
	program := keys[1]

	before := Instructions(solana.NewInstruction(program, make([]byte, 1300)))

	_, err := Pack(
		Instructions(memo.Instruction("hello")),
		payer,
		before,
		nil,
		nil,
		0,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before/after")
}

func TestPack_ScaffoldingPinnedToEnds(t *testing.T) {
	keys := publicKeys(generateKeys(t, 1))
	payer := keys[0]

	before := Instructions(memo.Instruction("begin"))
	after := Instructions(memo.Instruction("end"))

	var instructions []InstructionWithSigners
	for i := 0; i < 10; i++ {
		instructions = append(instructions, InstructionWithSigners{
			Instruction: memo.Instruction(fmt.Sprintf("body %d", i)),
		})
	}

	batches, err := Pack(instructions, payer, before, after, nil, 6)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	var body []InstructionWithSigners
	for _, b := range batches {
		require.True(t, len(b.Instructions) >= 3)
		assert.Equal(t, []byte("begin"), b.Instructions[0].Instruction.Data)
		assert.Equal(t, []byte("end"), b.Instructions[len(b.Instructions)-1].Instruction.Data)
		body = append(body, b.Instructions[1:len(b.Instructions)-1]...)
	}

	require.Len(t, body, len(instructions))
	for i := range instructions {
		assert.True(t, bytes.Equal(instructions[i].Instruction.Data, body[i].Instruction.Data))
	}
}

func TestPack_EmptyStream(t *testing.T) {
	keys := publicKeys(generateKeys(t, 1))
	payer := keys[0]

	batches, err := Pack(nil, payer, Instructions(memo.Instruction("begin")), nil, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, batches)
}
