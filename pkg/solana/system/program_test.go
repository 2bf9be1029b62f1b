package system

import (
	"crypto/ed25519"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartapay/soltx/pkg/solana"
)

func TestCreateAccount(t *testing.T) {
	keys := generateKeys(t, 3)

	instruction := CreateAccount(keys[0], keys[1], keys[2], 12345, 67890)

	command := make([]byte, 4)
	lamports := make([]byte, 8)
	binary.LittleEndian.PutUint64(lamports, 12345)
	size := make([]byte, 8)
	binary.LittleEndian.PutUint64(size, 67890)

	assert.Equal(t, command, instruction.Data[0:4])
	assert.Equal(t, lamports, instruction.Data[4:12])
	assert.Equal(t, size, instruction.Data[12:20])
	assert.Equal(t, []byte(keys[2]), instruction.Data[20:52])

	require.Len(t, instruction.Accounts, 2)
	assert.EqualValues(t, keys[0], instruction.Accounts[0].PublicKey)
	assert.True(t, instruction.Accounts[0].IsSigner)
	assert.EqualValues(t, keys[1], instruction.Accounts[1].PublicKey)
	assert.True(t, instruction.Accounts[1].IsSigner)
}

func TestTransfer(t *testing.T) {
	keys := generateKeys(t, 2)

	instruction := Transfer(keys[0], keys[1], 123456789)

	command := make([]byte, 4)
	binary.LittleEndian.PutUint32(command, commandTransfer)
	assert.Equal(t, command, instruction.Data[0:4])
	assert.EqualValues(t, ProgramKey[:], instruction.Program)

	require.Len(t, instruction.Accounts, 2)
	assert.EqualValues(t, keys[0], instruction.Accounts[0].PublicKey)
	assert.True(t, instruction.Accounts[0].IsSigner)
	assert.True(t, instruction.Accounts[0].IsWritable)
	assert.EqualValues(t, keys[1], instruction.Accounts[1].PublicKey)
	assert.False(t, instruction.Accounts[1].IsSigner)
	assert.True(t, instruction.Accounts[1].IsWritable)

	var tx solana.Transaction
	require.NoError(t, tx.Unmarshal(solana.NewLegacyTransaction(keys[0], instruction).Marshal()))

	decompiled, err := DecompileTransfer(tx.Message, 0)
	require.NoError(t, err)
	assert.EqualValues(t, keys[0], decompiled.Source)
	assert.EqualValues(t, keys[1], decompiled.Dest)
	assert.EqualValues(t, 123456789, decompiled.Lamports)
}

func TestDecompileTransfer_Invalid(t *testing.T) {
	keys := generateKeys(t, 3)

	instruction := Transfer(keys[0], keys[1], 123)

	instruction.Accounts = instruction.Accounts[:1]
	_, err := DecompileTransfer(solana.NewLegacyTransaction(keys[0], instruction).Message, 0)
	assert.NotNil(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid number of accounts"), err)

	instruction = Transfer(keys[0], keys[1], 123)
	binary.LittleEndian.PutUint32(instruction.Data, commandCreateAccount)
	_, err = DecompileTransfer(solana.NewLegacyTransaction(keys[0], instruction).Message, 0)
	assert.Equal(t, solana.ErrIncorrectInstruction, err)

	instruction = Transfer(keys[0], keys[1], 123)
	instruction.Program = keys[2]
	_, err = DecompileTransfer(solana.NewLegacyTransaction(keys[0], instruction).Message, 0)
	assert.Equal(t, solana.ErrIncorrectProgram, err)

	_, err = DecompileTransfer(solana.NewLegacyTransaction(keys[0], instruction).Message, 1)
	assert.NotNil(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "instruction doesn't exist"))
}

func generateKeys(t *testing.T, amount int) []ed25519.PublicKey {
	keys := make([]ed25519.PublicKey, amount)

	for i := 0; i < amount; i++ {
		pub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		keys[i] = pub
	}

	return keys
}
