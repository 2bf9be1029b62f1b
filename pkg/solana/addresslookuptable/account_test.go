package address_lookup_table

import (
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalAccount(t *testing.T, authority ed25519.PublicKey, addresses []ed25519.PublicKey) []byte {
	data := make([]byte, metadataSize+len(addresses)*ed25519.PublicKeySize)

	binary.LittleEndian.PutUint32(data, altDiscriminator)
	binary.LittleEndian.PutUint64(data[4:], 123)  // deactivation slot
	binary.LittleEndian.PutUint64(data[12:], 456) // last extended slot
	data[20] = 7                                  // last extended slot start index
	data[21] = 1                                  // authority option
	copy(data[22:], authority)

	offset := metadataSize
	for _, address := range addresses {
		copy(data[offset:], address)
		offset += ed25519.PublicKeySize
	}

	return data
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

func TestAccount_Unmarshal(t *testing.T) {
	authority := generateKeys(t, 1)[0]
	addresses := generateKeys(t, 3)

	var account AddressLookupTableAccount
	require.NoError(t, account.Unmarshal(marshalAccount(t, authority, addresses)))

	assert.EqualValues(t, 123, account.DeactivationSlot)
	assert.EqualValues(t, 456, account.LastExtendedSlot)
	assert.EqualValues(t, 7, account.LastExtendedSlotStartIndex)
	assert.EqualValues(t, authority, account.Authority)

	require.Len(t, account.Addresses, len(addresses))
	for i, address := range addresses {
		assert.EqualValues(t, address, account.Addresses[i])
	}
}

func TestAccount_UnmarshalInvalid(t *testing.T) {
	authority := generateKeys(t, 1)[0]

	var account AddressLookupTableAccount

	// Too short
	assert.Equal(t, ErrInvalidAccountSize, account.Unmarshal(make([]byte, metadataSize-1)))

	// Wrong discriminator
	data := marshalAccount(t, authority, nil)
	binary.LittleEndian.PutUint32(data, 2)
	assert.Equal(t, ErrInvalidAccountType, account.Unmarshal(data))

	// Truncated address region
	data = marshalAccount(t, authority, generateKeys(t, 2))
	assert.Equal(t, ErrInvalidAccountSize, account.Unmarshal(data[:len(data)-1]))
}
