package solana

import (
	"bytes"
	"crypto/ed25519"
)

// AddressLookupTable is an on-chain, append-only list of addresses that a v0
// message can reference by index instead of by full key. Read-only input to
// transaction assembly; never mutated here.
type AddressLookupTable struct {
	PublicKey ed25519.PublicKey
	Addresses []ed25519.PublicKey
}

// Contains reports whether the table holds the provided address.
func (t AddressLookupTable) Contains(address ed25519.PublicKey) bool {
	for _, a := range t.Addresses {
		if bytes.Equal(a, address) {
			return true
		}
	}
	return false
}

type SortableAddressLookupTables []AddressLookupTable

func (s SortableAddressLookupTables) Len() int {
	return len(s)
}

func (s SortableAddressLookupTables) Less(i int, j int) bool {
	return bytes.Compare(s[i].PublicKey, s[j].PublicKey) < 0
}

func (s SortableAddressLookupTables) Swap(i int, j int) {
	s[i], s[j] = s[j], s[i]
}
