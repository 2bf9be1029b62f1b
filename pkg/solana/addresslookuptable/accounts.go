package address_lookup_table

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/kartapay/soltx/pkg/solana"
)

// Load fetches a lookup table account and returns it in the form consumed by
// transaction assembly.
func Load(client solana.Client, key ed25519.PublicKey, commitment solana.Commitment) (solana.AddressLookupTable, error) {
	info, err := client.GetAccountInfo(key, commitment)
	if err != nil {
		return solana.AddressLookupTable{}, errors.Wrap(err, "failed to get lookup table account")
	}

	var account AddressLookupTableAccount
	if err := account.Unmarshal(info.Data); err != nil {
		return solana.AddressLookupTable{}, errors.Wrap(err, "failed to unmarshal lookup table account")
	}

	return solana.AddressLookupTable{
		PublicKey: key,
		Addresses: account.Addresses,
	}, nil
}
