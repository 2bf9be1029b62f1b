// Package batch assembles ordered instruction streams into size-bounded,
// fully signed transactions and submits them with a resend-until-confirmed
// policy.
package batch

import (
	"bytes"
	"crypto/ed25519"

	"github.com/kartapay/soltx/pkg/solana"
)

const (
	// Serialized overhead of referencing one address lookup table from a
	// message: 32 byte table key plus the two index array length prefixes.
	perTableOverhead = 34

	headerSize    = 3
	blockhashSize = 32
	versionSize   = 1
	// Length prefix for the address table lookup array. Present in every
	// versioned message, even when no table is used.
	tableCountSize = 1
)

// Estimate is the exact serialized length a transaction built from a set of
// instructions will have, along with the lookup tables chosen to reach it.
type Estimate struct {
	// Size is the serialized transaction length in bytes, signatures included.
	Size int

	// Tables holds the lookup tables selected to bring Size within the
	// transaction size limit, in selection order. Empty when no compression
	// was needed or none was available.
	Tables []solana.AddressLookupTable

	// UniqueKeys is the total number of unique account keys the transaction
	// references, static and dynamically loaded combined.
	UniqueKeys int
}

// EstimateSize computes the serialized length of the transaction that would
// be built from the provided instructions without constructing it, greedily
// selecting lookup tables when the uncompressed form exceeds the size limit.
//
// Signers, program ids and the fee payer always stay static. A returned Size
// above the limit signals the instruction set cannot fit a single
// transaction; the caller decides how to split it.
func EstimateSize(instructions []solana.Instruction, feePayer ed25519.PublicKey, tables []solana.AddressLookupTable) Estimate {
	signerKeys := newKeySet()
	staticSet := newKeySet()
	eligibleKeys := newKeySet()

	signerKeys.add(feePayer)
	staticSet.add(feePayer)
	for _, ixn := range instructions {
		staticSet.add(ixn.Program)
		for _, account := range ixn.Accounts {
			if account.IsSigner {
				signerKeys.add(account.PublicKey)
				staticSet.add(account.PublicKey)
			}
		}
	}
	for _, ixn := range instructions {
		for _, account := range ixn.Accounts {
			if staticSet.contains(account.PublicKey) {
				continue
			}
			eligibleKeys.add(account.PublicKey)
		}
	}

	// Everything outside the account key region is invariant under table
	// selection.
	staticRegion := shortvecLen(signerKeys.len()) +
		ed25519.SignatureSize*signerKeys.len() +
		headerSize +
		blockhashSize +
		versionSize +
		tableCountSize +
		shortvecLen(len(instructions))
	for _, ixn := range instructions {
		staticRegion += 1 +
			shortvecLen(len(ixn.Accounts)) +
			len(ixn.Accounts) +
			shortvecLen(len(ixn.Data)) +
			len(ixn.Data)
	}

	staticKeys := staticSet.len()
	uniqueKeys := staticKeys + eligibleKeys.len()

	baseline := staticRegion +
		shortvecLen(uniqueKeys) +
		ed25519.PublicKeySize*uniqueKeys

	estimate := Estimate{
		Size:       baseline,
		UniqueKeys: uniqueKeys,
	}

	if baseline <= solana.MaxTransactionSize || len(tables) == 0 {
		return estimate
	}

	// Compression can shrink bytes, not the unique key count. Past the key
	// limit the caller has to reduce the instruction set instead.
	if uniqueKeys > solana.MaxAccountKeys {
		return estimate
	}

	estimate.Size, estimate.Tables = selectTables(staticRegion, staticKeys, eligibleKeys, tables)
	return estimate
}

// selectTables greedily substitutes eligible keys with lookup table
// references. Each round accepts the first candidate that brings the
// projected size within the limit, otherwise commits the candidate with the
// smallest projection and recurses on the keys still unresolved. Ties keep
// the earlier candidate. The result is not guaranteed minimal in table
// count.
func selectTables(staticRegion, staticKeys int, remaining *keySet, candidates []solana.AddressLookupTable) (int, []solana.AddressLookupTable) {
	var used []solana.AddressLookupTable
	var resolved int

	pool := make([]solana.AddressLookupTable, len(candidates))
	copy(pool, candidates)

	size := projectSize(staticRegion, staticKeys, len(used), resolved, remaining.len())

	for len(pool) > 0 && size > solana.MaxTransactionSize {
		bestIndex := -1
		bestSize := 0
		bestCovered := 0

		for i, candidate := range pool {
			covered := remaining.countIn(candidate)
			projected := projectSize(
				staticRegion,
				staticKeys,
				len(used)+1,
				resolved+covered,
				remaining.len()-covered,
			)

			if projected <= solana.MaxTransactionSize {
				bestIndex, bestSize, bestCovered = i, projected, covered
				break
			}
			if bestIndex < 0 || projected < bestSize {
				bestIndex, bestSize, bestCovered = i, projected, covered
			}
		}

		// The best remaining candidate resolves nothing, so no further
		// candidate can either.
		if bestCovered == 0 {
			break
		}

		used = append(used, pool[bestIndex])
		remaining.removeIn(pool[bestIndex])
		resolved += bestCovered
		size = bestSize
		pool = append(pool[:bestIndex], pool[bestIndex+1:]...)
	}

	return size, used
}

func projectSize(staticRegion, staticKeys, tablesUsed, resolved, uncompressed int) int {
	return staticRegion +
		perTableOverhead*tablesUsed +
		resolved +
		shortvecLen(staticKeys+uncompressed) +
		ed25519.PublicKeySize*(staticKeys+uncompressed)
}

// shortvecLen returns the encoded width of a compact-u16 length prefix.
func shortvecLen(n int) int {
	if n <= 0x7f {
		return 1
	}
	return 2
}

// keySet is an insertion-ordered set of public keys.
type keySet struct {
	keys []ed25519.PublicKey
}

func newKeySet() *keySet {
	return &keySet{}
}

func (s *keySet) add(key ed25519.PublicKey) {
	if !s.contains(key) {
		s.keys = append(s.keys, key)
	}
}

func (s *keySet) contains(key ed25519.PublicKey) bool {
	for _, k := range s.keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}

func (s *keySet) len() int {
	return len(s.keys)
}

func (s *keySet) countIn(table solana.AddressLookupTable) int {
	var count int
	for _, k := range s.keys {
		if table.Contains(k) {
			count++
		}
	}
	return count
}

func (s *keySet) removeIn(table solana.AddressLookupTable) {
	kept := s.keys[:0]
	for _, k := range s.keys {
		if !table.Contains(k) {
			kept = append(kept, k)
		}
	}
	s.keys = kept
}
