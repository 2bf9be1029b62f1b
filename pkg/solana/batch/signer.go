package batch

import (
	"context"
	"crypto/ed25519"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/kartapay/soltx/pkg/solana"
)

// ErrMissingSignature indicates a transaction left a signing pass without a
// signature for one of its required signers. This is a programming error in
// the caller's signer wiring, not a retryable condition.
var ErrMissingSignature = errors.New("missing required signature")

// Signer is a signing capability for a single identity. Implementations that
// need a network round trip (external wallets, remote signing services)
// report it so signing can be ordered around their latency.
type Signer interface {
	PublicKey() ed25519.PublicKey

	// RequiresRoundTrip indicates whether signing involves a network round
	// trip or user interaction.
	RequiresRoundTrip() bool

	Sign(txn *solana.Transaction) error

	// SignMany signs all of the provided transactions in a single call.
	// Implementations backed by a remote service should batch the round trip.
	SignMany(txns []*solana.Transaction) error
}

// LocalSigner signs with an in-memory ed25519 private key.
type LocalSigner struct {
	key ed25519.PrivateKey
}

func NewLocalSigner(key ed25519.PrivateKey) LocalSigner {
	return LocalSigner{key: key}
}

func (s LocalSigner) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

func (s LocalSigner) RequiresRoundTrip() bool {
	return false
}

func (s LocalSigner) Sign(txn *solana.Transaction) error {
	return txn.Sign(s.key)
}

func (s LocalSigner) SignMany(txns []*solana.Transaction) error {
	for _, txn := range txns {
		if err := txn.Sign(s.key); err != nil {
			return err
		}
	}
	return nil
}

// SignedTransaction is a fully signed transaction bound to the blockhash it
// was signed against, ready for submission.
type SignedTransaction struct {
	Transaction solana.Transaction

	// LastValidBlockHeight is the height after which the bound blockhash
	// expires and the transaction can no longer land.
	LastValidBlockHeight uint64
}

// signerEntry tracks which transactions one signer must sign.
type signerEntry struct {
	signer  Signer
	indexes []int
	seen    map[int]struct{}
}

// SignAll builds and signs one transaction per batch against the provided
// blockhash. The fee payer signs every transaction; each instruction's
// declared signers sign the transactions of the batches containing it.
//
// Signing runs in two strictly ordered passes: signers requiring a network
// round trip first, then local signers, each signer receiving all of its
// transactions in one SignMany call. Interactive signers are not kept
// waiting behind fast local signatures, and each remote signer pays for a
// single round trip.
func SignAll(batches []Batch, feePayer Signer, blockhash solana.Blockhash, lastValidBlockHeight uint64) ([]SignedTransaction, error) {
	txns := make([]*solana.Transaction, len(batches))
	for i := range batches {
		txn := batches[i].Transaction()
		txn.SetBlockhash(blockhash)
		txns[i] = &txn
	}

	// Insertion order of the map determines signing order within a pass, so
	// the fee payer always goes first.
	signers := linkedhashmap.New()
	for i := range batches {
		assign(signers, feePayer, i)
		for _, iws := range batches[i].Instructions {
			for _, signer := range iws.Signers {
				assign(signers, signer, i)
			}
		}
	}

	for _, roundTrip := range []bool{true, false} {
		it := signers.Iterator()
		for it.Next() {
			entry := it.Value().(*signerEntry)
			if entry.signer.RequiresRoundTrip() != roundTrip {
				continue
			}

			assigned := make([]*solana.Transaction, len(entry.indexes))
			for j, index := range entry.indexes {
				assigned[j] = txns[index]
			}

			if err := entry.signer.SignMany(assigned); err != nil {
				return nil, errors.Wrapf(err, "signer %s failed to sign", base58.Encode(entry.signer.PublicKey()))
			}
		}
	}

	signed := make([]SignedTransaction, len(txns))
	for i, txn := range txns {
		for j := 0; j < int(txn.Message.Header.NumSignatures); j++ {
			if txn.Signatures[j] == (solana.Signature{}) {
				return nil, errors.Wrapf(ErrMissingSignature, "account %s on transaction %d", base58.Encode(txn.Message.Accounts[j]), i)
			}
		}

		signed[i] = SignedTransaction{
			Transaction:          *txn,
			LastValidBlockHeight: lastValidBlockHeight,
		}
	}

	return signed, nil
}

func assign(signers *linkedhashmap.Map, signer Signer, index int) {
	key := string(signer.PublicKey())

	var entry *signerEntry
	if existing, ok := signers.Get(key); ok {
		entry = existing.(*signerEntry)
	} else {
		entry = &signerEntry{
			signer: signer,
			seen:   make(map[int]struct{}),
		}
		signers.Put(key, entry)
	}

	if _, ok := entry.seen[index]; ok {
		return
	}
	entry.seen[index] = struct{}{}
	entry.indexes = append(entry.indexes, index)
}

// BuildAndSign assembles a single transaction from the provided
// instructions, fetches a blockhash for it, and signs it. The instruction
// set must fit one transaction; use Pack for longer streams.
func BuildAndSign(
	ctx context.Context,
	client solana.Client,
	instructions []InstructionWithSigners,
	feePayer Signer,
	tables []solana.AddressLookupTable,
) (*SignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payerKey := feePayer.PublicKey()
	estimate := EstimateSize(toInstructions(instructions), payerKey, tables)
	if estimate.UniqueKeys > solana.MaxAccountKeys {
		return nil, errors.Errorf("instructions reference %d unique accounts (max %d)", estimate.UniqueKeys, solana.MaxAccountKeys)
	}
	if estimate.Size > solana.MaxTransactionSize {
		return nil, errors.Errorf("instructions serialize to %d bytes (max %d)", estimate.Size, solana.MaxTransactionSize)
	}

	blockhash, lastValidBlockHeight, err := client.GetLatestBlockhashAndHeight()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest blockhash")
	}

	batch := Batch{
		FeePayer:     payerKey,
		Instructions: instructions,
		Tables:       estimate.Tables,
		Size:         estimate.Size,
		UniqueKeys:   estimate.UniqueKeys,
	}

	signed, err := SignAll([]Batch{batch}, feePayer, blockhash, lastValidBlockHeight)
	if err != nil {
		return nil, err
	}

	return &signed[0], nil
}
