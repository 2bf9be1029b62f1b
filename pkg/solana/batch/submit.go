package batch

import (
	"context"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kartapay/soltx/pkg/solana"
	compute_budget "github.com/kartapay/soltx/pkg/solana/computebudget"
)

const (
	// DefaultResendInterval is how often a submitted transaction is
	// re-broadcast while awaiting confirmation.
	DefaultResendInterval = 3 * time.Second

	// DefaultMaxResends caps the number of re-broadcasts per submission.
	DefaultMaxResends = 10

	// Block heights only need to be rechecked every few status polls.
	heightCheckInterval = 4
)

// ErrBlockhashExpired indicates the chain moved past the transaction's last
// valid block height without the signature being observed. The transaction
// can no longer land and must be rebuilt against a fresh blockhash.
var ErrBlockhashExpired = errors.New("blockhash expired before confirmation")

// SendOptions configures transaction submission.
type SendOptions struct {
	// Commitment to await before the submission is considered terminal.
	// Defaults to confirmed.
	Commitment solana.Commitment

	// ResendInterval between re-broadcasts. Defaults to
	// DefaultResendInterval.
	ResendInterval time.Duration

	// MaxResends caps re-broadcasts. Defaults to DefaultMaxResends.
	MaxResends uint
}

func (o SendOptions) withDefaults() SendOptions {
	if o.Commitment.Commitment == "" {
		o.Commitment = solana.CommitmentConfirmed
	}
	if o.ResendInterval <= 0 {
		o.ResendInterval = DefaultResendInterval
	}
	if o.MaxResends == 0 {
		o.MaxResends = DefaultMaxResends
	}
	return o
}

// SendResult is the terminal outcome of one submitted transaction. Err is
// set when the transaction confirmed but failed on chain; it is a result
// value, not a transport failure.
type SendResult struct {
	Signature solana.Signature
	Err       *solana.TransactionError
}

// Send submits a signed transaction and blocks until it reaches the
// requested commitment, its blockhash expires, or the context is cancelled.
//
// The raw bytes are re-broadcast on a timer until a terminal outcome, which
// is safe against double spends since identical signed bytes are idempotent
// at the network layer. On-chain execution failures are returned inside the
// SendResult; only transport and expiry failures are returned as errors.
func Send(ctx context.Context, client solana.Client, tx SignedTransaction, opts SendOptions) (SendResult, error) {
	opts = opts.withDefaults()

	// Legacy transactions are sent as-is for compatibility with externally
	// produced payloads.
	if tx.Transaction.Message.Version != solana.MessageVersionLegacy {
		if err := tx.Transaction.VerifySignatures(); err != nil {
			return SendResult{}, err
		}
	}

	raw := tx.Transaction.Marshal()

	sig, err := client.SendRawTransaction(raw)
	if err != nil {
		if txErr, ok := err.(*solana.TransactionError); ok {
			copy(sig[:], tx.Transaction.Signature())
			return SendResult{Signature: sig, Err: txErr}, nil
		}
		return SendResult{}, errors.Wrap(err, "failed to send transaction")
	}

	resendCtx, cancelResend := context.WithCancel(ctx)
	defer cancelResend()
	go resend(resendCtx, client, raw, sig, opts)

	status, err := awaitConfirmation(ctx, client, sig, opts.Commitment, tx.LastValidBlockHeight)
	if err != nil {
		return SendResult{}, err
	}

	result := SendResult{Signature: sig}
	if status.ErrorResult != nil {
		result.Err = status.ErrorResult
	}
	return result, nil
}

// resend periodically re-broadcasts the raw transaction until cancelled or
// the resend budget is spent.
func resend(ctx context.Context, client solana.Client, raw []byte, sig solana.Signature, opts SendOptions) {
	log := logrus.StandardLogger().WithFields(logrus.Fields{
		"type":      "solana/batch",
		"signature": base58.Encode(sig[:]),
	})

	ticker := time.NewTicker(opts.ResendInterval)
	defer ticker.Stop()

	for i := uint(0); i < opts.MaxResends; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := client.SendRawTransaction(raw); err != nil {
			log.WithError(err).Debug("transaction resend failed")
		}
	}
}

// awaitConfirmation polls the signature status until the requested
// commitment is reached or the blockhash expires.
func awaitConfirmation(ctx context.Context, client solana.Client, sig solana.Signature, commitment solana.Commitment, lastValidBlockHeight uint64) (*solana.SignatureStatus, error) {
	ticker := time.NewTicker(solana.PollRate)
	defer ticker.Stop()

	for poll := 0; ; poll++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		statuses, err := client.GetSignatureStatuses([]solana.Signature{sig})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get signature status")
		}

		status := statuses[0]
		if status != nil {
			if status.ErrorResult != nil {
				return status, nil
			}

			switch commitment {
			case solana.CommitmentProcessed:
				return status, nil
			case solana.CommitmentFinalized:
				if status.Finalized() {
					return status, nil
				}
			default:
				if status.Confirmed() {
					return status, nil
				}
			}
		}

		if poll%heightCheckInterval == 0 {
			height, err := client.GetBlockHeight()
			if err != nil {
				return nil, errors.Wrap(err, "failed to get block height")
			}
			if height > lastValidBlockHeight {
				return nil, ErrBlockhashExpired
			}
		}
	}
}

// ComputeBudgetPolicy configures the compute budget scaffolding attached to
// every batch. The unit limit is sized from simulation rather than fixed.
type ComputeBudgetPolicy struct {
	// ComputeUnitPrice is the priority fee in micro-lamports per compute
	// unit. Zero omits the price instruction.
	ComputeUnitPrice uint64

	// SafetyMargin scales the simulated unit consumption to leave headroom.
	// Defaults to 1.1.
	SafetyMargin float64
}

// SubmitParams describes a full assembly and submission run.
type SubmitParams struct {
	Instructions []InstructionWithSigners
	FeePayer     Signer

	// Before and After are pinned to the start and end of every batch.
	Before []InstructionWithSigners
	After  []InstructionWithSigners

	Tables          []solana.AddressLookupTable
	MaxInstructions int

	ComputeBudget *ComputeBudgetPolicy
	SendOptions   SendOptions
}

// Assembler runs the full pipeline: pack a stream into batches, size each
// batch's compute budget by simulation, sign everything in one two-phase
// pass, then submit and confirm every batch concurrently.
type Assembler struct {
	log    *logrus.Entry
	client solana.Client
}

func NewAssembler(client solana.Client) *Assembler {
	return &Assembler{
		log:    logrus.StandardLogger().WithField("type", "solana/batch/assembler"),
		client: client,
	}
}

// Submit packs, signs, sends and confirms the instruction stream. One result
// is returned per batch, in batch order. Batches are independent: one
// batch's on-chain failure does not stop its siblings.
func (a *Assembler) Submit(ctx context.Context, params SubmitParams) ([]SendResult, error) {
	before := params.Before
	if params.ComputeBudget != nil {
		// Placeholder limit with a fixed-width payload, rewritten in place
		// once simulation reports actual consumption. Keeping the data
		// length constant preserves every batch's size estimate.
		scaffolding := []InstructionWithSigners{
			{Instruction: compute_budget.SetComputeUnitLimit(compute_budget.MaxComputeUnitLimit)},
		}
		if params.ComputeBudget.ComputeUnitPrice > 0 {
			scaffolding = append(scaffolding, InstructionWithSigners{
				Instruction: compute_budget.SetComputeUnitPrice(params.ComputeBudget.ComputeUnitPrice),
			})
		}
		before = append(scaffolding, before...)
	}

	payerKey := params.FeePayer.PublicKey()
	batches, err := Pack(params.Instructions, payerKey, before, params.After, params.Tables, params.MaxInstructions)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, nil
	}

	a.log.WithField("batches", len(batches)).Debug("packed instruction stream")

	if params.ComputeBudget != nil {
		group, groupCtx := errgroup.WithContext(ctx)
		for i := range batches {
			i := i
			group.Go(func() error {
				return a.attachComputeBudget(groupCtx, &batches[i], *params.ComputeBudget)
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
	}

	blockhash, lastValidBlockHeight, err := a.client.GetLatestBlockhashAndHeight()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest blockhash")
	}

	signed, err := SignAll(batches, params.FeePayer, blockhash, lastValidBlockHeight)
	if err != nil {
		return nil, err
	}

	results := make([]SendResult, len(signed))
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range signed {
		i := i
		group.Go(func() error {
			result, err := Send(groupCtx, a.client, signed[i], params.SendOptions)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// attachComputeBudget simulates the batch and rewrites its placeholder unit
// limit to the simulated consumption plus margin.
func (a *Assembler) attachComputeBudget(ctx context.Context, b *Batch, policy ComputeBudgetPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := b.Transaction()
	simulation, err := a.client.SimulateTransaction(txn)
	if err != nil {
		return errors.Wrap(err, "failed to simulate transaction")
	}
	if simulation.Err != nil {
		// The batch is expected to fail on chain. Keep the maximum limit
		// and let submission surface the structured failure.
		a.log.WithField("transaction_error", simulation.Err).Warn("batch simulation failed")
		return nil
	}

	margin := policy.SafetyMargin
	if margin <= 0 {
		margin = 1.1
	}

	limit := uint32(float64(simulation.UnitsConsumed) * margin)
	if limit == 0 || limit > compute_budget.MaxComputeUnitLimit {
		limit = compute_budget.MaxComputeUnitLimit
	}

	// Batches can share the placeholder's backing array, so the rewritten
	// payload has to be a fresh slice.
	b.Instructions[0].Instruction.Data = compute_budget.SetComputeUnitLimit(limit).Data
	return nil
}
