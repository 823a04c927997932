package chain

import (
	"context"
	"encoding/base64"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	apperr "github.com/obverse/obverse/internal/errors"
)

// SendRPC is the subset of *rpc.Client used to submit transactions.
type SendRPC interface {
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Broadcaster signs aggregator-built transactions and submits them. Submission
// is never retried here; the caller decides what a failed send means.
type Broadcaster struct {
	rpc     SendRPC
	timeout time.Duration
}

// NewBroadcaster builds a Broadcaster; timeout bounds the send call.
func NewBroadcaster(client SendRPC, timeout time.Duration) *Broadcaster {
	return &Broadcaster{rpc: client, timeout: timeout}
}

// DecodeTransaction parses a base64 wire transaction.
func DecodeTransaction(payload string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeBroadcast, "decode transaction payload", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeBroadcast, "parse transaction payload", err)
	}
	return tx, nil
}

// SignSwap decodes payload and signs it with kp. The keypair must be the fee
// payer of the transaction.
func (b *Broadcaster) SignSwap(payload string, kp *Keypair) (*solana.Transaction, error) {
	tx, err := DecodeTransaction(payload)
	if err != nil {
		return nil, err
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(kp.PublicKey()) {
		return nil, apperr.New(apperr.CodeBroadcast, "transaction fee payer is not the wallet")
	}

	signer := kp.PublicKey()
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer) {
			return kp.privateKey()
		}
		return nil
	}); err != nil {
		return nil, apperr.Wrap(apperr.CodeBroadcast, "sign transaction", err)
	}
	return tx, nil
}

// Send submits a signed transaction with preflight simulation enabled.
func (b *Broadcaster) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	sig, err := b.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if ctx.Err() != nil {
			return solana.Signature{}, apperr.Wrap(apperr.CodeTimeout, "send transaction", err)
		}
		return solana.Signature{}, apperr.Wrap(apperr.CodeBroadcast, "send transaction", err)
	}
	return sig, nil
}
