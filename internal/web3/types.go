package web3

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// PendingPayment is a fee transaction that was accepted by the node but is
// not yet confirmed.
type PendingPayment struct {
	Tag         string
	TxHash      common.Hash
	From        common.Address
	Value       *big.Int
	SubmittedAt time.Time
}

// Receipt is the confirmed outcome of a fee transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// FeeInfo is the administrative state of the fee contract.
type FeeInfo struct {
	Contract common.Address
	Fee      *big.Int
	Owner    common.Address
}

// FeePayer pays the upload fee for a submission identifier. The confirmation
// wait is unbounded; callers bound it through ctx.
type FeePayer interface {
	WalletAvailable() bool
	SubmitFee(ctx context.Context, tag string) (*PendingPayment, error)
	AwaitConfirmation(ctx context.Context, pending *PendingPayment) (Receipt, error)
	Fee(ctx context.Context) (*big.Int, error)
}

// PayFee submits the fee transaction tagged with tag and waits for it to be
// confirmed.
func PayFee(ctx context.Context, payer FeePayer, tag string) (Receipt, error) {
	if payer == nil || !payer.WalletAvailable() {
		return Receipt{}, ErrWalletUnavailable
	}
	pending, err := payer.SubmitFee(ctx, tag)
	if err != nil {
		return Receipt{}, err
	}
	return payer.AwaitConfirmation(ctx, pending)
}

// ShortHash abbreviates a transaction hash for status messages.
func ShortHash(hash common.Hash) string {
	hex := hash.Hex()
	if len(hex) <= 10 {
		return hex
	}
	return fmt.Sprintf("%s...", hex[:10])
}

// PaymentState is what the chain knows about an earlier fee transaction.
type PaymentState int

const (
	// PaymentUnknown means the node has no record of the transaction, for
	// example because it was dropped from the mempool.
	PaymentUnknown PaymentState = iota
	// PaymentPending means the transaction is known but not yet mined.
	PaymentPending
	// PaymentMined means a receipt exists; check Receipt.Succeeded.
	PaymentMined
)

func (s PaymentState) String() string {
	switch s {
	case PaymentPending:
		return "pending"
	case PaymentMined:
		return "mined"
	}
	return "unknown"
}

// PaymentInspector looks up an earlier fee transaction without waiting for it.
type PaymentInspector interface {
	PaymentStatus(ctx context.Context, hash common.Hash) (PaymentState, Receipt, error)
}

// Client is a FeePayer bound to one chain that can also report the contract
// and chain state.
type Client interface {
	FeePayer
	PaymentInspector
	FeeInfo(ctx context.Context) (FeeInfo, error)
	Balance(ctx context.Context) (*big.Int, error)
	ChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
