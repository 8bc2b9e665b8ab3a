package web3

import (
	stdErrors "errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	xerrors "DRaaS-Chain/internal/errors"
)

const (
	// CodeWalletUnavailable means no signing capability is configured.
	CodeWalletUnavailable xerrors.Code = "WALLET_UNAVAILABLE"
	// CodeTransactionRejected means the signer declined or the node refused
	// the transaction.
	CodeTransactionRejected xerrors.Code = "TRANSACTION_REJECTED"
	// CodeTransactionReverted means contract execution failed.
	CodeTransactionReverted xerrors.Code = "TRANSACTION_REVERTED"
	// CodeTransactionTimeout means confirmation did not arrive in time.
	CodeTransactionTimeout xerrors.Code = "TRANSACTION_TIMEOUT"
	// CodeChainUnavailable means a read from the node failed before anything
	// was signed.
	CodeChainUnavailable xerrors.Code = "CHAIN_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeWalletUnavailable, xerrors.Attributes{
		Message:  "No wallet connected. Configure a signing key and retry.",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTransactionRejected, xerrors.Attributes{
		Message:  "Smart contract interaction failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTransactionReverted, xerrors.Attributes{
		Message:  "Smart contract interaction failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTransactionTimeout, xerrors.Attributes{
		Message:   "Transaction confirmation timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeChainUnavailable, xerrors.Attributes{
		Message:   "Blockchain node unavailable, retry later",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

var (
	// ErrWalletUnavailable is returned when no wallet can sign.
	ErrWalletUnavailable = xerrors.New(CodeWalletUnavailable, "No wallet connected. Configure a signing key and retry.")
	// ErrSigningDeclined is returned by a signer whose approver said no.
	ErrSigningDeclined = stdErrors.New("signing declined by user")
)

// RejectedError wraps a declined signature or a node refusal. The node's own
// message is kept when there is one.
func RejectedError(cause error) error {
	return xerrors.Wrap(CodeTransactionRejected, cause, NodeMessage(cause))
}

// RevertedError wraps an on-chain execution failure.
func RevertedError(cause error) error {
	return xerrors.Wrap(CodeTransactionReverted, cause, NodeMessage(cause))
}

// ChainError wraps a failed read such as eth_chainId or fee().
func ChainError(cause error) error {
	return xerrors.Wrap(CodeChainUnavailable, cause, "")
}

// nodeMarkers 是节点错误文本的固定前缀，bind 包以 %v 包装时只能靠文本识别。
var nodeMarkers = []string{
	"execution reverted",
	"insufficient funds",
	"nonce too low",
	"replacement transaction underpriced",
	"intrinsic gas too low",
	"invalid chain id",
}

// NodeMessage returns the message a JSON-RPC node attached to err, decoding
// Error(string) revert data into its reason. It returns "" for errors that
// did not come from the node.
func NodeMessage(err error) string {
	if err == nil {
		return ""
	}
	var rpcErr rpc.Error
	if !stdErrors.As(err, &rpcErr) {
		text := err.Error()
		lower := strings.ToLower(text)
		for _, marker := range nodeMarkers {
			if i := strings.Index(lower, marker); i >= 0 {
				return strings.TrimSpace(text[i:])
			}
		}
		return ""
	}
	msg := strings.TrimSpace(rpcErr.Error())
	var dataErr rpc.DataError
	if stdErrors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil && reason != "" {
					return "execution reverted: " + reason
				}
			}
		}
	}
	return msg
}

// TimeoutError wraps an expired confirmation wait.
func TimeoutError(cause error) error {
	return xerrors.Wrap(CodeTransactionTimeout, cause, "")
}

// ClassifySendError maps a failure to build, sign or broadcast a fee
// transaction onto the ledger error codes.
func ClassifySendError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return RevertedError(err)
	}
	return RejectedError(err)
}
