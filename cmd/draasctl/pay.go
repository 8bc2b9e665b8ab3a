package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	xerrors "DRaaS-Chain/internal/errors"
	"DRaaS-Chain/internal/journal"
	"DRaaS-Chain/internal/observability/metrics"
	"DRaaS-Chain/internal/web3"
	"DRaaS-Chain/pkg/logger"
)

func newPayCmd(opts *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		confirm bool
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "pay <session-id>",
		Short: "Settle the fee of an unpaid submission",
		Long: `Pay the upload fee for a submission listed by "draasctl unpaid". The fee
transaction is tagged with the deployment identifier the scheduler returned and
the journal entry is marked settled once it confirms.

When the session already sent a fee transaction, its on-chain outcome is checked
first: a confirmed payment settles the entry without paying again, a pending one
is left alone, and only a reverted one is paid again. Use --force to pay again
for a transaction the node no longer knows about.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeout <= 0 {
				timeout = opts.cfg.Web3.PaymentTimeout()
			}
			ctx := cmd.Context()
			store, err := journal.Open(ctx, opts.cfg.Journal)
			if err != nil {
				return err
			}
			defer store.Close()

			var approve web3.Approver
			if confirm {
				approve = promptApprover(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			registry, client, err := openChain(ctx, opts.cfg.Web3, approve)
			if err != nil {
				return err
			}
			defer registry.Close()

			entry, err := settle(ctx, store, client, args[0], settleOptions{timeout: timeout, force: force})
			if err != nil {
				return err
			}

			out := printer{out: cmd.OutOrStdout(), json: opts.isJSON()}
			if out.json {
				return out.printJSON(entry)
			}
			return out.printFields([][2]string{
				{"Session", entry.SessionID},
				{"Deployment", entry.DeploymentID},
				{"Phase", entry.Phase},
				{"Transaction", entry.TxHash},
				{"Fee (wei)", orDash(entry.ValueWei)},
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the fee confirmation (default web3.payment_timeout_seconds)")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "ask before signing the fee transaction")
	cmd.Flags().BoolVar(&force, "force", false, "pay again when the earlier fee transaction is unknown to the node")
	return cmd
}

type settleOptions struct {
	timeout time.Duration
	// force 允许在节点不认识先前交易（已被丢弃）时重新付费。
	force bool
}

// settle 为一条未支付的日志补缴费用并把结果写回日志。
func settle(ctx context.Context, store journal.Store, payer web3.FeePayer, sessionID string, opts settleOptions) (*journal.Entry, error) {
	entry, err := store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !entry.Unpaid() {
		return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("session %s is %s, nothing to pay", entry.SessionID, entry.Phase))
	}
	if payer == nil || !payer.WalletAvailable() {
		return nil, web3.ErrWalletUnavailable
	}

	// 会话已经发出过费用交易时先核对链上结果，避免重复付费。
	if entry.TxHash != "" {
		receipt, paid, err := checkEarlierPayment(ctx, payer, entry, opts.force)
		if err != nil {
			return nil, err
		}
		if paid {
			return markSettled(ctx, store, entry, receipt)
		}
	}

	if fee, err := payer.Fee(ctx); err == nil && fee != nil {
		entry.ValueWei = fee.String()
	}

	payCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	started := time.Now()

	pending, err := payer.SubmitFee(payCtx, entry.DeploymentID)
	if err != nil {
		return nil, recordFailure(ctx, store, entry, web3.ClassifySendError(err))
	}
	// 交易一经发出就写入日志，确认失败后下一次补缴能找到它。
	entry.TxHash = pending.TxHash.Hex()
	entry.Phase = journal.PhaseConfirming
	entry.ErrorCode = ""
	entry.Message = "Waiting for transaction confirmation..."
	if err := store.Record(context.WithoutCancel(ctx), *entry); err != nil {
		logger.Named("pay").Warn("journal record failed", slog.String("session_id", entry.SessionID), slog.Any("error", err))
	}

	receipt, err := payer.AwaitConfirmation(payCtx, pending)
	if err == nil && !receipt.Succeeded() {
		err = web3.RevertedError(fmt.Errorf("transaction %s reverted", receipt.TxHash.Hex()))
	}
	if err != nil {
		if payCtx.Err() != nil && !errors.Is(err, context.Canceled) {
			err = web3.TimeoutError(err)
		}
		return nil, recordFailure(ctx, store, entry, err)
	}
	metrics.ObserveConfirmation(time.Since(started))
	return markSettled(ctx, store, entry, receipt)
}

// checkEarlierPayment 查询日志中已记录的交易。paid 为 true 表示该交易已成功确认。
func checkEarlierPayment(ctx context.Context, payer web3.FeePayer, entry *journal.Entry, force bool) (web3.Receipt, bool, error) {
	log := logger.Named("pay").With(slog.String("session_id", entry.SessionID), slog.String("tx_hash", entry.TxHash))
	inspector, ok := payer.(web3.PaymentInspector)
	if !ok {
		return web3.Receipt{}, false, xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("session %s already sent fee transaction %s and its status cannot be checked", entry.SessionID, entry.TxHash))
	}

	state, receipt, err := inspector.PaymentStatus(ctx, common.HexToHash(entry.TxHash))
	if err != nil {
		return web3.Receipt{}, false, err
	}
	switch state {
	case web3.PaymentMined:
		if receipt.Succeeded() {
			log.Info("earlier fee transaction already confirmed")
			return receipt, true, nil
		}
		log.Warn("earlier fee transaction reverted, paying again")
		return web3.Receipt{}, false, nil
	case web3.PaymentPending:
		return web3.Receipt{}, false, xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("fee transaction %s is still pending, retry once it is mined", entry.TxHash))
	}
	if !force {
		return web3.Receipt{}, false, xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("fee transaction %s is unknown to the node, rerun with --force if it was dropped", entry.TxHash))
	}
	log.Warn("earlier fee transaction unknown to the node, paying again")
	return web3.Receipt{}, false, nil
}

func recordFailure(ctx context.Context, store journal.Store, entry *journal.Entry, err error) error {
	entry.Phase = journal.PhaseFailed
	entry.ErrorCode = string(xerrors.CodeOf(err))
	entry.Message = xerrors.MessageOf(err)
	entry.UpdatedAt = time.Now().UTC()
	if recErr := store.Record(context.WithoutCancel(ctx), *entry); recErr != nil {
		logger.Named("pay").Warn("journal record failed", slog.String("session_id", entry.SessionID), slog.Any("error", recErr))
	}
	return err
}

func markSettled(ctx context.Context, store journal.Store, entry *journal.Entry, receipt web3.Receipt) (*journal.Entry, error) {
	entry.Phase = journal.PhaseSettled
	entry.Progress = 100
	entry.TxHash = receipt.TxHash.Hex()
	entry.Message = "Fee settled. Transaction hash: " + web3.ShortHash(receipt.TxHash)
	entry.ErrorCode = ""
	entry.UpdatedAt = time.Now().UTC()
	if err := store.Record(context.WithoutCancel(ctx), *entry); err != nil {
		return nil, err
	}
	logger.Audit().Info("upload fee settled",
		slog.String("session_id", entry.SessionID),
		slog.String("deployment_id", entry.DeploymentID),
		slog.String("tx_hash", entry.TxHash),
		slog.String("value_wei", entry.ValueWei))
	return entry, nil
}
