package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"DRaaS-Chain/internal/events"
	"DRaaS-Chain/internal/journal"
	"DRaaS-Chain/internal/orchestrator"
	"DRaaS-Chain/internal/reconcile"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/internal/web3"
)

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var (
		runtime string
		timeout time.Duration
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a code package and pay the upload fee",
		Long: `Submit a code package to the scheduler, pay the upload fee on chain and wait
for the fee transaction to be confirmed. Progress is printed as the session
moves through its phases.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read code package: %w", err)
			}
			if timeout <= 0 {
				timeout = opts.cfg.Web3.PaymentTimeout()
			}
			upload := scheduling.Upload{
				FileName: filepath.Base(args[0]),
				Content:  content,
				Type:     scheduling.Runtime(runtime),
			}
			var approve web3.Approver
			if confirm {
				approve = promptApprover(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			return runUpload(cmd.Context(), opts, cmd.OutOrStdout(), upload, timeout, approve)
		},
	}
	cmd.Flags().StringVar(&runtime, "type", string(scheduling.RuntimePython), "runtime of the package: "+runtimeList())
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the fee confirmation (default web3.payment_timeout_seconds)")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "ask before signing the fee transaction, declining fails the upload")
	return cmd
}

func runUpload(ctx context.Context, opts *rootOptions, w io.Writer, upload scheduling.Upload, timeout time.Duration, approve web3.Approver) error {
	cfg := opts.cfg
	client, err := newSchedulerClient(cfg.Scheduler)
	if err != nil {
		return err
	}
	registry, payer, err := openChain(ctx, cfg.Web3, approve)
	if err != nil {
		return err
	}
	defer registry.Close()

	store, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, err := events.Open(cfg.Events)
	if err != nil {
		return err
	}
	publisher := events.NewFanout(bus, &progressPrinter{out: w, quiet: opts.isJSON()})
	defer publisher.Close()

	snapshots := reconcile.New(client, reconcile.DefaultInterval)
	orch := orchestrator.New(client, payer, snapshots,
		orchestrator.WithJournal(store),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithPaymentTimeout(timeout),
	)
	defer orch.Close()

	session, uploadErr := orch.RequestUpload(ctx, upload)
	out := printer{out: w, json: opts.isJSON()}
	if out.json {
		if err := out.printJSON(session); err != nil {
			return err
		}
	} else if session.Phase != orchestrator.PhaseIdle {
		fmt.Fprintln(w)
		if err := out.printFields(sessionFields(session)); err != nil {
			return err
		}
	}
	return uploadErr
}

func sessionFields(session orchestrator.Session) [][2]string {
	return [][2]string{
		{"Session", orDash(session.ID)},
		{"File", orDash(session.FileName)},
		{"Runtime", orDash(session.Runtime)},
		{"Phase", string(session.Phase)},
		{"Deployment", orDash(session.SubmissionID)},
		{"Transaction", orDash(session.TxHash)},
		{"Fee (wei)", orDash(session.ValueWei)},
		{"Status", orDash(session.StatusMessage)},
	}
}

func runtimeList() string {
	names := make([]string, 0, len(scheduling.Runtimes()))
	for _, rt := range scheduling.Runtimes() {
		names = append(names, string(rt))
	}
	return strings.Join(names, ", ")
}

// progressPrinter is an events.Publisher that prints session phases as they
// happen.
type progressPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
}

func (p *progressPrinter) Publish(_ context.Context, event events.Event) error {
	if p.quiet || event.Kind != events.KindSessionPhase {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.out, "[%3d%%] %s\n", event.Progress, event.Message)
	return err
}

func (p *progressPrinter) Close() error { return nil }
