package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"DRaaS-Chain/internal/journal"
)

func newUnpaidCmd(opts *rootOptions) *cobra.Command {
	var (
		all   bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "unpaid",
		Short: "List submissions whose upload fee was never settled",
		Long: `List journal entries for code packages the scheduler accepted but whose fee
transaction failed or never confirmed. Use "draasctl pay <session-id>" to settle one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := journal.Open(ctx, opts.cfg.Journal)
			if err != nil {
				return err
			}
			defer store.Close()

			var entries []journal.Entry
			if all {
				entries, err = store.List(ctx, limit)
			} else {
				entries, err = store.Unpaid(ctx)
			}
			if err != nil {
				return err
			}
			if !all {
				// 仍在确认等待期内的条目可能属于正在运行的控制台。
				entries = journal.Orphaned(entries, "", time.Now().UTC(), opts.cfg.Web3.PaymentTimeout())
			}
			if entries == nil {
				entries = []journal.Entry{}
			}

			out := printer{out: cmd.OutOrStdout(), json: opts.isJSON()}
			if out.json {
				return out.printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No unpaid submissions")
				return nil
			}
			return out.printTable([]string{"Session", "Deployment", "File", "Phase", "Progress", "Error", "Updated"}, journalRows(entries))
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every recent session, not only unpaid ones")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sessions listed with --all")
	return cmd
}

func journalRows(entries []journal.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.SessionID,
			orDash(entry.DeploymentID),
			orDash(entry.FileName),
			entry.Phase,
			strconv.Itoa(entry.Progress) + "%",
			orDash(entry.ErrorCode),
			entry.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}
