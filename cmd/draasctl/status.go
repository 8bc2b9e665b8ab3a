package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"DRaaS-Chain/sdk/go/draas"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		console string
		wait    bool
		ack     bool
		reset   bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the upload session of a running console",
		Long: `Query the HTTP API of a console started with "draasctl serve" and print its
upload session. With --wait the command polls until the session settles or fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if console == "" {
				console = consoleURL(opts.cfg.Server.Address)
			}
			client := draas.NewClient(console, nil)
			client.SetAccessToken(opts.cfg.Server.APIToken())
			ctx := cmd.Context()

			var (
				session draas.Session
				err     error
			)
			switch {
			case reset:
				if err = client.ResetState(ctx); err == nil {
					session, err = client.Session(ctx)
				}
			case ack:
				session, err = client.Acknowledge(ctx)
			case wait:
				session, err = client.WaitSession(ctx, time.Second)
			default:
				session, err = client.Session(ctx)
			}
			if err != nil {
				return err
			}

			out := printer{out: cmd.OutOrStdout(), json: opts.isJSON()}
			if out.json {
				return out.printJSON(session)
			}
			return out.printFields([][2]string{
				{"Session", orDash(session.ID)},
				{"File", orDash(session.FileName)},
				{"Phase", session.Phase},
				{"Progress", strings.TrimSpace(strings.Repeat("#", session.Progress/10) + " " + itoaPercent(session.Progress))},
				{"Deployment", orDash(session.SubmissionID)},
				{"Transaction", orDash(session.TxHash)},
				{"Status", orDash(session.StatusMessage)},
				{"Error", orDash(session.ErrorCode)},
			})
		},
	}
	cmd.Flags().StringVar(&console, "console", "", "console API URL (default http://<server.address>)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the session settles or fails")
	cmd.Flags().BoolVar(&ack, "ack", false, "dismiss a finished session")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the console's snapshots, selection and finished session")
	return cmd
}

func consoleURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
