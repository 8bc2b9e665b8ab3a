package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"DRaaS-Chain/internal/events"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow session and cancel events published by a running console",
		Long: `Subscribe to the event channel configured under events (redis or rabbitmq)
and print every upload phase change and cancel result until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			driver := strings.ToLower(strings.TrimSpace(opts.cfg.Events.Driver))
			if driver != "redis" && driver != "rabbitmq" {
				return fmt.Errorf("watch needs a shared event channel, events.driver is %q", opts.cfg.Events.Driver)
			}
			bus, err := events.Open(opts.cfg.Events)
			if err != nil {
				return err
			}
			defer bus.Close()

			out := printer{out: cmd.OutOrStdout(), json: opts.isJSON()}
			err = bus.Consume(cmd.Context(), func(_ context.Context, event events.Event) error {
				return printEvent(out, event)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func printEvent(out printer, event events.Event) error {
	if out.json {
		return out.printJSON(event)
	}
	at := event.OccurredAt.Local().Format(time.TimeOnly)
	var line string
	switch event.Kind {
	case events.KindSessionPhase:
		line = fmt.Sprintf("%s session %s %-16s %3d%% %s", at, event.SessionID, event.Phase, event.Progress, event.Message)
	case events.KindDeploymentCancel:
		line = fmt.Sprintf("%s cancel  %s %s", at, event.DeploymentID, event.Message)
	default:
		line = fmt.Sprintf("%s %s %s", at, event.Kind, event.Message)
	}
	if event.ErrorCode != "" {
		line += " [" + event.ErrorCode + "]"
	}
	_, err := fmt.Fprintln(out.out, line)
	return err
}
