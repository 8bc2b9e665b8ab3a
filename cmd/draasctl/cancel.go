package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"DRaaS-Chain/internal/events"
	"DRaaS-Chain/internal/orchestrator"
	"DRaaS-Chain/internal/reconcile"
)

func newCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <deployment-id>",
		Short: "Cancel a pending or running deployment",
		Long: `Ask the agent hosting a deployment to stop it. Deployments that already
reached a terminal status are left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := newSchedulerClient(opts.cfg.Scheduler)
			if err != nil {
				return err
			}
			bus, err := events.Open(opts.cfg.Events)
			if err != nil {
				return err
			}
			defer bus.Close()

			snapshots := reconcile.New(client, reconcile.DefaultInterval)
			// 需要最新快照才能找到部署所在的代理；代理列表拉取失败时退回部署记录中的地址。
			if err := snapshots.Refresh(ctx); err != nil {
				if _, ok := snapshots.Deployment(args[0]); !ok {
					return err
				}
			}
			orch := orchestrator.New(client, nil, snapshots, orchestrator.WithPublisher(bus))
			defer orch.Close()

			result, err := orch.Cancel(ctx, args[0])
			if err != nil {
				return err
			}

			out := printer{out: cmd.OutOrStdout(), json: opts.isJSON()}
			if out.json {
				return out.printJSON(result)
			}
			if result.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "Deployment %s is already %s, nothing to cancel\n", result.DeploymentID, result.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deployment %s: %s\n", result.DeploymentID, result.Status)
			return nil
		},
	}
}
