package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"DRaaS-Chain/internal/scheduling"
)

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the compute agents known to the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newSchedulerClient(opts.cfg.Scheduler)
			if err != nil {
				return err
			}
			agents, err := client.ListAgents(cmd.Context())
			if err != nil {
				return err
			}

			out := printer{out: cmd.OutOrStdout(), json: opts.isJSON()}
			list := sortedAgents(agents)
			if out.json {
				return out.printJSON(list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agents registered")
				return nil
			}

			now := time.Now()
			rows := make([][]string, 0, len(list))
			for _, agent := range list {
				rows = append(rows, []string{
					agent.ID,
					agent.IP,
					string(agent.State),
					fmt.Sprintf("%.1f%%", agent.CPUPercent),
					fmt.Sprintf("%.0f MB", agent.MemoryMB),
					fmt.Sprintf("%.0f", agent.Reputation),
					formatLastSeen(agent, now),
				})
			}
			if err := out.printTable([]string{"ID", "Address", "State", "CPU", "Memory", "Reputation", "Last Seen"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal agents: %d\n", len(list))
			return nil
		},
	}
}

func newDeploymentsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deployments",
		Short: "List deployments and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newSchedulerClient(opts.cfg.Scheduler)
			if err != nil {
				return err
			}
			deployments, err := client.ListDeployments(cmd.Context())
			if err != nil {
				return err
			}

			out := printer{out: cmd.OutOrStdout(), json: opts.isJSON()}
			list := sortedDeployments(deployments)
			if out.json {
				return out.printJSON(list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No deployments")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, dep := range list {
				rows = append(rows, []string{
					dep.ID,
					dep.AgentID,
					string(dep.Status),
					orDash(dep.Image),
					formatPorts(dep.MappedPorts),
				})
			}
			if err := out.printTable([]string{"ID", "Agent", "Status", "Image", "Ports"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal deployments: %d\n", len(list))
			return nil
		},
	}
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <deployment-id>",
		Short: "Show the status, ports and logs of one deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSchedulerClient(opts.cfg.Scheduler)
			if err != nil {
				return err
			}
			detail, err := client.FetchDeploymentDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printDetail(printer{out: cmd.OutOrStdout(), json: opts.isJSON()}, detail)
		},
	}
}

func printDetail(out printer, detail scheduling.DeploymentDetail) error {
	if out.json {
		return out.printJSON(detail)
	}
	if err := out.printFields([][2]string{
		{"Deployment", detail.DeploymentID},
		{"Status", string(detail.Status)},
		{"Ports", formatPorts(detail.MappedPorts)},
	}); err != nil {
		return err
	}
	logs := detail.Logs
	if logs == "" {
		logs = "(no logs yet)"
	}
	_, err := fmt.Fprintf(out.out, "\n%s\n", logs)
	return err
}
