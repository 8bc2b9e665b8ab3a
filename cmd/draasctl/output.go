package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"DRaaS-Chain/internal/scheduling"
)

// printer renders command results either as a table or as indented JSON.
type printer struct {
	out  io.Writer
	json bool
}

func (p printer) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

func (p printer) printTable(header []string, rows [][]string) error {
	table := tablewriter.NewWriter(p.out)
	table.Header(toCells(header)...)
	for _, row := range rows {
		if err := table.Append(toCells(row)...); err != nil {
			return err
		}
	}
	return table.Render()
}

// printFields renders a single record as a two column table.
func (p printer) printFields(fields [][2]string) error {
	rows := make([][]string, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, []string{f[0], f[1]})
	}
	return p.printTable([]string{"Field", "Value"}, rows)
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func sortedAgents(agents map[string]scheduling.Agent) []scheduling.Agent {
	out := make([]scheduling.Agent, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedDeployments(deployments map[string]scheduling.Deployment) []scheduling.Deployment {
	out := make([]scheduling.Deployment, 0, len(deployments))
	for _, dep := range deployments {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// formatPorts renders a port map as "80/tcp->32768" pairs.
func formatPorts(ports scheduling.PortMap) string {
	if len(ports) == 0 {
		return "-"
	}
	var parts []string
	for _, port := range ports.Ports() {
		for _, binding := range ports[port] {
			parts = append(parts, fmt.Sprintf("%s->%s", port, binding.HostPort))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func formatLastSeen(agent scheduling.Agent, now time.Time) string {
	if agent.LastSeen <= 0 {
		return "never"
	}
	ago := now.Sub(agent.LastSeenTime()).Truncate(time.Second)
	if ago < 0 {
		ago = 0
	}
	return ago.String() + " ago"
}

var weiPerEther = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

// formatEther renders a wei amount in ether without trailing zeros.
func formatEther(wei *big.Int) string {
	if wei == nil {
		return "-"
	}
	ether := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther)
	text := ether.Text('f', 18)
	text = strings.TrimRight(text, "0")
	return strings.TrimSuffix(text, ".")
}

func itoaPercent(progress int) string {
	return fmt.Sprintf("%d%%", progress)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
