package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"DRaaS-Chain/internal/config"
	"DRaaS-Chain/pkg/logger"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// rootOptions carries the global flags and the configuration they resolve to.
type rootOptions struct {
	configPath string
	scheduler  string
	output     string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "draasctl",
		Short: "Console for the DRaaS deployment network",
		Long: `draasctl submits code packages to the DRaaS scheduler, pays the upload fee
on chain and inspects the agents and deployments the scheduler knows about.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.load()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file, JSON or YAML (default $DRAAS_CONFIG)")
	root.PersistentFlags().StringVar(&opts.scheduler, "scheduler", "", "scheduler API URL (overrides scheduler.base_url)")
	root.PersistentFlags().StringVar(&opts.output, "output", outputTable, "output format: table or json")

	root.AddCommand(
		newServeCmd(opts),
		newAgentsCmd(opts),
		newDeploymentsCmd(opts),
		newLogsCmd(opts),
		newUploadCmd(opts),
		newCancelCmd(opts),
		newFeeCmd(opts),
		newUnpaidCmd(opts),
		newPayCmd(opts),
		newWatchCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

func (o *rootOptions) load() error {
	o.output = strings.ToLower(strings.TrimSpace(o.output))
	if o.output != outputTable && o.output != outputJSON {
		return fmt.Errorf("unsupported output format %q: use table or json", o.output)
	}

	path := o.configPath
	if path == "" {
		path = os.Getenv("DRAAS_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if o.scheduler != "" {
		cfg.Scheduler.BaseURL = o.scheduler
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:       cfg.Log.AuditPath != "",
			Path:          cfg.Log.AuditPath,
			MaxSizeMB:     cfg.Log.AuditMaxSizeMB,
			RetentionDays: cfg.Log.AuditRetentionDays,
		},
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	o.cfg = cfg
	return nil
}

func (o *rootOptions) isJSON() bool {
	return o.output == outputJSON
}
