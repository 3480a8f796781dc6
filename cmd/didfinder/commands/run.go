package commands

import (
	"github.com/spf13/cobra"

	"github.com/ssl-hep/ServiceX-DID/app"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume DID requests until interrupted",
		Long: `Connect to the request queue and serve DID lookups until SIGINT or
SIGTERM. Each request is acknowledged once it has been handled, whether or
not the lookup succeeded.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg, nil)
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	ctx := cmd.Context()
	resolver, sorter := newResolver(ctx, cfg, log)

	a, err := app.New(cfg, resolver, app.WithLogger(log), app.WithSorter(sorter))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warnw("Failed to release replica database", logger.FieldError, err)
		}
	}()
	return a.Run(ctx)
}
