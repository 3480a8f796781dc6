package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssl-hep/ServiceX-DID/app"
	"github.com/ssl-hep/ServiceX-DID/display"
	"github.com/ssl-hep/ServiceX-DID/logger"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <did>",
		Short: "Resolve one DID and print what would be reported",
		Long: `Resolve a DID without a broker or ServiceX instance. The reports that
would be sent to ServiceX are printed instead: pretty-printed by default,
or as one JSON event per line with --json.`,
		Example: `  didfinder resolve "mc23/ttbar?files=10&get=available" --finder-arg root=/data -v`,
		Args:    cobra.ExactArgs(1),
		RunE:    runResolve,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateLookup(); err != nil {
		return err
	}

	// Logs go to stderr so that stdout carries only the report.
	log, err := newLogger(cmd, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Sync(log)

	ctx := cmd.Context()
	resolver, sorter := newResolver(ctx, cfg, log)
	defer sorter.Close()

	a, err := app.New(cfg, resolver, app.WithLogger(log))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	jsonOutput := display.ShouldOutputJSON(cmd)
	var rep display.Reporter
	if jsonOutput {
		rep = display.NewJSONReporter(out)
	} else {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		rep = display.NewTerminalReporter(out, verbosity)
	}

	res, err := a.DryRun(ctx, args[0], rep)
	if err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Fprintln(out, res.Summary.String())
	}
	return nil
}
