package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/dracma/internal/app"
	"github.com/ternarybob/dracma/internal/models"
	"github.com/ternarybob/dracma/internal/services/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Log in, refresh the token, and fetch every endpoint once",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := app.New(ctx, config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	record, err := application.Pipeline.Run(ctx)
	if record != nil {
		printRecord(cmd, record)
	}
	if pipeline.IsLoginFailure(err) {
		logger.Error().Err(err).Msg("Login failed before any endpoint was called")
		return fmt.Errorf("login failed: %w", err)
	}
	if err != nil {
		return err
	}
	if record.Status == models.RunStatusFailed {
		return fmt.Errorf("run %s failed: no endpoint succeeded", record.ID)
	}
	return nil
}

func printRecord(cmd *cobra.Command, record *models.RunRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRun %s: %s (%s)\n", record.ID, record.Status, record.Duration().Round(time.Millisecond))
	if record.LoginState != "" {
		fmt.Fprintf(out, "Login: %s", record.LoginState)
		if record.LoginReason != "" {
			fmt.Fprintf(out, " (%s)", record.LoginReason)
		}
		fmt.Fprintln(out)
	}
	if record.TokenSource != "" {
		fmt.Fprintf(out, "Token: %s\n", record.TokenSource)
	}
	if len(record.Results) > 0 {
		fmt.Fprintln(out)
		fmt.Fprint(out, pipeline.Summary(&models.FetchReport{Results: record.Results}))
	}
}
