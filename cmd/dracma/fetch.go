package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ternarybob/dracma/internal/app"
	"github.com/ternarybob/dracma/internal/models"
	"github.com/ternarybob/dracma/internal/services/login"
)

var fetchToken string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch every endpoint with an existing idToken, skipping login",
	Long: `Fetch every endpoint with an existing idToken, skipping login.

The token comes from --token, then $DRACMA_ID_TOKEN, then the browser storage
state saved by the last successful login.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchToken, "token", "", "Bearer idToken (default: $DRACMA_ID_TOKEN)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	if err := config.ValidateRuntime(); err != nil {
		return err
	}

	token := fetchToken
	if token == "" {
		token = os.Getenv("DRACMA_ID_TOKEN")
	}
	if token == "" {
		pair, err := login.SavedTokens(config.Browser.StorageStatePath, config.Portal.TokensKey)
		if err != nil {
			return fmt.Errorf("no token given and none saved: %w", err)
		}
		logger.Info().Str("path", config.Browser.StorageStatePath).Msg("Using idToken from saved storage state")
		token = pair.IDToken
	}

	ctx := cmd.Context()
	application, err := app.New(ctx, config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	record, err := application.Pipeline.RunWithToken(ctx, token)
	if record != nil {
		printRecord(cmd, record)
	}
	if err != nil {
		return err
	}
	if record.Status == models.RunStatusFailed {
		return fmt.Errorf("fetch %s failed: no endpoint succeeded", record.ID)
	}
	return nil
}
