package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/dracma/internal/app"
)

var loginRefresh bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the OTP login only and report the resulting session",
	Long: `Drives the browser through the login form and the one-time code
challenge, saves the browser storage state, and reports which tokens were
obtained. Token values are never printed.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginRefresh, "refresh", false, "Also exchange the tokens for a fresh idToken")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := app.New(ctx, config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Login.Login(ctx, config.Credentials)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State: %s\n", result.State)
	if !result.Authenticated() {
		fmt.Fprintf(out, "Reason: %s\n", result.Reason)
		return fmt.Errorf("login ended in %s", result.State)
	}
	fmt.Fprintf(out, "idToken: %d chars, refreshToken: %d chars\n", len(result.Tokens.IDToken), len(result.Tokens.RefreshToken))
	if config.Browser.StorageStatePath != "" {
		fmt.Fprintf(out, "Storage state: %s\n", config.Browser.StorageStatePath)
	}

	if loginRefresh {
		active := application.Tokens.Resolve(ctx, result.Tokens)
		fmt.Fprintf(out, "Active token: %s (%d chars)\n", active.Source, len(active.Value))
	}
	return nil
}
