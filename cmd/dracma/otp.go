package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/dracma/internal/services/otp"
)

var otpWait time.Duration

var otpCmd = &cobra.Command{
	Use:   "otp",
	Short: "Read the newest one-time code from the configured source",
	RunE:  runOTP,
}

func init() {
	otpCmd.Flags().DurationVar(&otpWait, "wait", 0, "How long to wait for a code (default: otp.wait from config)")
}

func runOTP(cmd *cobra.Command, args []string) error {
	if err := config.ValidateRuntime(); err != nil {
		return err
	}

	wait := config.OTP.Wait
	if cmd.Flags().Changed("wait") {
		wait = otpWait
	}

	ctx := cmd.Context()
	source, err := otp.NewSource(ctx, config.OTP, logger)
	if err != nil {
		return err
	}

	code, err := source.FetchCode(ctx, wait)
	if err != nil {
		return err
	}
	if code == "" {
		return fmt.Errorf("no code from %s within %s", config.OTP.Source, wait)
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}
