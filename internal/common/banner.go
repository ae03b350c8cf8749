package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner
func PrintBanner(version string) {
	banner.Print("Dracma", version)
}

// LogStartup writes the effective, non-secret configuration to the log
func LogStartup(config *Config, logger arbor.ILogger) {
	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("login_url", config.Portal.LoginURL).
		Str("api_base_url", config.Portal.APIBaseURL).
		Str("otp_source", config.OTP.Source).
		Str("otp_wait", config.OTP.Wait.String()).
		Str("storage", config.Storage.Type).
		Str("prefix", config.Storage.Prefix).
		Bool("headless", config.Browser.Headless).
		Str("log_file", GetLogFilePath(logger)).
		Msg("Configuration loaded")
}
