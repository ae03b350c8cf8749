package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string                      `toml:"environment"` // "development" or "production"
	Credentials models.Credentials          `toml:"credentials"`
	Portal      PortalConfig                `toml:"portal"`
	Browser     BrowserConfig               `toml:"browser"`
	OTP         OTPConfig                   `toml:"otp"`
	Fetch       FetchConfig                 `toml:"fetch"`
	Endpoints   []models.EndpointDescriptor `toml:"endpoints"` // Overrides the built-in endpoint catalogue when non-empty
	Storage     StorageConfig               `toml:"storage"`
	Scheduler   SchedulerConfig             `toml:"scheduler"`
	Logging     LoggingConfig               `toml:"logging"`
}

// PortalConfig describes the advisor portal and its API
type PortalConfig struct {
	LoginURL   string `toml:"login_url" validate:"required,url"`
	APIBaseURL string `toml:"api_base_url" validate:"required,url"`
	TokensKey  string `toml:"tokens_key" validate:"required"` // localStorage key holding the session token JSON
}

// BrowserConfig controls the automated browser session used for login
type BrowserConfig struct {
	Headless         bool            `toml:"headless"`
	ExecPath         string          `toml:"exec_path"` // Chrome binary, empty = chromedp lookup
	UserAgent        string          `toml:"user_agent"`
	StorageStatePath string          `toml:"storage_state_path"` // Where cookies + localStorage are written after login
	KeystrokeDelay   time.Duration   `toml:"keystroke_delay"`
	Timeouts         BrowserTimeouts `toml:"timeouts"`
	Selectors        SelectorConfig  `toml:"selectors"`
	Patterns         PatternConfig   `toml:"patterns"`
}

// BrowserTimeouts bound every wait in the login flow
type BrowserTimeouts struct {
	Navigation time.Duration `toml:"navigation"`
	Field      time.Duration `toml:"field"`
	Button     time.Duration `toml:"button"`
	Response   time.Duration `toml:"response"`
	URL        time.Duration `toml:"url"`
}

// SelectorConfig holds the CSS selectors of the login form
type SelectorConfig struct {
	Email       string `toml:"email" validate:"required"`
	Password    string `toml:"password" validate:"required"`
	Submit      string `toml:"submit" validate:"required"`
	SubmitState string `toml:"submit_state" validate:"required"` // Element whose disabled attribute gates submission
	OTPInput    string `toml:"otp_input" validate:"required"`
}

// PatternConfig holds URL fragments the login flow matches against
type PatternConfig struct {
	LoginEndpoint     string `toml:"login_endpoint" validate:"required"`
	ChallengeURL      string `toml:"challenge_url" validate:"required"`
	ChallengeResponse string `toml:"challenge_response" validate:"required"`
	LoginPath         string `toml:"login_path" validate:"required"`
}

// OTPConfig selects and configures the OTP delivery backend
type OTPConfig struct {
	Source       string        `toml:"source" validate:"oneof=mailbox sheets imap"`
	Wait         time.Duration `toml:"wait"`          // Upper bound on waiting for a code
	PollInterval time.Duration `toml:"poll_interval"` // 0 = sleep the whole wait, then read once
	Mailbox      MailboxConfig `toml:"mailbox"`
	Sheets       SheetsConfig  `toml:"sheets"`
	IMAP         IMAPConfig    `toml:"imap"`
}

// MailboxConfig configures the Microsoft Graph mailbox backend
type MailboxConfig struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Address      string `toml:"address"` // Mailbox user principal name
	Subject      string `toml:"subject"` // Optional case-insensitive subject filter
	Top          int    `toml:"top"`     // Newest N messages scanned
	BaseURL      string `toml:"base_url"`
	TokenURL     string `toml:"token_url"` // Empty = derived from tenant
}

// SheetsConfig configures the spreadsheet backend
type SheetsConfig struct {
	SpreadsheetID      string `toml:"spreadsheet_id"`
	SheetName          string `toml:"sheet_name"` // Empty = first sheet
	ServiceAccountFile string `toml:"service_account_file"`
	ServiceAccountJSON string `toml:"service_account_json"`
	BaseURL            string `toml:"base_url"`
}

// IMAPConfig configures the IMAP mailbox backend
type IMAPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Mailbox  string `toml:"mailbox"`
	UseTLS   bool   `toml:"use_tls"`
	Subject  string `toml:"subject"`
	Top      int    `toml:"top"`
}

// FetchConfig controls the data endpoint batch
type FetchConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout"`
	RateLimit      float64       `toml:"rate_limit"`     // Requests per second, 0 = unlimited
	EndpointsFile  string        `toml:"endpoints_file"` // TOML or YAML file with an endpoints list
}

type StorageConfig struct {
	Type       string           `toml:"type" validate:"oneof=s3 filesystem badger"`
	Prefix     string           `toml:"prefix"`  // Key prefix for artifacts
	History    bool             `toml:"history"` // Persist run records to badger
	S3         S3Config         `toml:"s3"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Badger     BadgerConfig     `toml:"badger"`
}

type S3Config struct {
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"` // Custom endpoint (minio, localstack)
	UsePathStyle bool   `toml:"use_path_style"`
}

type FilesystemConfig struct {
	Dir string `toml:"dir"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type SchedulerConfig struct {
	Enabled    bool   `toml:"enabled"`
	Schedule   string `toml:"schedule"` // 5-field cron expression
	RunOnStart bool   `toml:"run_on_start"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
	Dir        string   `toml:"dir"`         // Log directory, empty = next to the executable
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Portal: PortalConfig{
			LoginURL:   "https://asesor.inviu.com.ar/login",
			APIBaseURL: "https://inviuxy.inviu.com.ar",
			TokensKey:  "TOKENS_KEY",
		},
		Browser: BrowserConfig{
			Headless:         true,
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			StorageStatePath: "./data/storage_state.json",
			KeystrokeDelay:   50 * time.Millisecond,
			Timeouts: BrowserTimeouts{
				Navigation: 60 * time.Second,
				Field:      20 * time.Second,
				Button:     15 * time.Second,
				Response:   20 * time.Second,
				URL:        30 * time.Second,
			},
			Selectors: SelectorConfig{
				Email:       `input[formcontrolname="email"]`,
				Password:    `input[formcontrolname="password"]`,
				Submit:      `tui-button[type="primary"] button[type="submit"]`,
				SubmitState: `tui-button[type="primary"]`,
				OTPInput:    `input[formcontrolname="newPassword"]`,
			},
			Patterns: PatternConfig{
				LoginEndpoint:     "/advisor/auth/login/v4",
				ChallengeURL:      "/challenge-code/",
				ChallengeResponse: "challenge",
				LoginPath:         "/login",
			},
		},
		OTP: OTPConfig{
			Source: "sheets", // The portal writes codes to a shared sheet by default
			Wait:   120 * time.Second,
			Mailbox: MailboxConfig{
				Top:     10,
				BaseURL: "https://graph.microsoft.com/v1.0",
			},
			Sheets: SheetsConfig{
				BaseURL: "https://sheets.googleapis.com/v4",
			},
			IMAP: IMAPConfig{
				Port:    993,
				Mailbox: "INBOX",
				UseTLS:  true,
				Top:     10,
			},
		},
		Fetch: FetchConfig{
			RequestTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type:    "s3",
			Prefix:  "raw",
			History: true,
			S3: S3Config{
				Bucket: "dracma-data-lake",
				Region: "us-east-2",
			},
			Filesystem: FilesystemConfig{
				Dir: "./data/artifacts",
			},
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 7 * * 1-5", // Weekdays before market open
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env
// Later files override earlier files
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// lookupEnv returns the first non-empty variable among names.
// DRACMA_* names come first, the legacy bare names act as fallbacks.
func lookupEnv(names ...string) (string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
	}
	return "", false
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env, ok := lookupEnv("DRACMA_ENV", "GO_ENV"); ok {
		config.Environment = env
	}

	// Credentials
	if v, ok := lookupEnv("DRACMA_EMAIL", "EMAIL"); ok {
		config.Credentials.Email = v
	}
	if v, ok := lookupEnv("DRACMA_PASSWORD", "PASSWORD"); ok {
		config.Credentials.Password = v
	}

	// Portal
	if v, ok := lookupEnv("DRACMA_LOGIN_URL", "INVIU_LOGIN_URL"); ok {
		config.Portal.LoginURL = v
	}
	if v, ok := lookupEnv("DRACMA_API_BASE_URL", "INVIU_API_BASE_URL"); ok {
		config.Portal.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v, ok := lookupEnv("DRACMA_TOKENS_KEY", "TOKENS_KEY"); ok {
		config.Portal.TokensKey = v
	}

	// Browser
	if v, ok := lookupEnv("DRACMA_HEADLESS", "HEADLESS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Browser.Headless = b
		}
	}
	if v, ok := lookupEnv("DRACMA_CHROME_PATH"); ok {
		config.Browser.ExecPath = v
	}
	if v, ok := lookupEnv("DRACMA_STORAGE_STATE_PATH"); ok {
		config.Browser.StorageStatePath = v
	}

	// OTP
	if v, ok := lookupEnv("DRACMA_OTP_SOURCE"); ok {
		config.OTP.Source = strings.ToLower(v)
	}
	if v, ok := lookupEnv("DRACMA_OTP_WAIT_SECONDS", "OTP_WAIT_SECONDS"); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			config.OTP.Wait = time.Duration(secs) * time.Second
		}
	}
	if v, ok := lookupEnv("DRACMA_OTP_POLL_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			config.OTP.PollInterval = d
		}
	}
	if v, ok := lookupEnv("DRACMA_GOOGLE_SPREADSHEET_ID", "GOOGLE_SPREADSHEET_ID"); ok {
		config.OTP.Sheets.SpreadsheetID = v
	}
	if v, ok := lookupEnv("DRACMA_GOOGLE_SHEET_NAME", "GOOGLE_SHEET_NAME"); ok {
		config.OTP.Sheets.SheetName = v
	}
	if v, ok := lookupEnv("DRACMA_GOOGLE_SERVICE_ACCOUNT_FILE", "GOOGLE_SERVICE_ACCOUNT_FILE"); ok {
		config.OTP.Sheets.ServiceAccountFile = v
	}
	if v, ok := lookupEnv("DRACMA_GOOGLE_SERVICE_ACCOUNT_JSON", "GOOGLE_SERVICE_ACCOUNT_JSON"); ok {
		config.OTP.Sheets.ServiceAccountJSON = v
	}
	if v, ok := lookupEnv("DRACMA_GRAPH_TENANT_ID", "AZURE_TENANT_ID"); ok {
		config.OTP.Mailbox.TenantID = v
	}
	if v, ok := lookupEnv("DRACMA_GRAPH_CLIENT_ID", "AZURE_CLIENT_ID"); ok {
		config.OTP.Mailbox.ClientID = v
	}
	if v, ok := lookupEnv("DRACMA_GRAPH_CLIENT_SECRET", "AZURE_CLIENT_SECRET"); ok {
		config.OTP.Mailbox.ClientSecret = v
	}
	if v, ok := lookupEnv("DRACMA_OTP_MAILBOX"); ok {
		config.OTP.Mailbox.Address = v
	}
	if v, ok := lookupEnv("DRACMA_IMAP_HOST"); ok {
		config.OTP.IMAP.Host = v
	}
	if v, ok := lookupEnv("DRACMA_IMAP_USERNAME"); ok {
		config.OTP.IMAP.Username = v
	}
	if v, ok := lookupEnv("DRACMA_IMAP_PASSWORD"); ok {
		config.OTP.IMAP.Password = v
	}

	// Storage
	if v, ok := lookupEnv("DRACMA_STORAGE_TYPE"); ok {
		config.Storage.Type = strings.ToLower(v)
	}
	if v, ok := lookupEnv("DRACMA_S3_BUCKET", "S3_BUCKET_NAME"); ok {
		config.Storage.S3.Bucket = v
	}
	if v, ok := lookupEnv("DRACMA_S3_REGION", "S3_REGION"); ok {
		config.Storage.S3.Region = v
	}
	if v, ok := lookupEnv("DRACMA_S3_PREFIX", "S3_PREFIX"); ok {
		config.Storage.Prefix = v
	}
	if v, ok := lookupEnv("DRACMA_S3_ENDPOINT"); ok {
		config.Storage.S3.Endpoint = v
	}
	if v, ok := lookupEnv("DRACMA_BADGER_PATH"); ok {
		config.Storage.Badger.Path = v
	}
	if v, ok := lookupEnv("DRACMA_ARTIFACT_DIR"); ok {
		config.Storage.Filesystem.Dir = v
	}

	// Scheduler
	if v, ok := lookupEnv("DRACMA_SCHEDULE"); ok {
		config.Scheduler.Schedule = v
		config.Scheduler.Enabled = true
	}

	// Logging
	if v, ok := lookupEnv("DRACMA_LOG_LEVEL"); ok {
		config.Logging.Level = v
	}
	if v, ok := lookupEnv("DRACMA_LOG_OUTPUT"); ok {
		outputs := []string{}
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, logLevel string) {
	// Command-line flags have highest priority
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

// Validate checks the whole configuration, credentials included.
// Every failure wraps interfaces.ErrConfig.
func (c *Config) Validate() error {
	if err := wrapValidation(validator.New().Struct(&c.Credentials)); err != nil {
		return err
	}
	return c.ValidateRuntime()
}

// ValidateRuntime checks everything except the portal credentials, for
// commands that never log in (otp, fetch with a supplied token, history).
func (c *Config) ValidateRuntime() error {
	if err := wrapValidation(validator.New().StructExcept(c, "Credentials")); err != nil {
		return err
	}

	if c.OTP.Wait <= 0 {
		return fmt.Errorf("%w: otp.wait must be positive", interfaces.ErrConfig)
	}
	if c.OTP.PollInterval < 0 {
		return fmt.Errorf("%w: otp.poll_interval must not be negative", interfaces.ErrConfig)
	}

	switch c.OTP.Source {
	case "mailbox":
		m := c.OTP.Mailbox
		if m.TenantID == "" || m.ClientID == "" || m.ClientSecret == "" || m.Address == "" {
			return fmt.Errorf("%w: otp.mailbox requires tenant_id, client_id, client_secret and address", interfaces.ErrConfig)
		}
	case "sheets":
		s := c.OTP.Sheets
		if s.SpreadsheetID == "" {
			return fmt.Errorf("%w: otp.sheets.spreadsheet_id is required", interfaces.ErrConfig)
		}
		if s.ServiceAccountFile == "" && s.ServiceAccountJSON == "" {
			return fmt.Errorf("%w: otp.sheets requires service_account_file or service_account_json", interfaces.ErrConfig)
		}
	case "imap":
		i := c.OTP.IMAP
		if i.Host == "" || i.Username == "" || i.Password == "" {
			return fmt.Errorf("%w: otp.imap requires host, username and password", interfaces.ErrConfig)
		}
	}

	switch c.Storage.Type {
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("%w: storage.s3.bucket is required", interfaces.ErrConfig)
		}
	case "filesystem":
		if c.Storage.Filesystem.Dir == "" {
			return fmt.Errorf("%w: storage.filesystem.dir is required", interfaces.ErrConfig)
		}
	}
	if (c.Storage.Type == "badger" || c.Storage.History) && c.Storage.Badger.Path == "" {
		return fmt.Errorf("%w: storage.badger.path is required", interfaces.ErrConfig)
	}

	if c.Fetch.RateLimit < 0 {
		return fmt.Errorf("%w: fetch.rate_limit must not be negative", interfaces.ErrConfig)
	}
	if _, err := c.ResolveEndpoints(); err != nil {
		return err
	}

	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("%w: scheduler.schedule: %v", interfaces.ErrConfig, err)
		}
	}

	return nil
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: invalid fields: %s", interfaces.ErrConfig, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", interfaces.ErrConfig, err)
}

// ResolveEndpoints returns the endpoint catalogue for a run.
// Priority: endpoints file -> [[endpoints]] in config -> built-in defaults.
func (c *Config) ResolveEndpoints() ([]models.EndpointDescriptor, error) {
	endpoints := c.Endpoints
	if c.Fetch.EndpointsFile != "" {
		loaded, err := LoadEndpointsFile(c.Fetch.EndpointsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrConfig, err)
		}
		endpoints = loaded
	}
	if len(endpoints) == 0 {
		endpoints = models.DefaultEndpoints()
	}
	if err := models.ValidateEndpoints(endpoints); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrConfig, err)
	}
	return endpoints, nil
}

type endpointsFile struct {
	Endpoints []models.EndpointDescriptor `toml:"endpoints" yaml:"endpoints"`
}

// LoadEndpointsFile reads an endpoint catalogue from a .toml, .yaml or .yml file
func LoadEndpointsFile(path string) ([]models.EndpointDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoints file %s: %w", path, err)
	}

	var file endpointsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported endpoints file extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoints file %s: %w", path, err)
	}
	if len(file.Endpoints) == 0 {
		return nil, fmt.Errorf("endpoints file %s contains no endpoints", path)
	}
	return file.Endpoints, nil
}

// ValidateSchedule validates a 5-field cron expression and enforces a minimum
// 5-minute interval so the portal never sees back-to-back logins.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}
