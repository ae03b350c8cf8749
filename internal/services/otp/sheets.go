package otp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2/google"

	"github.com/ternarybob/dracma/internal/common"
)

const sheetsReadonlyScope = "https://www.googleapis.com/auth/spreadsheets.readonly"

// Date layouts accepted in the A1 cell
var sheetDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
}

// SheetsBackend reads the code an upstream mail rule writes to a spreadsheet:
// the mail date in A1 and the code in B1 of the first row.
type SheetsBackend struct {
	cfg     common.SheetsConfig
	baseURL string
	client  *http.Client
	logger  arbor.ILogger
}

// SheetsOption configures a SheetsBackend
type SheetsOption func(*SheetsBackend)

// WithSheetsHTTPClient replaces the service account client
func WithSheetsHTTPClient(client *http.Client) SheetsOption {
	return func(b *SheetsBackend) {
		b.client = client
	}
}

// NewSheetsBackend creates a spreadsheet backend authenticated with a service
// account (inline JSON or file) unless a client is supplied.
func NewSheetsBackend(ctx context.Context, cfg common.SheetsConfig, logger arbor.ILogger, opts ...SheetsOption) (*SheetsBackend, error) {
	b := &SheetsBackend{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.baseURL == "" {
		b.baseURL = "https://sheets.googleapis.com/v4"
	}

	if b.client == nil {
		creds, err := loadServiceAccount(cfg)
		if err != nil {
			return nil, err
		}
		jwt, err := google.JWTConfigFromJSON(creds, sheetsReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("invalid service account credentials: %w", err)
		}
		b.client = jwt.Client(ctx)
		b.client.Timeout = 30 * time.Second
	}

	return b, nil
}

func loadServiceAccount(cfg common.SheetsConfig) ([]byte, error) {
	if strings.TrimSpace(cfg.ServiceAccountJSON) != "" {
		return []byte(cfg.ServiceAccountJSON), nil
	}
	if cfg.ServiceAccountFile == "" {
		return nil, fmt.Errorf("no service account credentials configured")
	}
	data, err := os.ReadFile(cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}
	return data, nil
}

// Name implements interfaces.OTPBackend
func (b *SheetsBackend) Name() string {
	return "sheets"
}

// Latest implements interfaces.OTPBackend. When since is set and A1 holds a
// parseable date older than since, the row is treated as stale.
func (b *SheetsBackend) Latest(ctx context.Context, since time.Time) (string, error) {
	sheet := b.cfg.SheetName
	if sheet == "" {
		first, err := b.firstSheet(ctx)
		if err != nil {
			return "", err
		}
		sheet = first
	}

	endpoint := fmt.Sprintf("/spreadsheets/%s/values/%s", url.PathEscape(b.cfg.SpreadsheetID), url.PathEscape(sheet+"!A1:B1"))
	body, err := b.get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	row := gjson.GetBytes(body, "values.0")
	emailDate := strings.TrimSpace(row.Get("0").String())
	code := strings.TrimSpace(row.Get("1").String())

	if code == "" {
		b.logger.Debug().Str("sheet", sheet).Msg("No code in first row")
		return "", nil
	}

	if !since.IsZero() && emailDate != "" {
		if received, ok := parseSheetDate(emailDate); ok && received.Before(since) {
			b.logger.Debug().Str("email_date", emailDate).Msg("Code in sheet predates the challenge")
			return "", nil
		}
	}

	return code, nil
}

func (b *SheetsBackend) firstSheet(ctx context.Context) (string, error) {
	body, err := b.get(ctx, fmt.Sprintf("/spreadsheets/%s?fields=sheets.properties.title", url.PathEscape(b.cfg.SpreadsheetID)))
	if err != nil {
		return "", err
	}
	title := gjson.GetBytes(body, "sheets.0.properties.title").String()
	if title == "" {
		return "", fmt.Errorf("spreadsheet %s has no sheets", b.cfg.SpreadsheetID)
	}
	return title, nil
}

func (b *SheetsBackend) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheets request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheets response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sheets returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

func parseSheetDate(s string) (time.Time, bool) {
	for _, layout := range sheetDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
