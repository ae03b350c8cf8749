package otp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ternarybob/dracma/internal/common"
)

const graphScope = "https://graph.microsoft.com/.default"

// MailboxBackend reads codes from a Microsoft 365 mailbox through the Graph API
// using an app registration (client credentials).
type MailboxBackend struct {
	cfg     common.MailboxConfig
	baseURL string
	client  *http.Client
	logger  arbor.ILogger
}

// NewMailboxBackend creates a Graph mailbox backend. The returned client
// fetches and caches app tokens on demand.
func NewMailboxBackend(cfg common.MailboxConfig, logger arbor.ILogger) *MailboxBackend {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}

	client := cc.Client(context.Background())
	client.Timeout = 30 * time.Second

	if cfg.Top <= 0 {
		cfg.Top = 10
	}

	return &MailboxBackend{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// Name implements interfaces.OTPBackend
func (b *MailboxBackend) Name() string {
	return "mailbox"
}

// Latest implements interfaces.OTPBackend. Messages are scanned newest first;
// the first one yielding a code wins.
func (b *MailboxBackend) Latest(ctx context.Context, since time.Time) (string, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(b.cfg.Top))
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$select", "id,subject,bodyPreview,receivedDateTime")
	if !since.IsZero() {
		params.Set("$filter", "receivedDateTime ge "+since.UTC().Format(time.RFC3339))
	}

	endpoint := fmt.Sprintf("/users/%s/messages?%s", url.PathEscape(b.cfg.Address), params.Encode())
	body, err := b.get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	messages := gjson.GetBytes(body, "value").Array()
	b.logger.Debug().Int("messages", len(messages)).Msg("Scanned mailbox")

	for _, msg := range messages {
		subject := msg.Get("subject").String()
		if b.cfg.Subject != "" && !strings.Contains(strings.ToLower(subject), strings.ToLower(b.cfg.Subject)) {
			continue
		}

		if !since.IsZero() {
			if received, err := time.Parse(time.RFC3339, msg.Get("receivedDateTime").String()); err == nil && received.Before(since) {
				continue
			}
		}

		if code := Extract(msg.Get("bodyPreview").String()); code != "" {
			return code, nil
		}

		// The preview is truncated; fall back to the full body
		id := msg.Get("id").String()
		if id == "" {
			continue
		}
		full, err := b.get(ctx, fmt.Sprintf("/users/%s/messages/%s?$select=body", url.PathEscape(b.cfg.Address), url.PathEscape(id)))
		if err != nil {
			return "", err
		}

		content := gjson.GetBytes(full, "body.content").String()
		if strings.EqualFold(gjson.GetBytes(full, "body.contentType").String(), "html") {
			content = StripHTML(content)
		}
		if code := Extract(content); code != "" {
			return code, nil
		}
	}

	return "", nil
}

func (b *MailboxBackend) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("graph returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
