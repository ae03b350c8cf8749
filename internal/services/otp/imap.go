// -----------------------------------------------------------------------
// IMAP backend - reads codes from a mailbox using user credentials
// -----------------------------------------------------------------------

package otp

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
)

// IMAPBackend reads codes from the newest messages of an IMAP mailbox
type IMAPBackend struct {
	cfg    common.IMAPConfig
	logger arbor.ILogger
}

type mailMessage struct {
	SeqNum  uint32
	From    string
	Subject string
	Body    string
	Date    time.Time
}

// NewIMAPBackend creates a new IMAP backend
func NewIMAPBackend(cfg common.IMAPConfig, logger arbor.ILogger) *IMAPBackend {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Top <= 0 {
		cfg.Top = 10
	}
	return &IMAPBackend{cfg: cfg, logger: logger}
}

// Name implements interfaces.OTPBackend
func (b *IMAPBackend) Name() string {
	return "imap"
}

// Latest implements interfaces.OTPBackend
func (b *IMAPBackend) Latest(ctx context.Context, since time.Time) (string, error) {
	emails, err := b.fetchRecent(ctx)
	if err != nil {
		return "", err
	}

	for _, email := range emails {
		if b.cfg.Subject != "" && !strings.Contains(strings.ToLower(email.Subject), strings.ToLower(b.cfg.Subject)) {
			continue
		}
		if !since.IsZero() && !email.Date.IsZero() && email.Date.Before(since) {
			continue
		}
		if code := Extract(email.Body); code != "" {
			b.logger.Debug().
				Uint32("seq", email.SeqNum).
				Str("from", email.From).
				Msg("OTP code found in message")
			return code, nil
		}
	}

	return "", nil
}

// fetchRecent fetches the newest messages of the configured mailbox, newest first.
// Messages are read with BODY.PEEK so their seen flag is left alone.
func (b *IMAPBackend) fetchRecent(ctx context.Context) ([]mailMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
	var (
		c   *client.Client
		err error
	)
	if b.cfg.UseTLS {
		c, err = client.DialTLS(addr, nil)
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()
	c.Timeout = 30 * time.Second

	// Unblock network calls when the run is cancelled
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	if err := c.Login(b.cfg.Username, b.cfg.Password); err != nil {
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}

	mbox, err := c.Select(b.cfg.Mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", b.cfg.Mailbox, err)
	}
	if mbox.Messages == 0 {
		b.logger.Debug().Str("mailbox", b.cfg.Mailbox).Msg("No messages in mailbox")
		return []mailMessage{}, nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(b.cfg.Top) {
		from = mbox.Messages - uint32(b.cfg.Top) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, b.cfg.Top)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var emails []mailMessage
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}

		body, err := parseMessageBody(msg, section)
		if err != nil {
			b.logger.Warn().Err(err).Uint32("seq", msg.SeqNum).Msg("Failed to parse message body")
			continue
		}

		sender := ""
		if len(msg.Envelope.From) > 0 {
			sender = msg.Envelope.From[0].Address()
		}

		date := msg.Envelope.Date
		if date.IsZero() {
			date = msg.InternalDate
		}

		emails = append(emails, mailMessage{
			SeqNum:  msg.SeqNum,
			From:    sender,
			Subject: msg.Envelope.Subject,
			Body:    body,
			Date:    date,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(emails, func(i, j int) bool { return emails[i].SeqNum > emails[j].SeqNum })
	return emails, nil
}

// parseMessageBody extracts the text body from an IMAP message, preferring
// text/plain and falling back to stripped text/html
func parseMessageBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && plain == "":
			plain = string(b)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(b)
		}
	}

	if plain != "" {
		return strings.TrimSpace(plain), nil
	}
	return StripHTML(html), nil
}
