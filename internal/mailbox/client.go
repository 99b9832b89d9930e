// Package mailbox reads recent messages from an IMAP account.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// AuthError indicates the IMAP server rejected the credentials.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Config locates one IMAP account.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
	Folder   string
}

// IMAPClient wraps go-imap v2. Every call opens its own connection.
type IMAPClient struct {
	cfg Config
}

// NewIMAPClient creates a client for cfg. The folder defaults to INBOX.
func NewIMAPClient(cfg Config) *IMAPClient {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Port == "" {
		cfg.Port = "993"
	}
	return &IMAPClient{cfg: cfg}
}

// connect dials and authenticates. The connection is closed when ctx is
// done so blocking commands return early.
func (c *IMAPClient) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	addr := c.cfg.Host + ":" + c.cfg.Port

	var client *imapclient.Client
	var err error
	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	done := func() {
		stop()
		_ = client.Logout().Wait()
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		done()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &AuthError{Username: c.cfg.Username, Err: err}
	}
	return client, done, nil
}

// Ping verifies that the account is reachable and the folder exists.
func (c *IMAPClient) Ping(ctx context.Context) error {
	client, done, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer done()

	if _, err := client.Select(c.cfg.Folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", c.cfg.Folder, err)
	}
	return nil
}

// FetchRecent returns messages received since the given time, at most
// limit of them (the most recent ones). Messages are not marked as seen.
func (c *IMAPClient) FetchRecent(ctx context.Context, since time.Time, limit int) ([]Message, error) {
	client, done, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if _, err := client.Select(c.cfg.Folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", c.cfg.Folder, err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var msgs []Message
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		buf, err := data.Collect()
		if err != nil {
			continue
		}

		msg := messageFromBuffer(buf)
		if raw := buf.FindBodySection(bodySection); raw != nil {
			msg.TextBody, msg.HTMLBody = parseMIMEBody(raw)
		}
		msgs = append(msgs, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return msgs, fmt.Errorf("fetching messages: %w", err)
	}
	return msgs, nil
}

func messageFromBuffer(buf *imapclient.FetchMessageBuffer) Message {
	msg := Message{UID: uint32(buf.UID), Date: buf.InternalDate}

	if env := buf.Envelope; env != nil {
		msg.MessageID = env.MessageID
		msg.Subject = env.Subject
		if !env.Date.IsZero() {
			msg.Date = env.Date
		}
		if len(env.From) > 0 {
			msg.From = formatAddress(env.From[0].Name, env.From[0].Addr())
		}
	}
	return msg
}
