package emailpoll

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

// Message is the envelope of one unseen inbox message.
type Message struct {
	UID     imap.UID
	From    string
	Subject string
	Date    time.Time
}

// IMAPMailbox reads the reply inbox over IMAPS.
type IMAPMailbox struct {
	c    *imapclient.Client
	stop func() bool
	log  *zap.Logger
}

// DialIMAP connects over TLS, logs in and selects mailbox.
func DialIMAP(ctx context.Context, addr, username, password, mailbox string, log *zap.Logger) (*IMAPMailbox, error) {
	if addr == "" {
		return nil, errors.New("imap addr is required")
	}
	if username == "" || password == "" {
		return nil, errors.New("imap username/password is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if !strings.Contains(addr, ":") {
		addr += ":993"
	}
	host, _, _ := net.SplitHostPort(addr)

	c, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host},
	})
	if err != nil {
		return nil, fmt.Errorf("imap dial tls: %w", err)
	}

	// Unblock pending commands when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	if err := c.Login(username, password).Wait(); err != nil {
		stop()
		_ = c.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, &imap.SelectOptions{ReadOnly: false}).Wait(); err != nil {
		stop()
		_ = c.Close()
		return nil, fmt.Errorf("imap select %q: %w", mailbox, err)
	}
	return &IMAPMailbox{c: c, stop: stop, log: log}, nil
}

// Unseen returns up to max unseen messages from the last 30 days, newest
// first. Only envelopes are fetched so nothing is marked \Seen.
func (m *IMAPMailbox) Unseen(ctx context.Context, max int) ([]Message, error) {
	if max <= 0 {
		max = 50
	}
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   time.Now().AddDate(0, 0, -30),
	}
	data, err := m.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap uid search unseen: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	for i, j := 0, len(uids)-1; i < j; i, j = i+1, j-1 {
		uids[i], uids[j] = uids[j], uids[i]
	}
	if len(uids) > max {
		uids = uids[:max]
	}

	cmd := m.c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
	})
	defer func() { _ = cmd.Close() }()

	out := make([]Message, 0, len(uids))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		md := cmd.Next()
		if md == nil {
			break
		}
		buf, err := md.Collect()
		if err != nil {
			return nil, fmt.Errorf("imap fetch collect: %w", err)
		}
		msg := Message{UID: buf.UID, Date: buf.InternalDate}
		if env := buf.Envelope; env != nil {
			msg.Subject = env.Subject
			if !env.Date.IsZero() {
				msg.Date = env.Date
			}
			if len(env.From) > 0 {
				msg.From = env.From[0].Addr()
			}
		}
		out = append(out, msg)
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("imap fetch close: %w", err)
	}
	return out, nil
}

// MarkSeen sets \Seen on uids.
func (m *IMAPMailbox) MarkSeen(_ context.Context, uids []imap.UID) error {
	if len(uids) == 0 {
		return nil
	}
	cmd := m.c.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("imap store add seen: %w", err)
	}
	return nil
}

// Close logs out and closes the connection.
func (m *IMAPMailbox) Close() error {
	m.stop()
	if err := m.c.Logout().Wait(); err != nil {
		m.log.Debug("imap logout", zap.Error(err))
	}
	return m.c.Close()
}
