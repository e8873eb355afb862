package emailpoll

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/enrich"
)

type Mailbox interface {
	Unseen(ctx context.Context, max int) ([]Message, error)
	MarkSeen(ctx context.Context, uids []imap.UID) error
	Close() error
}

// Dialer opens a fresh mailbox session for one poll.
type Dialer func(ctx context.Context) (Mailbox, error)

type SequenceFinder interface {
	ActiveSequencesByDomain(ctx context.Context, host string) ([]domain.Sequence, error)
}

type EngagementRecorder interface {
	RecordEngagement(ctx context.Context, sequenceID string, step int, status domain.EventStatus, at time.Time) (domain.Sequence, error)
}

// ReplyWatcher turns inbox replies from a candidate's domain into REPLIED
// events on that candidate's ACTIVE sequences.
type ReplyWatcher struct {
	Dial        Dialer
	Sequences   SequenceFinder
	Engagement  EngagementRecorder
	MaxMessages int
	Logger      *zap.Logger
}

// Result counts one poll.
type Result struct {
	Scanned int
	Matched int
	Replied int
}

// RunOnce polls the inbox once. Matched messages are marked \Seen; the
// rest are left untouched for the mailbox owner.
func (w *ReplyWatcher) RunOnce(ctx context.Context) (Result, error) {
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mb, err := w.Dial(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			log.Debug("close mailbox", zap.Error(err))
		}
	}()

	msgs, err := mb.Unseen(ctx, w.MaxMessages)
	if err != nil {
		return Result{}, err
	}

	res := Result{Scanned: len(msgs)}
	var seen []imap.UID
	var errs []error
	for _, m := range msgs {
		host := SenderDomain(m.From)
		if host == "" {
			continue
		}
		seqs, err := w.Sequences.ActiveSequencesByDomain(ctx, host)
		if err != nil {
			return res, fmt.Errorf("find sequences for %s: %w", host, err)
		}
		if len(seqs) == 0 {
			continue
		}
		res.Matched++
		ok := true
		for _, s := range seqs {
			if _, err := w.Engagement.RecordEngagement(ctx, s.ID, -1, domain.EventReplied, m.Date); err != nil {
				ok = false
				errs = append(errs, fmt.Errorf("reply from %s on %s: %w", host, s.ID, err))
				continue
			}
			res.Replied++
			log.Info("reply recorded",
				zap.String("sequence", s.ID),
				zap.String("from", m.From),
				zap.String("subject", m.Subject))
		}
		if ok {
			seen = append(seen, m.UID)
		}
	}

	if err := mb.MarkSeen(ctx, seen); err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

// SenderDomain returns the registrable domain of a From value, or "" for
// unparseable addresses.
func SenderDomain(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if a, err := mail.ParseAddress(from); err == nil {
		from = a.Address
	}
	at := strings.LastIndex(from, "@")
	if at < 0 || at == len(from)-1 {
		return ""
	}
	return enrich.NormalizeDomain(from[at+1:])
}
