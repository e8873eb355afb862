package outreach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prospect-engine/internal/domain"
)

// Recipient is who a step is addressed to.
type Recipient struct {
	CandidateID string         `json:"candidate_id"`
	Company     string         `json:"company"`
	Domain      string         `json:"domain"`
	Contact     domain.Contact `json:"contact"`
}

// Channel delivers one templated message. The core only picks the
// template key and supplies personalization data; rendering is the
// channel's concern.
type Channel interface {
	Name() string
	Send(ctx context.Context, to Recipient, templateKey string, personalization map[string]string) (domain.Receipt, error)
}

// LogChannel accepts every send and only logs it. It backs dry runs.
type LogChannel struct {
	ID  string
	Log *zap.Logger
	Now func() time.Time
}

func (c LogChannel) Name() string { return c.ID }

func (c LogChannel) Send(ctx context.Context, to Recipient, templateKey string, personalization map[string]string) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if c.Log != nil {
		c.Log.Info("dry-run send",
			zap.String("channel", c.ID),
			zap.String("candidate", to.CandidateID),
			zap.String("domain", to.Domain),
			zap.String("template", templateKey),
			zap.Any("personalization", personalization))
	}
	return domain.Receipt{
		Channel:   c.ID,
		MessageID: fmt.Sprintf("dry-run-%s", uuid.NewString()),
		At:        now().UTC(),
	}, nil
}
