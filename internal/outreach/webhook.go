package outreach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"prospect-engine/internal/domain"
)

// WebhookChannel hands a send to an external delivery service (mail relay,
// LinkedIn or WhatsApp automation) over HTTP. The service renders the
// template and answers {"message_id": "..."}.
type WebhookChannel struct {
	ID     string
	URL    string
	Token  string
	Client *http.Client
	Now    func() time.Time
}

type webhookRequest struct {
	Channel         string            `json:"channel"`
	Template        string            `json:"template"`
	To              Recipient         `json:"to"`
	Personalization map[string]string `json:"personalization"`
}

type webhookResponse struct {
	MessageID string `json:"message_id"`
}

func (c *WebhookChannel) Name() string { return c.ID }

func (c *WebhookChannel) Send(ctx context.Context, to Recipient, templateKey string, personalization map[string]string) (domain.Receipt, error) {
	body, err := json.Marshal(webhookRequest{
		Channel:         c.ID,
		Template:        templateKey,
		To:              to,
		Personalization: personalization,
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return domain.Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Receipt{}, fmt.Errorf("%s webhook: status %d: %s", c.ID, resp.StatusCode, bytes.TrimSpace(b))
	}

	var out webhookResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return domain.Receipt{}, fmt.Errorf("%s webhook: decode: %w", c.ID, err)
	}
	if out.MessageID == "" {
		return domain.Receipt{}, fmt.Errorf("%s webhook: empty message_id", c.ID)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return domain.Receipt{Channel: c.ID, MessageID: out.MessageID, At: now().UTC()}, nil
}
