package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"prospect-engine/internal/domain"
)

// AdLibrarySource counts a domain's ads in a trailing window from an
// ad-transparency endpoint returning {"ads":[{platform,creative_id,started_at}]}.
type AdLibrarySource struct {
	Client   *http.Client
	Limiter  *HostLimiter
	Endpoint string
	Window   time.Duration
	Now      func() time.Time
}

type adLibraryResponse struct {
	Ads []struct {
		Platform   string    `json:"platform"`
		CreativeID string    `json:"creative_id"`
		StartedAt  time.Time `json:"started_at"`
	} `json:"ads"`
}

func (a *AdLibrarySource) Name() string { return "ad_library" }

func (a *AdLibrarySource) Fetch(ctx context.Context, host string) (domain.Signals, error) {
	if a.Endpoint == "" {
		return nil, errors.New("ad_library: no endpoint configured")
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	since := now().Add(-a.Window)

	u, err := url.Parse(a.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("ad_library: endpoint: %w", err)
	}
	q := u.Query()
	q.Set("domain", host)
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	if err := a.Limiter.WaitURL(ctx, u.String()); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ad_library: status %d: %s", resp.StatusCode, string(b))
	}

	var body adLibraryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("ad_library: decode: %w", err)
	}

	var (
		count     int
		platforms = map[string]bool{}
		creatives = map[string]bool{}
	)
	for _, ad := range body.Ads {
		if !ad.StartedAt.IsZero() && ad.StartedAt.Before(since) {
			continue
		}
		count++
		if ad.Platform != "" {
			platforms[ad.Platform] = true
		}
		if ad.CreativeID != "" {
			creatives[ad.CreativeID] = true
		}
	}

	out := domain.Signals{}
	window := fmt.Sprintf("since %s", since.UTC().Format(time.DateOnly))
	out.Count(domain.SignalAdCount, float64(count), a.Name(), window)
	out.Count(domain.SignalAdPlatforms, float64(len(platforms)), a.Name(), "")
	out.Count(domain.SignalAdCreatives, float64(len(creatives)), a.Name(), "")
	return out, nil
}
