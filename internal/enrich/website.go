package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"prospect-engine/internal/domain"
)

const maxPageBytes = 2 << 20

var analyticsMarkers = []string{
	"googletagmanager.com",
	"google-analytics.com",
	"gtag(",
	"fbq(",
	"plausible.io",
	"segment.com/analytics",
	"static.hotjar.com",
}

var socialHosts = []string{
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"linkedin.com",
	"youtube.com",
	"tiktok.com",
}

// Hosted site builders; a candidate living on one of these does not own its
// domain.
var freeHosts = []string{
	"wixsite.com",
	"wordpress.com",
	"blogspot.com",
	"webflow.io",
	"github.io",
	"netlify.app",
	"vercel.app",
	"squarespace.com",
}

// WebsiteSource loads the candidate's home page and derives deficiency,
// maturity and contact signals from it.
type WebsiteSource struct {
	Client        *http.Client
	Limiter       *HostLimiter
	UserAgent     string
	SlowThreshold time.Duration

	// Schemes is tried in order; tests point it at an httptest server.
	Schemes []string
	now     func() time.Time
}

func NewWebsiteSource(client *http.Client, lim *HostLimiter, userAgent string, slow time.Duration) *WebsiteSource {
	if client == nil {
		client = &http.Client{}
	}
	return &WebsiteSource{
		Client:        client,
		Limiter:       lim,
		UserAgent:     userAgent,
		SlowThreshold: slow,
		Schemes:       []string{"https", "http"},
		now:           time.Now,
	}
}

func (w *WebsiteSource) Name() string { return "website" }

func (w *WebsiteSource) Fetch(ctx context.Context, host string) (domain.Signals, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("website: empty domain")
	}
	now := w.now
	if now == nil {
		now = time.Now
	}

	var (
		resp    *http.Response
		elapsed time.Duration
		lastErr error
	)
	for _, scheme := range w.Schemes {
		u := scheme + "://" + host + "/"
		if err := w.Limiter.WaitURL(ctx, u); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if w.UserAgent != "" {
			req.Header.Set("User-Agent", w.UserAgent)
		}
		start := now()
		r, err := w.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		resp, elapsed = r, now().Sub(start)
		break
	}

	out := domain.Signals{}
	if resp == nil {
		// Unreachable is an observation, not a source failure.
		out.Flag(domain.SignalSiteReachable, false, w.Name(), errString(lastErr))
		return out, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		out.Flag(domain.SignalSiteReachable, false, w.Name(), fmt.Sprintf("status %d", resp.StatusCode))
		return out, nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("website: parse %s: %w", host, err)
	}

	final := resp.Request.URL
	out.Flag(domain.SignalSiteReachable, true, w.Name(), final.String())
	out.Flag(domain.SignalNoHTTPS, final.Scheme != "https", w.Name(), final.Scheme)
	if w.SlowThreshold > 0 {
		out.Flag(domain.SignalSlowResponse, elapsed > w.SlowThreshold, w.Name(), elapsed.Round(time.Millisecond).String())
	}

	_, hasViewport := doc.Find(`meta[name="viewport"]`).Attr("content")
	out.Flag(domain.SignalNoViewport, !hasViewport, w.Name(), "")

	desc, _ := doc.Find(`meta[name="description"]`).Attr("content")
	out.Flag(domain.SignalNoMetaDescription, strings.TrimSpace(desc) == "", w.Name(), "")

	tracker := findAnalytics(doc)
	out.Flag(domain.SignalNoAnalytics, tracker == "", w.Name(), tracker)

	out.Flag(domain.SignalCustomDomain, ownsDomain(final.Hostname()), w.Name(), final.Hostname())

	extractContacts(doc, out, w.Name())
	return out, nil
}

func findAnalytics(doc *goquery.Document) string {
	var found string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		body := src + " " + s.Text()
		for _, m := range analyticsMarkers {
			if strings.Contains(body, m) {
				found = m
				return false
			}
		}
		return true
	})
	return found
}

func extractContacts(doc *goquery.Document, out domain.Signals, source string) {
	var (
		email, phone, linkedin, contactPage string
		social                              = map[string]bool{}
	)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)

		switch {
		case strings.HasPrefix(lower, "mailto:"):
			if email == "" {
				email = strings.SplitN(href[len("mailto:"):], "?", 2)[0]
			}
			return
		case strings.HasPrefix(lower, "tel:"):
			if phone == "" {
				phone = href[len("tel:"):]
			}
			return
		}

		if u, err := url.Parse(href); err == nil && u.Host != "" {
			h := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
			for _, s := range socialHosts {
				if h == s || strings.HasSuffix(h, "."+s) {
					social[s] = true
					if s == "linkedin.com" && linkedin == "" {
						linkedin = href
					}
				}
			}
			return
		}

		text := strings.ToLower(a.Text())
		if contactPage == "" && (strings.Contains(lower, "contact") || strings.Contains(text, "contact")) {
			contactPage = href
		}
	})

	out.Flag(domain.SignalContactEmail, email != "", source, email)
	out.Flag(domain.SignalContactPhone, phone != "", source, phone)
	out.Flag(domain.SignalContactLinkedIn, linkedin != "", source, linkedin)
	out.Flag(domain.SignalContactPage, contactPage != "", source, contactPage)
	out.Count(domain.SignalSocialProfiles, float64(len(social)), source, "")
}

func ownsDomain(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host == "" {
		return false
	}
	for _, f := range freeHosts {
		if host == f || strings.HasSuffix(host, "."+f) {
			return false
		}
	}
	_, icann := publicsuffix.PublicSuffix(host)
	return icann
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
