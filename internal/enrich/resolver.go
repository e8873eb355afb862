package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
)

var domainBlocklist = []string{
	"linkedin.com",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"youtube.com",
	"yelp.com",
	"yellowpages.com",
	"bbb.org",
	"crunchbase.com",
	"zoominfo.com",
	"wikipedia.org",
	"indeed.com",
	"glassdoor.com",
	"mapquest.com",
	"google.com",
}

// NormalizeDomain reduces a URL or hostname to its registrable domain
// (eTLD+1), lowercased. It returns "" when nothing usable remains.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}

// Resolver finds a company's website from a search results page when a
// candidate was ingested without a domain.
type Resolver struct {
	Client    *http.Client
	Limiter   *HostLimiter
	SearchURL string
	UserAgent string
}

func (r *Resolver) Resolve(ctx context.Context, company string) (string, error) {
	company = strings.TrimSpace(company)
	if company == "" || r.SearchURL == "" {
		return "", nil
	}

	query := fmt.Sprintf("%s official website", sanitizeCompanyForSearch(company))
	u := r.SearchURL + "?q=" + url.QueryEscape(query)

	if err := r.Limiter.WaitURL(ctx, u); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	ua := r.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0"
	}
	req.Header.Set("User-Agent", ua)

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", company, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("resolve %q: status %d", company, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", company, err)
	}

	var best string
	// <a class="result__a" href="...">
	doc.Find("a.result__a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		host := NormalizeDomain(decodeSearchRedirect(href))
		if host == "" || isBlockedDomain(host) {
			return true
		}
		best = host
		return false
	})
	return best, nil
}

// decodeSearchRedirect unwraps /l/?uddg=<urlencoded> result links.
func decodeSearchRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		return uddg
	}
	return href
}

func isBlockedDomain(host string) bool {
	for _, b := range domainBlocklist {
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

func sanitizeCompanyForSearch(s string) string {
	repls := []string{
		", Inc.", "", " Inc.", "", " Inc", "",
		", LLC", "", " LLC", "",
		", Ltd.", "", " Ltd.", "", " Ltd", "",
		" GmbH", "",
	}
	s = strings.NewReplacer(repls...).Replace(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}
