package enrich

import (
	"context"
	"net"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter paces outbound enrichment requests per registrable domain:
// www.acme.com and shop.acme.com draw from one budget, so a company is
// never fetched faster than the configured rate however its candidates
// spell the host. Domains listed in overrides (an ad API, a search
// endpoint) get their own rate.
type HostLimiter struct {
	rate      rate.Limit
	burst     int
	overrides map[string]rate.Limit

	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

// unknownKey shares one budget between URLs with no usable host.
const unknownKey = "_"

func NewHostLimiter(reqPerSec float64, burst int, overrides map[string]float64) *HostLimiter {
	l := &HostLimiter{
		rate:      rate.Limit(reqPerSec),
		burst:     burst,
		overrides: make(map[string]rate.Limit, len(overrides)),
		byKey:     make(map[string]*rate.Limiter),
	}
	for d, r := range overrides {
		if key := NormalizeDomain(d); key != "" && r > 0 {
			l.overrides[key] = rate.Limit(r)
		}
	}
	return l
}

// WaitURL blocks until a request to rawURL may go out or ctx ends. A nil
// limiter never waits.
func (l *HostLimiter) WaitURL(ctx context.Context, rawURL string) error {
	if l == nil {
		return nil
	}
	return l.limiter(limitKey(rawURL)).Wait(ctx)
}

// Tracked is the number of domains with a live limiter.
func (l *HostLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

func (l *HostLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.byKey[key]; ok {
		return lim
	}
	r, ok := l.overrides[key]
	if !ok {
		r = l.rate
	}
	lim := rate.NewLimiter(r, l.burst)
	l.byKey[key] = lim
	return lim
}

func limitKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return unknownKey
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		return ip.String()
	}
	if d := NormalizeDomain(u.Hostname()); d != "" {
		return d
	}
	return unknownKey
}
