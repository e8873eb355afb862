package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospect-engine/internal/domain"
)

const polishedPage = `<html><head>
<meta name="viewport" content="width=device-width">
<meta name="description" content="Family dentistry">
<script async src="https://www.googletagmanager.com/gtag/js?id=G-1"></script>
</head><body>
<a href="mailto:owner@acme.com?subject=hi">Email</a>
<a href="tel:+15551234">Call</a>
<a href="https://www.linkedin.com/company/acme">LinkedIn</a>
<a href="https://facebook.com/acme">FB</a>
<a href="/contact-us">Contact</a>
</body></html>`

const barePage = `<html><head><title>Acme</title></head><body><p>Welcome</p></body></html>`

func serve(t *testing.T, body string) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "prospect-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, strings.TrimPrefix(srv.URL, "http://")
}

func newTestWebsite(srv *httptest.Server) *WebsiteSource {
	w := NewWebsiteSource(srv.Client(), nil, "prospect-test", time.Minute)
	w.Schemes = []string{"http"}
	return w
}

func TestWebsiteSourcePolishedSite(t *testing.T) {
	srv, host := serve(t, polishedPage)

	got, err := newTestWebsite(srv).Fetch(context.Background(), host)
	require.NoError(t, err)

	on := func(k domain.SignalKey) bool { return got[k].Known() && got[k].Value == 1 }
	assert.True(t, on(domain.SignalSiteReachable))
	assert.True(t, on(domain.SignalNoHTTPS), "plain http server")
	assert.False(t, on(domain.SignalNoViewport))
	assert.False(t, on(domain.SignalNoMetaDescription))
	assert.False(t, on(domain.SignalNoAnalytics))
	assert.False(t, on(domain.SignalSlowResponse))
	assert.True(t, on(domain.SignalContactEmail))
	assert.Equal(t, "owner@acme.com", got[domain.SignalContactEmail].Evidence)
	assert.True(t, on(domain.SignalContactPhone))
	assert.True(t, on(domain.SignalContactLinkedIn))
	assert.True(t, on(domain.SignalContactPage))
	assert.Equal(t, 2.0, got[domain.SignalSocialProfiles].Value)
}

func TestWebsiteSourceBareSite(t *testing.T) {
	srv, host := serve(t, barePage)

	got, err := newTestWebsite(srv).Fetch(context.Background(), host)
	require.NoError(t, err)

	for _, k := range []domain.SignalKey{
		domain.SignalNoViewport,
		domain.SignalNoMetaDescription,
		domain.SignalNoAnalytics,
	} {
		assert.Equal(t, 1.0, got[k].Value, k)
	}
	assert.Equal(t, 0.0, got[domain.SignalContactEmail].Value)
	assert.Equal(t, 0.0, got[domain.SignalSocialProfiles].Value)
}

func TestWebsiteSourceUnreachable(t *testing.T) {
	srv, host := serve(t, barePage)
	w := newTestWebsite(srv)
	srv.Close()

	got, err := w.Fetch(context.Background(), host)
	require.NoError(t, err)
	assert.True(t, got[domain.SignalSiteReachable].Known())
	assert.Equal(t, 0.0, got[domain.SignalSiteReachable].Value)
	_, ok := got[domain.SignalNoHTTPS]
	assert.False(t, ok, "no deficiency signals without a page")
}

func TestWebsiteSourceHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	w := newTestWebsite(srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.Fetch(ctx, strings.TrimPrefix(srv.URL, "http://"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOwnsDomain(t *testing.T) {
	cases := map[string]bool{
		"acme.com":           true,
		"www.acme.co.uk":     true,
		"acme.wixsite.com":   false,
		"acme.github.io":     false,
		"shop.netlify.app":   false,
		"":                   false,
		"intranet.localhost": false,
	}
	for host, want := range cases {
		t.Run(host, func(t *testing.T) {
			assert.Equal(t, want, ownsDomain(host))
		})
	}
}
