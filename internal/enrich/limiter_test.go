package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://www.acme.com/about", "acme.com"},
		{"https://shop.ACME.com/", "acme.com"},
		{"http://acme.co.uk:8080/x", "acme.co.uk"},
		{"http://127.0.0.1:9000/ads", "127.0.0.1"},
		{"/relative/path", unknownKey},
		{"::", unknownKey},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, limitKey(tc.in))
		})
	}
}

func TestHostLimiterSharesBudgetAcrossSubdomains(t *testing.T) {
	ctx := context.Background()
	l := NewHostLimiter(0.001, 1, nil)

	require.NoError(t, l.WaitURL(ctx, "https://www.acme.com/"))

	// The only token for acme.com is spent, so another host on it waits.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.WaitURL(short, "https://shop.acme.com/contact"))

	// A different company is not held back.
	require.NoError(t, l.WaitURL(ctx, "https://bolt.io/"))
	assert.Equal(t, 2, l.Tracked())
}

func TestHostLimiterOverrides(t *testing.T) {
	ctx := context.Background()
	l := NewHostLimiter(0.001, 1, map[string]float64{"https://graph.ads.example": 1000, "bad.example": 0})

	for i := 0; i < 5; i++ {
		require.NoError(t, l.WaitURL(ctx, "https://graph.ads.example/v1/ads?q=acme"))
	}
	_, ok := l.overrides["bad.example"]
	assert.False(t, ok, "non-positive overrides fall back to the default rate")
}

func TestNilHostLimiterNeverWaits(t *testing.T) {
	var l *HostLimiter
	assert.NoError(t, l.WaitURL(context.Background(), "https://acme.com/"))
}
