package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospect-engine/internal/domain"
)

func TestAdLibrarySourceCountsWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "2026-04-01T00:00:00Z", r.URL.Query().Get("since"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ads":[
			{"platform":"facebook","creative_id":"a","started_at":"2026-04-20T00:00:00Z"},
			{"platform":"facebook","creative_id":"b","started_at":"2026-04-25T00:00:00Z"},
			{"platform":"google","creative_id":"b","started_at":"2026-04-28T00:00:00Z"},
			{"platform":"google","creative_id":"old","started_at":"2026-01-01T00:00:00Z"}
		]}`)
	}))
	defer srv.Close()

	src := &AdLibrarySource{
		Client:   srv.Client(),
		Endpoint: srv.URL + "/ads",
		Window:   30 * 24 * time.Hour,
		Now:      func() time.Time { return now },
	}
	got, err := src.Fetch(context.Background(), "acme.com")
	require.NoError(t, err)

	assert.Equal(t, 3.0, got[domain.SignalAdCount].Value)
	assert.Equal(t, 2.0, got[domain.SignalAdPlatforms].Value)
	assert.Equal(t, 2.0, got[domain.SignalAdCreatives].Value)
	assert.Equal(t, "ad_library", got[domain.SignalAdCount].Source)
}

func TestAdLibrarySourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := &AdLibrarySource{Client: srv.Client(), Endpoint: srv.URL, Window: time.Hour}
	_, err := src.Fetch(context.Background(), "acme.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestAdLibrarySourceRequiresEndpoint(t *testing.T) {
	_, err := (&AdLibrarySource{}).Fetch(context.Background(), "acme.com")
	assert.Error(t, err)
}
