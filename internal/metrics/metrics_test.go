package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if interceptedRequestsTotal == nil || cacheLookupsTotal == nil || idLookupsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveInterception("test-source", "blocked", "https://Ads.Example.com/pixel.gif")
	ObserveInterception("test-source", "blocked", "https://ads.example.com/track")
	if val := testutil.ToFloat64(interceptedRequestsTotal.WithLabelValues("test-source", "blocked", "ads.example.com")); val != 2 {
		t.Errorf("expected 2 blocked interceptions for ads.example.com, got %f", val)
	}

	ObserveInterception("test-source", "candidate", "https://cdn.example.net/master.m3u8")
	if val := testutil.ToFloat64(interceptedRequestsTotal.WithLabelValues("test-source", "candidate", "cdn.example.net")); val != 1 {
		t.Errorf("expected 1 candidate interception for cdn.example.net, got %f", val)
	}

	ObserveInterception("test-source", "passthrough", "https://fonts.example.org/a.woff")
	ObserveInterception("test-source", "passthrough", "https://static.example.org/app.js")
	if val := testutil.ToFloat64(interceptedRequestsTotal.WithLabelValues("test-source", "passthrough", "other")); val != 2 {
		t.Errorf("expected passthrough interceptions to share the other site, got %f", val)
	}

	before := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	ObserveCacheLookup(true)
	if val := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")); val != before+1 {
		t.Errorf("expected cache hit counter to grow by 1, got %f", val-before)
	}

	ObserveIDLookup("not_found")
	if val := testutil.ToFloat64(idLookupsTotal.WithLabelValues("not_found")); val < 1 {
		t.Errorf("expected id lookup counter to be observed, got %f", val)
	}

	IncActiveContexts()
	IncActiveContexts()
	DecActiveContexts()
	if val := testutil.ToFloat64(browserActiveContexts); val != 1 {
		t.Errorf("expected 1 active context, got %f", val)
	}
	DecActiveContexts()

	ObserveSlotWait(50 * time.Millisecond)
	if val := testutil.CollectAndCount(browserSlotWaitSeconds); val != 1 {
		t.Errorf("expected slot wait histogram to be collected, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://vidsrc.xyz/embed", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
