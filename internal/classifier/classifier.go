// Package classifier decides what happens to each request a source page makes.
package classifier

import (
	"net/url"
	"path"
	"strings"

	"github.com/JakeFAU/bytewatch/internal/stream"
)

// DefaultBlockPatterns are the ad, tracker and anti-devtools fragments seen on
// the default sources.
var DefaultBlockPatterns = []string{
	"analytics",
	"ads",
	"social",
	"disable-devtool",
	"cloudflareinsights",
	"ainouzaudre",
	"pixel.embed",
	"histats",
}

// Classifier labels intercepted requests. It is immutable once built and safe
// for concurrent use.
type Classifier struct {
	substrings []string
	suffixes   []string
}

// New builds a Classifier. Patterns starting with "*." or "." match a host and
// its subdomains; anything else is a case-insensitive substring of the URL.
func New(patterns []string) *Classifier {
	c := &Classifier{}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."):
			c.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			c.addSuffix(strings.TrimPrefix(value, "."))
		default:
			c.substrings = append(c.substrings, value)
		}
	}
	return c
}

func (c *Classifier) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range c.suffixes {
		if existing == suffix {
			return
		}
	}
	c.suffixes = append(c.suffixes, suffix)
}

// Classify returns the disposition for rawURL. Blocking wins over candidacy.
func (c *Classifier) Classify(rawURL string) stream.Disposition {
	lowered := strings.ToLower(rawURL)
	host, urlPath := splitURL(lowered)
	if c.blocked(lowered, host) {
		return stream.Disposition{Verdict: stream.VerdictBlocked}
	}
	switch path.Ext(urlPath) {
	case ".m3u8":
		return stream.Disposition{Verdict: stream.VerdictCandidate, MediaType: stream.MediaHLS}
	case ".mp4":
		return stream.Disposition{Verdict: stream.VerdictCandidate, MediaType: stream.MediaMP4}
	}
	return stream.Disposition{Verdict: stream.VerdictPassthrough}
}

// Hook adapts the classifier to a browser request hook.
func (c *Classifier) Hook() stream.RequestHook {
	return func(req stream.InterceptedRequest) stream.Disposition {
		return c.Classify(req.URL)
	}
}

func (c *Classifier) blocked(lowered, host string) bool {
	if c == nil {
		return false
	}
	for _, fragment := range c.substrings {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	if host == "" {
		return false
	}
	for _, suffix := range c.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// splitURL returns the host and path, tolerating URLs net/url rejects.
func splitURL(raw string) (string, string) {
	if parsed, err := url.Parse(raw); err == nil {
		return parsed.Hostname(), parsed.Path
	}
	trimmed := raw
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return "", trimmed
}
