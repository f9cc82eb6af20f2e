// Package idmap translates IMDb style ids into the ids source URL templates
// expect.
package idmap

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/JakeFAU/bytewatch/internal/stream"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config controls the TMDB client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RPS and Burst bound outgoing lookups. Zero RPS disables limiting.
	RPS   float64
	Burst int
}

// TMDB resolves ids through the TMDB find endpoint. One request per call,
// no retries.
type TMDB struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTMDB builds a TMDB resolver. A nil client gets hardened defaults.
func NewTMDB(cfg Config, client *http.Client, logger *zap.Logger) (*TMDB, error) {
	if cfg.Token == "" {
		return nil, errors.New("tmdb token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("tmdb base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = newClient(cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &TMDB{baseURL: cfg.BaseURL, token: cfg.Token, client: client, logger: logger}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return t, nil
}

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

type findResponse struct {
	MovieResults []findResult `json:"movie_results"`
	TVResults    []findResult `json:"tv_results"`
}

type findResult struct {
	ID int64 `json:"id"`
}

// Resolve maps primaryID to the TMDB id for kind.
func (t *TMDB) Resolve(ctx context.Context, kind stream.Kind, primaryID string) (string, error) {
	unavailable := func(err error) error {
		return &stream.ResolutionError{Reason: stream.ReasonUnavailable, PrimaryID: primaryID, Err: err}
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", unavailable(fmt.Errorf("rate limiter: %w", err))
		}
	}

	endpoint := fmt.Sprintf("%s/find/%s?external_source=imdb_id", t.baseURL, url.PathEscape(primaryID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", unavailable(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", unavailable(fmt.Errorf("request failed: %w", err))
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			t.logger.Debug("tmdb body close failed", zap.Error(cerr))
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return "", &stream.ResolutionError{Reason: stream.ReasonNotFound, PrimaryID: primaryID}
	}
	if resp.StatusCode != http.StatusOK {
		return "", unavailable(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var body findResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return "", unavailable(fmt.Errorf("decode response: %w", err))
	}

	results := body.MovieResults
	if kind == stream.KindSeries {
		results = body.TVResults
	}
	if len(results) == 0 {
		return "", &stream.ResolutionError{Reason: stream.ReasonNotFound, PrimaryID: primaryID}
	}
	id := strconv.FormatInt(results[0].ID, 10)
	t.logger.Debug("tmdb id resolved",
		zap.String("primary_id", primaryID),
		zap.String("kind", string(kind)),
		zap.String("tmdb_id", id),
	)
	return id, nil
}

// Identity returns the primary id unchanged, for sources that accept IMDb ids.
type Identity struct{}

// Resolve implements stream.IdentifierResolver.
func (Identity) Resolve(_ context.Context, _ stream.Kind, primaryID string) (string, error) {
	if primaryID == "" {
		return "", &stream.ResolutionError{Reason: stream.ReasonNotFound, PrimaryID: primaryID}
	}
	return primaryID, nil
}
