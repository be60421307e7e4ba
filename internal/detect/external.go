// Package detect orchestrates snippet identification: local fingerprint
// matching first, with an external recognition service as fallback when the
// local index cannot produce a confident answer.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aircheck-labs/aircheck-cli/internal/model"
	"github.com/aircheck-labs/aircheck-cli/internal/resilience"
)

// ErrNoExternalMatch means the external service processed the snippet but
// recognized nothing. Distinct from transport failure: no retry helps.
var ErrNoExternalMatch = eris.New("detect: no external match")

// ExternalResult is the external service's identification of a snippet.
type ExternalResult struct {
	Title      string          `json:"title"`
	Artist     string          `json:"artist"`
	Album      string          `json:"album,omitempty"`
	ISRC       string          `json:"isrc,omitempty"`
	ISWC       string          `json:"iswc,omitempty"`
	Confidence float64         `json:"confidence"`
	Raw        json.RawMessage `json:"-"`
}

// Client identifies an audio snippet against an external catalog.
type Client interface {
	Identify(ctx context.Context, snippet model.Snippet) (*ExternalResult, error)
}

// HTTPClientOptions configures the external recognition client.
type HTTPClientOptions struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxAttempts    int
	RequestsPerSec float64
}

// HTTPClient calls the external recognition API over HTTP with rate
// limiting and bounded retry on transient failures.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewHTTPClient creates an external recognition client.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 2
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = opts.MaxAttempts
	retryCfg.OnRetry = resilience.RetryLogger("external-recognition", "identify")

	return &HTTPClient{
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		retry:   retryCfg,
	}
}

// externalResponse is the wire shape of the service's identify endpoint.
type externalResponse struct {
	Matched bool    `json:"matched"`
	Title   string  `json:"title"`
	Artist  string  `json:"artist"`
	Album   string  `json:"album"`
	ISRC    string  `json:"isrc"`
	ISWC    string  `json:"iswc"`
	Score   float64 `json:"score"`
}

// Identify posts the snippet's raw audio bytes and returns the service's
// answer. Transient HTTP failures are retried with backoff inside the call;
// a clean "no match" response returns ErrNoExternalMatch.
func (c *HTTPClient) Identify(ctx context.Context, snippet model.Snippet) (*ExternalResult, error) {
	if len(snippet.Raw) == 0 {
		return nil, eris.New("detect: snippet has no raw audio payload")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*ExternalResult, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "detect: rate limiter")
		}
		return c.identifyOnce(ctx, snippet)
	})
}

func (c *HTTPClient) identifyOnce(ctx context.Context, snippet model.Snippet) (*ExternalResult, error) {
	url := fmt.Sprintf("%s/v1/identify?station_id=%s&session_id=%s",
		c.baseURL, snippet.StationID, snippet.SessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(snippet.Raw))
	if err != nil {
		return nil, eris.Wrap(err, "detect: build identify request")
	}
	req.Header.Set("Content-Type", "audio/wav")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network level failures are worth retrying.
		return nil, resilience.NewTransientError(eris.Wrap(err, "detect: identify request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "detect: read identify response"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoExternalMatch
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("detect: identify returned status %d", resp.StatusCode), resp.StatusCode)
	default:
		return nil, eris.Errorf("detect: identify returned status %d", resp.StatusCode)
	}

	var wire externalResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, eris.Wrap(err, "detect: decode identify response")
	}
	if !wire.Matched {
		return nil, ErrNoExternalMatch
	}

	zap.L().Debug("external identification",
		zap.String("station_id", snippet.StationID),
		zap.String("title", wire.Title),
		zap.String("artist", wire.Artist),
		zap.Float64("score", wire.Score),
	)

	return &ExternalResult{
		Title:      wire.Title,
		Artist:     wire.Artist,
		Album:      wire.Album,
		ISRC:       wire.ISRC,
		ISWC:       wire.ISWC,
		Confidence: wire.Score,
		Raw:        json.RawMessage(body),
	}, nil
}
