package transcription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-audit-go/internal/logger"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// HTTPFetcher downloads transcript documents from the pre-signed result URI.
type HTTPFetcher struct {
	client     *http.Client
	maxElapsed time.Duration
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = httpClient
	}
	return &HTTPFetcher{client: client, maxElapsed: 30 * time.Second}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	log := logger.New().WithField("module", "transcription")

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.maxElapsed
	var body []byte
	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			log.WithError(err).Warn("transcript download failed")
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = err
			return err
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("download failed: status %d: %s", resp.StatusCode, string(b))
			return lastErr
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("download failed: status %d: %s", resp.StatusCode, string(b))
			return backoff.Permanent(lastErr)
		}
		if len(b) == 0 {
			lastErr = fmt.Errorf("empty body")
			return lastErr
		}
		body = b
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, lastErr
	}
	return body, nil
}
