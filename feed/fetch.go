package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// FetchError reports a failed download of the upstream dataset: transport
// failure, timeout, or a non-200 response.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads the raw provider dataset from the configured
// open-data endpoint.
type Fetcher struct {
	url        string
	client     *http.Client
	maxRetries int
	logger     logrus.FieldLogger
}

// NewFetcher creates a Fetcher for the given feed URL. The timeout bounds
// each attempt; expiry surfaces as a FetchError.
func NewFetcher(url string, timeout time.Duration, maxRetries int, logger logrus.FieldLogger) *Fetcher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Fetcher{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger.WithField("component", "fetcher"),
	}
}

// Fetch downloads the dataset and returns its raw bytes. Transient
// failures are retried with exponential back-off; the last error is
// wrapped in a FetchError.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	var body []byte

	attempt := 0
	operation := func() error {
		attempt++
		data, err := f.fetchOnce(ctx)
		if err != nil {
			f.logger.WithError(err).Warnf("fetch attempt %d/%d failed", attempt, f.maxRetries)
			return err
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(f.maxRetries-1)),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, &FetchError{URL: f.url, Err: err}
	}

	f.logger.Infof("fetched %d bytes from feed", len(body))
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}
