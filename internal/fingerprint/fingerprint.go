// Package fingerprint computes canonical content hashes over receipt images.
// Byte-identical content yields an identical digest regardless of whether it
// arrived as raw bytes, a base64 payload, or a remote URL.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gregjones/httpcache"
)

// maxFetchBytes caps how much of a remote document is read when hashing by URL.
const maxFetchBytes = 32 << 20 // 32 MiB

// DecodeError indicates malformed input content. Not retryable.
type DecodeError struct {
	err error
}

func (e *DecodeError) Error() string { return "decode content: " + e.err.Error() }

func (e *DecodeError) Unwrap() error { return e.err }

// FetchError indicates a failed remote fetch. StatusCode is zero when the
// request never reached the upstream. Callers may retry.
type FetchError struct {
	StatusCode int
	err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch content: upstream status %d", e.StatusCode)
	}
	return "fetch content: " + e.err.Error()
}

func (e *FetchError) Unwrap() error { return e.err }

// Service computes content fingerprints. The zero value is not usable; use
// NewService.
type Service struct {
	httpClient *http.Client
	maxTries   uint
}

// NewService creates a fingerprint service. When httpClient is nil a client
// with an in-memory HTTP cache is used, so hashing the same remote URL twice
// only fetches once.
func NewService(httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: httpcache.NewTransport(httpcache.NewMemoryCache()),
			Timeout:   30 * time.Second,
		}
	}
	return &Service{
		httpClient: httpClient,
		maxTries:   3,
	}
}

// FromBytes returns the lowercase hex sha256 digest of the content.
func FromBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// FromBase64 decodes the payload and hashes the decoded bytes.
// Malformed base64 fails with a DecodeError.
func (s *Service) FromBase64(payload string) (string, error) {
	content, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", &DecodeError{err: err}
	}
	return FromBytes(content), nil
}

// FromURL fetches the document and hashes its bytes. Transient failures
// (network errors, 5xx) are retried with exponential backoff; a 4xx response
// fails immediately with a FetchError carrying the upstream status.
func (s *Service) FromURL(ctx context.Context, url string) (string, error) {
	operation := func() (string, error) {
		digest, err := s.fetchAndHash(ctx, url)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) && fe.StatusCode >= 400 && fe.StatusCode < 500 {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return digest, nil
	}

	digest, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.maxTries),
	)
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (s *Service) fetchAndHash(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{err: err}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{StatusCode: resp.StatusCode, err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(resp.Body, maxFetchBytes)); err != nil {
		return "", &FetchError{err: err}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
