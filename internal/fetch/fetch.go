// Package fetch implements a retrying, timeout-bounded HTTP byte source:
// it returns either a byte stream and its digests computed in one pass,
// or an error classified as transient or permanent so the Executor knows
// whether to retry.
package fetch

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/zextras/reposync/internal/manifest"
	"github.com/zextras/reposync/internal/safety"
)

// Classification distinguishes errors that are worth retrying from those
// that are not.
type Classification string

const (
	Transient Classification = "transient"
	Permanent Classification = "permanent"
)

// Error wraps a fetch failure with its classification and, where
// applicable, the originating HTTP status code.
type Error struct {
	Classification Classification
	StatusCode     int
	Err            error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s error (http %d): %v", e.Classification, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s error: %v", e.Classification, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Credentials is basic-auth credentials for an upstream endpoint.
type Credentials struct {
	Username string
	Password string
}

// ResolveCredentials picks the credentials for a repository. When both
// inline and file credentials are present, the credentials file takes
// precedence over inline credentials.
func ResolveCredentials(inline *Credentials, credentialsFile string) (*Credentials, error) {
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		line := strings.TrimSpace(string(data))
		user, pass, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("credentials file %q must contain user:password", credentialsFile)
		}
		return &Credentials{Username: user, Password: pass}, nil
	}
	return inline, nil
}

// Request describes one fetch: the URL, optional credentials, and the
// retry policy to apply.
type Request struct {
	URL         string
	Credentials *Credentials
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// Result is a fully-read, digested byte stream.
type Result struct {
	Data    []byte
	Size    int64
	Digests manifest.DigestSet
}

// Fetcher is the narrow interface the rest of the core depends on, so
// tests can inject a fake byte source instead of talking to the network.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// HTTPFetcher is the real implementation, thin over net/http, following
// the hardened-client pattern of internal/safety.NewHTTPClient.
type HTTPFetcher struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string
}

// NewHTTPFetcher creates an HTTPFetcher. logger defaults to slog.Default()
// if nil.
func NewHTTPFetcher(logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	// Each attempt bounds itself with a per-request context timeout (see
	// attempt below), since req.Timeout varies per repository; the
	// client-level Timeout NewHTTPClient sets is cleared so it never
	// races that per-attempt deadline.
	client := safety.NewHTTPClient(0)
	client.Timeout = 0
	return &HTTPFetcher{
		client:    client,
		logger:    logger,
		userAgent: "reposync/1.0",
	}
}

// Fetch performs the GET, making at most req.MaxRetries attempts in total
// (one when MaxRetries is not positive) with req.RetryDelay between
// attempts; only transient failures are retried. Permanent failures
// propagate immediately without retry.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result, err := f.attempt(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var fe *Error
		if errors.As(err, &fe) && fe.Classification == Permanent {
			return nil, err
		}

		if attempt < maxRetries {
			f.logger.Debug("retrying fetch", "url", req.URL, "attempt", attempt, "error", err)
			delay := req.RetryDelay
			if delay <= 0 {
				delay = time.Second
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("fetch failed after %d attempts: %w", maxRetries, lastErr)
}

// maxBodySize bounds a single fetch response, guarding against a
// malicious or misbehaving upstream advertising an unbounded body.
const maxBodySize = 10 << 30 // 10 GiB

func (f *HTTPFetcher) attempt(ctx context.Context, req Request) (*Result, error) {
	u, err := safety.ValidateHTTPURL(req.URL)
	if err != nil {
		return nil, &Error{Classification: Permanent, Err: err}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Classification: Permanent, Err: err}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	if req.Credentials != nil {
		httpReq.SetBasicAuth(req.Credentials.Username, req.Credentials.Password)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode)
	}

	data, err := safety.ReadAllWithLimit(resp.Body, maxBodySize)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, &Error{Classification: Permanent, Err: err}
		}
		return nil, classifyTransportError(err)
	}

	md5h, sha1h, sha256h, sha512h := md5.New(), sha1.New(), sha256.New(), sha512.New()
	mw := io.MultiWriter(md5h, sha1h, sha256h, sha512h)
	if _, err := mw.Write(data); err != nil {
		return nil, classifyTransportError(err)
	}

	return &Result{
		Data: data,
		Size: int64(len(data)),
		Digests: manifest.DigestSet{
			manifest.MD5:    hex.EncodeToString(md5h.Sum(nil)),
			manifest.SHA1:   hex.EncodeToString(sha1h.Sum(nil)),
			manifest.SHA256: hex.EncodeToString(sha256h.Sum(nil)),
			manifest.SHA512: hex.EncodeToString(sha512h.Sum(nil)),
		},
	}, nil
}

func classifyStatus(code int) error {
	if code == 408 || code == 429 || code >= 500 {
		return &Error{Classification: Transient, StatusCode: code, Err: fmt.Errorf("http status %d", code)}
	}
	return &Error{Classification: Permanent, StatusCode: code, Err: fmt.Errorf("http status %d", code)}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Classification: Transient, Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &Error{Classification: Transient, Err: err}
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return &Error{Classification: Transient, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &Error{Classification: Transient, Err: err}
		}
		// TLS failures and malformed-response failures remaining here are
		// classified permanent. Connection resets were already caught above.
		return &Error{Classification: Permanent, Err: err}
	}
	return &Error{Classification: Transient, Err: err}
}
