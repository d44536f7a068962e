package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/postcrawl/internal/crawler"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()

		c := New()
		defer c.Close()

		if c.timeout != DefaultTimeout {
			t.Errorf("expected timeout %v, got %v", DefaultTimeout, c.timeout)
		}
		if c.userAgent != DefaultUserAgent {
			t.Errorf("expected default user agent, got %q", c.userAgent)
		}
		if c.maxAttempts != 1 {
			t.Errorf("expected 1 attempt, got %d", c.maxAttempts)
		}
		if c.limiter != nil {
			t.Error("expected no rate limiter by default")
		}
	})

	t.Run("clamps retry attempts", func(t *testing.T) {
		t.Parallel()

		c := New(WithRetry(0))
		defer c.Close()

		if c.maxAttempts != 1 {
			t.Errorf("expected 1 attempt, got %d", c.maxAttempts)
		}
	})

	t.Run("ignores empty user agent", func(t *testing.T) {
		t.Parallel()

		c := New(WithUserAgent(""))
		defer c.Close()

		if c.userAgent != DefaultUserAgent {
			t.Errorf("expected default user agent, got %q", c.userAgent)
		}
	})
}

func TestClient_Fetch(t *testing.T) {
	t.Parallel()

	t.Run("returns page with request headers applied", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("User-Agent") != "postcrawl-test" {
				t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
			}
			if r.Header.Get("Cookie") != "itchio=abc" {
				t.Errorf("unexpected cookie %q", r.Header.Get("Cookie"))
			}
			if r.Header.Get("X-Board") != "wiggly" {
				t.Errorf("unexpected X-Board %q", r.Header.Get("X-Board"))
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body>ok</body></html>"))
		}))
		defer server.Close()

		c := New(
			WithUserAgent("postcrawl-test"),
			WithCookie("itchio=abc"),
			WithHeaders(map[string]string{"X-Board": "wiggly"}),
			WithLogger(quietLogger()),
		)
		defer c.Close()

		resp, err := c.Fetch(context.Background(), server.URL+"/community")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if resp.URL != server.URL+"/community" {
			t.Errorf("unexpected URL %q", resp.URL)
		}
		if !strings.HasPrefix(resp.ContentType, "text/html") {
			t.Errorf("unexpected content type %q", resp.ContentType)
		}
		if string(resp.Body) != "<html><body>ok</body></html>" {
			t.Errorf("unexpected body %q", resp.Body)
		}
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		c := New(WithRetry(3), WithRetryInterval(time.Millisecond), WithLogger(quietLogger()))
		defer c.Close()

		_, err := c.Fetch(context.Background(), server.URL)
		var fe *crawler.FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("expected *crawler.FetchError, got %T (%v)", err, err)
		}
		if fe.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", fe.StatusCode)
		}
		if hits.Load() != 1 {
			t.Errorf("expected 1 request, got %d", hits.Load())
		}
	})

	t.Run("retries server errors until success", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("recovered"))
		}))
		defer server.Close()

		c := New(WithRetry(3), WithRetryInterval(time.Millisecond), WithLogger(quietLogger()))
		defer c.Close()

		resp, err := c.Fetch(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(resp.Body) != "recovered" {
			t.Errorf("unexpected body %q", resp.Body)
		}
		if hits.Load() != 2 {
			t.Errorf("expected 2 requests, got %d", hits.Load())
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := New(WithRetry(2), WithRetryInterval(time.Millisecond), WithLogger(quietLogger()))
		defer c.Close()

		_, err := c.Fetch(context.Background(), server.URL)
		var fe *crawler.FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("expected *crawler.FetchError, got %T (%v)", err, err)
		}
		if fe.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", fe.StatusCode)
		}
		if hits.Load() != 2 {
			t.Errorf("expected 2 requests, got %d", hits.Load())
		}
	})

	t.Run("single attempt without retry", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := New(WithLogger(quietLogger()))
		defer c.Close()

		if _, err := c.Fetch(context.Background(), server.URL); err == nil {
			t.Fatal("expected error")
		}
		if hits.Load() != 1 {
			t.Errorf("expected 1 request, got %d", hits.Load())
		}
	})

	t.Run("rejects oversized bodies", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		}))
		defer server.Close()

		c := New(WithMaxBodySize(16), WithLogger(quietLogger()))
		defer c.Close()

		_, err := c.Fetch(context.Background(), server.URL)
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Errorf("expected ErrBodyTooLarge, got %v", err)
		}
	})

	t.Run("reports transport failures", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
		url := server.URL
		server.Close()

		c := New(WithTimeout(time.Second), WithLogger(quietLogger()))
		defer c.Close()

		_, err := c.Fetch(context.Background(), url)
		var fe *crawler.FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("expected *crawler.FetchError, got %T (%v)", err, err)
		}
		if fe.StatusCode != 0 {
			t.Errorf("expected status 0, got %d", fe.StatusCode)
		}
		if fe.URL != url {
			t.Errorf("expected URL %q, got %q", url, fe.URL)
		}
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := New(WithRetry(5), WithRetryInterval(time.Millisecond), WithLogger(quietLogger()))
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := c.Fetch(ctx, server.URL); err == nil {
			t.Fatal("expected error")
		}
		if hits.Load() > 1 {
			t.Errorf("expected at most 1 request, got %d", hits.Load())
		}
	})

	t.Run("spaces requests with rate limit", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		defer server.Close()

		c := New(WithRateLimit(50*time.Millisecond), WithLogger(quietLogger()))
		defer c.Close()

		start := time.Now()
		for range 3 {
			if _, err := c.Fetch(context.Background(), server.URL); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
			t.Errorf("expected requests to be spaced, took %v", elapsed)
		}
	})
}
