package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

type signerFake struct {
	url   string
	err   error
	calls int
	ttl   time.Duration
}

func (s *signerFake) SignedURL(_ context.Context, _ string, ttl time.Duration) (string, error) {
	s.calls++
	s.ttl = ttl
	return s.url, s.err
}

func testOptions() Options {
	return Options{
		Timeout: time.Second,
		Resilience: resilience.Config{Retry: resilience.RetryPolicy{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		}},
	}
}

func TestFetchDirectURLWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 direct"))
	}))
	defer server.Close()

	signer := &signerFake{url: "http://unused.invalid"}
	data, err := NewFetcher(signer, testOptions()).Fetch(context.Background(), "tenders/1.pdf", server.URL+"/1.pdf")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != "%PDF-1.4 direct" {
		t.Fatalf("unexpected body %q", data)
	}
	if signer.calls != 0 {
		t.Fatalf("signed strategy must not run after direct success")
	}
}

func TestFetchFallsBackToSignedURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/public/1.pdf" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("signed body"))
	}))
	defer server.Close()

	signer := &signerFake{url: server.URL + "/signed/1.pdf?sig=abc"}
	data, err := NewFetcher(signer, testOptions()).Fetch(context.Background(), "tenders/1.pdf", server.URL+"/public/1.pdf")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != "signed body" {
		t.Fatalf("unexpected body %q", data)
	}
	if signer.ttl != time.Hour {
		t.Fatalf("expected default 1h ttl, got %v", signer.ttl)
	}
}

func TestFetchBuildsPublicURLFromBase(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	opts := testOptions()
	opts.PublicBaseURL = server.URL + "/bucket"
	if _, err := NewFetcher(nil, opts).Fetch(context.Background(), "tenders/2.zip", ""); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotPath != "/bucket/tenders/2.zip" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestFetchAllStrategiesFailIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	signer := &signerFake{err: errors.New("no credentials")}
	_, err := NewFetcher(signer, testOptions()).Fetch(context.Background(), "tenders/1.pdf", server.URL+"/1.pdf")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestFetchWithoutAnySourceIsInvalid(t *testing.T) {
	_, err := NewFetcher(nil, testOptions()).Fetch(context.Background(), "", "")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFetchEnforcesMaxBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	opts := testOptions()
	opts.MaxBytes = 16
	_, err := NewFetcher(nil, opts).Fetch(context.Background(), "", server.URL)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected oversized download to fail, got %v", err)
	}
}

func TestFetchRetriesThrottledDownload(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("menu.pdf"))
	}))
	defer server.Close()

	opts := testOptions()
	opts.Resilience.Retry.MaxAttempts = 2
	opts.Resilience.Retry.RetryAfterCap = 5 * time.Millisecond
	data, err := NewFetcher(nil, opts).Fetch(context.Background(), "", server.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != "menu.pdf" || calls != 2 {
		t.Fatalf("expected success on the second call, got %q after %d", data, calls)
	}
}

func TestClassifyDownloadError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		retry bool
	}{
		{"throttled", &statusError{code: http.StatusTooManyRequests, retryAfter: time.Second}, true},
		{"server error", &statusError{code: http.StatusBadGateway}, true},
		{"forbidden", &statusError{code: http.StatusForbidden}, false},
		{"canceled", context.Canceled, false},
		{"oversized", errors.New("download exceeds 16 bytes"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyDownloadError(tc.err)
			if got.Retryable != tc.retry || got.RecordFailure != tc.retry {
				t.Fatalf("classifyDownloadError() = %+v, want retry=%v", got, tc.retry)
			}
		})
	}
	if got := classifyDownloadError(&statusError{code: 429, retryAfter: time.Second}); got.RetryAfter != time.Second {
		t.Fatalf("expected Retry-After to pass through, got %v", got.RetryAfter)
	}
}
