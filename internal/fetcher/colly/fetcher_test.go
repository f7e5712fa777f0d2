package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/leadfinder/internal/policy/simple"
)

func TestNewAppliesConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "test-agent", RespectRobots: true, MaxBodySize: 1024})
	if f.baseCollector.UserAgent != "test-agent" {
		t.Fatalf("expected user agent override, got %q", f.baseCollector.UserAgent)
	}
	if f.baseCollector.IgnoreRobotsTxt {
		t.Fatal("expected robots.txt to be respected")
	}
	if !f.baseCollector.AllowURLRevisit {
		t.Fatal("expected revisits to be allowed")
	}
	if f.baseCollector.MaxBodySize != 1024 {
		t.Fatalf("expected max body size 1024, got %d", f.baseCollector.MaxBodySize)
	}

	defaults := New(Config{})
	if defaults.cfg.Timeout != defaultTimeout || defaults.baseCollector.UserAgent != defaultUserAgent {
		t.Fatalf("expected defaults to apply, got %+v", defaults.cfg)
	}
	if !defaults.baseCollector.IgnoreRobotsTxt {
		t.Fatal("expected robots.txt to be ignored by default")
	}
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() != "test-agent" {
			t.Errorf("unexpected user agent %q", r.UserAgent())
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent", Timeout: time.Second})
	for range 2 {
		page, err := f.Fetch(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if page.StatusCode != http.StatusOK || string(page.Body) != "<html><body>hello</body></html>" {
			t.Fatalf("unexpected page: %+v", page)
		}
		if page.ContentType != "text/html; charset=utf-8" {
			t.Fatalf("unexpected content type %q", page.ContentType)
		}
	}
}

func TestFetchRefusesNonPublicDial(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	u.Host = "localhost:" + u.Port()

	f := New(Config{Timeout: time.Second, DialControl: simple.New().DialControl})
	_, err = f.Fetch(context.Background(), u.String())
	if err == nil || !strings.Contains(err.Error(), simple.ErrNonPublicAddress.Error()) {
		t.Fatalf("expected non-public address refusal, got %v", err)
	}
}

func TestFetchNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Fetch(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var page Page
	var fetchErr error
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &page, &fetchErr)
	if hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if page.StatusCode != http.StatusOK || string(page.Body) != "body" || page.ContentType != "text/html" {
		t.Fatalf("unexpected page: %+v", page)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	if fetchErr == nil || fetchErr.Error() != "status 403: Forbidden" {
		t.Fatalf("expected status-tagged error, got %v", fetchErr)
	}

	hooks.onError(nil, errors.New("dial tcp: refused"))
	if fetchErr == nil || fetchErr.Error() != "dial tcp: refused" {
		t.Fatalf("expected raw error, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
