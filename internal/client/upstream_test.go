package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cors-proxy-go/internal/metrics"
)

func newTestClient() *UpstreamClient {
	return NewUpstreamClient(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestUpstreamClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient().Fetch(context.Background(), http.MethodGet, srv.URL+"/test", "application/json", 5*time.Second)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if resp.StatusText != "Created" {
		t.Errorf("StatusText = %q, want %q", resp.StatusText, "Created")
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Errorf("Body = %q, want %q", resp.Body, `{"status":"ok"}`)
	}
	if resp.Header.Get("X-Upstream") != "yes" {
		t.Errorf("X-Upstream = %q, want %q", resp.Header.Get("X-Upstream"), "yes")
	}
	if resp.FinalURL != srv.URL+"/test" {
		t.Errorf("FinalURL = %q, want %q", resp.FinalURL, srv.URL+"/test")
	}
}

func TestUpstreamClient_ForwardsOnlyAccept(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newTestClient().Fetch(context.Background(), http.MethodPost, srv.URL, "text/csv", 5*time.Second)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got.Get("Accept") != "text/csv" {
		t.Errorf("Accept = %q, want %q", got.Get("Accept"), "text/csv")
	}
	if got.Get("User-Agent") != userAgent {
		t.Errorf("User-Agent = %q, want %q", got.Get("User-Agent"), userAgent)
	}
	for _, h := range []string{"Cookie", "Authorization", "X-Forwarded-For", "Origin"} {
		if v := got.Get(h); v != "" {
			t.Errorf("%s should not be sent upstream, got %q", h, v)
		}
	}
}

func TestUpstreamClient_NoCookieJar(t *testing.T) {
	var secondCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		secondCookie = r.Header.Get("Cookie")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient()
	if _, err := c.Fetch(context.Background(), http.MethodGet, srv.URL+"/login", "", 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch(context.Background(), http.MethodGet, srv.URL+"/me", "", 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if secondCookie != "" {
		t.Errorf("cookie carried between fetches: %q", secondCookie)
	}
}

func TestUpstreamClient_FinalURL(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer other.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/x/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/x/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})
	mux.HandleFunc("/elsewhere", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/offsite", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL+"/y", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"trailing slash keeps requested", "/x", srv.URL + "/x"},
		{"same host redirect reports resolved", "/moved", srv.URL + "/elsewhere"},
		{"cross host redirect reports resolved", "/offsite", other.URL + "/y"},
	}

	c := newTestClient()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.Fetch(context.Background(), http.MethodGet, srv.URL+tt.path, "", 5*time.Second)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if resp.FinalURL != tt.want {
				t.Errorf("FinalURL = %q, want %q", resp.FinalURL, tt.want)
			}
		})
	}
}

func TestResolveFinalURL(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		resolved  string
		want      string
	}{
		{"prefix prefers requested", "https://a.example/x", "https://a.example/x/", "https://a.example/x"},
		{"different host uses resolved", "https://a.example/x", "https://b.example/y", "https://b.example/y"},
		{"identical", "https://a.example/x", "https://a.example/x", "https://a.example/x"},
		{"empty resolved", "https://a.example/x", "", "https://a.example/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveFinalURL(tt.requested, tt.resolved); got != tt.want {
				t.Errorf("ResolveFinalURL(%q, %q) = %q, want %q", tt.requested, tt.resolved, got, tt.want)
			}
		})
	}
}

func TestUpstreamClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient().Fetch(context.Background(), http.MethodGet, srv.URL, "", 50*time.Millisecond)
	if err == nil {
		t.Fatal("Fetch() expected timeout error, got nil")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Fetch() error = %v, want ErrTimeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch() error = %v, want wrapped context.DeadlineExceeded", err)
	}
	if err.Error() != "timeout of 50ms exceeded" {
		t.Errorf("Error() = %q, want %q", err.Error(), "timeout of 50ms exceeded")
	}
}

func TestUpstreamClient_ConnectionError(t *testing.T) {
	_, err := newTestClient().Fetch(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", "", 5*time.Second)
	if err == nil {
		t.Fatal("Fetch() expected error for unreachable host, got nil")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch() error = %T, want *FetchError", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("connection refused should not match ErrTimeout")
	}
	if !strings.Contains(err.Error(), "127.0.0.1:1") {
		t.Errorf("Error() = %q, want transport message", err.Error())
	}
}

func TestUpstreamClient_InvalidURL(t *testing.T) {
	_, err := newTestClient().Fetch(context.Background(), http.MethodGet, "://bad", "", 5*time.Second)
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch() error = %v, want *FetchError", err)
	}
}

func TestUpstreamClient_IgnoresCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := newTestClient().Fetch(ctx, http.MethodGet, srv.URL, "", 5*time.Second)
	if err != nil {
		t.Fatalf("Fetch() error = %v; caller cancellation must not abort the fetch", err)
	}
	if string(resp.Body) != "done" {
		t.Errorf("Body = %q, want %q", resp.Body, "done")
	}
}

func TestUpstreamClient_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewUpstreamClient(slog.New(slog.NewTextHandler(io.Discard, nil)), m)
	if _, err := c.Fetch(context.Background(), http.MethodGet, srv.URL, "", 5*time.Second); err != nil {
		t.Fatal(err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "cors_proxy_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "status_code" && lp.GetValue() == "418" {
					return
				}
			}
		}
	}
	t.Error("expected cors_proxy_upstream_responses_total with status_code=418")
}
