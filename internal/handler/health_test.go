package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/registry"
)

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{}
	h := NewHealthHandler(cfg, registry.New(cfg), "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name      string
		cache     config.CacheConfig
		wantCache string
	}{
		{"redis configured", config.CacheConfig{Host: "localhost", Port: 6379}, "redis"},
		{"redis url", config.CacheConfig{URL: "redis://localhost:6379/0"}, "redis"},
		{"no cache", config.CacheConfig{}, "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			cfg := &config.Config{Cache: tt.cache, Applications: testApps}
			h := NewHealthHandler(cfg, registry.New(cfg), "1.2.3")
			if err := h.Status(c); err != nil {
				t.Fatalf("Status() error = %v", err)
			}

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			var body struct {
				Status       string `json:"status"`
				Version      string `json:"version"`
				Applications int    `json:"applications"`
				Cache        string `json:"cache"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body.Status != "ok" || body.Version != "1.2.3" {
				t.Errorf("body = %+v", body)
			}
			if body.Applications != len(testApps) {
				t.Errorf("applications = %d, want %d", body.Applications, len(testApps))
			}
			if body.Cache != tt.wantCache {
				t.Errorf("cache = %q, want %q", body.Cache, tt.wantCache)
			}
			if strings.Contains(rec.Body.String(), "open-key") {
				t.Error("status output must not contain API keys")
			}
		})
	}
}
