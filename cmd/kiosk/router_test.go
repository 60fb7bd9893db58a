package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lannapoly/tiewson-kiosk/internal/bridge"
	"github.com/lannapoly/tiewson-kiosk/internal/config"
	"github.com/lannapoly/tiewson-kiosk/internal/content"
)

func newTestRouter(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>kiosk</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := content.NewService(content.NewMemoryRepository(), nil)
	srv := httptest.NewServer(newRouter(&config.Config{StaticDir: dir}, svc, bridge.NewHub()))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouterRoutes(t *testing.T) {
	srv := newTestRouter(t)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/healthz", http.StatusNoContent, ""},
		{"/api/admin/content", http.StatusOK, `"items":[]`},
		{"/", http.StatusOK, "kiosk"},
		{"/admin/some/route", http.StatusOK, "kiosk"},
		{"/metrics", http.StatusOK, "kiosk_content_items"},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.status || !strings.Contains(string(body), tt.body) {
			t.Errorf("GET %s = %d %q", tt.path, resp.StatusCode, body)
		}
	}
}

func TestRouterCORS(t *testing.T) {
	srv := newTestRouter(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/admin/content", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/admin/content", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Error("foreign origin allowed")
	}
}
