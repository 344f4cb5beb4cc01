package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Jaaaxx/DnD-Companion/internal/health"
)

func get(t *testing.T, h *health.Handler, path string) (int, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	h := health.New(health.Probe{
		Name: "broken",
		Run:  func(context.Context) error { return errors.New("down") },
	})
	code, body := get(t, h, "/healthz")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	t.Run("all probes pass", func(t *testing.T) {
		t.Parallel()
		h := health.New(
			health.Probe{Name: "database", Run: func(context.Context) error { return nil }},
			health.Probe{Name: "stt-provider", Run: func(context.Context) error { return nil }},
		)
		code, body := get(t, h, "/readyz")
		if code != http.StatusOK || body["status"] != "ok" {
			t.Fatalf("readyz = %d %v", code, body)
		}
	})

	t.Run("failing probe reports 503 with detail", func(t *testing.T) {
		t.Parallel()
		h := health.New(
			health.Probe{Name: "database", Run: func(context.Context) error { return nil }},
			health.Probe{Name: "stt-provider", Run: func(context.Context) error { return errors.New("no route") }},
		)
		code, body := get(t, h, "/readyz")
		if code != http.StatusServiceUnavailable || body["status"] != "fail" {
			t.Fatalf("readyz = %d %v", code, body)
		}
		probes := body["probes"].(map[string]any)
		if probes["database"] != "ok" {
			t.Errorf("database probe = %v", probes["database"])
		}
		if probes["stt-provider"] != "fail: no route" {
			t.Errorf("stt probe = %v", probes["stt-provider"])
		}
	})
}
