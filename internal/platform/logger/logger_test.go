package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWriter_json_filters_level(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown", "tier", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["tier"] != float64(2) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewWriter_text_and_console(t *testing.T) {
	for _, format := range []string{"text", "console"} {
		var buf bytes.Buffer
		NewWriter(&buf, "info", format).Info("hello", "k", "v")
		if !strings.Contains(buf.String(), "hello") {
			t.Errorf("%s: expected message in output, got %q", format, buf.String())
		}
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info", "json")
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bandwidth", nil))

	out := buf.String()
	if !strings.Contains(out, `"status":202`) || !strings.Contains(out, `"path":"/bandwidth"`) || !strings.Contains(out, `"size":2`) {
		t.Errorf("request log missing fields: %s", out)
	}
}

func TestRequestLogger_route_pattern(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(RequestLogger(NewWriter(&buf, "info", "json")))
	r.Get("/sessions/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))

	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["route"] != "/sessions/{session_id}" || rec["path"] != "/sessions/abc" || rec["status"] != float64(404) {
		t.Errorf("unexpected record: %v", rec)
	}
}
