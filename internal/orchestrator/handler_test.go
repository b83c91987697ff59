package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"hls-player/internal/quality"
)

func newTestHandler(t *testing.T, f *fakeFetcher) (*Handler, *Orchestrator) {
	t.Helper()
	o := newTestOrchestrator(t, f, &recordingSink{}, quality.DefaultConfig())
	return NewHandler(o, testLogger()), o
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_PostBandwidth(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})
	r := newTestRouter(h)

	rec := do(r, http.MethodPost, "/bandwidth", `{"bandwidth": 2000}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp tierResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tier != 1 || !resp.Switched {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandler_PostBandwidth_bad_request(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})
	r := newTestRouter(h)

	for _, body := range []string{"not json", `{}`, `{"bandwidth": -1}`} {
		if rec := do(r, http.MethodPost, "/bandwidth", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandler_PutTier(t *testing.T) {
	h, o := newTestHandler(t, &fakeFetcher{})
	r := newTestRouter(h)

	rec := do(r, http.MethodPut, "/tier", `{"index": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := o.Status().Tier; got != 1 {
		t.Errorf("tier not applied: got %d", got)
	}
}

func TestHandler_PutTier_out_of_range(t *testing.T) {
	h, o := newTestHandler(t, &fakeFetcher{})
	r := newTestRouter(h)

	rec := do(r, http.MethodPut, "/tier", `{"index": 5}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "out of range") {
		t.Errorf("expected error body, got %s", rec.Body.String())
	}
	if got := o.Status().Tier; got != 0 {
		t.Errorf("tier should be unchanged, got %d", got)
	}

	if rec := do(r, http.MethodPut, "/tier", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing index: expected 400, got %d", rec.Code)
	}
}

func TestHandler_PostLowResource(t *testing.T) {
	h, o := newTestHandler(t, &fakeFetcher{})
	r := newTestRouter(h)

	if _, err := o.SetTier(1); err != nil {
		t.Fatalf("SetTier: %v", err)
	}

	rec := do(r, http.MethodPost, "/low-resource", `{"level": 0.05}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if got := o.Status().Tier; got != 0 {
		t.Errorf("expected tier lowered to 0, got %d", got)
	}

	if rec := do(r, http.MethodPost, "/low-resource", `nope`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_GetStatus(t *testing.T) {
	h, _ := newTestHandler(t, &fakeFetcher{})
	r := newTestRouter(h)

	rec := do(r, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.TierCount != 2 || st.TierName != "low" || st.Session != nil {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestHandler_playlist_and_sessions(t *testing.T) {
	h, o := newTestHandler(t, &fakeFetcher{docs: tierDocs("low", lowMark, 3)})
	r := newTestRouter(h)

	if rec := do(r, http.MethodGet, "/playlist.m3u8", ""); rec.Code != http.StatusNotFound {
		t.Errorf("before first cycle: expected 404, got %d", rec.Code)
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "completed session", sessionInState(o, 0, SessionCompleted))

	rec := do(r, http.MethodGet, "/playlist.m3u8", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != playlistContentType {
		t.Errorf("expected playlist content type, got %s", rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "http://cdn/low/seg2.ts") || !strings.Contains(body, "#EXT-X-ENDLIST") {
		t.Errorf("unexpected playlist body: %s", body)
	}

	rec = do(r, http.MethodGet, "/sessions", "")
	var sessions []Session
	if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil || len(sessions) != 1 {
		t.Fatalf("sessions: %v %v", sessions, err)
	}

	rec = do(r, http.MethodGet, "/sessions/"+string(sessions[0].ID), "")
	if rec.Code != http.StatusOK {
		t.Errorf("get session: expected 200, got %d", rec.Code)
	}
	var s Session
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil || s.AccessUnits != 3 {
		t.Errorf("get session: %+v %v", s, err)
	}

	if rec := do(r, http.MethodGet, "/sessions/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", rec.Code)
	}
}
