package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/seg0.ts":
			w.Write([]byte{0, 0, 1, 0x41})
		case "/index.m3u8":
			w.Write([]byte("seg0.ts\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), time.Second, 0)

	body, err := f.Fetch(context.Background(), srv.URL+"/seg0.ts")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(body) != 4 || body[3] != 0x41 {
		t.Errorf("unexpected body %x", body)
	}

	doc, err := f.Fetch(context.Background(), srv.URL+"/index.m3u8")
	if err != nil || string(doc) != "seg0.ts\n" {
		t.Errorf("manifest: %q %v", doc, err)
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.ts"); !errors.Is(err, ErrStatus) {
		t.Errorf("expected ErrStatus, got %v", err)
	}
}

func TestHTTPFetcher_timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewHTTPFetcher(srv.Client(), 20*time.Millisecond, 0)
	_, err := f.Fetch(context.Background(), srv.URL+"/slow.ts")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestHTTPFetcher_bad_locator(t *testing.T) {
	f := NewHTTPFetcher(nil, 0, 0)
	if f.timeout != DefaultTimeout || f.maxBytes != DefaultMaxBytes {
		t.Errorf("defaults: got %v %d", f.timeout, f.maxBytes)
	}
	if _, err := f.Fetch(context.Background(), "://nope"); err == nil {
		t.Error("expected error for malformed locator")
	}
}

func TestHTTPFetcher_body_limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 16))
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(srv.Client(), time.Second, 16).Fetch(context.Background(), srv.URL+"/exact.ts")
	if err != nil || len(body) != 16 {
		t.Errorf("body at the limit: %d bytes, %v", len(body), err)
	}

	_, err = NewHTTPFetcher(srv.Client(), time.Second, 15).Fetch(context.Background(), srv.URL+"/big.ts")
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}
