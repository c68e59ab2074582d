package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testSettings(base string) Settings {
	s := DefaultSettings()
	s.RawBaseURL = base
	return s
}

func TestFetchFallsBackToMaster(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/acme/toolkit/master/gemini-extension.json" {
			_, _ = w.Write([]byte(`{"name":"Toolkit","description":"Does things"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(testSettings(srv.URL), WithHTTPClient(srv.Client()))
	got, err := f.Fetch(context.Background(), Repo{Owner: "acme", Name: "toolkit"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Branch != "master" || got.URL != srv.URL+"/acme/toolkit/master/gemini-extension.json" {
		t.Fatalf("unexpected fetched %+v", got)
	}
	if len(paths) != 2 || !strings.Contains(paths[0], "/main/") {
		t.Fatalf("expected main then master, got %v", paths)
	}
}

func TestFetchStopsAtFirstSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := NewFetcher(testSettings(srv.URL), WithHTTPClient(srv.Client()))
	got, err := f.Fetch(context.Background(), Repo{Owner: "acme", Name: "toolkit"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Branch != "main" || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected single main fetch, got branch=%s calls=%d", got.Branch, calls)
	}
}

func TestFetchNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(testSettings(srv.URL), WithHTTPClient(srv.Client()))
	_, err := f.Fetch(context.Background(), Repo{Owner: "acme", Name: "toolkit"})
	if !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly two attempts, got %d", calls)
	}
}

func TestFetchCandidateTimeoutMovesOn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/main/") {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"name":"n","description":"d"}`))
	}))
	defer srv.Close()

	f := NewFetcher(testSettings(srv.URL), WithHTTPClient(srv.Client()), WithTimeout(50*time.Millisecond))
	got, err := f.Fetch(context.Background(), Repo{Owner: "acme", Name: "toolkit"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Branch != "master" {
		t.Fatalf("expected master after main timeout, got %s", got.Branch)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	f := NewFetcher(testSettings("http://127.0.0.1:1"), WithHTTPClient(http.DefaultClient))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Fetch(ctx, Repo{Owner: "a", Name: "b"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancelled, got %v", err)
	}
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	f := NewFetcher(testSettings(srv.URL), WithHTTPClient(srv.Client()), WithMaxBytes(16))
	if _, err := f.Fetch(context.Background(), Repo{Owner: "a", Name: "b"}); !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected oversized body to fail every candidate, got %v", err)
	}
}

func TestBreakerTripsOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(testSettings(srv.URL), WithHTTPClient(srv.Client()))
	for i := 0; i < 3; i++ {
		_, _ = f.Fetch(context.Background(), Repo{Owner: "a", Name: "b"})
	}
	states := f.BreakerStates()
	if states[hostOf(srv.URL)] != "open" {
		t.Fatalf("expected breaker open after repeated 5xx, got %v", states)
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewFetcher(testSettings(srv.URL), WithHTTPClient(srv.Client()))
	for i := 0; i < 5; i++ {
		_, _ = f.Fetch(context.Background(), Repo{Owner: "a", Name: "b"})
	}
	if state := f.BreakerStates()[hostOf(srv.URL)]; state != "closed" {
		t.Fatalf("expected breaker closed for 404s, got %s", state)
	}
}
