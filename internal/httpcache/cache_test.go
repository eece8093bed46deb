package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestFetchCachesMaxAge(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "max-age=3600")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cache, err := New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		body, err := cache.Fetch(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if string(body) != "payload" {
			t.Fatalf("body = %q", body)
		}
	}
	if hits != 1 {
		t.Errorf("origin hit %d times, want 1 (subsequent calls should be served from cache)", hits)
	}
}

func TestFetchNoStoreNeverCaches(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "no-store")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cache, err := New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := cache.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if hits != 2 {
		t.Errorf("origin hit %d times, want 2 (no-store must bypass the cache)", hits)
	}
}

func TestFetchNonOKStatusIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cache, err := New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = cache.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("err = %T, want *FetchError", err)
	}
	if fe.Status != 404 {
		t.Errorf("Status = %d, want 404", fe.Status)
	}
}

func TestFetchAuthSendsBearerHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cache, err := New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cache.FetchAuth(context.Background(), srv.URL, "tok123"); err != nil {
		t.Fatalf("FetchAuth: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer tok123")
	}
}

func TestParseCacheControlImmutable(t *testing.T) {
	cc := parseCacheControl("max-age=0, immutable")
	if !cc.immutable {
		t.Error("immutable not parsed")
	}
}

func TestKeyForIsStableSHA256(t *testing.T) {
	cache := &Cache{}
	a := cache.keyFor("https://example.com/a")
	b := cache.keyFor("https://example.com/a")
	c := cache.keyFor("https://example.com/b")
	if a != b {
		t.Error("keyFor is not deterministic")
	}
	if a == c {
		t.Error("different URLs collided")
	}
	if len(a) != 64 {
		t.Errorf("len(key) = %d, want 64 hex chars", len(a))
	}
}

func TestAtomicWriteProducesReadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.bin")
	if err := atomicWrite(path, []byte("hello")); err != nil {
		t.Fatalf("atomicWrite: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("file content = %q, want %q", got, "hello")
	}
}
