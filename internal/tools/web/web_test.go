package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	tool := NewHTTPFetch(Config{Client: srv.Client()})
	res, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil || !res.Success {
		t.Fatalf("err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Output, "status: 200") || !strings.Contains(res.Output, "payload") {
		t.Fatalf("Output = %q", res.Output)
	}
}

func TestFetchTruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	tool := NewHTTPFetch(Config{Client: srv.Client(), MaxBytes: 100})
	res, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil || !res.Success {
		t.Fatalf("err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Output, "[truncated at 100 bytes]") {
		t.Fatalf("Output = %q", res.Output)
	}
}

func TestFetchRejectsScheme(t *testing.T) {
	tool := NewHTTPFetch(Config{})
	res, err := tool.Execute(context.Background(), map[string]any{"url": "file:///etc/passwd"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("file scheme should be rejected")
	}
	if !strings.Contains(res.Output, "ERROR [RULE_BLOCKED]") {
		t.Fatalf("Output = %q", res.Output)
	}
}

func TestFetchServerErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := NewHTTPFetch(Config{Client: srv.Client()})
	res, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("5xx should fail")
	}
	if !strings.Contains(res.Output, "status: 500") {
		t.Fatalf("Output = %q", res.Output)
	}
}
