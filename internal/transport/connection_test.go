package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/qderr"
)

func TestNewConnection(t *testing.T) {
	conn := NewConnection("http://localhost:5000/api/", "user", "secret")
	if conn.BaseURL != "http://localhost:5000/api" {
		t.Errorf("expected trailing slash to be trimmed, got %q", conn.BaseURL)
	}
	if conn.HTTPClient == nil || conn.HTTPClient.Timeout != DefaultTimeout {
		t.Error("HTTPClient not initialized with the default timeout")
	}
}

func TestConnection_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/statements/query" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			t.Errorf("expected basic auth user/secret, got %q/%q", user, pass)
		}

		var req protocol.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Target != "blob" {
			t.Errorf("expected target blob, got %q", req.Target)
		}

		json.NewEncoder(w).Encode(protocol.QueryResponse{References: []string{"int:1"}, More: true})
	}))
	defer server.Close()

	conn := NewConnection(server.URL+"/api", "user", "secret")
	var resp protocol.QueryResponse
	err := conn.Post(context.Background(), "statements/query", protocol.QueryRequest{Target: "blob"}, &resp)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if !resp.More || len(resp.References) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestConnection_GetParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("path"); got != "a b" {
			t.Errorf("expected path param 'a b', got %q", got)
		}
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("expected no basic auth without credentials")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	conn := NewConnection(server.URL, "", "")
	var out map[string]any
	if err := conn.Get(context.Background(), "/volumes/v/files", url.Values{"path": {"a b"}}, &out); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}

func TestConnection_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	conn := NewConnection(server.URL, "", "")
	err := conn.Get(context.Background(), "statements/s:missing", nil, nil)
	if !errors.Is(err, qderr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConnection_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad query", "message": "unknown key"})
	}))
	defer server.Close()

	conn := NewConnection(server.URL, "", "")
	err := conn.Delete(context.Background(), "statements/s:x", nil, nil)
	if !errors.Is(err, qderr.ErrGeneral) {
		t.Fatalf("expected ErrGeneral, got %v", err)
	}
	if errors.Is(err, qderr.ErrNotFound) {
		t.Error("a 400 should not be reported as not found")
	}
}

func TestConnection_Zstd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "zstd" {
			t.Errorf("expected zstd to be requested, got %q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "zstd")
		enc, err := zstd.NewWriter(w)
		if err != nil {
			t.Fatalf("creating encoder: %v", err)
		}
		json.NewEncoder(enc).Encode(protocol.TransactionResponse{References: []string{"s:a", "s:b"}})
		enc.Close()
	}))
	defer server.Close()

	conn := NewConnection(server.URL, "", "")
	conn.Compression = true
	var resp protocol.TransactionResponse
	if err := conn.Put(context.Background(), "statements/transaction", []int{}, &resp); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if len(resp.References) != 2 {
		t.Errorf("expected 2 references, got %d", len(resp.References))
	}
}

func TestConnection_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	conn := NewConnection(addr, "", "")
	err := conn.Get(context.Background(), "statements", nil, nil)
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if errors.Is(err, qderr.ErrNotFound) || errors.Is(err, qderr.ErrGeneral) {
		t.Errorf("network errors should pass through unclassified, got %v", err)
	}
}
