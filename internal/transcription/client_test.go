package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/auth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, srv
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid", "http://127.0.0.1:5000", false},
		{"trailing slash", "http://127.0.0.1:5000/", false},
		{"empty", "", true},
		{"no host", "not a url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(Config{BaseURL: tt.baseURL})
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if err == nil && strings.HasSuffix(client.BaseURL(), "/") {
				t.Errorf("Expected trailing slash to be trimmed, got %s", client.BaseURL())
			}
		})
	}
}

func TestTranscribeSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transcribe" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Expected bearer header, got %q", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Expected multipart field file: %v", err)
		}
		defer file.Close()

		data, _ := io.ReadAll(file)
		if string(data) != "ABC" {
			t.Errorf("Expected payload ABC, got %q", data)
		}
		if header.Filename != "recording.webm" {
			t.Errorf("Expected filename recording.webm, got %s", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "audio/webm" {
			t.Errorf("Expected part content type audio/webm, got %s", ct)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "transcript": "hello world"})
	})

	res, err := client.Transcribe(context.Background(), auth.Session{Token: "tok"}, Upload{
		Data:        []byte("ABC"),
		Filename:    "recording.webm",
		ContentType: "audio/webm",
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.DisplayText() != "hello world" {
		t.Errorf("Expected hello world, got %s", res.DisplayText())
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.BytesUploaded != 3 {
		t.Errorf("Expected 3 bytes uploaded, got %d", stats.BytesUploaded)
	}
}

func TestTranscribeMissingTranscript(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	res, err := client.Transcribe(context.Background(), auth.Session{Token: "tok"}, Upload{Data: []byte{1}})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.HasTranscript {
		t.Error("Expected HasTranscript to be false")
	}
	if res.DisplayText() != NoTranscriptPlaceholder {
		t.Errorf("Expected placeholder, got %s", res.DisplayText())
	}
}

func TestTranscribeServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := client.Transcribe(context.Background(), auth.Session{Token: "tok"}, Upload{Data: []byte{1}})
	if err == nil {
		t.Fatal("Expected error for HTTP 500")
	}

	se, ok := IsServerError(err)
	if !ok {
		t.Fatalf("Expected *ServerError, got %T", err)
	}
	if se.StatusCode != 500 || se.Body != "boom" {
		t.Errorf("Unexpected server error %+v", se)
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Expected message to carry status and body, got %s", err.Error())
	}

	if stats := client.GetStats(); stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestTranscribeDoesNotRetry(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := client.Transcribe(context.Background(), auth.Session{Token: "tok"}, Upload{Data: []byte{1}}); err == nil {
		t.Fatal("Expected error for HTTP 503")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly one request, got %d", got)
	}
}

func TestUnauthenticatedCallsMakeNoRequest(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	ctx := context.Background()
	anon := auth.Session{}

	if _, err := client.Transcribe(ctx, anon, Upload{Data: []byte{1}}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Transcribe: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := client.History(ctx, anon); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("History: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := client.Download(ctx, anon, DocumentDocx, LatestDocument); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Download: expected ErrUnauthenticated, got %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("Expected no requests, got %d", got)
	}
	if stats := client.GetStats(); stats.TotalRequests != 0 {
		t.Errorf("Expected no requests in stats, got %d", stats.TotalRequests)
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, err := NewClient(Config{BaseURL: url, RequestTimeout: time.Second})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.Transcribe(context.Background(), auth.Session{Token: "tok"}, Upload{Data: []byte{1}})
	if !IsNetworkError(err) {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestLoginAndRegister(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body credentialsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}

		switch r.URL.Path {
		case "/register":
			if body.Username == "taken" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"Username already exists"}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"message":"User registered successfully"}`))
		case "/login":
			if body.Password != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{}`))
				return
			}
			w.Write([]byte(`{"token":"jwt-token"}`))
		}
	})

	ctx := context.Background()

	if err := client.Register(ctx, "alice", "secret"); err != nil {
		t.Errorf("Register failed: %v", err)
	}

	err := client.Register(ctx, "taken", "secret")
	se, ok := IsServerError(err)
	if !ok || se.Message != "Username already exists" {
		t.Errorf("Expected backend message on register failure, got %v", err)
	}

	sess, err := client.Login(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if sess.Token != "jwt-token" || sess.Username != "alice" {
		t.Errorf("Unexpected session %+v", sess)
	}

	_, err = client.Login(ctx, "alice", "wrong")
	se, ok = IsServerError(err)
	if !ok || se.StatusCode != http.StatusUnauthorized || se.Message != "Login failed" {
		t.Errorf("Expected default login failure message, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": 2, "title": "Second", "transcript": "b", "created_at": "Tue, 14 May 2024 10:00:00 GMT"},
			{"id": 1, "title": "", "transcript": "a", "created_at": "2024-05-13 09:30:00"}
		]`))
	})

	entries, err := client.History(context.Background(), auth.Session{Token: "tok"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != 2 || entries[1].ID != 1 {
		t.Errorf("Expected backend order to be preserved, got %d,%d", entries[0].ID, entries[1].ID)
	}
	if entries[1].DisplayTitle() != "transcript_1" {
		t.Errorf("Expected fallback title, got %s", entries[1].DisplayTitle())
	}
	if entries[0].CreatedAt.Year() != 2024 || entries[1].CreatedAt.Day() != 13 {
		t.Errorf("Unexpected timestamps %v / %v", entries[0].CreatedAt, entries[1].CreatedAt)
	}
}

func TestHistoryRejectsInvalidEntries(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 0, "transcript": "x", "created_at": "2024-05-13 09:30:00"}]`))
	})

	_, err := client.History(context.Background(), auth.Session{Token: "tok"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("Expected ErrInvalidResponse, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/download_txt/7":
			w.Write([]byte("plain text"))
		case "/download_docx/latest":
			w.Write([]byte("PK\x03\x04"))
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	sess := auth.Session{Token: "tok"}

	data, err := client.Download(ctx, sess, DocumentText, "7")
	if err != nil || string(data) != "plain text" {
		t.Errorf("Unexpected txt download %q, %v", data, err)
	}

	data, err = client.Download(ctx, sess, DocumentDocx, LatestDocument)
	if err != nil || !strings.HasPrefix(string(data), "PK") {
		t.Errorf("Unexpected docx download %q, %v", data, err)
	}

	if _, err := client.Download(ctx, sess, DocumentText, LatestDocument); err == nil {
		t.Error("Expected error for txt download without id")
	}
}

func TestPreview(t *testing.T) {
	short := HistoryEntry{ID: 1, Transcript: "short"}
	if short.Preview() != "short" {
		t.Errorf("Expected untouched preview, got %s", short.Preview())
	}

	long := HistoryEntry{ID: 1, Transcript: strings.Repeat("é", 250)}
	preview := long.Preview()
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("Expected ellipsis, got %s", preview)
	}
	if n := len([]rune(strings.TrimSuffix(preview, "..."))); n != 200 {
		t.Errorf("Expected 200 characters, got %d", n)
	}
}
