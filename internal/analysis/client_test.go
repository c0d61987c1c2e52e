package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAnalyzeSendsJSONForText(t *testing.T) {
	var got map[string]string
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"summary":"ok"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	raw, err := client.Analyze(context.Background(), Request{Text: "metin", Model: ModelPro, BearerToken: "tok"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if string(raw) != `{"summary":"ok"}` {
		t.Fatalf("unexpected body %s", raw)
	}
	if got["text"] != "metin" || got["model"] != "pro" {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if auth != "Bearer tok" {
		t.Fatalf("expected bearer token to be forwarded, got %q", auth)
	}
}

func TestAnalyzeSendsMultipartForFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 || files[0].Filename != "a.pdf" || files[1].Filename != "b.jpg" {
			t.Errorf("unexpected files: %+v", files)
		}
		if files[1].Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("unexpected content type %q", files[1].Header.Get("Content-Type"))
		}
		if r.FormValue("model") != "flash" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		if _, ok := r.MultipartForm.Value["text"]; ok {
			t.Error("text field must be omitted when empty")
		}
		_, _ = io.WriteString(w, `{"summary":"ok"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", time.Second)
	_, err := client.Analyze(context.Background(), Request{
		Files: []File{
			{Name: "a.pdf", MimeType: "application/pdf", Data: []byte("%PDF")},
			{Name: "b.jpg", MimeType: "image/jpeg", Data: []byte{0xff}},
		},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
}

func TestAnalyzeServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"Yetersiz kredi."}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.Analyze(context.Background(), Request{Text: "x"})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if serviceErr.Status != http.StatusForbidden || serviceErr.Message != "Yetersiz kredi." {
		t.Fatalf("unexpected service error: %+v", serviceErr)
	}
	if !errors.Is(err, ErrTransport) {
		t.Fatal("service errors must match ErrTransport")
	}
	if errors.Is(err, ErrUnreachable) {
		t.Fatal("service errors must not match ErrUnreachable")
	}
}

func TestAnalyzeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, "", time.Second)
	_, err := client.Analyze(context.Background(), Request{Text: "x"})
	if !errors.Is(err, ErrUnreachable) || !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "", 50*time.Millisecond)
	_, err := client.Analyze(context.Background(), Request{Text: "x"})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected timeout to surface as ErrUnreachable, got %v", err)
	}
}
