package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://localhost:8000/ws", want: "http://localhost:8000/"},
		{in: "wss://call.example.com/ws?x=1", want: "https://call.example.com/"},
		{in: "http://localhost:8000", want: "http://localhost:8000/"},
		{in: "ftp://localhost", wantErr: true},
		{in: "ws:///ws", wantErr: true},
	}
	for _, tt := range tests {
		got, err := HTTPURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("HTTPURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("HTTPURL(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("HTTPURL(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCheck_Online(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"Server is running","services":{"deepgram":true,"groq":true,"memory":true},"memory_stats":{"total_conversations":3}}`))
	}))
	defer server.Close()

	report := Check(context.Background(), server.Client(), server.URL+"/")
	if !report.Online || report.Err != nil {
		t.Fatalf("report=%+v, want online", report)
	}
	if !report.Ready() {
		t.Fatalf("expected ready")
	}
	if got := report.Summary(); got != "Server online (deepgram, groq, memory)" {
		t.Fatalf("summary=%q", got)
	}
}

func TestCheck_MissingCapability(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Server is running","services":{"deepgram":false,"groq":true}}`))
	}))
	defer server.Close()

	report := Check(context.Background(), nil, server.URL)
	if !report.Online || report.Ready() {
		t.Fatalf("report=%+v, want online but not ready", report)
	}
	if !strings.Contains(report.Summary(), "transcription") {
		t.Fatalf("summary=%q, want transcription hint", report.Summary())
	}
}

func TestCheck_Offline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "bad status code", handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{name: "bad json", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) }},
		{name: "wrong status", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"status":"starting"}`)) }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()

			report := Check(context.Background(), server.Client(), server.URL)
			if report.Online || report.Err == nil {
				t.Fatalf("report=%+v, want offline with error", report)
			}
			if !strings.HasPrefix(report.Summary(), "Server offline") {
				t.Fatalf("summary=%q", report.Summary())
			}
		})
	}
}

func TestCheck_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	report := Check(context.Background(), nil, addr)
	if report.Online || report.Err == nil {
		t.Fatalf("report=%+v, want offline", report)
	}
}
