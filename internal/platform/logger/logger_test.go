package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriter_format(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "text").Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello k=v") {
		t.Errorf("expected text output, got %q", buf.String())
	}

	buf.Reset()
	log := NewWithWriter(&buf, "warn", "json")
	log.Info("dropped")
	log.Warn("kept")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "kept" {
		t.Errorf("msg = %v", rec["msg"])
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "json")
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/status/streams", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["level"] != "WARN" || rec["status"] != float64(404) || rec["size"] != float64(4) {
		t.Errorf("unexpected record %v", rec)
	}
	if rec["client_ip"] != "203.0.113.7" || rec["path"] != "/status/streams" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Errorf("ClientIP = %q", got)
	}

	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := ClientIP(req); got != "198.51.100.2" {
		t.Errorf("ClientIP = %q", got)
	}
}
