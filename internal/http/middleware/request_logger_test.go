package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/engagelegal/intake-platform/pkg/logging"
)

func TestRequestLoggerCapturesStatusAndFirm(t *testing.T) {
	var buf bytes.Buffer
	logger := &logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/conversations/sess-1", nil)
	req.Header.Set("X-Firm-Id", "firm-9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	if !strings.Contains(line, `"status":418`) {
		t.Fatalf("log line missing response status: %s", line)
	}
	if !strings.Contains(line, `"firm_id":"firm-9"`) {
		t.Fatalf("log line missing firm tag: %s", line)
	}
	if !strings.Contains(line, `"bytes":15`) {
		t.Fatalf("log line missing bytes written: %s", line)
	}
}
