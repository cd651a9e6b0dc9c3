package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAccess(t *testing.T) {
	cases := []struct {
		status  int
		elapsed time.Duration
		level   slog.Level
		msg     string
	}{
		{http.StatusOK, time.Millisecond, slog.LevelInfo, "request completed"},
		{http.StatusOK, 3 * time.Second, slog.LevelWarn, "slow request"},
		{http.StatusNotFound, time.Millisecond, slog.LevelWarn, "request error"},
		{http.StatusBadGateway, time.Millisecond, slog.LevelWarn, "upstream panel error"},
		{http.StatusInternalServerError, time.Millisecond, slog.LevelError, "request failed"},
	}
	for _, tc := range cases {
		level, msg := classifyAccess(tc.status, tc.elapsed, 2*time.Second)
		assert.Equal(t, tc.level, level, tc.msg)
		assert.Equal(t, tc.msg, msg)
	}
}

func TestStructuredLoggerRecordsRouteParams(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(StructuredLogger(LoggingConfig{Logger: logger, SkipPaths: []string{"/healthz"}}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/subscriptions/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Zero(t, buf.Len())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/42", nil))
	assert.Equal(t, "unknown", rec.Header().Get("X-Request-ID"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "request error", record["msg"])
	assert.Equal(t, "/subscriptions/{id}", record["route"])
	assert.Equal(t, "42", record["param.id"])
	assert.EqualValues(t, 404, record["status"])
}
