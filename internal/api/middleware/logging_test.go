package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStructuredLoggerPassesThrough(t *testing.T) {
	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestStatusRecorderCapturesFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newStatusRecorder(rec)

	if w.status != http.StatusOK {
		t.Errorf("default status = %d, want 200", w.status)
	}

	w.WriteHeader(http.StatusNotFound)
	w.WriteHeader(http.StatusInternalServerError)

	if w.status != http.StatusNotFound {
		t.Errorf("status = %d, want the first written (404)", w.status)
	}
}

func TestStatusRecorderCountsBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newStatusRecorder(rec)

	w.Write([]byte("hello "))
	w.Write([]byte("world"))

	if w.bytes != 11 {
		t.Errorf("bytes = %d, want 11", w.bytes)
	}
}
