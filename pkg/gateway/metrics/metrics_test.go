package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordAndExpose(t *testing.T) {
	m := New("test")

	m.RecordConnectionStart()
	m.RecordClientMessage("text")
	m.RecordClientMessage("text")
	m.RecordEvent("audio_response")
	m.RecordError("unknown_type")
	m.RecordAudioTurn(9600)
	m.RecordSession("opened")
	m.RecordConnectionEnd(2 * time.Second)

	if got := testutil.ToFloat64(m.ClientMessagesTotal.WithLabelValues("text")); got != 2 {
		t.Fatalf("client messages=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsActive); got != 0 {
		t.Fatalf("active=%v, want 0", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"test_client_messages_total",
		"test_events_total",
		"test_errors_total",
		"test_audio_turn_bytes_bucket",
		"test_connection_duration_seconds_count",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordConnectionStart()
	m.RecordEvent("x")
	m.RecordRateLimitHit()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}
