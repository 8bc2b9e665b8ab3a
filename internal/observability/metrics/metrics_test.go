package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePoll(t *testing.T) {
	before := testutil.ToFloat64(pollResults.WithLabelValues("agents", "error"))
	ObservePoll("agents", 0, errors.New("boom"))
	if got := testutil.ToFloat64(pollResults.WithLabelValues("agents", "error")); got != before+1 {
		t.Fatalf("expected error counter to grow, got %v", got)
	}

	ObservePoll("agents", 3, nil)
	if got := testutil.ToFloat64(snapshotSize.WithLabelValues("agents")); got != 3 {
		t.Fatalf("expected snapshot gauge 3, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest("agents", "GET", 200, 20*time.Millisecond)
	ObserveSession("settled", "")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`draas_http_requests_total{code="200",handler="agents",method="GET"}`,
		`draas_upload_sessions_total{code="none",phase="settled"}`,
		"draas_http_request_duration_seconds_bucket",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}
