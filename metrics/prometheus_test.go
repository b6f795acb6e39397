package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUpdateExposure(t *testing.T) {
	UpdateExposure(25, 75)

	if testutil.ToFloat64(OpenNotional) != 25 {
		t.Errorf("Expected OpenNotional to be 25, got %f", testutil.ToFloat64(OpenNotional))
	}
	if testutil.ToFloat64(AvailableExposure) != 75 {
		t.Errorf("Expected AvailableExposure to be 75, got %f", testutil.ToFloat64(AvailableExposure))
	}
}

func TestObserveVenueCall(t *testing.T) {
	calls := testutil.ToFloat64(VenueCalls.WithLabelValues("test_op"))
	errs := testutil.ToFloat64(VenueErrors.WithLabelValues("test_op"))

	ObserveVenueCall("test_op", time.Now(), nil)
	ObserveVenueCall("test_op", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(VenueCalls.WithLabelValues("test_op")) - calls; got != 2 {
		t.Errorf("Expected 2 calls, got %f", got)
	}
	if got := testutil.ToFloat64(VenueErrors.WithLabelValues("test_op")) - errs; got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}
}

func TestRecordFeedUpdate(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	before := testutil.ToFloat64(FeedUpdates.WithLabelValues("1.23"))
	RecordFeedUpdate("1.23", 3, ts)

	if got := testutil.ToFloat64(FeedUpdates.WithLabelValues("1.23")) - before; got != 3 {
		t.Errorf("Expected 3 updates, got %f", got)
	}
	if testutil.ToFloat64(FeedLastUpdate.WithLabelValues("1.23")) != float64(ts.Unix()) {
		t.Errorf("unexpected last update timestamp")
	}
}

func TestSetWSConnected(t *testing.T) {
	SetWSConnected(true)
	if testutil.ToFloat64(WSConnected) != 1 {
		t.Errorf("Expected WSConnected to be 1")
	}
	SetWSConnected(false)
	if testutil.ToFloat64(WSConnected) != 0 {
		t.Errorf("Expected WSConnected to be 0")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	QuotesSubmitted.Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "rfq_quotes_submitted_total") {
		t.Errorf("metrics output missing rfq_quotes_submitted_total")
	}
}
