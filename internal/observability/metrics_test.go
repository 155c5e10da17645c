package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstrumentCountsByRoute(t *testing.T) {
	handler := Instrument("POST /v1/sync/{provider}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	counter := httpRequests.WithLabelValues("POST /v1/sync/{provider}", "post", "202")
	before := testutil.ToFloat64(counter)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/sync/strava", nil))
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecordSyncCompletedIgnoresZero(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	RecordSyncCompleted(ts)
	RecordSyncCompleted(time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastSyncGauge))
}
