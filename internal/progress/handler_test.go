package progress

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	reporter, err := NewReporter(registry)
	require.NoError(t, err)
	require.NoError(t, reporter.RegisterQueueDepth(registry, func() int { return 2 }))

	reporter.ItemCompleted(OutcomeSucceeded)
	reporter.BatchFlushed()
	reporter.ObserveGeocodeDuration(1.5)

	recorder := httptest.NewRecorder()
	Handler(registry).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Contains(t, body, `filmatlas_items_completed_total{outcome="succeeded"} 1`)
	assert.Contains(t, body, "filmatlas_batches_flushed_total 1")
	assert.Contains(t, body, "filmatlas_geocode_resolve_seconds_count 1")
	assert.Contains(t, body, "filmatlas_geocode_queue_depth 2")
}
