package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(cacheHits.WithLabelValues("static"))
	IncCacheHit("static")
	assert.Equal(t, before+1, testutil.ToFloat64(cacheHits.WithLabelValues("static")))

	before = testutil.ToFloat64(fallbacks.WithLabelValues("api"))
	IncFallback("api")
	assert.Equal(t, before+1, testutil.ToFloat64(fallbacks.WithLabelValues("api")))

	SetLifecycleState(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(lifecycleState))
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	Init()
	Init()

	ObserveRequest("navigation", "network", "200", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `offlinegate_http_requests_total{category="navigation",code="200",source="network"}`)
}
