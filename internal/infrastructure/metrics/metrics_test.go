package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanvision/marine-catalog/pkg/circuitbreaker"
)

func TestRecorder_SourceFetch(t *testing.T) {
	r := NewRecorder(Options{})

	r.ObserveSourceFetch("WoRMS", 3, 200*time.Millisecond, nil)
	r.ObserveSourceFetch("WoRMS", 2, 100*time.Millisecond, nil)
	r.ObserveSourceFetch("OBIS", 9, time.Second, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.sourceFetches.WithLabelValues("WoRMS", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sourceFetches.WithLabelValues("OBIS", "error")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.sourceRecords.WithLabelValues("WoRMS")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.sourceRecords.WithLabelValues("OBIS")), "failed fetches add no records")
	assert.Equal(t, 2, testutil.CollectAndCount(r.sourceDuration))
}

func TestRecorder_Reload(t *testing.T) {
	r := NewRecorder(Options{})

	r.ObserveReload("initialize", 10, 50*time.Millisecond, nil)
	r.ObserveReload("refresh", 0, time.Second, errors.New("all sources failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.reloads.WithLabelValues("initialize", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reloads.WithLabelValues("refresh", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.catalogSize), "failed reload keeps the last size")
}

func TestRecorder_BreakerState(t *testing.T) {
	r := NewRecorder(Options{})

	r.ObserveBreakerState("FishBase", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	assert.Equal(t, float64(circuitbreaker.StateOpen), testutil.ToFloat64(r.breakerState.WithLabelValues("FishBase")))

	r.ObserveBreakerState("FishBase", circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen)
	assert.Equal(t, float64(circuitbreaker.StateHalfOpen), testutil.ToFloat64(r.breakerState.WithLabelValues("FishBase")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder(Options{})
	r.ObserveHTTPRequest("/api/v1/species/{id}", http.MethodGet, http.StatusNotFound, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `oceanvision_http_requests_total{code="404",method="GET",route="/api/v1/species/{id}"} 1`), body)
}

func TestNewRecorder_Isolated(t *testing.T) {
	assert.NotPanics(t, func() {
		NewRecorder(Options{ProcessCollectors: true})
		NewRecorder(Options{ProcessCollectors: true})
	})
}
