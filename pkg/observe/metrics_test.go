package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumByAttr(t *testing.T, met *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, met)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric is not a sum")
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordProviderCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, "elevenlabs", "tts", "ok", 300*time.Millisecond)
	m.RecordProviderCall(ctx, "elevenlabs", "tts", "error", 100*time.Millisecond)
	m.RecordProviderCall(ctx, "gemini", "scoring", "ok", time.Second)

	rm := collect(t, reader)
	requests := findMetric(rm, "slowburn.provider.requests")
	assert.Equal(t, int64(2), sumByAttr(t, requests, "provider", "elevenlabs"))
	assert.Equal(t, int64(1), sumByAttr(t, requests, "kind", "scoring"))

	hist := findMetric(rm, "slowburn.tts.duration")
	require.NotNil(t, hist)
	h, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count, "only tts calls are timed here")
}

func TestRecordCacheLookupAndAttempt(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, "memory")
	m.RecordCacheLookup(ctx, "miss")
	m.RecordCacheLookup(ctx, "miss")
	m.RecordAttempt(ctx, "VOCAB", true, 2*time.Second)

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumByAttr(t, findMetric(rm, "slowburn.cache.lookups"), "result", "miss"))
	assert.Equal(t, int64(1), sumByAttr(t, findMetric(rm, "slowburn.practice.attempts"), "status", "placeholder"))
	assert.NotNil(t, findMetric(rm, "slowburn.scoring.duration"))
}

func TestMiddleware(t *testing.T) {
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scores/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(m, nil)(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scores/s1-l1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rm := collect(t, reader)
	met := findMetric(rm, "slowburn.http.request.duration")
	require.NotNil(t, met)
	hist := met.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	route, _ := hist.DataPoints[0].Attributes.Value("route")
	assert.Equal(t, "GET /api/scores/{id}", route.AsString())
}
