package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := NewHTTPMetricsWithMeter(mp.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/fail", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "nope")
	})

	for _, target := range []string{"/health", "/health", "/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	statuses := map[string]int64{}
	var active *metricdata.Sum[int64]
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			switch mt.Name {
			case "curio.http.requests_total":
				sum, ok := mt.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					counts[route.AsString()] += dp.Value
					statuses[route.AsString()] = status.AsInt64()
				}
			case "curio.http.active_requests":
				sum, ok := mt.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				active = &sum
			}
		}
	}

	assert.Equal(t, int64(2), counts["/health"])
	assert.Equal(t, int64(1), counts["/fail"])
	assert.Equal(t, int64(http.StatusTeapot), statuses["/fail"], "error status is recorded after echo writes it")
	require.NotNil(t, active)
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestRouteLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "/api/v1/status", routeLabel("/api/v1/status"))
}
