package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserveCountsByResult(t *testing.T) {
	okBefore := counterValue(t, Transitions.WithLabelValues("test_op", "ok"))
	errBefore := counterValue(t, Transitions.WithLabelValues("test_op", "error"))

	Observe("test_op", time.Now(), nil)
	Observe("test_op", time.Now(), errors.New("boom"))
	Observe("test_op", time.Now(), nil)

	require.Equal(t, okBefore+2, counterValue(t, Transitions.WithLabelValues("test_op", "ok")))
	require.Equal(t, errBefore+1, counterValue(t, Transitions.WithLabelValues("test_op", "error")))
}

func TestHandlerExposesInstruments(t *testing.T) {
	Settled.WithLabelValues("fee").Add(1)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "gigescrow_settled_amount_total"))
}
