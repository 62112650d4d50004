package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/sessions/{sessionId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/audit", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "200"))
	missing := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/audit", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(ts.URL + "/sessions/cufl_missing")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.InDelta(t, ok+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "200")), 1e-9)
	assert.InDelta(t, missing+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")), 1e-9)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
