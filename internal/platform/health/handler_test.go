package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadiness(t *testing.T) {
	h := New("test")
	h.RegisterCheck("database", func(context.Context) error { return nil })

	w := serve(h, "/health/ready")
	require.Equal(t, http.StatusOK, w.Code)

	h.RegisterCheck("kafka", func(context.Context) error { return errors.New("no brokers reachable") })
	w = serve(h, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "up", resp.Checks["database"])
	assert.Equal(t, "down: no brokers reachable", resp.Checks["kafka"])
}

func TestReadiness_OptionalBackendDegrades(t *testing.T) {
	h := New("test")
	h.RegisterCheck("postgres", func(context.Context) error { return nil })
	h.RegisterOptional("redis", func(context.Context) error { return errors.New("i/o timeout") })

	w := serve(h, "/health/ready")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusDegraded, resp.Status)

	h.RegisterCheck("s3", func(context.Context) error { return errors.New("bucket missing") })
	assert.Equal(t, StatusNotReady, h.Ready(context.Background()).Status)
}

func TestReadiness_ChecksAreBounded(t *testing.T) {
	h := New("test")
	h.RegisterCheck("postgres", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	resp := h.Ready(context.Background())
	assert.Equal(t, StatusNotReady, resp.Status)
	assert.Contains(t, resp.Checks["postgres"], "deadline exceeded")
}

func TestLivenessAndStatus(t *testing.T) {
	h := New("dev")
	assert.Equal(t, http.StatusOK, serve(h, "/health/live").Code)

	w := serve(h, "/health")
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dev", resp.Environment)
	assert.Equal(t, "healthy", resp.Status)
}
