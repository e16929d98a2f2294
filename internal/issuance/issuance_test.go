package issuance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcred/internal/platform/httpclient"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/retry"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(httpclient.New(httpclient.Config{
		Service: "issuance",
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   retry.Policy{MaxRetries: 2, Delay: time.Millisecond},
	}))
}

func TestIssue(t *testing.T) {
	req := Request{EntityID: "org-1", HolderID: "h-1", DocType: "VaccinationCertificate", Claims: map[string]any{"vaccineCode": "J07BX03"}}

	t.Run("returns the issued credential", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/credentials", r.URL.Path)
			var got Request
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			assert.Equal(t, req.HolderID, got.HolderID)
			assert.Equal(t, "J07BX03", got.Claims["vaccineCode"])
			_, _ = w.Write([]byte(`{"credential":"eyJhbGciOiJFUzI1NiJ9.e30.sig"}`))
		})
		cred, err := c.Issue(context.Background(), req)
		require.NoError(t, err)
		assert.JSONEq(t, `"eyJhbGciOiJFUzI1NiJ9.e30.sig"`, string(cred))
	})

	t.Run("retries 5xx then gives up as transient", func(t *testing.T) {
		var calls atomic.Int32
		c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := c.Issue(context.Background(), req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("4xx is a validation error and not retried", func(t *testing.T) {
		var calls atomic.Int32
		c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnprocessableEntity)
		})
		_, err := c.Issue(context.Background(), req)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("empty credential", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"credential":null}`))
		})
		_, err := c.Issue(context.Background(), req)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
