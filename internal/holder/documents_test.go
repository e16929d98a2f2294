package holder

import (
	"context"
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
	"healthcred/pkg/platform/sentinel"
)

func newDocumentClient(t *testing.T, h http.HandlerFunc) *DocumentClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewDocumentClient(httpclient.New(httpclient.Config{
		Service: "documents",
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   retry.Policy{MaxRetries: 2, Delay: time.Millisecond},
	}))
}

func TestDocumentClient_Fetch(t *testing.T) {
	t.Run("returns content and passes link and token", func(t *testing.T) {
		c := newDocumentClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/documents/doc-1", r.URL.Path)
			assert.Equal(t, "link-1", r.URL.Query().Get("linkId"))
			assert.Equal(t, "tok", r.URL.Query().Get("token"))
			_, _ = w.Write([]byte(`{"content":"aGVsbG8="}`))
		})
		content, err := c.Fetch(context.Background(), "doc-1", "link-1", "tok")
		require.NoError(t, err)
		assert.Equal(t, "aGVsbG8=", content)
	})

	t.Run("404 is not found", func(t *testing.T) {
		c := newDocumentClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := c.Fetch(context.Background(), "doc-1", "l", "t")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		assert.True(t, IsMissing(err))
	})

	t.Run("blank content is empty", func(t *testing.T) {
		c := newDocumentClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"content":"  "}`))
		})
		_, err := c.Fetch(context.Background(), "doc-1", "l", "t")
		assert.ErrorIs(t, err, sentinel.ErrEmpty)
	})

	t.Run("5xx is retried then surfaced as transient", func(t *testing.T) {
		var calls atomic.Int32
		c := newDocumentClient(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.Fetch(context.Background(), "doc-1", "l", "t")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("4xx is not retried", func(t *testing.T) {
		var calls atomic.Int32
		c := newDocumentClient(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		})
		_, err := c.Fetch(context.Background(), "doc-1", "l", "t")
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestDocumentClient_Delete(t *testing.T) {
	c := newDocumentClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, c.Delete(context.Background(), "gone", "l", "t"))
}

func TestMemoryDocuments(t *testing.T) {
	docs := NewMemoryDocuments()
	docs.Put("a", "Zm9v")
	docs.Put("b", "")

	content, err := docs.Fetch(context.Background(), "a", "", "")
	require.NoError(t, err)
	assert.Equal(t, "Zm9v", content)

	_, err = docs.Fetch(context.Background(), "b", "", "")
	assert.ErrorIs(t, err, sentinel.ErrEmpty)

	require.NoError(t, docs.Delete(context.Background(), "a", "", ""))
	_, err = docs.Fetch(context.Background(), "a", "", "")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.Equal(t, []string{"a"}, docs.Deleted())
}
