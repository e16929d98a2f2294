package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "healthcred/pkg/domain-errors"
)

type testRequest struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDecodeJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","value":3}`))
		w := httptest.NewRecorder()

		req, ok := DecodeJSON[testRequest](w, r, discard)
		require.True(t, ok)
		assert.Equal(t, "a", req.Name)
		assert.Equal(t, 3, req.Value)
	})

	t.Run("malformed body writes bad request", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
		w := httptest.NewRecorder()

		req, ok := DecodeJSON[testRequest](w, r, discard)
		assert.False(t, ok)
		assert.Nil(t, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "bad_request", body["error"])
	})
}

func TestWriteErrorCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{dErrors.New(dErrors.CodeNotFound, "holder not found"), http.StatusNotFound, "not_found"},
		{dErrors.New(dErrors.CodeTransient, "document service unavailable"), http.StatusBadGateway, "transient"},
		{dErrors.New(dErrors.CodeConsistency, "queue read-back mismatch"), http.StatusConflict, "consistency_failed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(w, tc.err)
		assert.Equal(t, tc.status, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body["error"])
	}
}
