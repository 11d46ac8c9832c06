package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/carelink/callsignal/internal/errors"
	"github.com/carelink/callsignal/internal/httputil"
)

func TestBodyLimit(t *testing.T) {
	t.Run("rejects oversized body with structured error", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("next handler should not run")
		})
		h := BodyLimit(16)(next)

		req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(strings.Repeat("x", 64)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp httputil.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, apperrors.ErrCodeValidation, resp.Code)
		assert.Equal(t, "request body too large", resp.Error)
	})

	t.Run("passes small body through", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, `{"ok":true}`, string(body))
			w.WriteHeader(http.StatusOK)
		})
		h := BodyLimit(1024)(next)

		req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"ok":true}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("caps undeclared body length via reader", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := io.ReadAll(r.Body)
			assert.Error(t, err)
			w.WriteHeader(http.StatusBadRequest)
		})
		h := BodyLimit(16)(next)

		// No declared Content-Length, so the limit must come from MaxBytesReader.
		req := httptest.NewRequest(http.MethodPost, "/v1/calls", io.NopCloser(strings.NewReader(strings.Repeat("x", 64))))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("defaults max size when non-positive", func(t *testing.T) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		h := BodyLimit(0)(next)

		req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(strings.Repeat("x", 1024)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
