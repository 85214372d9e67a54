package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dosada05/quickplay-matchmaking/services"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapServiceErrorToHTTP(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrLobbyNotFound, http.StatusNotFound},
		{services.ErrTournamentNotFound, http.StatusNotFound},
		{services.ErrMatchNotFound, http.StatusNotFound},
		{services.ErrInvalidLobbyState, http.StatusConflict},
		{services.ErrPreconditionFailed, http.StatusConflict},
		{services.ErrInsufficientPlayers, http.StatusConflict},
		{services.ErrMatchAlreadyCompleted, http.StatusConflict},
		{services.ErrInvalidMatchResult, http.StatusBadRequest},
		{services.ErrScreenshotTooLarge, http.StatusRequestEntityTooLarge},
		{services.ErrNotAuthenticated, http.StatusUnauthorized},
		{services.ErrAuthInvalidCredentials, http.StatusUnauthorized},
		{services.ErrNotInLobby, http.StatusForbidden},
		{services.ErrMaterializationFailed, http.StatusServiceUnavailable},
		{fmt.Errorf("driver: bad connection"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		mapServiceErrorToHTTP(rec, req, tc.err)
		assert.Equal(t, tc.status, rec.Code, "error %v", tc.err)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Contains(t, body, "error")
	}
}

// Сервисные ошибки приходят в хендлер уже обёрнутыми через %w.
func TestMapServiceErrorToHTTP_WrappedError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	mapServiceErrorToHTTP(rec, req, fmt.Errorf("mark ready: %w", services.ErrInvalidLobbyState))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func routeParam(req *http.Request, name, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestIntURLParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/lobbies/42", nil)

	got, err := intURLParam(routeParam(req, "lobbyID", "42"), "lobbyID")
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = intURLParam(routeParam(req, "lobbyID", "abc"), "lobbyID")
	assert.Error(t, err)

	_, err = intURLParam(routeParam(req, "lobbyID", "0"), "lobbyID")
	assert.Error(t, err)

	_, err = intURLParam(routeParam(req, "lobbyID", "-3"), "lobbyID")
	assert.Error(t, err)

	_, err = intURLParam(req, "lobbyID")
	assert.Error(t, err, "missing parameter")
}

func TestReadJSON(t *testing.T) {
	type payload struct {
		Score int `json:"score"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"score": 3}`))
		var dst payload
		require.NoError(t, readJSON(httptest.NewRecorder(), req, &dst))
		assert.Equal(t, 3, dst.Score)
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var dst payload
		err := readJSON(httptest.NewRecorder(), req, &dst)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not be empty")
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bogus": 1}`))
		var dst payload
		err := readJSON(httptest.NewRecorder(), req, &dst)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown key")
	})

	t.Run("trailing garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"score": 3}{"score": 4}`))
		var dst payload
		err := readJSON(httptest.NewRecorder(), req, &dst)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "single JSON value")
	})

	t.Run("malformed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"score":`))
		var dst payload
		assert.Error(t, readJSON(httptest.NewRecorder(), req, &dst))
	})
}

func TestWriteJSON_EnvelopeAndHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	headers := http.Header{"X-Request-Id": []string{"abc"}}
	require.NoError(t, writeJSON(rec, http.StatusCreated, jsonResponse{"lobby": map[string]int{"id": 1}}, headers))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "lobby")
}
