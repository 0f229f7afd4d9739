package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorUsesAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	cause := errors.New("boom")
	WriteError(rr, NewAppError(CodeValidation, "lines is required", http.StatusBadRequest, cause).WithDetails(map[string]string{"field": "lines"}))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, CodeValidation, body.Error.Code)
	require.Equal(t, "lines is required", body.Error.Message)
	require.NotNil(t, body.Error.Details)
}

func TestWriteErrorFallsBackToInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("db down"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Contains(t, rr.Body.String(), CodeInternal)
	require.NotContains(t, rr.Body.String(), "db down")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	var p payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, DecodeJSON(req, &p))
	require.Equal(t, "x", p.Name)

	for _, body := range []string{`{"name":"x","extra":1}`, `{"name":`, `{"name":"x"}{"name":"y"}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		err := DecodeJSON(req, &p)
		require.Error(t, err, body)
		require.Equal(t, http.StatusBadRequest, AsAppError(err).HTTPStatus)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	require.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "203.0.113.5", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "unknown, 198.51.100.7")
	require.Equal(t, "198.51.100.7", ClientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "::ffff:10.1.2.3")
	require.Equal(t, "10.1.2.3", ClientIP(req))
}
