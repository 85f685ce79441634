package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// HTTP Test Helpers

// AssertStatusCode fails if the response status code doesn't match expected
func AssertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	require.Equalf(t, expected, w.Code, "body: %s", w.Body.String())
}

// AssertErrorKind fails unless the response carries the given status and
// error kind in its JSON body.
func AssertErrorKind(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, kind string) {
	t.Helper()
	AssertStatusCode(t, w, expectedStatus)

	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	require.NoErrorf(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	require.Equal(t, kind, body.Kind)
	require.NotEmpty(t, body.Error)
}

// Request Helpers

// NewJSONRequest creates a new HTTP request with JSON body
func NewJSONRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewBearerRequest creates a request carrying an Authorization bearer token
func NewBearerRequest(t *testing.T, method, url, token string, body interface{}) *http.Request {
	t.Helper()
	req := NewJSONRequest(t, method, url, body)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// DecodeJSON decodes JSON response body into the given struct
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var result T
	require.NoErrorf(t, json.NewDecoder(w.Body).Decode(&result), "body: %s", w.Body.String())
	return result
}

// Context returns a context cancelled when the test ends.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
