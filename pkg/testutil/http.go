// Package testutil holds request builders and response assertions shared by
// handler, middleware and server tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest marshals body (when non-nil) into a JSON request.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
	}
	return NewRequestWithBody(t, method, path, string(raw))
}

// NewRequest builds a bodiless request.
func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

// NewRequestWithBody sends body verbatim, for malformed-JSON cases.
func NewRequestWithBody(t *testing.T, method, path string, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DoRequest serves req and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// UnmarshalResponse decodes the recorded body into T. The body is left
// unread so later assertions can decode it again.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	var result T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result), "failed to unmarshal response: %s", rr.Body.String())
	return &result
}

// UnmarshalErrorResponse decodes a rejection body. Numbers such as
// retry_after come back as float64.
func UnmarshalErrorResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	return *UnmarshalResponse[map[string]any](t, rr)
}

func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	assert.Equal(t, expected, rr.Code, "unexpected status code, body: %s", rr.Body.String())
}

func AssertStatusOK(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	AssertStatus(t, rr, http.StatusOK)
}

// AssertStatusAndError checks the status and the "error" field of the body.
func AssertStatusAndError(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus int, expectedCode string) {
	t.Helper()
	AssertStatus(t, rr, expectedStatus)
	assert.Equal(t, expectedCode, UnmarshalErrorResponse(t, rr)["error"], "unexpected error code")
}

// AssertRetryAfter checks that the Retry-After header and the retry_after
// body field agree on seconds.
func AssertRetryAfter(t *testing.T, rr *httptest.ResponseRecorder, seconds int) {
	t.Helper()
	assert.Equal(t, strconv.Itoa(seconds), rr.Header().Get("Retry-After"), "Retry-After header")
	assert.EqualValues(t, seconds, UnmarshalErrorResponse(t, rr)["retry_after"], "retry_after field")
}

func AssertJSONContains(t *testing.T, rr *httptest.ResponseRecorder, key string, expectedValue any) {
	t.Helper()
	result := UnmarshalErrorResponse(t, rr)
	assert.Equal(t, expectedValue, result[key], "unexpected value for key %q", key)
}

func AssertJSONHasKey(t *testing.T, rr *httptest.ResponseRecorder, key string) {
	t.Helper()
	_, ok := UnmarshalErrorResponse(t, rr)[key]
	assert.True(t, ok, "expected key %q not found in response", key)
}
