package testkit

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertStatusCode checks the response code.
func AssertStatusCode(t *testing.T, s *Scenario, got int) {
	t.Helper()
	assert.Equal(t, s.ExpectedCode, got, "[%s] HTTP status code mismatch", s.Name)
}

// AssertHeaders checks the expected content type and any other listed
// headers.
func AssertHeaders(t *testing.T, s *Scenario, h http.Header) {
	t.Helper()
	if s.ExpectedContentType != "" {
		assert.Equal(t, s.ExpectedContentType, h.Get("Content-Type"), "[%s] content type", s.Name)
	}
	for k, v := range s.ExpectedHeaders {
		assert.Equal(t, v, h.Get(k), "[%s] header %s", s.Name, k)
	}
}

// AssertBody checks the substrings the body must and must not contain.
func AssertBody(t *testing.T, s *Scenario, body string) {
	t.Helper()
	for _, want := range s.BodyContains {
		assert.Contains(t, body, want, "[%s] body", s.Name)
	}
	for _, unwanted := range s.BodyExcludes {
		assert.NotContains(t, body, unwanted, "[%s] body", s.Name)
	}
}

// AssertJSONBody compares actual against expected after decoding both, so
// key order and whitespace never matter. An empty expected skips the
// check.
func AssertJSONBody(t *testing.T, s *Scenario, expected, actual []byte) {
	t.Helper()
	if len(expected) == 0 {
		return
	}

	var expVal, actVal any
	require.NoError(t, json.Unmarshal(expected, &expVal),
		"[%s] expected response file is not valid JSON", s.Name)
	if !assert.NoError(t, json.Unmarshal(actual, &actVal),
		"[%s] actual response is not valid JSON\nbody: %s", s.Name, actual) {
		return
	}
	assert.Equal(t, expVal, actVal, "[%s] response body mismatch", s.Name)
}
