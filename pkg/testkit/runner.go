package testkit

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// Run executes a single scenario from a JSON file against handler.
func Run(t *testing.T, handler http.Handler, scenarioPath string) {
	t.Helper()

	s, err := LoadScenario(scenarioPath)
	if err != nil {
		t.Fatalf("testkit: load scenario %q: %v", scenarioPath, err)
	}
	t.Run(s.Name, func(t *testing.T) {
		runScenario(t, handler, s)
	})
}

// RunDir runs every *.json file in dir that is not a *_res.json response
// body as a subtest.
func RunDir(t *testing.T, handler http.Handler, dir string) {
	t.Helper()

	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("testkit: no scenario files found in %q", dir)
	}
	for _, path := range entries {
		if strings.HasSuffix(path, "_res.json") {
			continue
		}
		Run(t, handler, path)
	}
}

func runScenario(t *testing.T, handler http.Handler, s *Scenario) {
	t.Helper()

	req := httptest.NewRequest(s.RequestMethod, s.RequestURL, nil)
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	AssertStatusCode(t, s, rec.Code)
	AssertHeaders(t, s, rec.Header())
	AssertBody(t, s, rec.Body.String())

	expected, err := s.ExpectedBody()
	if err != nil {
		t.Fatalf("testkit: [%s] read response file: %v", s.Name, err)
	}
	AssertJSONBody(t, s, expected, rec.Body.Bytes())
}
