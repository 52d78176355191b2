// Package testkit provides JSON-scenario-driven HTTP testing for the
// appshell route table.
//
// Each scenario is a JSON file that describes the request to fire and what
// the response must look like:
//
//	testdata/
//	  index.json          ← scenario
//	  healthz_res.json    ← expected JSON body, referenced by responseFileName
//
// Example _test.go:
//
//	func TestRoutes(t *testing.T) {
//	    srv, _ := app.New(cfg)
//	    testkit.RunDir(t, srv.Handler(), "testdata")
//	}
package testkit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Scenario describes a single HTTP test case loaded from a JSON file.
type Scenario struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	RequestMethod string            `json:"requestMethod"` // defaults to GET
	RequestURL    string            `json:"requestUrl"`
	Headers       map[string]string `json:"headers"`

	ExpectedCode        int               `json:"expectedCode"`
	ExpectedContentType string            `json:"expectedContentType"`
	ExpectedHeaders     map[string]string `json:"expectedHeaders"`
	BodyContains        []string          `json:"bodyContains"`
	BodyExcludes        []string          `json:"bodyExcludes"`
	ResponseFileName    string            `json:"responseFileName"` // expected JSON body, relative to the scenario

	dir string
}

// LoadScenario reads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("testkit: parse %q: %w", path, err)
	}
	if s.RequestURL == "" {
		return nil, fmt.Errorf("testkit: %q has no requestUrl", path)
	}
	if s.ExpectedCode == 0 {
		return nil, fmt.Errorf("testkit: %q has no expectedCode", path)
	}
	if s.RequestMethod == "" {
		s.RequestMethod = "GET"
	}
	if s.Name == "" {
		s.Name = filepath.Base(path)
	}
	s.dir = filepath.Dir(path)
	return &s, nil
}

// ExpectedBody reads the file named by ResponseFileName. It returns nil
// when no file is set.
func (s *Scenario) ExpectedBody() ([]byte, error) {
	if s.ResponseFileName == "" {
		return nil, nil
	}
	return os.ReadFile(filepath.Join(s.dir, s.ResponseFileName))
}
