// Package testutil provides common test fixtures and assertions for CarPulse tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/CarPulse/internal/api"
	"github.com/BTreeMap/CarPulse/internal/chart"
	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/store"
)

// TestingT is the subset of testing.T used by the assertion helpers.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// FixtureCatalog is a catalog file with three aligned vehicles over the default periods.
const FixtureCatalog = `Toyota Camry,25000,203,28 MPG,2023,Gasoline,Japan,25000 25000 25000 25000 25000
Honda Civic,22000,158,32 MPG,2023,Gasoline,Japan,21000 21200 21500 21800 22000
BMW X5,60000,335,21 MPG,2023,Diesel,Germany,58000 59000 60000 61000 60000
`

// FixtureVehicles lists the names in FixtureCatalog in file order.
var FixtureVehicles = []string{"Toyota Camry", "Honda Civic", "BMW X5"}

// WriteCatalogFile writes content to a cars.txt in a fresh temp directory and returns its path.
func WriteCatalogFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), store.DefaultCatalogFile)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write catalog fixture: %v", err)
	}
	return path
}

// NewTestCatalog returns a catalog store loaded from FixtureCatalog.
func NewTestCatalog(t *testing.T) *store.CatalogStore {
	t.Helper()
	catalog := store.NewCatalogStore(WriteCatalogFile(t, FixtureCatalog), models.DefaultPeriods())
	report := catalog.LoadWithReport()
	if report.Degraded() || report.Loaded != len(FixtureVehicles) {
		t.Fatalf("fixture catalog did not load cleanly: %+v", report)
	}
	return catalog
}

// NewTestServer creates an API server over the fixture catalog.
func NewTestServer(t *testing.T, opts ...api.Option) (*api.Server, *store.CatalogStore) {
	t.Helper()
	catalog := NewTestCatalog(t)
	return api.NewServer(catalog, chart.NewRenderer(catalog), opts...), catalog
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the JSON envelope and validates its status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	status, ok := response["status"].(string)
	if !ok {
		t.Errorf("response missing or invalid 'status' field")
		return response
	}
	if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t TestingT, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
