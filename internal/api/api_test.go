package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CarPulse/internal/chart"
	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/store"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

const testCatalogFile = `Toyota Camry,25000,203,28 MPG,2023,Gasoline,Japan,25000 25000 25000 25000 25000
BMW X5,60000,335,21 MPG,2023,Diesel,Germany,58000 59000 60000 61000 60000
Lada Niva,9000,80,10 L/100km,2020,Gasoline,Russia,1 2 3 4 5 6
`

type testEnv struct {
	server   *Server
	catalog  *store.CatalogStore
	sessions *store.InMemoryStore
	media    *MediaStore
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cars.txt")
	if err := os.WriteFile(path, []byte(testCatalogFile), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	catalog := store.NewCatalogStore(path, models.DefaultPeriods())
	if report := catalog.LoadWithReport(); report.Loaded != 3 {
		t.Fatalf("expected 3 vehicles loaded, got %+v", report)
	}
	env := &testEnv{
		catalog:  catalog,
		sessions: store.NewInMemoryStore(),
		media:    NewMediaStore("https://bot.example", time.Minute),
	}
	all := append([]Option{WithMediaStore(env.media), WithSessionCounter(env.sessions)}, opts...)
	env.server = NewServer(catalog, chart.NewRenderer(catalog), all...)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return resp
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	if err := env.sessions.SaveSession(context.Background(), *models.NewSession("u1", time.Now())); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode(t, rr)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result: %#v", resp.Result)
	}
	if result["vehicles"].(float64) != 3 || result["sessions"].(float64) != 1 {
		t.Errorf("unexpected health result: %v", result)
	}

	if rr := env.do(t, http.MethodPost, "/health", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestVehiclesHandler(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/vehicles", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode(t, rr)
	list, ok := resp.Result.([]interface{})
	if !ok || len(list) != 3 {
		t.Fatalf("expected 3 vehicles, got %#v", resp.Result)
	}
	first := list[0].(map[string]interface{})
	if first["name"] != "Toyota Camry" || len(first["prices"].([]interface{})) != 5 {
		t.Errorf("unexpected first vehicle: %v", first)
	}
}

func TestVehicleHandler_Get(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/vehicles/BMW%20X5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Result VehicleView `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Result.Name != "BMW X5" || body.Result.Country != "Germany" || body.Result.Prices[4] != 60000 {
		t.Errorf("unexpected vehicle: %+v", body.Result)
	}

	if rr := env.do(t, http.MethodGet, "/vehicles/Missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/vehicles/BMW%20X5", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestVehicleHandler_Put(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/vehicles/Honda%20Civic", `{"price":22000,"horsepower":158,"fuel_economy":"32 MPG","year":2023,"prices":[21000,21500]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	v, ok := env.catalog.Vehicle("Honda Civic")
	if !ok || v.EngineType != models.DefaultUnknown {
		t.Fatalf("expected stored vehicle with defaults, got %+v (found=%v)", v, ok)
	}
	if got := env.catalog.History()["Honda Civic"]; len(got) != 5 || got[4] != 22000 {
		t.Errorf("expected series padded with the current price, got %v", got)
	}

	reloaded := store.NewCatalogStore(env.catalog.Path(), models.DefaultPeriods())
	reloaded.LoadWithReport()
	if _, ok := reloaded.Vehicle("Honda Civic"); !ok {
		t.Error("upsert was not persisted to the catalog file")
	}

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad json", "/vehicles/Honda%20Civic", `{`},
		{"negative price", "/vehicles/Honda%20Civic", `{"price":-1}`},
		{"comma in name", "/vehicles/Honda%2C%20Civic", `{"price":1}`},
		{"trailing space in name", "/vehicles/Toyota%20Camry%20", `{"price":1}`},
		{"command word as name", "/vehicles/Menu", `{"price":1}`},
		{"series longer than periods", "/vehicles/Honda%20Civic", `{"price":1,"prices":[1,2,3,4,5,6]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPut, tt.path, tt.body); rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestChartHandler(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/chart?vehicle=Toyota+Camry&vehicle=BMW+X5&window=3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "image/png" {
		t.Errorf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), pngMagic) {
		t.Error("expected PNG body")
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "Toyota_Camry_vs_BMW_X5_price_chart.png") {
		t.Errorf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"no vehicles", "/chart", http.StatusBadRequest},
		{"bad window", "/chart?vehicle=BMW+X5&window=abc", http.StatusBadRequest},
		{"negative window", "/chart?vehicle=BMW+X5&window=-2", http.StatusBadRequest},
		{"unknown vehicle", "/chart?vehicle=Missing", http.StatusNotFound},
		{"misaligned series", "/chart?vehicle=Lada+Niva&window=all", http.StatusUnprocessableEntity},
		{"misaligned series within window", "/chart?vehicle=Lada+Niva&window=3", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodGet, tt.query, ""); rr.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestMediaHandler(t *testing.T) {
	env := newTestEnv(t)
	now := time.Unix(1700000000, 0)
	env.media.now = func() time.Time { return now }

	url, err := env.media.Host(pngMagic, "chart.png")
	if err != nil {
		t.Fatalf("Host failed: %v", err)
	}
	if !strings.HasPrefix(url, "https://bot.example/media/") {
		t.Fatalf("unexpected media URL %q", url)
	}
	path := strings.TrimPrefix(url, "https://bot.example")

	rr := env.do(t, http.MethodGet, path, "")
	if rr.Code != http.StatusOK || !bytes.Equal(rr.Body.Bytes(), pngMagic) {
		t.Fatalf("expected hosted image, got %d", rr.Code)
	}

	now = now.Add(2 * time.Minute)
	if rr := env.do(t, http.MethodGet, path, ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after expiry, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/media/unknown", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rr.Code)
	}
}

func TestMediaStoreEvictsOldest(t *testing.T) {
	m := NewMediaStore("https://bot.example", time.Minute)
	m.maxItems = 2
	clock := time.Unix(1700000000, 0)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	first, _ := m.Host([]byte{1}, "a.png")
	m.Host([]byte{2}, "b.png")
	m.Host([]byte{3}, "c.png")
	if m.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", m.Len())
	}
	if _, _, ok := m.Get(strings.TrimPrefix(first, "https://bot.example/media/")); ok {
		t.Error("expected oldest item to be evicted")
	}
	if _, err := NewMediaStore("", 0).Host([]byte{1}, "a.png"); err == nil {
		t.Error("expected error without base URL")
	}
}

func TestMediaStorePrune(t *testing.T) {
	m := NewMediaStore("https://bot.example", time.Minute)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }
	m.Host([]byte{1}, "a.png")
	now = now.Add(30 * time.Second)
	m.Host([]byte{2}, "b.png")

	now = now.Add(45 * time.Second)
	if removed := m.Prune(); removed != 1 {
		t.Errorf("expected 1 expired image, pruned %d", removed)
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 image left, got %d", m.Len())
	}
}

func TestTwilioWebhookRoute(t *testing.T) {
	called := false
	env := newTestEnv(t, WithTwilioWebhook(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	if rr := env.do(t, http.MethodGet, "/webhook/twilio", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/webhook/twilio", "From=x&Body=y"); rr.Code != http.StatusOK || !called {
		t.Errorf("expected webhook to be called, got %d", rr.Code)
	}

	plain := newTestEnv(t)
	if rr := plain.do(t, http.MethodPost, "/webhook/twilio", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without webhook, got %d", rr.Code)
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		raw     string
		want    models.Window
		wantErr bool
	}{
		{"", models.AllPeriods, false},
		{"ALL", models.AllPeriods, false},
		{"3", models.Window{Last: 3}, false},
		{"x", models.Window{}, true},
		{"-1", models.Window{}, true},
	}
	for _, tt := range tests {
		got, err := ParseWindow(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseWindow(%q) = %v, %v", tt.raw, got, err)
		}
	}
}
