package httpstatus_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdube/extruderfin/comm"
	"github.com/bdube/extruderfin/config"
	"github.com/bdube/extruderfin/controller"
	"github.com/bdube/extruderfin/httpstatus"
)

func newTestController(t *testing.T) *controller.Controller {
	t.Helper()
	cfg := config.Default()
	cfg.NVM.Path = t.TempDir() + "/test.nvm"
	return controller.New(cfg, comm.NewLineTransport(nil))
}

func TestStatusReturnsHeaterAndSensorSnapshot(t *testing.T) {
	c := newTestController(t)
	srv := httptest.NewServer(httpstatus.NewRouter(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var snap httpstatus.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap.HeaterState != "Off" {
		t.Errorf("expected a freshly built controller to report Off, got %q", snap.HeaterState)
	}
}

func TestRoutesListsStatusAndRoutes(t *testing.T) {
	c := newTestController(t)
	srv := httptest.NewServer(httpstatus.NewRouter(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/routes")
	if err != nil {
		t.Fatalf("GET /routes: %v", err)
	}
	defer resp.Body.Close()

	var routes []string
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		t.Fatalf("decoding routes: %v", err)
	}
	found := map[string]bool{}
	for _, r := range routes {
		found[r] = true
	}
	if !found["GET /status"] {
		t.Errorf("expected /status to be listed, got %v", routes)
	}
	if !found["GET /routes"] {
		t.Errorf("expected /routes to be listed, got %v", routes)
	}
}
