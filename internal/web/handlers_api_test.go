package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bledom-go-home/internal/ble"
	"bledom-go-home/internal/controller"
	"bledom-go-home/internal/store"
)

// fakeCharacteristic records every frame written to it.
type fakeCharacteristic struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeCharacteristic) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(p))
	copy(cp, p)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeCharacteristic) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type fakeConnection struct {
	char *fakeCharacteristic
}

func (c *fakeConnection) DiscoverWriteCharacteristic(string) (ble.Characteristic, error) {
	return c.char, nil
}

func (c *fakeConnection) Disconnect() error { return nil }

func (c *fakeConnection) OnDisconnect(func()) {}

// fakeAdapter hands out in-memory connections.
type fakeAdapter struct {
	mu          sync.Mutex
	conns       []*fakeConnection
	peripherals []ble.Peripheral
}

func (a *fakeAdapter) Enable() error { return nil }

func (a *fakeAdapter) Scan(ctx context.Context, found func(ble.Peripheral)) error {
	for _, p := range a.peripherals {
		found(p)
	}
	<-ctx.Done()
	return nil
}

func (a *fakeAdapter) Connect(_ context.Context, _ string) (ble.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn := &fakeConnection{char: &fakeCharacteristic{}}
	a.conns = append(a.conns, conn)
	return conn, nil
}

func (a *fakeAdapter) written() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, c := range a.conns {
		total += c.char.count()
	}
	return total
}

func setupTestServer(t *testing.T, apiKey string) (*Server, *controller.Registry, *fakeAdapter) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	adapter := &fakeAdapter{}
	registry := controller.NewRegistry(adapter, db, controller.NewEventBus(logger), logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		registry.Shutdown(ctx)
	})

	var opts []ServerOption
	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv, err := NewServer(registry, logger, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)

	return srv, registry, adapter
}

func seedDevice(t *testing.T, registry *controller.Registry, address, name, friendly string) {
	t.Helper()
	if _, err := registry.Add(address, name, friendly); err != nil {
		t.Fatal(err)
	}
}

func TestAPIListDevices(t *testing.T) {
	srv, registry, _ := setupTestServer(t, "")
	seedDevice(t, registry, "BE:00:00:00:00:01", "ELK-BLEDOM", "desk")
	seedDevice(t, registry, "BE:00:00:00:00:02", "MELK-OG10", "")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var views []deviceView
	if err := json.NewDecoder(w.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Errorf("device count = %d, want 2", len(views))
	}
	for _, v := range views {
		if v.State == nil {
			t.Errorf("device %s missing live state", v.Address)
		}
	}
}

func TestAPIAddDevice(t *testing.T) {
	srv, registry, _ := setupTestServer(t, "")

	body := `{"address":"BE:00:00:00:00:01","name":"ELK-BLEDOM","friendly_name":"shelf"}`
	req := httptest.NewRequest("POST", "/api/devices", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if _, ok := registry.Get("BE:00:00:00:00:01"); !ok {
		t.Error("device not registered after add")
	}
}

func TestAPIAddDeviceUnsupported(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	body := `{"address":"BE:00:00:00:00:01","name":"Triones:A1B2"}`
	req := httptest.NewRequest("POST", "/api/devices", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIGetDeviceNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/devices/BE:FF:FF:FF:FF:FF", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIRenameDevice(t *testing.T) {
	srv, registry, _ := setupTestServer(t, "")
	seedDevice(t, registry, "BE:00:00:00:00:01", "ELK-BLEDOM", "")

	body := `{"friendly_name": "Kitchen Strip"}`
	req := httptest.NewRequest("PATCH", "/api/devices/BE:00:00:00:00:01", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	dev, err := registry.Device("BE:00:00:00:00:01")
	if err != nil {
		t.Fatal(err)
	}
	if dev.FriendlyName != "Kitchen Strip" {
		t.Errorf("stored friendly_name = %q, want Kitchen Strip", dev.FriendlyName)
	}
}

func TestAPIRenameDeviceNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	body := `{"friendly_name": "Test"}`
	req := httptest.NewRequest("PATCH", "/api/devices/BE:FF:FF:FF:FF:FF", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIDeleteDevice(t *testing.T) {
	srv, registry, _ := setupTestServer(t, "")
	seedDevice(t, registry, "BE:00:00:00:00:01", "ELK-BLEDOM", "")

	req := httptest.NewRequest("DELETE", "/api/devices/BE:00:00:00:00:01", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, ok := registry.Get("BE:00:00:00:00:01"); ok {
		t.Error("device still registered after delete")
	}
}

func TestAPIPowerOn(t *testing.T) {
	srv, registry, adapter := setupTestServer(t, "")
	seedDevice(t, registry, "BE:00:00:00:00:01", "ELK-BLEDOM", "")

	body := `{"on": true}`
	req := httptest.NewRequest("POST", "/api/devices/BE:00:00:00:00:01/power", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if adapter.written() == 0 {
		t.Error("no frames reached the device")
	}
}

func TestAPIIntentByFriendlyName(t *testing.T) {
	srv, registry, adapter := setupTestServer(t, "")
	seedDevice(t, registry, "BE:00:00:00:00:01", "ELK-BLEDOM", "desk strip")

	body := `{"r": 255, "g": 0, "b": 64}`
	req := httptest.NewRequest("POST", "/api/devices/desk%20strip/color", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if adapter.written() == 0 {
		t.Error("no frames reached the device")
	}
}

func TestAPIMicUnsupportedModel(t *testing.T) {
	srv, registry, _ := setupTestServer(t, "")
	// MELK family has no mic-reactive modes.
	seedDevice(t, registry, "BE:00:00:00:00:01", "MELK-OG10", "")

	body := `{"enabled": true}`
	req := httptest.NewRequest("POST", "/api/devices/BE:00:00:00:00:01/mic", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestAPIEffectUnknownName(t *testing.T) {
	srv, registry, _ := setupTestServer(t, "")
	seedDevice(t, registry, "BE:00:00:00:00:01", "ELK-BLEDOM", "")

	body := `{"name": "disco_inferno"}`
	req := httptest.NewRequest("POST", "/api/devices/BE:00:00:00:00:01/effect", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code == http.StatusOK {
		t.Fatal("unknown effect accepted")
	}
}

func TestAPISetCalibration(t *testing.T) {
	srv, registry, _ := setupTestServer(t, "")
	seedDevice(t, registry, "BE:00:00:00:00:01", "ELK-BLEDOM", "")

	body := `{"gain_r": 1, "gain_g": 0.8, "gain_b": 0.5, "brightness_mode": "rgb"}`
	req := httptest.NewRequest("PUT", "/api/devices/BE:00:00:00:00:01/calibration", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	dev, err := registry.Device("BE:00:00:00:00:01")
	if err != nil {
		t.Fatal(err)
	}
	if dev.Calibration.GainG != 0.8 {
		t.Errorf("persisted gain_g = %v, want 0.8", dev.Calibration.GainG)
	}
}

func TestAPISetCalibrationInvalid(t *testing.T) {
	srv, registry, _ := setupTestServer(t, "")
	seedDevice(t, registry, "BE:00:00:00:00:01", "ELK-BLEDOM", "")

	body := `{"gain_r": 9, "gain_g": 1, "gain_b": 1}`
	req := httptest.NewRequest("PUT", "/api/devices/BE:00:00:00:00:01/calibration", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIScan(t *testing.T) {
	srv, _, adapter := setupTestServer(t, "")
	adapter.peripherals = []ble.Peripheral{
		{Address: "BE:00:00:00:00:01", Name: "ELK-BLEDOM", RSSI: -40},
		{Address: "BE:00:00:00:00:02", Name: "Some-Watch", RSSI: -70},
	}

	body := `{"duration_seconds": 1}`
	req := httptest.NewRequest("POST", "/api/scan", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	var found []ble.Peripheral
	if err := json.NewDecoder(w.Body).Decode(&found); err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Errorf("found %d peripherals, want 1 (unsupported filtered)", len(found))
	}
}

func TestAPIScanDurationLimit(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	body := `{"duration_seconds": 600}`
	req := httptest.NewRequest("POST", "/api/scan", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIEffectsList(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/effects", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string][]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp["effects"]) == 0 {
		t.Error("effects list empty")
	}
	if len(resp["mic_effects"]) != 8 {
		t.Errorf("mic_effects count = %d, want 8", len(resp["mic_effects"]))
	}
}

func TestAuthMiddlewareHeader(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("correct header key: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareQueryParam(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/devices?api_key=secret-key", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("correct query key: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareMissing(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddlewareWrongKey(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIVersion(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")
	srv.version = "1.2.3"

	req := httptest.NewRequest("GET", "/api/version", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}
}
