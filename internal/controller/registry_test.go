package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bledom-go-home/internal/ble"
	"bledom-go-home/internal/model"
	"bledom-go-home/internal/store"
)

// memStore is a minimal in-memory store for registry tests.
type memStore struct {
	mu      sync.Mutex
	devices map[string]*store.Device
}

func newMemStore() *memStore {
	return &memStore{devices: make(map[string]*store.Device)}
}

func (m *memStore) SaveDevice(dev *store.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dev
	m.devices[dev.Address] = &cp
	return nil
}

func (m *memStore) GetDevice(address string) (*store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[address]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) DeleteDevice(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, address)
	return nil
}

func (m *memStore) ListDevices() ([]*store.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*store.Device, 0, len(m.devices))
	for _, d := range m.devices {
		cp := *d
		list = append(list, &cp)
	}
	return list, nil
}

func (m *memStore) UpdateDevice(address string, fn func(dev *store.Device) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[address]
	if !ok {
		return store.ErrNotFound
	}
	return fn(d)
}

func (m *memStore) Close() error { return nil }

// nullAdapter satisfies ble.Adapter for tests that never touch the radio.
type nullAdapter struct {
	peripherals []ble.Peripheral
}

func (a *nullAdapter) Enable() error { return nil }

func (a *nullAdapter) Scan(ctx context.Context, found func(ble.Peripheral)) error {
	for _, p := range a.peripherals {
		found(p)
	}
	<-ctx.Done()
	return nil
}

func (a *nullAdapter) Connect(context.Context, string) (ble.Connection, error) {
	return nil, errors.New("no radio in tests")
}

func newTestRegistry(t *testing.T, adapter ble.Adapter) (*Registry, *memStore) {
	t.Helper()
	if adapter == nil {
		adapter = &nullAdapter{}
	}
	ms := newMemStore()
	logger := testLogger()
	r := NewRegistry(adapter, ms, NewEventBus(logger), logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})
	return r, ms
}

func TestRegistryAddAndGet(t *testing.T) {
	r, ms := newTestRegistry(t, nil)

	c, err := r.Add("BE:00:00:00:00:01", "ELK-BLEDOM", "desk strip")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.Descriptor().Prefix != "ELK-BLE" {
		t.Errorf("model prefix = %q, want ELK-BLE", c.Descriptor().Prefix)
	}

	got, ok := r.Get("BE:00:00:00:00:01")
	if !ok || got != c {
		t.Error("Get did not return the added controller")
	}

	dev, err := ms.GetDevice("BE:00:00:00:00:01")
	if err != nil {
		t.Fatalf("device not persisted: %v", err)
	}
	if !dev.Enabled || dev.FriendlyName != "desk strip" {
		t.Errorf("persisted device = %+v", dev)
	}
	// Factory gains from the descriptor become the initial calibration.
	if dev.Calibration.GainR != 1 || dev.Calibration.BrightnessMode != "auto" {
		t.Errorf("default calibration = %+v", dev.Calibration)
	}
}

func TestRegistryAddUnsupportedName(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	_, err := r.Add("BE:00:00:00:00:01", "Triones:A1B2", "")
	var nse *model.NotSupportedError
	if !errors.As(err, &nse) {
		t.Fatalf("error = %v (%T), want *model.NotSupportedError", err, err)
	}
}

func TestRegistryAddIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	a, err := r.Add("BE:00:00:00:00:01", "ELK-BLEDOM", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Add("BE:00:00:00:00:01", "ELK-BLEDOM", "")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second add created a new controller")
	}
}

func TestRegistryRemove(t *testing.T) {
	r, ms := newTestRegistry(t, nil)

	if _, err := r.Add("BE:00:00:00:00:01", "ELK-BLEDOM", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(context.Background(), "BE:00:00:00:00:01"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := r.Get("BE:00:00:00:00:01"); ok {
		t.Error("controller still registered after remove")
	}
	if _, err := ms.GetDevice("BE:00:00:00:00:01"); !errors.Is(err, store.ErrNotFound) {
		t.Error("device record still persisted after remove")
	}
}

func TestRegistryLoadRestoresEnabledOnly(t *testing.T) {
	r, ms := newTestRegistry(t, nil)

	ms.SaveDevice(&store.Device{Address: "BE:00:00:00:00:01", Name: "ELK-BLEDOM", Enabled: true})
	ms.SaveDevice(&store.Device{Address: "BE:00:00:00:00:02", Name: "MELK-99", Enabled: false})
	ms.SaveDevice(&store.Device{Address: "BE:00:00:00:00:03", Name: "NOT-A-LIGHT", Enabled: true})

	if err := r.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := r.Get("BE:00:00:00:00:01"); !ok {
		t.Error("enabled device not restored")
	}
	if _, ok := r.Get("BE:00:00:00:00:02"); ok {
		t.Error("disabled device was restored")
	}
	if _, ok := r.Get("BE:00:00:00:00:03"); ok {
		t.Error("unclassifiable device was restored")
	}
}

func TestRegistryResolveByFriendlyName(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	c, err := r.Add("BE:00:00:00:00:01", "ELK-BLEDOM", "kitchen")
	if err != nil {
		t.Fatal(err)
	}

	got, ok := r.Resolve("kitchen")
	if !ok || got != c {
		t.Error("Resolve by friendly name failed")
	}
	got, ok = r.Resolve("BE:00:00:00:00:01")
	if !ok || got != c {
		t.Error("Resolve by address failed")
	}
	if _, ok := r.Resolve("bathroom"); ok {
		t.Error("Resolve invented a controller")
	}
}

func TestRegistrySetCalibrationPersists(t *testing.T) {
	r, ms := newTestRegistry(t, nil)

	if _, err := r.Add("BE:00:00:00:00:01", "ELK-BLEDOM", ""); err != nil {
		t.Fatal(err)
	}

	calib := store.Calibration{GainR: 1, GainG: 0.8, GainB: 0.5, BrightnessMode: "rgb", DisconnectDelaySeconds: 60}
	if err := r.SetCalibration("BE:00:00:00:00:01", calib); err != nil {
		t.Fatalf("set calibration: %v", err)
	}

	dev, err := ms.GetDevice("BE:00:00:00:00:01")
	if err != nil {
		t.Fatal(err)
	}
	if dev.Calibration.GainG != 0.8 || dev.Calibration.BrightnessMode != "rgb" {
		t.Errorf("persisted calibration = %+v", dev.Calibration)
	}

	// Invalid calibration is rejected before touching anything.
	bad := store.Calibration{GainR: 9, GainG: 1, GainB: 1}
	if err := r.SetCalibration("BE:00:00:00:00:01", bad); err == nil {
		t.Error("out-of-range gain accepted")
	}
}

func TestRegistryScanFindsSupported(t *testing.T) {
	adapter := &nullAdapter{peripherals: []ble.Peripheral{
		{Address: "BE:00:00:00:00:01", Name: "ELK-BLEDOM", RSSI: -40},
		{Address: "BE:00:00:00:00:02", Name: "Some-Watch", RSSI: -70},
		{Address: "BE:00:00:00:00:03", Name: "MELK-OG10", RSSI: -55},
	}}
	r, _ := newTestRegistry(t, adapter)

	found, err := r.Scan(context.Background(), 50*time.Millisecond, false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("found %d peripherals, want 2 (unsupported filtered)", len(found))
	}
	for _, p := range found {
		if p.Name == "Some-Watch" {
			t.Error("unsupported peripheral reported")
		}
	}
}

func TestRegistryScanAutoAdd(t *testing.T) {
	adapter := &nullAdapter{peripherals: []ble.Peripheral{
		{Address: "BE:00:00:00:00:01", Name: "ELK-BLEDOM", RSSI: -40},
	}}
	r, ms := newTestRegistry(t, adapter)

	if _, err := r.Scan(context.Background(), 50*time.Millisecond, true); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, ok := r.Get("BE:00:00:00:00:01"); !ok {
		t.Error("auto-add did not register the discovered device")
	}
	if _, err := ms.GetDevice("BE:00:00:00:00:01"); err != nil {
		t.Error("auto-added device not persisted")
	}
}
