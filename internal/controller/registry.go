package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bledom-go-home/internal/ble"
	"bledom-go-home/internal/model"
	"bledom-go-home/internal/store"
)

// Registry owns the set of controllers, one per registered device, and keeps
// the persistent device records in sync with it.
type Registry struct {
	adapter ble.Adapter
	db      store.Store
	events  *EventBus
	logger  *slog.Logger

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry(adapter ble.Adapter, db store.Store, events *EventBus, logger *slog.Logger) *Registry {
	return &Registry{
		adapter:     adapter,
		db:          db,
		events:      events,
		logger:      logger,
		controllers: make(map[string]*Controller),
	}
}

// Events returns the shared event bus.
func (r *Registry) Events() *EventBus { return r.events }

// Load restores controllers for every enabled device in the store.
func (r *Registry) Load() error {
	devices, err := r.db.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, dev := range devices {
		if !dev.Enabled {
			continue
		}
		desc, err := model.Classify(dev.Name)
		if err != nil {
			r.logger.Warn("stored device no longer classifiable", "address", dev.Address, "name", dev.Name)
			continue
		}
		r.attach(dev.Address, desc, dev.Calibration)
	}
	r.logger.Info("devices restored", "count", len(r.controllers))
	return nil
}

// Add classifies a discovered peripheral and registers a controller for it.
// Unknown names surface the classifier's *model.NotSupportedError.
func (r *Registry) Add(address, name, friendlyName string) (*Controller, error) {
	desc, err := model.Classify(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if c, ok := r.controllers[address]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	calib := DefaultCalibration(desc)
	dev := &store.Device{
		Address:      address,
		Name:         name,
		ModelPrefix:  desc.Prefix,
		FriendlyName: friendlyName,
		Calibration:  calib,
		Enabled:      true,
		AddedAt:      time.Now(),
		LastSeen:     time.Now(),
	}
	if err := r.db.SaveDevice(dev); err != nil {
		return nil, fmt.Errorf("save device: %w", err)
	}

	c := r.attach(address, desc, calib)
	r.logger.Info("device added", "address", address, "model", desc.Prefix)
	r.events.Emit(Event{Type: EventDeviceAdded, Data: dev})
	return c, nil
}

func (r *Registry) attach(address string, desc *model.Descriptor, calib store.Calibration) *Controller {
	link := ble.NewManager(r.adapter, LinkConfig(address, desc, calib), r.logger)
	c := New(address, desc, calib, link, r.events, r.logger)
	r.mu.Lock()
	r.controllers[address] = c
	r.mu.Unlock()
	return c
}

// Remove shuts down a device's controller and deletes its record.
func (r *Registry) Remove(ctx context.Context, address string) error {
	r.mu.Lock()
	c, ok := r.controllers[address]
	delete(r.controllers, address)
	r.mu.Unlock()

	if ok {
		if err := c.Shutdown(ctx); err != nil {
			r.logger.Warn("controller shutdown", "address", address, "err", err)
		}
	}
	if err := r.db.DeleteDevice(address); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete device: %w", err)
	}
	r.events.Emit(Event{Type: EventDeviceRemoved, Data: map[string]string{"address": address}})
	return nil
}

// Get returns the controller for an address.
func (r *Registry) Get(address string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[address]
	return c, ok
}

// Resolve finds a controller by address or stored friendly name.
func (r *Registry) Resolve(target string) (*Controller, bool) {
	if c, ok := r.Get(target); ok {
		return c, true
	}
	devices, err := r.db.ListDevices()
	if err != nil {
		return nil, false
	}
	for _, dev := range devices {
		if dev.FriendlyName == target {
			return r.Get(dev.Address)
		}
	}
	return nil, false
}

// List returns all registered controllers.
func (r *Registry) List() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}

// Devices returns the persistent device records.
func (r *Registry) Devices() ([]*store.Device, error) {
	return r.db.ListDevices()
}

// Device returns a single persistent device record.
func (r *Registry) Device(address string) (*store.Device, error) {
	return r.db.GetDevice(address)
}

// Rename updates a device's friendly name.
func (r *Registry) Rename(address, friendlyName string) error {
	return r.db.UpdateDevice(address, func(dev *store.Device) error {
		dev.FriendlyName = friendlyName
		return nil
	})
}

// SetCalibration validates, applies live, and persists new calibration for
// a device.
func (r *Registry) SetCalibration(address string, calib store.Calibration) error {
	c, ok := r.Get(address)
	if !ok {
		return fmt.Errorf("device %s: %w", address, store.ErrNotFound)
	}
	if err := c.SetCalibration(calib); err != nil {
		return err
	}
	return r.db.UpdateDevice(address, func(dev *store.Device) error {
		dev.Calibration = c.Calibration()
		return nil
	})
}

// Scan discovers supported peripherals for the given duration. Known
// devices get their last-seen records refreshed; unknown supported ones are
// reported via EventDeviceFound and, with autoAdd, registered immediately.
func (r *Registry) Scan(ctx context.Context, duration time.Duration, autoAdd bool) ([]ble.Peripheral, error) {
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var found []ble.Peripheral

	err := r.adapter.Scan(scanCtx, func(p ble.Peripheral) {
		if _, err := model.Classify(p.Name); err != nil {
			return
		}
		mu.Lock()
		if seen[p.Address] {
			mu.Unlock()
			return
		}
		seen[p.Address] = true
		found = append(found, p)
		mu.Unlock()

		r.logger.Info("controller discovered", "address", p.Address, "name", p.Name, "rssi", p.RSSI)
		if err := r.db.UpdateDevice(p.Address, func(dev *store.Device) error {
			dev.LastSeen = time.Now()
			dev.RSSI = p.RSSI
			return nil
		}); err != nil && errors.Is(err, store.ErrNotFound) {
			r.events.Emit(Event{Type: EventDeviceFound, Data: p})
			if autoAdd {
				if _, err := r.Add(p.Address, p.Name, ""); err != nil {
					r.logger.Warn("auto-add failed", "address", p.Address, "err", err)
				}
			}
		}
	})
	if err != nil && scanCtx.Err() == nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return found, nil
}

// Shutdown stops every controller's connection manager.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.Unlock()

	for _, c := range controllers {
		if err := c.Shutdown(ctx); err != nil {
			r.logger.Warn("controller shutdown", "address", c.Address(), "err", err)
		}
	}
}
