package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinygoAdapter implements Adapter on top of tinygo.org/x/bluetooth
// (BlueZ on Linux, CoreBluetooth on macOS). On macOS, peripheral addresses
// are CoreBluetooth UUID strings rather than MAC addresses; the Address
// fields carry whichever form the platform uses.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter

	mu          sync.Mutex
	connections map[string]*tinygoConnection
}

// NewTinygoAdapter wraps the host's default Bluetooth adapter.
func NewTinygoAdapter() *TinygoAdapter {
	return &TinygoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinygoConnection),
	}
}

func (a *TinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}

	// The stack reports unsolicited disconnects through this adapter-level
	// handler; route them to the affected connection's callback.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok && conn.disconnectCb != nil {
			conn.disconnectCb()
		}
	})

	return nil
}

func (a *TinygoAdapter) Scan(ctx context.Context, found func(Peripheral)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		found(Peripheral{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

func (a *TinygoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// The stack's Connect blocks with its own timeout; wrap it so our ctx
	// deadline also applies. A cancelled attempt is abandoned, not aborted.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &ConnectionError{Address: address, Op: "connect", Err: ctx.Err()}
	case result := <-ch:
		if result.err != nil {
			return nil, &ConnectionError{Address: address, Op: "connect", Err: result.err}
		}
		conn := &tinygoConnection{device: &result.device}
		a.mu.Lock()
		a.connections[address] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device       *bluetooth.Device
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverWriteCharacteristic(charUUID string) (Characteristic, error) {
	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic UUID: %w", err)
	}

	// These controllers advertise slightly different service layouts across
	// firmware revisions; search every service for the write characteristic.
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
		if err != nil {
			continue
		}
		if len(chars) > 0 {
			return &tinygoCharacteristic{char: &chars[0]}, nil
		}
	}
	return nil, fmt.Errorf("characteristic %s not found", charUUID)
}

func (c *tinygoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.disconnectCb = cb
}

type tinygoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
