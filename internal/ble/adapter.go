// Package ble owns the radio side of the controller: the adapter
// abstraction over the host Bluetooth stack, peripheral scanning, and the
// per-device connection manager that serializes command writes.
package ble

import (
	"context"
	"fmt"
)

// Peripheral is one discovered BLE advertiser.
type Peripheral struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// Characteristic is a writable GATT characteristic on a connected peripheral.
type Characteristic interface {
	Write(data []byte) error
}

// Connection is an active link to a peripheral.
type Connection interface {
	// DiscoverWriteCharacteristic finds the command characteristic by UUID,
	// searching all advertised services.
	DiscoverWriteCharacteristic(charUUID string) (Characteristic, error)
	Disconnect() error
	// OnDisconnect registers a callback fired when the link drops without a
	// local Disconnect call.
	OnDisconnect(callback func())
}

// Adapter abstracts the host Bluetooth stack so the connection manager can
// be tested against a fake.
type Adapter interface {
	Enable() error
	// Scan reports advertisers to found until ctx is cancelled.
	Scan(ctx context.Context, found func(Peripheral)) error
	Connect(ctx context.Context, address string) (Connection, error)
}

// ConnectionError wraps a transport-level connect or write failure. It is
// retryable up to the manager's configured bound.
type ConnectionError struct {
	Address string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
