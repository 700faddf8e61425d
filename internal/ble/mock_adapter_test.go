package ble

import (
	"context"
	"errors"
	"sync"
)

// mockAdapter is an in-memory Adapter for manager tests. connectErrs is a
// queue of errors returned by successive Connect calls before connections
// start succeeding.
type mockAdapter struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	conns       []*mockConnection
	peripherals []Peripheral
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(ctx context.Context, found func(Peripheral)) error {
	a.mu.Lock()
	ps := append([]Peripheral(nil), a.peripherals...)
	a.mu.Unlock()
	for _, p := range ps {
		found(p)
	}
	<-ctx.Done()
	return nil
}

func (a *mockAdapter) Connect(_ context.Context, address string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if len(a.connectErrs) > 0 {
		err := a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
		return nil, err
	}
	conn := &mockConnection{address: address, char: &mockCharacteristic{}}
	a.conns = append(a.conns, conn)
	return conn, nil
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

func (a *mockAdapter) lastConn() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// writes returns every frame written across all connections, in order.
func (a *mockAdapter) writes() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out [][]byte
	for _, c := range a.conns {
		out = append(out, c.char.frames()...)
	}
	return out
}

type mockConnection struct {
	address string
	char    *mockCharacteristic

	mu           sync.Mutex
	disconnected int
	disconnectCb func()
}

func (c *mockConnection) DiscoverWriteCharacteristic(string) (Characteristic, error) {
	return c.char, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	c.disconnected++
	c.mu.Unlock()
	return nil
}

func (c *mockConnection) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

// simulateDrop fires the unsolicited-disconnect callback, as the adapter
// does when the radio link is lost.
func (c *mockConnection) simulateDrop() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type mockCharacteristic struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *mockCharacteristic) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *mockCharacteristic) failWith(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

var errRadioBusy = errors.New("le connection failed: busy")
