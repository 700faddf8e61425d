package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bledom-go-home/internal/proto"
)

// State of the managed link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrShutdown is returned for sends issued after Shutdown.
var ErrShutdown = errors.New("connection manager is shut down")

// ManagerConfig configures a Manager for one peripheral.
type ManagerConfig struct {
	Address   string
	WriteChar string

	// InitFrames are written once after every successful connect, before any
	// queued command. Used by families that need a bring-up sequence.
	InitFrames [][]byte

	// ConnectRetries is the total number of connect attempts per queue entry
	// before the error is surfaced.
	ConnectRetries int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// DisconnectDelay closes an idle link to free the peripheral's single
	// connection slot. Zero disables the idle timer.
	DisconnectDelay time.Duration
}

func (c *ManagerConfig) applyDefaults() {
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 3
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

type job struct {
	frames     [][]byte
	disconnect bool
	result     chan error
}

// Manager owns the link lifecycle for one peripheral: lazy connect with
// bounded retries, a FIFO write queue drained by a single worker, and the
// idle-disconnect timer. Frames queued together are written back-to-back
// with nothing interleaved.
type Manager struct {
	cfg     ManagerConfig
	adapter Adapter
	logger  *slog.Logger

	jobs     chan *job
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu           sync.Mutex
	state        State
	conn         Connection
	char         Characteristic
	delay        time.Duration
	onDisconnect func()
}

// NewManager creates a Manager and starts its queue worker.
func NewManager(adapter Adapter, cfg ManagerConfig, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:     cfg,
		adapter: adapter,
		logger:  logger.With("address", cfg.Address),
		jobs:    make(chan *job, 32),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		delay:   cfg.DisconnectDelay,
	}
	go m.run()
	return m
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetDisconnectDelay changes the idle timeout. Takes effect after the next
// successful send; zero disables the timer.
func (m *Manager) SetDisconnectDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// OnDisconnect registers a callback fired when the link drops without a
// local disconnect (radio loss, remote close).
func (m *Manager) OnDisconnect(cb func()) {
	m.mu.Lock()
	m.onDisconnect = cb
	m.mu.Unlock()
}

// Send queues frames for transmission and waits for the outcome. All frames
// of one call are written consecutively; the link is opened on demand.
func (m *Manager) Send(ctx context.Context, frames ...[]byte) error {
	for _, f := range frames {
		if err := proto.Validate(f); err != nil {
			return err
		}
	}
	return m.submit(ctx, &job{frames: frames, result: make(chan error, 1)})
}

// Disconnect queues an explicit link close behind any pending writes.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.submit(ctx, &job{disconnect: true, result: make(chan error, 1)})
}

func (m *Manager) submit(ctx context.Context, j *job) error {
	select {
	case m.jobs <- j:
	case <-m.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		// The worker still executes the job; the buffered result channel
		// keeps it from blocking.
		return ctx.Err()
	case <-m.done:
		return ErrShutdown
	}
}

// Shutdown stops the worker, fails all pending queue entries, and closes
// the link. An in-flight frame finishes or fails before the worker exits.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.done) })
	select {
	case <-m.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.stopped)

	var idle *time.Timer
	var idleC <-chan time.Time
	armIdle := func() {
		m.mu.Lock()
		d := m.delay
		m.mu.Unlock()
		if d <= 0 {
			idleC = nil
			return
		}
		if idle == nil {
			idle = time.NewTimer(d)
		} else {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d)
		}
		idleC = idle.C
	}

	for {
		select {
		case <-m.done:
			m.drainPending()
			m.closeLink("shutdown")
			return

		case j := <-m.jobs:
			if j.disconnect {
				m.closeLink("requested")
				idleC = nil
				j.result <- nil
				continue
			}
			err := m.process(j)
			if err == nil {
				armIdle()
			}
			j.result <- err

		case <-idleC:
			m.closeLink("idle")
			idleC = nil
		}
	}
}

func (m *Manager) drainPending() {
	for {
		select {
		case j := <-m.jobs:
			j.result <- ErrShutdown
		default:
			return
		}
	}
}

func (m *Manager) process(j *job) error {
	char, err := m.ensureConnected()
	if err != nil {
		return err
	}
	for _, f := range j.frames {
		if err := m.writeFrame(char, f); err != nil {
			m.closeLink("write failed")
			return &ConnectionError{Address: m.cfg.Address, Op: "write", Err: err}
		}
	}
	return nil
}

// ensureConnected returns the write characteristic, connecting with bounded
// retries if the link is down. A retried connect blocks the whole queue so
// later entries cannot jump ahead.
func (m *Manager) ensureConnected() (Characteristic, error) {
	m.mu.Lock()
	if m.state == StateConnected && m.char != nil {
		char := m.char
		m.mu.Unlock()
		return char, nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < m.cfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-m.done:
				m.setDisconnected()
				return nil, ErrShutdown
			}
		}

		char, err := m.connectOnce()
		if err != nil {
			lastErr = err
			m.logger.Warn("connect attempt failed", "attempt", attempt+1, "err", err)
			continue
		}
		return char, nil
	}

	m.setDisconnected()
	return nil, &ConnectionError{Address: m.cfg.Address, Op: "connect", Err: lastErr}
}

func (m *Manager) connectOnce() (Characteristic, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.adapter.Connect(ctx, m.cfg.Address)
	if err != nil {
		return nil, err
	}

	char, err := conn.DiscoverWriteCharacteristic(m.cfg.WriteChar)
	if err != nil {
		conn.Disconnect()
		return nil, err
	}

	conn.OnDisconnect(m.handleDrop)

	// Bring-up frames go out before anything queued, once per connection.
	for i, f := range m.cfg.InitFrames {
		if err := m.writeFrame(char, f); err != nil {
			conn.Disconnect()
			return nil, fmt.Errorf("init frame %d: %w", i, err)
		}
	}

	m.mu.Lock()
	m.state = StateConnected
	m.conn = conn
	m.char = char
	m.mu.Unlock()
	m.logger.Debug("connected")
	return char, nil
}

func (m *Manager) writeFrame(char Characteristic, frame []byte) error {
	errCh := make(chan error, 1)
	go func() { errCh <- char.Write(frame) }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(m.cfg.WriteTimeout):
		return fmt.Errorf("write timed out after %s", m.cfg.WriteTimeout)
	}
}

func (m *Manager) closeLink(reason string) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.char = nil
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			m.logger.Debug("disconnect", "err", err)
		}
	}
	if wasConnected {
		m.logger.Debug("disconnected", "reason", reason)
	}
}

func (m *Manager) setDisconnected() {
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
}

// handleDrop runs on the adapter's callback goroutine when the link drops
// underneath us.
func (m *Manager) handleDrop() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.conn = nil
	m.char = nil
	cb := m.onDisconnect
	m.mu.Unlock()

	m.logger.Warn("link dropped")
	if cb != nil {
		cb()
	}
}

// backoffDelay grows per attempt, capped so a flaky peripheral cannot stall
// the queue for long.
func backoffDelay(attempt int) time.Duration {
	d := 250 * time.Millisecond << (attempt - 1)
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
