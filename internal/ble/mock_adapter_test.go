package ble

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu         sync.Mutex
	writes     [][]byte
	callback   func([]byte)
	subscribed bool
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	c.subscribed = true
	return nil
}

func (c *mockCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
	c.subscribed = false
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// mockConnection simulates a BLE connection with one notify and one write
// characteristic, keyed by UUID.
type mockConnection struct {
	mu           sync.Mutex
	chars        map[string]*mockCharacteristic
	disconnectCb func()
	disconnected bool
}

func newMockConnection(charUUIDs ...string) *mockConnection {
	chars := make(map[string]*mockCharacteristic, len(charUUIDs))
	for _, uuid := range charUUIDs {
		chars[uuid] = &mockCharacteristic{}
	}
	return &mockConnection{chars: chars}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if char, ok := c.chars[charUUID]; ok {
		return char, nil
	}
	return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	mu         sync.Mutex
	devices    []Device
	connection *mockConnection // most recent connection for test assertions
	charUUIDs  []string
}

func newMockAdapter(devices []Device, charUUIDs ...string) *mockAdapter {
	return &mockAdapter{
		devices:   devices,
		charUUIDs: charUUIDs,
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, _ string) ([]Device, error) {
	return a.devices, nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	conn := newMockConnection(a.charUUIDs...)
	a.mu.Lock()
	a.connection = conn
	a.mu.Unlock()
	return conn, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}

func TestMockNotificationDelivery(t *testing.T) {
	adapter := newMockAdapter(nil, "abcd")
	conn, err := adapter.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	char, err := conn.DiscoverCharacteristic("svc", "abcd")
	if err != nil {
		t.Fatalf("DiscoverCharacteristic: %v", err)
	}

	var got []byte
	if err := char.Subscribe(func(data []byte) { got = data }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	adapter.latestConnection().chars["abcd"].SimulateNotification([]byte{0x01, 0x02})
	if len(got) != 2 || got[0] != 0x01 {
		t.Errorf("notification not delivered, got %v", got)
	}

	if err := char.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	adapter.latestConnection().chars["abcd"].SimulateNotification([]byte{0x03})
	if got[0] == 0x03 {
		t.Error("notification delivered after Unsubscribe")
	}
}
