// Package ble implements the sensor transport over the host's Bluetooth
// stack using tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"

	"github.com/floodwatch-io/floodwatch/internal/sensor"
)

// Transport drives the default host adapter. A single Transport serves the
// whole process; the adapter below it is a singleton anyway.
type Transport struct {
	adapter     *bluetooth.Adapter
	serviceUUID bluetooth.UUID
	namePrefix  string
	logger      *slog.Logger

	mu           sync.Mutex
	enabled      bool
	onDisconnect map[string]func()
}

// NewTransport creates a transport scanning for peripherals that advertise
// serviceUUID under a local name starting with namePrefix.
func NewTransport(serviceUUID, namePrefix string, logger *slog.Logger) (*Transport, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("parse service uuid %q: %w", serviceUUID, err)
	}
	return &Transport{
		adapter:      bluetooth.DefaultAdapter,
		serviceUUID:  uuid,
		namePrefix:   namePrefix,
		logger:       logger,
		onDisconnect: make(map[string]func()),
	}, nil
}

// enable powers the adapter once and installs the link-state handler that
// routes unexpected disconnects back to the owning session.
func (t *Transport) enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %v", sensor.ErrNotSupported, err)
	}
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		t.mu.Lock()
		callback := t.onDisconnect[addr]
		delete(t.onDisconnect, addr)
		t.mu.Unlock()
		if callback != nil {
			callback()
		}
	})
	t.enabled = true
	return nil
}

// Discover scans until a peripheral with a matching name prefix appears.
// Cancelling the context stops the scan and returns ErrNoDevice.
func (t *Transport) Discover(ctx context.Context) (sensor.Device, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if !strings.HasPrefix(name, t.namePrefix) {
				return
			}
			select {
			case found <- result:
				adapter.StopScan()
			default:
			}
		})
	}()

	select {
	case result := <-found:
		t.logger.Info("discovered sensor", "address", result.Address.String(), "name", result.LocalName())
		return &device{address: result.Address, name: result.LocalName()}, nil
	case err := <-scanErr:
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		return nil, sensor.ErrNoDevice
	case <-ctx.Done():
		t.adapter.StopScan()
		return nil, sensor.ErrNoDevice
	}
}

// Connect opens a GATT session and resolves the flood-sensor service.
// onDisconnect is registered before the connection attempt so a drop during
// setup is never missed.
func (t *Transport) Connect(ctx context.Context, dev sensor.Device, onDisconnect func()) (sensor.Conn, error) {
	d, ok := dev.(*device)
	if !ok {
		return nil, fmt.Errorf("device %s was not discovered by this transport", dev.ID())
	}
	if err := t.enable(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := &gattConn{transport: t, address: d.address}
	conn.connected.Store(true)

	t.mu.Lock()
	t.onDisconnect[d.address.String()] = func() {
		conn.connected.Store(false)
		if onDisconnect != nil {
			onDisconnect()
		}
	}
	t.mu.Unlock()

	peer, err := t.adapter.Connect(d.address, bluetooth.ConnectionParams{})
	if err != nil {
		t.dropHandler(d.address)
		return nil, fmt.Errorf("connect %s: %w", d.ID(), err)
	}
	conn.device = peer

	services, err := peer.DiscoverServices([]bluetooth.UUID{t.serviceUUID})
	if err != nil || len(services) == 0 {
		t.dropHandler(d.address)
		peer.Disconnect()
		if err == nil {
			err = fmt.Errorf("service %s not offered", t.serviceUUID.String())
		}
		return nil, fmt.Errorf("discover services on %s: %w", d.ID(), err)
	}
	conn.service = services[0]

	return conn, nil
}

func (t *Transport) dropHandler(address bluetooth.Address) {
	t.mu.Lock()
	delete(t.onDisconnect, address.String())
	t.mu.Unlock()
}

type device struct {
	address bluetooth.Address
	name    string
}

func (d *device) ID() string   { return d.address.String() }
func (d *device) Name() string { return d.name }

// gattConn is an open session scoped to the flood-sensor service.
type gattConn struct {
	transport *Transport
	address   bluetooth.Address
	device    bluetooth.Device
	service   bluetooth.DeviceService
	connected atomic.Bool
}

func (c *gattConn) ResolveCharacteristic(ctx context.Context, uuid string) (sensor.Characteristic, error) {
	u, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid %q: %w", uuid, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chars, err := c.service.DiscoverCharacteristics([]bluetooth.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("discover characteristic %s: %w", uuid, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not offered", uuid)
	}
	return &characteristic{char: chars[0]}, nil
}

func (c *gattConn) Connected() bool {
	return c.connected.Load()
}

func (c *gattConn) Close() error {
	c.connected.Store(false)
	c.transport.dropHandler(c.address)
	return c.device.Disconnect()
}

type characteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *characteristic) Subscribe(handler func(payload []byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		handler(buf)
	})
}

func (c *characteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
