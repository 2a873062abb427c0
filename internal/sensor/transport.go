package sensor

import (
	"context"
	"errors"
)

// Transport errors. ErrNoDevice is the non-error outcome of a cancelled
// discovery and is swallowed by callers rather than reported.
var (
	ErrNotSupported = errors.New("bluetooth not supported")
	ErrNoDevice     = errors.New("no device selected")
)

// Device is a discovered peripheral handle. ID is the radio-layer address
// and doubles as the sensor's gauge ID once connected.
type Device interface {
	ID() string
	Name() string
}

// Characteristic is a notifiable GATT value endpoint.
type Characteristic interface {
	// Subscribe starts the notification stream, invoking handler for every
	// value change until Unsubscribe or link loss.
	Subscribe(handler func(payload []byte)) error
	Unsubscribe() error
}

// Conn is an open GATT session scoped to the flood-sensor service.
type Conn interface {
	// ResolveCharacteristic resolves a single characteristic by UUID.
	// Firmware variants may omit optional channels, so callers treat a
	// resolution failure as non-fatal.
	ResolveCharacteristic(ctx context.Context, uuid string) (Characteristic, error)
	Connected() bool
	Close() error
}

// Transport abstracts the BLE stack so the manager can be driven by a fake
// in tests and by tinygo bluetooth in production.
type Transport interface {
	// Discover finds a peripheral advertising the flood-sensor service with
	// a matching name prefix. Returns ErrNotSupported when the host has no
	// radio access and ErrNoDevice when discovery is cancelled.
	Discover(ctx context.Context) (Device, error)

	// Connect opens a GATT session. onDisconnect is attached before the
	// connection attempt completes and fires on any unexpected link drop.
	Connect(ctx context.Context, dev Device, onDisconnect func()) (Conn, error)
}

// Locator supplies the position stamped onto a newly connected sensor.
type Locator interface {
	Locate(ctx context.Context) (lat, lon float64, err error)
}

// FixedLocator returns configured station coordinates.
type FixedLocator struct {
	Lat float64
	Lon float64
}

func (l FixedLocator) Locate(_ context.Context) (float64, float64, error) {
	return l.Lat, l.Lon, nil
}
