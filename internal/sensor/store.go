package sensor

import (
	"sort"
	"sync"

	"github.com/floodwatch-io/floodwatch/internal/domain"
)

// maxReadings bounds each device's in-memory reading buffer. Older entries
// are evicted FIFO; history beyond this window is not persisted.
const maxReadings = 100

// Store holds connected-sensor records and their rolling reading buffers.
// The device manager is the only writer; API consumers read snapshots.
type Store struct {
	mu       sync.RWMutex
	sensors  map[string]domain.Sensor
	readings map[string][]domain.Reading
}

// NewStore creates an empty sensor store.
func NewStore() *Store {
	return &Store{
		sensors:  make(map[string]domain.Sensor),
		readings: make(map[string][]domain.Reading),
	}
}

// Put inserts or replaces a sensor record.
func (s *Store) Put(sensor domain.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[sensor.DeviceID] = sensor
}

// Get returns a copy of the sensor record for deviceID.
func (s *Store) Get(deviceID string) (domain.Sensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sensor, ok := s.sensors[deviceID]
	return sensor, ok
}

// Remove deletes the sensor record and its reading buffer.
func (s *Store) Remove(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sensors, deviceID)
	delete(s.readings, deviceID)
}

// SetConnectionState updates only the connection state of an existing record.
func (s *Store) SetConnectionState(deviceID string, state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sensor, ok := s.sensors[deviceID]
	if !ok {
		return
	}
	sensor.ConnectionState = state
	s.sensors[deviceID] = sensor
}

// AppendReading appends a reading to the device's buffer, evicting the
// oldest entry once the buffer exceeds maxReadings, and returns a copy of
// the buffer for trend computation.
func (s *Store) AppendReading(deviceID string, r domain.Reading) []domain.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.readings[deviceID], r)
	if len(buf) > maxReadings {
		buf = buf[len(buf)-maxReadings:]
	}
	s.readings[deviceID] = buf

	out := make([]domain.Reading, len(buf))
	copy(out, buf)
	return out
}

// Readings returns a copy of the device's reading buffer, oldest first.
func (s *Store) Readings(deviceID string) []domain.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.readings[deviceID]
	out := make([]domain.Reading, len(buf))
	copy(out, buf)
	return out
}

// Sensors returns a snapshot of all sensor records sorted by device ID.
func (s *Store) Sensors() []domain.Sensor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sensor, 0, len(s.sensors))
	for _, sensor := range s.sensors {
		out = append(out, sensor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
