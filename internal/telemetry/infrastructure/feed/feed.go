package feed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	machines "machine-monitor/internal/machines/domain"
)

var (
	// ErrQueueFull is returned when the buffered readings exceed the queue size.
	ErrQueueFull = errors.New("feed: queue full")
	// ErrOutOfOrder is returned when a reading is not newer than the previous one.
	ErrOutOfOrder = errors.New("feed: reading out of order")
	// ErrFutureTimestamp is returned when a reading is dated beyond now plus MaxClockSkew.
	ErrFutureTimestamp = errors.New("feed: reading timestamp in the future")
)

// MaxClockSkew is how far ahead of the monitor's clock a sender may be.
// Readings inside the allowance are held back until a tick reaches them.
const MaxClockSkew = 2 * time.Second

// Feed buffers externally pushed readings for one machine until the next tick
// drains them.
type Feed struct {
	mu       sync.Mutex
	machine  string
	capacity int
	queue    []machines.Reading
	seq      uint64
	last     time.Time
}

// New creates a Feed for machineID with room for capacity pending readings.
func New(machineID string, capacity int) *Feed {
	if capacity <= 0 {
		capacity = 32
	}
	return &Feed{machine: machineID, capacity: capacity}
}

// Push enqueues a reading. Timestamps must strictly increase and may not be
// more than MaxClockSkew after now; a zero timestamp is replaced with now.
func (f *Feed) Push(reading machines.Reading, now time.Time) (machines.Reading, error) {
	if f == nil {
		return machines.Reading{}, errors.New("feed: nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if reading.Timestamp.IsZero() {
		reading.Timestamp = now
	}
	reading.Timestamp = reading.Timestamp.UTC()
	if reading.Timestamp.After(now.Add(MaxClockSkew)) {
		return machines.Reading{}, fmt.Errorf("%w: %s after %s", ErrFutureTimestamp,
			reading.Timestamp.Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano))
	}
	if !f.last.IsZero() && !reading.Timestamp.After(f.last) {
		return machines.Reading{}, fmt.Errorf("%w: %s not after %s", ErrOutOfOrder,
			reading.Timestamp.Format(time.RFC3339Nano), f.last.Format(time.RFC3339Nano))
	}
	if len(f.queue) >= f.capacity {
		return machines.Reading{}, ErrQueueFull
	}
	f.seq++
	reading.MachineID = f.machine
	reading.Seq = f.seq
	f.last = reading.Timestamp
	f.queue = append(f.queue, reading)
	return reading, nil
}

// Pending returns the number of buffered readings.
func (f *Feed) Pending() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Next implements telemetry.Source by draining every buffered reading dated
// at or before now. Later ones stay queued for a later tick.
func (f *Feed) Next(_ *machines.MachineProfile, now time.Time) []machines.Reading {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for n < len(f.queue) && !f.queue[n].Timestamp.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]machines.Reading, n)
	copy(out, f.queue[:n])
	f.queue = append(f.queue[:0], f.queue[n:]...)
	return out
}
