package stream

import (
	"sync"
	"sync/atomic"
	"time"

	anomaly "machine-monitor/internal/anomaly/domain"
	machines "machine-monitor/internal/machines/domain"
	"machine-monitor/internal/observability/metrics"
)

const defaultQueueSize = 64

// Snapshot is the per-machine record pushed to subscribers each tick.
type Snapshot struct {
	MachineID   string               `json:"machine_id"`
	Name        string               `json:"name"`
	Type        machines.MachineType `json:"type"`
	Reading     machines.Reading     `json:"reading"`
	Score       float64              `json:"anomaly_score"`
	Tier        anomaly.Tier         `json:"status"`
	Dominant    string               `json:"dominant_parameter,omitempty"`
	Anomalies   []string             `json:"anomalies,omitempty"`
	Tick        uint64               `json:"tick"`
	Timestamp   time.Time            `json:"timestamp"`
	PublishedAt time.Time            `json:"published_at"`
}

// Subscription is one subscriber's bounded queue.
type Subscription struct {
	id      uint64
	filter  map[string]struct{}
	ch      chan Snapshot
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
	owner   *Broadcaster
}

// C returns the receive side of the queue. It is closed on unsubscribe.
func (s *Subscription) C() <-chan Snapshot {
	return s.ch
}

// Dropped returns how many snapshots were evicted from this queue.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.owner == nil {
		return
	}
	s.owner.Unsubscribe(s)
}

func (s *Subscription) wants(machineID string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[machineID]
	return ok
}

// deliver enqueues without blocking, evicting the oldest entry when full.
func (s *Subscription) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			metrics.IncDropped()
		default:
		}
	}
}

func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.ch)
	return true
}

// Broadcaster fans snapshots out to subscribers. Publish never blocks on a
// slow subscriber.
type Broadcaster struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBroadcaster constructs a broadcaster with the given per-subscriber queue size.
func NewBroadcaster(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Broadcaster{queueSize: queueSize, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber. With machine ids given, only snapshots of
// those machines are delivered.
func (b *Broadcaster) Subscribe(machineIDs ...string) *Subscription {
	if b == nil {
		return nil
	}
	sub := &Subscription{ch: make(chan Snapshot, b.queueSize), owner: b}
	if len(machineIDs) > 0 {
		sub.filter = make(map[string]struct{}, len(machineIDs))
		for _, id := range machineIDs {
			sub.filter[id] = struct{}{}
		}
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	metrics.AddSubscribers(1)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel exactly once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if b == nil || sub == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()
	if sub.close() && ok {
		metrics.AddSubscribers(-1)
	}
}

// Publish delivers snapshots to every interested subscriber.
func (b *Broadcaster) Publish(snaps ...Snapshot) {
	if b == nil || len(snaps) == 0 {
		return
	}
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		for _, snap := range snaps {
			if sub.wants(snap.MachineID) {
				sub.deliver(snap)
			}
		}
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Later subscriptions are returned already closed.
func (b *Broadcaster) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		if sub.close() {
			metrics.AddSubscribers(-1)
		}
	}
}
