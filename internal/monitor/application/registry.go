package application

import (
	"sort"
	"sync"
	"time"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
	machines "machine-monitor/internal/machines/domain"
	"machine-monitor/internal/stream"
	telemetry "machine-monitor/internal/telemetry/domain"
	"machine-monitor/internal/telemetry/infrastructure/feed"
	"machine-monitor/internal/telemetry/infrastructure/simulator"
)

// entity owns everything the pipeline knows about one machine. All mutation
// happens under mu.
type entity struct {
	mu           sync.Mutex
	profile      *machines.MachineProfile
	source       telemetry.Source
	sim          *simulator.Simulator
	feed         *feed.Feed
	history      *ring[machines.Reading]
	journal      *ring[alarms.Transition]
	state        *alarms.StateMachine
	seq          uint64
	lastReading  *machines.Reading
	lastScore    anomaly.Score
	snapshot     *stream.Snapshot
	registeredAt time.Time
	removed      bool
}

// Registry maps machine ids to entities.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*entity
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*entity)}
}

func (r *Registry) add(e *entity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[e.profile.ID]; exists {
		return false
	}
	r.entities[e.profile.ID] = e
	return true
}

func (r *Registry) remove(id string) (*entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if ok {
		delete(r.entities, id)
	}
	return e, ok
}

func (r *Registry) get(id string) (*entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// list returns entities ordered by id.
func (r *Registry) list() []*entity {
	r.mu.RLock()
	out := make([]*entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].profile.ID < out[j].profile.ID })
	return out
}

// Len returns the number of registered machines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
