package alarms

import (
	"fmt"
	"time"

	anomaly "machine-monitor/internal/anomaly/domain"
)

// Reason classifies a transition.
type Reason string

const (
	ReasonSteady     Reason = "steady"
	ReasonEscalated  Reason = "escalated"
	ReasonDebouncing Reason = "debouncing"
	ReasonRecovered  Reason = "recovered"
	ReasonRenotify   Reason = "renotify"
)

// Policy controls debouncing and notification.
type Policy struct {
	DowngradeTicks   int
	RenotifyInterval time.Duration
	NotifyMinTier    anomaly.Tier
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		DowngradeTicks:   2,
		RenotifyInterval: 10 * time.Minute,
		NotifyMinTier:    anomaly.TierWarning,
	}
}

// Validate checks policy bounds.
func (p Policy) Validate() error {
	if p.DowngradeTicks < 1 {
		return fmt.Errorf("%w: downgrade ticks %d must be >= 1", ErrInvalidPolicy, p.DowngradeTicks)
	}
	if p.RenotifyInterval <= 0 {
		return fmt.Errorf("%w: renotify interval must be positive", ErrInvalidPolicy)
	}
	if !p.NotifyMinTier.Valid() || p.NotifyMinTier == anomaly.TierNormal {
		return fmt.Errorf("%w: notify tier %s", ErrInvalidPolicy, p.NotifyMinTier)
	}
	return nil
}

// State is the alert state of one machine.
type State struct {
	Tier           anomaly.Tier `json:"tier"`
	EnteredAt      time.Time    `json:"entered_at"`
	TicksInTier    int          `json:"ticks_in_tier"`
	LastNotifiedAt time.Time    `json:"last_notified_at,omitempty"`
	DownStreak     int          `json:"down_streak"`
	AppliedSeq     uint64       `json:"applied_seq"`
}

// Transition is the outcome of applying one observed tier.
type Transition struct {
	Seq        uint64       `json:"seq"`
	At         time.Time    `json:"at"`
	Observed   anomaly.Tier `json:"observed"`
	From       anomaly.Tier `json:"from"`
	To         anomaly.Tier `json:"to"`
	Reason     Reason       `json:"reason"`
	Actionable bool         `json:"actionable"`
}

// Changed reports whether the tier moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// StateMachine debounces observed tiers into alert states. It is not safe for
// concurrent use; callers serialise Apply per machine.
type StateMachine struct {
	policy Policy
	state  State
}

// NewStateMachine returns a machine in the Normal state.
func NewStateMachine(policy Policy, now time.Time) (*StateMachine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &StateMachine{
		policy: policy,
		state:  State{Tier: anomaly.TierNormal, EnteredAt: now},
	}, nil
}

// State returns a copy of the current state.
func (m *StateMachine) State() State {
	return m.state
}

// Apply feeds the tier observed at tick seq. Sequences must strictly increase;
// a stale or duplicate seq leaves the state untouched and returns false.
func (m *StateMachine) Apply(observed anomaly.Tier, at time.Time, seq uint64) (Transition, bool) {
	if seq <= m.state.AppliedSeq {
		return Transition{}, false
	}
	st := &m.state
	st.AppliedSeq = seq
	tr := Transition{Seq: seq, At: at, Observed: observed, From: st.Tier, To: st.Tier, Reason: ReasonSteady}

	switch {
	case observed > st.Tier:
		st.DownStreak = 0
		tr.To = observed
		tr.Reason = ReasonEscalated
		tr.Actionable = observed >= m.policy.NotifyMinTier
	case observed < st.Tier:
		st.DownStreak++
		tr.Reason = ReasonDebouncing
		if st.DownStreak >= m.policy.DowngradeTicks {
			tr.To = st.Tier - 1
			tr.Reason = ReasonRecovered
		}
	default:
		st.DownStreak = 0
		if st.Tier == anomaly.TierCritical && st.Tier >= m.policy.NotifyMinTier &&
			(st.LastNotifiedAt.IsZero() || at.Sub(st.LastNotifiedAt) >= m.policy.RenotifyInterval) {
			tr.Actionable = true
			tr.Reason = ReasonRenotify
		}
	}

	if tr.Changed() {
		st.Tier = tr.To
		st.EnteredAt = at
		st.TicksInTier = 1
		if tr.To <= observed {
			st.DownStreak = 0
		}
	} else {
		st.TicksInTier++
	}
	if tr.Actionable {
		st.LastNotifiedAt = at
	}
	return tr, true
}
