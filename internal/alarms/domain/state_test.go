package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anomaly "machine-monitor/internal/anomaly/domain"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newMachine(t *testing.T, policy Policy) *StateMachine {
	t.Helper()
	m, err := NewStateMachine(policy, t0)
	require.NoError(t, err)
	return m
}

type step struct {
	observed   anomaly.Tier
	want       anomaly.Tier
	actionable bool
}

func run(t *testing.T, m *StateMachine, start uint64, steps []step) {
	t.Helper()
	for i, s := range steps {
		seq := start + uint64(i)
		tr, ok := m.Apply(s.observed, t0.Add(time.Duration(seq)*5*time.Second), seq)
		require.True(t, ok, "step %d", i)
		assert.Equal(t, s.want, tr.To, "step %d tier", i)
		assert.Equal(t, s.actionable, tr.Actionable, "step %d actionable", i)
	}
}

func TestUpwardIsImmediate(t *testing.T) {
	m := newMachine(t, DefaultPolicy())
	run(t, m, 1, []step{
		{anomaly.TierInfo, anomaly.TierInfo, false},
		{anomaly.TierWarning, anomaly.TierWarning, true},
		{anomaly.TierCritical, anomaly.TierCritical, true},
	})
	m = newMachine(t, DefaultPolicy())
	run(t, m, 1, []step{{anomaly.TierCritical, anomaly.TierCritical, true}})
}

func TestDownwardIsDebouncedAndStepsOneTier(t *testing.T) {
	m := newMachine(t, DefaultPolicy())
	run(t, m, 1, []step{
		{anomaly.TierCritical, anomaly.TierCritical, true},
		{anomaly.TierNormal, anomaly.TierCritical, false},
		{anomaly.TierNormal, anomaly.TierWarning, false},
		{anomaly.TierNormal, anomaly.TierInfo, false},
		{anomaly.TierNormal, anomaly.TierNormal, false},
		{anomaly.TierNormal, anomaly.TierNormal, false},
	})
}

func TestSingleDipDoesNotDowngrade(t *testing.T) {
	m := newMachine(t, DefaultPolicy())
	run(t, m, 1, []step{
		{anomaly.TierWarning, anomaly.TierWarning, true},
		{anomaly.TierInfo, anomaly.TierWarning, false},
		{anomaly.TierWarning, anomaly.TierWarning, false},
		{anomaly.TierInfo, anomaly.TierWarning, false},
		{anomaly.TierInfo, anomaly.TierInfo, false},
	})
	assert.Zero(t, m.State().DownStreak)
}

func TestNeverStepsDownMoreThanOneTier(t *testing.T) {
	for _, ticks := range []int{1, 2, 3} {
		policy := DefaultPolicy()
		policy.DowngradeTicks = ticks
		m := newMachine(t, policy)
		prev := anomaly.TierNormal
		observed := []anomaly.Tier{3, 0, 0, 2, 0, 1, 0, 0, 3, 0, 0, 0, 0, 0, 0}
		for i, o := range observed {
			tr, ok := m.Apply(o, t0.Add(time.Duration(i)*time.Second), uint64(i+1))
			require.True(t, ok)
			if tr.To < prev {
				assert.Equal(t, prev-1, tr.To, "downgrade ticks %d step %d", ticks, i)
			}
			if o > prev {
				assert.Equal(t, o, tr.To, "upward must not be delayed")
			}
			prev = tr.To
		}
	}
}

func TestStaleSequenceIgnored(t *testing.T) {
	m := newMachine(t, DefaultPolicy())
	_, ok := m.Apply(anomaly.TierWarning, t0, 5)
	require.True(t, ok)
	before := m.State()

	_, ok = m.Apply(anomaly.TierCritical, t0.Add(time.Second), 5)
	assert.False(t, ok)
	_, ok = m.Apply(anomaly.TierCritical, t0.Add(time.Second), 3)
	assert.False(t, ok)
	assert.Equal(t, before, m.State())
}

func TestRenotifyWhileSustainedCritical(t *testing.T) {
	m := newMachine(t, DefaultPolicy())
	tr, _ := m.Apply(anomaly.TierCritical, t0, 1)
	require.True(t, tr.Actionable)

	tr, _ = m.Apply(anomaly.TierCritical, t0.Add(9*time.Minute), 2)
	assert.False(t, tr.Actionable)

	tr, _ = m.Apply(anomaly.TierCritical, t0.Add(10*time.Minute), 3)
	assert.True(t, tr.Actionable)
	assert.Equal(t, ReasonRenotify, tr.Reason)
	assert.Equal(t, t0.Add(10*time.Minute), m.State().LastNotifiedAt)

	tr, _ = m.Apply(anomaly.TierCritical, t0.Add(11*time.Minute), 4)
	assert.False(t, tr.Actionable)
	assert.Equal(t, 4, m.State().TicksInTier)
}

func TestSustainedWarningNeverRenotifies(t *testing.T) {
	m := newMachine(t, DefaultPolicy())
	m.Apply(anomaly.TierWarning, t0, 1)
	tr, _ := m.Apply(anomaly.TierWarning, t0.Add(time.Hour), 2)
	assert.False(t, tr.Actionable)
}

func TestNotifyMinTierCritical(t *testing.T) {
	policy := DefaultPolicy()
	policy.NotifyMinTier = anomaly.TierCritical
	m := newMachine(t, policy)
	run(t, m, 1, []step{
		{anomaly.TierWarning, anomaly.TierWarning, false},
		{anomaly.TierCritical, anomaly.TierCritical, true},
	})
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	bad := []Policy{
		{DowngradeTicks: 0, RenotifyInterval: time.Minute, NotifyMinTier: anomaly.TierWarning},
		{DowngradeTicks: 1, RenotifyInterval: 0, NotifyMinTier: anomaly.TierWarning},
		{DowngradeTicks: 1, RenotifyInterval: time.Minute, NotifyMinTier: anomaly.TierNormal},
	}
	for _, p := range bad {
		_, err := NewStateMachine(p, t0)
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	}
}
