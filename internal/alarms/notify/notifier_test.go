package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
	machines "machine-monitor/internal/machines/domain"
)

func criticalAlert(at time.Time) Alert {
	return Alert{
		MachineID: "cnc-1",
		Machine:   "CNC Mill 1",
		Event:     EventRaised,
		Seq:       7,
		At:        at,
		From:      anomaly.TierNormal,
		To:        anomaly.TierCritical,
		Score:     0.91,
		Dominant:  "Temperature",
		Detail:    "Temperature anomaly detected: 99.0 (normal: 40.0-70.0)",
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	keyCh := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyCh <- r.Header.Get(alertKeyHeader)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	notifier, err := NewNotifier(channel, nil,
		WithReportURLResolver(func(alert Alert) string {
			return "http://monitor.local/api/v1/machines/" + alert.MachineID + "/report.pdf"
		}),
	)
	require.NoError(t, err)

	notifier.Notify(context.Background(), criticalAlert(time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC)))

	select {
	case payload := <-payloadCh:
		assert.Equal(t, "text", payload.MsgType)
		for _, expected := range []string{
			"[Machine alert Raised]",
			"Machine: CNC Mill 1 (cnc-1)",
			"Tier: normal -> critical",
			"Anomaly Score: 0.91",
			"Dominant Parameter: Temperature",
			"Time: 2026-01-26T08:00:00Z",
			"Suggestion: Investigate immediately",
			"Report: http://monitor.local/api/v1/machines/cnc-1/report.pdf",
		} {
			assert.Contains(t, payload.Text.Content, expected)
		}
		assert.Equal(t, "cnc-1", payload.Alert.MachineID)
		assert.Equal(t, EventRaised, payload.Alert.Event)
		assert.Equal(t, "critical", payload.Alert.To)
		assert.Equal(t, 0.91, payload.Alert.Score)
		assert.Equal(t, "cnc-1/7/raised", <-keyCh)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	assert.Error(t, channel.Send(context.Background(), Message{Content: "hello", Alert: criticalAlert(time.Now())}))

	_, err = NewWebhookChannel("")
	assert.Error(t, err)
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.contents = append(r.contents, msg.Content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithCooldown(10*time.Minute))
	require.NoError(t, err)

	alert := criticalAlert(clock.Now())
	notifier.Notify(context.Background(), alert)
	notifier.Notify(context.Background(), alert)
	assert.Equal(t, 1, channel.Count(), "second alert inside cooldown")

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), alert)
	assert.Equal(t, 2, channel.Count())
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(30*time.Minute))
	require.NoError(t, err)

	alert := criticalAlert(clock.Now())
	notifier.Notify(context.Background(), alert)
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), alert)
	assert.Equal(t, 1, channel.Count())

	alert.Score = 0.97
	notifier.Notify(context.Background(), alert)
	assert.Equal(t, 2, channel.Count(), "changed content is sent")
}

func TestNotifierEscalation(t *testing.T) {
	channel := &recordingChannel{}
	tiers := TierReaderFunc(func(string) (anomaly.Tier, bool) { return anomaly.TierCritical, true })
	notifier, err := NewNotifier(channel, nil, WithEscalation(20*time.Millisecond, tiers))
	require.NoError(t, err)
	defer notifier.Close()

	notifier.Notify(context.Background(), criticalAlert(time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)))

	require.Eventually(t, func() bool { return channel.Count() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, channel.Latest(), "Escalated")
}

func TestNotifierEscalationSkippedAfterRecovery(t *testing.T) {
	channel := &recordingChannel{}
	var mu sync.Mutex
	current := anomaly.TierCritical
	tiers := TierReaderFunc(func(string) (anomaly.Tier, bool) {
		mu.Lock()
		defer mu.Unlock()
		return current, true
	})
	notifier, err := NewNotifier(channel, nil, WithEscalation(30*time.Millisecond, tiers))
	require.NoError(t, err)
	defer notifier.Close()

	notifier.Notify(context.Background(), criticalAlert(time.Now()))
	mu.Lock()
	current = anomaly.TierWarning
	mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, channel.Count())
}

func TestNotifierClearedCancelsEscalation(t *testing.T) {
	channel := &recordingChannel{}
	tiers := TierReaderFunc(func(string) (anomaly.Tier, bool) { return anomaly.TierCritical, true })
	notifier, err := NewNotifier(channel, nil, WithEscalation(30*time.Millisecond, tiers))
	require.NoError(t, err)
	defer notifier.Close()

	alert := criticalAlert(time.Now())
	notifier.Notify(context.Background(), alert)
	notifier.Notify(context.Background(), Alert{
		MachineID: alert.MachineID,
		Machine:   alert.Machine,
		Event:     EventCleared,
		From:      anomaly.TierWarning,
		To:        anomaly.TierNormal,
		At:        time.Now(),
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, channel.Count())
	assert.Contains(t, channel.Latest(), "Cleared")
}

func TestFromTransition(t *testing.T) {
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	score := anomaly.Score{
		Value:    0.84,
		Tier:     anomaly.TierCritical,
		Dominant: machines.Vibration,
		Anomalies: []anomaly.Descriptor{{
			Parameter: machines.Vibration,
			Message:   "Vibration anomaly detected",
		}},
	}

	raised, ok := FromTransition("press-1", "Press 1", alarms.Transition{
		Seq: 3, At: at, From: anomaly.TierNormal, To: anomaly.TierCritical,
		Reason: alarms.ReasonEscalated, Actionable: true,
	}, score)
	require.True(t, ok)
	assert.Equal(t, EventRaised, raised.Event)
	assert.Equal(t, "Vibration", raised.Dominant)
	assert.Equal(t, "Vibration anomaly detected", raised.Detail)

	renotify, ok := FromTransition("press-1", "", alarms.Transition{
		From: anomaly.TierCritical, To: anomaly.TierCritical,
		Reason: alarms.ReasonRenotify, Actionable: true,
	}, score)
	require.True(t, ok)
	assert.Equal(t, EventRenotify, renotify.Event)
	assert.Equal(t, "press-1", renotify.Machine)

	cleared, ok := FromTransition("press-1", "Press 1", alarms.Transition{
		From: anomaly.TierInfo, To: anomaly.TierNormal, Reason: alarms.ReasonRecovered,
	}, anomaly.Score{})
	require.True(t, ok)
	assert.Equal(t, EventCleared, cleared.Event)
	assert.Empty(t, cleared.Dominant)

	_, ok = FromTransition("press-1", "Press 1", alarms.Transition{
		From: anomaly.TierCritical, To: anomaly.TierWarning, Reason: alarms.ReasonDebouncing,
	}, score)
	assert.False(t, ok)
}

func TestMultiNotifierFansOut(t *testing.T) {
	first, second := &recordingChannel{}, &recordingChannel{}
	a, err := NewNotifier(first, nil)
	require.NoError(t, err)
	b, err := NewNotifier(second, nil)
	require.NoError(t, err)

	NewMultiNotifier(a, nil, b, NewLogNotifier(nil)).Notify(context.Background(), criticalAlert(time.Now()))
	assert.Equal(t, 1, first.Count())
	assert.Equal(t, 1, second.Count())
	assert.True(t, strings.HasPrefix(second.Latest(), "[Machine alert Raised]"))
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingNotifier) Notify(_ context.Context, alert Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, alert)
	r.mu.Unlock()
}

func (r *recordingNotifier) Seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a.Seq)
	}
	return out
}

func TestAsyncNotifierKeepsOrderAndDrainsOnClose(t *testing.T) {
	rec := &recordingNotifier{}
	async := NewAsyncNotifier(rec, 16, nil)
	for seq := uint64(1); seq <= 5; seq++ {
		alert := criticalAlert(time.Now())
		alert.Seq = seq
		async.Notify(context.Background(), alert)
	}
	async.Close()
	async.Close()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, rec.Seqs())

	async.Notify(context.Background(), criticalAlert(time.Now()))
	assert.Len(t, rec.Seqs(), 5)
}
