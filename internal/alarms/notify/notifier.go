package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
	"machine-monitor/internal/observability/logging"
)

// Event names an alert notification.
type Event string

const (
	EventRaised    Event = "raised"
	EventRenotify  Event = "renotify"
	EventCleared   Event = "cleared"
	EventEscalated Event = "escalated"
)

// Alert is one notification-worthy tier transition.
type Alert struct {
	MachineID string
	Machine   string
	Event     Event
	Seq       uint64
	At        time.Time
	From      anomaly.Tier
	To        anomaly.Tier
	Score     float64
	Dominant  string
	Detail    string
}

// FromTransition maps a transition to an alert. Actionable transitions raise
// or renotify; a return to normal clears. Everything else is silent.
func FromTransition(machineID, name string, tr alarms.Transition, score anomaly.Score) (Alert, bool) {
	alert := Alert{
		MachineID: machineID,
		Machine:   name,
		Seq:       tr.Seq,
		At:        tr.At,
		From:      tr.From,
		To:        tr.To,
		Score:     score.Value,
		Detail:    score.Summary(),
	}
	if alert.Machine == "" {
		alert.Machine = machineID
	}
	if len(score.Anomalies) > 0 {
		alert.Dominant = score.Dominant.Label()
	}
	switch {
	case tr.Actionable && tr.Reason == alarms.ReasonRenotify:
		alert.Event = EventRenotify
	case tr.Actionable:
		alert.Event = EventRaised
	case tr.Changed() && tr.To == anomaly.TierNormal:
		alert.Event = EventCleared
	default:
		return Alert{}, false
	}
	return alert, true
}

// TierReader reports the current tier of a machine.
type TierReader interface {
	CurrentTier(machineID string) (anomaly.Tier, bool)
}

// TierReaderFunc adapts a function to TierReader.
type TierReaderFunc func(machineID string) (anomaly.Tier, bool)

// CurrentTier implements TierReader.
func (f TierReaderFunc) CurrentTier(machineID string) (anomaly.Tier, bool) {
	return f(machineID)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

// ReportURLResolver provides a report link for an alert when available.
type ReportURLResolver func(alert Alert) string

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alerts and sends them over a channel. Critical alerts
// escalate when the machine is still critical after the escalation delay.
type Notifier struct {
	channel        Channel
	template       *Template
	tiers          TierReader
	escalation     time.Duration
	clock          Clock
	logger         *zap.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	pending        map[string]Alert
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	reportURL      ReportURLResolver
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures the escalation delay. It needs a TierReader.
func WithEscalation(after time.Duration, tiers TierReader) Option {
	return func(n *Notifier) {
		if after > 0 && tiers != nil {
			n.escalation = after
			n.tiers = tiers
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout bounds each channel send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same machine and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithReportURLResolver injects a report link resolver.
func WithReportURLResolver(resolver ReportURLResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.reportURL = resolver
		}
	}
}

// WithLogger assigns a logger for delivery failures.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		timers:         make(map[string]*time.Timer),
		pending:        make(map[string]Alert),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = logging.OrNop(n.logger).Named("notify")
	return n, nil
}

// Notify implements AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, alert Alert) {
	if n == nil || n.channel == nil {
		return
	}
	n.dispatch(ctx, alert)

	switch {
	case alert.Event == EventRaised && alert.To == anomaly.TierCritical:
		n.scheduleEscalation(alert)
	case alert.To < anomaly.TierCritical:
		n.cancelEscalation(alert.MachineID)
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.pending = make(map[string]Alert)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, alert Alert) {
	reportURL := ""
	if n.reportURL != nil {
		reportURL = n.reportURL(alert)
	}
	content, err := n.template.Render(buildTemplateData(alert, reportURL))
	if err != nil {
		n.logger.Warn("render alert", zap.String("machine", alert.MachineID), zap.Error(err))
		return
	}
	if !n.shouldSend(alert.MachineID, alert.Event, content) {
		return
	}
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}
	if err := n.channel.Send(ctx, Message{Content: content, Alert: alert}); err != nil {
		n.logger.Warn("send alert", zap.String("machine", alert.MachineID), zap.String("event", string(alert.Event)), zap.Error(err))
		return
	}
	n.markSent(alert.MachineID, alert.Event, content)
}

func (n *Notifier) scheduleEscalation(alert Alert) {
	if n.escalation <= 0 || n.tiers == nil || alert.MachineID == "" {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alert.MachineID]; ok && existing != nil {
		existing.Stop()
	}
	n.pending[alert.MachineID] = alert
	n.timers[alert.MachineID] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(alert.MachineID)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(machineID string) {
	if machineID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[machineID]
	delete(n.timers, machineID)
	delete(n.pending, machineID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(machineID string) {
	n.mu.Lock()
	alert, ok := n.pending[machineID]
	delete(n.timers, machineID)
	delete(n.pending, machineID)
	n.mu.Unlock()
	if !ok {
		return
	}
	tier, known := n.tiers.CurrentTier(machineID)
	if !known || tier < anomaly.TierCritical {
		return
	}
	alert.Event = EventEscalated
	alert.From = alert.To
	alert.To = tier
	alert.At = n.clock.Now().UTC()
	n.dispatch(context.Background(), alert)
}

func buildTemplateData(alert Alert, reportURL string) TemplateData {
	dominant := alert.Dominant
	if dominant == "" {
		dominant = "none"
	}
	detail := alert.Detail
	if detail == "" {
		detail = "All parameters within their normal ranges."
	}
	return TemplateData{
		Machine:    alert.Machine,
		MachineID:  alert.MachineID,
		From:       alert.From.String(),
		To:         alert.To.String(),
		Score:      fmt.Sprintf("%.2f", alert.Score),
		Dominant:   dominant,
		Detail:     detail,
		Time:       alert.At.UTC().Format(time.RFC3339),
		Suggestion: suggestionFor(alert),
		ReportURL:  reportURL,
		Event:      string(alert.Event),
		EventLabel: eventLabel(alert.Event),
	}
}

func eventLabel(event Event) string {
	switch event {
	case EventRaised:
		return "Raised"
	case EventRenotify:
		return "Still Critical"
	case EventCleared:
		return "Cleared"
	case EventEscalated:
		return "Escalated"
	default:
		return string(event)
	}
}

func suggestionFor(alert Alert) string {
	if alert.Event == EventCleared {
		return "No action required."
	}
	switch alert.To {
	case anomaly.TierCritical:
		return "Investigate immediately and reduce load if possible."
	case anomaly.TierWarning:
		return "Schedule an inspection within the current shift."
	default:
		return "Monitor the machine."
	}
}

func (n *Notifier) shouldSend(machineID string, event Event, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(machineID, event)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(machineID string, event Event, content string) {
	key := notificationKey(machineID, event)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(machineID string, event Event) string {
	return machineID + "|" + string(event)
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
