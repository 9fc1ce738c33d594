package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	insight "machine-monitor/internal/insight/domain"
	"machine-monitor/internal/observability/logging"
	"machine-monitor/internal/observability/metrics"
)

const defaultTimeout = 10 * time.Second

// ContextSource assembles the context bundle for a machine at call time.
type ContextSource interface {
	InsightBundle(machineID string) (insight.Bundle, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Status is the poll view of a machine's insight slot.
type Status struct {
	MachineID   string           `json:"machine_id"`
	Latest      *insight.Result  `json:"latest,omitempty"`
	LastFailure *insight.Failure `json:"last_failure,omitempty"`
	InFlight    bool             `json:"in_flight"`
}

type slot struct {
	id         string
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	appliedSeq uint64
	latest     *insight.Result
	failure    *insight.Failure
}

func (s *slot) key() string {
	return s.id + "#" + strconv.FormatUint(s.generation, 10)
}

// Coordinator runs narrative requests with at most one in-flight call per
// machine. Requests that arrive while a call is running join it.
type Coordinator struct {
	generator insight.Generator
	source    ContextSource
	timeout   time.Duration
	clock     Clock
	logger    *zap.Logger

	group singleflight.Group
	wg    sync.WaitGroup

	mu         sync.Mutex
	slots      map[string]*slot
	generation uint64
	seq        uint64
	closed     bool
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each collaborator call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(generator insight.Generator, source ContextSource, opts ...Option) (*Coordinator, error) {
	if generator == nil {
		return nil, errors.New("insight: nil generator")
	}
	if source == nil {
		return nil, errors.New("insight: nil context source")
	}
	c := &Coordinator{
		generator: generator,
		source:    source,
		timeout:   defaultTimeout,
		clock:     systemClock{},
		logger:    zap.NewNop(),
		slots:     make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).Named("insight")
	return c, nil
}

// Register opens a slot for a machine. Registering an existing id resets it.
func (c *Coordinator) Register(machineID string) {
	if c == nil || machineID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if old, ok := c.slots[machineID]; ok {
		old.cancel()
		c.group.Forget(old.key())
	}
	c.generation++
	ctx, cancel := context.WithCancel(context.Background())
	c.slots[machineID] = &slot{id: machineID, generation: c.generation, ctx: ctx, cancel: cancel}
}

// Forget cancels any in-flight call for the machine and drops its cache.
func (c *Coordinator) Forget(machineID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	s, ok := c.slots[machineID]
	if ok {
		delete(c.slots, machineID)
		c.group.Forget(s.key())
	}
	c.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// Request asks for an insight. It never blocks on the collaborator: the
// returned Pending resolves once the (possibly shared) call completes.
func (c *Coordinator) Request(machineID string, trigger insight.Trigger) (*Pending, error) {
	if c == nil {
		return nil, errors.New("insight: nil coordinator")
	}
	c.mu.Lock()
	s, ok := c.slots[machineID]
	if !ok || c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", insight.ErrUnknownMachine, machineID)
	}
	if s.running {
		metrics.IncInsightRequest(string(trigger), "coalesced")
	}
	c.wg.Add(1)
	c.mu.Unlock()

	pending := newPending(machineID)
	ch := c.group.DoChan(s.key(), func() (any, error) {
		return c.call(s, trigger)
	})
	go func() {
		defer c.wg.Done()
		res := <-ch
		var result insight.Result
		if res.Val != nil {
			result = res.Val.(insight.Result)
		}
		pending.resolve(result, res.Err)
	}()
	return pending, nil
}

func (c *Coordinator) call(s *slot, trigger insight.Trigger) (insight.Result, error) {
	c.mu.Lock()
	if c.slots[s.id] != s {
		c.mu.Unlock()
		return insight.Result{}, fmt.Errorf("%w: %s", insight.ErrDeregistered, s.id)
	}
	c.seq++
	seq := c.seq
	s.running = true
	c.mu.Unlock()

	metrics.AddInsightInFlight(1)
	defer func() {
		metrics.AddInsightInFlight(-1)
		c.mu.Lock()
		s.running = false
		c.mu.Unlock()
	}()

	requestedAt := c.clock.Now().UTC()
	bundle, err := c.source.InsightBundle(s.id)
	if err != nil {
		return insight.Result{}, c.fail(s, seq, trigger, requestedAt, "context", err)
	}
	bundle.Trigger = trigger
	bundle.Seq = seq
	bundle.RequestedAt = requestedAt

	ctx, cancel := context.WithTimeout(s.ctx, c.timeout)
	defer cancel()
	start := time.Now()
	narrative, err := c.generator.Generate(ctx, bundle)
	latency := time.Since(start)
	if err == nil && !narrative.Valid() {
		err = insight.ErrMalformed
	}
	if err != nil {
		outcome := outcomeOf(ctx, s.ctx, err)
		metrics.ObserveInsight(outcome, latency)
		return insight.Result{}, c.fail(s, seq, trigger, requestedAt, outcome, err)
	}
	metrics.ObserveInsight(metrics.ResultSuccess, latency)

	result := insight.Result{
		ID:          uuid.NewString(),
		MachineID:   s.id,
		Seq:         seq,
		Trigger:     trigger,
		Tier:        bundle.Score.Tier,
		Score:       bundle.Score.Value,
		Narrative:   narrative,
		Provider:    insight.ProviderName(c.generator),
		RequestedAt: requestedAt,
		GeneratedAt: c.clock.Now().UTC(),
		Latency:     latency,
	}

	c.mu.Lock()
	if c.slots[s.id] != s {
		c.mu.Unlock()
		metrics.IncInsightRequest(string(trigger), "discarded")
		return insight.Result{}, fmt.Errorf("%w: %s", insight.ErrDeregistered, s.id)
	}
	if seq > s.appliedSeq {
		s.appliedSeq = seq
		stored := result
		s.latest = &stored
	}
	c.mu.Unlock()

	metrics.IncInsightRequest(string(trigger), metrics.ResultSuccess)
	c.logger.Info("insight generated",
		zap.String("machine", s.id),
		zap.String("insight_id", result.ID),
		zap.Uint64("seq", seq),
		zap.String("trigger", string(trigger)),
		zap.String("provider", result.Provider),
		zap.Duration("latency", latency),
	)
	return result, nil
}

func (c *Coordinator) fail(s *slot, seq uint64, trigger insight.Trigger, at time.Time, outcome string, err error) error {
	if s.ctx.Err() != nil {
		metrics.IncInsightRequest(string(trigger), "cancelled")
		return fmt.Errorf("%w: %s: %v", insight.ErrDeregistered, s.id, err)
	}
	c.mu.Lock()
	if c.slots[s.id] == s {
		s.failure = &insight.Failure{Seq: seq, Trigger: trigger, At: at, Error: err.Error()}
	}
	c.mu.Unlock()
	metrics.IncInsightRequest(string(trigger), outcome)
	c.logger.Warn("insight failed",
		zap.String("machine", s.id),
		zap.Uint64("seq", seq),
		zap.String("trigger", string(trigger)),
		zap.String("outcome", outcome),
		zap.Error(err),
	)
	return err
}

func outcomeOf(callCtx, slotCtx context.Context, err error) string {
	switch {
	case slotCtx.Err() != nil:
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, insight.ErrMalformed):
		return "malformed"
	default:
		return metrics.ResultError
	}
}

// Latest returns the cached insight state for a machine.
func (c *Coordinator) Latest(machineID string) (Status, error) {
	if c == nil {
		return Status{}, errors.New("insight: nil coordinator")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[machineID]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", insight.ErrUnknownMachine, machineID)
	}
	status := Status{MachineID: machineID, InFlight: s.running}
	if s.latest != nil {
		latest := *s.latest
		status.Latest = &latest
	}
	if s.failure != nil {
		failure := *s.failure
		status.LastFailure = &failure
	}
	return status, nil
}

// Close cancels every in-flight call and waits for them to finish.
func (c *Coordinator) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.closed = true
	for id, s := range c.slots {
		s.cancel()
		c.group.Forget(s.key())
		delete(c.slots, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
