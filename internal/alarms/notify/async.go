package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"machine-monitor/internal/observability/logging"
)

// AsyncNotifier hands alerts to a single background worker so publishers
// never wait on delivery. Alerts keep their order; when the queue is full
// new alerts are dropped.
type AsyncNotifier struct {
	next   AlertNotifier
	logger *zap.Logger
	queue  chan Alert
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAsyncNotifier starts the worker.
func NewAsyncNotifier(next AlertNotifier, size int, logger *zap.Logger) *AsyncNotifier {
	if size < 1 {
		size = 1
	}
	a := &AsyncNotifier{
		next:   next,
		logger: logging.OrNop(logger).Named("notify"),
		queue:  make(chan Alert, size),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Notify implements AlertNotifier. Delivery is detached from ctx; the
// downstream notifier applies its own request timeout.
func (a *AsyncNotifier) Notify(_ context.Context, alert Alert) {
	if a == nil || a.next == nil {
		return
	}
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.queue <- alert:
	default:
		a.logger.Warn("alert queue full, dropping", zap.String("machine", alert.MachineID), zap.String("event", string(alert.Event)))
	}
}

// Close stops the worker after the queued alerts are delivered.
func (a *AsyncNotifier) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
}

func (a *AsyncNotifier) run() {
	defer a.wg.Done()
	for {
		select {
		case alert := <-a.queue:
			a.next.Notify(context.Background(), alert)
		case <-a.done:
			for {
				select {
				case alert := <-a.queue:
					a.next.Notify(context.Background(), alert)
				default:
					return
				}
			}
		}
	}
}
