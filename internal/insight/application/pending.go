package application

import (
	"context"
	"sync"

	insight "machine-monitor/internal/insight/domain"
)

// Pending is the handle of an outstanding insight request.
type Pending struct {
	MachineID string

	once   sync.Once
	done   chan struct{}
	result insight.Result
	err    error
}

func newPending(machineID string) *Pending {
	return &Pending{MachineID: machineID, done: make(chan struct{})}
}

func (p *Pending) resolve(result insight.Result, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Done is closed once the request has completed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request completes or ctx ends.
func (p *Pending) Wait(ctx context.Context) (insight.Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return insight.Result{}, ctx.Err()
	}
}
