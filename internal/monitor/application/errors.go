package application

import "errors"

var (
	// ErrUnknownMachine indicates a machine id that is not registered.
	ErrUnknownMachine = errors.New("monitor: unknown machine")
	// ErrDuplicateMachine indicates a registration for an id already in use.
	ErrDuplicateMachine = errors.New("monitor: machine already registered")
	// ErrNotExternal indicates ingest for a machine fed by the simulator.
	ErrNotExternal = errors.New("monitor: machine is not fed externally")
	// ErrNotSimulated indicates a simulator control for an externally fed machine.
	ErrNotSimulated = errors.New("monitor: machine is not simulated")
	// ErrNoReading indicates a machine that has not produced any reading yet.
	ErrNoReading = errors.New("monitor: no reading yet")
)
