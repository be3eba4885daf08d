// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/overseer/lib/clock"
	"github.com/bureau-foundation/overseer/release"
	"github.com/bureau-foundation/overseer/transport"
)

// Overseer is one supervisor instance. Construct it with Start; all
// methods are safe for concurrent use. Multiple instances are
// independent and may run in parallel.
type Overseer struct {
	spec      Spec
	handler   Handler
	logger    *slog.Logger
	clock     clock.Clock
	listener  transport.Listener
	artifacts *artifactCache

	mailbox   *mailbox
	reg       *registry
	telemetry *telemetryRing

	// userState and the fields below it are owned by the controller
	// goroutine.
	userState       any
	timerGeneration uint64
	stopped         bool

	runCtx      context.Context
	cancelRun   context.CancelFunc
	shutdownCtx context.Context
	done        chan struct{}

	errMu sync.Mutex
	err   error
}

// Options carries the construction knobs that are not part of the
// worker-facing Spec.
type Options struct {
	// Listener accepts worker control connections. Required: the
	// overseer derives every node-up, node-down, and exit event from
	// it.
	Listener transport.Listener

	// InitialState seeds the user state threaded through callbacks.
	InitialState any

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to clock.Real(). Tests inject clock.Fake.
	Clock clock.Clock

	// Fetcher downloads the release artifact. Defaults to a
	// zero-value release.Fetcher (system temp dir, default HTTP
	// client, ambient AWS config).
	Fetcher *release.Fetcher

	// TelemetryHistory is the Inspect ring capacity. Zero means 256.
	TelemetryHistory int
}

// Start validates the spec, starts the transport listener and the
// controller goroutine, and returns the running instance. The overseer
// stops when ctx is cancelled, Stop is called, or a callback returns
// Stop.
func Start(ctx context.Context, handler Handler, spec Spec, options Options) (*Overseer, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler required", ErrBadStartSpec)
	}
	spec.normalize()
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if options.Listener == nil {
		return nil, fmt.Errorf("%w: transport listener required", ErrBadStartSpec)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("overseer", spec.OverseerID)

	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	fetcher := options.Fetcher
	if fetcher == nil {
		fetcher = &release.Fetcher{}
	}

	history := options.TelemetryHistory
	if history == 0 {
		history = defaultTelemetryHistory
	}

	runCtx, cancelRun := context.WithCancel(ctx)

	o := &Overseer{
		spec:        spec,
		handler:     handler,
		logger:      logger,
		clock:       clk,
		listener:    options.Listener,
		artifacts:   &artifactCache{fetcher: fetcher, ref: spec.Release},
		mailbox:     newMailbox(),
		reg:         newRegistry(),
		telemetry:   newTelemetryRing(history),
		userState:   options.InitialState,
		runCtx:      runCtx,
		cancelRun:   cancelRun,
		shutdownCtx: context.WithoutCancel(ctx),
		done:        make(chan struct{}),
	}

	// Cancellation of the parent context stops the controller through
	// the mailbox like every other trigger. After shutdown the put
	// lands on a disposed mailbox and is dropped.
	go func() {
		<-runCtx.Done()
		o.mailbox.put(evStop{reason: nil})
	}()

	go func() {
		if err := o.listener.Serve(runCtx, o.handleConn); err != nil {
			logger.Error("transport listener failed", "error", err)
			o.mailbox.put(evStop{reason: fmt.Errorf("transport listener: %w", err)})
		}
	}()

	go o.run()

	logger.Info("overseer started",
		"strategy", spec.Strategy,
		"max_nodes", spec.MaxNodes,
		"listener", options.Listener.Address(),
		"release", spec.Release.URL,
	)
	return o, nil
}

// StartChild spawns one worker. Returns ErrCapExceeded without
// invoking the adapter when MaxNodes non-terminated labors exist, and
// ErrSpawnFailed when the adapter refuses.
func (o *Overseer) StartChild(ctx context.Context) (*Labor, error) {
	reply := make(chan startChildResult, 1)
	o.mailbox.put(reqStartChild{reply: reply})

	select {
	case result := <-reply:
		return result.labor, result.err
	case <-o.done:
		select {
		case result := <-reply:
			return result.labor, result.err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TerminateChild releases the named worker's resources and removes it
// from the registry once its final callback has fired. Idempotent.
func (o *Overseer) TerminateChild(ctx context.Context, name string) (*Labor, error) {
	reply := make(chan terminateChildResult, 1)
	o.mailbox.put(reqTerminateChild{name: name, reply: reply})

	select {
	case result := <-reply:
		return result.labor, result.err
	case <-o.done:
		select {
		case result := <-reply:
			return result.labor, result.err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CountChildren returns the number of non-terminated labors.
func (o *Overseer) CountChildren(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	o.mailbox.put(reqCountChildren{reply: reply})

	select {
	case count := <-reply:
		return count, nil
	case <-o.done:
		select {
		case count := <-reply:
			return count, nil
		default:
			return 0, ErrStopped
		}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Pair registers a worker's control endpoint. Workers normally pair
// through the control channel; this method exists for embeddings that
// relay the callback out-of-band.
func (o *Overseer) Pair(ctx context.Context, name, endpointID string) error {
	reply := make(chan error, 1)
	o.mailbox.put(reqPair{name: name, endpointID: endpointID, reply: reply})

	select {
	case err := <-reply:
		return err
	case <-o.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call sends a synchronous pass-through request to the handler's
// HandleCall and returns its reply.
func (o *Overseer) Call(ctx context.Context, msg any) (any, error) {
	reply := make(chan callResult, 1)
	o.mailbox.put(reqCall{msg: msg, reply: reply})

	select {
	case result := <-reply:
		return result.value, result.err
	case <-o.done:
		select {
		case result := <-reply:
			return result.value, result.err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cast sends a fire-and-forget pass-through message to the handler's
// HandleCast.
func (o *Overseer) Cast(msg any) {
	o.mailbox.put(evCast{msg: msg})
}

// Inspect returns a debug snapshot of the full overseer state.
func (o *Overseer) Inspect(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	o.mailbox.put(reqInspect{reply: reply})

	select {
	case snapshot := <-reply:
		return snapshot, nil
	case <-o.done:
		select {
		case snapshot := <-reply:
			return snapshot, nil
		default:
			return Snapshot{}, ErrStopped
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Stop shuts the overseer down cleanly: all timers cancelled, all
// labors terminated best-effort, the optional user Terminate hook run.
func (o *Overseer) Stop(ctx context.Context) error {
	o.mailbox.put(evStop{})

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the overseer has fully stopped.
func (o *Overseer) Done() <-chan struct{} {
	return o.done
}

// Err returns the terminal reason: nil after a clean stop, the stop
// reason otherwise. Valid once Done is closed.
func (o *Overseer) Err() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.err
}

func (o *Overseer) setErr(err error) {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	o.err = err
}

// Address returns the transport listener address workers dial.
func (o *Overseer) Address() string {
	return o.listener.Address()
}

// ID returns the overseer's stable identity.
func (o *Overseer) ID() string {
	return o.spec.OverseerID
}
