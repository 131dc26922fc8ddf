package imagepref

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDispatcherClosed is returned by Enqueue after Close.
var ErrDispatcherClosed = errors.New("imagepref: dispatcher closed")

// Status is the single report produced for every processed command.
type Status struct {
	Command string
	Message string
	Err     error
	At      time.Time
}

// StatusSink receives one Status per command, in processing order.
type StatusSink interface {
	Report(Status)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(Status)

func (f StatusFunc) Report(s Status) { f(s) }

// Dispatcher runs commands one at a time in arrival order against a Session.
type Dispatcher struct {
	session *Session
	sink    StatusSink
	queue   chan Command

	closeOnce sync.Once
	closing   chan struct{}
}

// NewDispatcher returns a Dispatcher with room for queueSize pending commands.
func NewDispatcher(session *Session, sink StatusSink, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Dispatcher{
		session: session,
		sink:    sink,
		queue:   make(chan Command, queueSize),
		closing: make(chan struct{}),
	}
}

// Enqueue adds cmd to the queue, blocking while it is full.
func (d *Dispatcher) Enqueue(ctx context.Context, cmd Command) error {
	select {
	case <-d.closing:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.queue <- cmd:
		return nil
	case <-d.closing:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands. Run drains what is already queued and returns.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closing) })
}

// Run processes commands until ctx is done or the dispatcher is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-d.queue:
			d.execute(ctx, cmd)
		case <-d.closing:
			for {
				select {
				case cmd := <-d.queue:
					d.execute(ctx, cmd)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) {
	msg, err := d.safeExecute(ctx, cmd)
	if err != nil {
		slog.Warn("imagepref: command failed", "command", cmd.Name(), "error", err.Error())
	}
	if d.sink != nil {
		d.sink.Report(Status{Command: cmd.Name(), Message: msg, Err: err, At: time.Now()})
	}
}

// safeExecute recovers from panics so one bad command cannot stop the queue.
func (d *Dispatcher) safeExecute(ctx context.Context, cmd Command) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("imagepref: command panicked", "command", cmd.Name(), "panic", r)
			msg, err = "Internal error", errors.New("imagepref: command panicked")
		}
	}()
	return cmd.Execute(ctx, d.session)
}
