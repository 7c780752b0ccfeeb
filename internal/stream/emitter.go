package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSinkClosed is returned by Send after the sink reached a terminal state.
	ErrSinkClosed = errors.New("sink closed")

	// ErrSlowConsumer is returned when the consumer did not take an event in time.
	ErrSlowConsumer = errors.New("sink consumer too slow")
)

// CompleteEvent is the name of the synthetic end-of-stream marker.
const CompleteEvent = "complete"

// Event is one unit pushed to the caller. Lines have an empty Name.
type Event struct {
	Name string
	Data string
}

// Line builds a line event.
func Line(s string) Event {
	return Event{Data: s}
}

// Complete builds the end-of-stream marker.
func Complete() Event {
	return Event{Name: CompleteEvent, Data: "done"}
}

// Sink is the push-stream destination a Relay writes to.
type Sink interface {
	Send(ev Event) error
	Close(err error)
}

// Emitter is a push-stream sink bridging a producer (the relay) and a
// transport that drains it (SSE, WebSocket, stdout).
//
// The producer calls Send and finally Close. The transport reads Events until
// Done is closed and calls Disconnect when the client goes away. Whichever of
// Close and Disconnect happens first decides the terminal state.
type Emitter struct {
	events      chan Event
	done        chan struct{}
	sendTimeout time.Duration

	once         sync.Once
	mu           sync.Mutex
	err          error
	disconnected bool
	handlers     []func(error)
}

var _ Sink = (*Emitter)(nil)

// NewEmitter creates an emitter buffering up to buffer events. A Send that
// cannot enqueue within sendTimeout fails the sink.
func NewEmitter(buffer int, sendTimeout time.Duration) *Emitter {
	return &Emitter{
		events:      make(chan Event, buffer),
		done:        make(chan struct{}),
		sendTimeout: sendTimeout,
	}
}

// Send enqueues ev for the transport.
func (e *Emitter) Send(ev Event) error {
	select {
	case <-e.done:
		return ErrSinkClosed
	default:
	}

	timer := time.NewTimer(e.sendTimeout)
	defer timer.Stop()

	select {
	case e.events <- ev:
		return nil
	case <-e.done:
		return ErrSinkClosed
	case <-timer.C:
		e.Disconnect(ErrSlowConsumer)
		return ErrSlowConsumer
	}
}

// Close ends the stream from the producer side. A nil err is a normal close.
func (e *Emitter) Close(err error) {
	e.finish(err, false)
}

// Disconnect ends the stream from the consumer side and runs the disconnect
// handlers, unless the stream already ended.
func (e *Emitter) Disconnect(err error) {
	if err == nil {
		err = ErrSinkClosed
	}
	if !e.finish(err, true) {
		return
	}

	e.mu.Lock()
	handlers := append([]func(error){}, e.handlers...)
	e.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// OnDisconnect registers fn to run when the consumer disconnects first.
func (e *Emitter) OnDisconnect(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

func (e *Emitter) finish(err error, disconnected bool) bool {
	won := false
	e.once.Do(func() {
		e.mu.Lock()
		e.err = err
		e.disconnected = disconnected
		e.mu.Unlock()
		close(e.done)
		won = true
	})
	return won
}

// Events is the channel the transport drains.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Done is closed once the stream reached a terminal state.
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// Err is the error the stream ended with, nil for a normal close or while open.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Disconnected reports whether the consumer side ended the stream.
func (e *Emitter) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnected
}

// Drain delivers every event still buffered after Done to fn.
func (e *Emitter) Drain(fn func(Event) error) error {
	for {
		select {
		case ev := <-e.events:
			if err := fn(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Pump forwards events to write until the stream ends, then flushes the buffer.
// A write error or a cancelled ctx means the consumer is gone: the emitter is
// disconnected and the cause returned.
func (e *Emitter) Pump(ctx context.Context, write func(Event) error) error {
	for {
		select {
		case ev := <-e.events:
			if err := write(ev); err != nil {
				e.Disconnect(err)
				return err
			}
		case <-e.done:
			return e.Drain(write)
		case <-ctx.Done():
			e.Disconnect(ctx.Err())
			return ctx.Err()
		}
	}
}
