package stream

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dontdude/codestream/internal/domain"
)

// ErrRelayInactive is returned by Write once the relay stopped forwarding.
var ErrRelayInactive = errors.New("relay inactive")

// OutcomeKind tags how a relayed command ended.
type OutcomeKind int

const (
	// Completed means the producer reached the end of the output.
	Completed OutcomeKind = iota
	// Failed means the producer reported an error.
	Failed
	// Interrupted means the sink failed or the relay was cancelled.
	Interrupted
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Outcome is delivered exactly once per Relay on Done. The first of
// Complete, Fail, Interrupt or a sink failure decides it.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Relay turns a raw byte stream into newline-delimited events on a Sink.
//
// Bytes arrive through Write from a single producer. Every complete line,
// terminator included, is sent as one event in arrival order. A trailing
// partial line is flushed once when the producer completes.
type Relay struct {
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	buf    bytes.Buffer
	active atomic.Bool

	stopMu sync.Mutex
	stop   func()

	claimed atomic.Bool
	done    chan Outcome
}

var _ domain.Output = (*Relay)(nil)

// NewRelay creates an active relay forwarding to sink.
func NewRelay(sink Sink, logger *slog.Logger) *Relay {
	r := &Relay{
		sink:   sink,
		logger: logger,
		done:   make(chan Outcome, 1),
	}
	r.active.Store(true)
	return r
}

// Attach registers the function that stops the upstream producer.
func (r *Relay) Attach(stop func()) {
	r.stopMu.Lock()
	r.stop = stop
	r.stopMu.Unlock()

	if !r.active.Load() {
		r.stopProducer()
	}
}

// Write consumes one chunk of output.
func (r *Relay) Write(p []byte) (int, error) {
	if !r.active.Load() {
		r.stopProducer()
		return 0, ErrRelayInactive
	}

	r.mu.Lock()
	r.buf.Write(p)
	for r.active.Load() {
		i := bytes.IndexByte(r.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(r.buf.Next(i + 1))

		if err := r.sink.Send(Line(line)); err != nil {
			r.active.Store(false)
			r.mu.Unlock()

			r.logger.Debug("Sink rejected line, interrupting relay", "error", err)
			r.stopProducer()
			r.finish(Outcome{Kind: Interrupted, Err: err})
			return len(p), err
		}
	}
	r.mu.Unlock()

	return len(p), nil
}

// Complete signals that the producer reached the end of its output. The
// outcome is claimed before the trailing flush; a sink failure during the
// flush does not change it.
func (r *Relay) Complete() {
	if !r.claim() {
		return
	}
	if r.active.Load() {
		r.mu.Lock()
		if r.buf.Len() > 0 {
			// Best effort: the command already finished.
			if err := r.sink.Send(Line(r.buf.String())); err != nil {
				r.logger.Debug("Failed to flush trailing output", "error", err)
			}
			r.buf.Reset()
		}
		r.mu.Unlock()

		_ = r.sink.Send(Complete())
		r.sink.Close(nil)
	}
	r.done <- Outcome{Kind: Completed}
}

// Fail signals that the producer broke off with err.
func (r *Relay) Fail(err error) {
	if !r.claim() {
		return
	}
	if r.active.Load() {
		_ = r.sink.Send(Complete())
		r.sink.Close(err)
	}
	r.done <- Outcome{Kind: Failed, Err: err}
}

// Interrupt stops forwarding and the producer, as if the sink had failed.
// The sink itself is left to the caller. It reports false when the relay
// already had an outcome, in which case nothing is stopped.
func (r *Relay) Interrupt() bool {
	if !r.claim() {
		return false
	}
	r.active.Store(false)
	r.stopProducer()
	r.done <- Outcome{Kind: Interrupted}
	return true
}

// Active reports whether the relay still forwards output.
func (r *Relay) Active() bool {
	return r.active.Load()
}

// Done yields the single outcome of the relay.
func (r *Relay) Done() <-chan Outcome {
	return r.done
}

func (r *Relay) stopProducer() {
	r.stopMu.Lock()
	stop := r.stop
	r.stopMu.Unlock()

	if stop != nil {
		stop()
	}
}

// claim reserves the single outcome slot.
func (r *Relay) claim() bool {
	return r.claimed.CompareAndSwap(false, true)
}

func (r *Relay) finish(o Outcome) {
	if r.claim() {
		r.done <- o
	}
}
