package stream

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink records every event and fails the Nth send when failAt > 0.
type recordingSink struct {
	mu       sync.Mutex
	events   []Event
	closed   int
	closeErr error
	failAt   int
	sends    int
}

func (s *recordingSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	if s.failAt > 0 && s.sends >= s.failAt {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.closeErr = err
}

func (s *recordingSink) snapshot() ([]Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event{}, s.events...), s.closed, s.closeErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func outcome(t *testing.T, r *Relay) Outcome {
	t.Helper()
	select {
	case o := <-r.Done():
		return o
	case <-time.After(time.Second):
		t.Fatal("relay produced no outcome")
		return Outcome{}
	}
}

func assertNoSecondOutcome(t *testing.T, r *Relay) {
	t.Helper()
	select {
	case o := <-r.Done():
		t.Fatalf("unexpected second outcome: %v", o.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRelaySplitsLinesAcrossChunks(t *testing.T) {
	sink := &recordingSink{}
	r := NewRelay(sink, discardLogger())

	_, err := r.Write([]byte("a\nb\n"))
	require.NoError(t, err)
	_, err = r.Write([]byte("c"))
	require.NoError(t, err)
	r.Complete()

	events, closed, closeErr := sink.snapshot()
	assert.Equal(t, []Event{Line("a\n"), Line("b\n"), Line("c"), Complete()}, events)
	assert.Equal(t, 1, closed)
	assert.NoError(t, closeErr)

	assert.Equal(t, Completed, outcome(t, r).Kind)
	assertNoSecondOutcome(t, r)
}

func TestRelayReassemblesLineSplitMidChunk(t *testing.T) {
	sink := &recordingSink{}
	r := NewRelay(sink, discardLogger())

	for _, chunk := range []string{"Hel", "lo, ", "World!\nsecond", " line\n"} {
		_, err := r.Write([]byte(chunk))
		require.NoError(t, err)
	}
	r.Complete()

	events, _, _ := sink.snapshot()
	assert.Equal(t, []Event{Line("Hello, World!\n"), Line("second line\n"), Complete()}, events)
}

func TestRelayInterruptsOnSinkFailure(t *testing.T) {
	sink := &recordingSink{failAt: 2}
	r := NewRelay(sink, discardLogger())

	stops := 0
	r.Attach(func() { stops++ })

	n, err := r.Write([]byte("one\ntwo\nthree\n"))
	require.Error(t, err)
	assert.Equal(t, len("one\ntwo\nthree\n"), n)
	assert.False(t, r.Active())

	// Later chunks are ignored and keep asking the producer to stop.
	_, err = r.Write([]byte("four\n"))
	assert.ErrorIs(t, err, ErrRelayInactive)

	// The producer's own end after the interrupt must not fire another outcome.
	r.Complete()
	r.Fail(errors.New("stream reset"))

	events, closed, _ := sink.snapshot()
	assert.Equal(t, []Event{Line("one\n")}, events)
	assert.Equal(t, 0, closed)
	assert.Equal(t, 2, stops)

	o := outcome(t, r)
	assert.Equal(t, Interrupted, o.Kind)
	assert.Error(t, o.Err)
	assertNoSecondOutcome(t, r)
}

func TestRelayFail(t *testing.T) {
	sink := &recordingSink{}
	r := NewRelay(sink, discardLogger())

	_, err := r.Write([]byte("partial"))
	require.NoError(t, err)

	cause := errors.New("connection reset by daemon")
	r.Fail(cause)

	events, closed, closeErr := sink.snapshot()
	assert.Equal(t, []Event{Complete()}, events)
	assert.Equal(t, 1, closed)
	assert.ErrorIs(t, closeErr, cause)

	o := outcome(t, r)
	assert.Equal(t, Failed, o.Kind)
	assert.ErrorIs(t, o.Err, cause)
	assertNoSecondOutcome(t, r)
}

func TestRelayTrailingFlushFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{failAt: 1}
	r := NewRelay(sink, discardLogger())

	_, err := r.Write([]byte("no newline"))
	require.NoError(t, err)
	r.Complete()

	_, closed, _ := sink.snapshot()
	assert.Equal(t, 1, closed)
	assert.Equal(t, Completed, outcome(t, r).Kind)
}

// interruptingSink interrupts its relay from inside Send, the way a slow
// consumer's disconnect handler does.
type interruptingSink struct {
	recordingSink
	relay       *Relay
	interrupted []bool
}

func (s *interruptingSink) Send(ev Event) error {
	s.interrupted = append(s.interrupted, s.relay.Interrupt())
	return ErrSlowConsumer
}

func TestRelayCompleteKeepsOutcomeWhenFlushDisconnects(t *testing.T) {
	sink := &interruptingSink{}
	r := NewRelay(sink, discardLogger())
	sink.relay = r

	r.mu.Lock()
	r.buf.WriteString("partial")
	r.mu.Unlock()
	r.Complete()

	assert.Equal(t, Completed, outcome(t, r).Kind)
	assert.Equal(t, []bool{false, false}, sink.interrupted)
	assertNoSecondOutcome(t, r)
}

func TestRelayFailKeepsOutcomeWhenMarkerDisconnects(t *testing.T) {
	sink := &interruptingSink{}
	r := NewRelay(sink, discardLogger())
	sink.relay = r

	cause := errors.New("stream reset")
	r.Fail(cause)

	o := outcome(t, r)
	assert.Equal(t, Failed, o.Kind)
	assert.ErrorIs(t, o.Err, cause)
	assert.Equal(t, []bool{false}, sink.interrupted)
}

func TestRelayInterruptReportsWhetherItDecided(t *testing.T) {
	r := NewRelay(&recordingSink{}, discardLogger())
	assert.True(t, r.Interrupt())
	assert.False(t, r.Interrupt())
	assert.Equal(t, Interrupted, outcome(t, r).Kind)
}

func TestRelayInterruptBeforeAttachStopsLateProducer(t *testing.T) {
	sink := &recordingSink{}
	r := NewRelay(sink, discardLogger())
	r.Interrupt()

	stopped := false
	r.Attach(func() { stopped = true })
	assert.True(t, stopped)

	assert.Equal(t, Interrupted, outcome(t, r).Kind)
	r.Complete()
	assertNoSecondOutcome(t, r)

	events, closed, _ := sink.snapshot()
	assert.Empty(t, events)
	assert.Equal(t, 0, closed)
}

func TestRelayExactlyOneOutcomeUnderRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		sink := &recordingSink{}
		r := NewRelay(sink, discardLogger())

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); r.Complete() }()
		go func() { defer wg.Done(); r.Fail(errors.New("boom")) }()
		go func() { defer wg.Done(); r.Interrupt() }()
		wg.Wait()

		outcome(t, r)
		select {
		case <-r.Done():
			t.Fatal("second outcome delivered")
		default:
		}
	}
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "interrupted", Interrupted.String())
	assert.Equal(t, "unknown", OutcomeKind(42).String())
}
