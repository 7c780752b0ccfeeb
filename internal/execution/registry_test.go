package execution

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dontdude/codestream/internal/stream"
)

func TestRegistryResources(t *testing.T) {
	r := NewRegistry()
	sink := stream.NewEmitter(1, time.Second)
	relay := stream.NewRelay(sink, testLogger())

	r.RegisterContainer("e1", "c1")
	r.RegisterSink("e1", sink)
	r.RegisterRelay("e1", relay)

	c, ok := r.Container("e1")
	assert.True(t, ok)
	assert.Equal(t, "c1", c)

	s, ok := r.Sink("e1")
	assert.True(t, ok)
	assert.Same(t, sink, s)

	rl, ok := r.Relay("e1")
	assert.True(t, ok)
	assert.Same(t, relay, rl)

	r.RemoveContainer("e1")
	_, ok = r.Container("e1")
	assert.False(t, ok)
	assert.True(t, r.Live("e1"))

	r.RemoveSink("e1")
	_, ok = r.Sink("e1")
	assert.False(t, ok)

	r.RemoveRelay("e1")
	_, ok = r.Relay("e1")
	assert.False(t, ok)
	assert.False(t, r.Live("e1"))
}

func TestRegistryLookupsOnEmptyEntry(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Container("missing")
	assert.False(t, ok)
	_, ok = r.Sink("missing")
	assert.False(t, ok)
	_, ok = r.Relay("missing")
	assert.False(t, ok)
}

func TestRegistryCleanupIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.RegisterContainer("e1", "c1")
	r.RegisterSink("e1", stream.NewEmitter(1, time.Second))
	r.RegisterContainer("e2", "c2")

	r.Cleanup("e1")
	r.Cleanup("e1")
	r.Cleanup("never-registered")

	assert.False(t, r.Live("e1"))
	c, ok := r.Container("e2")
	assert.True(t, ok)
	assert.Equal(t, "c2", c)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); r.RegisterContainer("e", "c") }()
		go func() { defer wg.Done(); r.Container("e") }()
		go func() { defer wg.Done(); r.Cleanup("e") }()
	}
	wg.Wait()
}

func TestRegistryIDs(t *testing.T) {
	r := NewRegistry()
	r.RegisterSink("e1", stream.NewEmitter(1, time.Second))
	r.RegisterContainer("e1", "c1")
	r.RegisterContainer("e2", "c2")

	assert.ElementsMatch(t, []string{"e1", "e2"}, r.IDs())
}
