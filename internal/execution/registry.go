package execution

import (
	"sync"

	"github.com/dontdude/codestream/internal/stream"
)

// Registry maps an execution id to the live resources of its run: the
// sandbox container, the output sink and the relay. Each resource is set and
// removed independently as the run progresses.
//
// Operations are atomic per key and never block on I/O.
type Registry struct {
	containers sync.Map // id -> string
	sinks      sync.Map // id -> *stream.Emitter
	relays     sync.Map // id -> *stream.Relay
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterContainer records the sandbox container created for id.
func (r *Registry) RegisterContainer(id, containerID string) {
	r.containers.Store(id, containerID)
}

// Container returns the container registered for id, if any.
func (r *Registry) Container(id string) (string, bool) {
	v, ok := r.containers.Load(id)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// RemoveContainer forgets the container of id.
func (r *Registry) RemoveContainer(id string) {
	r.containers.Delete(id)
}

// RegisterSink records the output sink the caller of id reads from.
func (r *Registry) RegisterSink(id string, sink *stream.Emitter) {
	r.sinks.Store(id, sink)
}

// Sink returns the sink registered for id, if any.
func (r *Registry) Sink(id string) (*stream.Emitter, bool) {
	v, ok := r.sinks.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*stream.Emitter), true
}

// RemoveSink forgets the sink of id.
func (r *Registry) RemoveSink(id string) {
	r.sinks.Delete(id)
}

// RegisterRelay records the relay forwarding the output of id.
func (r *Registry) RegisterRelay(id string, relay *stream.Relay) {
	r.relays.Store(id, relay)
}

// Relay returns the relay registered for id, if any.
func (r *Registry) Relay(id string) (*stream.Relay, bool) {
	v, ok := r.relays.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*stream.Relay), true
}

// RemoveRelay forgets the relay of id.
func (r *Registry) RemoveRelay(id string) {
	r.relays.Delete(id)
}

// Cleanup drops every resource registered for id. It is safe to call any
// number of times, on a partial or an empty entry.
func (r *Registry) Cleanup(id string) {
	r.containers.Delete(id)
	r.sinks.Delete(id)
	r.relays.Delete(id)
}

// Live reports whether any resource is still registered for id.
func (r *Registry) Live(id string) bool {
	if _, ok := r.containers.Load(id); ok {
		return true
	}
	if _, ok := r.sinks.Load(id); ok {
		return true
	}
	_, ok := r.relays.Load(id)
	return ok
}

// IDs lists every execution that has a sink or a container registered.
func (r *Registry) IDs() []string {
	seen := map[string]struct{}{}
	collect := func(k, _ any) bool {
		seen[k.(string)] = struct{}{}
		return true
	}
	r.sinks.Range(collect)
	r.containers.Range(collect)

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}
