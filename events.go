package db

import (
	"sync"

	"github.com/google/uuid"
)

// Event names the lifecycle points a model passes through.
type Event string

// Lifecycle events, in the order they can occur over a model's life.
const (
	EventInit         Event = "init"
	EventRetrieved    Event = "retrieved"
	EventBeforeSave   Event = "beforeSave"
	EventBeforeCreate Event = "beforeCreate"
	EventCreated      Event = "created"
	EventBeforeUpdate Event = "beforeUpdate"
	EventUpdated      Event = "updated"
	EventSaved        Event = "saved"
	EventBeforeDelete Event = "beforeDelete"
	EventDeleted      Event = "deleted"
)

// Listener is a lifecycle callback. Before-events are mutation hooks, not
// merely observational: a beforeUpdate listener may rewrite the model's
// pending dirty set and the write path re-reads it after dispatch.
type Listener func(m *Model)

// Hub is a process-wide lifecycle event registry keyed by (model type,
// event). Callbacks run in registration order, followed by the model
// type's own hook of the same name. Registration returns a detachable
// Handle, so removal never relies on callback identity.
//
// A Hub is safe for concurrent registration and dispatch.
type Hub struct {
	mu        sync.RWMutex
	listeners map[hubKey][]registration
}

type hubKey struct {
	typeName string
	event    Event
}

type registration struct {
	id uuid.UUID
	fn Listener
}

// Handle detaches a registered listener.
type Handle struct {
	hub *Hub
	key hubKey
	id  uuid.UUID
}

// DefaultHub is the hub used by models unless a DB overrides it.
var DefaultHub = NewHub()

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[hubKey][]registration)}
}

// On registers a listener for the given model type and event and returns
// a Handle that detaches it.
func (h *Hub) On(typeName string, event Event, fn Listener) Handle {
	key := hubKey{typeName: typeName, event: event}
	reg := registration{id: uuid.New(), fn: fn}
	h.mu.Lock()
	h.listeners[key] = append(h.listeners[key], reg)
	h.mu.Unlock()
	return Handle{hub: h, key: key, id: reg.id}
}

// Off detaches the listener. Detaching twice is a no-op.
func (hd Handle) Off() {
	if hd.hub == nil {
		return
	}
	hd.hub.mu.Lock()
	defer hd.hub.mu.Unlock()
	regs := hd.hub.listeners[hd.key]
	for i, reg := range regs {
		if reg.id == hd.id {
			hd.hub.listeners[hd.key] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Fire dispatches the event to every registered listener for the model's
// type, in registration order, and then to the type's own hook.
func (h *Hub) Fire(event Event, m *Model) {
	key := hubKey{typeName: m.meta.Name, event: event}
	h.mu.RLock()
	regs := make([]registration, len(h.listeners[key]))
	copy(regs, h.listeners[key])
	h.mu.RUnlock()
	for _, reg := range regs {
		reg.fn(m)
	}
	if hook, ok := m.meta.Hooks[event]; ok {
		hook(m)
	}
}
