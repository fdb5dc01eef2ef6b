package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	// Width and Height carry the new framebuffer size.
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// A watched asset changed on disk. Path carries the file.
	EVENT_CODE_ASSET_CHANGED SystemEventCode = 0x10

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	Type   SystemEventCode
	Width  uint32
	Height uint32
	Path   string
}

// Should return true if handled.
type FnOnEvent func(ctx EventContext) bool

type registeredEvent struct {
	id       int
	callback FnOnEvent
}

// EventBus dispatches events synchronously on the caller's goroutine.
type EventBus struct {
	mu         sync.Mutex
	nextID     int
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]registeredEvent),
	}
}

// Register listens for code and returns an id for Unregister.
func (b *EventBus) Register(code SystemEventCode, onEvent FnOnEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.registered[code] = append(b.registered[code], registeredEvent{id: b.nextID, callback: onEvent})
	return b.nextID
}

func (b *EventBus) Unregister(code SystemEventCode, id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.id == id {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire delivers ctx to listeners of ctx.Type in registration order. If a
// handler returns true the event is handled and not passed on.
func (b *EventBus) Fire(ctx EventContext) bool {
	b.mu.Lock()
	events := append([]registeredEvent(nil), b.registered[ctx.Type]...)
	b.mu.Unlock()

	for _, e := range events {
		if e.callback(ctx) {
			return true
		}
	}
	return false
}

func (b *EventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = make(map[SystemEventCode][]registeredEvent)
}

var onceEvent sync.Once
var eventState *EventBus = nil

func EventSystemInitialize() bool {
	onceEvent.Do(func() {
		eventState = NewEventBus()
	})
	return eventState != nil
}

func EventSystemShutdown() error {
	if eventState != nil {
		eventState.Reset()
	}
	return nil
}

func EventRegister(code SystemEventCode, onEvent FnOnEvent) int {
	return eventState.Register(code, onEvent)
}

func EventUnregister(code SystemEventCode, id int) bool {
	return eventState.Unregister(code, id)
}

func EventFire(ctx EventContext) bool {
	return eventState.Fire(ctx)
}
