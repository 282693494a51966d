package events

import (
	"log"
	"sync"

	"hookahplus/internal/domain"
)

// Handler receives every accepted workflow event.
type Handler func(domain.WorkflowEvent)

// Hub broadcasts workflow events to in-process subscribers. Callback
// subscribers run synchronously on the publishing goroutine; channel
// subscribers receive events through a buffer and miss events while it is full.
// Nothing is buffered for subscribers that join later.
type Hub struct {
	// Logger reports subscribers that panic. A panicking callback is
	// skipped; the remaining subscribers still receive the event.
	Logger *log.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
	chans  map[int]chan domain.WorkflowEvent
}

func NewHub() *Hub {
	return &Hub{
		subs:  make(map[int]Handler),
		chans: make(map[int]chan domain.WorkflowEvent),
	}
}

// Subscribe registers fn and returns a function removing it. The returned
// function is safe to call more than once.
func (h *Hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// SubscribeFiltered registers fn for events accepted by match only.
func (h *Hub) SubscribeFiltered(match func(domain.WorkflowEvent) bool, fn Handler) func() {
	return h.Subscribe(func(evt domain.WorkflowEvent) {
		if match(evt) {
			fn(evt)
		}
	})
}

// SubscribeChan returns a channel fed with events and a function that removes
// the subscription and closes the channel.
func (h *Hub) SubscribeChan(buffer int) (<-chan domain.WorkflowEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.WorkflowEvent, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.chans[id] = ch
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.chans, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers a private copy of evt to every current subscriber.
func (h *Hub) Publish(evt domain.WorkflowEvent) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs))
	for _, fn := range h.subs {
		handlers = append(handlers, fn)
	}
	for _, ch := range h.chans {
		select {
		case ch <- evt.Clone():
		default:
		}
	}
	h.mu.RUnlock()
	for _, fn := range handlers {
		h.deliver(fn, evt.Clone())
	}
}

func (h *Hub) deliver(fn Handler, evt domain.WorkflowEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger := h.Logger
			if logger == nil {
				logger = log.Default()
			}
			logger.Printf("events: subscriber panicked on %s seq=%d: %v", evt.ButtonPressed, evt.Seq, r)
		}
	}()
	fn(evt)
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs) + len(h.chans)
}

// IsReadyForDelivery matches presses that put a hookah on the pickup shelf.
func IsReadyForDelivery(evt domain.WorkflowEvent) bool {
	return evt.ButtonPressed == domain.ButtonReadyForDelivery
}

// IsRefillRequest matches customer refill requests.
func IsRefillRequest(evt domain.WorkflowEvent) bool {
	return evt.ButtonPressed == domain.ButtonRefillRequested
}

// IsCoalRequest matches burned-out coal reports.
func IsCoalRequest(evt domain.WorkflowEvent) bool {
	return evt.ButtonPressed == domain.ButtonCoalsBurnedOut
}

// Filter matches events by button name; an empty filter matches everything.
type Filter struct {
	all bool
	set map[string]struct{}
}

func NewFilter(buttons []string) Filter {
	if len(buttons) == 0 {
		return Filter{all: true}
	}
	set := make(map[string]struct{}, len(buttons))
	for _, b := range buttons {
		if b == "" {
			continue
		}
		set[b] = struct{}{}
	}
	if len(set) == 0 {
		return Filter{all: true}
	}
	return Filter{set: set}
}

func (f Filter) Match(button domain.Button) bool {
	if f.all {
		return true
	}
	_, ok := f.set[string(button)]
	return ok
}
