package service

import (
	"sync"

	"github.com/docshare/convertd/internal/domain"
)

// Event is a job state-change notification. The bus is an optional
// observer surface; polling GetProgress remains the source of truth.
type Event struct {
	Type     string // "status", "progress"
	Status   domain.JobStatus
	Stage    domain.Stage
	Progress int
	Message  string
}

type EventBus struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
	}
}

func (eb *EventBus) Subscribe(documentID string) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 16)
	eb.subscribers[documentID] = append(eb.subscribers[documentID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(documentID string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[documentID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[documentID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[documentID]) == 0 {
		delete(eb.subscribers, documentID)
	}
}

func (eb *EventBus) Publish(documentID string, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[documentID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
		}
	}
}
