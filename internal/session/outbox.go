package session

import (
	"container/list"
	"sync"
	"time"
)

const defaultOutboxSize = 256

// Outbox is a session's ordered, bounded event history. A single attached
// reader drains it with Since and waits on Notify.
type Outbox struct {
	mu        sync.Mutex
	sessionID string
	events    *list.List
	maxSize   int
	lastID    int64
	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewOutbox creates an outbox keeping at most maxSize events.
func NewOutbox(sessionID string, maxSize int) *Outbox {
	if maxSize <= 0 {
		maxSize = defaultOutboxSize
	}
	return &Outbox{
		sessionID: sessionID,
		events:    list.New(),
		maxSize:   maxSize,
		notify:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

// Append assigns the next ID to an event and stores it.
func (o *Outbox) Append(typ EventType, data any, now time.Time) Event {
	o.mu.Lock()
	o.lastID++
	e := Event{
		ID:        o.lastID,
		Type:      typ,
		SessionID: o.sessionID,
		Timestamp: now.UTC(),
		Data:      data,
	}
	o.events.PushBack(e)
	for o.events.Len() > o.maxSize {
		o.events.Remove(o.events.Front())
	}
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return e
}

// Since returns the retained events with an ID greater than afterID.
func (o *Outbox) Since(afterID int64) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Event
	for e := o.events.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Event)
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out
}

// OldestID returns the ID of the oldest retained event, or 0.
func (o *Outbox) OldestID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if front := o.events.Front(); front != nil {
		return front.Value.(Event).ID
	}
	return 0
}

// LastID returns the ID of the most recent event.
func (o *Outbox) LastID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastID
}

// Notify is signalled after every Append.
func (o *Outbox) Notify() <-chan struct{} {
	return o.notify
}

// Done is closed once the session has emitted its terminal event.
func (o *Outbox) Done() <-chan struct{} {
	return o.closed
}

func (o *Outbox) close() {
	o.closeOnce.Do(func() { close(o.closed) })
}
