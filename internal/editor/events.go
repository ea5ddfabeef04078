package editor

import (
	"time"

	"aidoc/editor/internal/section"
	"aidoc/editor/internal/tracker"
	"aidoc/editor/internal/util"
)

type EventKind string

const (
	EventProjectLoaded      EventKind = "project.loaded"
	EventOperationStarted   EventKind = "operation.started"
	EventOperationSucceeded EventKind = "operation.succeeded"
	EventOperationFailed    EventKind = "operation.failed"
	EventSectionCreated     EventKind = "section.created"
	EventSectionDeleted     EventKind = "section.deleted"
	EventFeedbackChanged    EventKind = "section.feedback"
	EventReorderApplied     EventKind = "reorder.applied"
	EventReorderConfirmed   EventKind = "reorder.confirmed"
	EventReorderDiscarded   EventKind = "reorder.discarded"
	EventReorderReverted    EventKind = "reorder.reverted"
	EventReorderStuck       EventKind = "reorder.refetch_failed"
)

// Event describes something that happened to the project. Section carries
// the section as it stands after the event; Sections carries the whole
// collection for loads, reorders and reverts.
type Event struct {
	ID        string            `json:"id"`
	Kind      EventKind         `json:"kind"`
	ProjectID int64             `json:"projectId"`
	SectionID int64             `json:"sectionId,omitempty"`
	Operation tracker.Kind      `json:"operation,omitempty"`
	Fence     uint64            `json:"fence,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	Section   *section.Section  `json:"section,omitempty"`
	Sections  []section.Section `json:"sections,omitempty"`
	Error     string            `json:"error,omitempty"`
	At        time.Time         `json:"at"`
}

// ChangesContent reports whether the event carries a new version of a
// section's text.
func (e Event) ChangesContent() bool {
	switch e.Kind {
	case EventSectionCreated:
		return true
	case EventOperationSucceeded:
		return e.Operation == tracker.Generate || e.Operation == tracker.Refine
	default:
		return false
	}
}

// Observer receives every event of an editor. Observe is called on the
// goroutine that produced the event and must not block.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

func (e *Editor) emit(event Event) {
	event.ID = util.NewID("evt")
	event.ProjectID = e.projectID
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	for _, obs := range e.observers {
		obs.Observe(event)
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.eventSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscribeEvents returns a channel of events and a function that ends the
// subscription. Events are dropped when the buffer is full.
func (e *Editor) SubscribeEvents(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	e.subMu.Lock()
	if e.closed {
		e.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.eventSubs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if sub, ok := e.eventSubs[id]; ok {
			delete(e.eventSubs, id)
			close(sub)
		}
	}
}

func sectionRef(s section.Section) *section.Section {
	return &s
}
