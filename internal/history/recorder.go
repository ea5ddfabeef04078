package history

import (
	"fmt"
	"sync"

	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/tracker"

	"github.com/golang/glog"
)

// Recorder commits section changes reported by editors. Commits run on one
// background goroutine so they never hold up the editor and stay in event
// order.
type Recorder struct {
	svc *Service

	mu     sync.Mutex
	queue  chan editor.Event
	closed bool
	done   chan struct{}
}

func NewRecorder(svc *Service, size int) *Recorder {
	if size <= 0 {
		size = 128
	}
	r := &Recorder{
		svc:   svc,
		queue: make(chan editor.Event, size),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) Observe(event editor.Event) {
	if !recordable(event) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- event:
	default:
		glog.Warningf("history: queue full, %s for section %d of project %d not recorded", event.Kind, event.SectionID, event.ProjectID)
	}
}

// Close waits for queued commits to finish.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		if err := r.apply(event); err != nil {
			glog.Errorf("history: project %d section %d: %v", event.ProjectID, event.SectionID, err)
		}
	}
}

func (r *Recorder) apply(event editor.Event) error {
	if event.Kind == editor.EventSectionDeleted {
		return r.svc.Forget(event.ProjectID, event.SectionID, fmt.Sprintf("Delete section %d", event.SectionID))
	}
	_, _, err := r.svc.Record(event.ProjectID, *event.Section, commitMessage(event))
	return err
}

func recordable(event editor.Event) bool {
	switch event.Kind {
	case editor.EventSectionDeleted:
		return true
	case editor.EventFeedbackChanged:
		return event.Section != nil
	}
	if event.Section == nil {
		return false
	}
	return event.ChangesContent() || (event.Kind == editor.EventOperationSucceeded && event.Operation == tracker.NotesSave)
}

func commitMessage(event editor.Event) string {
	title := event.Section.Title
	switch event.Kind {
	case editor.EventSectionCreated:
		return fmt.Sprintf("Create %q", title)
	case editor.EventFeedbackChanged:
		return fmt.Sprintf("Rate %q %s", title, event.Section.Feedback)
	}
	switch event.Operation {
	case tracker.Generate:
		return fmt.Sprintf("Generate %q", title)
	case tracker.Refine:
		return fmt.Sprintf("Refine %q\n\nprompt: %s", title, event.Prompt)
	case tracker.NotesSave:
		return fmt.Sprintf("Save notes on %q", title)
	default:
		return fmt.Sprintf("Update %q", title)
	}
}
