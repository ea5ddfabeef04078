// Package editor keeps one project's section collection in step with the
// backend. It wires the section store, the per-section operation tracker and
// the order reconciler together and publishes what happens as events.
package editor

import (
	"context"
	"sync"

	"aidoc/editor/internal/drafts"
	"aidoc/editor/internal/remote"
	"aidoc/editor/internal/reorder"
	"aidoc/editor/internal/section"
	"aidoc/editor/internal/tracker"

	"github.com/golang/glog"
)

type Options struct {
	// Drafts holds unsaved notes. Defaults to an in-memory store.
	Drafts    drafts.Store
	Observers []Observer
	Retry     reorder.RetryPolicy
}

type Editor struct {
	projectID  int64
	remote     remote.Sync
	store      *section.Store
	tracker    *tracker.Tracker
	reconciler *reorder.Reconciler
	drafts     drafts.Store
	observers  []Observer

	mu      sync.RWMutex
	meta    section.Project
	loaded  bool
	prompts map[int64]string

	// draftMu makes the compare-then-delete after a notes save atomic with
	// respect to new edits.
	draftMu sync.Mutex

	subMu     sync.Mutex
	eventSubs map[int]chan Event
	nextSub   int
	closed    bool
}

func New(projectID int64, backend remote.Sync, opts Options) *Editor {
	if opts.Drafts == nil {
		opts.Drafts = drafts.NewMemory()
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = reorder.DefaultRetryPolicy()
	}
	store := section.NewStore()
	e := &Editor{
		projectID: projectID,
		remote:    backend,
		store:     store,
		tracker:   tracker.New(store),
		drafts:    opts.Drafts,
		observers: opts.Observers,
		meta:      section.Project{ID: projectID},
		prompts:   make(map[int64]string),
		eventSubs: make(map[int]chan Event),
	}
	e.reconciler = reorder.New(projectID, store, backend, opts.Retry, e.onReorderSettled)
	return e
}

func (e *Editor) ProjectID() int64 { return e.projectID }

// Load fetches the project and replaces the local collection with it. It is
// also the refresh operation; a refresh that races an unconfirmed reorder
// keeps the local order and reports false.
func (e *Editor) Load(ctx context.Context) (bool, error) {
	project, applied, err := e.reconciler.Resync(ctx)
	if err != nil {
		glog.Warningf("editor: load project %d: %v", e.projectID, err)
		return false, err
	}

	e.mu.Lock()
	e.meta = section.Project{ID: project.ID, Title: project.Title, DocType: project.DocType}
	if e.meta.ID == 0 {
		e.meta.ID = e.projectID
	}
	e.loaded = true
	e.mu.Unlock()

	if applied {
		sections := e.store.List()
		glog.Infof("editor: project %d loaded with %d sections", e.projectID, len(sections))
		e.emit(Event{Kind: EventProjectLoaded, Sections: sections})
	}
	return applied, nil
}

func (e *Editor) Refresh(ctx context.Context) (bool, error) {
	return e.Load(ctx)
}

func (e *Editor) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Project returns the project metadata with the current sections.
func (e *Editor) Project() section.Project {
	e.mu.RLock()
	project := e.meta
	e.mu.RUnlock()
	project.Sections = e.store.List()
	return project
}

func (e *Editor) Snapshot() section.Snapshot {
	return e.store.Snapshot()
}

func (e *Editor) Section(id int64) (section.Section, bool) {
	return e.store.Get(id)
}

// Subscribe delivers store snapshots, latest first.
func (e *Editor) Subscribe() *section.Subscription {
	return e.store.Subscribe()
}

func (e *Editor) Busy(id int64) (tracker.Kind, bool) {
	return e.tracker.Busy(id)
}

func (e *Editor) Active() []tracker.Token {
	return e.tracker.Active()
}

func (e *Editor) LastError(id int64) error {
	return e.tracker.LastError(id)
}

func (e *Editor) ReorderState() (reorder.State, uint64) {
	return e.reconciler.State(), e.reconciler.Version()
}

// Wait blocks until background reorder work has settled.
func (e *Editor) Wait() {
	e.reconciler.Wait()
}

// Close stops background work and ends every event subscription.
func (e *Editor) Close() {
	e.reconciler.Close()

	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.eventSubs {
		delete(e.eventSubs, id)
		close(ch)
	}
}

func (e *Editor) onReorderSettled(res reorder.Result) {
	event := Event{Fence: res.Fence}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	switch res.Outcome {
	case reorder.Confirmed:
		event.Kind = EventReorderConfirmed
	case reorder.Superseded:
		event.Kind = EventReorderDiscarded
	case reorder.Reverted:
		event.Kind = EventReorderReverted
		event.Sections = e.store.List()
		if res.Project != nil {
			e.mu.Lock()
			e.meta.Title = res.Project.Title
			e.meta.DocType = res.Project.DocType
			e.mu.Unlock()
		}
	case reorder.RevertFailed:
		event.Kind = EventReorderStuck
	default:
		return
	}
	e.emit(event)
}
