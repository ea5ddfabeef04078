package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aidoc/editor/internal/remote"
	"aidoc/editor/internal/section"
	"aidoc/editor/internal/tracker"

	"github.com/golang/glog"
)

// Create adds a section at the end of the project. Nothing is inserted
// locally until the backend has created it. The project must be loaded so
// the new section's order is known.
func (e *Editor) Create(ctx context.Context, title string) (section.Section, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return section.Section{}, &ValidationError{Field: "title", Message: "title is required"}
	}
	if !e.Loaded() {
		return section.Section{}, ErrNotLoaded
	}

	created, err := e.remote.CreateSection(ctx, e.projectID, remote.CreateRequest{
		SectionOrder: e.store.Len(),
		Title:        title,
	})
	if err != nil {
		glog.Warningf("editor: project %d create section %q: %v", e.projectID, title, err)
		e.emit(Event{Kind: EventOperationFailed, Error: err.Error()})
		return section.Section{}, err
	}
	if created.ID == 0 {
		return section.Section{}, fmt.Errorf("create section: backend returned no section id")
	}

	inserted, err := e.store.InsertAppend(created)
	if err != nil {
		// A reload that finished while the create was in flight already
		// brought the new section in.
		if _, ok := e.store.Get(created.ID); !ok {
			return section.Section{}, err
		}
		e.store.Update(created.ID, section.PatchFrom(created))
		inserted, _ = e.store.Get(created.ID)
	}
	e.emit(Event{Kind: EventSectionCreated, SectionID: inserted.ID, Section: sectionRef(inserted)})
	return inserted, nil
}

// Delete removes a section after the backend confirms. Operations still in
// flight for it are not cancelled; their results are dropped on arrival.
func (e *Editor) Delete(ctx context.Context, id int64) error {
	if _, ok := e.store.Get(id); !ok {
		return notFound(id)
	}
	if err := e.remote.DeleteSection(ctx, e.projectID, id); err != nil {
		glog.Warningf("editor: project %d delete section %d: %v", e.projectID, id, err)
		e.emit(Event{Kind: EventOperationFailed, SectionID: id, Error: err.Error()})
		return err
	}

	e.store.Remove(id)
	e.tracker.Forget(id)
	e.mu.Lock()
	delete(e.prompts, id)
	e.mu.Unlock()

	e.draftMu.Lock()
	if err := e.drafts.Delete(ctx, e.projectID, id); err != nil {
		glog.Warningf("editor: drop draft of deleted section %d: %v", id, err)
	}
	e.draftMu.Unlock()

	e.emit(Event{Kind: EventSectionDeleted, SectionID: id})
	return nil
}

func (e *Editor) SetFeedback(ctx context.Context, id int64, feedback section.Feedback) (section.Section, error) {
	if _, ok := e.store.Get(id); !ok {
		return section.Section{}, notFound(id)
	}
	updated, err := e.remote.SetFeedback(ctx, e.projectID, id, feedback)
	if err != nil {
		glog.Warningf("editor: project %d feedback on section %d: %v", e.projectID, id, err)
		e.emit(Event{Kind: EventOperationFailed, SectionID: id, Error: err.Error()})
		return section.Section{}, err
	}
	e.store.Update(id, responsePatch(updated, section.Patch{Feedback: &feedback}))

	current, ok := e.store.Get(id)
	if !ok {
		return section.Section{}, notFound(id)
	}
	e.emit(Event{Kind: EventFeedbackChanged, SectionID: id, Section: sectionRef(current)})
	return current, nil
}

// Generate asks the backend to write the section's content.
func (e *Editor) Generate(ctx context.Context, id int64) (section.Section, error) {
	return e.runTracked(ctx, id, tracker.Generate, "", func(ctx context.Context) (section.Section, error) {
		return e.remote.Generate(ctx, e.projectID, id)
	}, section.Patch{})
}

// Refine asks the backend to rewrite the section's content following prompt.
// The stored refine prompt is cleared once the refinement succeeds.
func (e *Editor) Refine(ctx context.Context, id int64, prompt string) (section.Section, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return section.Section{}, &ValidationError{Field: "prompt", Message: "refinement prompt is required"}
	}
	updated, err := e.runTracked(ctx, id, tracker.Refine, prompt, func(ctx context.Context) (section.Section, error) {
		return e.remote.Refine(ctx, id, prompt)
	}, section.Patch{})
	if err != nil {
		return updated, err
	}
	e.mu.Lock()
	delete(e.prompts, id)
	e.mu.Unlock()
	return updated, nil
}

// SetRefinePrompt keeps the prompt being typed for a section.
func (e *Editor) SetRefinePrompt(id int64, prompt string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prompt == "" {
		delete(e.prompts, id)
		return
	}
	e.prompts[id] = prompt
}

func (e *Editor) RefinePrompt(id int64) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prompts[id]
}

// Reorder applies a (source, destination) reorder intent. It returns the
// fence of the new order.
func (e *Editor) Reorder(src, dst int) (uint64, error) {
	if !e.Loaded() {
		return 0, ErrNotLoaded
	}
	return e.reconciler.Reorder(src, dst, func(fence uint64) {
		e.emit(Event{Kind: EventReorderApplied, Fence: fence, Sections: e.store.List()})
	})
}

// runTracked claims the section's busy slot for the remote call and applies
// its result. fallback is applied when the backend acknowledges without
// returning the section.
func (e *Editor) runTracked(ctx context.Context, id int64, kind tracker.Kind, prompt string, call func(context.Context) (section.Section, error), fallback section.Patch) (section.Section, error) {
	if _, ok := e.store.Get(id); !ok {
		return section.Section{}, notFound(id)
	}
	token, err := e.tracker.Begin(id, kind)
	if err != nil {
		return section.Section{}, err
	}
	e.emit(Event{Kind: EventOperationStarted, SectionID: id, Operation: kind, Prompt: prompt})

	result, callErr := call(ctx)
	if callErr != nil {
		if _, err := e.tracker.Complete(token, tracker.Failure(callErr)); err != nil {
			glog.Errorf("editor: complete %s on section %d: %v", kind, id, err)
		}
		glog.Warningf("editor: project %d %s on section %d failed: %v", e.projectID, kind, id, callErr)
		e.emit(Event{Kind: EventOperationFailed, SectionID: id, Operation: kind, Prompt: prompt, Error: callErr.Error()})
		return section.Section{}, callErr
	}

	if _, err := e.tracker.Complete(token, tracker.Success(responsePatch(result, fallback))); err != nil {
		return section.Section{}, err
	}
	current, ok := e.store.Get(id)
	if !ok {
		glog.V(2).Infof("editor: %s result for deleted section %d dropped", kind, id)
		return section.Section{}, fmt.Errorf("%s finished after delete: %w", kind, notFound(id))
	}
	e.emit(Event{Kind: EventOperationSucceeded, SectionID: id, Operation: kind, Prompt: prompt, Section: sectionRef(current)})
	return current, nil
}

func responsePatch(resp section.Section, fallback section.Patch) section.Patch {
	if resp.ID == 0 {
		return fallback
	}
	return section.PatchFrom(resp)
}

// IsBusy reports whether err means the section already had an operation
// running.
func IsBusy(err error) bool {
	return errors.Is(err, tracker.ErrBusy)
}
