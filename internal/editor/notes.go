package editor

import (
	"context"

	"aidoc/editor/internal/section"
	"aidoc/editor/internal/tracker"

	"github.com/golang/glog"
)

// EditNotes replaces the section's notes draft. The committed notes are not
// touched until CommitNotes succeeds.
func (e *Editor) EditNotes(ctx context.Context, id int64, text string) error {
	if _, ok := e.store.Get(id); !ok {
		return notFound(id)
	}
	e.draftMu.Lock()
	defer e.draftMu.Unlock()
	return e.drafts.Put(ctx, e.projectID, id, text)
}

// NotesDraft returns the pending draft, or the committed notes when there is
// no draft. dirty reports whether a draft exists.
func (e *Editor) NotesDraft(ctx context.Context, id int64) (text string, dirty bool, err error) {
	current, ok := e.store.Get(id)
	if !ok {
		return "", false, notFound(id)
	}
	draft, ok, err := e.drafts.Get(ctx, e.projectID, id)
	if err != nil {
		return "", false, err
	}
	if ok {
		return draft, true, nil
	}
	return current.Notes(), false, nil
}

// DiscardNotes drops the draft without saving.
func (e *Editor) DiscardNotes(ctx context.Context, id int64) error {
	e.draftMu.Lock()
	defer e.draftMu.Unlock()
	return e.drafts.Delete(ctx, e.projectID, id)
}

// CommitNotes saves the current draft as the section's notes. On success the
// draft is dropped unless it was edited again while the save was in flight.
// On failure the draft is kept.
func (e *Editor) CommitNotes(ctx context.Context, id int64) (section.Section, error) {
	text, _, err := e.NotesDraft(ctx, id)
	if err != nil {
		return section.Section{}, err
	}

	updated, err := e.runTracked(ctx, id, tracker.NotesSave, "", func(ctx context.Context) (section.Section, error) {
		return e.remote.SetNotes(ctx, e.projectID, id, text)
	}, section.Patch{UserNotes: section.String(text)})
	if err != nil {
		return updated, err
	}

	e.draftMu.Lock()
	defer e.draftMu.Unlock()
	current, ok, err := e.drafts.Get(ctx, e.projectID, id)
	if err != nil {
		glog.Warningf("editor: read draft after notes save on section %d: %v", id, err)
		return updated, nil
	}
	if ok && current == text {
		if err := e.drafts.Delete(ctx, e.projectID, id); err != nil {
			glog.Warningf("editor: drop saved draft of section %d: %v", id, err)
		}
	}
	return updated, nil
}
