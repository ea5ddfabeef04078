package editor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"aidoc/editor/internal/remote"
	"aidoc/editor/internal/section"
)

// fakeRemote is an in-memory backend. Any hook left nil falls back to the
// default behaviour against the stored project.
type fakeRemote struct {
	mu      sync.Mutex
	project section.Project
	nextID  int64
	calls   []string

	createFn   func(ctx context.Context, req remote.CreateRequest) (section.Section, error)
	deleteFn   func(ctx context.Context, id int64) error
	feedbackFn func(ctx context.Context, id int64, fb section.Feedback) (section.Section, error)
	notesFn    func(ctx context.Context, id int64, notes string) (section.Section, error)
	generateFn func(ctx context.Context, id int64) (section.Section, error)
	refineFn   func(ctx context.Context, id int64, prompt string) (section.Section, error)
	persistFn  func(ctx context.Context, ids []int64) error
	fetchFn    func(ctx context.Context) (section.Project, error)
}

func newFakeRemote(titles ...string) *fakeRemote {
	f := &fakeRemote{
		project: section.Project{ID: 7, Title: "Quarterly report", DocType: section.DocTypeDocx},
		nextID:  100,
	}
	// stored in reverse order to check that loads sort by section_order
	for i := len(titles) - 1; i >= 0; i-- {
		f.project.Sections = append(f.project.Sections, section.Section{
			ID:           int64(i + 1),
			ProjectID:    7,
			Title:        titles[i],
			SectionOrder: i,
		})
	}
	return f
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) find(id int64) (int, bool) {
	for i, s := range f.project.Sections {
		if s.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (f *fakeRemote) mutate(id int64, change func(*section.Section)) (section.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.find(id)
	if !ok {
		return section.Section{}, &remote.TransportError{Op: "fake", Status: 404, Message: "Content not found"}
	}
	change(&f.project.Sections[idx])
	return f.project.Sections[idx], nil
}

func (f *fakeRemote) FetchProject(ctx context.Context, _ int64) (section.Project, error) {
	f.record("fetch")
	if f.fetchFn != nil {
		return f.fetchFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.project
	out.Sections = append([]section.Section(nil), f.project.Sections...)
	return out, nil
}

func (f *fakeRemote) CreateSection(ctx context.Context, _ int64, req remote.CreateRequest) (section.Section, error) {
	f.record(fmt.Sprintf("create %q order=%d", req.Title, req.SectionOrder))
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	created := section.Section{ID: f.nextID, ProjectID: 7, Title: req.Title, SectionOrder: len(f.project.Sections), ContentText: section.String(req.ContentText)}
	f.project.Sections = append(f.project.Sections, created)
	return created, nil
}

func (f *fakeRemote) DeleteSection(ctx context.Context, _ int64, id int64) error {
	f.record(fmt.Sprintf("delete %d", id))
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx, ok := f.find(id); ok {
		f.project.Sections = append(f.project.Sections[:idx], f.project.Sections[idx+1:]...)
	}
	return nil
}

func (f *fakeRemote) SetFeedback(ctx context.Context, _ int64, id int64, fb section.Feedback) (section.Section, error) {
	f.record(fmt.Sprintf("feedback %d %s", id, fb))
	if f.feedbackFn != nil {
		return f.feedbackFn(ctx, id, fb)
	}
	return f.mutate(id, func(s *section.Section) { s.Feedback = fb })
}

func (f *fakeRemote) SetNotes(ctx context.Context, _ int64, id int64, notes string) (section.Section, error) {
	f.record(fmt.Sprintf("notes %d %q", id, notes))
	if f.notesFn != nil {
		return f.notesFn(ctx, id, notes)
	}
	return f.mutate(id, func(s *section.Section) { s.UserNotes = section.String(notes) })
}

func (f *fakeRemote) Generate(ctx context.Context, _ int64, id int64) (section.Section, error) {
	f.record(fmt.Sprintf("generate %d", id))
	if f.generateFn != nil {
		return f.generateFn(ctx, id)
	}
	return f.mutate(id, func(s *section.Section) { s.ContentText = section.String("generated " + s.Title) })
}

func (f *fakeRemote) Refine(ctx context.Context, id int64, prompt string) (section.Section, error) {
	f.record(fmt.Sprintf("refine %d %q", id, prompt))
	if f.refineFn != nil {
		return f.refineFn(ctx, id, prompt)
	}
	return f.mutate(id, func(s *section.Section) { s.ContentText = section.String(s.Content() + " (" + prompt + ")") })
}

func (f *fakeRemote) PersistOrder(ctx context.Context, _ int64, ids []int64) error {
	f.record(fmt.Sprintf("reorder %v", ids))
	if f.persistFn != nil {
		return f.persistFn(ctx, ids)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := make(map[int64]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	for i := range f.project.Sections {
		f.project.Sections[i].SectionOrder = pos[f.project.Sections[i].ID]
	}
	sort.SliceStable(f.project.Sections, func(i, j int) bool {
		return f.project.Sections[i].SectionOrder < f.project.Sections[j].SectionOrder
	})
	return nil
}
