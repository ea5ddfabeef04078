package app

import (
	"context"
	"sync"

	"aidoc/editor/internal/remote"
	"aidoc/editor/internal/section"
)

// fakeBackend stands in for the generation backend. Hooks override the
// default in-memory behaviour of a call.
type fakeBackend struct {
	mu       sync.Mutex
	projects map[int64]*section.Project
	nextID   int64
	fetches  int

	fetchErr   error
	generateFn func(ctx context.Context, sectionID int64) (section.Section, error)
	persistFn  func(ids []int64) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		projects: map[int64]*section.Project{
			1: {
				ID:      1,
				Title:   "Quarterly report",
				DocType: section.DocTypeDocx,
				Sections: []section.Section{
					{ID: 12, Title: "Outlook", SectionOrder: 2},
					{ID: 10, Title: "Summary", SectionOrder: 0, ContentText: section.String("Revenue grew.")},
					{ID: 11, Title: "Market", SectionOrder: 1},
				},
			},
		},
		nextID: 100,
	}
}

func (f *fakeBackend) project(id int64) (*section.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, &remote.TransportError{Op: "fetch project", Status: 404, Message: "Project not found"}
	}
	return p, nil
}

func (f *fakeBackend) FetchProject(_ context.Context, projectID int64) (section.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return section.Project{}, f.fetchErr
	}
	p, err := f.project(projectID)
	if err != nil {
		return section.Project{}, err
	}
	out := *p
	out.Sections = append([]section.Section(nil), p.Sections...)
	return out, nil
}

func (f *fakeBackend) CreateSection(_ context.Context, projectID int64, req remote.CreateRequest) (section.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.project(projectID)
	if err != nil {
		return section.Section{}, err
	}
	f.nextID++
	created := section.Section{ID: f.nextID, Title: req.Title, SectionOrder: req.SectionOrder}
	p.Sections = append(p.Sections, created)
	return created, nil
}

func (f *fakeBackend) DeleteSection(_ context.Context, projectID, sectionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.project(projectID)
	if err != nil {
		return err
	}
	for i, s := range p.Sections {
		if s.ID == sectionID {
			p.Sections = append(p.Sections[:i], p.Sections[i+1:]...)
			return nil
		}
	}
	return &remote.TransportError{Op: "delete section", Status: 404, Message: "Content not found"}
}

func (f *fakeBackend) mutate(projectID, sectionID int64, change func(*section.Section)) (section.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.project(projectID)
	if err != nil {
		return section.Section{}, err
	}
	for i := range p.Sections {
		if p.Sections[i].ID == sectionID {
			change(&p.Sections[i])
			return p.Sections[i], nil
		}
	}
	return section.Section{}, &remote.TransportError{Op: "update section", Status: 404, Message: "Content not found"}
}

func (f *fakeBackend) SetFeedback(_ context.Context, projectID, sectionID int64, feedback section.Feedback) (section.Section, error) {
	// the real backend only acknowledges feedback
	_, err := f.mutate(projectID, sectionID, func(s *section.Section) { s.Feedback = feedback })
	return section.Section{}, err
}

func (f *fakeBackend) SetNotes(_ context.Context, projectID, sectionID int64, notes string) (section.Section, error) {
	return f.mutate(projectID, sectionID, func(s *section.Section) { s.UserNotes = section.String(notes) })
}

func (f *fakeBackend) Generate(ctx context.Context, projectID, sectionID int64) (section.Section, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, sectionID)
	}
	return f.mutate(projectID, sectionID, func(s *section.Section) {
		s.ContentText = section.String("Generated text for " + s.Title + ".")
	})
}

func (f *fakeBackend) Refine(_ context.Context, sectionID int64, prompt string) (section.Section, error) {
	return f.mutate(1, sectionID, func(s *section.Section) {
		s.ContentText = section.String(s.Content() + " (" + prompt + ")")
	})
}

func (f *fakeBackend) PersistOrder(_ context.Context, projectID int64, ids []int64) error {
	if f.persistFn != nil {
		if err := f.persistFn(ids); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.project(projectID)
	if err != nil {
		return err
	}
	byID := make(map[int64]section.Section, len(p.Sections))
	for _, s := range p.Sections {
		byID[s.ID] = s
	}
	reordered := make([]section.Section, 0, len(ids))
	for i, id := range ids {
		s := byID[id]
		s.SectionOrder = i
		reordered = append(reordered, s)
	}
	p.Sections = reordered
	return nil
}
