package app

import (
	"context"
	"net/http"
	"time"

	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/history"
	"aidoc/editor/internal/journal"
	"aidoc/editor/internal/reorder"
	"aidoc/editor/internal/search"
	"aidoc/editor/internal/section"
)

// Pinger is a dependency the readiness check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Journal interface {
	Pinger
	List(ctx context.Context, projectID int64, limit int) ([]journal.Entry, error)
	Refinements(ctx context.Context, projectID, sectionID int64, limit int) ([]journal.Refinement, error)
}

type Options struct {
	Sessions *Sessions
	Search   *search.Service
	History  *history.Service
	// Journal is nil when no database is configured.
	Journal Journal
	// Checks are probed by /api/ready, keyed by the name reported.
	Checks map[string]Pinger
}

type Service struct {
	sessions *Sessions
	search   *search.Service
	history  *history.Service
	journal  Journal
	checks   map[string]Pinger
}

func NewService(opts Options) *Service {
	checks := make(map[string]Pinger, len(opts.Checks)+1)
	for name, p := range opts.Checks {
		checks[name] = p
	}
	if opts.Journal != nil {
		checks["journal"] = opts.Journal
	}
	return &Service{
		sessions: opts.Sessions,
		search:   opts.Search,
		history:  opts.History,
		journal:  opts.Journal,
		checks:   checks,
	}
}

// SectionView is a section with the editor's per-section state.
type SectionView struct {
	section.Section
	Busy      string `json:"busy,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

type ReorderView struct {
	State   reorder.State `json:"state"`
	Version uint64        `json:"version"`
}

type ProjectView struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	DocType  section.DocType `json:"doc_type"`
	Revision uint64          `json:"revision"`
	Sections []SectionView   `json:"sections"`
	Reorder  ReorderView     `json:"reorder"`
}

func viewOf(ed *editor.Editor, snap section.Snapshot) ProjectView {
	meta := ed.Project()
	state, version := ed.ReorderState()
	view := ProjectView{
		ID:       meta.ID,
		Title:    meta.Title,
		DocType:  meta.DocType,
		Revision: snap.Revision,
		Sections: make([]SectionView, 0, len(snap.Sections)),
		Reorder:  ReorderView{State: state, Version: version},
	}
	for _, sec := range snap.Sections {
		view.Sections = append(view.Sections, sectionViewOf(ed, sec))
	}
	return view
}

func sectionViewOf(ed *editor.Editor, sec section.Section) SectionView {
	item := SectionView{Section: sec}
	if kind, busy := ed.Busy(sec.ID); busy {
		item.Busy = string(kind)
	}
	if err := ed.LastError(sec.ID); err != nil {
		item.LastError = err.Error()
	}
	return item
}

func (s *Service) Project(ctx context.Context, projectID int64) (ProjectView, error) {
	ed, err := s.sessions.Open(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	return viewOf(ed, ed.Snapshot()), nil
}

// Refresh refetches the project. applied is false when an unconfirmed
// reorder kept the local order.
func (s *Service) Refresh(ctx context.Context, projectID int64) (ProjectView, bool, error) {
	ed, err := s.sessions.Open(ctx, projectID)
	if err != nil {
		return ProjectView{}, false, err
	}
	applied, err := ed.Refresh(ctx)
	if err != nil {
		return ProjectView{}, false, err
	}
	return viewOf(ed, ed.Snapshot()), applied, nil
}

func (s *Service) Editor(ctx context.Context, projectID int64) (*editor.Editor, error) {
	return s.sessions.Open(ctx, projectID)
}

func (s *Service) Search(ctx context.Context, projectID int64, text string, limit int) (search.Response, error) {
	if _, err := s.sessions.Open(ctx, projectID); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{ProjectID: projectID, Text: text, Limit: limit}), nil
}

func (s *Service) History(projectID, sectionID int64, limit int) ([]history.Revision, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History is not configured", nil)
	}
	return s.history.Revisions(projectID, sectionID, limit)
}

func (s *Service) SectionAt(projectID, sectionID int64, hash string) (section.Section, error) {
	if s.history == nil {
		return section.Section{}, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History is not configured", nil)
	}
	return s.history.At(projectID, sectionID, hash)
}

func (s *Service) Events(ctx context.Context, projectID int64, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, domainError(http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "Event journal is not configured", nil)
	}
	return s.journal.List(ctx, projectID, limit)
}

func (s *Service) Refinements(ctx context.Context, projectID, sectionID int64, limit int) ([]journal.Refinement, error) {
	if s.journal == nil {
		return nil, domainError(http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", "Event journal is not configured", nil)
	}
	return s.journal.Refinements(ctx, projectID, sectionID, limit)
}

// Ready probes every configured dependency.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok := true
	checks := make(map[string]any, len(s.checks))
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			ok = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return ok, checks
}

// Close ends every session.
func (s *Service) Close() {
	s.sessions.CloseAll()
}
