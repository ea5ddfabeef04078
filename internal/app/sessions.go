package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"aidoc/editor/internal/drafts"
	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/remote"
	"aidoc/editor/internal/reorder"
	"aidoc/editor/internal/section"

	"github.com/golang/glog"
)

var errSessionsClosed = errors.New("sessions closed")

type SessionOptions struct {
	Remote    remote.Sync
	Drafts    drafts.Store
	Observers []editor.Observer
	Retry     reorder.RetryPolicy
}

// Sessions keeps one editor per open project. Editors are created and
// loaded on first use and live until CloseAll.
type Sessions struct {
	opts SessionOptions

	mu      sync.Mutex
	entries map[int64]*sessionEntry
	closed  bool
}

type sessionEntry struct {
	editor *editor.Editor
	once   sync.Once
	err    error
}

func NewSessions(opts SessionOptions) *Sessions {
	return &Sessions{opts: opts, entries: make(map[int64]*sessionEntry)}
}

// Open returns the loaded editor for a project. Concurrent callers share
// one load; a failed load is not cached.
func (s *Sessions) Open(ctx context.Context, projectID int64) (*editor.Editor, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errSessionsClosed
	}
	entry, ok := s.entries[projectID]
	if !ok {
		entry = &sessionEntry{editor: editor.New(projectID, s.opts.Remote, editor.Options{
			Drafts:    s.opts.Drafts,
			Observers: s.opts.Observers,
			Retry:     s.opts.Retry,
		})}
		s.entries[projectID] = entry
	}
	s.mu.Unlock()

	entry.once.Do(func() {
		// the load outlives the request that triggered it
		_, entry.err = entry.editor.Load(context.WithoutCancel(ctx))
	})
	if entry.err != nil {
		s.mu.Lock()
		if s.entries[projectID] == entry {
			delete(s.entries, projectID)
		}
		s.mu.Unlock()
		entry.editor.Close()
		return nil, entry.err
	}
	return entry.editor, nil
}

// Get returns an already open editor without loading anything.
func (s *Sessions) Get(projectID int64) (*editor.Editor, bool) {
	s.mu.Lock()
	entry, ok := s.entries[projectID]
	s.mu.Unlock()
	if !ok || !entry.editor.Loaded() {
		return nil, false
	}
	return entry.editor, true
}

// Sections returns the live sections of an open project.
func (s *Sessions) Sections(projectID int64) ([]section.Section, bool) {
	ed, ok := s.Get(projectID)
	if !ok {
		return nil, false
	}
	return ed.Snapshot().Sections, true
}

// ProjectIDs lists the open projects in ascending order.
func (s *Sessions) ProjectIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CloseAll waits for pending reorders to settle and closes every editor.
// Open fails afterwards.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	s.entries = make(map[int64]*sessionEntry)
	s.mu.Unlock()

	for id, entry := range entries {
		entry.editor.Wait()
		entry.editor.Close()
		glog.V(1).Infof("app: closed session for project %d", id)
	}
}
