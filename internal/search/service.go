package search

import (
	"sync"

	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/section"

	"github.com/golang/glog"
)

// Backend is a search engine that also accepts index updates.
type Backend interface {
	Searcher
	Indexer
}

// indexOp is one queued write. Ops run in the order they were queued.
type indexOp struct {
	projectID int64
	records   []SectionRecord
	deletes   []int64
}

// Service is the facade that tries the index first and falls back to the
// open editors' snapshots.
type Service struct {
	index    Backend
	fallback Searcher

	mu      sync.Mutex
	queue   []indexOp
	wake    chan struct{}
	pending sync.WaitGroup
	closed  bool
	done    chan struct{}
	// indexed and removed are per project. Section ids are never reused, so
	// a removed id is never indexed again.
	indexed map[int64]map[int64]struct{}
	removed map[int64]map[int64]struct{}
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Backend, fallback Searcher) *Service {
	s := &Service{
		index:    index,
		fallback: fallback,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		indexed:  make(map[int64]map[int64]struct{}),
		removed:  make(map[int64]map[int64]struct{}),
	}
	if index == nil {
		close(s.done)
		return s
	}
	go s.run()
	return s
}

// Search tries the index if healthy, otherwise falls back to memory.
func (s *Service) Search(q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		glog.Warningf("search: index error, falling back to memory: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		glog.Errorf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Observe keeps the index in step with editor events. Writes are queued and
// applied in event order by one goroutine.
func (s *Service) Observe(event editor.Event) {
	if s.index == nil {
		return
	}
	switch event.Kind {
	case editor.EventProjectLoaded, editor.EventReorderReverted:
		s.replaceProject(event.ProjectID, event.Sections)
	case editor.EventReorderApplied:
		s.indexSections(event.ProjectID, event.Sections)
	case editor.EventSectionCreated, editor.EventOperationSucceeded, editor.EventFeedbackChanged:
		if event.Section != nil {
			s.indexSections(event.ProjectID, []section.Section{*event.Section})
		}
	case editor.EventSectionDeleted:
		s.deleteSections(event.ProjectID, []int64{event.SectionID})
	}
}

// replaceProject indexes an authoritative snapshot and deletes the indexed
// sections it no longer contains.
func (s *Service) replaceProject(projectID int64, sections []section.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[int64]struct{}, len(sections))
	for _, sec := range sections {
		current[sec.ID] = struct{}{}
	}
	var stale []int64
	for id := range s.indexed[projectID] {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.forgetLocked(projectID, stale)
	s.enqueueLocked(indexOp{projectID: projectID, records: s.recordsLocked(projectID, sections), deletes: stale})
}

func (s *Service) indexSections(projectID int64, sections []section.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(indexOp{projectID: projectID, records: s.recordsLocked(projectID, sections)})
}

func (s *Service) deleteSections(projectID int64, ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetLocked(projectID, ids)
	s.enqueueLocked(indexOp{projectID: projectID, deletes: ids})
}

// recordsLocked builds records for sections that were not removed and marks
// them indexed.
func (s *Service) recordsLocked(projectID int64, sections []section.Section) []SectionRecord {
	indexed := s.indexed[projectID]
	if indexed == nil {
		indexed = make(map[int64]struct{})
		s.indexed[projectID] = indexed
	}
	records := make([]SectionRecord, 0, len(sections))
	for _, sec := range sections {
		if _, gone := s.removed[projectID][sec.ID]; gone {
			continue
		}
		indexed[sec.ID] = struct{}{}
		records = append(records, recordFor(projectID, sec))
	}
	return records
}

func (s *Service) forgetLocked(projectID int64, ids []int64) {
	if len(ids) == 0 {
		return
	}
	removed := s.removed[projectID]
	if removed == nil {
		removed = make(map[int64]struct{})
		s.removed[projectID] = removed
	}
	for _, id := range ids {
		delete(s.indexed[projectID], id)
		removed[id] = struct{}{}
	}
}

func (s *Service) enqueueLocked(op indexOp) {
	if s.closed || (len(op.records) == 0 && len(op.deletes) == 0) {
		return
	}
	s.pending.Add(1)
	s.queue = append(s.queue, op)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	defer close(s.done)
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			op := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.apply(op)
			s.pending.Done()
		}
	}
}

func (s *Service) apply(op indexOp) {
	if !s.index.Healthy() {
		glog.V(1).Infof("search: index unhealthy, skipped update of project %d", op.projectID)
		return
	}
	for _, id := range op.deletes {
		if err := s.index.DeleteSection(op.projectID, id); err != nil {
			glog.Warningf("search: delete section %d of project %d: %v", id, op.projectID, err)
		}
	}
	if len(op.records) > 0 {
		if err := s.index.IndexSections(op.records); err != nil {
			glog.Warningf("search: index %d sections of project %d: %v", len(op.records), op.projectID, err)
		}
	}
}

// Wait blocks until every queued index write has been applied.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Close applies the queued writes and stops the writer. Later events are
// ignored.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.pending.Wait()
	if s.index != nil {
		close(s.wake)
	}
	<-s.done
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
