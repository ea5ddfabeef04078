package search

import (
	"sort"
	"strings"
	"unicode/utf8"

	"aidoc/editor/internal/section"
)

// SnapshotFunc returns the live sections of a project, or false when the
// project is not open.
type SnapshotFunc func(projectID int64) ([]section.Section, bool)

// Memory searches the sections currently held by open editors. It is the
// fallback when Meilisearch is not configured or unreachable.
type Memory struct {
	snapshot SnapshotFunc
}

func NewMemory(snapshot SnapshotFunc) *Memory {
	return &Memory{snapshot: snapshot}
}

func (m *Memory) Healthy() bool { return m.snapshot != nil }

func (m *Memory) Search(q Query) ([]Result, int, error) {
	if m.snapshot == nil {
		return nil, 0, nil
	}
	sections, ok := m.snapshot(q.ProjectID)
	if !ok {
		return nil, 0, nil
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	type scored struct {
		result Result
		rank   int
	}
	var hits []scored
	for _, s := range sections {
		rank, snippet := matchSection(s, needle)
		if rank == 0 {
			continue
		}
		hits = append(hits, scored{
			result: Result{
				ProjectID:    q.ProjectID,
				SectionID:    s.ID,
				SectionOrder: s.SectionOrder,
				Title:        s.Title,
				Snippet:      snippet,
			},
			rank: rank,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank > hits[j].rank
		}
		return hits[i].result.SectionOrder < hits[j].result.SectionOrder
	})

	total := len(hits)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + normalizeLimit(q.Limit)
	if end > total {
		end = total
	}
	results := make([]Result, 0, end-start)
	for _, h := range hits[start:end] {
		results = append(results, h.result)
	}
	return results, total, nil
}

// matchSection ranks a title hit above a content hit above a notes hit.
func matchSection(s section.Section, needle string) (int, string) {
	switch {
	case strings.Contains(strings.ToLower(s.Title), needle):
		return 3, snippet(s.Content(), needle)
	case strings.Contains(strings.ToLower(s.Content()), needle):
		return 2, snippet(s.Content(), needle)
	case strings.Contains(strings.ToLower(s.Notes()), needle):
		return 1, snippet(s.Notes(), needle)
	default:
		return 0, ""
	}
}

func snippet(text, needle string) string {
	const radius = 60
	lower := strings.ToLower(text)
	at := -1
	if len(lower) == len(text) {
		at = strings.Index(lower, needle)
	}
	if at < 0 {
		if len(text) > 2*radius {
			end := 2 * radius
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
			return strings.TrimSpace(text[:end]) + "…"
		}
		return strings.TrimSpace(text)
	}
	start := at - radius
	prefix := "…"
	if start <= 0 {
		start = 0
		prefix = ""
	}
	end := at + len(needle) + radius
	suffix := "…"
	if end >= len(text) {
		end = len(text)
		suffix = ""
	}
	// keep the cut on rune boundaries
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return prefix + strings.TrimSpace(text[start:end]) + suffix
}
