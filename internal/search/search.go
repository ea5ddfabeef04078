// Package search finds sections of a project by title, generated text and
// notes.
package search

import (
	"fmt"

	"aidoc/editor/internal/section"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ProjectID    int64  `json:"projectId"`
	SectionID    int64  `json:"sectionId"`
	SectionOrder int    `json:"sectionOrder"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	ProjectID int64
	Text      string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push sections into a search index.
type Indexer interface {
	IndexSections(records []SectionRecord) error
	DeleteSection(projectID, sectionID int64) error
}

// SectionRecord is the data we index for a section.
type SectionRecord struct {
	ID           string `json:"id"`
	ProjectID    int64  `json:"projectId"`
	SectionID    int64  `json:"sectionId"`
	SectionOrder int    `json:"sectionOrder"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Notes        string `json:"notes"`
}

func recordID(projectID, sectionID int64) string {
	return fmt.Sprintf("%d_%d", projectID, sectionID)
}

func recordFor(projectID int64, s section.Section) SectionRecord {
	return SectionRecord{
		ID:           recordID(projectID, s.ID),
		ProjectID:    projectID,
		SectionID:    s.ID,
		SectionOrder: s.SectionOrder,
		Title:        s.Title,
		Content:      s.Content(),
		Notes:        s.Notes(),
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
