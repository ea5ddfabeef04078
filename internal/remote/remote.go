// Package remote talks to the generation backend that owns the authoritative
// copy of every project.
package remote

import (
	"context"
	"errors"
	"fmt"

	"aidoc/editor/internal/section"
)

// Sync is the backend surface the editor depends on. Calls that change a
// section return the section as the backend now stores it. A returned
// section with a zero ID means the backend acknowledged the write without
// echoing the section back.
type Sync interface {
	FetchProject(ctx context.Context, projectID int64) (section.Project, error)
	CreateSection(ctx context.Context, projectID int64, req CreateRequest) (section.Section, error)
	DeleteSection(ctx context.Context, projectID, sectionID int64) error
	SetFeedback(ctx context.Context, projectID, sectionID int64, feedback section.Feedback) (section.Section, error)
	SetNotes(ctx context.Context, projectID, sectionID int64, notes string) (section.Section, error)
	Generate(ctx context.Context, projectID, sectionID int64) (section.Section, error)
	Refine(ctx context.Context, sectionID int64, prompt string) (section.Section, error)
	PersistOrder(ctx context.Context, projectID int64, orderedIDs []int64) error
}

type CreateRequest struct {
	SectionOrder int    `json:"section_order"`
	Title        string `json:"title"`
	ContentText  string `json:"content_text"`
}

// Credentials supplies the bearer token attached to each request. An empty
// token sends the request unauthenticated.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

var ErrTransport = errors.New("remote transport failure")

// TransportError covers network failures and non-2xx responses. Status is
// zero when no response was received.
type TransportError struct {
	Op      string
	Method  string
	Path    string
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: %s %s: status %d: %s", e.Op, e.Method, e.Path, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s %s: status %d", e.Op, e.Method, e.Path, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Method, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %s %s failed", e.Op, e.Method, e.Path)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Temporary reports whether retrying the same request may succeed.
func (e *TransportError) Temporary() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == 429
}
