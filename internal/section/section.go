// Package section holds the ordered section collection of a project and the
// types shared by everything that mutates it.
package section

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type DocType string

const (
	DocTypeDocx DocType = "docx"
	DocTypePptx DocType = "pptx"
)

// Valid reports whether t is a document type the backend understands.
func (t DocType) Valid() bool {
	return t == DocTypeDocx || t == DocTypePptx
}

// Feedback is the user's rating of a section. The zero value means no rating
// and travels as JSON null.
type Feedback string

const (
	FeedbackNone    Feedback = ""
	FeedbackLike    Feedback = "like"
	FeedbackDislike Feedback = "dislike"
)

func ParseFeedback(value string) (Feedback, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none", "null":
		return FeedbackNone, nil
	case "like":
		return FeedbackLike, nil
	case "dislike":
		return FeedbackDislike, nil
	default:
		return FeedbackNone, fmt.Errorf("unknown feedback %q", value)
	}
}

func (f Feedback) String() string {
	if f == FeedbackNone {
		return "none"
	}
	return string(f)
}

func (f Feedback) MarshalJSON() ([]byte, error) {
	if f == FeedbackNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(f))
}

func (f *Feedback) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = FeedbackNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode feedback: %w", err)
	}
	parsed, err := ParseFeedback(raw)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Section is one independently generated unit of a project: a document
// section for docx projects, a slide for pptx projects.
type Section struct {
	ID           int64    `json:"id"`
	ProjectID    int64    `json:"project_id,omitempty"`
	Title        string   `json:"title"`
	SectionOrder int      `json:"section_order"`
	ContentText  *string  `json:"content_text"`
	Feedback     Feedback `json:"feedback"`
	UserNotes    *string  `json:"user_notes"`
}

// Content returns the generated text, or "" when nothing has been generated.
func (s Section) Content() string {
	if s.ContentText == nil {
		return ""
	}
	return *s.ContentText
}

// Notes returns the committed user notes, or "" when there are none.
func (s Section) Notes() string {
	if s.UserNotes == nil {
		return ""
	}
	return *s.UserNotes
}

func (s Section) HasContent() bool {
	return strings.TrimSpace(s.Content()) != ""
}

func (s Section) clone() Section {
	out := s
	if s.ContentText != nil {
		out.ContentText = String(*s.ContentText)
	}
	if s.UserNotes != nil {
		out.UserNotes = String(*s.UserNotes)
	}
	return out
}

// Project is the authoritative state returned by a full fetch.
type Project struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	DocType  DocType   `json:"doc_type"`
	Sections []Section `json:"sections"`
}

// Patch lists the fields a remote response may change. Nil fields are left
// alone. Identity and order are never part of a patch.
type Patch struct {
	Title       *string
	ContentText *string
	Feedback    *Feedback
	UserNotes   *string
}

// PatchFrom builds the patch that applies a server-returned section verbatim.
// A null content_text or user_notes in the response keeps the local value:
// the backend never clears either field.
func PatchFrom(s Section) Patch {
	fb := s.Feedback
	return Patch{
		Title:       String(s.Title),
		ContentText: s.ContentText,
		Feedback:    &fb,
		UserNotes:   s.UserNotes,
	}
}

// Empty reports whether applying p would change nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.ContentText == nil && p.Feedback == nil && p.UserNotes == nil
}

func (p Patch) apply(s Section) Section {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.ContentText != nil {
		s.ContentText = String(*p.ContentText)
	}
	if p.Feedback != nil {
		s.Feedback = *p.Feedback
	}
	if p.UserNotes != nil {
		s.UserNotes = String(*p.UserNotes)
	}
	return s
}

// String returns a pointer to a copy of v.
func String(v string) *string {
	return &v
}
