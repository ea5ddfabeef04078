// Package tracker guards sections against overlapping remote operations.
// A section runs at most one generate, refine or notes save at a time;
// different sections are independent.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"aidoc/editor/internal/section"
	"aidoc/editor/internal/util"
)

type Kind string

const (
	Generate  Kind = "generate"
	Refine    Kind = "refine"
	NotesSave Kind = "notesSave"
)

var (
	ErrBusy         = errors.New("section busy")
	ErrUnknownToken = errors.New("unknown operation token")
)

// BusyError is returned by Begin when the section already has an operation
// in flight.
type BusyError struct {
	SectionID int64
	Requested Kind
	Active    Kind
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("section %d busy with %s, cannot start %s", e.SectionID, e.Active, e.Requested)
}

func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// Token identifies one begun operation. It must be handed back to Complete.
type Token struct {
	ID        string
	SectionID int64
	Kind      Kind
	StartedAt time.Time
}

// Outcome is the result of the remote call behind a token.
type Outcome struct {
	Patch section.Patch
	Err   error
}

func Success(patch section.Patch) Outcome { return Outcome{Patch: patch} }

func Failure(err error) Outcome {
	if err == nil {
		err = errors.New("operation failed")
	}
	return Outcome{Err: err}
}

// Updater is the part of the section store the tracker writes through.
type Updater interface {
	Update(id int64, patch section.Patch) bool
}

type Tracker struct {
	store Updater

	mu      sync.Mutex
	active  map[int64]Token
	lastErr map[int64]error
}

func New(store Updater) *Tracker {
	return &Tracker{
		store:   store,
		active:  make(map[int64]Token),
		lastErr: make(map[int64]error),
	}
}

// Begin claims the section's busy slot. When the slot is taken it returns a
// *BusyError and the caller must not issue the remote call.
func (t *Tracker) Begin(sectionID int64, kind Kind) (Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.active[sectionID]; ok {
		return Token{}, &BusyError{SectionID: sectionID, Requested: kind, Active: current.Kind}
	}
	token := Token{
		ID:        util.NewID("op"),
		SectionID: sectionID,
		Kind:      kind,
		StartedAt: time.Now(),
	}
	t.active[sectionID] = token
	return token, nil
}

// Complete frees the busy slot. A successful outcome is applied to the store
// (a no-op when the section has since been deleted); a failed one leaves the
// store alone and is kept for LastError. The returned bool reports whether
// the store changed.
func (t *Tracker) Complete(token Token, outcome Outcome) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.active[token.SectionID]
	if !ok || current.ID != token.ID {
		return false, fmt.Errorf("%w: %s", ErrUnknownToken, token.ID)
	}
	delete(t.active, token.SectionID)

	if outcome.Err != nil {
		t.lastErr[token.SectionID] = outcome.Err
		return false, nil
	}
	delete(t.lastErr, token.SectionID)
	return t.store.Update(token.SectionID, outcome.Patch), nil
}

// Busy reports the kind of operation running on the section, if any.
func (t *Tracker) Busy(sectionID int64) (Kind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	token, ok := t.active[sectionID]
	return token.Kind, ok
}

// Active lists every in-flight operation ordered by section id.
func (t *Tracker) Active() []Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Token, 0, len(t.active))
	for _, token := range t.active {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionID < out[j].SectionID })
	return out
}

// LastError returns the error of the most recent failed operation on the
// section, cleared by the next success.
func (t *Tracker) LastError(sectionID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr[sectionID]
}

// Forget drops the recorded error of a deleted section.
func (t *Tracker) Forget(sectionID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastErr, sectionID)
}
