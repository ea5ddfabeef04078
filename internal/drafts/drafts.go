// Package drafts keeps unsaved notes text per section so an edit survives a
// failed save, and with the Redis store, a restart of the editor host.
package drafts

import (
	"context"
	"fmt"
	"sync"
)

type Store interface {
	// Get returns the draft and whether one exists.
	Get(ctx context.Context, projectID, sectionID int64) (string, bool, error)
	Put(ctx context.Context, projectID, sectionID int64, text string) error
	// Delete removes the draft. Deleting a missing draft is not an error.
	Delete(ctx context.Context, projectID, sectionID int64) error
}

type key struct {
	project int64
	section int64
}

// Memory keeps drafts in process.
type Memory struct {
	mu     sync.RWMutex
	drafts map[key]string
}

func NewMemory() *Memory {
	return &Memory{drafts: make(map[key]string)}
}

func (m *Memory) Get(_ context.Context, projectID, sectionID int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.drafts[key{projectID, sectionID}]
	return text, ok, nil
}

func (m *Memory) Put(_ context.Context, projectID, sectionID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[key{projectID, sectionID}] = text
	return nil
}

func (m *Memory) Delete(_ context.Context, projectID, sectionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, key{projectID, sectionID})
	return nil
}

func draftKey(prefix string, projectID, sectionID int64) string {
	return fmt.Sprintf("%s%d:%d", prefix, projectID, sectionID)
}
