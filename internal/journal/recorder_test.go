package journal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"aidoc/editor/internal/editor"

	"github.com/stretchr/testify/assert"
)

type fakeAppender struct {
	mu     sync.Mutex
	events []editor.Event
	gate   chan struct{}
	fail   bool
}

func (f *fakeAppender) Append(_ context.Context, event editor.Event) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	if f.fail {
		return errors.New("db down")
	}
	return nil
}

func TestRecorderWritesInOrderAndDrainsOnClose(t *testing.T) {
	sink := &fakeAppender{}
	rec := NewRecorder(sink, 16)

	for i := 0; i < 10; i++ {
		rec.Observe(editor.Event{ID: string(rune('a' + i)), Kind: editor.EventOperationStarted})
	}
	rec.Close()
	rec.Close()

	assert.Len(t, sink.events, 10)
	assert.Equal(t, "a", sink.events[0].ID)
	assert.Equal(t, "j", sink.events[9].ID)

	rec.Observe(editor.Event{ID: "late"})
	assert.Len(t, sink.events, 10)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &fakeAppender{gate: make(chan struct{})}
	rec := NewRecorder(sink, 1)

	// one event held by the writer, one queued, the rest dropped
	for i := 0; i < 5; i++ {
		rec.Observe(editor.Event{Kind: editor.EventOperationStarted})
	}
	assert.GreaterOrEqual(t, rec.Dropped(), int64(3))

	close(sink.gate)
	rec.Close()
	assert.Equal(t, int64(5), rec.Dropped()+int64(len(sink.events)))
}

func TestRecorderKeepsGoingAfterSinkError(t *testing.T) {
	sink := &fakeAppender{fail: true}
	rec := NewRecorder(sink, 4)
	rec.Observe(editor.Event{ID: "1"})
	rec.Observe(editor.Event{ID: "2"})
	rec.Close()
	assert.Len(t, sink.events, 2)
}
