package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"aidoc/editor/internal/editor"

	"github.com/golang/glog"
)

type Appender interface {
	Append(ctx context.Context, event editor.Event) error
}

// Recorder is an editor observer that writes events through a bounded queue
// drained by a single goroutine. When the queue is full events are dropped
// and counted rather than blocking the editor.
type Recorder struct {
	sink    Appender
	timeout time.Duration

	mu      sync.RWMutex
	queue   chan editor.Event
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

func NewRecorder(sink Appender, size int) *Recorder {
	if size <= 0 {
		size = 256
	}
	r := &Recorder{
		sink:    sink,
		timeout: 5 * time.Second,
		queue:   make(chan editor.Event, size),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) Observe(event editor.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- event:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			glog.Warningf("journal: queue full, %d events dropped so far", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits until the queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Append(ctx, event); err != nil {
			glog.Errorf("journal: append %s for project %d: %v", event.Kind, event.ProjectID, err)
		}
		cancel()
	}
}
