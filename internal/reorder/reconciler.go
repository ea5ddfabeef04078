// Package reorder applies reorder intents optimistically and reconciles them
// with the backend. Every local reorder takes a fence from a monotonically
// increasing version; a remote outcome only counts when its fence is still
// the newest one.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aidoc/editor/internal/section"

	"github.com/golang/glog"
)

var (
	ErrIndexOutOfRange = errors.New("reorder index out of range")
	ErrClosed          = errors.New("reconciler closed")
)

type State string

const (
	Stable      State = "stable"
	Reordering  State = "reordering"
	RollingBack State = "rolling_back"
)

type Outcome string

const (
	// Confirmed: the backend accepted the newest order.
	Confirmed Outcome = "confirmed"
	// Superseded: a newer reorder was issued before this outcome arrived.
	Superseded Outcome = "superseded"
	// Reverted: the newest order was rejected and the authoritative order
	// was restored from a refetch.
	Reverted Outcome = "reverted"
	// RevertFailed: the newest order was rejected and the refetch failed
	// too. The optimistic order stays in place.
	RevertFailed Outcome = "revert_failed"
)

// Result reports how one fenced reorder settled.
type Result struct {
	Fence   uint64
	Outcome Outcome
	// Err is the persist error for Reverted and the last refetch error for
	// RevertFailed.
	Err error
	// Project is the refetched state for Reverted.
	Project *section.Project
}

type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 250 * time.Millisecond}
}

// Store is the part of the section store the reconciler drives.
type Store interface {
	IDs() []int64
	ReorderTo(ids []int64) error
	Replace(sections []section.Section) error
}

// Remote persists orders and serves the authoritative project.
type Remote interface {
	PersistOrder(ctx context.Context, projectID int64, orderedIDs []int64) error
	FetchProject(ctx context.Context, projectID int64) (section.Project, error)
}

type Reconciler struct {
	projectID int64
	store     Store
	remote    Remote
	retry     RetryPolicy
	notify    func(Result)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	version uint64
	state   State
	closed  bool
}

// New builds a reconciler for one project. notify, when set, is called once
// per settled fence from the goroutine that settled it.
func New(projectID int64, store Store, remote Remote, retry RetryPolicy, notify func(Result)) *Reconciler {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		projectID: projectID,
		store:     store,
		remote:    remote,
		retry:     retry,
		notify:    notify,
		ctx:       ctx,
		cancel:    cancel,
		state:     Stable,
	}
}

func (r *Reconciler) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reorder moves the section at src to dst, applies the new order locally and
// persists it in the background. dst is clamped into range. It returns the
// fence of the new order, or the current version when src == dst and
// nothing changed.
//
// onApplied, when set, is called only if the order changed. It runs after
// the store has the new order and before the persist starts, with the
// reconciler locked, so it must not call back into the reconciler.
func (r *Reconciler) Reorder(src, dst int, onApplied func(fence uint64)) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	ids := r.store.IDs()
	if src < 0 || src >= len(ids) {
		return 0, fmt.Errorf("%w: source %d of %d", ErrIndexOutOfRange, src, len(ids))
	}
	dst = clamp(dst, 0, len(ids)-1)
	if src == dst {
		return r.version, nil
	}

	next := Move(ids, src, dst)
	if err := r.store.ReorderTo(next); err != nil {
		return 0, err
	}
	r.version++
	fence := r.version
	r.state = Reordering
	glog.V(2).Infof("reorder: project %d fence %d moved %d -> %d", r.projectID, fence, src, dst)
	if onApplied != nil {
		onApplied(fence)
	}

	r.wg.Add(1)
	go r.persist(fence, next)
	return fence, nil
}

// Resync fetches the authoritative project and replaces the store with it,
// unless a reorder is unconfirmed or was issued while the fetch ran. The
// returned bool reports whether the store was replaced.
func (r *Reconciler) Resync(ctx context.Context) (section.Project, bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return section.Project{}, false, ErrClosed
	}
	started := r.version
	r.mu.Unlock()

	project, err := r.remote.FetchProject(ctx, r.projectID)
	if err != nil {
		return section.Project{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.version != started || r.state != Stable {
		glog.V(2).Infof("reorder: project %d resync skipped, order changed locally", r.projectID)
		return project, false, nil
	}
	if err := r.store.Replace(project.Sections); err != nil {
		return project, false, err
	}
	return project, true, nil
}

// Wait blocks until every background persist and refetch has settled.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Close abandons in-flight work and waits for it to stop. Outcomes that
// arrive after Close are discarded.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Reconciler) persist(fence uint64, ids []int64) {
	defer r.wg.Done()

	err := r.remote.PersistOrder(r.ctx, r.projectID, ids)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if fence != r.version {
		r.mu.Unlock()
		glog.V(2).Infof("reorder: project %d fence %d superseded by %d (err=%v)", r.projectID, fence, r.version, err)
		r.report(Result{Fence: fence, Outcome: Superseded, Err: err})
		return
	}
	if err == nil {
		r.state = Stable
		r.mu.Unlock()
		r.report(Result{Fence: fence, Outcome: Confirmed})
		return
	}
	r.state = RollingBack
	r.mu.Unlock()

	glog.Warningf("reorder: project %d fence %d rejected, restoring from backend: %v", r.projectID, fence, err)
	r.rollback(fence, err)
}

func (r *Reconciler) rollback(fence uint64, cause error) {
	project, fetchErr := r.refetch()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if fence != r.version {
		// A newer reorder owns the store and will settle it.
		r.mu.Unlock()
		r.report(Result{Fence: fence, Outcome: Superseded, Err: cause})
		return
	}
	r.state = Stable
	if fetchErr != nil {
		r.mu.Unlock()
		glog.Errorf("reorder: project %d fence %d could not be restored: %v", r.projectID, fence, fetchErr)
		r.report(Result{Fence: fence, Outcome: RevertFailed, Err: fetchErr})
		return
	}
	if err := r.store.Replace(project.Sections); err != nil {
		r.mu.Unlock()
		glog.Errorf("reorder: project %d fence %d refetched state rejected: %v", r.projectID, fence, err)
		r.report(Result{Fence: fence, Outcome: RevertFailed, Err: err})
		return
	}
	r.mu.Unlock()
	r.report(Result{Fence: fence, Outcome: Reverted, Err: cause, Project: &project})
}

func (r *Reconciler) refetch() (section.Project, error) {
	var lastErr error
	for attempt := 1; attempt <= r.retry.Attempts; attempt++ {
		project, err := r.remote.FetchProject(r.ctx, r.projectID)
		if err == nil {
			return project, nil
		}
		lastErr = err
		if attempt == r.retry.Attempts {
			break
		}
		glog.Warningf("reorder: project %d refetch attempt %d/%d failed: %v", r.projectID, attempt, r.retry.Attempts, err)
		select {
		case <-r.ctx.Done():
			return section.Project{}, r.ctx.Err()
		case <-time.After(r.retry.Backoff * time.Duration(attempt)):
		}
	}
	return section.Project{}, fmt.Errorf("refetch after %d attempts: %w", r.retry.Attempts, lastErr)
}

func (r *Reconciler) report(result Result) {
	if r.notify != nil {
		r.notify(result)
	}
}

// Move returns a copy of ids with the element at src reinserted at dst.
func Move(ids []int64, src, dst int) []int64 {
	out := make([]int64, 0, len(ids))
	moved := ids[src]
	for i, id := range ids {
		if i != src {
			out = append(out, id)
		}
	}
	out = append(out, 0)
	copy(out[dst+1:], out[dst:])
	out[dst] = moved
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
