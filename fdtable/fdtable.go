// File: fdtable/fdtable.go
// Author: momentics <momentics@gmail.com>
//
// Package fdtable implements the process-wide descriptor registry (spec
// §4.1, C1): a unified fd table plus a level-triggered epoll abstraction
// layered on top of it. Descriptors here are virtual — they address
// guest-visible host objects (chat sessions, rtasr streams, mic capture,
// epoll sets themselves), not OS sockets, so readiness is computed from
// each entry's own Pollable state rather than from a kernel poller.
//
// Lock order is mandatory and matches spec §4.1: (1) table lock, taken
// only long enough to look up/insert an entry, then released; (2) the
// epoll watch-set lock; (3) the per-entry inner lock. Reversing this
// order is a bug.
package fdtable

import (
	"sync"
	"sync/atomic"

	"github.com/lfedgeai/spearlet-core/api"
)

// Pollable is implemented by anything an fd's Inner can hold. It reports
// its own readiness bits; mutations that may add bits MUST call the
// supplied notify callback exactly as described in spec §4.1.
type Pollable interface {
	// PollMask returns the readiness bits currently satisfied.
	PollMask() api.PollMask
	// Close releases the underlying resource. Idempotent.
	Close() error
}

// Notifier is set on a Pollable so it can wake every epfd watching its fd
// when a transition may have added readiness bits.
type Notifier interface {
	NotifyReady()
}

// FdEntry is one row of the fd table.
type FdEntry struct {
	mu       sync.Mutex
	fd       int32
	kind     api.FdKind
	flags    api.FdFlags
	inner    Pollable
	watchers map[int32]struct{} // epfd set, deduplicated (I2)
	closed   bool
}

// Fd returns the entry's descriptor number.
func (e *FdEntry) Fd() int32 { return e.fd }

// Kind returns the entry's FdKind.
func (e *FdEntry) Kind() api.FdKind { return e.kind }

// Inner returns the underlying Pollable, for type-asserting callers
// (hostcall handlers) that need the concrete session/stream state.
func (e *FdEntry) Inner() Pollable {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inner
}

// Closed reports whether close(fd) has already run (I3).
func (e *FdEntry) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// PollMask computes the entry's current readiness, folding in HUP once
// closed per invariant I3.
func (e *FdEntry) PollMask() api.PollMask {
	e.mu.Lock()
	inner, closed := e.inner, e.closed
	e.mu.Unlock()
	var mask api.PollMask
	if inner != nil {
		mask = inner.PollMask()
	}
	if closed {
		mask |= api.PollHup
	}
	return mask
}

// Flags returns the current fd flags (O_NONBLOCK, FD_CLOEXEC).
func (e *FdEntry) Flags() api.FdFlags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags
}

// SetFlags atomically replaces the fd flags.
func (e *FdEntry) SetFlags(f api.FdFlags) {
	e.mu.Lock()
	e.flags = f
	e.mu.Unlock()
}

// Table is the process-wide fd registry. One Table is normally shared by
// an entire wasm instance (or the whole spearlet process for non-wasm
// hostcall use), per spec §5.
type Table struct {
	mu      sync.Mutex
	entries map[int32]*FdEntry
	next    int32

	epollsMu sync.Mutex
	epolls   map[int32]*epollState
}

// New creates an empty fd table.
func New() *Table {
	return &Table{
		entries: make(map[int32]*FdEntry),
		epolls:  make(map[int32]*epollState),
		next:    1,
	}
}

// Alloc allocates a new, monotonically increasing fd bound to inner.
// Returns api.ErrResourceExhausted if the int32 allocator space is spent.
func (t *Table) Alloc(kind api.FdKind, flags api.FdFlags, inner Pollable) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.next <= 0 {
		return 0, api.ErrResourceExhausted
	}
	fd := t.next
	t.next++
	t.entries[fd] = &FdEntry{
		fd:       fd,
		kind:     kind,
		flags:    flags,
		inner:    inner,
		watchers: make(map[int32]struct{}),
	}
	return fd, nil
}

// Get returns the live entry for fd, or (-EBADF) style error if absent.
func (t *Table) Get(fd int32) (*FdEntry, error) {
	t.mu.Lock()
	e, ok := t.entries[fd]
	t.mu.Unlock()
	if !ok {
		return nil, errBadF
	}
	return e, nil
}

// Close marks fd closed, idempotently, and notifies every watcher epfd
// so in-flight ep_wait calls unblock with HUP in their event set.
func (t *Table) Close(fd int32) error {
	t.mu.Lock()
	e, ok := t.entries[fd]
	t.mu.Unlock()
	if !ok {
		return errBadF
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	inner := e.inner
	watchers := make([]int32, 0, len(e.watchers))
	for epfd := range e.watchers {
		watchers = append(watchers, epfd)
	}
	e.mu.Unlock()

	if inner != nil {
		_ = inner.Close()
	}
	for _, epfd := range watchers {
		t.notifyEpoll(epfd)
	}
	return nil
}

// RegisterWatcher adds epfd to fd's watcher set (deduplicated, I2).
func (t *Table) RegisterWatcher(fd, epfd int32) error {
	e, err := t.Get(fd)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.watchers[epfd] = struct{}{}
	e.mu.Unlock()
	return nil
}

// UnregisterWatcher removes epfd from fd's watcher set.
func (t *Table) UnregisterWatcher(fd, epfd int32) error {
	e, err := t.Get(fd)
	if err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.watchers, epfd)
	e.mu.Unlock()
	return nil
}

// errBadF is returned by table lookups; hostcall wraps it into -EBADF.
var errBadF = api.NewError(api.KindPermanent, "EBADF", "invalid or unknown file descriptor")

// notifyReadyFor is called by Pollable implementations (through the
// NotifierFunc adapter below) whenever a transition may have added
// readiness bits, per the spec §4.1 readiness contract.
func (t *Table) notifyReadyFor(fd int32) {
	e, err := t.Get(fd)
	if err != nil {
		return
	}
	e.mu.Lock()
	watchers := make([]int32, 0, len(e.watchers))
	for epfd := range e.watchers {
		watchers = append(watchers, epfd)
	}
	e.mu.Unlock()
	for _, epfd := range watchers {
		t.notifyEpoll(epfd)
	}
}

// NotifierFunc adapts notifyReadyFor into a closure a Pollable can hold
// without importing fdtable's internal epoll machinery.
func (t *Table) NotifierFunc(fd int32) func() {
	return func() { t.notifyReadyFor(fd) }
}

// Keeps the sync/atomic import referenced; no counter is kept here and
// Close tracks idempotency with FdEntry.closed alone.
var _ = atomic.Int32{}
