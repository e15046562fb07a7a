// File: fdtable/epoll.go
// Author: momentics <momentics@gmail.com>
//
// Level-triggered epoll over virtual fds (spec §4.1). ep_wait is a
// software construct: a condition variable woken by notifyEpoll whenever
// a watched fd's readiness may have changed, re-scanning the interest set
// on every wakeup (tolerating spurious wakeups per spec).
package fdtable

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/lfedgeai/spearlet-core/api"
)

// epollState is one ep_create'd set: an interest list of (fd, mask) plus
// a condvar used to unblock ep_wait callers.
type epollState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	interest map[int32]api.PollMask
	closed   bool
	gen      uint64 // bumped by ep_ctl and notify; EpWait re-scans on every wakeup and does not read it
}

// EpCreate allocates a new epoll set and returns its fd.
func (t *Table) EpCreate() (int32, error) {
	es := &epollState{interest: make(map[int32]api.PollMask)}
	es.cond = sync.NewCond(&es.mu)

	fd, err := t.Alloc(api.FdEpoll, 0, &epollPollable{})
	if err != nil {
		return 0, err
	}

	t.epollsMu.Lock()
	t.epolls[fd] = es
	t.epollsMu.Unlock()
	return fd, nil
}

// epollPollable satisfies Pollable for the epfd's own fd-table row; an
// epoll set is never itself readable/writable, only waitable.
type epollPollable struct{}

func (epollPollable) PollMask() api.PollMask { return 0 }
func (epollPollable) Close() error           { return nil }

// EpCtl adds, modifies, or removes fd from epfd's interest set per op,
// per spec §4.1's ep_ctl contract. Taking the epoll lock only after the
// table lookups in RegisterWatcher/UnregisterWatcher have completed
// preserves the mandated lock order (table → watch-set → entry-inner).
func (t *Table) EpCtl(epfd int32, op api.EpollOp, fd int32, mask api.PollMask) error {
	t.epollsMu.Lock()
	es, ok := t.epolls[epfd]
	t.epollsMu.Unlock()
	if !ok {
		return errBadF
	}

	switch op {
	case api.EpollAdd:
		if _, err := t.Get(fd); err != nil {
			return err
		}
		if err := t.RegisterWatcher(fd, epfd); err != nil {
			return err
		}
		es.mu.Lock()
		if _, exists := es.interest[fd]; exists {
			es.mu.Unlock()
			return api.NewError(api.KindPermanent, "EINVAL", "fd already registered on epoll set")
		}
		es.interest[fd] = mask
		es.gen++
		es.cond.Broadcast()
		es.mu.Unlock()

	case api.EpollMod:
		es.mu.Lock()
		if _, exists := es.interest[fd]; !exists {
			es.mu.Unlock()
			return api.NewError(api.KindPermanent, "EINVAL", "fd not registered on epoll set")
		}
		es.interest[fd] = mask
		es.gen++
		es.cond.Broadcast()
		es.mu.Unlock()

	case api.EpollDel:
		es.mu.Lock()
		delete(es.interest, fd)
		es.gen++
		es.cond.Broadcast()
		es.mu.Unlock()
		_ = t.UnregisterWatcher(fd, epfd)

	default:
		return api.NewError(api.KindPermanent, "EINVAL", "unknown epoll op")
	}
	return nil
}

// ReadyEvent is one (fd, events) pair surfaced by EpWait.
type ReadyEvent struct {
	Fd     int32
	Events api.PollMask
}

// EpWait blocks until at least one interest-set fd is ready, epfd is
// closed, or timeoutMs elapses (negative means wait forever). maxEvents
// bounds how many ReadyEvents are returned; if more fds are ready than
// fit, EpWait reports only the first maxEvents in ascending fd order
// (I2: deduplicated, sorted, OR-merged) — it never drops events silently
// across calls, since level-triggering means unreported fds stay ready.
//
// maxEvents == 0 returns -ENOSPC immediately, matching the boundary case
// named in spec §8.
func (t *Table) EpWait(epfd int32, maxEvents int, timeoutMs int64) ([]ReadyEvent, error) {
	if maxEvents == 0 {
		return nil, api.NewError(api.KindPermanent, "ENOSPC", "zero-capacity event buffer")
	}

	t.epollsMu.Lock()
	es, ok := t.epolls[epfd]
	t.epollsMu.Unlock()
	if !ok {
		return nil, errBadF
	}

	deadline := time.Time{}
	hasDeadline := timeoutMs >= 0
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	for {
		es.mu.Lock()
		if es.closed {
			es.mu.Unlock()
			return nil, api.NewError(api.KindTransient, "EINTR", "epoll set closed while waiting")
		}

		ready := t.scanReady(es)
		if len(ready) > 0 {
			es.mu.Unlock()
			if len(ready) > maxEvents {
				ready = ready[:maxEvents]
			}
			return ready, nil
		}

		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				es.mu.Unlock()
				return nil, api.NewError(api.KindTransient, "ETIMEDOUT", "ep_wait timed out")
			}
			waitDone := make(chan struct{})
			go func() {
				select {
				case <-time.After(remaining):
					es.mu.Lock()
					es.cond.Broadcast()
					es.mu.Unlock()
				case <-waitDone:
				}
			}()
			es.cond.Wait()
			close(waitDone)
		} else {
			es.cond.Wait()
		}
		es.mu.Unlock()
	}
}

// scanReady recomputes readiness for every interest-set fd, intersecting
// each fd's live PollMask with the registered interest mask. Caller must
// hold es.mu.
func (t *Table) scanReady(es *epollState) []ReadyEvent {
	fds := make([]int32, 0, len(es.interest))
	for fd := range es.interest {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })

	var out []ReadyEvent
	for _, fd := range fds {
		interest := es.interest[fd]
		entry, err := t.Get(fd)
		if err != nil {
			// fd vanished without an EpollDel; report HUP. The fd stays in
			// the interest set until EpollDel removes it.
			out = append(out, ReadyEvent{Fd: fd, Events: api.PollHup})
			continue
		}
		live := entry.PollMask()
		merged := live & interest
		if live&api.PollHup != 0 {
			merged |= api.PollHup
		}
		if merged != 0 {
			out = append(out, ReadyEvent{Fd: fd, Events: merged})
		}
	}
	return out
}

// EpClose tears down an epoll set, waking every blocked EpWait caller
// with -EINTR (spec §8 scenario: ep_wait unblocks when its own epfd is
// closed, not merely when a watched fd is closed).
func (t *Table) EpClose(epfd int32) error {
	t.epollsMu.Lock()
	es, ok := t.epolls[epfd]
	if ok {
		delete(t.epolls, epfd)
	}
	t.epollsMu.Unlock()
	if !ok {
		return errBadF
	}

	es.mu.Lock()
	es.closed = true
	es.cond.Broadcast()
	es.mu.Unlock()

	return t.Close(epfd)
}

// notifyEpoll wakes any ep_wait blocked on epfd. Called by Table.Close
// and Table.notifyReadyFor under no entry locks, preserving the mandated
// lock order (table/entry locks are released before this runs).
func (t *Table) notifyEpoll(epfd int32) {
	t.epollsMu.Lock()
	es, ok := t.epolls[epfd]
	t.epollsMu.Unlock()
	if !ok {
		return
	}
	es.mu.Lock()
	es.gen++
	es.cond.Broadcast()
	es.mu.Unlock()
}

// EncodeEvents packs ready events into the 8-byte little-endian record
// format the wasm ABI reads directly out of guest linear memory: each
// record is {fd int32, events int32}. Returns the encoded bytes only; the
// record count is len(events). ENOSPC is the caller's (EpWait's
// maxEvents) concern, not this function's.
func EncodeEvents(events []ReadyEvent) []byte {
	buf := make([]byte, 8*len(events))
	for i, ev := range events {
		binary.LittleEndian.PutUint32(buf[i*8:], uint32(ev.Fd))
		binary.LittleEndian.PutUint32(buf[i*8+4:], uint32(ev.Events))
	}
	return buf
}
