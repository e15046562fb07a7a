// File: hostcall/epoll.go
// Author: momentics <momentics@gmail.com>
//
// spear_epoll_* (spec §4.5.1): thin pass-through onto fdtable's Table,
// converting errors into the -errno ABI convention.
package hostcall

import (
	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/fdtable"
)

// SpearEpollCreate allocates a new epoll set.
func (h *Host) SpearEpollCreate() (int32, int32) {
	fd, err := h.table.EpCreate()
	if err != nil {
		return 0, errnoOf(err)
	}
	return fd, 0
}

// SpearEpollCtl adds/modifies/removes fd from epfd's interest set.
func (h *Host) SpearEpollCtl(epfd int32, op api.EpollOp, fd int32, mask api.PollMask) int32 {
	if err := h.table.EpCtl(epfd, op, fd, mask); err != nil {
		return errnoOf(err)
	}
	return 0
}

// SpearEpollWait returns the 8-byte-per-record encoded ready events and
// the record count, 0 records when timeoutMs elapses with nothing ready,
// or a negative errno (e.g. -ENOSPC for maxEvents==0, -EINTR if epfd
// closes while waiting).
func (h *Host) SpearEpollWait(epfd int32, maxEvents int, timeoutMs int64) ([]byte, int32) {
	events, err := h.table.EpWait(epfd, maxEvents, timeoutMs)
	if err != nil {
		if rc := errnoOf(err); rc != api.ETIMEDOUT {
			return nil, rc
		}
		return nil, 0
	}
	return fdtable.EncodeEvents(events), int32(len(events))
}

// SpearEpollClose tears down an epoll set.
func (h *Host) SpearEpollClose(epfd int32) int32 {
	if err := h.table.EpClose(epfd); err != nil {
		return errnoOf(err)
	}
	return 0
}
