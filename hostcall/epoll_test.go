// File: hostcall/epoll_test.go
// Author: momentics <momentics@gmail.com>
package hostcall

import (
	"testing"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/fdtable"
)

func TestSpearEpollPassThrough(t *testing.T) {
	table := fdtable.New()
	h := NewHost(table, nil)

	chatFd, rc := h.CchatCreate()
	if rc != 0 {
		t.Fatalf("CchatCreate: rc=%d", rc)
	}

	epfd, rc := h.SpearEpollCreate()
	if rc != 0 {
		t.Fatalf("SpearEpollCreate: rc=%d", rc)
	}

	if rc := h.SpearEpollCtl(epfd, api.EpollAdd, chatFd, api.PollIn); rc != 0 {
		t.Fatalf("SpearEpollCtl add: rc=%d", rc)
	}

	// Session is never itself readable, so a short wait should time out
	// rather than return a ready event.
	events, rc := h.SpearEpollWait(epfd, 4, 10)
	if rc != 0 {
		t.Fatalf("expected timeout (rc=0, no events), got rc=%d events=%v", rc, events)
	}

	if rc := h.SpearEpollClose(epfd); rc != 0 {
		t.Fatalf("SpearEpollClose: rc=%d", rc)
	}
	// Double close of an unknown epfd should fail with -EBADF.
	if rc := h.SpearEpollClose(epfd); rc >= 0 {
		t.Fatalf("expected -EBADF on double close, got rc=%d", rc)
	}
}

func TestSpearEpollCtlUnknownFd(t *testing.T) {
	h := NewHost(fdtable.New(), nil)
	epfd, _ := h.SpearEpollCreate()
	if rc := h.SpearEpollCtl(epfd, api.EpollAdd, 9999, api.PollIn); rc != api.EBADF {
		t.Fatalf("expected -EBADF, got rc=%d", rc)
	}
}

func TestSpearFdCtlStatusAndClose(t *testing.T) {
	table := fdtable.New()
	h := NewHost(table, nil)

	fd, rc := h.CchatCreate()
	if rc != 0 {
		t.Fatalf("CchatCreate: rc=%d", rc)
	}

	out, rc := h.SpearFdCtl(fd, FdCtlGetStatus, nil)
	if rc != 0 {
		t.Fatalf("GetStatus: rc=%d", rc)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty status body")
	}

	if _, rc := h.SpearFdCtl(fd, FdCtlSetFlags, []byte(`{"flags":1}`)); rc != 0 {
		t.Fatalf("SetFlags should not error, rc=%d", rc)
	}

	out, rc = h.SpearFdCtl(fd, FdCtlGetFlags, nil)
	if rc != 0 || len(out) == 0 {
		t.Fatalf("GetFlags: rc=%d out=%s", rc, out)
	}

	if _, rc := h.SpearFdCtl(fd, FdCtlClose, nil); rc != 0 {
		t.Fatalf("Close via fd_ctl: rc=%d", rc)
	}
	if _, rc := h.SpearFdCtl(fd, FdCtlGetStatus, nil); rc != api.EBADF {
		t.Fatalf("expected -EBADF after close, got rc=%d", rc)
	}
}
