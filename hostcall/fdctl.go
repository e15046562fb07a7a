// File: hostcall/fdctl.go
// Author: momentics <momentics@gmail.com>
//
// spear_fd_ctl (spec §4.5.1): generic fd control shared by every fd kind.
package hostcall

import (
	"encoding/json"

	"github.com/lfedgeai/spearlet-core/api"
)

// FdCtlCmd enumerates spear_fd_ctl's commands.
type FdCtlCmd int32

const (
	FdCtlSetFlags FdCtlCmd = iota
	FdCtlGetFlags
	FdCtlGetKind
	FdCtlGetStatus
	FdCtlGetMetrics
	FdCtlClose
)

// MetricsReporter is implemented by any Pollable exposing GET_METRICS
// output (ChatSession, RtAsrStream, MicStream).
type MetricsReporter interface {
	Metrics() any
}

type fdStatus struct {
	Kind   string `json:"kind"`
	Closed bool   `json:"closed"`
	Flags  int32  `json:"flags"`
	Poll   int32  `json:"poll_mask"`
}

// SpearFdCtl applies cmd to fd; arg/return bodies are UTF-8 JSON per the
// spec's generic-control convention.
func (h *Host) SpearFdCtl(fd int32, cmd FdCtlCmd, arg []byte) ([]byte, int32) {
	entry, err := h.table.Get(fd)
	if err != nil {
		return nil, api.EBADF
	}

	switch cmd {
	case FdCtlSetFlags:
		var req struct {
			Flags int32 `json:"flags"`
		}
		if err := json.Unmarshal(arg, &req); err != nil {
			return nil, api.EINVAL
		}
		entry.SetFlags(api.FdFlags(req.Flags))
		return nil, 0

	case FdCtlGetFlags:
		out, _ := json.Marshal(struct {
			Flags int32 `json:"flags"`
		}{int32(entry.Flags())})
		return out, 0

	case FdCtlGetKind:
		out, _ := json.Marshal(struct {
			Kind string `json:"kind"`
		}{entry.Kind().String()})
		return out, 0

	case FdCtlGetStatus:
		out, _ := json.Marshal(fdStatus{
			Kind:   entry.Kind().String(),
			Closed: entry.Closed(),
			Flags:  int32(entry.Flags()),
			Poll:   int32(entry.PollMask()),
		})
		return out, 0

	case FdCtlGetMetrics:
		if m, ok := entry.Inner().(MetricsReporter); ok {
			out, _ := json.Marshal(m.Metrics())
			return out, 0
		}
		return []byte("{}"), 0

	case FdCtlClose:
		if err := h.table.Close(fd); err != nil {
			return nil, errnoOf(err)
		}
		return nil, 0

	default:
		return nil, api.EINVAL
	}
}
