// File: hostcall/errno.go
// Author: momentics <momentics@gmail.com>
//
// Errno mapping (spec §4.5.5): every hostcall entry point returns either
// a non-negative result or a negative errno. errnoOf translates this
// package's and fdtable's structured api.Error codes into that ABI.
package hostcall

import "github.com/lfedgeai/spearlet-core/api"

func errnoOf(err error) int32 {
	if err == nil {
		return 0
	}
	ce, ok := err.(*api.Error)
	if !ok {
		return api.EIO
	}
	switch ce.Code {
	case "EBADF":
		return api.EBADF
	case "EAGAIN":
		return api.EAGAIN
	case "EINVAL":
		return api.EINVAL
	case "ENOSPC":
		return api.ENOSPC
	case "EPIPE":
		return api.EPIPE
	case "ENOTCONN":
		return api.ENOTCONN
	case "ETIMEDOUT":
		return api.ETIMEDOUT
	case "EINTR":
		return api.EINTR
	default:
		return api.EIO
	}
}
