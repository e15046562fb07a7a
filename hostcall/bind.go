// File: hostcall/bind.go
// Author: momentics <momentics@gmail.com>
//
// Implements runtimeadapter.HostcallBinder: installs every spec §4.5 ABI
// symbol as a wazero host function under the "spear" module name. Each
// wrapper here does only guest-linear-memory marshalling; all real logic
// lives in epoll.go/fdctl.go/cchat.go/rtasr.go/mic.go/execchannel.go,
// which are directly unit-testable without a wasm guest at all.
package hostcall

import (
	"context"

	"github.com/tetratelabs/wazero"
	wzapi "github.com/tetratelabs/wazero/api"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/channel"
)

const hostModuleName = "spear"

// Bind implements runtimeadapter.HostcallBinder.
func (h *Host) Bind(ctx context.Context, rt wazero.Runtime, guestChannel channel.CommunicationChannel) (wazero.CompiledModule, error) {
	b := rt.NewHostModuleBuilder(hostModuleName)

	b.NewFunctionBuilder().WithFunc(h.abiEpollCreate).Export("spear_epoll_create")
	b.NewFunctionBuilder().WithFunc(h.abiEpollCtl).Export("spear_epoll_ctl")
	b.NewFunctionBuilder().WithFunc(h.abiEpollWait).Export("spear_epoll_wait")
	b.NewFunctionBuilder().WithFunc(h.abiEpollClose).Export("spear_epoll_close")
	b.NewFunctionBuilder().WithFunc(h.abiFdCtl).Export("spear_fd_ctl")

	b.NewFunctionBuilder().WithFunc(h.abiCchatCreate).Export("cchat_create")
	b.NewFunctionBuilder().WithFunc(h.abiCchatWriteMsg).Export("cchat_write_msg")
	b.NewFunctionBuilder().WithFunc(h.abiCchatWriteFn).Export("cchat_write_fn")
	b.NewFunctionBuilder().WithFunc(h.abiCchatCtl).Export("cchat_ctl")
	b.NewFunctionBuilder().WithFunc(h.abiCchatSend(ctx)).Export("cchat_send")
	b.NewFunctionBuilder().WithFunc(h.abiCchatRecv).Export("cchat_recv")
	b.NewFunctionBuilder().WithFunc(h.abiCchatClose).Export("cchat_close")

	b.NewFunctionBuilder().WithFunc(h.abiRtAsrCreate).Export("rtasr_create")
	b.NewFunctionBuilder().WithFunc(h.abiRtAsrCtl(ctx)).Export("rtasr_ctl")
	b.NewFunctionBuilder().WithFunc(h.abiRtAsrWrite).Export("rtasr_write")
	b.NewFunctionBuilder().WithFunc(h.abiRtAsrRead).Export("rtasr_read")
	b.NewFunctionBuilder().WithFunc(h.abiRtAsrClose).Export("rtasr_close")

	b.NewFunctionBuilder().WithFunc(h.abiMicCreate).Export("mic_create")
	b.NewFunctionBuilder().WithFunc(h.abiMicCtl(ctx)).Export("mic_ctl")
	b.NewFunctionBuilder().WithFunc(h.abiMicRead).Export("mic_read")
	b.NewFunctionBuilder().WithFunc(h.abiMicClose).Export("mic_close")

	b.NewFunctionBuilder().WithFunc(h.abiExecRecv(guestChannel)).Export("spear_exec_recv")
	b.NewFunctionBuilder().WithFunc(h.abiExecSend(guestChannel)).Export("spear_exec_send")

	return b.Compile(ctx)
}

func readMem(mod wzapi.Module, ptr, length uint32) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	return mod.Memory().Read(ptr, length)
}

func writeOut(mod wzapi.Module, outPtr, outLenPtr uint32, data []byte, required int) int32 {
	if required > int(^uint32(0)) {
		return api.EINVAL
	}
	if !mod.Memory().WriteUint32Le(outLenPtr, uint32(required)) {
		return api.EINVAL
	}
	if len(data) == 0 {
		return 0
	}
	if !mod.Memory().Write(outPtr, data) {
		return api.EINVAL
	}
	return 0
}

// --- generic ---

func (h *Host) abiEpollCreate(ctx context.Context, mod wzapi.Module) int32 {
	fd, rc := h.SpearEpollCreate()
	if rc != 0 {
		return rc
	}
	return fd
}

func (h *Host) abiEpollCtl(ctx context.Context, mod wzapi.Module, epfd, op, fd, mask int32) int32 {
	return h.SpearEpollCtl(epfd, api.EpollOp(op), fd, api.PollMask(mask))
}

func (h *Host) abiEpollWait(ctx context.Context, mod wzapi.Module, epfd int32, outPtr uint32, capacity int32, timeoutMs int64) int32 {
	events, rc := h.SpearEpollWait(epfd, int(capacity), timeoutMs)
	if rc < 0 {
		return rc
	}
	if !mod.Memory().Write(outPtr, events) {
		return api.EINVAL
	}
	return rc
}

func (h *Host) abiEpollClose(ctx context.Context, mod wzapi.Module, epfd int32) int32 {
	return h.SpearEpollClose(epfd)
}

func (h *Host) abiFdCtl(ctx context.Context, mod wzapi.Module, fd, cmd int32, argPtr, argLenPtr uint32) int32 {
	argLen, ok := mod.Memory().ReadUint32Le(argLenPtr)
	if !ok {
		return api.EINVAL
	}
	arg, ok := readMem(mod, argPtr, argLen)
	if !ok {
		return api.EINVAL
	}
	out, rc := h.SpearFdCtl(fd, FdCtlCmd(cmd), arg)
	if rc != 0 {
		return rc
	}
	return writeOut(mod, argPtr, argLenPtr, out, len(out))
}

// --- cchat ---

func (h *Host) abiCchatCreate(ctx context.Context, mod wzapi.Module) int32 {
	fd, rc := h.CchatCreate()
	if rc != 0 {
		return rc
	}
	return fd
}

func (h *Host) abiCchatWriteMsg(ctx context.Context, mod wzapi.Module, fd int32, rolePtr, roleLen, contentPtr, contentLen uint32) int32 {
	role, ok := readMem(mod, rolePtr, roleLen)
	if !ok {
		return api.EINVAL
	}
	content, ok := readMem(mod, contentPtr, contentLen)
	if !ok {
		return api.EINVAL
	}
	return h.CchatWriteMsg(fd, string(role), string(content))
}

func (h *Host) abiCchatWriteFn(ctx context.Context, mod wzapi.Module, fd int32, fnOffset int64, jsonPtr, jsonLen uint32) int32 {
	body, ok := readMem(mod, jsonPtr, jsonLen)
	if !ok {
		return api.EINVAL
	}
	return h.CchatWriteFn(fd, fnOffset, body)
}

func (h *Host) abiCchatCtl(ctx context.Context, mod wzapi.Module, fd, cmd int32, argPtr, argLenPtr uint32) int32 {
	argLen, ok := mod.Memory().ReadUint32Le(argLenPtr)
	if !ok {
		return api.EINVAL
	}
	arg, ok := readMem(mod, argPtr, argLen)
	if !ok {
		return api.EINVAL
	}
	out, rc := h.CchatCtl(fd, CchatCtlCmd(cmd), arg)
	if rc != 0 {
		return rc
	}
	return writeOut(mod, argPtr, argLenPtr, out, len(out))
}

func (h *Host) abiCchatSend(ctx context.Context) func(context.Context, wzapi.Module, int32, int32) int32 {
	return func(fnCtx context.Context, mod wzapi.Module, fd, flags int32) int32 {
		respFd, rc := h.CchatSend(ctx, fd, flags)
		if rc != 0 {
			return rc
		}
		return respFd
	}
}

func (h *Host) abiCchatRecv(ctx context.Context, mod wzapi.Module, fd int32, outPtr, outLenPtr uint32) int32 {
	outLen, ok := mod.Memory().ReadUint32Le(outLenPtr)
	if !ok {
		return api.EINVAL
	}
	buf := make([]byte, outLen)
	n, required, rc := h.CchatRecv(fd, buf)
	if rc != 0 {
		mod.Memory().WriteUint32Le(outLenPtr, uint32(required))
		return rc
	}
	return writeOut(mod, outPtr, outLenPtr, buf[:n], n)
}

func (h *Host) abiCchatClose(ctx context.Context, mod wzapi.Module, fd int32) int32 {
	return h.CchatClose(fd)
}

// --- rtasr ---

func (h *Host) abiRtAsrCreate(ctx context.Context, mod wzapi.Module) int32 {
	fd, rc := h.RtAsrCreate()
	if rc != 0 {
		return rc
	}
	return fd
}

func (h *Host) abiRtAsrCtl(ctx context.Context) func(context.Context, wzapi.Module, int32, int32, uint32, uint32) int32 {
	return func(fnCtx context.Context, mod wzapi.Module, fd, cmd int32, argPtr, argLenPtr uint32) int32 {
		argLen, ok := mod.Memory().ReadUint32Le(argLenPtr)
		if !ok {
			return api.EINVAL
		}
		arg, ok := readMem(mod, argPtr, argLen)
		if !ok {
			return api.EINVAL
		}
		out, rc := h.RtAsrCtl(ctx, fd, RtAsrCtlCmd(cmd), arg)
		if rc != 0 {
			return rc
		}
		return writeOut(mod, argPtr, argLenPtr, out, len(out))
	}
}

func (h *Host) abiRtAsrWrite(ctx context.Context, mod wzapi.Module, fd int32, bufPtr, bufLen uint32) int32 {
	data, ok := readMem(mod, bufPtr, bufLen)
	if !ok {
		return api.EINVAL
	}
	n, rc := h.RtAsrWrite(fd, data)
	if rc != 0 {
		return rc
	}
	return int32(n)
}

func (h *Host) abiRtAsrRead(ctx context.Context, mod wzapi.Module, fd int32, outPtr, outLenPtr uint32) int32 {
	outLen, ok := mod.Memory().ReadUint32Le(outLenPtr)
	if !ok {
		return api.EINVAL
	}
	buf := make([]byte, outLen)
	n, required, rc := h.RtAsrRead(fd, buf)
	if rc != 0 {
		mod.Memory().WriteUint32Le(outLenPtr, uint32(required))
		return rc
	}
	return writeOut(mod, outPtr, outLenPtr, buf[:n], n)
}

func (h *Host) abiRtAsrClose(ctx context.Context, mod wzapi.Module, fd int32) int32 {
	return h.RtAsrClose(fd)
}

// --- mic ---

func (h *Host) abiMicCreate(ctx context.Context, mod wzapi.Module) int32 {
	fd, rc := h.MicCreate()
	if rc != 0 {
		return rc
	}
	return fd
}

func (h *Host) abiMicCtl(ctx context.Context) func(context.Context, wzapi.Module, int32, uint32, uint32) int32 {
	return func(fnCtx context.Context, mod wzapi.Module, fd int32, argPtr, argLen uint32) int32 {
		arg, ok := readMem(mod, argPtr, argLen)
		if !ok {
			return api.EINVAL
		}
		return h.MicCtl(ctx, fd, arg)
	}
}

func (h *Host) abiMicRead(ctx context.Context, mod wzapi.Module, fd int32, outPtr, outLenPtr uint32) int32 {
	outLen, ok := mod.Memory().ReadUint32Le(outLenPtr)
	if !ok {
		return api.EINVAL
	}
	buf := make([]byte, outLen)
	n, required, rc := h.MicRead(fd, buf)
	if rc != 0 {
		mod.Memory().WriteUint32Le(outLenPtr, uint32(required))
		return rc
	}
	return writeOut(mod, outPtr, outLenPtr, buf[:n], n)
}

func (h *Host) abiMicClose(ctx context.Context, mod wzapi.Module, fd int32) int32 {
	return h.MicClose(fd)
}

// --- execution channel ---

func (h *Host) abiExecRecv(ch channel.CommunicationChannel) func(context.Context, wzapi.Module, uint32, uint32) int32 {
	return func(ctx context.Context, mod wzapi.Module, outPtr, outLenPtr uint32) int32 {
		outLen, ok := mod.Memory().ReadUint32Le(outLenPtr)
		if !ok {
			return api.EINVAL
		}
		buf := make([]byte, outLen)
		n, required, rc := SpearExecRecv(ch, buf)
		if rc != 0 {
			mod.Memory().WriteUint32Le(outLenPtr, uint32(required))
			return rc
		}
		return writeOut(mod, outPtr, outLenPtr, buf[:n], n)
	}
}

func (h *Host) abiExecSend(ch channel.CommunicationChannel) func(context.Context, wzapi.Module, uint32, uint32, uint32, uint32) int32 {
	return func(ctx context.Context, mod wzapi.Module, reqIDPtr, reqIDLen, payloadPtr, payloadLen uint32) int32 {
		reqID, ok := readMem(mod, reqIDPtr, reqIDLen)
		if !ok {
			return api.EINVAL
		}
		payload, ok := readMem(mod, payloadPtr, payloadLen)
		if !ok {
			return api.EINVAL
		}
		return SpearExecSend(ch, string(reqID), payload)
	}
}
