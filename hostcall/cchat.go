// File: hostcall/cchat.go
// Author: momentics <momentics@gmail.com>
//
// Chat completion hostcalls (spec §4.5.2): session accumulation, ctl
// params, and cchat_send's normalize-route-invoke round trip, including
// the auto_tool_call re-entrancy loop capped by max_total_tool_calls.
package hostcall

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lfedgeai/spearlet-core/api"
)

// ToolInvoker calls back into the guest's registered function-table
// offset: ABI fn(args_ptr, args_len, out_ptr, out_len_ptr) -> i32. The
// wazero ABI binding supplies the concrete indirect-call implementation;
// plain-Go tests supply a stub closure directly.
type ToolInvoker func(ctx context.Context, fnOffset int64, argsJSON []byte) ([]byte, error)

// ChatSession is the Pollable backing a cchat_create fd. It never becomes
// readable itself — only the ChatResponse fd produced by cchat_send does.
type ChatSession struct {
	mu      sync.Mutex
	closed  bool
	invoker ToolInvoker

	messages []api.ChatMessage
	tools    []api.ChatToolSpec
	params   map[string]any
}

func newChatSession() *ChatSession {
	return &ChatSession{params: make(map[string]any)}
}

// PollMask: a session is never itself pollable-ready.
func (s *ChatSession) PollMask() api.PollMask { return 0 }

// Close marks the session closed; idempotent.
func (s *ChatSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Metrics implements MetricsReporter for spear_fd_ctl(GET_METRICS).
func (s *ChatSession) Metrics() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return struct {
		Messages int `json:"messages"`
		Tools    int `json:"tools"`
	}{len(s.messages), len(s.tools)}
}

// SetToolInvoker wires the guest callback used for auto_tool_call.
func (s *ChatSession) SetToolInvoker(inv ToolInvoker) {
	s.mu.Lock()
	s.invoker = inv
	s.mu.Unlock()
}

func (s *ChatSession) snapshot() api.ChatSessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append([]api.ChatMessage{}, s.messages...)
	tools := append([]api.ChatToolSpec{}, s.tools...)
	params := make(map[string]any, len(s.params))
	for k, v := range s.params {
		params[k] = v
	}
	return api.ChatSessionSnapshot{Messages: msgs, Tools: tools, Params: params}
}

func (s *ChatSession) appendMessage(role, content string) {
	s.mu.Lock()
	s.messages = append(s.messages, api.ChatMessage{Role: role, Content: content})
	s.mu.Unlock()
}

// resolveToolCalls matches a reply's tool_calls (by name) against this
// session's registered schemas, returning the fn_offset + arguments to
// invoke for each.
func (s *ChatSession) resolveToolCalls(raw json.RawMessage) []toolCallReq {
	if len(raw) == 0 {
		return nil
	}
	var parsed struct {
		ToolCalls []struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"tool_calls"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.ToolCalls) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]toolCallReq, 0, len(parsed.ToolCalls))
	for _, tc := range parsed.ToolCalls {
		for _, spec := range s.tools {
			var schema struct {
				Name string `json:"name"`
			}
			if json.Unmarshal(spec.Schema, &schema) == nil && schema.Name == tc.Name {
				out = append(out, toolCallReq{fnOffset: spec.FnOffset, argsJSON: tc.Arguments})
				break
			}
		}
	}
	return out
}

type toolCallReq struct {
	fnOffset int64
	argsJSON []byte
}

func (h *Host) chatSession(fd int32) (*ChatSession, int32) {
	entry, err := h.table.Get(fd)
	if err != nil {
		return nil, api.EBADF
	}
	s, ok := entry.Inner().(*ChatSession)
	if !ok {
		return nil, api.EINVAL
	}
	return s, 0
}

// CchatCreate allocates a new ChatSession fd.
func (h *Host) CchatCreate() (int32, int32) {
	fd, err := h.table.Alloc(api.FdChatSession, 0, newChatSession())
	if err != nil {
		return 0, errnoOf(err)
	}
	return fd, 0
}

// CchatWriteMsg appends one message to the session's conversation.
func (h *Host) CchatWriteMsg(fd int32, role, content string) int32 {
	s, rc := h.chatSession(fd)
	if rc != 0 {
		return rc
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return api.EBADF
	}
	s.mu.Unlock()
	s.appendMessage(role, content)
	return 0
}

// CchatWriteFn registers a tool schema bound to a guest function-table
// offset used for auto_tool_call callbacks.
func (h *Host) CchatWriteFn(fd int32, fnOffset int64, fnJSON []byte) int32 {
	s, rc := h.chatSession(fd)
	if rc != 0 {
		return rc
	}
	if !json.Valid(fnJSON) {
		return api.EINVAL
	}
	s.mu.Lock()
	s.tools = append(s.tools, api.ChatToolSpec{FnOffset: fnOffset, Schema: append(json.RawMessage{}, fnJSON...)})
	s.mu.Unlock()
	return 0
}

// CchatCtlCmd enumerates cchat_ctl's commands.
type CchatCtlCmd int32

const (
	CchatCtlSetParam CchatCtlCmd = iota
	CchatCtlGetMetrics
)

// CchatCtl applies SET_PARAM (one `{"key":...,"value":...}` pair per
// call) or returns GET_METRICS output.
func (h *Host) CchatCtl(fd int32, cmd CchatCtlCmd, arg []byte) ([]byte, int32) {
	s, rc := h.chatSession(fd)
	if rc != 0 {
		return nil, rc
	}
	switch cmd {
	case CchatCtlSetParam:
		var kv struct {
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(arg, &kv); err != nil || kv.Key == "" {
			return nil, api.EINVAL
		}
		s.mu.Lock()
		s.params[kv.Key] = kv.Value
		s.mu.Unlock()
		return nil, 0
	case CchatCtlGetMetrics:
		out, _ := json.Marshal(s.Metrics())
		return out, 0
	default:
		return nil, api.EINVAL
	}
}

// CchatClose releases the session fd; idempotent.
func (h *Host) CchatClose(fd int32) int32 {
	if err := h.table.Close(fd); err != nil {
		return errnoOf(err)
	}
	return 0
}

// chatResponseFlags, per spec §4.5.2.
const (
	CchatFlagMetrics      int32 = 1 << 0
	CchatFlagAutoToolCall int32 = 1 << 1
)

// ChatResponse is the Pollable backing a cchat_send response fd: gains
// IN once the backend round trip (and any tool-call loop) completes, HUP
// on close.
type ChatResponse struct {
	mu        sync.Mutex
	ready     bool
	closed    bool
	delivered bool
	data      []byte
}

func newChatResponse() *ChatResponse { return &ChatResponse{} }

func (r *ChatResponse) PollMask() api.PollMask {
	r.mu.Lock()
	defer r.mu.Unlock()
	var m api.PollMask
	if r.ready {
		m |= api.PollIn
	}
	if r.closed {
		m |= api.PollHup
	}
	return m
}

func (r *ChatResponse) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *ChatResponse) deliver(notify func(), data []byte) {
	r.mu.Lock()
	r.data = data
	r.ready = true
	r.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// CchatSend snapshots the session, routes+invokes it via the Host's
// ChatInvoker (aiengine, spec §4.6), and returns a ChatResponse fd
// immediately; the round trip (and any auto_tool_call re-entrancy) runs
// asynchronously, with readiness signaled through the fd table.
func (h *Host) CchatSend(ctx context.Context, fd int32, flags int32) (int32, int32) {
	s, rc := h.chatSession(fd)
	if rc != 0 {
		return 0, rc
	}

	respFd, err := h.table.Alloc(api.FdChatResponse, 0, newChatResponse())
	if err != nil {
		return 0, errnoOf(err)
	}
	entry, _ := h.table.Get(respFd)
	resp := entry.Inner().(*ChatResponse)
	notify := h.table.NotifierFunc(respFd)

	go h.runChatSend(ctx, s, resp, notify, flags)
	return respFd, 0
}

func (h *Host) runChatSend(ctx context.Context, s *ChatSession, resp *ChatResponse, notify func(), flags int32) {
	autoToolCall := flags&CchatFlagAutoToolCall != 0

	s.mu.Lock()
	maxCalls := 8
	if v, ok := s.params["max_total_tool_calls"]; ok {
		if n, ok := asInt(v); ok && n > 0 {
			maxCalls = n
		}
	}
	invoker := s.invoker
	s.mu.Unlock()

	totalCalls := 0
	for {
		snapshot := s.snapshot()
		reply, err := h.invoker.InvokeChat(ctx, snapshot)
		if err != nil {
			resp.deliver(notify, mustJSON(api.CanonicalResponseEnvelope{
				Err: &api.CanonicalError{Error: *api.NewError(api.KindTransient, "EIO", err.Error())},
			}))
			return
		}

		if !autoToolCall || invoker == nil || totalCalls >= maxCalls {
			resp.deliver(notify, mustJSON(reply))
			return
		}

		toolCalls := s.resolveToolCalls(reply.Result)
		if len(toolCalls) == 0 {
			resp.deliver(notify, mustJSON(reply))
			return
		}

		for _, tc := range toolCalls {
			if totalCalls >= maxCalls {
				break
			}
			out, err := invoker(ctx, tc.fnOffset, tc.argsJSON)
			totalCalls++
			if err != nil {
				s.appendMessage("tool", `{"error":"`+err.Error()+`"}`)
				continue
			}
			s.appendMessage("tool", string(out))
		}
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

// CchatRecv copies up to len(out) bytes of the response body into out.
// If out is too small, it writes the required length and returns
// -ENOSPC without consuming the payload, per the ENOSPC contract.
// Before the response is ready, returns -EAGAIN. The payload is
// delivered exactly once; a subsequent call returns 0 (EOF-style).
func (h *Host) CchatRecv(fd int32, out []byte) (n int, required int, rc int32) {
	entry, err := h.table.Get(fd)
	if err != nil {
		return 0, 0, api.EBADF
	}
	resp, ok := entry.Inner().(*ChatResponse)
	if !ok {
		return 0, 0, api.EINVAL
	}

	resp.mu.Lock()
	defer resp.mu.Unlock()
	if !resp.ready {
		return 0, 0, api.EAGAIN
	}
	if resp.delivered {
		return 0, 0, 0
	}
	need := len(resp.data)
	if len(out) < need {
		return 0, need, api.ENOSPC
	}
	n = copy(out, resp.data)
	resp.delivered = true
	return n, n, 0
}
