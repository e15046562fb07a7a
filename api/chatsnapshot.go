// File: api/chatsnapshot.go
// Author: momentics <momentics@gmail.com>
//
// ChatSessionSnapshot is the host-side view of a cchat session at
// cchat_send time (spec §4.5.2), consumed by aiengine's
// Normalize (spec §4.6.1). Defined here, rather than in
// hostcall or aiengine, so neither package needs to import the other.

package api

import "encoding/json"

// ChatMessage is one turn of a cchat session's accumulated conversation.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatToolSpec is one tool schema registered via cchat_write_fn, bound to
// the guest function-table offset the host calls back into.
type ChatToolSpec struct {
	FnOffset int64
	Schema   json.RawMessage
}

// ChatSessionSnapshot captures a session's messages, registered tools, and
// ctl params at the moment cchat_send is called.
type ChatSessionSnapshot struct {
	Messages []ChatMessage
	Tools    []ChatToolSpec
	Params   map[string]any
}
