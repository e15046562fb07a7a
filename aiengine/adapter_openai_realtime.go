// File: aiengine/adapter_openai_realtime.go
// Author: momentics <momentics@gmail.com>
//
// OpenAI realtime WS adapter (spec §4.6.4): produces a connection plan
// (URL, headers with ${env:...} expanded at send time, subprotocols)
// consumed by the realtime stream subsystem. Also exposes
// ExecuteConnectionPlan/RealtimeTransport, which dial that plan with
// gorilla/websocket and bridge to the rtasr send/recv shape (hostcall's
// RtAsrTransport interface, matched structurally — aiengine never
// imports hostcall to avoid a cycle).
package aiengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lfedgeai/spearlet-core/api"
)

// ConnectionPlan is the realtime adapter's Invoke result: enough detail
// for the realtime stream subsystem to dial on its own, or for
// ExecuteConnectionPlan to dial directly.
type ConnectionPlan struct {
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers"`
	Subprotocols  []string          `json:"subprotocols,omitempty"`
	BackendName   string            `json:"-"`
}

type openAIRealtimeAdapter struct {
	cfg    BackendConfig
	apiKey string
}

func newOpenAIRealtimeAdapter(cfg BackendConfig, apiKey string) *openAIRealtimeAdapter {
	return &openAIRealtimeAdapter{cfg: cfg, apiKey: apiKey}
}

func (a *openAIRealtimeAdapter) Name() string { return a.cfg.Name }

func (a *openAIRealtimeAdapter) Capabilities() Capabilities {
	return Capabilities{Ops: a.cfg.Ops, Features: a.cfg.Features, Transports: append([]string{"websocket"}, a.cfg.Transports...)}
}

func (a *openAIRealtimeAdapter) Invoke(ctx context.Context, req api.CanonicalRequestEnvelope) (api.CanonicalResponseEnvelope, error) {
	plan := ConnectionPlan{
		URL: a.cfg.BaseURL,
		Headers: map[string]string{
			"Authorization": "Bearer ${env:" + credentialEnvPlaceholder(a.apiKey) + "}",
		},
		Subprotocols: []string{"realtime"},
		BackendName:  a.cfg.Name,
	}
	body, err := json.Marshal(plan)
	if err != nil {
		return api.CanonicalResponseEnvelope{}, err
	}
	return api.CanonicalResponseEnvelope{
		RequestID: req.RequestID,
		Operation: req.Operation,
		Backend:   api.BackendRef{Name: a.cfg.Name, Attempts: 1},
		Result:    withSpearFields(body, a.cfg.Name, a.cfg.Model),
	}, nil
}

// credentialEnvPlaceholder never embeds the resolved secret itself in a
// template string returned to callers; it is a marker the real send-time
// expansion (expandEnvTemplate) resolves from process env, keeping the
// literal value out of any logged ConnectionPlan JSON.
func credentialEnvPlaceholder(_ string) string { return "OPENAI_REALTIME_API_KEY" }

var envTemplatePattern = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvTemplate resolves every ${env:NAME} token in s against the
// process environment, expanded only at send time per spec §4.6.4 —
// never persisted back into a plan that might be logged.
func expandEnvTemplate(s string) string {
	return envTemplatePattern.ReplaceAllStringFunc(s, func(token string) string {
		name := envTemplatePattern.FindStringSubmatch(token)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return ""
	})
}

// RealtimeTransport dials a ConnectionPlan via gorilla/websocket and
// bridges audio frames/events, structurally satisfying hostcall's
// RtAsrTransport interface (Connect(ctx, <-chan []byte, chan<- []byte)
// error) without hostcall ever being imported here.
type RealtimeTransport struct {
	plan   ConnectionPlan
	dialer *websocket.Dialer
}

// NewRealtimeTransport builds a transport over plan, using a default
// 10s handshake timeout dialer.
func NewRealtimeTransport(plan ConnectionPlan) *RealtimeTransport {
	return &RealtimeTransport{plan: plan, dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

// Connect dials the realtime endpoint, then pumps outbound audio as
// binary frames and inbound frames as recv events until ctx is done or
// the connection fails.
func (t *RealtimeTransport) Connect(ctx context.Context, sendAudio <-chan []byte, recvEvents chan<- []byte) error {
	header := make(map[string][]string, len(t.plan.Headers))
	for k, v := range t.plan.Headers {
		header[k] = []string{expandEnvTemplate(v)}
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.plan.URL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return fmt.Errorf("realtime dial failed (status=%d): %w", status, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case recvEvents <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case chunk, ok := <-sendAudio:
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return err
			}
		}
	}
}
