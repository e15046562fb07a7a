// File: aiengine/router.go
// Author: momentics <momentics@gmail.com>
//
// Router (spec §4.6.3): filter -> model-bind -> policy -> empty-set
// diagnostics. Every operation is routed with weighted_random (see
// selectByPolicy); neither the request's Policy field nor a configured
// default policy is consulted, and no policy name is recorded on the
// response.
package aiengine

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/lfedgeai/spearlet-core/api"
)

// Router selects one enabled backend for a normalized request.
type Router struct {
	registry      *Registry
	globalDefault string
}

// NewRouter builds a Router over registry, falling back to
// globalDefaultModel when no candidate sets its own default_model.
func NewRouter(registry *Registry, globalDefaultModel string) *Router {
	return &Router{registry: registry, globalDefault: globalDefaultModel}
}

// Select runs the four-step policy against req, returning the chosen
// adapter/config and the envelope with its payload model field resolved
// in place, or a CanonicalError with full diagnostics on an empty
// candidate set.
func (r *Router) Select(req *api.CanonicalRequestEnvelope) (BackendAdapter, BackendConfig, *api.CanonicalError) {
	all := r.registry.Candidates()
	var rejected []string

	candidates := make([]registeredBackend, 0, len(all))
	for _, b := range all {
		if !subsetOf(req.Requirements.Features, b.cfg.Features) {
			rejected = append(rejected, fmt.Sprintf("%s: missing required feature", b.cfg.Name))
			continue
		}
		if !subsetOf(req.Requirements.Transports, b.cfg.Transports) {
			rejected = append(rejected, fmt.Sprintf("%s: missing required transport", b.cfg.Name))
			continue
		}
		if !backendSatisfiesOp(b.cfg, req.Operation) {
			rejected = append(rejected, fmt.Sprintf("%s: does not support operation", b.cfg.Name))
			continue
		}
		if len(req.Routing.Allowlist) > 0 && !contains(req.Routing.Allowlist, b.cfg.Name) {
			rejected = append(rejected, fmt.Sprintf("%s: not in allowlist", b.cfg.Name))
			continue
		}
		if contains(req.Routing.Denylist, b.cfg.Name) {
			rejected = append(rejected, fmt.Sprintf("%s: denylisted", b.cfg.Name))
			continue
		}
		if req.Routing.Backend != "" && req.Routing.Backend != b.cfg.Name {
			rejected = append(rejected, fmt.Sprintf("%s: not the routing-pinned backend", b.cfg.Name))
			continue
		}
		candidates = append(candidates, b)
	}

	requestModel, err := payloadModel(req.Payload)
	if err != nil {
		return nil, BackendConfig{}, newCanonicalError(req.Operation, "INVALID_REQUEST", err.Error(), false)
	}

	if requestModel == "" {
		resolved, cerr := resolveDefaultModel(req.Operation, candidates, r.globalDefault)
		if cerr != nil {
			return nil, BackendConfig{}, cerr
		}
		requestModel = resolved
	}

	if requestModel != "" {
		candidates = modelBind(candidates, requestModel)
	}

	if len(candidates) == 0 {
		return nil, BackendConfig{}, &api.CanonicalError{
			Error:             *api.NewError(api.KindPermanent, "NO_CANDIDATE_BACKEND", "no backend satisfies the request"),
			Operation:         req.Operation,
			Required:          append(append([]string{}, req.Requirements.Features...), req.Requirements.Transports...),
			CandidatesChecked: len(all),
			RejectedReasons:   rejected,
			AvailableModels:   r.registry.AvailableModels(),
		}
	}

	chosen := selectByPolicy(candidates)
	if requestModel == "" && chosen.cfg.Kind == "stub" {
		requestModel = "stub-model"
	}

	if updated, err := setPayloadModel(req.Payload, requestModel); err == nil {
		req.Payload = updated
	}

	return chosen.adapter, chosen.cfg, nil
}

func backendSatisfiesOp(b BackendConfig, op api.Operation) bool {
	if len(b.Ops) == 0 {
		return true
	}
	return contains(b.Ops, string(op))
}

// resolveDefaultModel applies the backend-default > global-default
// precedence across the filtered candidate set, failing with a
// descriptive error if multiple candidates disagree.
func resolveDefaultModel(op api.Operation, candidates []registeredBackend, globalDefault string) (string, *api.CanonicalError) {
	seen := make(map[string]struct{})
	for _, c := range candidates {
		if c.cfg.DefaultModel != "" {
			seen[c.cfg.DefaultModel] = struct{}{}
		}
	}
	if len(seen) > 1 {
		models := make([]string, 0, len(seen))
		for m := range seen {
			models = append(models, m)
		}
		return "", &api.CanonicalError{
			Error:           *api.NewError(api.KindPermanent, "INVALID_CONFIGURATION", "candidate backends disagree on default_model"),
			Operation:       op,
			AvailableModels: models,
		}
	}
	for m := range seen {
		return m, nil
	}
	return globalDefault, nil
}

func modelBind(candidates []registeredBackend, requestModel string) []registeredBackend {
	anyPinned := false
	for _, c := range candidates {
		if c.cfg.Model != "" {
			anyPinned = true
			break
		}
	}
	if !anyPinned {
		return candidates
	}
	out := make([]registeredBackend, 0, len(candidates))
	for _, c := range candidates {
		if c.cfg.Model == requestModel {
			out = append(out, c)
		}
	}
	return out
}

// selectByPolicy implements weighted_random over the surviving
// candidates' configured Weight (defaulting every zero-weight entry to
// 1 so an unweighted config degrades to a uniform pick).
func selectByPolicy(candidates []registeredBackend) registeredBackend {
	if len(candidates) == 1 {
		return candidates[0]
	}
	total := 0
	for _, c := range candidates {
		total += weightOf(c.cfg)
	}
	pick := rand.Intn(total)
	for _, c := range candidates {
		w := weightOf(c.cfg)
		if pick < w {
			return c
		}
		pick -= w
	}
	return candidates[len(candidates)-1]
}

func weightOf(cfg BackendConfig) int {
	if cfg.Weight <= 0 {
		return 1
	}
	return cfg.Weight
}

func payloadModel(payload json.RawMessage) (string, error) {
	var body struct {
		Model string `json:"model"`
	}
	if len(payload) == 0 {
		return "", nil
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("invalid request payload: %w", err)
	}
	return body.Model, nil
}

func setPayloadModel(payload json.RawMessage, model string) (json.RawMessage, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		return payload, err
	}
	encodedModel, err := json.Marshal(model)
	if err != nil {
		return payload, err
	}
	body["model"] = encodedModel
	return json.Marshal(body)
}
