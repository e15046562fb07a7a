// File: config/tasks.go
// Author: momentics <momentics@gmail.com>
//
// StaticTaskResolver satisfies functionservice.TaskResolver from a TOML
// `[[tasks]]` tree loaded at process start. Real deployments resolve
// tasks from the SMS registry over the network (spec §1, out of scope
// here); this gives cmd/spearletd something concrete to wire until that
// client exists.
package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/lfedgeai/spearlet-core/api"
)

type taskDoc struct {
	Name              string            `toml:"name"`
	RuntimeKind       string            `toml:"runtime_kind"`
	EntryPoint        string            `toml:"entry_point"`
	HandlerConfig     map[string]string `toml:"handler_config"`
	Environment       map[string]string `toml:"environment"`
	MinInstances      int               `toml:"min_instances"`
	MaxInstances      int               `toml:"max_instances"`
	TargetConcurrency int               `toml:"target_concurrency"`
	RequestTimeoutMs  uint64            `toml:"request_timeout_ms"`
}

type tasksDoc struct {
	Tasks []taskDoc `toml:"tasks"`
}

// StaticTaskResolver serves api.Task values from an immutable map built
// once at load time; ResolveTask never blocks and never mutates.
type StaticTaskResolver struct {
	mu    sync.RWMutex
	tasks map[string]api.Task
}

// ResolveTask implements functionservice.TaskResolver.
func (r *StaticTaskResolver) ResolveTask(ctx context.Context, taskID string) (api.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return api.Task{}, api.NewError(api.KindPermanent, "TASK_NOT_FOUND", fmt.Sprintf("no task registered for id %q", taskID))
	}
	return task, nil
}

// LoadStaticTaskResolver parses r's `[[tasks]]` TOML tree into a
// StaticTaskResolver keyed by task name (used as the task id).
func LoadStaticTaskResolver(r io.Reader) (*StaticTaskResolver, error) {
	var doc tasksDoc
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse tasks config: %w", err)
	}

	tasks := make(map[string]api.Task, len(doc.Tasks))
	for _, t := range doc.Tasks {
		kind, err := api.ParseRuntimeKind(t.RuntimeKind)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		scaling := api.DefaultScalingConfig()
		timeout := api.TimeoutConfig{RequestTimeoutMs: t.RequestTimeoutMs}
		tasks[t.Name] = api.Task{
			TaskID: t.Name,
			Spec: api.TaskSpec{
				Name:              t.Name,
				RuntimeKind:       kind,
				EntryPoint:        t.EntryPoint,
				HandlerConfig:     t.HandlerConfig,
				Environment:       t.Environment,
				MinInstances:      t.MinInstances,
				MaxInstances:      t.MaxInstances,
				TargetConcurrency: t.TargetConcurrency,
				ScalingConfig:     scaling,
				TimeoutConfig:     timeout,
			},
		}
	}
	return &StaticTaskResolver{tasks: tasks}, nil
}

// LoadStaticTaskResolverBytes is the in-memory convenience wrapper.
func LoadStaticTaskResolverBytes(data []byte) (*StaticTaskResolver, error) {
	return LoadStaticTaskResolver(bytes.NewReader(data))
}
