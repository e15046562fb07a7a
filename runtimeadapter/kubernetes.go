// File: runtimeadapter/kubernetes.go
// Author: momentics <momentics@gmail.com>
//
// Container-job adapter (spec §4.3): generates a Job manifest, submits
// it to the cluster, tracks job/pod status, and routes execute() calls
// via gRPC to the pod's service endpoint. Grounded on aistore's
// k8s.io/client-go usage pattern for job/pod lifecycle management,
// adapted from storage-target provisioning to per-instance function
// execution jobs.
package runtimeadapter

import (
	"context"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/channel"
)

// KubernetesAdapter manages instances backed by a Kubernetes Job per
// instance, with the spearlet talking to the pod's gRPC service port.
type KubernetesAdapter struct {
	client    kubernetes.Interface
	namespace string
	image     string
	svcPort   int32
}

// NewKubernetesAdapter constructs an adapter targeting namespace,
// launching jobs from image, and reaching pods on svcPort.
func NewKubernetesAdapter(client kubernetes.Interface, namespace, image string, svcPort int32) *KubernetesAdapter {
	return &KubernetesAdapter{client: client, namespace: namespace, image: image, svcPort: svcPort}
}

type kubernetesState struct {
	jobName string
	podName string
}

// CreateInstance submits a Job manifest for the instance and returns it
// in Starting; the pod is not yet scheduled.
func (a *KubernetesAdapter) CreateInstance(ctx context.Context, cfg api.InstanceConfig) (*Instance, error) {
	jobName := fmt.Sprintf("spearlet-task-%d", time.Now().UnixNano())

	envVars := make([]corev1.EnvVar, 0, len(cfg.Environment))
	for k, v := range cfg.Environment {
		envVars = append(envVars, corev1.EnvVar{Name: k, Value: v})
	}

	resourceLimits := corev1.ResourceList{}
	if cfg.ResourceLimits.MaxCPUCores > 0 {
		resourceLimits[corev1.ResourceCPU] = *resourceQuantity(fmt.Sprintf("%.3f", cfg.ResourceLimits.MaxCPUCores))
	}
	if cfg.ResourceLimits.MaxMemoryByte > 0 {
		resourceLimits[corev1.ResourceMemory] = *resourceQuantity(fmt.Sprintf("%d", cfg.ResourceLimits.MaxMemoryByte))
	}

	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: jobName, Namespace: a.namespace},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": "spearlet-instance", "job-name": jobName}},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:      "instance",
						Image:     a.image,
						Env:       envVars,
						Ports:     []corev1.ContainerPort{{ContainerPort: a.svcPort}},
						Resources: corev1.ResourceRequirements{Limits: resourceLimits},
					}},
				},
			},
		},
	}

	if _, err := a.client.BatchV1().Jobs(a.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return nil, api.NewError(api.KindTransient, "EIO", "failed to create job").WithContext("cause", err.Error())
	}

	id := api.RuntimeInstanceId{Kind: api.RuntimeKubernetes, Instance: jobName}
	inst := NewInstance(id, cfg)
	inst.AdapterState = &kubernetesState{jobName: jobName}
	return inst, nil
}

// StartInstance polls for the Job's pod to become Running, then opens
// the gRPC channel to its service endpoint.
func (a *KubernetesAdapter) StartInstance(ctx context.Context, inst *Instance) error {
	ks := inst.AdapterState.(*kubernetesState)

	deadline := time.Now().Add(60 * time.Second)
	var podIP string
	for time.Now().Before(deadline) {
		pods, err := a.client.CoreV1().Pods(a.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "job-name=" + ks.jobName,
		})
		if err == nil && len(pods.Items) > 0 {
			pod := pods.Items[0]
			ks.podName = pod.Name
			if pod.Status.Phase == corev1.PodRunning && pod.Status.PodIP != "" {
				podIP = pod.Status.PodIP
				break
			}
		}
		select {
		case <-ctx.Done():
			return api.NewError(api.KindTransient, "ETIMEDOUT", "context cancelled waiting for pod readiness")
		case <-time.After(time.Second):
		}
	}
	if podIP == "" {
		return api.NewError(api.KindTransient, "ETIMEDOUT", "timed out waiting for instance pod to become Running")
	}

	ch, err := channel.CreateChannelForInstance(inst.ID, channel.Config{
		GRPCAddr: fmt.Sprintf("%s:%d", podIP, a.svcPort),
	})
	if err != nil {
		return err
	}
	inst.Channel = ch

	if _, err := inst.Channel.RequestResponse(channel.Message{Kind: channel.KindRequest, Payload: []byte(`{"op":"health_check"}`)}, 5*time.Second); err != nil {
		return err
	}
	return inst.MarkReady()
}

// StopInstance deletes the backing Job (and its pods via propagation).
func (a *KubernetesAdapter) StopInstance(ctx context.Context, inst *Instance) error {
	ks := inst.AdapterState.(*kubernetesState)
	if inst.Channel != nil {
		_ = inst.Channel.Close()
	}

	policy := metav1.DeletePropagationForeground
	err := a.client.BatchV1().Jobs(a.namespace).Delete(ctx, ks.jobName, metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil && !apierrors.IsNotFound(err) {
		return api.NewError(api.KindTransient, "EIO", "failed to delete job").WithContext("cause", err.Error())
	}
	return inst.MarkStopped()
}

// HealthCheck checks the pod's phase and, if reachable, round-trips a
// health_check request over the channel.
func (a *KubernetesAdapter) HealthCheck(ctx context.Context, inst *Instance) HealthStatus {
	ks := inst.AdapterState.(*kubernetesState)
	pod, err := a.client.CoreV1().Pods(a.namespace).Get(ctx, ks.podName, metav1.GetOptions{})
	if err != nil {
		return HealthStatus{Healthy: false, Reason: err.Error()}
	}
	if pod.Status.Phase != corev1.PodRunning {
		return HealthStatus{Healthy: false, Reason: "pod phase is " + string(pod.Status.Phase)}
	}
	if inst.Channel == nil || !inst.Channel.IsConnected() {
		return HealthStatus{Healthy: false, Reason: "channel not connected"}
	}
	if _, err := inst.Channel.RequestResponse(channel.Message{Kind: channel.KindRequest, Payload: []byte(`{"op":"health_check"}`)}, 2*time.Second); err != nil {
		return HealthStatus{Healthy: false, Reason: err.Error()}
	}
	return HealthStatus{Healthy: true}
}

// Execute is a thin wrapper over the instance's gRPC channel.
func (a *KubernetesAdapter) Execute(ctx context.Context, inst *Instance, req api.ExecutionRequest) (api.ExecutionResponse, error) {
	return executeOverChannel(inst, req)
}

// Capabilities describes the container-job adapter's operating envelope.
func (a *KubernetesAdapter) Capabilities() api.AdapterCapabilities {
	return api.AdapterCapabilities{
		Scalable:               true,
		HotReload:              false,
		PersistentStorage:      false,
		NetworkIsolation:       true,
		MaxConcurrentInstances: 1024,
		SupportedProtocols:     []string{"grpc", "tcp"},
	}
}
