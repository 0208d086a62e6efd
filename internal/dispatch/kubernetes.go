package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/loadrunner/internal/domain"
	"github.com/animus-labs/loadrunner/internal/platform/env"
	"github.com/animus-labs/loadrunner/internal/platform/k8s"
)

const (
	workerContainerName = "gatling-worker"
	scenariosVolume     = "scenarios"
	resultsVolume       = "results"
)

// JobClient is the slice of the Kubernetes API the executor needs.
type JobClient interface {
	CreateJob(ctx context.Context, namespace string, job k8s.Job) error
	GetJob(ctx context.Context, namespace string, name string) (k8s.Job, error)
}

type KubernetesConfig struct {
	Namespace          string
	Image              string
	ImagePullPolicy    string
	ServiceAccount     string
	CPU                string
	Memory             string
	ScenariosConfigMap string
	ScenariosMountPath string
	ResultsPVC         string
	ResultsMountPath   string
	TTLSeconds         int32
	ActiveDeadline     time.Duration
}

func KubernetesConfigFromEnv() (KubernetesConfig, error) {
	ttl, err := env.Int("JOB_TTL_SECONDS", 0)
	if err != nil {
		return KubernetesConfig{}, err
	}
	deadline, err := env.Duration("JOB_ACTIVE_DEADLINE", 0)
	if err != nil {
		return KubernetesConfig{}, err
	}
	cfg := KubernetesConfig{
		Namespace:          strings.TrimSpace(env.String("K8S_NAMESPACE", "")),
		Image:              strings.TrimSpace(env.String("JOB_IMAGE", "example/gatling-web:latest")),
		ImagePullPolicy:    strings.TrimSpace(env.String("JOB_IMAGE_PULL_POLICY", "IfNotPresent")),
		ServiceAccount:     strings.TrimSpace(env.String("JOB_SERVICE_ACCOUNT", "default")),
		CPU:                strings.TrimSpace(env.String("JOB_CPU", "1000m")),
		Memory:             strings.TrimSpace(env.String("JOB_MEMORY", "1Gi")),
		ScenariosConfigMap: strings.TrimSpace(env.String("SCENARIOS_CONFIGMAP", "gatling-scenarios")),
		ScenariosMountPath: strings.TrimSpace(env.String("SCENARIOS_PATH", "/etc/gatling/scenarios")),
		ResultsPVC:         strings.TrimSpace(env.String("RESULTS_PVC_NAME", "gatling-results-pvc")),
		ResultsMountPath:   strings.TrimSpace(env.String("WORKER_RESULTS_MOUNT", "/var/gatling/results")),
		TTLSeconds:         int32(ttl),
		ActiveDeadline:     deadline,
	}
	if err := cfg.Validate(); err != nil {
		return KubernetesConfig{}, err
	}
	return cfg, nil
}

func (c KubernetesConfig) Validate() error {
	if c.Image == "" {
		return errors.New("job image is required")
	}
	if c.ScenariosConfigMap == "" || c.ScenariosMountPath == "" {
		return errors.New("scenarios configmap and mount path are required")
	}
	if c.ResultsPVC == "" || c.ResultsMountPath == "" {
		return errors.New("results pvc and mount path are required")
	}
	if c.TTLSeconds < 0 {
		return errors.New("job ttl must be non-negative")
	}
	if c.ActiveDeadline < 0 {
		return errors.New("job active deadline must be non-negative")
	}
	return nil
}

type KubernetesExecutor struct {
	client JobClient
	cfg    KubernetesConfig
}

func NewKubernetesExecutor(client JobClient, namespace string, cfg KubernetesConfig) (*KubernetesExecutor, error) {
	if client == nil {
		return nil, errors.New("k8s client is required")
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = strings.TrimSpace(namespace)
	}
	if cfg.Namespace == "" {
		return nil, errors.New("job namespace is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &KubernetesExecutor{client: client, cfg: cfg}, nil
}

func (e *KubernetesExecutor) Kind() string {
	return "kubernetes_job"
}

func (e *KubernetesExecutor) BuildJob(spec JobSpec) k8s.Job {
	return BuildJob(e.cfg, spec)
}

// BuildJob constructs the Job as a typed value. Run inputs are only ever
// placed in env values, never interpolated into the object structure.
func BuildJob(cfg KubernetesConfig, spec JobSpec) k8s.Job {
	labels := map[string]string{
		"app.kubernetes.io/name":      "loadrunner",
		"app.kubernetes.io/component": "worker",
		"loadrunner/job":              domain.JobName(spec.RunID),
	}

	envVars := make([]k8s.EnvVar, 0, 8)
	for _, kv := range spec.Env(cfg.ScenariosMountPath) {
		name, value, _ := strings.Cut(kv, "=")
		envVars = append(envVars, k8s.EnvVar{Name: name, Value: value})
	}

	resources := k8s.ResourceRequirements{}
	if cfg.CPU != "" || cfg.Memory != "" {
		resources.Requests = map[string]string{}
		resources.Limits = map[string]string{}
		if cfg.CPU != "" {
			resources.Requests["cpu"] = cfg.CPU
			resources.Limits["cpu"] = cfg.CPU
		}
		if cfg.Memory != "" {
			resources.Requests["memory"] = cfg.Memory
			resources.Limits["memory"] = cfg.Memory
		}
	}

	container := k8s.Container{
		Name:            workerContainerName,
		Image:           cfg.Image,
		ImagePullPolicy: cfg.ImagePullPolicy,
		Env:             envVars,
		Resources:       resources,
		VolumeMounts: []k8s.VolumeMount{
			{Name: scenariosVolume, MountPath: cfg.ScenariosMountPath, ReadOnly: true},
			{Name: resultsVolume, MountPath: cfg.ResultsMountPath},
		},
	}

	backoff := int32(0)
	job := k8s.Job{
		Metadata: k8s.ObjectMeta{
			Name:      domain.JobName(spec.RunID),
			Namespace: cfg.Namespace,
			Labels:    labels,
		},
		Spec: k8s.JobSpec{
			BackoffLimit: &backoff,
			Template: k8s.PodTemplateSpec{
				Metadata: k8s.ObjectMeta{Labels: labels},
				Spec: k8s.PodSpec{
					RestartPolicy:      "Never",
					ServiceAccountName: cfg.ServiceAccount,
					Containers:         []k8s.Container{container},
					Volumes: []k8s.Volume{
						{Name: scenariosVolume, ConfigMap: &k8s.ConfigMapVolumeSource{Name: cfg.ScenariosConfigMap}},
						{Name: resultsVolume, PersistentVolumeClaim: &k8s.PersistentVolumeClaimVolumeSource{ClaimName: cfg.ResultsPVC}},
					},
				},
			},
		},
	}
	if cfg.TTLSeconds > 0 {
		ttl := cfg.TTLSeconds
		job.Spec.TTLSecondsAfterFinished = &ttl
	}
	if cfg.ActiveDeadline > 0 {
		deadline := int64(cfg.ActiveDeadline / time.Second)
		if deadline < 1 {
			deadline = 1
		}
		job.Spec.ActiveDeadlineSeconds = &deadline
	}
	return job
}

// Submit creates the Job. A conflict means this run was already submitted,
// which the control plane rejects instead of duplicating; that counts as done.
func (e *KubernetesExecutor) Submit(ctx context.Context, spec JobSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	err := e.client.CreateJob(ctx, e.cfg.Namespace, e.BuildJob(spec))
	if err == nil || errors.Is(err, k8s.ErrAlreadyExists) {
		return nil
	}
	return fmt.Errorf("create job %s: %w", domain.JobName(spec.RunID), err)
}

func (e *KubernetesExecutor) Inspect(ctx context.Context, runID string) (Observation, error) {
	jobName := domain.JobName(runID)
	job, err := e.client.GetJob(ctx, e.cfg.Namespace, jobName)
	if err != nil {
		if errors.Is(err, k8s.ErrNotFound) {
			return Observation{Status: ObservationPending, Message: "job_not_found"}, nil
		}
		return Observation{}, err
	}

	var st k8s.JobStatus
	if job.Status != nil {
		st = *job.Status
	}

	obs := Observation{Status: ObservationPending}
	if cond, ok := st.Condition("Failed"); ok && strings.EqualFold(cond.Status, "True") {
		obs.Status = ObservationFailed
		obs.Message = conditionMessage(cond)
	} else if cond, ok := st.Condition("Complete"); ok && strings.EqualFold(cond.Status, "True") {
		obs.Status = ObservationSucceeded
		obs.Message = conditionMessage(cond)
	} else if st.Active > 0 {
		obs.Status = ObservationRunning
	}
	obs.Details = map[string]any{
		"k8s_namespace": e.cfg.Namespace,
		"k8s_job_name":  jobName,
		"active":        st.Active,
		"succeeded":     st.Succeeded,
		"failed":        st.Failed,
	}
	return obs, nil
}

func conditionMessage(cond k8s.JobCondition) string {
	if msg := strings.TrimSpace(cond.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(cond.Reason)
}
