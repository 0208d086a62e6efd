package k8s

import "time"

// The types below cover the subset of batch/v1 Job that the dispatcher builds.
// Both json (API) and yaml (manifest rendering) tags are kept in sync.

type ObjectMeta struct {
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Namespace string            `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

type EnvVar struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type ResourceRequirements struct {
	Limits   map[string]string `json:"limits,omitempty" yaml:"limits,omitempty"`
	Requests map[string]string `json:"requests,omitempty" yaml:"requests,omitempty"`
}

type VolumeMount struct {
	Name      string `json:"name" yaml:"name"`
	MountPath string `json:"mountPath" yaml:"mountPath"`
	ReadOnly  bool   `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

type Container struct {
	Name            string               `json:"name" yaml:"name"`
	Image           string               `json:"image" yaml:"image"`
	ImagePullPolicy string               `json:"imagePullPolicy,omitempty" yaml:"imagePullPolicy,omitempty"`
	Args            []string             `json:"args,omitempty" yaml:"args,omitempty"`
	Env             []EnvVar             `json:"env,omitempty" yaml:"env,omitempty"`
	Resources       ResourceRequirements `json:"resources,omitempty" yaml:"resources,omitempty"`
	VolumeMounts    []VolumeMount        `json:"volumeMounts,omitempty" yaml:"volumeMounts,omitempty"`
}

type ConfigMapVolumeSource struct {
	Name string `json:"name" yaml:"name"`
}

type PersistentVolumeClaimVolumeSource struct {
	ClaimName string `json:"claimName" yaml:"claimName"`
	ReadOnly  bool   `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

type Volume struct {
	Name                  string                             `json:"name" yaml:"name"`
	ConfigMap             *ConfigMapVolumeSource             `json:"configMap,omitempty" yaml:"configMap,omitempty"`
	PersistentVolumeClaim *PersistentVolumeClaimVolumeSource `json:"persistentVolumeClaim,omitempty" yaml:"persistentVolumeClaim,omitempty"`
}

type PodSpec struct {
	RestartPolicy      string      `json:"restartPolicy,omitempty" yaml:"restartPolicy,omitempty"`
	ServiceAccountName string      `json:"serviceAccountName,omitempty" yaml:"serviceAccountName,omitempty"`
	Containers         []Container `json:"containers" yaml:"containers"`
	Volumes            []Volume    `json:"volumes,omitempty" yaml:"volumes,omitempty"`
}

type PodTemplateSpec struct {
	Metadata ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Spec     PodSpec    `json:"spec" yaml:"spec"`
}

type JobSpec struct {
	BackoffLimit            *int32          `json:"backoffLimit,omitempty" yaml:"backoffLimit,omitempty"`
	ActiveDeadlineSeconds   *int64          `json:"activeDeadlineSeconds,omitempty" yaml:"activeDeadlineSeconds,omitempty"`
	TTLSecondsAfterFinished *int32          `json:"ttlSecondsAfterFinished,omitempty" yaml:"ttlSecondsAfterFinished,omitempty"`
	Template                PodTemplateSpec `json:"template" yaml:"template"`
}

type JobCondition struct {
	Type               string     `json:"type,omitempty" yaml:"type,omitempty"`
	Status             string     `json:"status,omitempty" yaml:"status,omitempty"`
	Reason             string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message            string     `json:"message,omitempty" yaml:"message,omitempty"`
	LastTransitionTime *time.Time `json:"lastTransitionTime,omitempty" yaml:"lastTransitionTime,omitempty"`
}

type JobStatus struct {
	StartTime      *time.Time     `json:"startTime,omitempty" yaml:"startTime,omitempty"`
	CompletionTime *time.Time     `json:"completionTime,omitempty" yaml:"completionTime,omitempty"`
	Active         int32          `json:"active,omitempty" yaml:"active,omitempty"`
	Succeeded      int32          `json:"succeeded,omitempty" yaml:"succeeded,omitempty"`
	Failed         int32          `json:"failed,omitempty" yaml:"failed,omitempty"`
	Conditions     []JobCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

type Job struct {
	APIVersion string     `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
	Kind       string     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Metadata   ObjectMeta `json:"metadata" yaml:"metadata"`
	Spec       JobSpec    `json:"spec" yaml:"spec"`
	Status     *JobStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// Condition returns the first condition of the given type.
func (s JobStatus) Condition(conditionType string) (JobCondition, bool) {
	for _, cond := range s.Conditions {
		if cond.Type == conditionType {
			return cond, true
		}
	}
	return JobCondition{}, false
}
