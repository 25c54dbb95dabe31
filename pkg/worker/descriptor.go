package worker

import (
	"time"

	"cmdworker/pkg/models"
	"cmdworker/pkg/resilience"
)

// ParameterDescriptor declares one parameter this worker understands.
type ParameterDescriptor struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Descriptor identifies a worker build to the platform. It is constructed
// in main and handed to the worker explicitly; nothing in this package
// holds a process-wide instance.
type Descriptor struct {
	Name             string                `json:"name"`
	ShortDescription string                `json:"short_description"`
	Description      string                `json:"description"`
	Version          string                `json:"version"`
	Parameters       []ParameterDescriptor `json:"parameters"`
}

// CommandLineDescriptor returns the descriptor for the command-line worker.
func CommandLineDescriptor(version string) Descriptor {
	return Descriptor{
		Name:             "command_line",
		ShortDescription: "Execute command lines",
		Description:      "Compiles a command template with job parameters and runs the resulting command line on the worker host.",
		Version:          version,
		Parameters: []ParameterDescriptor{
			{
				ID:          models.ParamCommandTemplate,
				Type:        models.ParamTypeString,
				Required:    true,
				Description: "Command template with {name} placeholders",
			},
			{
				ID:          models.ParamExecDir,
				Type:        models.ParamTypeString,
				Description: "Working directory for the command",
			},
			{
				ID:          models.ParamRequirements,
				Type:        models.ParamTypeRequirements,
				Description: "Paths that must exist on the worker host",
			},
		},
	}
}

// NodeStatus is the payload registered on every heartbeat and served by the
// ops endpoint.
type NodeStatus struct {
	ID             string               `json:"id"`
	Hostname       string               `json:"hostname"`
	Worker         string               `json:"worker"`
	Version        string               `json:"version"`
	PID            int                  `json:"pid"`
	CPUs           int                  `json:"cpus"`
	MemoryMB       uint64               `json:"memory_mb"`
	RunningJobs    int64                `json:"running_jobs"`
	StartedAt      time.Time            `json:"started_at"`
	ArchiveBreaker *resilience.Snapshot `json:"archive_breaker,omitempty"`
}
