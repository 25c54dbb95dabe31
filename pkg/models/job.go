package models

import (
	"encoding/json"
	"fmt"
)

// Parameter identifiers owned by the platform. command_template and exec_dir
// drive the worker itself and are never substitutable into a template;
// requirements carries job preconditions.
const (
	ParamCommandTemplate = "command_template"
	ParamExecDir         = "exec_dir"
	ParamRequirements    = "requirements"
)

// Parameter value types used by this worker.
const (
	ParamTypeString       = "string"
	ParamTypeRequirements = "requirements"
)

// ReservedParam reports whether id names a template-reserved parameter,
// one that configures the execution itself rather than a substitution value.
func ReservedParam(id string) bool {
	return id == ParamCommandTemplate || id == ParamExecDir
}

// JobStatus represents the terminal state of a processed job.
type JobStatus string

const (
	JobStatusUnknown   JobStatus = "unknown"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// Parameter is the wire shape of a single job parameter. Value stays raw
// until the parameter set is extracted, since its type depends on Type.
type Parameter struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// StringValue decodes the parameter value as a string.
func (p Parameter) StringValue() (string, error) {
	var s string
	if err := json.Unmarshal(p.Value, &s); err != nil {
		return "", fmt.Errorf("parameter %q is not a string: %w", p.ID, err)
	}
	return s, nil
}

// RequirementsValue decodes the parameter value as a requirements object.
func (p Parameter) RequirementsValue() (Requirements, error) {
	var r Requirements
	if err := json.Unmarshal(p.Value, &r); err != nil {
		return Requirements{}, fmt.Errorf("parameter %q is not a requirements object: %w", p.ID, err)
	}
	return r, nil
}

// Requirements lists preconditions a job declares on the worker host.
type Requirements struct {
	Paths []string `json:"paths"`
}

// Job is a queued unit of work as published by the platform.
type Job struct {
	JobID      int64       `json:"job_id"`
	Parameters []Parameter `json:"parameters"`
}

// ParseJob decodes a job message payload.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job message: %w", err)
	}
	return &job, nil
}

// ParameterSet is the structured view of a job's parameters. Reserved
// identifiers land in named fields; only the open Params map takes part in
// template substitution, so a reserved value can never be substituted.
type ParameterSet struct {
	CommandTemplate string
	// HasCommandTemplate distinguishes a template that arrived empty from
	// one that was never sent. An empty template still reaches the
	// launcher, which rejects it as a missing executable.
	HasCommandTemplate bool
	ExecDir            string
	Requirements       Requirements
	Params             map[string]string
}

// ParameterSet extracts the structured parameter record from the job.
// String parameters with unrecognized identifiers become substitution
// values; parameters of other types are ignored.
func (j *Job) ParameterSet() (*ParameterSet, error) {
	set := &ParameterSet{Params: make(map[string]string)}

	for _, p := range j.Parameters {
		switch {
		case p.ID == ParamCommandTemplate:
			value, err := p.StringValue()
			if err != nil {
				return nil, err
			}
			set.CommandTemplate = value
			set.HasCommandTemplate = true
		case p.ID == ParamExecDir:
			value, err := p.StringValue()
			if err != nil {
				return nil, err
			}
			set.ExecDir = value
		case p.ID == ParamRequirements || p.Type == ParamTypeRequirements:
			value, err := p.RequirementsValue()
			if err != nil {
				return nil, err
			}
			set.Requirements = value
		case p.Type == ParamTypeString:
			value, err := p.StringValue()
			if err != nil {
				return nil, err
			}
			set.Params[p.ID] = value
		}
	}

	return set, nil
}

// JobResult is the outcome reported back to the platform. It is created
// with the job's identifier and resolved exactly once via Complete or Fail.
type JobResult struct {
	JobID     int64     `json:"job_id"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	OutputURI string    `json:"output_uri,omitempty"`
}

// NewJobResult creates an unresolved result for the given job.
func NewJobResult(jobID int64) *JobResult {
	return &JobResult{JobID: jobID, Status: JobStatusUnknown}
}

// Complete resolves the result as successful with the captured output.
func (r *JobResult) Complete(message string) *JobResult {
	r.Status = JobStatusCompleted
	r.Message = message
	return r
}

// Fail resolves the result as failed with a diagnostic message.
func (r *JobResult) Fail(message string) *JobResult {
	r.Status = JobStatusError
	r.Message = message
	return r
}
