package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	config "cmdworker/configs"
	"cmdworker/pkg/command"
	"cmdworker/pkg/models"
)

// fakeLauncher records launches and returns canned results.
type fakeLauncher struct {
	mu       sync.Mutex
	commands []string
	execDirs []string
	output   string
	err      error
}

func (f *fakeLauncher) Launch(ctx context.Context, cmd string, execDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	f.execDirs = append(f.execDirs, execDir)
	return f.output, f.err
}

func (f *fakeLauncher) launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

// fakeLogStore archives into memory.
type fakeLogStore struct {
	stored map[int64][]byte
	err    error
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{stored: make(map[int64][]byte)}
}

func (f *fakeLogStore) Store(ctx context.Context, jobID int64, output []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored[jobID] = append([]byte(nil), output...)
	return fmt.Sprintf("mem://outputs/%d.log", jobID), nil
}

func (f *fakeLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func testConfig() *config.Config {
	return &config.Config{
		Concurrency:       1,
		HeartbeatInterval: time.Second,
		RegistrationTTL:   10,
		ConsumerGroup:     "cmdline-workers",
		ShutdownGrace:     time.Second,
	}
}

func newTestWorker(t *testing.T, launcher command.Launcher, logs *fakeLogStore) *Worker {
	t.Helper()
	// A typed nil inside the LogStore interface would defeat the nil check
	// that disables archiving, so pass an untyped nil explicitly.
	if logs == nil {
		return New(testConfig(), CommandLineDescriptor("test"), nil, nil, nil, launcher)
	}
	return New(testConfig(), CommandLineDescriptor("test"), nil, nil, logs, launcher)
}

func stringParam(id, value string) models.Parameter {
	raw, _ := json.Marshal(value)
	return models.Parameter{ID: id, Type: models.ParamTypeString, Value: raw}
}

func makeJob(id int64, params ...models.Parameter) *models.Job {
	return &models.Job{JobID: id, Parameters: params}
}

func TestProcess_Success(t *testing.T) {
	launcher := &fakeLauncher{output: "main.rs\nmessage.rs\n"}
	w := newTestWorker(t, launcher, nil)

	job := makeJob(123,
		stringParam(models.ParamCommandTemplate, "ls {option} {path}"),
		stringParam("option", "-lh"),
		stringParam("path", "."),
		stringParam(models.ParamExecDir, "./src"),
	)

	result := w.Process(context.Background(), job)

	if result.JobID != 123 {
		t.Errorf("expected job_id 123, got %d", result.JobID)
	}
	if result.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %q with message %q", result.Status, result.Message)
	}
	if result.Message != "main.rs\nmessage.rs\n" {
		t.Errorf("unexpected message %q", result.Message)
	}
	if launcher.commands[0] != "ls -lh ." {
		t.Errorf("expected compiled command %q, got %q", "ls -lh .", launcher.commands[0])
	}
	if launcher.execDirs[0] != "./src" {
		t.Errorf("expected exec dir %q, got %q", "./src", launcher.execDirs[0])
	}
}

func TestProcess_MissingCommandTemplate(t *testing.T) {
	launcher := &fakeLauncher{}
	w := newTestWorker(t, launcher, nil)

	job := makeJob(42, stringParam("path", "."))
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if !strings.Contains(result.Message, `"command_template"`) {
		t.Errorf("expected message to name the missing parameter, got %q", result.Message)
	}
	if launcher.launches() != 0 {
		t.Error("no process may be launched without a command template")
	}
}

func TestProcess_EmptyCommandTemplate(t *testing.T) {
	launcher := &fakeLauncher{err: command.ErrMissingExecutable}
	w := newTestWorker(t, launcher, nil)

	job := makeJob(43, stringParam(models.ParamCommandTemplate, ""))
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if launcher.launches() != 1 {
		t.Fatalf("an empty template must still reach the launcher, got %d launches", launcher.launches())
	}
	if launcher.commands[0] != "" {
		t.Errorf("expected the empty compiled command passed through, got %q", launcher.commands[0])
	}
	if !strings.Contains(result.Message, "missing executable") {
		t.Errorf("expected the launcher diagnostic relayed, got %q", result.Message)
	}
}

func TestProcess_InvalidParameters(t *testing.T) {
	launcher := &fakeLauncher{}
	w := newTestWorker(t, launcher, nil)

	job := makeJob(42, models.Parameter{
		ID: "option", Type: models.ParamTypeString, Value: json.RawMessage(`42`),
	})
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if !strings.Contains(result.Message, "invalid job parameters") {
		t.Errorf("unexpected message %q", result.Message)
	}
	if launcher.launches() != 0 {
		t.Error("no process may be launched for undecodable parameters")
	}
}

func TestProcess_RequirementsNotMet(t *testing.T) {
	launcher := &fakeLauncher{}
	w := newTestWorker(t, launcher, nil)

	missing := filepath.Join(t.TempDir(), "does-not-exist")
	reqValue, _ := json.Marshal(models.Requirements{Paths: []string{missing}})
	job := makeJob(7,
		stringParam(models.ParamCommandTemplate, "uptime"),
		models.Parameter{ID: models.ParamRequirements, Type: models.ParamTypeRequirements, Value: reqValue},
	)

	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if !strings.Contains(result.Message, "requirement not met") {
		t.Errorf("unexpected message %q", result.Message)
	}
	if launcher.launches() != 0 {
		t.Error("no process may be launched when requirements are not met")
	}
}

func TestProcess_ExitFailurePreservesDiagnostic(t *testing.T) {
	diagnostic := "ls: cannot access 'qmslkjggsdlvnqrdgwdnvqrgn': No such file or directory\n"
	launcher := &fakeLauncher{err: &command.ExitError{
		Command:  "ls -lh qmslkjggsdlvnqrdgwdnvqrgn",
		ExitCode: 2,
		Output:   diagnostic,
	}}
	w := newTestWorker(t, launcher, nil)

	job := makeJob(123,
		stringParam(models.ParamCommandTemplate, "ls {option} {path}"),
		stringParam("option", "-lh"),
		stringParam("path", "qmslkjggsdlvnqrdgwdnvqrgn"),
	)
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if result.Message != diagnostic {
		t.Errorf("expected diagnostic relayed verbatim, got %q", result.Message)
	}
}

func TestProcess_SpawnFailureNamesCommand(t *testing.T) {
	launcher := &fakeLauncher{err: &command.SpawnError{
		Command: "no-such-binary --flag",
		Err:     errors.New("executable file not found in $PATH"),
	}}
	w := newTestWorker(t, launcher, nil)

	job := makeJob(9, stringParam(models.ParamCommandTemplate, "no-such-binary --flag"))
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if !strings.Contains(result.Message, "no-such-binary --flag") {
		t.Errorf("expected message to include the attempted command, got %q", result.Message)
	}
	if !strings.Contains(result.Message, "executable file not found") {
		t.Errorf("expected message to include the OS error, got %q", result.Message)
	}
}

func TestProcess_TruncatesLongSuccessMessage(t *testing.T) {
	launcher := &fakeLauncher{output: strings.Repeat("a", MaxResultMessageBytes+4096)}
	w := newTestWorker(t, launcher, nil)

	job := makeJob(1, stringParam(models.ParamCommandTemplate, "generate"))
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %q", result.Status)
	}
	if len(result.Message) != MaxResultMessageBytes {
		t.Errorf("expected message capped at %d bytes, got %d", MaxResultMessageBytes, len(result.Message))
	}
}

func TestProcess_FailureDiagnosticNotTruncated(t *testing.T) {
	diagnostic := strings.Repeat("e", MaxResultMessageBytes+4096)
	launcher := &fakeLauncher{err: &command.ExitError{Command: "generate", ExitCode: 1, Output: diagnostic}}
	w := newTestWorker(t, launcher, nil)

	job := makeJob(1, stringParam(models.ParamCommandTemplate, "generate"))
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusError {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if len(result.Message) != len(diagnostic) {
		t.Errorf("expected untruncated diagnostic of %d bytes, got %d", len(diagnostic), len(result.Message))
	}
}

func TestProcess_ArchivesOutput(t *testing.T) {
	launcher := &fakeLauncher{output: "archived output"}
	logs := newFakeLogStore()
	w := newTestWorker(t, launcher, logs)

	job := makeJob(55, stringParam(models.ParamCommandTemplate, "uptime"))
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %q", result.Status)
	}
	if result.OutputURI == "" {
		t.Error("expected an output reference on the result")
	}
	if string(logs.stored[55]) != "archived output" {
		t.Errorf("expected full output archived, got %q", logs.stored[55])
	}
}

func TestProcess_ArchiveFailureDoesNotFailJob(t *testing.T) {
	launcher := &fakeLauncher{output: "fine"}
	logs := newFakeLogStore()
	logs.err = errors.New("bucket unavailable")
	w := newTestWorker(t, launcher, logs)

	job := makeJob(56, stringParam(models.ParamCommandTemplate, "uptime"))
	result := w.Process(context.Background(), job)

	if result.Status != models.JobStatusCompleted {
		t.Fatalf("archive failure must not fail the job, got %q", result.Status)
	}
	if result.OutputURI != "" {
		t.Errorf("expected no output reference, got %q", result.OutputURI)
	}
}
