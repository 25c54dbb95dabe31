package command_test

import (
	"testing"

	. "cmdworker/pkg/command"
)

func TestCompile_SubstitutesParameters(t *testing.T) {
	params := map[string]string{
		"option": "-l",
		"path":   ".",
	}

	compiled := Compile("ls {option} {path}", params)

	if compiled != "ls -l ." {
		t.Errorf("expected %q, got %q", "ls -l .", compiled)
	}
}

func TestCompile_RepeatedPlaceholder(t *testing.T) {
	params := map[string]string{
		"option": "-l",
		"path":   ".",
	}

	compiled := Compile("ls {option} {path} {option}", params)

	if compiled != "ls -l . -l" {
		t.Errorf("expected %q, got %q", "ls -l . -l", compiled)
	}
}

func TestCompile_ReservedIdentifiersUntouched(t *testing.T) {
	params := map[string]string{
		"command_template": "rm -rf /",
		"exec_dir":         "/etc",
		"path":             ".",
	}

	compiled := Compile("ls {command_template} {exec_dir} {path}", params)

	if compiled != "ls {command_template} {exec_dir} ." {
		t.Errorf("reserved placeholders must stay literal, got %q", compiled)
	}
}

func TestCompile_UnknownPlaceholderLeftLiteral(t *testing.T) {
	compiled := Compile("ls {missing}", map[string]string{"option": "-l"})

	if compiled != "ls {missing}" {
		t.Errorf("expected unknown placeholder untouched, got %q", compiled)
	}
}

func TestCompile_UnusedParameterIgnored(t *testing.T) {
	params := map[string]string{
		"path":   ".",
		"unused": "whatever",
	}

	compiled := Compile("ls {path}", params)

	if compiled != "ls ." {
		t.Errorf("expected %q, got %q", "ls .", compiled)
	}
}

func TestCompile_NoParameters(t *testing.T) {
	compiled := Compile("uptime", nil)

	if compiled != "uptime" {
		t.Errorf("expected template unchanged, got %q", compiled)
	}
}

func TestCompile_EmptyTemplate(t *testing.T) {
	compiled := Compile("", map[string]string{"path": "."})

	if compiled != "" {
		t.Errorf("expected empty output, got %q", compiled)
	}
}
