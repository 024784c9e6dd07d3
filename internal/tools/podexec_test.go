package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"crashwatch/internal/policy"
)

// fakeExec records the command it was asked to run and returns canned output.
type fakeExec struct {
	lastCommand []string
	output      string
	err         error
}

func (f *fakeExec) Exec(ctx context.Context, namespace, pod, container string, command []string) (string, error) {
	f.lastCommand = command
	return f.output, f.err
}

func TestReadFileTool_DeniesDisallowedPath(t *testing.T) {
	tool := &ReadFileTool{Exec: &fakeExec{}, Policy: policy.DefaultConfig()}

	_, err := tool.Invoke(context.Background(), map[string]any{
		"namespace": "prod", "pod_name": "api-abc", "file_path": "/root/.ssh/id_rsa",
	})
	if err == nil || !strings.Contains(err.Error(), "allow-list") {
		t.Errorf("Invoke() = %v, want allow-list denial", err)
	}
}

func TestReadFileTool_TruncatesLargeFiles(t *testing.T) {
	exec := &fakeExec{output: strings.Repeat("x", 5000)}
	tool := &ReadFileTool{Exec: exec, Policy: policy.DefaultConfig()}

	got, err := tool.Invoke(context.Background(), map[string]any{
		"namespace": "prod", "pod_name": "api-abc", "file_path": "/app/package.json",
	})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	payload := got.(filePayload)
	if !payload.Truncated {
		t.Error("Truncated = false for 5000-byte file")
	}
	if len(payload.Content) > maxFileChars+3 {
		t.Errorf("Content length = %d, want <= %d", len(payload.Content), maxFileChars+3)
	}
	if exec.lastCommand[0] != "cat" {
		t.Errorf("command = %v, want cat", exec.lastCommand)
	}
}

func TestReadFileTool_MissingFile(t *testing.T) {
	exec := &fakeExec{output: "cat: /app/nope: No such file or directory"}
	tool := &ReadFileTool{Exec: exec, Policy: policy.DefaultConfig()}

	_, err := tool.Invoke(context.Background(), map[string]any{
		"namespace": "prod", "pod_name": "api-abc", "file_path": "/app/nope",
	})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Invoke() = %v, want not-found error", err)
	}
}

func TestListFilesTool_ParsesLsOutput(t *testing.T) {
	exec := &fakeExec{output: `total 24
drwxr-xr-x 2 root root 4096 Jun  1 12:00 .
drwxr-xr-x 1 root root 4096 Jun  1 12:00 ..
-rw-r--r-- 1 root root  812 Jun  1 12:00 package.json
-rw-r--r-- 1 root root  144 Jun  1 12:00 server config.js`}
	tool := &ListFilesTool{Exec: exec, Policy: policy.DefaultConfig()}

	got, err := tool.Invoke(context.Background(), map[string]any{
		"namespace": "prod", "pod_name": "api-abc",
	})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	payload := got.(dirPayload)
	if payload.Directory != "/app" {
		t.Errorf("default directory = %q, want /app", payload.Directory)
	}
	var names []string
	for _, f := range payload.Files {
		names = append(names, f.Name)
	}
	joined := strings.Join(names, "|")
	if !strings.Contains(joined, "package.json") || !strings.Contains(joined, "server config.js") {
		t.Errorf("parsed names = %v", names)
	}
}

func TestPodEnvTool_MasksSecretsAndFilters(t *testing.T) {
	exec := &fakeExec{output: "DATABASE_URL=postgres://db:5432/app\nDATABASE_PASSWORD=hunter2\nPATH=/usr/bin\n"}
	tool := &PodEnvTool{Exec: exec}

	got, err := tool.Invoke(context.Background(), map[string]any{
		"namespace": "prod", "pod_name": "api-abc", "filter": "database",
	})
	if err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	payload := got.(envPayload)
	if payload.EnvCount != 2 {
		t.Errorf("EnvCount = %d, want 2 (filtered)", payload.EnvCount)
	}
	if payload.EnvVars["DATABASE_PASSWORD"] != "***MASKED***" {
		t.Errorf("password not masked: %q", payload.EnvVars["DATABASE_PASSWORD"])
	}
	if payload.EnvVars["DATABASE_URL"] != "postgres://db:5432/app" {
		t.Errorf("non-secret value mangled: %q", payload.EnvVars["DATABASE_URL"])
	}
	if _, ok := payload.EnvVars["PATH"]; ok {
		t.Error("filter not applied")
	}
}

func TestCappedBuffer_StopsAtCap(t *testing.T) {
	buf := newCappedBuffer(10)

	n, err := buf.Write([]byte("0123456789abcdef"))
	if err != nil || n != 16 {
		t.Fatalf("Write = %d, %v; writes must not error past the cap", n, err)
	}
	if buf.String() != "0123456789" {
		t.Errorf("String() = %q", buf.String())
	}
	if !buf.truncated {
		t.Error("truncated flag not set")
	}
}

func TestFakeExecError_Propagates(t *testing.T) {
	exec := &fakeExec{err: fmt.Errorf("pods \"api-abc\" not found")}
	tool := &PodEnvTool{Exec: exec}

	_, err := tool.Invoke(context.Background(), map[string]any{
		"namespace": "prod", "pod_name": "api-abc",
	})
	if err == nil {
		t.Error("exec error should propagate as a tool error")
	}
}
