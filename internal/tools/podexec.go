package tools

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"crashwatch/internal/policy"
)

// maxFileChars caps file content shipped back to the model per read.
const maxFileChars = 2000

// maxDirEntries caps directory listings shipped back to the model.
const maxDirEntries = 30

// PodExecutor runs a read-only command inside a pod and returns its output.
type PodExecutor interface {
	Exec(ctx context.Context, namespace, pod, container string, command []string) (string, error)
}

// K8sExecutor implements PodExecutor on the cluster's exec subresource.
// Every command is checked against the exec allow-list before it runs, and
// output is capped at the policy's byte limit.
type K8sExecutor struct {
	config *rest.Config
	client kubernetes.Interface
	policy *policy.Config
}

// NewK8sExecutor builds an executor using in-cluster config when available,
// falling back to the default kubeconfig.
func NewK8sExecutor(pol *policy.Config) (*K8sExecutor, error) {
	config, err := rest.InClusterConfig()
	if err == nil {
		slog.Info("using in-cluster config")
	} else {
		slog.Debug("in-cluster config not available, falling back to kubeconfig", "err", err)
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			clientcmd.NewDefaultClientConfigLoadingRules(),
			&clientcmd.ConfigOverrides{},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("load kubernetes config: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}

	return &K8sExecutor{config: config, client: client, policy: pol}, nil
}

// Exec runs command in the pod's container. The command name must be on the
// allow-list; the run is bounded by the policy timeout and output cap.
func (e *K8sExecutor) Exec(ctx context.Context, namespace, pod, container string, command []string) (string, error) {
	if len(command) == 0 {
		return "", fmt.Errorf("empty command")
	}
	if !e.policy.CommandAllowed(command[0]) {
		return "", fmt.Errorf("command %q is not on the exec allow-list", command[0])
	}

	ctx, cancel := context.WithTimeout(ctx, e.policy.Timeout())
	defer cancel()

	req := e.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(e.config, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("create exec session: %w", err)
	}

	stdout := newCappedBuffer(e.policy.MaxOutputBytes)
	stderr := newCappedBuffer(e.policy.MaxOutputBytes)
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		out := strings.TrimSpace(stdout.String() + stderr.String())
		if out == "" {
			out = "(no output)"
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("exec timed out or was cancelled: %v\nOutput: %s", ctx.Err(), out)
		}
		return "", fmt.Errorf("exec %s failed: %v\nOutput: %s", command[0], err, out)
	}

	return stdout.String(), nil
}

// cappedBuffer accepts writes but silently discards everything past its cap,
// so a huge file cannot blow out a run.
type cappedBuffer struct {
	buf       bytes.Buffer
	remaining int
	truncated bool
}

func newCappedBuffer(capBytes int) *cappedBuffer {
	return &cappedBuffer{remaining: capBytes}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.remaining <= 0 {
		b.truncated = true
		return n, nil
	}
	if n > b.remaining {
		p = p[:b.remaining]
		b.truncated = true
	}
	b.buf.Write(p)
	b.remaining -= len(p)
	return n, nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }

// --- read_pod_file ---

// ReadFileTool reads a file from inside the crashing pod.
type ReadFileTool struct {
	Exec   PodExecutor
	Policy *policy.Config
}

func (t *ReadFileTool) Declaration() Declaration {
	return Declaration{
		Name: "read_pod_file",
		Description: "Read a file from inside the crashing pod. Use this to check " +
			"configuration files, package.json, requirements.txt, or source code " +
			"that might be causing the issue.",
		Properties: map[string]any{
			"namespace": map[string]any{"type": "string", "description": "Kubernetes namespace"},
			"pod_name":  map[string]any{"type": "string", "description": "Pod name"},
			"file_path": map[string]any{
				"type": "string",
				"description": "File path to read. Common paths: '/app/package.json', " +
					"'/app/requirements.txt', '/app/config.js', '/app/.env'",
			},
			"container": map[string]any{
				"type": "string", "description": "Container name (optional, uses first container if not specified)",
			},
		},
		Required: []string{"namespace", "pod_name", "file_path"},
	}
}

type filePayload struct {
	Success   bool   `json:"success"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

func (t *ReadFileTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if err := requireStrings(args, "namespace", "pod_name", "file_path"); err != nil {
		return nil, err
	}
	path := stringArg(args, "file_path")
	if !t.Policy.PathAllowed(path) {
		return nil, fmt.Errorf("path %q is not on the read allow-list", path)
	}

	out, err := t.Exec.Exec(ctx,
		stringArg(args, "namespace"), stringArg(args, "pod_name"),
		stringArg(args, "container"), []string{"cat", path})
	if err != nil {
		return nil, err
	}
	if out == "" || strings.Contains(out, "No such file") {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	return filePayload{
		Success:   true,
		Path:      path,
		Content:   truncate(out, maxFileChars),
		Truncated: len(out) > maxFileChars,
	}, nil
}

// --- list_pod_files ---

// ListFilesTool lists files in a directory inside the pod.
type ListFilesTool struct {
	Exec   PodExecutor
	Policy *policy.Config
}

func (t *ListFilesTool) Declaration() Declaration {
	return Declaration{
		Name: "list_pod_files",
		Description: "List files in a directory inside the pod. Use this to discover " +
			"what configuration files or source files exist before reading them.",
		Properties: map[string]any{
			"namespace": map[string]any{"type": "string", "description": "Kubernetes namespace"},
			"pod_name":  map[string]any{"type": "string", "description": "Pod name"},
			"directory": map[string]any{
				"type": "string", "description": "Directory to list. Common: '/app', '/etc', '/config'",
			},
			"container": map[string]any{"type": "string", "description": "Container name (optional)"},
		},
		Required: []string{"namespace", "pod_name"},
	}
}

type dirEntry struct {
	Permissions string `json:"permissions"`
	Size        string `json:"size"`
	Name        string `json:"name"`
}

type dirPayload struct {
	Success   bool       `json:"success"`
	Directory string     `json:"directory"`
	FileCount int        `json:"fileCount"`
	Files     []dirEntry `json:"files"`
}

func (t *ListFilesTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if err := requireStrings(args, "namespace", "pod_name"); err != nil {
		return nil, err
	}
	dir := stringArg(args, "directory")
	if dir == "" {
		dir = "/app"
	}
	if !t.Policy.PathAllowed(dir) {
		return nil, fmt.Errorf("directory %q is not on the read allow-list", dir)
	}

	out, err := t.Exec.Exec(ctx,
		stringArg(args, "namespace"), stringArg(args, "pod_name"),
		stringArg(args, "container"), []string{"ls", "-la", dir})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, fmt.Errorf("directory not found: %s", dir)
	}

	files := parseLsOutput(out)
	if len(files) > maxDirEntries {
		files = files[:maxDirEntries]
	}
	return dirPayload{
		Success:   true,
		Directory: dir,
		FileCount: len(files),
		Files:     files,
	}, nil
}

// parseLsOutput converts `ls -la` lines into structured entries, skipping
// the "total" header.
func parseLsOutput(out string) []dirEntry {
	var files []dirEntry
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Fields(line)
		if len(parts) < 9 || strings.HasPrefix(line, "total") {
			continue
		}
		files = append(files, dirEntry{
			Permissions: parts[0],
			Size:        parts[4],
			Name:        strings.Join(parts[8:], " "),
		})
	}
	return files
}

// --- get_pod_env ---

// PodEnvTool reads environment variables from the pod, masking secrets.
type PodEnvTool struct {
	Exec PodExecutor
}

func (t *PodEnvTool) Declaration() Declaration {
	return Declaration{
		Name: "get_pod_env",
		Description: "Get environment variables from the pod. Use this to check if " +
			"required configuration is missing or incorrect. Secret-like values are masked.",
		Properties: map[string]any{
			"namespace": map[string]any{"type": "string", "description": "Kubernetes namespace"},
			"pod_name":  map[string]any{"type": "string", "description": "Pod name"},
			"filter": map[string]any{
				"type": "string", "description": "Filter env vars containing this string (optional). Example: 'DATABASE'",
			},
			"container": map[string]any{"type": "string", "description": "Container name (optional)"},
		},
		Required: []string{"namespace", "pod_name"},
	}
}

type envPayload struct {
	Success  bool              `json:"success"`
	EnvCount int               `json:"envCount"`
	EnvVars  map[string]string `json:"envVars"`
	Filter   string            `json:"filter"`
}

// sensitiveKeyMarkers flag env var names whose values are masked.
var sensitiveKeyMarkers = []string{"PASSWORD", "SECRET", "TOKEN", "KEY", "CREDENTIAL", "PRIVATE"}

func (t *PodEnvTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	if err := requireStrings(args, "namespace", "pod_name"); err != nil {
		return nil, err
	}

	out, err := t.Exec.Exec(ctx,
		stringArg(args, "namespace"), stringArg(args, "pod_name"),
		stringArg(args, "container"), []string{"env"})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, fmt.Errorf("could not read environment variables")
	}

	filter := stringArg(args, "filter")
	envVars := parseEnvOutput(out, filter)

	payload := envPayload{
		Success:  true,
		EnvCount: len(envVars),
		EnvVars:  envVars,
		Filter:   filter,
	}
	if payload.Filter == "" {
		payload.Filter = "none"
	}
	return payload, nil
}

// parseEnvOutput splits `env` output into a map, applying the optional
// substring filter and masking sensitive values.
func parseEnvOutput(out, filter string) map[string]string {
	envVars := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToUpper(key), strings.ToUpper(filter)) {
			continue
		}
		if isSensitiveKey(key) {
			value = "***MASKED***"
		}
		envVars[key] = truncate(value, 200)
	}
	return envVars
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
