package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/inquest-dev/inquest/internal/logging"
	"github.com/inquest-dev/inquest/internal/remote"
	"github.com/inquest-dev/inquest/internal/toolset"
)

const DefaultTimeout = 60 * time.Second

// RemoteCaller is the slice of the remote manager the invoker needs.
type RemoteCaller interface {
	CallTool(ctx context.Context, namespaced string, args map[string]interface{}) (*remote.CallResult, error)
}

// Invoker executes tools and wraps every outcome in a Result. It never
// reports tool failure as a Go error; transport problems, nonzero exits
// and timeouts all become error-status Results the model can react to.
type Invoker struct {
	remotes        RemoteCaller
	defaultTimeout time.Duration
	logger         *logging.Logger
}

// New builds an invoker. remotes may be nil when no remote servers are
// configured; defaultTimeout <= 0 uses DefaultTimeout.
func New(remotes RemoteCaller, defaultTimeout time.Duration) *Invoker {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Invoker{
		remotes:        remotes,
		defaultTimeout: defaultTimeout,
		logger:         logging.GetLogger("invoker"),
	}
}

// Invoke runs a local tool. secrets is the merged operator-only secret
// set (toolset config plus instance credentials); secret values are
// substituted only at the template positions of the original command
// and never appear in the Result.
func (inv *Invoker) Invoke(ctx context.Context, tool *toolset.ResolvedTool, params map[string]interface{}, secrets map[string]string) *Result {
	def := tool.Definition

	params, err := normalizeParams(def, params)
	if err != nil {
		return errorResult(def.Command, params, -1, err.Error())
	}

	echoed, err := renderParams(def.Command, params, secrets)
	if err != nil {
		return errorResult(def.Command, params, -1, err.Error())
	}

	command, err := renderCommand(def.Command, params, secrets)
	if err != nil {
		return errorResult(echoed, params, -1, err.Error())
	}

	timeout := inv.defaultTimeout
	if def.TimeoutSeconds > 0 {
		timeout = time.Duration(def.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	inv.logger.DebugWithFields("invoking tool",
		logging.Field("tool", def.Name),
		logging.Field("timeout", timeout.String()),
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Run the tool in its own process group so a timeout kills the whole
	// pipeline, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	runErr := cmd.Run()

	result := &Result{
		Status:     StatusSuccess,
		Data:       stdout.String(),
		ReturnCode: 0,
		Invocation: echoed,
		Params:     params,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.Status = StatusError
		result.ReturnCode = -1
		result.Error = fmt.Sprintf("tool %s timed out after %s", def.Name, timeout)
		return result
	}

	if runErr != nil {
		result.Status = StatusError
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
		}
		result.Error = strings.TrimSpace(stderr.String())
		if result.Error == "" {
			result.Error = runErr.Error()
		}
	}
	return result
}

// normalizeParams checks the call against the declared parameter schema.
// A missing required parameter is an error; a missing optional one is
// filled with its default, or an empty string so templates can guard it
// with {{ if }}. Undeclared extras pass through untouched.
func normalizeParams(def *toolset.ToolDefinition, params map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(def.Parameters)+len(params))
	for name, v := range params {
		out[name] = v
	}
	for name, spec := range def.Parameters {
		if _, ok := out[name]; ok {
			continue
		}
		switch {
		case spec.Required:
			return nil, fmt.Errorf("missing required parameter %q", name)
		case spec.Default != nil:
			out[name] = spec.Default
		default:
			out[name] = ""
		}
	}
	return out, nil
}

// InvokeRemote delegates a namespaced tool call to its server connection.
func (inv *Invoker) InvokeRemote(ctx context.Context, namespaced string, args map[string]interface{}) *Result {
	if inv.remotes == nil {
		return errorResult(namespaced, args, -1, "no remote servers configured")
	}

	call, err := inv.remotes.CallTool(ctx, namespaced, args)
	if err != nil {
		return errorResult(namespaced, args, -1, err.Error())
	}

	result := &Result{
		Status:     StatusSuccess,
		Data:       call.Text,
		Invocation: namespaced,
		Params:     args,
	}
	if call.IsError {
		result.Status = StatusError
		result.Error = call.Text
		result.Data = ""
		result.ReturnCode = -1
	}
	return result
}
