// Package sandbox executes operator-supplied transformation scripts in
// per-rule isolated Python environments. Scripts receive the job's
// extracted data through a JSON input file and hand their output_data
// back through a JSON result file; each invocation is an independent
// subprocess with a hard timeout.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
)

const (
	defaultTimeout = 300 * time.Second

	// Retry delays double per attempt and never exceed the cap.
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 300 * time.Second
)

// Execution is the outcome of one script invocation.
type Execution struct {
	Status       model.ExecutionStatus
	OutputData   map[string]interface{}
	Stdout       string
	Stderr       string
	Duration     time.Duration
	ErrorMessage string
}

// Executor runs pipeline scripts against cached runtimes.
type Executor struct {
	cache *RuntimeCache
	cfg   config.SandboxConfig
}

// NewExecutor returns an executor backed by a fresh runtime cache.
func NewExecutor(cfg config.SandboxConfig) *Executor {
	return &Executor{cache: NewRuntimeCache(cfg), cfg: cfg}
}

// Execute runs the pipeline's script once. The work directory is
// created per invocation and always removed afterwards; runtimes are
// reused across invocations of the same rule.
func (e *Executor) Execute(ctx context.Context, p *model.Pipeline, in Input) (*Execution, error) {
	rt, err := e.cache.Get(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare runtime: %w", err)
	}
	return e.run(ctx, rt.Python, p, in)
}

// run invokes the harness with the given interpreter. Split out so
// tests can drive it without provisioning a venv.
func (e *Executor) run(ctx context.Context, interpreter string, p *model.Pipeline, in Input) (*Execution, error) {
	workDir, err := os.MkdirTemp(e.cfg.WorkDir, "docfold-exec-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input.json")
	outputPath := filepath.Join(workDir, "output.json")
	harnessPath := filepath.Join(workDir, "harness.py")
	scriptPath := filepath.Join(workDir, "script.py")

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	for path, data := range map[string][]byte{
		inputPath:   payload,
		harnessPath: []byte(harnessSource),
		scriptPath:  []byte(p.Script),
	} {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
	}

	timeout := defaultTimeout
	if e.cfg.DefaultTimeout > 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, interpreter, harnessPath, inputPath, outputPath, scriptPath)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = mergedEnv(p.EnvVars)

	start := time.Now()
	runErr := cmd.Run()
	result := &Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.Status = model.ExecutionTimeout
		result.ErrorMessage = fmt.Sprintf("execution timeout after %s", timeout)
		common.Logger.WithField("pipeline_id", p.ID).Warn("sandbox execution timed out")
		return result, nil
	}
	if runErr != nil {
		result.Status = model.ExecutionFailed
		result.ErrorMessage = fmt.Sprintf("harness exited: %v", runErr)
		return result, nil
	}

	out, err := readOutput(outputPath)
	if err != nil {
		result.Status = model.ExecutionFailed
		result.ErrorMessage = err.Error()
		return result, nil
	}
	if !out.Success {
		result.Status = model.ExecutionFailed
		result.ErrorMessage = out.ErrorMessage
		return result, nil
	}

	result.Status = model.ExecutionSuccess
	result.OutputData = out.OutputData
	return result, nil
}

// RetryDelay is the delay before the given retry attempt. The first
// retry waits the base delay; each further retry doubles it up to the
// cap.
func RetryDelay(retryCount int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

func readOutput(path string) (*Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script produced no result file: %w", err)
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode result file: %w", err)
	}
	return &out, nil
}

// mergedEnv layers the operator's declared variables over the process
// environment and pins UTF-8 I/O for the interpreter.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	env = append(env, "PYTHONIOENCODING=utf-8")
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
