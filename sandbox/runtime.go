package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/model"
)

const depsMarkerFile = ".deps"

// Runtime is one provisioned isolated interpreter environment.
type Runtime struct {
	Dir    string
	Python string
}

// RuntimeCache provisions and reuses per-rule virtual environments.
// Environments are keyed by the pipeline's RuntimeKey and rebuilt when
// the declared dependency list no longer matches the provisioned one.
type RuntimeCache struct {
	cfg config.SandboxConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRuntimeCache returns a cache rooted at the configured directory.
func NewRuntimeCache(cfg config.SandboxConfig) *RuntimeCache {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	return &RuntimeCache{cfg: cfg, locks: make(map[string]*sync.Mutex)}
}

// Get returns the runtime for the pipeline, provisioning it on first
// use. Concurrent callers for the same rule serialize on a per-key
// lock; different rules provision in parallel.
func (c *RuntimeCache) Get(ctx context.Context, p *model.Pipeline) (*Runtime, error) {
	lock := c.keyLock(p.RuntimeKey)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(c.cfg.CacheDir, p.RuntimeKey)
	rt := &Runtime{Dir: dir, Python: venvPython(dir)}

	if c.valid(dir, p.Dependencies) {
		return rt, nil
	}

	common.Logger.WithField("runtime_key", p.RuntimeKey).Info("provisioning sandbox runtime")
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear stale runtime: %w", err)
	}
	if err := c.provision(ctx, dir, p.Dependencies); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return rt, nil
}

// Invalidate drops a provisioned runtime, forcing a rebuild on next use.
func (c *RuntimeCache) Invalidate(runtimeKey string) error {
	lock := c.keyLock(runtimeKey)
	lock.Lock()
	defer lock.Unlock()
	return os.RemoveAll(filepath.Join(c.cfg.CacheDir, runtimeKey))
}

func (c *RuntimeCache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

// valid reports whether dir holds a runtime provisioned for exactly
// deps. The marker file records the dependency list at provision time.
func (c *RuntimeCache) valid(dir string, deps []string) bool {
	marker, err := os.ReadFile(filepath.Join(dir, depsMarkerFile))
	if err != nil {
		return false
	}
	if _, err := os.Stat(venvPython(dir)); err != nil {
		return false
	}
	return string(marker) == depsMarker(deps)
}

func (c *RuntimeCache) provision(ctx context.Context, dir string, deps []string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.cfg.Interpreter, "-m", "venv", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create venv: %w: %s", err, strings.TrimSpace(string(out)))
	}

	if len(deps) > 0 {
		args := []string{"install", "--disable-pip-version-check"}
		if c.cfg.PipIndexURL != "" {
			args = append(args, "--index-url", c.cfg.PipIndexURL)
		}
		args = append(args, deps...)
		cmd = exec.CommandContext(ctx, venvPip(dir), args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("failed to install dependencies: %w: %s", err, strings.TrimSpace(string(out)))
		}
	}

	if err := os.WriteFile(filepath.Join(dir, depsMarkerFile), []byte(depsMarker(deps)), 0o644); err != nil {
		return fmt.Errorf("failed to write deps marker: %w", err)
	}
	return nil
}

func depsMarker(deps []string) string {
	return strings.Join(deps, "\n")
}

func venvPython(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, "Scripts", "python.exe")
	}
	return filepath.Join(dir, "bin", "python")
}

func venvPip(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, "Scripts", "pip.exe")
	}
	return filepath.Join(dir, "bin", "pip")
}
