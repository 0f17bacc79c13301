// Package plugins holds reference implementations of the opaque
// capabilities spec §1 places out of scope for the job manager itself
// (runtime, placement, package plugins). Bodies only ever depend on the
// narrow interfaces in pkg/bodies/services.go; these are one concrete
// backend for each, wired by pkg/coordinator.
package plugins

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/pacemaker/pkg/types"
)

// ShellRuntime is a RuntimePlugin that runs each instance as a plain child
// process, the way spec scenario 1 describes a shell-runtime instance type
// ("python app.py --port=%(port)d"). Command templates are keyed by
// instance type id and may reference %(port)d, substituted with the
// instance's allocated port.
type ShellRuntime struct {
	mu       sync.Mutex
	commands map[string]string
	procs    map[string]*exec.Cmd
}

// NewShellRuntime builds a ShellRuntime with the given instance-type-id to
// command-template mapping.
func NewShellRuntime(commands map[string]string) *ShellRuntime {
	return &ShellRuntime{
		commands: commands,
		procs:    make(map[string]*exec.Cmd),
	}
}

func renderCommand(template string, port int) string {
	return strings.ReplaceAll(template, "%(port)d", strconv.Itoa(port))
}

// Start implements RuntimePlugin.
func (r *ShellRuntime) Start(ctx context.Context, inst *types.Instance) error {
	template, ok := r.commands[inst.InstanceTypeID]
	if !ok {
		return fmt.Errorf("shell runtime: no command for instance type %s", inst.InstanceTypeID)
	}
	fields := strings.Fields(renderCommand(template, inst.Port))
	if len(fields) == 0 {
		return fmt.Errorf("shell runtime: empty command for instance type %s", inst.InstanceTypeID)
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Env = append(cmd.Environ(), fmt.Sprintf("PORT=%d", inst.Port))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("shell runtime: start %s: %w", inst.InstanceID, err)
	}

	r.mu.Lock()
	r.procs[inst.InstanceID] = cmd
	r.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		r.mu.Lock()
		delete(r.procs, inst.InstanceID)
		r.mu.Unlock()
	}()
	return nil
}

// Stop implements RuntimePlugin.
func (r *ShellRuntime) Stop(ctx context.Context, inst *types.Instance) error {
	r.mu.Lock()
	cmd, ok := r.procs[inst.InstanceID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("shell runtime: stop %s: %w", inst.InstanceID, err)
	}
	return nil
}
