package executor

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/modelguard/modelguard/pkg/types"
)

// RealCommandExecutor is a struct that implements the CommandExecutor interface.
type RealCommandExecutor struct {
	// killDelay bounds how long a canceled process may linger before
	// it is hard-killed.
	killDelay time.Duration
}

// ExecuteCommand executes a command and returns the stdout, stderr, and error.
// The process is terminated when ctx is canceled or its deadline passes, so
// no analyzer child process outlives its invocation.
func (r *RealCommandExecutor) ExecuteCommand(ctx context.Context, name string, args []string,
	env []string) (stdout string, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.WaitDelay = r.killDelay
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	err = cmd.Run()
	return outb.String(), errb.String(), err
}

// NewCommandExecutor creates a new instance of the RealCommandExecutor.
func NewCommandExecutor() types.CommandExecutor {
	return &RealCommandExecutor{killDelay: 3 * time.Second}
}
