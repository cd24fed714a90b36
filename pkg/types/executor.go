package types

import "context"

// CommandExecutor is an interface for executing external analyzer commands.
type CommandExecutor interface {
	// ExecuteCommand executes a command with the given name, arguments, and environment variables.
	// The command is killed when ctx is canceled or its deadline passes.
	// It returns the standard output, standard error, and any error that occurred during execution.
	ExecuteCommand(ctx context.Context, name string, args []string, env []string) (stdout string, stderr string, err error)
}
