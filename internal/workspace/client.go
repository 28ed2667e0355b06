// Package workspace provides a typed client for the external execution
// service that owns cloned repository working trees, snapshots, and
// sandboxed code execution.
package workspace

import (
	"context"
	"errors"
)

// ErrExecutorUnavailable wraps any error returned by the execution service,
// whether a transport failure or a non-2xx response.
var ErrExecutorUnavailable = errors.New("workspace: execution service unavailable")

// RunResult is the outcome of a sandboxed code execution.
type RunResult struct {
	ExitCode  int     `json:"exit_code"`
	Stdout    string  `json:"stdout"`
	Stderr    string  `json:"stderr"`
	ElapsedS  float64 `json:"elapsed_sec"`
	ErrorType string  `json:"error_type"` // "", "TIMEOUT", "POLICY_VIOLATION"
}

// SnapshotResult is the outcome of taking a workspace snapshot.
type SnapshotResult struct {
	WorkspaceRef string `json:"workspace_ref"`
	SnapshotKey  string `json:"snapshot_key"`
	SizeBytes    int64  `json:"size_bytes"`
}

// Client is the contract the Job Service and Agent Loop use to drive the
// external execution service. The execution service itself is out of
// scope for this repository; Client is the seam.
type Client interface {
	// Create clones repoURL at gitRef into a fresh workspace identified by
	// workspaceRef.
	Create(ctx context.Context, workspaceRef, repoURL, gitRef string) error

	// Snapshot captures the current workspace state and returns an opaque
	// key that Restore can later use to roll back to this point.
	Snapshot(ctx context.Context, workspaceRef string) (SnapshotResult, error)

	// Restore rolls the workspace back to a previously captured snapshot.
	Restore(ctx context.Context, workspaceRef, snapshotKey string) error

	// RunCode executes code inside the workspace's sandbox with the given
	// wall-clock timeout, in seconds.
	RunCode(ctx context.Context, workspaceRef, code string, timeoutSec int) (RunResult, error)

	// Delete tears down the workspace. Errors from Delete are always
	// logged and swallowed by callers; cleanup never rolls back a
	// committing transaction.
	Delete(ctx context.Context, workspaceRef string) error
}
