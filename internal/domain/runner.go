package domain

import (
	"context"
	"io"
	"time"
)

// Output receives the combined stdout/stderr bytes of a command running in a
// sandbox. The producer writes chunks, then signals exactly one of Complete
// or Fail. Attach hands the output a function that stops the producer early.
type Output interface {
	io.Writer
	Attach(stop func())
	Complete()
	Fail(err error)
}

// SandboxInfo describes a sandbox container found on the runtime.
type SandboxInfo struct {
	ContainerID string
	ExecutionID string
	CreatedAt   time.Time
}

// Sandbox defines the contract for the isolated container environment an
// execution runs in. Implementations handle the low-level container lifecycle.
type Sandbox interface {
	// CreateContainer starts a locked-down container from image and returns its id.
	// The container idles until commands are run in it.
	CreateContainer(ctx context.Context, image, executionID string) (string, error)

	// CopyFile uploads a single local file into destDir of a running container.
	CopyFile(ctx context.Context, localPath, containerID, destDir string) error

	// RunCommand starts command inside the container under the hard timeout and
	// streams its output to out. It returns once the session is set up.
	RunCommand(ctx context.Context, containerID, command string, out Output) error

	// Destroy force-removes the container. It is idempotent and never fails.
	Destroy(containerID string)

	// ListSandboxes returns every container this service created.
	ListSandboxes(ctx context.Context) ([]SandboxInfo, error)
}
