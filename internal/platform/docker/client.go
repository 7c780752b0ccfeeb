package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dontdude/codestream/internal/domain"
)

// Labels put on every sandbox so orphans can be found after a crash.
const (
	LabelManaged   = "codestream.managed"
	LabelExecution = "codestream.execution"
)

// removeTimeout bounds a forced removal, which runs detached from any request.
const removeTimeout = 15 * time.Second

// Config holds the sandbox limits applied to every container.
type Config struct {
	Host            string
	MemoryMB        int64
	CPUQuota        int64
	CPUPeriod       int64
	CPUShares       int64
	PidsLimit       int64
	MaxFileSizeMB   int64
	MaxOpenFiles    int64
	User            string
	WorkspaceDir    string
	WorkspaceSizeMB int64
	Timeout         time.Duration
	KillGrace       time.Duration
}

// dockerAPI is the subset of the SDK client the controller needs.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// Client wraps the official Docker SDK client and creates hardened sandboxes.
type Client struct {
	api    dockerAPI
	cfg    Config
	logger *slog.Logger
}

// Check if Client implements domain.Sandbox
var _ domain.Sandbox = (*Client)(nil)

// NewClient initializes and returns a verified Docker client.
// It pings the daemon so a broken environment fails at startup instead of on
// the first execution.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	logger.Info("Docker client initialized successfully", "host", cli.DaemonHost())
	return newClient(cli, cfg, logger), nil
}

func newClient(api dockerAPI, cfg Config, logger *slog.Logger) *Client {
	return &Client{api: api, cfg: cfg, logger: logger}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// CreateContainer starts an idle, locked-down container from image.
// The container sleeps a little longer than the execution timeout so commands
// can be run in it before it is removed.
func (c *Client) CreateContainer(ctx context.Context, image, executionID string) (string, error) {
	sleep := strconv.Itoa(int((c.cfg.Timeout + c.cfg.KillGrace).Seconds()) + 10)

	resp, err := c.api.ContainerCreate(ctx, &container.Config{
		Image:      image,
		Cmd:        []string{"sleep", sleep},
		User:       c.cfg.User,
		Env:        []string{"HOME=" + c.cfg.WorkspaceDir},
		WorkingDir: c.cfg.WorkspaceDir,
		Labels: map[string]string{
			LabelManaged:   "true",
			LabelExecution: executionID,
		},
	}, c.hostConfig(), nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", domain.ErrSandboxCreation, image, err)
	}

	if err := c.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		c.Destroy(resp.ID)
		return "", fmt.Errorf("%w: start %s: %v", domain.ErrSandboxCreation, image, err)
	}

	c.logger.Info("Sandbox started", "executionID", executionID, "containerID", shortID(resp.ID), "image", image)
	return resp.ID, nil
}

func (c *Client) hostConfig() *container.HostConfig {
	memory := c.cfg.MemoryMB * 1024 * 1024
	fileSize := c.cfg.MaxFileSizeMB * 1024 * 1024
	workspaceSize := c.cfg.WorkspaceSizeMB * 1024 * 1024
	oomKillDisable := false
	swappiness := int64(0)
	pids := c.cfg.PidsLimit

	return &container.HostConfig{
		NetworkMode: container.NetworkMode("none"),
		Privileged:  false,
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Tmpfs: map[string]string{
			c.cfg.WorkspaceDir: fmt.Sprintf("rw,exec,size=%d,uid=%s,gid=%s", workspaceSize, uid(c.cfg.User), gid(c.cfg.User)),
		},
		Resources: container.Resources{
			Memory:           memory,
			MemorySwap:       memory,
			MemorySwappiness: &swappiness,
			OomKillDisable:   &oomKillDisable,
			CPUQuota:         c.cfg.CPUQuota,
			CPUPeriod:        c.cfg.CPUPeriod,
			CPUShares:        c.cfg.CPUShares,
			PidsLimit:        &pids,
			Ulimits: []*container.Ulimit{
				{Name: "fsize", Soft: fileSize, Hard: fileSize},
				{Name: "nofile", Soft: c.cfg.MaxOpenFiles, Hard: c.cfg.MaxOpenFiles},
				{Name: "nproc", Soft: c.cfg.PidsLimit, Hard: c.cfg.PidsLimit},
			},
		},
	}
}

// CopyFile packs localPath into a single-entry tar stream and extracts it
// into destDir of the running container.
func (c *Client) CopyFile(ctx context.Context, localPath, containerID, destDir string) error {
	archive, err := tarFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInjection, err)
	}

	if err := c.api.CopyToContainer(ctx, containerID, destDir, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("%w: copy to %s: %v", domain.ErrInjection, destDir, err)
	}

	c.logger.Debug("Source injected", "containerID", shortID(containerID), "file", filepath.Base(localPath), "dest", destDir)
	return nil
}

func tarFile(localPath string) (io.Reader, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", localPath, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    filepath.Base(localPath),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}

// RunCommand starts command in the container under the hard timeout and
// streams the demultiplexed stdout/stderr into out from a background
// goroutine. It returns once the exec session is attached.
func (c *Client) RunCommand(ctx context.Context, containerID, command string, out domain.Output) error {
	exec, err := c.api.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		User:         c.cfg.User,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		WorkingDir:   c.cfg.WorkspaceDir,
		Cmd:          c.execCommand(command),
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}

	hj, err := c.api.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach exec: %w", err)
	}

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(hj.Close) }
	out.Attach(closeConn)

	go func() {
		defer closeConn()

		_, err := stdcopy.StdCopy(out, out, hj.Reader)
		if err != nil {
			c.logger.Debug("Exec stream ended with error", "containerID", shortID(containerID), "error", err)
			out.Fail(err)
			return
		}

		c.logExit(containerID, exec.ID)
		out.Complete()
	}()

	return nil
}

func (c *Client) logExit(containerID, execID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	inspect, err := c.api.ContainerExecInspect(ctx, execID)
	if err != nil {
		c.logger.Debug("Failed to inspect exec", "containerID", shortID(containerID), "error", err)
		return
	}
	c.logger.Info("Command finished", "containerID", shortID(containerID), "exitCode", inspect.ExitCode)
}

// execCommand wraps the script in coreutils timeout: TERM at the deadline,
// KILL after the grace period.
func (c *Client) execCommand(script string) []string {
	wrapped := fmt.Sprintf("timeout -s TERM -k %d %d sh -c %s",
		int(c.cfg.KillGrace.Seconds()), int(c.cfg.Timeout.Seconds()), shellQuote(script))
	return []string{"sh", "-c", wrapped}
}

// Destroy force-removes the container with its volumes. Errors are logged and
// swallowed; removing an unknown container is a no-op.
func (c *Client) Destroy(containerID string) {
	if containerID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	err := c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	switch {
	case err == nil:
		c.logger.Info("Sandbox removed", "containerID", shortID(containerID))
	case errdefs.IsNotFound(err):
		c.logger.Debug("Sandbox already gone", "containerID", shortID(containerID))
	default:
		c.logger.Warn("Failed to remove sandbox", "containerID", shortID(containerID), "error", err)
	}
}

// ListSandboxes returns every container labelled as managed by this service.
func (c *Client) ListSandboxes(ctx context.Context) ([]domain.SandboxInfo, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}

	infos := make([]domain.SandboxInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, domain.SandboxInfo{
			ContainerID: s.ID,
			ExecutionID: s.Labels[LabelExecution],
			CreatedAt:   time.Unix(s.Created, 0),
		})
	}
	return infos, nil
}

// shellQuote wraps s in single quotes so sh passes it through verbatim.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func uid(user string) string {
	u, _, _ := strings.Cut(user, ":")
	return u
}

func gid(user string) string {
	u, g, ok := strings.Cut(user, ":")
	if !ok {
		return u
	}
	return g
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
