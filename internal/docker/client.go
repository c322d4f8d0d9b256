package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	goruntime "runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/mmr-tortoise/flotilla/internal/logger"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/runtime"
)

// BackendName is the registry name of this adapter.
const BackendName = "docker"

// defaultPingTimeout is the maximum duration to wait for a Docker daemon
// response during a Ping operation. Docker Desktop on macOS can be slower
// than native Linux Docker.
const defaultPingTimeout = 5 * time.Second

func init() {
	runtime.Register(BackendName, func(opts runtime.Options) (runtime.Adapter, error) {
		c, err := NewClient(opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Client is the Docker implementation of runtime.Adapter. It wraps the
// Docker SDK client and is safe for concurrent use.
//
// Usage:
//
//	c, err := docker.NewClient(runtime.Options{})
//	if err != nil { /* handle */ }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { /* Docker not running */ }
type Client struct {
	// inner is the underlying Docker SDK client. We wrap it rather than
	// embedding it to control the exposed API surface.
	inner *client.Client

	progress io.Writer
	log      logger.Logger
}

var _ runtime.Adapter = (*Client)(nil)

// NewClient creates a new Docker client with automatic socket detection.
//
// The detection strategy follows this priority order:
//  1. opts.DockerHost (the docker_host setting)
//  2. DOCKER_HOST environment variable (if set, used as-is)
//  3. Platform-specific default socket paths:
//     - Linux: /var/run/docker.sock
//     - macOS: /var/run/docker.sock, then ~/.docker/run/docker.sock
//     - Windows: npipe:////./pipe/docker_engine (Docker Named Pipe)
//
// Returns a *model.ConnectionError if no Docker socket is found or the
// client cannot be created.
func NewClient(opts runtime.Options) (*Client, error) {
	// Step 1: explicit configuration wins over the environment.
	host := opts.DockerHost
	if host == "" {
		host = os.Getenv("DOCKER_HOST")
	}

	// Step 2: auto-detect the Docker socket for the current platform.
	if host == "" {
		detected, err := detectDockerHost()
		if err != nil {
			return nil, &model.ConnectionError{Backend: BackendName, Err: err}
		}
		host = detected
	}

	c, err := newClientWithHost(host)
	if err != nil {
		return nil, err
	}
	c.progress = opts.Progress
	c.log = opts.Logger
	if c.progress == nil {
		c.progress = io.Discard
	}
	if c.log == nil {
		c.log = logger.Discard()
	}
	c.log.Debug("docker client created", logger.F("host", host))
	return c, nil
}

// newClientWithHost creates a Docker client connected to the specified host.
// The host parameter should be a valid Docker connection string (e.g.,
// "unix:///var/run/docker.sock" or "npipe:////./pipe/docker_engine").
func newClientWithHost(host string) (*Client, error) {
	// WithAPIVersionNegotiation keeps the client compatible with older
	// daemons without hardcoding an API version.
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, &model.ConnectionError{
			Backend: BackendName,
			Err:     fmt.Errorf("failed to create Docker client for host %q: %w", host, err),
		}
	}

	return &Client{inner: c}, nil
}

// detectDockerHost determines the Docker socket path for the current platform.
// It probes known socket paths and returns the first one that exists.
//
// Socket existence is checked rather than connectivity; Ping handles the
// latter.
func detectDockerHost() (string, error) {
	switch goruntime.GOOS {
	case "linux":
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
		})

	case "darwin":
		// Newer Docker Desktop versions may not create the /var/run symlink.
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return detectUnixSocket([]string{
				"/var/run/docker.sock",
			})
		}
		return detectUnixSocket([]string{
			"/var/run/docker.sock",
			homeDir + "/.docker/run/docker.sock",
		})

	case "windows":
		// os.Stat does not work on Windows named pipes, so probe with a dial.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, 1*time.Second)
		if err == nil {
			conn.Close()
			return "npipe://" + pipePath, nil
		}
		return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)

	default:
		return "", fmt.Errorf("unsupported platform: %s", goruntime.GOOS)
	}
}

// detectUnixSocket probes a list of Unix socket paths and returns the
// Docker host URI for the first socket that exists on the filesystem.
// Paths are checked in order, most-preferred first.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}

// Name implements runtime.Adapter.
func (c *Client) Name() string {
	return BackendName
}

// Ping verifies that the Docker daemon is reachable and responsive.
// It waits up to defaultPingTimeout for a response.
func (c *Client) Ping(ctx context.Context) error {
	// A paused Docker Desktop accepts connections but never answers.
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	_, err := c.inner.Ping(pingCtx)
	if err != nil {
		return &model.ConnectionError{Backend: BackendName, Err: err}
	}
	return nil
}

// Close releases all resources held by the Docker client.
// Close is safe to call multiple times.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
