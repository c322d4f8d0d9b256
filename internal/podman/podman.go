// Package podman implements the runtime adapter by driving the podman CLI.
// Every call shells out to the podman binary; container listings are read
// from its JSON output.
package podman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/logger"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/runtime"
)

// BackendName is the registry name of this adapter.
const BackendName = "podman"

// DefaultBinary is used when no binary is configured.
const DefaultBinary = "podman"

func init() {
	runtime.Register(BackendName, func(opts runtime.Options) (runtime.Adapter, error) {
		return New(opts, ExecRunner{}), nil
	})
}

// Client is the podman implementation of runtime.Adapter.
type Client struct {
	binary   string
	runner   Runner
	progress io.Writer
	log      logger.Logger
}

var _ runtime.Adapter = (*Client)(nil)

// New creates a Client that executes commands through runner.
func New(opts runtime.Options, runner Runner) *Client {
	c := &Client{
		binary:   opts.PodmanBinary,
		runner:   runner,
		progress: opts.Progress,
		log:      opts.Logger,
	}
	if c.binary == "" {
		c.binary = DefaultBinary
	}
	if c.progress == nil {
		c.progress = io.Discard
	}
	if c.log == nil {
		c.log = logger.Discard()
	}
	return c
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	c.log.Debug("podman", logger.F("args", strings.Join(args, " ")))
	out, err := c.runner.Run(ctx, c.binary, args...)
	return out, classify(err)
}

// Name implements runtime.Adapter.
func (c *Client) Name() string { return BackendName }

// Ping implements runtime.Adapter.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.run(ctx, "version", "--format", "{{.Client.Version}}"); err != nil {
		return &model.ConnectionError{Backend: BackendName, Err: err}
	}
	return nil
}

// Close implements runtime.Adapter.
func (c *Client) Close() error { return nil }

// psEntry is one element of `podman ps --format json`.
type psEntry struct {
	ID     string            `json:"Id"`
	Names  []string          `json:"Names"`
	State  string            `json:"State"`
	Labels map[string]string `json:"Labels"`
}

// ListOwnedContainers implements runtime.Adapter.
func (c *Client) ListOwnedContainers(ctx context.Context, project string) ([]model.ContainerRecord, error) {
	out, err := c.run(ctx, "ps", "-a", "--filter", "label="+label.ProjectFilter(project), "--format", "json")
	if err != nil {
		return nil, &model.ConnectionError{Backend: BackendName, Err: err}
	}
	return parsePS(out)
}

func parsePS(out []byte) ([]model.ContainerRecord, error) {
	if len(strings.TrimSpace(string(out))) == 0 {
		return nil, nil
	}
	var entries []psEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse podman ps output: %w", err)
	}
	records := make([]model.ContainerRecord, 0, len(entries))
	for _, e := range entries {
		name := ""
		if len(e.Names) > 0 {
			name = e.Names[0]
		}
		records = append(records, model.ContainerRecord{
			ID:     e.ID,
			Name:   name,
			Status: model.ParseContainerStatus(e.State),
			Labels: e.Labels,
		})
	}
	return records, nil
}

// CreateContainer implements runtime.Adapter.
func (c *Client) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	out, err := c.run(ctx, createArgs(spec)...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// createArgs builds the `podman create` argument list for spec.
func createArgs(spec runtime.ContainerSpec) []string {
	svc := spec.Service
	args := []string{"create", "--name", spec.Name}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network, "--network-alias", svc.Name)
	}
	for _, p := range svc.Ports {
		args = append(args, "-p", p)
	}
	for _, v := range svc.Volumes {
		args = append(args, "-v", v)
	}
	for _, k := range sortedKeys(svc.Environment) {
		args = append(args, "-e", k+"="+svc.Environment[k])
	}
	if svc.Restart != "" {
		args = append(args, "--restart", svc.Restart)
	}
	args = append(args, svc.Image)
	return append(args, svc.Command...)
}

// StartContainer implements runtime.Adapter.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	_, err := c.run(ctx, "start", id)
	return err
}

// StopContainer implements runtime.Adapter.
func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Round(time.Second) / time.Second)
	_, err := c.run(ctx, "stop", "-t", strconv.Itoa(secs), id)
	return err
}

// RemoveContainer implements runtime.Adapter.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	_, err := c.run(ctx, "rm", "-v", id)
	return err
}

// BuildImage implements runtime.Adapter.
func (c *Client) BuildImage(ctx context.Context, req runtime.BuildRequest) (string, error) {
	out := req.Progress
	if out == nil {
		out = c.progress
	}
	args := buildArgs(req)
	c.log.Debug("podman", logger.F("args", strings.Join(args, " ")))
	if err := classify(c.runner.Stream(ctx, out, c.binary, args...)); err != nil {
		return "", err
	}
	return req.Image, nil
}

func buildArgs(req runtime.BuildRequest) []string {
	args := []string{"build", "-t", req.Image}
	if req.Build.Dockerfile != "" {
		args = append(args, "-f", req.Build.Dockerfile)
	}
	for _, k := range sortedKeys(req.Build.Args) {
		args = append(args, "--build-arg", k+"="+req.Build.Args[k])
	}
	if req.Build.Target != "" {
		args = append(args, "--target", req.Build.Target)
	}
	if req.NoCache {
		args = append(args, "--no-cache")
	}
	if req.Pull {
		args = append(args, "--pull")
	}
	for _, k := range sortedKeys(req.Labels) {
		args = append(args, "--label", k+"="+req.Labels[k])
	}
	return append(args, req.Build.Context)
}

// ImageExists implements runtime.Adapter. `podman image exists` exits 1
// when the image is absent.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.run(ctx, "image", "exists", ref)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == 1 {
		return false, nil
	}
	return false, err
}

// PullImage implements runtime.Adapter.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	return classify(c.runner.Stream(ctx, c.progress, c.binary, "pull", ref))
}

// EnsureNetwork implements runtime.Adapter.
func (c *Client) EnsureNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := c.run(ctx, "network", "exists", name)
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != 1 {
		return err
	}

	args := []string{"network", "create"}
	for _, k := range sortedKeys(labels) {
		args = append(args, "--label", k+"="+labels[k])
	}
	_, err = c.run(ctx, append(args, name)...)
	if err != nil && !errdefs.IsConflict(err) {
		return err
	}
	c.log.Info("network created", logger.F("network", name))
	return nil
}

// RemoveNetwork implements runtime.Adapter.
func (c *Client) RemoveNetwork(ctx context.Context, name string) error {
	_, err := c.run(ctx, "network", "rm", name)
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
