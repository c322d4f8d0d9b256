// container.go implements container lifecycle operations. Only containers
// carrying the project ownership label are ever listed; the label filter is
// applied server-side by the daemon.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"github.com/mmr-tortoise/flotilla/internal/label"
	"github.com/mmr-tortoise/flotilla/internal/logger"
	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/runtime"
)

// ListOwnedContainers returns every container, including stopped ones,
// labelled as owned by project.
func (c *Client) ListOwnedContainers(ctx context.Context, project string) ([]model.ContainerRecord, error) {
	filterArgs := filters.NewArgs(
		filters.Arg("label", label.ProjectFilter(project)),
	)

	containers, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, &model.ConnectionError{Backend: BackendName, Err: fmt.Errorf("failed to list containers: %w", err)}
	}

	result := make([]model.ContainerRecord, 0, len(containers))
	for _, s := range containers {
		result = append(result, summaryToRecord(s))
	}
	return result, nil
}

// summaryToRecord converts a Docker API container summary to a
// ContainerRecord. The API returns names with a leading "/" which is
// stripped.
func summaryToRecord(s container.Summary) model.ContainerRecord {
	name := ""
	if len(s.Names) > 0 {
		name = strings.TrimPrefix(s.Names[0], "/")
	}
	return model.ContainerRecord{
		ID:     s.ID,
		Name:   name,
		Status: model.ParseContainerStatus(string(s.State)),
		Labels: s.Labels,
	}
}

// CreateContainer creates the container described by spec without
// starting it.
func (c *Client) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	cfg, hostCfg, netCfg, err := containerConfig(spec)
	if err != nil {
		return "", err
	}

	resp, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %q: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		c.log.WithService(spec.Service.Name).Warn("docker create warning", logger.F("warning", w))
	}
	return resp.ID, nil
}

// containerConfig translates a ContainerSpec into the three Docker API
// configuration structs. It is a pure function.
func containerConfig(spec runtime.ContainerSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig, error) {
	svc := spec.Service

	exposed, bindings, err := nat.ParsePortSpecs(svc.Ports)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid ports for service %s: %w", svc.Name, err)
	}

	restart, err := restartPolicy(svc.Restart)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := &container.Config{
		Image:        svc.Image,
		Cmd:          svc.Command,
		Env:          envList(svc.Environment),
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}

	hostCfg := &container.HostConfig{
		PortBindings:  bindings,
		Binds:         svc.Volumes,
		RestartPolicy: restart,
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {Aliases: []string{svc.Name}},
			},
		}
	}

	return cfg, hostCfg, netCfg, nil
}

// envList renders environment variables as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// restartPolicy parses "no", "always", "unless-stopped" and
// "on-failure[:max-retries]".
func restartPolicy(s string) (container.RestartPolicy, error) {
	name, retries, hasRetries := strings.Cut(s, ":")
	policy := container.RestartPolicy{Name: container.RestartPolicyMode(name)}
	switch policy.Name {
	case "", container.RestartPolicyDisabled:
		policy.Name = container.RestartPolicyDisabled
	case container.RestartPolicyAlways, container.RestartPolicyUnlessStopped:
	case container.RestartPolicyOnFailure:
		if hasRetries {
			n, err := strconv.Atoi(retries)
			if err != nil || n < 0 {
				return container.RestartPolicy{}, fmt.Errorf("invalid restart policy %q: bad retry count", s)
			}
			policy.MaximumRetryCount = n
		}
		return policy, nil
	default:
		return container.RestartPolicy{}, fmt.Errorf("invalid restart policy %q", s)
	}
	if hasRetries {
		return container.RestartPolicy{}, fmt.Errorf("invalid restart policy %q: retry count is only valid with on-failure", s)
	}
	return policy, nil
}

// StartContainer starts a created or stopped container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", shortID(id), err)
	}
	return nil
}

// StopContainer sends SIGTERM and kills the container after timeout.
func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Round(time.Second) / time.Second)
	if err := c.inner.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", shortID(id), err)
	}
	return nil
}

// RemoveContainer removes a stopped container. Anonymous volumes are
// removed with it; named volumes and bind mounts are kept.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerRemove(ctx, id, container.RemoveOptions{RemoveVolumes: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", shortID(id), err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
